/**
 * Copyright 2021 The GlacierSQL Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"net"
	"net/http"
	"sync"

	"github.com/dr0pdb/glaciersql/pkg/common"
	"github.com/dr0pdb/glaciersql/pkg/engine"
	"github.com/dr0pdb/glaciersql/pkg/frontend"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Request is a single execute frame sent by a client.
type Request struct {
	ID  uint64 `json:"id"`
	SQL string `json:"sql"`
}

// Response is the reply to an execute frame. Row cells are the raw dynamic
// values: numbers, strings, booleans or null.
type Response struct {
	ID uint64 `json:"id"`

	Columns      []string        `json:"columns,omitempty"`
	Rows         [][]interface{} `json:"rows,omitempty"`
	RowsAffected int             `json:"rowsAffected"`
	Message      string          `json:"message,omitempty"`
	Error        string          `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 10,
	WriteBufferSize: 1024 * 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes a database's execute surface over websocket JSON frames.
// The engine is single-writer, so every statement is serialized through a
// mutex regardless of how many connections are open.
type Server struct {
	db   *engine.Database
	conf *common.ServerConfig

	mu sync.Mutex
}

// New creates a server around the given database.
func New(db *engine.Database, conf *common.ServerConfig) *Server {
	return &Server{db: db, conf: conf}
}

// HandleQuery upgrades the connection and serves execute frames until the
// client disconnects.
func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithFields(log.Fields{"remote": r.RemoteAddr}).Error("server::server::HandleQuery; upgrade failed")
		return
	}
	defer conn.Close()

	log.WithFields(log.Fields{"remote": conn.RemoteAddr()}).Info("server::server::HandleQuery; client connected")

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			log.WithFields(log.Fields{"remote": conn.RemoteAddr()}).Info("server::server::HandleQuery; client disconnected")
			return
		}

		resp := s.execute(&req)
		if err := conn.WriteJSON(resp); err != nil {
			log.WithFields(log.Fields{"remote": conn.RemoteAddr()}).Error("server::server::HandleQuery; write failed")
			return
		}
	}
}

func (s *Server) execute(req *Request) *Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conf.LogQueries {
		log.WithFields(log.Fields{"sql": req.SQL}).Info("server::server::execute; statement received")
	}

	res, err := s.db.Execute(req.SQL)
	if err != nil {
		return &Response{ID: req.ID, Error: err.Error()}
	}

	resp := &Response{
		ID:           req.ID,
		Columns:      res.Columns,
		RowsAffected: res.RowsAffected,
		Message:      res.Message,
	}
	if res.Rows != nil {
		resp.Rows = make([][]interface{}, len(res.Rows))
		for i, row := range res.Rows {
			resp.Rows[i] = rowToJSON(row)
		}
	}
	return resp
}

func rowToJSON(row []frontend.Value) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		out[i] = v.Val // nil for the null value
	}
	return out
}

// Start listens on the configured address and serves the query endpoint
// at /query. It blocks until the listener fails.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.conf.Address, s.conf.Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/query", s.HandleQuery)

	log.WithFields(log.Fields{"addr": addr}).Info("server::server::Start; listening")
	return http.ListenAndServe(addr, mux)
}
