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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dr0pdb/glaciersql/pkg/common"
	"github.com/dr0pdb/glaciersql/pkg/engine"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T) *websocket.Conn {
	t.Helper()

	db := engine.New("test")
	srv := New(db, common.NewDefaultServerConfig())

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleQuery))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, id uint64, sql string) *Response {
	t.Helper()

	require.NoError(t, conn.WriteJSON(&Request{ID: id, SQL: sql}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, id, resp.ID, "responses echo the request id")
	return &resp
}

func TestServerExecutesStatements(t *testing.T) {
	conn := dialTestServer(t)

	resp := roundTrip(t, conn, 1, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")
	assert.Empty(t, resp.Error)
	assert.Equal(t, "table users created", resp.Message)

	resp = roundTrip(t, conn, 2, "INSERT INTO users VALUES (1, 'Alice')")
	assert.Empty(t, resp.Error)
	assert.Equal(t, 1, resp.RowsAffected)

	resp = roundTrip(t, conn, 3, "INSERT INTO users VALUES (2, NULL)")
	assert.Empty(t, resp.Error)

	resp = roundTrip(t, conn, 4, "SELECT * FROM users")
	assert.Empty(t, resp.Error)
	assert.Equal(t, []string{"id", "name"}, resp.Columns)
	require.Equal(t, 2, len(resp.Rows))

	// JSON numbers decode as float64; null stays nil
	assert.Equal(t, []interface{}{float64(1), "Alice"}, resp.Rows[0])
	assert.Equal(t, []interface{}{float64(2), nil}, resp.Rows[1])
}

func TestServerSurfacesErrors(t *testing.T) {
	conn := dialTestServer(t)

	resp := roundTrip(t, conn, 1, "SELECT * FROM nope")
	assert.Contains(t, resp.Error, "unknown table nope")

	resp = roundTrip(t, conn, 2, "NOT SQL AT ALL")
	assert.NotEmpty(t, resp.Error, "syntax errors come back on the frame, not the socket")
}
