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

package common

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// ServerConfig defines the configuration settings for the glaciersql server.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    string `yaml:"port"`

	// SnapshotPath, when set, is loaded at boot if the file exists. The
	// server does not write it back on shutdown.
	SnapshotPath string `yaml:"snapshotPath"`

	// LogQueries enables per-statement logging.
	LogQueries bool `yaml:"logQueries"`
}

// NewDefaultServerConfig returns a new default server configuration.
func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address: "127.0.0.1",
		Port:    "9080",
	}
}

// Validate validates a ServerConfig and returns an error if it's invalid.
func (conf *ServerConfig) Validate() error {
	if conf.Address == "" {
		return fmt.Errorf("invalid address provided in config")
	}
	if conf.Port == "" {
		return fmt.Errorf("invalid port provided in config")
	}
	return nil
}

// LoadFromFile loads the config from the file. It assumes that config already has the defaults.
// In the case of an error, it leaves the config untouched.
func (conf *ServerConfig) LoadFromFile(path string) {
	log.Info(fmt.Sprintf("glaciersql::config::LoadFromFile; loading config from file %s", path))
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error(fmt.Sprintf("glaciersql::config::LoadFromFile; error reading config from file %s, error %s", path, err))
		return
	}

	fconf := ServerConfig{}
	err = yaml.Unmarshal(data, &fconf)
	if err != nil {
		log.Error(fmt.Sprintf("glaciersql::config::LoadFromFile; error unmarshalling config from file %s, error %s", path, err))
		return
	}

	log.WithFields(log.Fields{"config": fconf}).Debug("glaciersql::config::LoadFromFile; read contents from the file")

	// populate fields
	if fconf.Address != "" {
		conf.Address = fconf.Address
	}
	if fconf.Port != "" {
		conf.Port = fconf.Port
	}
	if fconf.SnapshotPath != "" {
		conf.SnapshotPath = fconf.SnapshotPath
	}
	if fconf.LogQueries {
		conf.LogQueries = true
	}
}
