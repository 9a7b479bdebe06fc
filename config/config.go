// This file is part of mojoedk, a message-passing runtime in Go.
// Copyright (C) 2026 The mojoedk Authors
//
// mojoedk is free software: you can redistribute it and/or modify it under
// the terms of the GNU Affero General Public License as published by the
// Free Software Foundation, either version 3 of the License, or (at your
// option) any later version.
//
// mojoedk is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public
// License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the JSON-encoded configuration shared by the
// broker and node command-line entry points.
package config

import (
	"encoding/json"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/bfix/gospel/logger"
)

// NodeConfig describes identity and logging for one mojoedk process.
type NodeConfig struct {
	Name     string `json:"name"`     // node name; not read by the cmd entry points, which always generate a fresh one
	LogLevel int    `json:"logLevel"` // gospel/logger level
}

// BrokerConfig describes the listening side of the broker's control
// channel: the socket new children and peers connect to.
type BrokerConfig struct {
	Socket string `json:"socket"` // e.g. "unix+/run/mojoedk/broker.sock"
}

// ChannelConfig describes the default channel a node dials to reach its
// broker, and any peer-to-peer channel acceptors it should run itself.
type ChannelConfig struct {
	Connect string `json:"connect"` // spec string dialed at startup, e.g. "unix+/run/mojoedk/broker.sock"
	Listen  string `json:"listen"`  // spec string this node accepts peer connections on, if any
}

// Environ holds string substitutions applied to every string field after
// parsing, keyed by the ${NAME} placeholders they replace.
type Environ map[string]string

// Config is the aggregated configuration for a mojoedk process.
type Config struct {
	Env     Environ        `json:"environ"`
	Node    *NodeConfig    `json:"node"`
	Broker  *BrokerConfig  `json:"broker"`
	Channel *ChannelConfig `json:"channel"`
}

// Cfg is the global configuration, populated by ParseConfig.
var Cfg *Config

// ParseConfig reads and unmarshals a JSON configuration file into Cfg,
// then applies ${VAR} substitutions from its environ block.
func ParseConfig(fileName string) error {
	file, err := os.ReadFile(fileName)
	if err != nil {
		return err
	}
	Cfg = new(Config)
	if err := json.Unmarshal(file, Cfg); err != nil {
		return err
	}
	applySubstitutions(Cfg, Cfg.Env)
	return nil
}

var substRx = regexp.MustCompile(`\$\{([^\}]*)\}`)

func substString(s string, env map[string]string) string {
	matches := substRx.FindAllStringSubmatch(s, -1)
	for _, m := range matches {
		if len(m[1]) == 0 {
			continue
		}
		subst, ok := env[m[1]]
		if !ok {
			continue
		}
		s = strings.ReplaceAll(s, "${"+m[1]+"}", subst)
	}
	return s
}

// applySubstitutions walks x and rewrites every string field in place,
// recursing into nested structs, pointers and maps.
func applySubstitutions(x interface{}, env map[string]string) {
	var process func(v reflect.Value)
	process = func(v reflect.Value) {
		switch v.Kind() {
		case reflect.Ptr:
			if !v.IsNil() {
				process(v.Elem())
			}
		case reflect.Struct:
			for i := 0; i < v.NumField(); i++ {
				fld := v.Field(i)
				if !fld.CanSet() {
					continue
				}
				switch fld.Kind() {
				case reflect.String:
					s := fld.String()
					for {
						s1 := substString(s, env)
						if s1 == s {
							break
						}
						logger.Printf(logger.DBG, "[config] %s -> %s", s, s1)
						s = s1
					}
					fld.SetString(s)
				case reflect.Struct, reflect.Ptr:
					process(fld)
				case reflect.Map:
					for _, k := range fld.MapKeys() {
						mv := fld.MapIndex(k)
						if mv.Kind() == reflect.String {
							fld.SetMapIndex(k, reflect.ValueOf(substString(mv.String(), env)))
						}
					}
				}
			}
		}
	}
	process(reflect.ValueOf(x))
}
