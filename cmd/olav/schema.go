// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/olav-network/olav/pkg/config"
)

// SchemaCmd generates the JSON Schema for the config file, written to
// stdout so it can be redirected wherever editors expect it.
type SchemaCmd struct {
	// Compact enables compact JSON output (no indentation)
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

// Run executes the schema generation command.
func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://olav.network/schemas/config.json"
	schema.Title = "OLAV Configuration Schema"
	schema.Description = "Configuration schema for the OLAV orchestration server"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	schema.Examples = []interface{}{
		map[string]interface{}{
			"name": "olav",
			"server": map[string]interface{}{
				"port": 8080,
			},
			"databases": map[string]interface{}{
				"default": map[string]interface{}{
					"driver":   "sqlite",
					"database": "./olav.db",
				},
			},
			"storage": map[string]interface{}{
				"database": "default",
			},
			"inventory": map[string]interface{}{
				"devices": []interface{}{
					map[string]interface{}{
						"name":     "R1",
						"address":  "198.51.100.11",
						"platform": "cisco_iosxe",
						"group":    "core",
						"site":     "fra1",
					},
				},
			},
			"inspections": map[string]interface{}{
				"bgp_peer_audit": map[string]interface{}{
					"scope":           "group:core",
					"commands":        []string{"show ip bgp summary"},
					"expect_contains": "Established",
				},
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
