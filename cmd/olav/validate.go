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
	"context"
	"fmt"
	"os"

	"github.com/olav-network/olav/pkg/config"
)

// ValidateCmd loads and validates a configuration file without
// starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	path := cli.Config
	if path == "" {
		path = "olav.yaml"
	}
	cfg, err := config.LoadFile(context.Background(), path)
	if err != nil {
		return exitWith(exitMisconfigured, "%v", err)
	}

	fmt.Printf("%s: valid\n", path)
	fmt.Printf("  server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  storage: %s\n", storageLabel(cfg))
	fmt.Printf("  devices: %d\n", len(cfg.Inventory.Devices))
	fmt.Printf("  inspections: %d\n", len(cfg.Inspections))
	return nil
}

func storageLabel(cfg *config.Config) string {
	if cfg.Storage.Database == "" {
		return "in-memory"
	}
	db := cfg.Databases[cfg.Storage.Database]
	return fmt.Sprintf("%s (%s)", cfg.Storage.Database, db.Driver)
}

// InitCmd writes a starter config file. Re-running against an existing
// file exits with the already-initialized code so provisioning scripts
// can treat it as idempotent.
type InitCmd struct {
	Force bool `help:"Overwrite an existing config file."`
}

const starterConfig = `name: olav
server:
  host: 0.0.0.0
  port: 8080

# databases:
#   default:
#     driver: sqlite
#     database: ./olav.db
# storage:
#   database: default

inventory:
  devices: []

inspections: {}
`

func (c *InitCmd) Run(cli *CLI) error {
	path := cli.Config
	if path == "" {
		path = "olav.yaml"
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return exitWith(exitAlreadyInit, "%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o600); err != nil {
		return exitWith(exitRuntimeFailure, "writing %s: %v", path, err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
