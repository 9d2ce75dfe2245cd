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

package config

import (
	"fmt"
	"strings"
)

// DatabaseConfig describes one SQL connection the persistent stores
// (sessions, threads, checkpoints, jobs, reports, rate budgets) share.
// SQLite covers single-instance deployments; PostgreSQL or MySQL back a
// cluster.
type DatabaseConfig struct {
	// Driver is "sqlite", "postgres", or "mysql".
	Driver string `yaml:"driver"`

	// Host of the database server; unused for sqlite.
	Host string `yaml:"host,omitempty"`

	// Port of the database server; unused for sqlite.
	Port int `yaml:"port,omitempty"`

	// Database is the database name, or the file path for sqlite.
	Database string `yaml:"database"`

	// Username for authentication; unused for sqlite.
	Username string `yaml:"username,omitempty"`

	// Password for authentication; unused for sqlite.
	Password string `yaml:"password,omitempty"`

	// SSLMode for postgres connections. Default: "disable".
	SSLMode string `yaml:"ssl_mode,omitempty"`

	// MaxConns caps open connections. Default: 25 (sqlite always 1).
	MaxConns int `yaml:"max_conns,omitempty"`

	// MaxIdle caps idle connections. Default: 5.
	MaxIdle int `yaml:"max_idle,omitempty"`
}

// isSQLite accepts both spellings since sql.Open wants "sqlite3" while
// config files usually say "sqlite".
func (c *DatabaseConfig) isSQLite() bool {
	return c.Driver == "sqlite" || c.Driver == "sqlite3"
}

// SetDefaults fills driver-appropriate defaults.
func (c *DatabaseConfig) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.Driver == "postgres" && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

// Validate checks the connection description.
func (c *DatabaseConfig) Validate() error {
	switch {
	case c.Driver == "":
		return fmt.Errorf("driver is required")
	case c.Driver != "postgres" && c.Driver != "mysql" && !c.isSQLite():
		return fmt.Errorf("unknown driver %q (want postgres, mysql, or sqlite)", c.Driver)
	case c.Database == "":
		return fmt.Errorf("database is required")
	case !c.isSQLite() && c.Host == "":
		return fmt.Errorf("host is required for %s", c.Driver)
	case c.MaxConns < 0 || c.MaxIdle < 0:
		return fmt.Errorf("max_conns and max_idle must not be negative")
	}
	return nil
}

// DSN builds the connection string for sql.Open. The sqlite DSN enables
// WAL journaling and a generous busy timeout inline, so every handle
// opened from the pool carries them without any post-open statements.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		var b strings.Builder
		fmt.Fprintf(&b, "host=%s port=%d dbname=%s", c.Host, c.Port, c.Database)
		if c.Username != "" {
			fmt.Fprintf(&b, " user=%s", c.Username)
		}
		if c.Password != "" {
			fmt.Fprintf(&b, " password=%s", c.Password)
		}
		if c.SSLMode != "" {
			fmt.Fprintf(&b, " sslmode=%s", c.SSLMode)
		}
		return b.String()
	case "mysql":
		creds := ""
		if c.Username != "" {
			creds = fmt.Sprintf("%s:%s@", c.Username, c.Password)
		}
		return fmt.Sprintf("%stcp(%s:%d)/%s?parseTime=true", creds, c.Host, c.Port, c.Database)
	default: // sqlite
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000", c.Database)
	}
}

// DriverName is the name sql.Open expects ("sqlite3" for sqlite).
func (c *DatabaseConfig) DriverName() string {
	if c.isSQLite() {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect names the SQL dialect for query building, normalizing both
// sqlite spellings to "sqlite".
func (c *DatabaseConfig) Dialect() string {
	if c.isSQLite() {
		return "sqlite"
	}
	return c.Driver
}
