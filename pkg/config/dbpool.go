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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBPool hands every store (sessions, threads, checkpoints, jobs,
// reports, rate budgets) the same *sql.DB per DSN. Sharing matters most
// for sqlite, which permits one writer: the pool pins sqlite to a
// single connection so concurrent stores serialize instead of tripping
// over "database is locked".
type DBPool struct {
	mu   sync.Mutex
	open map[string]*sql.DB
}

// NewDBPool creates an empty pool.
func NewDBPool() *DBPool {
	return &DBPool{open: make(map[string]*sql.DB)}
}

// Get opens (or reuses) the connection pool for cfg. The first call per
// DSN dials and pings the database; later calls are lookups.
func (p *DBPool) Get(cfg *DatabaseConfig) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dsn := cfg.DSN()
	if db, ok := p.open[dsn]; ok {
		return db, nil
	}

	db, err := sql.Open(cfg.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Dialect(), err)
	}

	if cfg.Dialect() == "sqlite" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", cfg.Dialect(), err)
	}

	p.open[dsn] = db
	return db, nil
}

// Close closes every pooled connection. The pool is reusable afterwards.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for dsn, db := range p.open {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", dsn, err))
		}
	}
	p.open = make(map[string]*sql.DB)
	return errors.Join(errs...)
}
