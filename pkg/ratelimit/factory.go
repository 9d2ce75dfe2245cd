// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package ratelimit

import (
	"fmt"

	"github.com/olav-network/olav/pkg/config"
)

// FromConfig builds the configured Limiter and its scope, sharing the
// process database pool when the SQL backend is selected. Returns a nil
// Limiter when rate limiting is disabled.
func FromConfig(cfg *config.Config, pool *config.DBPool) (Limiter, Scope, error) {
	rl := cfg.RateLimiting
	if rl == nil || !rl.IsEnabled() {
		return nil, "", nil
	}

	var store Store
	switch rl.Backend {
	case "sql":
		if pool == nil {
			return nil, "", fmt.Errorf("sql rate limit backend needs the database pool")
		}
		dbCfg, ok := cfg.GetDatabase(rl.SQLDatabase)
		if !ok {
			return nil, "", fmt.Errorf("rate_limiting references undefined database %q", rl.SQLDatabase)
		}
		db, err := pool.Get(dbCfg)
		if err != nil {
			return nil, "", fmt.Errorf("opening rate limit database: %w", err)
		}
		store, err = NewSQLStore(db)
		if err != nil {
			return nil, "", err
		}
	case "memory", "":
		store = NewMemoryStore()
	default:
		return nil, "", fmt.Errorf("unsupported rate limit backend %q", rl.Backend)
	}

	rules := make([]Rule, len(rl.Limits))
	for i, l := range rl.Limits {
		rules[i] = Rule{
			Type:   LimitType(l.Type),
			Window: TimeWindow(l.Window),
			Limit:  l.Limit,
		}
	}

	limiter, err := New(rules, store)
	if err != nil {
		return nil, "", err
	}
	return limiter, ParseScope(rl.Scope), nil
}
