// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLStore persists counters via the shared *sql.DB pool so a cluster
// of instances draws on one set of budgets.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps db, creating the usage table if absent.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS rate_budgets (
	scope      TEXT NOT NULL,
	identity   TEXT NOT NULL,
	limit_type TEXT NOT NULL,
	window     TEXT NOT NULL,
	amount     BIGINT NOT NULL DEFAULT 0,
	window_end TIMESTAMP NOT NULL,
	PRIMARY KEY (scope, identity, limit_type, window)
)`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("creating rate_budgets table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Usage(ctx context.Context, scope Scope, identity string, t LimitType, w TimeWindow) (int64, time.Time, error) {
	var (
		amount    int64
		windowEnd time.Time
	)
	err := s.db.QueryRowContext(ctx, `
SELECT amount, window_end FROM rate_budgets
WHERE scope = ? AND identity = ? AND limit_type = ? AND window = ?`,
		string(scope), identity, string(t), string(w)).
		Scan(&amount, &windowEnd)
	now := time.Now()
	if err == sql.ErrNoRows || (err == nil && windowEnd.Before(now)) {
		return 0, now.Add(w.Duration()), nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	return amount, windowEnd, nil
}

func (s *SQLStore) Add(ctx context.Context, scope Scope, identity string, t LimitType, w TimeWindow, amount int64) (int64, time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, time.Time{}, err
	}
	defer tx.Rollback()

	var (
		current   int64
		windowEnd time.Time
	)
	now := time.Now()
	err = tx.QueryRowContext(ctx, `
SELECT amount, window_end FROM rate_budgets
WHERE scope = ? AND identity = ? AND limit_type = ? AND window = ?`,
		string(scope), identity, string(t), string(w)).
		Scan(&current, &windowEnd)

	switch {
	case err == sql.ErrNoRows:
		current = amount
		windowEnd = now.Add(w.Duration())
		_, err = tx.ExecContext(ctx, `
INSERT INTO rate_budgets (scope, identity, limit_type, window, amount, window_end)
VALUES (?, ?, ?, ?, ?, ?)`,
			string(scope), identity, string(t), string(w), current, windowEnd)
	case err != nil:
		return 0, time.Time{}, err
	case windowEnd.Before(now):
		// Window rolled over since the last charge.
		current = amount
		windowEnd = now.Add(w.Duration())
		_, err = tx.ExecContext(ctx, `
UPDATE rate_budgets SET amount = ?, window_end = ?
WHERE scope = ? AND identity = ? AND limit_type = ? AND window = ?`,
			current, windowEnd, string(scope), identity, string(t), string(w))
	default:
		current += amount
		_, err = tx.ExecContext(ctx, `
UPDATE rate_budgets SET amount = ?
WHERE scope = ? AND identity = ? AND limit_type = ? AND window = ?`,
			current, string(scope), identity, string(t), string(w))
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, err
	}
	return current, windowEnd, nil
}

func (s *SQLStore) Clear(ctx context.Context, scope Scope, identity string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_budgets WHERE scope = ? AND identity = ?`,
		string(scope), identity)
	return err
}

func (s *SQLStore) Expire(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_budgets WHERE window_end < ?`, before)
	return err
}

// Close is a no-op: the *sql.DB belongs to the shared pool.
func (s *SQLStore) Close() error { return nil }

var _ Store = (*SQLStore)(nil)
