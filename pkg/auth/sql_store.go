// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"
)

// SQLStore persists sessions via the shared *sql.DB pool (sqlite/postgres/
// mysql, matching pkg/config.DBPool). Tokens are stored hashed so a
// database dump never discloses a usable bearer credential; validation
// still runs in constant time over the presented token's hash.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps db, creating the sessions table if absent.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
	token_hash   TEXT PRIMARY KEY,
	client_id    TEXT NOT NULL,
	client_name  TEXT NOT NULL,
	role         TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	expires_at   TIMESTAMP NOT NULL,
	last_used_at TIMESTAMP NOT NULL,
	revoked      BOOLEAN NOT NULL DEFAULT 0
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *SQLStore) Put(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (token_hash, client_id, client_name, role, created_at, expires_at, last_used_at, revoked)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (token_hash) DO UPDATE SET
	client_id=excluded.client_id, client_name=excluded.client_name, role=excluded.role,
	created_at=excluded.created_at, expires_at=excluded.expires_at,
	last_used_at=excluded.last_used_at, revoked=excluded.revoked`,
		hashToken(sess.Token), sess.ClientID, sess.ClientName, string(sess.Role),
		sess.CreatedAt, sess.ExpiresAt, sess.LastUsedAt, sess.Revoked)
	return err
}

func (s *SQLStore) Get(ctx context.Context, token string) (Session, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT client_id, client_name, role, created_at, expires_at, last_used_at, revoked
FROM sessions WHERE token_hash = ?`, hashToken(token))

	var sess Session
	err := row.Scan(&sess.ClientID, &sess.ClientName, &sess.Role, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastUsedAt, &sess.Revoked)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	sess.Token = token
	return sess, true, nil
}

func (s *SQLStore) Revoke(ctx context.Context, token, clientID string) error {
	if token != "" {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE token_hash = ?`, hashToken(token))
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE client_id = ?`, clientID)
	return err
}

func (s *SQLStore) Touch(ctx context.Context, token string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_used_at = ? WHERE token_hash = ?`, at, hashToken(token))
	return err
}

func (s *SQLStore) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT client_id, client_name, role, created_at, expires_at, last_used_at, revoked
FROM sessions WHERE revoked = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ClientID, &sess.ClientName, &sess.Role, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastUsedAt, &sess.Revoked); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

var _ Store = (*SQLStore)(nil)
