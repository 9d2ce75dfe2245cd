// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/olav-network/olav/pkg/olaverr"
)

// SQLStore persists threads as a single row per thread_id, matching the
// "threads" table. The message log
// and pending interrupt are stored as a JSON blob column — they are
// opaque to the store, the same way checkpoint.State is opaque to the
// checkpoint store.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS threads (
	thread_id       TEXT PRIMARY KEY,
	owner_client_id TEXT NOT NULL,
	workflow_kind   TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	body            TEXT NOT NULL
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

type threadBody struct {
	Messages         []Message         `json:"messages"`
	PendingInterrupt *InterruptRequest `json:"pending_interrupt,omitempty"`
}

func (s *SQLStore) Create(ctx context.Context, t Thread) error {
	body, err := json.Marshal(threadBody{Messages: t.Messages, PendingInterrupt: t.PendingInterrupt})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO threads (thread_id, owner_client_id, workflow_kind, status, created_at, updated_at, body)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ThreadID, t.OwnerClientID, t.WorkflowKind, string(t.Status), t.CreatedAt, t.UpdatedAt, string(body))
	if err != nil {
		return olaverr.New(olaverr.Conflict, "thread %s already exists: %s", t.ThreadID, err.Error())
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, threadID string) (Thread, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT owner_client_id, workflow_kind, status, created_at, updated_at, body
FROM threads WHERE thread_id = ?`, threadID)

	var t Thread
	var body string
	t.ThreadID = threadID
	if err := row.Scan(&t.OwnerClientID, &t.WorkflowKind, &t.Status, &t.CreatedAt, &t.UpdatedAt, &body); err != nil {
		if err == sql.ErrNoRows {
			return Thread{}, false, nil
		}
		return Thread{}, false, err
	}
	var b threadBody
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return Thread{}, false, err
	}
	t.Messages = b.Messages
	t.PendingInterrupt = b.PendingInterrupt
	return t, true, nil
}

func (s *SQLStore) Save(ctx context.Context, t Thread) error {
	body, err := json.Marshal(threadBody{Messages: t.Messages, PendingInterrupt: t.PendingInterrupt})
	if err != nil {
		return err
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
UPDATE threads SET workflow_kind=?, status=?, updated_at=?, body=? WHERE thread_id=?`,
		t.WorkflowKind, string(t.Status), now, string(body), t.ThreadID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return olaverr.New(olaverr.NotFound, "thread %s not found", t.ThreadID)
	}
	return nil
}

func (s *SQLStore) ListByOwner(ctx context.Context, clientID string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT thread_id, workflow_kind, status, created_at, updated_at, body
FROM threads WHERE owner_client_id = ? ORDER BY updated_at DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		var t Thread
		var body string
		t.OwnerClientID = clientID
		if err := rows.Scan(&t.ThreadID, &t.WorkflowKind, &t.Status, &t.CreatedAt, &t.UpdatedAt, &body); err != nil {
			return nil, err
		}
		var b threadBody
		if err := json.Unmarshal([]byte(body), &b); err != nil {
			return nil, err
		}
		t.Messages = b.Messages
		t.PendingInterrupt = b.PendingInterrupt
		out = append(out, t)
	}
	return out, rows.Err()
}

var _ Store = (*SQLStore)(nil)
