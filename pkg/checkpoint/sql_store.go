// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/olav-network/olav/pkg/olaverr"
)

// SQLStore persists checkpoints as rows keyed by (thread_id, version),
// matching the "checkpoints" table layout: rows keyed by
// (thread_id, version).
// A single INSERT with a version uniqueness constraint gives the atomic
// "reader sees old or new, never partial" guarantee: a concurrent writer
// targeting the same version fails the unique constraint rather than
// interleaving bytes.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id         TEXT NOT NULL,
	version           INTEGER NOT NULL,
	current_node      TEXT NOT NULL,
	state_blob        BLOB NOT NULL,
	pending_tool_calls TEXT NOT NULL DEFAULT '[]',
	timestamp         TIMESTAMP NOT NULL,
	PRIMARY KEY (thread_id, version)
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Append(ctx context.Context, cp Checkpoint) error {
	var latest sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM checkpoints WHERE thread_id = ?`, cp.ThreadID).Scan(&latest); err != nil {
		return err
	}
	if wantVersion := latest.Int64 + 1; cp.Version != wantVersion {
		return olaverr.New(olaverr.Conflict, "checkpoint version %d for thread %s is not the next version (want %d)", cp.Version, cp.ThreadID, wantVersion)
	}
	pending, err := json.Marshal(cp.PendingToolCalls)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO checkpoints (thread_id, version, current_node, state_blob, pending_tool_calls, timestamp)
VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.Version, cp.CurrentNode, cp.StateBlob, string(pending), cp.Timestamp)
	if err != nil {
		return olaverr.New(olaverr.Conflict, "checkpoint version %d for thread %s already written: %s", cp.Version, cp.ThreadID, err.Error())
	}
	return nil
}

func (s *SQLStore) Latest(ctx context.Context, threadID string) (Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT version, current_node, state_blob, pending_tool_calls, timestamp
FROM checkpoints WHERE thread_id = ? ORDER BY version DESC LIMIT 1`, threadID)

	var cp Checkpoint
	var pending string
	cp.ThreadID = threadID
	if err := row.Scan(&cp.Version, &cp.CurrentNode, &cp.StateBlob, &pending, &cp.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	if err := json.Unmarshal([]byte(pending), &cp.PendingToolCalls); err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *SQLStore) History(ctx context.Context, threadID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT version, current_node, state_blob, pending_tool_calls, timestamp
FROM checkpoints WHERE thread_id = ? ORDER BY version ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var pending string
		cp.ThreadID = threadID
		if err := rows.Scan(&cp.Version, &cp.CurrentNode, &cp.StateBlob, &pending, &cp.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(pending), &cp.PendingToolCalls); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLStore) Prune(ctx context.Context, threadID string, keepAbove int64) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM checkpoints
WHERE thread_id = ? AND version <= ? AND version < (SELECT MAX(version) FROM checkpoints WHERE thread_id = ?)`,
		threadID, keepAbove, threadID)
	return err
}

var _ Store = (*SQLStore)(nil)
