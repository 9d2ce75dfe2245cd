// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/olav-network/olav/pkg/olaverr"
)

// MemoryStore is an in-memory Store, used for tests and the zero-config
// deployment.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string][]Checkpoint // keyed by thread_id, ascending version
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string][]Checkpoint)}
}

func (s *MemoryStore) Append(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.rows[cp.ThreadID]
	wantVersion := int64(1)
	if len(existing) > 0 {
		wantVersion = existing[len(existing)-1].Version + 1
	}
	if cp.Version != wantVersion {
		return olaverr.New(olaverr.Conflict, "checkpoint version %d for thread %s is not the next version (want %d)", cp.Version, cp.ThreadID, wantVersion)
	}
	// Copy so a caller mutating cp afterwards can't corrupt the stored row.
	row := cp
	row.PendingToolCalls = append([]PendingToolCall(nil), cp.PendingToolCalls...)
	s.rows[cp.ThreadID] = append(existing, row)
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, threadID string) (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[threadID]
	if len(rows) == 0 {
		return Checkpoint{}, false, nil
	}
	return rows[len(rows)-1], true, nil
}

func (s *MemoryStore) History(_ context.Context, threadID string) ([]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := append([]Checkpoint(nil), s.rows[threadID]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Version < rows[j].Version })
	return rows, nil
}

func (s *MemoryStore) Prune(_ context.Context, threadID string, keepAbove int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[threadID]
	if len(rows) == 0 {
		return nil
	}
	latest := rows[len(rows)-1].Version
	var kept []Checkpoint
	for _, r := range rows {
		if r.Version > keepAbove || r.Version == latest {
			kept = append(kept, r)
		}
	}
	s.rows[threadID] = kept
	return nil
}

var _ Store = (*MemoryStore)(nil)
