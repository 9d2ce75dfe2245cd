// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package checkpoint persists per-thread workflow state snapshots,
// giving the workflow engine crash-safe resume and HITL
// suspension. Checkpoints are their own first-class row keyed by
// (thread_id, version) rather than nested inside session/thread state:
// OLAV threads are not tied 1:1 to a single agent's internal state the
// way a simpler conversational session would be, and the engine needs to
// read "the latest checkpoint for this thread" as an independent,
// atomically-written fact.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/session"
)

// schemaVersion is embedded in every persisted blob so an incompatible
// upgrade fails fast instead of deserializing garbage.
const schemaVersion = 1

// PendingToolCall is a ToolCall awaiting approval or execution, captured
// in the checkpoint so a resume can re-materialize it.
type PendingToolCall struct {
	CallID    string         `json:"call_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Checkpoint is a persisted per-thread state snapshot.
type Checkpoint struct {
	ThreadID          string
	Version           int64
	CurrentNode       string
	StateBlob         []byte // opaque to storage; the engine's state map in Encode's JSON envelope
	PendingToolCalls  []PendingToolCall
	Timestamp         time.Time
}

// payload is the schema-versioned wire form of StateBlob's envelope plus
// the fields the store needs to round-trip.
type payload struct {
	SchemaVersion    int               `json:"schema_version"`
	CurrentNode      string            `json:"current_node"`
	State             json.RawMessage   `json:"state"`
	PendingToolCalls []PendingToolCall `json:"pending_tool_calls,omitempty"`
}

// Encode serializes a workflow state map plus node pointer into a
// Checkpoint's opaque StateBlob.
func Encode(currentNode string, state map[string]any, pending []PendingToolCall) ([]byte, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payload{
		SchemaVersion:    schemaVersion,
		CurrentNode:      currentNode,
		State:            stateJSON,
		PendingToolCalls: pending,
	})
}

// Decode reverses Encode, failing fast on a schema version mismatch
// rather than attempting a best-effort partial decode.
func Decode(blob []byte) (currentNode string, state map[string]any, pending []PendingToolCall, err error) {
	var p payload
	if err := json.Unmarshal(blob, &p); err != nil {
		return "", nil, nil, olaverr.Wrap(olaverr.InternalError, err)
	}
	if p.SchemaVersion != schemaVersion {
		return "", nil, nil, olaverr.New(olaverr.InternalError, "checkpoint schema version %d unsupported (want %d)", p.SchemaVersion, schemaVersion)
	}
	var s map[string]any
	if err := json.Unmarshal(p.State, &s); err != nil {
		return "", nil, nil, olaverr.Wrap(olaverr.InternalError, err)
	}
	return p.CurrentNode, s, p.PendingToolCalls, nil
}

// Store persists checkpoints. Writes are atomic per (thread_id, version):
// a reader observes either the old or the new latest checkpoint, never a
// partial one. Different threads may write concurrently; within one
// thread_id, the engine serializes its own writes, so the store need
// only guarantee atomicity of a
// single row write/read, not cross-thread ordering.
type Store interface {
	// Append writes a new checkpoint version for thread_id. The caller
	// supplies the version (engine-assigned, monotonically increasing);
	// Append rejects anything not exactly latest+1 as Conflict.
	Append(ctx context.Context, cp Checkpoint) error
	// Latest returns the highest-version checkpoint for thread_id.
	Latest(ctx context.Context, threadID string) (Checkpoint, bool, error)
	// History returns every retained checkpoint version for thread_id,
	// oldest first. History may be pruned except the latest.
	History(ctx context.Context, threadID string) ([]Checkpoint, error)
	// Prune removes checkpoint versions at or below keepAbove for threadID,
	// always retaining the latest regardless of keepAbove.
	Prune(ctx context.Context, threadID string, keepAbove int64) error
}

// Manager ties Store to the thread store so a checkpoint write can also
// persist the thread row it belongs to.
type Manager struct {
	checkpoints Store
	threads     session.Store
}

func NewManager(checkpoints Store, threads session.Store) *Manager {
	return &Manager{checkpoints: checkpoints, threads: threads}
}

// Write appends a new checkpoint for an in-progress thread and then
// persists the thread row. The two are separate writes, not one
// transaction: a reader between them sees the new checkpoint next to the
// previous thread row, and a failed thread save leaves the appended
// checkpoint in place. version must be the
// thread's previous checkpoint version + 1 (the engine tracks this in
// memory across node boundaries within one run).
func (m *Manager) Write(ctx context.Context, th session.Thread, cp Checkpoint) error {
	cp.Timestamp = time.Now()
	if err := m.checkpoints.Append(ctx, cp); err != nil {
		return err
	}
	return m.threads.Save(ctx, th)
}

// LatestVersion returns the highest persisted checkpoint version for
// threadID, or zero when the thread has never checkpointed. New runs on
// an existing thread continue the version sequence from here.
func (m *Manager) LatestVersion(ctx context.Context, threadID string) (int64, error) {
	cp, ok, err := m.checkpoints.Latest(ctx, threadID)
	if err != nil {
		return 0, olaverr.Wrap(olaverr.InternalError, err)
	}
	if !ok {
		return 0, nil
	}
	return cp.Version, nil
}

// Resume loads the latest checkpoint for threadID — the resumption
// point.
func (m *Manager) Resume(ctx context.Context, threadID string) (Checkpoint, error) {
	cp, ok, err := m.checkpoints.Latest(ctx, threadID)
	if err != nil {
		return Checkpoint{}, olaverr.Wrap(olaverr.InternalError, err)
	}
	if !ok {
		return Checkpoint{}, olaverr.New(olaverr.NotFound, "no checkpoint for thread %s", threadID)
	}
	return cp, nil
}
