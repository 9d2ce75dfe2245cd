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

// Package session implements the Thread — a durable conversation scope —
// as distinct from pkg/auth's Session (the authenticated
// caller identity). A thread owns an append-only message log, a workflow
// kind, and at most one pending interrupt at a time.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olav-network/olav/pkg/olaverr"
)

// Status is a Thread's lifecycle state.
type Status string

const (
	StatusRunning     Status = "running"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Role distinguishes who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a thread's append-only log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RiskLevel classifies an InterruptRequest.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Decision is a human's reply to an InterruptRequest.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionEdit    Decision = "edit"
	DecisionReject  Decision = "reject"
)

// ExecutionPlan describes the device, operation, and proposed commands a
// gated write would perform, shown to the human before approval.
type ExecutionPlan struct {
	Device           string   `json:"device,omitempty"`
	Operation        string   `json:"operation"`
	ProposedCommands []string `json:"proposed_commands,omitempty"`
}

// InterruptRequest is a pause-for-approval payload.
type InterruptRequest struct {
	ThreadID         string     `json:"thread_id"`
	CallID           string     `json:"call_id"`
	Message          string     `json:"message"`
	RiskLevel        RiskLevel  `json:"risk_level"`
	ExecutionPlan    ExecutionPlan `json:"execution_plan"`
	AllowedDecisions []Decision `json:"allowed_decisions"`
}

// ResumeDecision is the reply to an InterruptRequest.
type ResumeDecision struct {
	ThreadID         string         `json:"thread_id"`
	CallID           string         `json:"call_id"`
	Decision         Decision       `json:"decision"`
	EditedArguments  map[string]any `json:"edited_arguments,omitempty"`
	RejectionReason  string         `json:"rejection_reason,omitempty"`
}

// Allows reports whether d is one of req's allowed decisions.
func (req InterruptRequest) Allows(d Decision) bool {
	for _, allowed := range req.AllowedDecisions {
		if allowed == d {
			return true
		}
	}
	return false
}

// Thread is a durable conversation scope.
type Thread struct {
	ThreadID         string
	OwnerClientID    string
	WorkflowKind     string
	Messages         []Message
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Status           Status
	PendingInterrupt *InterruptRequest
}

// NewThreadID derives a thread id as "<client_id>-<random>".
func NewThreadID(clientID string) string {
	return clientID + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Store persists threads. Per-thread writes are serialized by the caller
// (the dispatcher tracks which threads have a run in progress, see
// Dispatcher.Active; the workflow engine takes no per-thread lock); the store
// itself only needs to guarantee that a single Get/Save pair is atomic.
type Store interface {
	Create(ctx context.Context, t Thread) error
	Get(ctx context.Context, threadID string) (Thread, bool, error)
	Save(ctx context.Context, t Thread) error
	// ListByOwner returns every thread owned by clientID, newest first.
	ListByOwner(ctx context.Context, clientID string) ([]Thread, error)
}

// AppendMessage appends msg to t, bumping UpdatedAt. Messages are
// append-only: callers must never mutate Messages in
// place.
func (t *Thread) AppendMessage(msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = time.Now()
}

// SetInterrupt transitions the thread to interrupted with exactly one
// pending interrupt.
func (t *Thread) SetInterrupt(req InterruptRequest) {
	t.Status = StatusInterrupted
	t.PendingInterrupt = &req
	t.UpdatedAt = time.Now()
}

// ClearInterrupt resolves the pending interrupt. Interrupt state is
// never reset implicitly; only a valid resume calls this.
func (t *Thread) ClearInterrupt() {
	t.PendingInterrupt = nil
	t.Status = StatusRunning
	t.UpdatedAt = time.Now()
}

// ErrNotFound is returned by Store.Get-adjacent helpers when a thread id
// is unknown.
var ErrNotFound = olaverr.New(olaverr.NotFound, "thread not found")

// OwnedBy enforces thread ownership: an existing thread_id must be
// owned by the caller, or the caller is admin.
func OwnedBy(t Thread, callerClientID string, callerIsAdmin bool) error {
	if callerIsAdmin || t.OwnerClientID == callerClientID {
		return nil
	}
	return olaverr.New(olaverr.PermissionDenied, "thread %s is not owned by caller", t.ThreadID)
}

// MemoryStore is an in-memory Store used for tests and small deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]Thread
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]Thread)}
}

func (m *MemoryStore) Create(_ context.Context, t Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.threads[t.ThreadID]; exists {
		return olaverr.New(olaverr.Conflict, "thread %s already exists", t.ThreadID)
	}
	m.threads[t.ThreadID] = t
	return nil
}

func (m *MemoryStore) Get(_ context.Context, threadID string) (Thread, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[threadID]
	return t, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, t Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[t.ThreadID]; !ok {
		return fmt.Errorf("save: unknown thread %s", t.ThreadID)
	}
	m.threads[t.ThreadID] = t
	return nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, clientID string) ([]Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Thread
	for _, t := range m.threads {
		if t.OwnerClientID == clientID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
