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

// Package job decouples long-running batch inspections from the
// request/response path. A bounded worker pool drains submitted jobs,
// runs each inspection workflow on a fresh thread, publishes progress as
// devices complete, and persists the rendered report. A job only ever
// becomes succeeded together with a retrievable report — the two are one
// atomic transition.
package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/olav-network/olav/pkg/olaverr"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Progress counts completed devices against the inspection's total.
// Completed is monotone non-decreasing for the job's lifetime.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Job is one asynchronous batch inspection run.
type Job struct {
	JobID         string     `json:"job_id"`
	InspectionID  string     `json:"inspection_id"`
	Status        Status     `json:"status"`
	Progress      Progress   `json:"progress"`
	ReportID      string     `json:"report_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	OwnerClientID string     `json:"-"`
	// ThreadID is the workflow thread driving this job; jobs run the
	// same machinery as interactive threads, just detached.
	ThreadID string `json:"thread_id,omitempty"`
}

// Report is the persisted output of a completed inspection. Read-only
// after creation.
type Report struct {
	ReportID     string    `json:"report_id"`
	InspectionID string    `json:"inspection_id"`
	Content      string    `json:"content"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists jobs and reports. Writes are serialized per job_id by
// the manager (each job is owned by exactly one worker at a time);
// listing takes a point-in-time snapshot.
type Store interface {
	CreateJob(ctx context.Context, j Job) error
	GetJob(ctx context.Context, jobID string) (Job, bool, error)
	// UpdateJob replaces the stored row for j.JobID.
	UpdateJob(ctx context.Context, j Job) error
	// SetProgress publishes the latest progress for jobID without
	// touching any other field.
	SetProgress(ctx context.Context, jobID string, p Progress) error
	// ListJobs returns every job, newest first.
	ListJobs(ctx context.Context) ([]Job, error)
	// Succeed atomically persists the report and marks the job
	// succeeded with its report id; an observer never sees one without
	// the other.
	Succeed(ctx context.Context, j Job, r Report) error
	GetReport(ctx context.Context, reportID string) (Report, bool, error)
}

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]Job
	reports map[string]Report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job), reports: make(map[string]Report)}
}

func (m *MemoryStore) CreateJob(_ context.Context, j Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[j.JobID]; exists {
		return olaverr.New(olaverr.Conflict, "job %s already exists", j.JobID)
	}
	m.jobs[j.JobID] = j
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, jobID string) (Job, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	return j, ok, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, j Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.JobID]; !ok {
		return olaverr.New(olaverr.NotFound, "job %s not found", j.JobID)
	}
	m.jobs[j.JobID] = j
	return nil
}

func (m *MemoryStore) SetProgress(_ context.Context, jobID string, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return olaverr.New(olaverr.NotFound, "job %s not found", jobID)
	}
	j.Progress = p
	m.jobs[jobID] = j
	return nil
}

func (m *MemoryStore) ListJobs(_ context.Context) ([]Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Succeed(_ context.Context, j Job, r Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.JobID]; !ok {
		return olaverr.New(olaverr.NotFound, "job %s not found", j.JobID)
	}
	m.reports[r.ReportID] = r
	j.Status = StatusSucceeded
	j.ReportID = r.ReportID
	m.jobs[j.JobID] = j
	return nil
}

func (m *MemoryStore) GetReport(_ context.Context, reportID string) (Report, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[reportID]
	return r, ok, nil
}

var _ Store = (*MemoryStore)(nil)
