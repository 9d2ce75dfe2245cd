// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olav-network/olav/pkg/olaverr"
)

// DefaultWorkers is JOB_WORKERS' default.
const DefaultWorkers = 4

// RunFunc executes one inspection workflow for a job and returns its
// rendered report. Implementations publish device completions through
// progress; they must honor ctx cancellation at node boundaries.
type RunFunc func(ctx context.Context, j Job, progress func(Progress)) (Report, error)

// Manager owns the submitted-job queue and the worker pool that drains
// it.
type Manager struct {
	store   Store
	run     RunFunc
	workers int
	logger  *slog.Logger

	queue chan string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewManager builds a Manager; workers defaults to DefaultWorkers.
func NewManager(store Store, run RunFunc, workers int, logger *slog.Logger) *Manager {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		run:     run,
		workers: workers,
		logger:  logger,
		queue:   make(chan string, 1024),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled; a
// panic inside a job is recovered, the job is failed, and the same worker
// keeps draining the queue.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Submit creates a pending job for inspectionID owned by clientID and
// enqueues it. It returns immediately; execution happens on the pool.
func (m *Manager) Submit(ctx context.Context, inspectionID, clientID string) (Job, error) {
	j := Job{
		JobID:         uuid.NewString(),
		InspectionID:  inspectionID,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
		OwnerClientID: clientID,
	}
	if err := m.store.CreateJob(ctx, j); err != nil {
		return Job{}, olaverr.Wrap(olaverr.InternalError, err)
	}
	select {
	case m.queue <- j.JobID:
	default:
		// Queue saturated; surface it rather than blocking the request.
		j.Status = StatusFailed
		j.Error = "job queue is full"
		_ = m.store.UpdateJob(ctx, j)
		return Job{}, olaverr.New(olaverr.Transient, "job queue is full, retry later")
	}
	return j, nil
}

// Get returns the job if the caller owns it or is admin.
func (m *Manager) Get(ctx context.Context, jobID, clientID string, isAdmin bool) (Job, error) {
	j, ok, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, olaverr.Wrap(olaverr.InternalError, err)
	}
	if !ok {
		return Job{}, olaverr.New(olaverr.NotFound, "job %s not found", jobID)
	}
	if !isAdmin && j.OwnerClientID != clientID {
		return Job{}, olaverr.New(olaverr.PermissionDenied, "job %s is not owned by caller", jobID)
	}
	return j, nil
}

// List returns the jobs visible to the caller: all of them for admin,
// otherwise only the caller's own.
func (m *Manager) List(ctx context.Context, clientID string, isAdmin bool) ([]Job, error) {
	all, err := m.store.ListJobs(ctx)
	if err != nil {
		return nil, olaverr.Wrap(olaverr.InternalError, err)
	}
	if isAdmin {
		return all, nil
	}
	visible := make([]Job, 0, len(all))
	for _, j := range all {
		if j.OwnerClientID == clientID {
			visible = append(visible, j)
		}
	}
	return visible, nil
}

// Cancel requests cooperative cancellation of a running or pending job.
func (m *Manager) Cancel(ctx context.Context, jobID, clientID string, isAdmin bool) error {
	j, err := m.Get(ctx, jobID, clientID, isAdmin)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return olaverr.New(olaverr.Conflict, "job %s is already %s", jobID, j.Status)
	}

	m.mu.Lock()
	cancel, running := m.cancels[jobID]
	m.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	// Still queued: mark it cancelled now so the worker skips it.
	j.Status = StatusCancelled
	now := time.Now()
	j.FinishedAt = &now
	return m.store.UpdateJob(ctx, j)
}

// GetReport retrieves a report by id.
func (m *Manager) GetReport(ctx context.Context, reportID string) (Report, error) {
	r, ok, err := m.store.GetReport(ctx, reportID)
	if err != nil {
		return Report{}, olaverr.Wrap(olaverr.InternalError, err)
	}
	if !ok {
		return Report{}, olaverr.New(olaverr.NotFound, "report %s not found", reportID)
	}
	return r, nil
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-m.queue:
			if !m.runOne(ctx, jobID) {
				// Panic inside the job: the worker survives via recover
				// and keeps draining.
				m.logger.Error("job worker recovered from panic", "worker", id, "job_id", jobID)
			}
		}
	}
}

// runOne executes a single job, returning false if it panicked.
func (m *Manager) runOne(ctx context.Context, jobID string) (ok bool) {
	j, found, err := m.store.GetJob(ctx, jobID)
	if err != nil || !found {
		m.logger.Error("dequeued unknown job", "job_id", jobID, "error", err)
		return true
	}
	if j.Status != StatusPending {
		// Cancelled while queued.
		return true
	}

	jobCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[jobID] = cancel
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.cancels, jobID)
		m.mu.Unlock()
	}()

	j.Status = StatusRunning
	if err := m.store.UpdateJob(ctx, j); err != nil {
		m.logger.Error("failed to mark job running", "job_id", jobID, "error", err)
		return true
	}

	ok = true
	defer func() {
		if r := recover(); r != nil {
			ok = false
			m.failJob(ctx, j, olaverr.New(olaverr.InternalError, "job panicked: %v", r).WithCorrelationID(jobID))
		}
	}()

	report, runErr := m.run(jobCtx, j, func(p Progress) {
		// Progress writes use the parent context so a cancellation does
		// not lose the final published value.
		if err := m.store.SetProgress(ctx, jobID, p); err != nil {
			m.logger.Warn("failed to publish job progress", "job_id", jobID, "error", err)
		}
	})

	if runErr != nil {
		if jobCtx.Err() != nil {
			m.cancelJob(ctx, j)
			return
		}
		m.failJob(ctx, j, runErr)
		return
	}

	latest, found, err := m.store.GetJob(ctx, jobID)
	if err == nil && found {
		j = latest
	}
	now := time.Now()
	j.FinishedAt = &now
	if err := m.store.Succeed(ctx, j, report); err != nil {
		m.failJob(ctx, j, olaverr.Wrap(olaverr.InternalError, err))
		return
	}
	m.logger.Info("job succeeded", "job_id", jobID, "report_id", report.ReportID)
	return
}

func (m *Manager) failJob(ctx context.Context, j Job, err error) {
	j.Status = StatusFailed
	j.Error = err.Error()
	now := time.Now()
	j.FinishedAt = &now
	if uerr := m.store.UpdateJob(ctx, j); uerr != nil {
		m.logger.Error("failed to persist job failure", "job_id", j.JobID, "error", uerr)
	}
	m.logger.Warn("job failed", "job_id", j.JobID, "error", err)
}

func (m *Manager) cancelJob(ctx context.Context, j Job) {
	j.Status = StatusCancelled
	now := time.Now()
	j.FinishedAt = &now
	if err := m.store.UpdateJob(ctx, j); err != nil {
		m.logger.Error("failed to persist job cancellation", "job_id", j.JobID, "error", err)
	}
	m.logger.Info("job cancelled", "job_id", j.JobID)
}
