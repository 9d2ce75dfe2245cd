// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olav-network/olav/pkg/olaverr"
)

func waitTerminal(t *testing.T, m *Manager, jobID string) Job {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		j, err := m.Get(context.Background(), jobID, "", true)
		require.NoError(t, err)
		if j.Status.Terminal() {
			return j
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached a terminal state (now %s)", jobID, j.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestJobLifecycleSucceeded(t *testing.T) {
	store := NewMemoryStore()
	run := func(ctx context.Context, j Job, progress func(Progress)) (Report, error) {
		for i := 1; i <= 3; i++ {
			progress(Progress{Completed: i, Total: 3})
		}
		return Report{
			ReportID:     uuid.NewString(),
			InspectionID: j.InspectionID,
			Content:      "# bgp_peer_audit\n\n| device | result |\n|---|---|\n| R1 | pass |\n",
			Summary:      "3/3 devices pass",
			CreatedAt:    time.Now(),
		}, nil
	}
	m := NewManager(store, run, 2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	j, err := m.Submit(ctx, "bgp_peer_audit", "client-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, j.Status)

	final := waitTerminal(t, m, j.JobID)
	require.Equal(t, StatusSucceeded, final.Status)
	require.NotEmpty(t, final.ReportID)
	assert.Equal(t, Progress{Completed: 3, Total: 3}, final.Progress)

	// The report is retrievable, repeatedly, by id.
	for i := 0; i < 3; i++ {
		r, err := m.GetReport(ctx, final.ReportID)
		require.NoError(t, err)
		assert.Contains(t, r.Content, "bgp_peer_audit")
		assert.NotEmpty(t, r.Summary)
	}
}

func TestSucceededNeverObservedWithoutReport(t *testing.T) {
	store := NewMemoryStore()
	release := make(chan struct{})
	run := func(ctx context.Context, j Job, progress func(Progress)) (Report, error) {
		<-release
		return Report{ReportID: "r-1", InspectionID: j.InspectionID, Content: "ok", CreatedAt: time.Now()}, nil
	}
	m := NewManager(store, run, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	j, err := m.Submit(ctx, "audit", "client-1")
	require.NoError(t, err)

	// Poll concurrently with completion: any observation of succeeded
	// must come with a retrievable report.
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	for {
		got, err := m.Get(ctx, j.JobID, "client-1", false)
		require.NoError(t, err)
		if got.Status == StatusSucceeded {
			require.NotEmpty(t, got.ReportID)
			_, err := m.GetReport(ctx, got.ReportID)
			require.NoError(t, err)
			return
		}
		if got.Status.Terminal() {
			t.Fatalf("unexpected terminal status %s", got.Status)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestJobFailureCarriesError(t *testing.T) {
	store := NewMemoryStore()
	run := func(ctx context.Context, j Job, progress func(Progress)) (Report, error) {
		return Report{}, olaverr.New(olaverr.Unreachable, "device R2 unreachable")
	}
	m := NewManager(store, run, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	j, err := m.Submit(ctx, "audit", "client-1")
	require.NoError(t, err)

	final := waitTerminal(t, m, j.JobID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "unreachable")
}

func TestWorkerSurvivesPanic(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	run := func(ctx context.Context, j Job, progress func(Progress)) (Report, error) {
		calls++
		if calls == 1 {
			panic("inspection exploded")
		}
		return Report{ReportID: uuid.NewString(), InspectionID: j.InspectionID, Content: "ok", CreatedAt: time.Now()}, nil
	}
	m := NewManager(store, run, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	j1, err := m.Submit(ctx, "audit", "client-1")
	require.NoError(t, err)
	final := waitTerminal(t, m, j1.JobID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "InternalError")

	// The same worker keeps draining the queue.
	j2, err := m.Submit(ctx, "audit", "client-1")
	require.NoError(t, err)
	final = waitTerminal(t, m, j2.JobID)
	assert.Equal(t, StatusSucceeded, final.Status)
}

func TestCancelRunningJob(t *testing.T) {
	store := NewMemoryStore()
	started := make(chan struct{})
	run := func(ctx context.Context, j Job, progress func(Progress)) (Report, error) {
		close(started)
		<-ctx.Done()
		return Report{}, ctx.Err()
	}
	m := NewManager(store, run, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	j, err := m.Submit(ctx, "audit", "client-1")
	require.NoError(t, err)
	<-started

	require.NoError(t, m.Cancel(ctx, j.JobID, "client-1", false))
	final := waitTerminal(t, m, j.JobID)
	assert.Equal(t, StatusCancelled, final.Status)

	// Cancelling a terminal job is a conflict.
	err = m.Cancel(ctx, j.JobID, "client-1", false)
	assert.Equal(t, olaverr.Conflict, olaverr.KindOf(err))
}

func TestOwnershipEnforced(t *testing.T) {
	store := NewMemoryStore()
	run := func(ctx context.Context, j Job, progress func(Progress)) (Report, error) {
		return Report{ReportID: uuid.NewString(), InspectionID: j.InspectionID, Content: "ok", CreatedAt: time.Now()}, nil
	}
	m := NewManager(store, run, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	j, err := m.Submit(ctx, "audit", "client-1")
	require.NoError(t, err)
	waitTerminal(t, m, j.JobID)

	_, err = m.Get(ctx, j.JobID, "client-2", false)
	assert.Equal(t, olaverr.PermissionDenied, olaverr.KindOf(err))

	_, err = m.Get(ctx, j.JobID, "client-2", true)
	assert.NoError(t, err)

	mine, err := m.List(ctx, "client-2", false)
	require.NoError(t, err)
	assert.Empty(t, mine)

	all, err := m.List(ctx, "client-2", true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUnknownJobAndReport(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, 1, nil)
	_, err := m.Get(context.Background(), "nope", "c", true)
	assert.Equal(t, olaverr.NotFound, olaverr.KindOf(err))
	_, err = m.GetReport(context.Background(), "nope")
	assert.Equal(t, olaverr.NotFound, olaverr.KindOf(err))
	assert.False(t, errors.Is(err, context.Canceled))
}
