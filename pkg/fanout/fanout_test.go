// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package fanout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/ratelimit"
	"github.com/olav-network/olav/pkg/tool"
)

func devices(n int) []inventory.Device {
	out := make([]inventory.Device, n)
	for i := range out {
		out[i] = inventory.Device{Name: fmt.Sprintf("R%d", i+1), Group: "edge"}
	}
	return out
}

func newProvider(n int) inventory.Provider {
	return inventory.NewMemoryProvider(devices(n))
}

func TestRunAggregatesPartialFailure(t *testing.T) {
	reg := tool.NewRegistry()
	if err := reg.Register(tool.Tool{Name: "probe", SideEffect: tool.SideEffectRead, Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
		device, _ := args["device"].(string)
		if device == "R2" {
			return nil, olaverr.New(olaverr.Unreachable, "no route to %s", device)
		}
		return &tool.Result{Summary: "ok"}, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r := NewRunner(newProvider(3), reg)
	results, err := r.Run(context.Background(), "client-1", "operator", "thread-1", Request{Scope: "group:edge", ToolName: "probe"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(results))
	}
	if results["R2"].Outcome != OutcomeSkippedUnreachable {
		t.Fatalf("expected R2 skipped_unreachable, got %+v", results["R2"])
	}
	if results["R1"].Outcome != OutcomeOK || results["R3"].Outcome != OutcomeOK {
		t.Fatalf("expected R1/R3 ok, got %+v", results)
	}
}

func TestRunEmptyScopeFails(t *testing.T) {
	reg := tool.NewRegistry()
	r := NewRunner(newProvider(0), reg)
	if _, err := r.Run(context.Background(), "client-1", "operator", "thread-1", Request{Scope: "group:edge", ToolName: "probe"}); olaverr.KindOf(err) != olaverr.BadArguments {
		t.Fatalf("expected BadArguments on empty scope, got %v", err)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	const concurrency = 2
	var inFlight, maxSeen int64
	var mu sync.Mutex

	reg := tool.NewRegistry()
	if err := reg.Register(tool.Tool{Name: "slow_probe", SideEffect: tool.SideEffectRead, Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		defer atomic.AddInt64(&inFlight, -1)
		mu.Lock()
		if cur > maxSeen {
			maxSeen = cur
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return &tool.Result{Summary: "ok"}, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r := NewRunner(newProvider(6), reg)
	results, err := r.Run(context.Background(), "client-1", "operator", "thread-1", Request{Scope: "group:edge", ToolName: "slow_probe", Concurrency: concurrency})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("expected 6 outcomes, got %d", len(results))
	}
	if maxSeen > concurrency {
		t.Fatalf("observed %d concurrent calls, want <= %d", maxSeen, concurrency)
	}
}

func TestRunRejectedProducesNoSideEffects(t *testing.T) {
	called := false
	reg := tool.NewRegistry()
	if err := reg.Register(tool.Tool{Name: "apply_config", SideEffect: tool.SideEffectWrite, RequiresApproval: true, Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
		called = true
		return &tool.Result{}, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r := NewRunner(newProvider(3), reg)
	results, err := r.RunRejected(context.Background(), "group:edge")
	if err != nil {
		t.Fatalf("RunRejected: %v", err)
	}
	for name, res := range results {
		if res.Outcome != OutcomeRejected {
			t.Fatalf("expected %s rejected, got %+v", name, res)
		}
	}
	if called {
		t.Fatal("rejected batch must never invoke the tool")
	}
}

func TestRunTasksIndexAlignedAndBounded(t *testing.T) {
	var inFlight, peak atomic.Int32
	reg := tool.NewRegistry()
	if err := reg.Register(tool.Tool{Name: "analyze", SideEffect: tool.SideEffectRead, Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		text, _ := args["text"].(string)
		if text == "task-3" {
			return nil, olaverr.New(olaverr.Unreachable, "no data for %s", text)
		}
		return &tool.Result{Summary: "done " + text, Output: map[string]any{"text": text}}, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	tasks := make([]Task, 6)
	for i := range tasks {
		label := fmt.Sprintf("task-%d", i)
		tasks[i] = Task{Label: label, Args: map[string]any{"text": label}}
	}

	r := NewRunner(newProvider(1), reg)
	results := r.RunTasks(context.Background(), "client-1", "operator", "thread-1", "analyze", tasks, 2)

	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	for i, res := range results {
		want := fmt.Sprintf("task-%d", i)
		if res.Label != want {
			t.Fatalf("result %d out of order: got %s, want %s", i, res.Label, want)
		}
	}
	if results[3].Err == nil || olaverr.KindOf(results[3].Err) != olaverr.Unreachable {
		t.Fatalf("expected task-3 to carry its error, got %+v", results[3])
	}
	if results[0].Output["text"] != "task-0" {
		t.Fatalf("expected task-0 output, got %+v", results[0].Output)
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("concurrency bound violated: saw %d in flight", got)
	}
}

func TestRunChargesDeviceOpsBudget(t *testing.T) {
	reg := tool.NewRegistry()
	if err := reg.Register(tool.Tool{Name: "probe", SideEffect: tool.SideEffectRead, Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
		return &tool.Result{Summary: "ok"}, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	limiter, err := ratelimit.New(
		[]ratelimit.Rule{{Type: ratelimit.LimitDeviceOps, Window: ratelimit.WindowDay, Limit: 5}},
		ratelimit.NewMemoryStore())
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}

	r := NewRunner(newProvider(3), reg).WithLimiter(limiter, ratelimit.ScopeClient)

	// First batch of three fits the five-op budget.
	if _, err := r.Run(context.Background(), "client-1", "operator", "t1", Request{Scope: "group:edge", ToolName: "probe"}); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	// A second batch would overrun; it is refused before any device is
	// touched, as Transient so the caller can retry next window.
	_, err = r.Run(context.Background(), "client-1", "operator", "t2", Request{Scope: "group:edge", ToolName: "probe"})
	if olaverr.KindOf(err) != olaverr.Transient {
		t.Fatalf("expected Transient budget refusal, got %v", err)
	}

	// Another client still has a full budget.
	if _, err := r.Run(context.Background(), "client-2", "operator", "t3", Request{Scope: "group:edge", ToolName: "probe"}); err != nil {
		t.Fatalf("other client: %v", err)
	}
}
