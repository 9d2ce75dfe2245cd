// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/olav-network/olav/pkg/checkpoint"
	"github.com/olav-network/olav/pkg/session"
	"github.com/olav-network/olav/pkg/tool"
)

func newTestEngine(t *testing.T, tools *tool.Registry) (*Engine, *session.MemoryStore) {
	t.Helper()
	threads := session.NewMemoryStore()
	cps := checkpoint.NewManager(checkpoint.NewMemoryStore(), threads)
	return NewEngine(tools, threads, cps), threads
}

func newThread(id string) *session.Thread {
	now := time.Now()
	return &session.Thread{ThreadID: id, OwnerClientID: "client-1", Status: session.StatusRunning, CreatedAt: now, UpdatedAt: now}
}

func TestQueryDiagnosticCompletesWithoutInterrupt(t *testing.T) {
	reg := tool.NewRegistry()
	if err := reg.Register(tool.Tool{Name: "smart_query", SideEffect: tool.SideEffectRead, Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
		return &tool.Result{Summary: "bgp up", Output: map[string]any{"status": "up"}}, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	def, err := BuildQueryDiagnostic(QueryDiagnosticNodes{
		Classify:   func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{"needs_device_query": true}, nil, nil },
		MacroQuery: func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{}, nil, nil },
		MicroQuery: func(ctx context.Context, s State) (State, *ToolCallRequest, error) {
			return nil, &ToolCallRequest{ToolName: "smart_query", Args: map[string]any{"device": "R1"}}, nil
		},
		Synthesize: func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{"final": "R1 BGP is up"}, nil, nil },
	})
	if err != nil {
		t.Fatalf("BuildQueryDiagnostic: %v", err)
	}

	engine, threads := newTestEngine(t, reg)
	th := newThread("client-1-abc")
	if err := threads.Create(context.Background(), *th); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := engine.Run(context.Background(), def, th, "operator", NoopObserver{})
	if result.Status != RunCompleted {
		t.Fatalf("expected RunCompleted, got %+v", result)
	}
	if th.Status != session.StatusCompleted {
		t.Fatalf("expected thread completed, got %s", th.Status)
	}
}

func TestDeviceExecutionPausesForApprovalThenApplies(t *testing.T) {
	applied := false
	reg := tool.NewRegistry()
	if err := reg.Register(tool.Tool{Name: "apply_config", SideEffect: tool.SideEffectWrite, RequiresApproval: true, Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
		applied = true
		return &tool.Result{Summary: "applied"}, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	def, err := BuildDeviceExecution(DeviceExecutionNodes{
		Plan: func(ctx context.Context, s State) (State, *ToolCallRequest, error) {
			return nil, &ToolCallRequest{ToolName: "apply_config", Args: map[string]any{"device": "R1"}, RiskLevel: "high", Device: "R1", Operation: "shut_interface"}, nil
		},
		Apply:    func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{"applied": true}, nil, nil },
		Verify:   func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{"verified": true}, nil, nil },
		Rejected: func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{}, nil, nil },
	})
	if err != nil {
		t.Fatalf("BuildDeviceExecution: %v", err)
	}

	engine, threads := newTestEngine(t, reg)
	th := newThread("client-1-xyz")
	if err := threads.Create(context.Background(), *th); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := engine.Run(context.Background(), def, th, "operator", NoopObserver{})
	if result.Status != RunInterrupted {
		t.Fatalf("expected RunInterrupted, got %+v", result)
	}
	if applied {
		t.Fatal("no device command should have been sent before approval")
	}
	if th.PendingInterrupt == nil || th.PendingInterrupt.RiskLevel != session.RiskHigh {
		t.Fatalf("expected high-risk pending interrupt, got %+v", th.PendingInterrupt)
	}

	decision := session.ResumeDecision{ThreadID: th.ThreadID, CallID: th.PendingInterrupt.CallID, Decision: session.DecisionApprove}
	result = engine.Resume(context.Background(), def, th, "operator", decision, NoopObserver{})
	if result.Status != RunCompleted {
		t.Fatalf("expected RunCompleted after approval, got %+v", result)
	}
	if !applied {
		t.Fatal("expected device command to have been applied after approval")
	}
}

func TestDeviceExecutionRejectionSkipsApply(t *testing.T) {
	applied := false
	reg := tool.NewRegistry()
	if err := reg.Register(tool.Tool{Name: "apply_config", SideEffect: tool.SideEffectWrite, RequiresApproval: true, Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
		applied = true
		return &tool.Result{}, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	def, err := BuildDeviceExecution(DeviceExecutionNodes{
		Plan:     func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return nil, &ToolCallRequest{ToolName: "apply_config"}, nil },
		Apply:    func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{}, nil, nil },
		Verify:   func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{}, nil, nil },
		Rejected: func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{"rejected": true}, nil, nil },
	})
	if err != nil {
		t.Fatalf("BuildDeviceExecution: %v", err)
	}

	engine, threads := newTestEngine(t, reg)
	th := newThread("client-1-rej")
	if err := threads.Create(context.Background(), *th); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := engine.Run(context.Background(), def, th, "operator", NoopObserver{})
	if result.Status != RunInterrupted {
		t.Fatalf("expected RunInterrupted, got %+v", result)
	}

	decision := session.ResumeDecision{ThreadID: th.ThreadID, CallID: th.PendingInterrupt.CallID, Decision: session.DecisionReject}
	result = engine.Resume(context.Background(), def, th, "operator", decision, NoopObserver{})
	if result.Status != RunCompleted {
		t.Fatalf("expected RunCompleted (rejected branch is terminal), got %+v", result)
	}
	if applied {
		t.Fatal("rejected decision must never execute the tool")
	}
}

func TestAdminAutoApprovesWriteTools(t *testing.T) {
	applied := false
	reg := tool.NewRegistry()
	if err := reg.Register(tool.Tool{Name: "apply_config", SideEffect: tool.SideEffectWrite, RequiresApproval: true, Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
		applied = true
		return &tool.Result{}, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	def, err := BuildDeviceExecution(DeviceExecutionNodes{
		Plan:     func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return nil, &ToolCallRequest{ToolName: "apply_config"}, nil },
		Apply:    func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{}, nil, nil },
		Verify:   func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{}, nil, nil },
		Rejected: func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{}, nil, nil },
	})
	if err != nil {
		t.Fatalf("BuildDeviceExecution: %v", err)
	}

	engine, threads := newTestEngine(t, reg)
	th := newThread("client-1-adm")
	if err := threads.Create(context.Background(), *th); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := engine.Run(context.Background(), def, th, "admin", NoopObserver{})
	if result.Status != RunCompleted {
		t.Fatalf("expected admin run to auto-approve and complete, got %+v", result)
	}
	if !applied {
		t.Fatal("expected tool to run under admin auto-approve")
	}
}

func TestDeepDiveIterationLimitExceeded(t *testing.T) {
	reg := tool.NewRegistry()
	// Ten tasks, one consumed per wave, two waves allowed: the loop must
	// refuse the third wave.
	def, err := BuildDeepDive(DeepDiveNodes{
		Decompose: func(ctx context.Context, s State) (State, *ToolCallRequest, error) {
			return State{"task_total": 10.0, "next_task_index": 0.0}, nil, nil
		},
		Dispatch: func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{}, nil, nil },
		RecordResults: func(ctx context.Context, s State) (State, *ToolCallRequest, error) {
			next, _ := s["next_task_index"].(float64)
			return State{"next_task_index": next + 1}, nil, nil
		},
		Synthesize: func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{}, nil, nil },
	}, 2)
	if err != nil {
		t.Fatalf("BuildDeepDive: %v", err)
	}

	engine, threads := newTestEngine(t, reg)
	th := newThread("client-1-deep")
	if err := threads.Create(context.Background(), *th); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := engine.Run(context.Background(), def, th, "operator", NoopObserver{})
	if result.Status != RunFailed {
		t.Fatalf("expected RunFailed once depth bound is exceeded, got %+v", result)
	}
}

func TestCancellationStopsAtNextBoundary(t *testing.T) {
	reg := tool.NewRegistry()
	engine, threads := newTestEngine(t, reg)
	th := newThread("client-1-cancel")
	if err := threads.Create(context.Background(), *th); err != nil {
		t.Fatalf("Create: %v", err)
	}
	engine.Cancel(th.ThreadID)

	def, err := New("Cancellable", "a", []Node{
		{Name: "a", Func: func(ctx context.Context, s State) (State, *ToolCallRequest, error) { return State{}, nil, nil }},
	}, nil, "a")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := engine.Run(context.Background(), def, th, "operator", NoopObserver{})
	if result.Status != RunCancelled {
		t.Fatalf("expected RunCancelled, got %+v", result)
	}
}
