// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olav-network/olav/pkg/auth"
	"github.com/olav-network/olav/pkg/checkpoint"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/session"
	"github.com/olav-network/olav/pkg/stream"
	"github.com/olav-network/olav/pkg/tool"
	"github.com/olav-network/olav/pkg/workflow"
)

type fixture struct {
	dispatcher *Dispatcher
	threads    *session.MemoryStore
	broker     *stream.Broker
	classified struct {
		intent     string
		confidence float64
	}
	applied int
}

func newFixture(t *testing.T, guard bool) *fixture {
	t.Helper()
	f := &fixture{
		threads: session.NewMemoryStore(),
		broker:  stream.NewBroker(64),
	}
	f.classified.intent = "quick_query"
	f.classified.confidence = 0.9

	tools := tool.NewRegistry()
	require.NoError(t, tools.Register(tool.Tool{
		Name:       "classify_intent",
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			return &tool.Result{Output: map[string]any{
				"intent":     f.classified.intent,
				"confidence": f.classified.confidence,
			}}, nil
		},
	}))
	require.NoError(t, tools.Register(tool.Tool{
		Name:       "smart_query",
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			return &tool.Result{Output: map[string]any{"answer": "4 peers"}, Summary: "queried"}, nil
		},
	}))
	require.NoError(t, tools.Register(tool.Tool{
		Name:             "apply_config",
		SideEffect:       tool.SideEffectWrite,
		RequiresApproval: true,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			f.applied++
			return &tool.Result{Summary: "applied"}, nil
		},
	}))

	workflows := workflow.NewRegistry()

	query, err := workflow.New(string(workflow.KindQueryDiagnostic), "run", []workflow.Node{
		{Name: "run", Func: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			return nil, &workflow.ToolCallRequest{ToolName: "smart_query", Args: map[string]any{}}, nil
		}},
		{Name: "finish", Func: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			return nil, nil, nil
		}},
	}, []workflow.Edge{{From: "run", To: "finish"}}, "finish")
	require.NoError(t, err)
	workflows.Register(query)

	exec, err := workflow.New(string(workflow.KindDeviceExecution), "plan", []workflow.Node{
		{Name: "plan", Func: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			return nil, &workflow.ToolCallRequest{
				ToolName:  "apply_config",
				Args:      map[string]any{"device": "R1"},
				Message:   "about to shut Loopback100 on R1",
				RiskLevel: "high",
				Device:    "R1",
				Operation: "shut_interface",
				Commands:  []string{"interface Loopback100", "shutdown"},
			}, nil
		}, Interruptible: true},
		{Name: "verify", Func: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			return nil, nil, nil
		}},
		{Name: "rejected", Func: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			return nil, nil, nil
		}},
	}, []workflow.Edge{
		{From: "plan", To: "rejected", Predicate: func(s workflow.State) bool {
			v, _ := s["__last_decision__"].(string)
			return v == "rejected"
		}},
		{From: "plan", To: "verify"},
	}, "verify", "rejected")
	require.NoError(t, err)
	workflows.Register(exec)

	engine := workflow.NewEngine(tools, f.threads, checkpoint.NewManager(checkpoint.NewMemoryStore(), f.threads))
	f.dispatcher = New(f.threads, engine, workflows, tools, f.broker, nil,
		Config{GuardMode: guard, ConfidenceFloor: 0.6}, nil)
	return f
}

func operator() auth.Session {
	return auth.Session{ClientID: "client-1", ClientName: "ops", Role: auth.RoleOperator}
}

func viewer() auth.Session {
	return auth.Session{ClientID: "client-2", ClientName: "ro", Role: auth.RoleViewer}
}

func drain(t *testing.T, sub *stream.Subscription) []stream.Event {
	t.Helper()
	var out []stream.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
			if ev.Kind == stream.KindDone {
				return out
			}
		case <-timeout:
			t.Fatalf("stream never terminated; got %d events", len(out))
		}
	}
}

func kinds(events []stream.Event) []stream.Kind {
	out := make([]stream.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestQuickQueryStreamsToCompletion(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	routed, err := f.dispatcher.Prepare(ctx, operator(), Request{Message: "check R1 BGP status"})
	require.NoError(t, err)
	assert.Equal(t, workflow.KindQueryDiagnostic, routed.Kind)

	sub := f.broker.Subscribe(routed.Thread.ThreadID)
	f.dispatcher.Execute(ctx, operator(), routed, "check R1 BGP status")
	events := drain(t, sub)

	got := kinds(events)
	assert.Equal(t, stream.KindThinking, got[0])
	assert.Contains(t, got, stream.KindToolStart)
	assert.Contains(t, got, stream.KindToolEnd)
	assert.Equal(t, stream.KindDone, got[len(got)-1])
	assert.Equal(t, stream.StatusCompleted, events[len(events)-1].FinalStatus)
	assert.NotContains(t, got, stream.KindInterrupt)
}

func TestViewerDeniedBeforeThreadCreation(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.dispatcher.Prepare(context.Background(), viewer(), Request{
		Message:      "shut Loopback100 on R1",
		WorkflowHint: string(workflow.KindDeviceExecution),
	})
	assert.Equal(t, olaverr.PermissionDenied, olaverr.KindOf(err))

	threads, err2 := f.threads.ListByOwner(context.Background(), "client-2")
	require.NoError(t, err2)
	assert.Empty(t, threads, "a denied request must not create a thread")
}

func TestWriteInterruptsAndResumes(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.classified.intent = "configuration"
	f.classified.confidence = 0.95

	routed, err := f.dispatcher.Prepare(ctx, operator(), Request{Message: "shut Loopback100 on R1"})
	require.NoError(t, err)
	assert.Equal(t, workflow.KindDeviceExecution, routed.Kind)

	sub := f.broker.Subscribe(routed.Thread.ThreadID)
	f.dispatcher.Execute(ctx, operator(), routed, "shut Loopback100 on R1")
	events := drain(t, sub)

	var interrupt *stream.Event
	for i := range events {
		if events[i].Kind == stream.KindInterrupt {
			interrupt = &events[i]
		}
	}
	require.NotNil(t, interrupt, "write workflow must pause for approval")
	assert.Equal(t, session.RiskHigh, interrupt.Interrupt.RiskLevel)
	assert.Equal(t, "R1", interrupt.Interrupt.ExecutionPlan.Device)
	assert.Equal(t, stream.StatusInterrupted, events[len(events)-1].FinalStatus)
	assert.Zero(t, f.applied, "no device command before approval")

	// Approve and stream the continuation.
	sub2 := f.broker.Subscribe(routed.Thread.ThreadID)
	decision := session.ResumeDecision{
		ThreadID: routed.Thread.ThreadID,
		CallID:   interrupt.Interrupt.CallID,
		Decision: session.DecisionApprove,
	}
	require.NoError(t, f.dispatcher.Resume(ctx, operator(), decision))
	events2 := drain(t, sub2)
	assert.Equal(t, stream.StatusCompleted, events2[len(events2)-1].FinalStatus)
	assert.Equal(t, 1, f.applied)

	// Resuming again conflicts: the interrupt was already consumed.
	err = f.dispatcher.Resume(ctx, operator(), decision)
	assert.Equal(t, olaverr.Conflict, olaverr.KindOf(err))
}

func TestAdminAutoApprovesWrites(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	admin := auth.Session{ClientID: "root", Role: auth.RoleAdmin}

	routed, err := f.dispatcher.Prepare(ctx, admin, Request{
		Message:      "shut Loopback100 on R1",
		WorkflowHint: string(workflow.KindDeviceExecution),
	})
	require.NoError(t, err)

	sub := f.broker.Subscribe(routed.Thread.ThreadID)
	f.dispatcher.Execute(ctx, admin, routed, "shut Loopback100 on R1")
	events := drain(t, sub)

	assert.NotContains(t, kinds(events), stream.KindInterrupt)
	assert.Equal(t, stream.StatusCompleted, events[len(events)-1].FinalStatus)
	assert.Equal(t, 1, f.applied)
}

func TestConfidenceFloorFallsThroughToQuickQuery(t *testing.T) {
	f := newFixture(t, false)
	f.classified.intent = "configuration"
	f.classified.confidence = 0.4

	routed, err := f.dispatcher.Prepare(context.Background(), operator(), Request{Message: "maybe change something?"})
	require.NoError(t, err)
	assert.Equal(t, workflow.KindQueryDiagnostic, routed.Kind)
}

func TestGuardModeRefusesNonNetwork(t *testing.T) {
	f := newFixture(t, true)
	f.classified.intent = "non_network"

	routed, err := f.dispatcher.Prepare(context.Background(), operator(), Request{Message: "write me a poem"})
	require.NoError(t, err)
	assert.True(t, routed.Refused)

	// Guard off: the same request degrades to a quick query.
	f2 := newFixture(t, false)
	f2.classified.intent = "non_network"
	routed, err = f2.dispatcher.Prepare(context.Background(), operator(), Request{Message: "write me a poem"})
	require.NoError(t, err)
	assert.False(t, routed.Refused)
	assert.Equal(t, workflow.KindQueryDiagnostic, routed.Kind)
}

func TestForeignThreadRejected(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	routed, err := f.dispatcher.Prepare(ctx, operator(), Request{Message: "check R1"})
	require.NoError(t, err)

	_, err = f.dispatcher.Prepare(ctx, viewer(), Request{Message: "check R1", ThreadID: routed.Thread.ThreadID})
	assert.Equal(t, olaverr.PermissionDenied, olaverr.KindOf(err))
}
