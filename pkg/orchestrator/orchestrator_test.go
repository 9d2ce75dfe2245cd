// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olav-network/olav/pkg/checkpoint"
	"github.com/olav-network/olav/pkg/config"
	"github.com/olav-network/olav/pkg/deviceadapter"
	"github.com/olav-network/olav/pkg/fanout"
	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/job"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/rag"
	"github.com/olav-network/olav/pkg/session"
	"github.com/olav-network/olav/pkg/tool"
	"github.com/olav-network/olav/pkg/toolset"
	"github.com/olav-network/olav/pkg/vector"
	"github.com/olav-network/olav/pkg/workflow"
)

type stubAdapter struct{}

func (stubAdapter) Platforms() []string { return []string{"cisco_iosxe"} }

func (stubAdapter) RunCommands(_ context.Context, d inventory.Device, commands []string) (map[string]string, error) {
	if d.Name == "R3" {
		return nil, olaverr.New(olaverr.Timeout, "R3 timed out")
	}
	out := make(map[string]string, len(commands))
	for _, c := range commands {
		out[c] = "Established peers: 4 (" + d.Name + ")"
	}
	return out, nil
}

func (stubAdapter) ApplyConfig(context.Context, inventory.Device, []string) (string, error) {
	return "applied", nil
}

func (stubAdapter) Probe(context.Context, inventory.Device) error { return nil }

type stubChat struct{}

func (stubChat) Complete(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "configuration commands") {
		return "interface Loopback100\nshutdown", nil
	}
	return "show ip bgp summary", nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(context.Context, string) (string, float64, error) {
	return toolset.IntentQuickQuery, 0.9, nil
}

type stubWriter struct{}

func (stubWriter) ApplyChanges(context.Context, []map[string]any) (string, error) {
	return "applied", nil
}

type harness struct {
	engine    *workflow.Engine
	workflows *workflow.Registry
	threads   *session.MemoryStore
	tools     *tool.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	inv := inventory.NewMemoryProvider([]inventory.Device{
		{Name: "R1", Platform: "cisco_iosxe", Group: "core"},
		{Name: "R2", Platform: "cisco_iosxe", Group: "core"},
		{Name: "R3", Platform: "cisco_iosxe", Group: "core"},
	})
	adapters := deviceadapter.NewRegistry()
	require.NoError(t, adapters.Register(stubAdapter{}))

	knowledge := rag.NewSearcher(vector.NilProvider{}, rag.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		return []float32{0}, nil
	}), "", "", "", nil)

	tools := tool.NewRegistry()
	runner := fanout.NewRunner(inv, tools)
	batch := toolset.FanoutBatch{Runner: runner, PerDevice: time.Second}
	require.NoError(t, toolset.Register(tools, toolset.Deps{
		Chat:      stubChat{},
		Classify:  stubClassifier{},
		Inventory: inv,
		Adapters:  adapters,
		Knowledge: knowledge,
		Writer:    stubWriter{},
		Batch:     batch,
		Tasks:     batch,
	}))

	workflows := workflow.NewRegistry()
	require.NoError(t, BuildAll(workflows, Deps{Inventory: inv, DeepDiveMaxDepth: 3}))

	threads := session.NewMemoryStore()
	engine := workflow.NewEngine(tools, threads, checkpoint.NewManager(checkpoint.NewMemoryStore(), threads))
	return &harness{engine: engine, workflows: workflows, threads: threads, tools: tools}
}

func TestBuildAllRegistersEveryKind(t *testing.T) {
	h := newHarness(t)
	for _, kind := range []workflow.Kind{
		workflow.KindQueryDiagnostic, workflow.KindDeviceExecution,
		workflow.KindNetBoxManagement, workflow.KindDeepDive, workflow.KindInspection,
	} {
		_, ok := h.workflows.Get(string(kind))
		assert.True(t, ok, "workflow %s missing", kind)
	}
}

func newThread(message string) session.Thread {
	th := session.Thread{
		ThreadID:      session.NewThreadID("client"),
		OwnerClientID: "client",
		Status:        session.StatusRunning,
		CreatedAt:     time.Now(),
	}
	th.AppendMessage(session.Message{Role: session.RoleUser, Content: message})
	return th
}

func TestQueryDiagnosticEndToEnd(t *testing.T) {
	h := newHarness(t)
	def, _ := h.workflows.Get(string(workflow.KindQueryDiagnostic))

	th := newThread("check R1 BGP status")
	require.NoError(t, h.threads.Create(context.Background(), th))
	result := h.engine.Run(context.Background(), def, &th, "operator", workflow.NoopObserver{})

	require.Equal(t, workflow.RunCompleted, result.Status, "err: %v", result.Err)
	answer, _ := result.FinalState["answer"].(map[string]any)
	require.NotNil(t, answer)
	assert.Equal(t, "R1", answer["device"])
	assert.Contains(t, answer["output"], "R1")
}

func TestDeviceExecutionGatesBeforeApply(t *testing.T) {
	h := newHarness(t)
	def, _ := h.workflows.Get(string(workflow.KindDeviceExecution))

	th := newThread("shut Loopback100 on R1")
	require.NoError(t, h.threads.Create(context.Background(), th))
	result := h.engine.Run(context.Background(), def, &th, "operator", workflow.NoopObserver{})

	require.Equal(t, workflow.RunInterrupted, result.Status)
	req := result.InterruptRequest
	require.NotNil(t, req)
	assert.Equal(t, "R1", req.ExecutionPlan.Device)
	assert.Equal(t, "shut_interface", req.ExecutionPlan.Operation)
	assert.Equal(t, session.RiskHigh, req.RiskLevel)
	assert.Equal(t, []string{"interface Loopback100", "shutdown"}, req.ExecutionPlan.ProposedCommands)

	// Approve and finish through verify.
	result = h.engine.Resume(context.Background(), def, &th, "operator", session.ResumeDecision{
		ThreadID: th.ThreadID,
		CallID:   req.CallID,
		Decision: session.DecisionApprove,
	}, workflow.NoopObserver{})
	require.Equal(t, workflow.RunCompleted, result.Status, "err: %v", result.Err)
}

func TestDeviceExecutionRejectIsTerminal(t *testing.T) {
	h := newHarness(t)
	def, _ := h.workflows.Get(string(workflow.KindDeviceExecution))

	th := newThread("shut Loopback100 on R1")
	require.NoError(t, h.threads.Create(context.Background(), th))
	result := h.engine.Run(context.Background(), def, &th, "operator", workflow.NoopObserver{})
	require.Equal(t, workflow.RunInterrupted, result.Status)

	result = h.engine.Resume(context.Background(), def, &th, "operator", session.ResumeDecision{
		ThreadID:        th.ThreadID,
		CallID:          result.InterruptRequest.CallID,
		Decision:        session.DecisionReject,
		RejectionReason: "not during business hours",
	}, workflow.NoopObserver{})
	require.Equal(t, workflow.RunCompleted, result.Status, "err: %v", result.Err)
	assert.Equal(t, "rejected", result.FinalState["outcome"])
}

func TestDeepDiveDispatchesSubtasksInOneWave(t *testing.T) {
	h := newHarness(t)
	def, _ := h.workflows.Get(string(workflow.KindDeepDive))

	// Five sub-tasks fit one wave under the 30-task fan-out cap, so the
	// three-wave depth bound is untouched.
	th := newThread("check bgp on R1. check ospf on R1. check bgp on R2. check ospf on R2. check interfaces on R1")
	require.NoError(t, h.threads.Create(context.Background(), th))
	result := h.engine.Run(context.Background(), def, &th, "operator", workflow.NoopObserver{})

	require.Equal(t, workflow.RunCompleted, result.Status, "err: %v", result.Err)
	answer, _ := result.FinalState["answer"].(map[string]any)
	require.NotNil(t, answer)
	subResults, _ := answer["sub_results"].([]any)
	require.Len(t, subResults, 5)
	first, _ := subResults[0].(map[string]any)
	assert.Equal(t, "check bgp on R1", first["task"])
	assert.NotNil(t, first["output"])
}

func TestDeepDiveDepthBoundsWaveCount(t *testing.T) {
	inv := inventory.NewMemoryProvider([]inventory.Device{
		{Name: "R1", Platform: "cisco_iosxe", Group: "core"},
	})
	adapters := deviceadapter.NewRegistry()
	require.NoError(t, adapters.Register(stubAdapter{}))
	knowledge := rag.NewSearcher(vector.NilProvider{}, rag.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		return []float32{0}, nil
	}), "", "", "", nil)

	tools := tool.NewRegistry()
	batch := toolset.FanoutBatch{Runner: fanout.NewRunner(inv, tools), PerDevice: time.Second}
	require.NoError(t, toolset.Register(tools, toolset.Deps{
		Chat:      stubChat{},
		Classify:  stubClassifier{},
		Inventory: inv,
		Adapters:  adapters,
		Knowledge: knowledge,
		Writer:    stubWriter{},
		Batch:     batch,
		Tasks:     batch,
	}))

	// Fan-out capped at two per wave, depth capped at two waves: five
	// sub-tasks need a third wave and must fail the safety bound.
	workflows := workflow.NewRegistry()
	require.NoError(t, BuildAll(workflows, Deps{Inventory: inv, DeepDiveMaxDepth: 2, DeepDiveMaxFanout: 2}))
	def, _ := workflows.Get(string(workflow.KindDeepDive))

	threads := session.NewMemoryStore()
	engine := workflow.NewEngine(tools, threads, checkpoint.NewManager(checkpoint.NewMemoryStore(), threads))

	th := newThread("check bgp on R1. check ospf on R1. check routes on R1. check version on R1. check interfaces on R1")
	require.NoError(t, threads.Create(context.Background(), th))
	result := engine.Run(context.Background(), def, &th, "operator", workflow.NoopObserver{})

	require.Equal(t, workflow.RunFailed, result.Status)
	assert.Equal(t, olaverr.IterationLimitExceeded, olaverr.KindOf(result.Err))
}

func TestInspectionRunnerProducesReport(t *testing.T) {
	h := newHarness(t)

	inspections := map[string]*config.InspectionConfig{
		"bgp_peer_audit": {
			Scope:          "group:core",
			Commands:       []string{"show ip bgp summary"},
			ExpectContains: "Established",
		},
	}
	run := InspectionRunner(h.engine, h.workflows, h.threads, inspections)

	var mu sync.Mutex
	var seen []job.Progress
	report, err := run(context.Background(), job.Job{
		JobID:         "J1",
		InspectionID:  "bgp_peer_audit",
		OwnerClientID: "client",
	}, func(p job.Progress) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Contains(t, report.Content, "R1")
	assert.Contains(t, report.Content, "R2")
	assert.Contains(t, report.Content, "R3")
	// R3 timed out: marked unreachable, the others pass.
	assert.Contains(t, report.Content, "unreachable")
	assert.Equal(t, "2/3 devices pass", report.Summary)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	last := 0
	for _, p := range seen {
		assert.GreaterOrEqual(t, p.Completed, last)
		assert.Equal(t, 3, p.Total)
		last = p.Completed
	}
	assert.Equal(t, 3, last)
}

func TestInspectionUnknownProfile(t *testing.T) {
	h := newHarness(t)
	run := InspectionRunner(h.engine, h.workflows, h.threads, nil)
	_, err := run(context.Background(), job.Job{JobID: "J1", InspectionID: "nope"}, func(job.Progress) {})
	assert.Equal(t, olaverr.NotFound, olaverr.KindOf(err))
}
