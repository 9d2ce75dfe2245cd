// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package toolset

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olav-network/olav/pkg/deviceadapter"
	"github.com/olav-network/olav/pkg/fanout"
	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/rag"
	"github.com/olav-network/olav/pkg/tool"
	"github.com/olav-network/olav/pkg/vector"
)

type fakeChat struct{ reply string }

func (f fakeChat) Complete(context.Context, string) (string, error) { return f.reply, nil }

type fakeClassifier struct {
	intent     string
	confidence float64
}

func (f fakeClassifier) Classify(context.Context, string) (string, float64, error) {
	return f.intent, f.confidence, nil
}

type fakeAdapter struct{ applied [][]string }

func (f *fakeAdapter) Platforms() []string { return []string{"cisco_iosxe"} }

func (f *fakeAdapter) RunCommands(_ context.Context, d inventory.Device, commands []string) (map[string]string, error) {
	out := make(map[string]string, len(commands))
	for _, c := range commands {
		out[c] = "output(" + d.Name + ":" + c + ")"
	}
	return out, nil
}

func (f *fakeAdapter) ApplyConfig(_ context.Context, d inventory.Device, lines []string) (string, error) {
	f.applied = append(f.applied, lines)
	return "applied " + d.Name, nil
}

func (f *fakeAdapter) Probe(context.Context, inventory.Device) error { return nil }

type fakeWriter struct{}

func (fakeWriter) ApplyChanges(_ context.Context, changes []map[string]any) (string, error) {
	return "applied changes", nil
}

func testDeps(t *testing.T) (Deps, *tool.Registry, *fakeAdapter) {
	t.Helper()
	inv := inventory.NewMemoryProvider([]inventory.Device{
		{Name: "R1", Platform: "cisco_iosxe", Group: "core", Role: "router", Site: "fra1"},
		{Name: "R2", Platform: "cisco_iosxe", Group: "core", Role: "router", Site: "fra1"},
	})
	adapters := deviceadapter.NewRegistry()
	fa := &fakeAdapter{}
	require.NoError(t, adapters.Register(fa))

	searcher := rag.NewSearcher(vector.NilProvider{}, rag.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		return []float32{0}, nil
	}), "", "", "", nil)

	deps := Deps{
		Chat:      fakeChat{reply: "show ip bgp summary"},
		Classify:  fakeClassifier{intent: IntentQuickQuery, confidence: 0.9},
		Inventory: inv,
		Adapters:  adapters,
		Knowledge: searcher,
		Writer:    fakeWriter{},
	}
	reg := tool.NewRegistry()
	return deps, reg, fa
}

func toolCtx() tool.Context {
	return tool.Context{Context: context.Background(), ClientID: "c1", Role: "operator", ThreadID: "t1", CallID: "call1"}
}

func TestRegisterCatalogue(t *testing.T) {
	deps, reg, _ := testDeps(t)
	require.NoError(t, Register(reg, deps))

	for _, name := range []string{
		"classify_intent", "device_query", "smart_query", "batch_query",
		"dispatch_subtasks", "schema_search", "memory_recall",
		"generate_report", "plan_config", "apply_config", "verify_config",
		"netbox_diff", "netbox_apply",
	} {
		_, ok := reg.Get(name)
		assert.True(t, ok, "tool %s missing", name)
	}

	apply, _ := reg.Get("apply_config")
	assert.Equal(t, tool.SideEffectWrite, apply.SideEffect)
	assert.True(t, apply.RequiresApproval)

	nb, _ := reg.Get("netbox_apply")
	assert.True(t, nb.RequiresApproval)
}

func TestClassifyIntent(t *testing.T) {
	deps, reg, _ := testDeps(t)
	require.NoError(t, Register(reg, deps))

	res, err := reg.Invoke(toolCtx(), "classify_intent", map[string]any{"text": "check R1 BGP"})
	require.NoError(t, err)
	assert.Equal(t, IntentQuickQuery, res.Output["intent"])
	assert.InDelta(t, 0.9, res.Output["confidence"].(float64), 1e-9)
}

func TestSmartQueryRunsModelSelectedCommand(t *testing.T) {
	deps, reg, _ := testDeps(t)
	require.NoError(t, Register(reg, deps))

	res, err := reg.Invoke(toolCtx(), "smart_query", map[string]any{"text": "check R1 BGP status", "device": "R1"})
	require.NoError(t, err)
	assert.Equal(t, "R1", res.Output["device"])
	assert.Equal(t, "show ip bgp summary", res.Output["command"])
	assert.Contains(t, res.Output["output"].(string), "R1")
}

func TestSmartQueryUnknownDevice(t *testing.T) {
	deps, reg, _ := testDeps(t)
	require.NoError(t, Register(reg, deps))

	_, err := reg.Invoke(toolCtx(), "smart_query", map[string]any{"text": "bgp", "device": "R9"})
	assert.Equal(t, olaverr.NotFound, olaverr.KindOf(err))
}

func TestPlanAndApplyConfig(t *testing.T) {
	deps, reg, fa := testDeps(t)
	deps.Chat = fakeChat{reply: "interface Loopback100\nshutdown\n"}
	require.NoError(t, Register(reg, deps))

	res, err := reg.Invoke(toolCtx(), "plan_config", map[string]any{"device": "R1", "intent": "shut Loopback100"})
	require.NoError(t, err)
	assert.Equal(t, "shut_interface", res.Output["operation"])
	commands := res.Output["commands"].([]any)
	require.Len(t, commands, 2)
	assert.Empty(t, fa.applied, "planning must not touch the device")

	res, err = reg.Invoke(toolCtx(), "apply_config", map[string]any{"device": "R1", "commands": commands})
	require.NoError(t, err)
	assert.Contains(t, res.Output["transcript"], "R1")
	require.Len(t, fa.applied, 1)
	assert.Equal(t, []string{"interface Loopback100", "shutdown"}, fa.applied[0])
}

func TestDispatchSubtasksRunsWaveInParallel(t *testing.T) {
	deps, reg, _ := testDeps(t)
	deps.Tasks = fakeTaskRunner{}
	require.NoError(t, Register(reg, deps))

	res, err := reg.Invoke(toolCtx(), "dispatch_subtasks", map[string]any{
		"tasks":        []any{"check bgp on R1", "check ospf on R2"},
		"max_parallel": 2,
	})
	require.NoError(t, err)
	results := res.Output["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "check bgp on R1", first["task"])
	assert.Equal(t, "R1", first["output"].(map[string]any)["device"])
}

func TestMissingRequiredArgument(t *testing.T) {
	deps, reg, _ := testDeps(t)
	require.NoError(t, Register(reg, deps))

	_, err := reg.Invoke(toolCtx(), "device_query", map[string]any{"device": "R1"})
	assert.Equal(t, olaverr.BadArguments, olaverr.KindOf(err))
}

func TestRenderReport(t *testing.T) {
	content, summary := RenderReport("bgp_peer_audit", map[string]any{
		"A": map[string]any{"outcome": "ok", "summary": "4 peers established"},
		"B": map[string]any{"outcome": "timeout"},
		"C": map[string]any{"outcome": "ok"},
	})
	assert.Equal(t, "2/3 devices pass", summary)
	assert.Contains(t, content, "A, B, C")
	assert.Contains(t, content, "| B | timeout | unreachable |")
	lines := strings.Split(content, "\n")
	assert.Contains(t, lines[0], "bgp_peer_audit")
}

// fakeTaskRunner fakes the fan-out task dispatch: it echoes
// which device each task resolved to.
type fakeTaskRunner struct{}

func (fakeTaskRunner) RunTasks(_ context.Context, _, _, _, _ string, tasks []fanout.Task, _ int) []fanout.TaskResult {
	out := make([]fanout.TaskResult, len(tasks))
	for i, task := range tasks {
		device, _ := task.Args["device"].(string)
		out[i] = fanout.TaskResult{Label: task.Label, Output: map[string]any{"device": device}}
	}
	return out
}
