// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package workflow

import "fmt"

// Kind names the five workflows compiled onto the engine.
type Kind string

const (
	KindQueryDiagnostic   Kind = "QueryDiagnostic"
	KindDeviceExecution   Kind = "DeviceExecution"
	KindNetBoxManagement  Kind = "NetBoxManagement"
	KindDeepDive          Kind = "DeepDive"
	KindInspection        Kind = "Inspection"
)

// lastDecisionIs builds an edge predicate reading the reserved
// "__last_decision__" key nodeAfter/Resume leave behind.
func lastDecisionIs(want string) func(State) bool {
	return func(s State) bool {
		got, _ := s[keyLastDecision].(string)
		return got == want
	}
}

// lastDecisionIn matches any of the given decisions; "executed" is what
// an ungated (or auto-approved) call leaves behind.
func lastDecisionIn(wants ...string) func(State) bool {
	return func(s State) bool {
		got, _ := s[keyLastDecision].(string)
		for _, w := range wants {
			if got == w {
				return true
			}
		}
		return false
	}
}

func unconditional(from, to string) Edge { return Edge{From: from, To: to} }

// BuildQueryDiagnostic compiles the read-only query/diagnostic workflow:
// classify, then a macro (schema/telemetry) query, then a device query
// when one is needed, then synthesize. No interrupts — every tool it
// calls is read-only.
func BuildQueryDiagnostic(nodes QueryDiagnosticNodes) (*WorkflowDefinition, error) {
	return New(string(KindQueryDiagnostic), "classify", []Node{
		{Name: "classify", Func: nodes.Classify},
		{Name: "macro_query", Func: nodes.MacroQuery},
		{Name: "micro_query", Func: nodes.MicroQuery},
		{Name: "synthesize", Func: nodes.Synthesize},
	}, []Edge{
		unconditional("classify", "macro_query"),
		{From: "macro_query", To: "micro_query", Predicate: func(s State) bool {
			need, _ := s["needs_device_query"].(bool)
			return need
		}},
		{From: "macro_query", To: "synthesize", Predicate: func(s State) bool {
			need, _ := s["needs_device_query"].(bool)
			return !need
		}},
		unconditional("micro_query", "synthesize"),
	}, "synthesize")
}

// QueryDiagnosticNodes supplies the four node functions; handlers
// themselves are external collaborators (the LLM client, the tool
// registry) wired in by the dispatcher at startup.
type QueryDiagnosticNodes struct {
	Classify   NodeFunc
	MacroQuery NodeFunc
	MicroQuery NodeFunc
	Synthesize NodeFunc
}

// BuildDeviceExecution compiles the write-effecting configuration
// workflow: plan → approval interrupt → apply → verify → terminal.
// The interrupt itself is not a node — it is the engine's own gating
// behavior around the approval-requiring ToolCallRequest "apply" emits.
// Planning runs ungated; nothing touches the device until the apply
// call survives the gate.
func BuildDeviceExecution(nodes DeviceExecutionNodes) (*WorkflowDefinition, error) {
	return New(string(KindDeviceExecution), "plan", []Node{
		{Name: "plan", Func: nodes.Plan},
		{Name: "apply", Func: nodes.Apply, Interruptible: true},
		{Name: "verify", Func: nodes.Verify},
		{Name: "rejected", Func: nodes.Rejected},
	}, []Edge{
		unconditional("plan", "apply"),
		{From: "apply", To: "rejected", Predicate: lastDecisionIs("rejected")},
		{From: "apply", To: "verify", Predicate: lastDecisionIn("approved", "executed")},
	}, "verify", "rejected")
}

type DeviceExecutionNodes struct {
	Plan     NodeFunc
	Apply    NodeFunc
	Verify   NodeFunc
	Rejected NodeFunc
}

// BuildNetBoxManagement compiles the inventory-mutation workflow: diff
// intent vs. inventory → approval interrupt → apply → terminal.
func BuildNetBoxManagement(nodes NetBoxManagementNodes) (*WorkflowDefinition, error) {
	return New(string(KindNetBoxManagement), "diff", []Node{
		{Name: "diff", Func: nodes.Diff},
		{Name: "apply", Func: nodes.Apply, Interruptible: true},
		{Name: "confirm", Func: nodes.Confirm},
		{Name: "rejected", Func: nodes.Rejected},
	}, []Edge{
		unconditional("diff", "apply"),
		{From: "apply", To: "rejected", Predicate: lastDecisionIs("rejected")},
		{From: "apply", To: "confirm", Predicate: lastDecisionIn("approved", "executed")},
	}, "confirm", "rejected")
}

type NetBoxManagementNodes struct {
	Diff     NodeFunc
	Apply    NodeFunc
	Confirm  NodeFunc
	Rejected NodeFunc
}

// BuildDeepDive compiles the expert workflow: decompose a task list,
// then loop{ dispatch one wave of sub-tasks in parallel → record the
// wave's results }, synthesize, terminal. The two bounds are
// independent: each dispatch wave runs up to DEEPDIVE_MAX_FANOUT
// sub-tasks concurrently (the fanout layer's concern, driven by the
// dispatch node's tool call), while maxDepth (DEEPDIVE_MAX_DEPTH,
// default 3) caps how many waves the loop may take — exceeding it fails
// with IterationLimitExceeded.
func BuildDeepDive(nodes DeepDiveNodes, maxDepth int) (*WorkflowDefinition, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	moreTasks := func(s State) bool {
		next, _ := s["next_task_index"].(float64)
		total, _ := s["task_total"].(float64)
		return next < total
	}
	return New(string(KindDeepDive), "decompose", []Node{
		{Name: "decompose", Func: nodes.Decompose},
		{Name: "dispatch", Func: nodes.Dispatch, MaxVisits: maxDepth},
		{Name: "record_results", Func: nodes.RecordResults},
		{Name: "synthesize", Func: nodes.Synthesize},
	}, []Edge{
		unconditional("decompose", "dispatch"),
		unconditional("dispatch", "record_results"),
		{From: "record_results", To: "dispatch", Predicate: moreTasks},
		{From: "record_results", To: "synthesize", Predicate: func(s State) bool { return !moreTasks(s) }},
	}, "synthesize")
}

type DeepDiveNodes struct {
	Decompose     NodeFunc
	Dispatch      NodeFunc
	RecordResults NodeFunc
	Synthesize    NodeFunc
}

// BuildInspection compiles the batch inspection workflow: enumerate
// device scope → parallel per-device probe (pkg/fanout) → compare against
// expected criteria → render report → terminal.
func BuildInspection(nodes InspectionNodes) (*WorkflowDefinition, error) {
	return New(string(KindInspection), "enumerate", []Node{
		{Name: "enumerate", Func: nodes.Enumerate},
		{Name: "probe", Func: nodes.Probe},
		{Name: "compare", Func: nodes.Compare},
		{Name: "render_report", Func: nodes.RenderReport},
	}, []Edge{
		unconditional("enumerate", "probe"),
		unconditional("probe", "compare"),
		unconditional("compare", "render_report"),
	}, "render_report")
}

type InspectionNodes struct {
	Enumerate    NodeFunc
	Probe        NodeFunc
	Compare      NodeFunc
	RenderReport NodeFunc
}

// ByKind checks a workflow kind string and returns it as a Kind; the
// dispatcher uses it to validate a request's workflow hint. It does not build the
// definition — concrete node functions are only available once the tool
// registry and fan-out layer exist, so assembly happens at server
// startup (see cmd/olav).
func ByKind(kind string) (Kind, error) {
	switch Kind(kind) {
	case KindQueryDiagnostic, KindDeviceExecution, KindNetBoxManagement, KindDeepDive, KindInspection:
		return Kind(kind), nil
	default:
		return "", fmt.Errorf("unknown workflow kind %q", kind)
	}
}
