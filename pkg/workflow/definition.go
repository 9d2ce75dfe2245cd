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

// Package workflow implements the typed state graph engine: nodes that
// compute a state delta, edges that route between them (conditionally or
// unconditionally), and checkpointed interruption/resumption around
// write-effecting tool calls.
//
// A WorkflowDefinition is a value — data (nodes + edges), not a
// polymorphic hierarchy of interfaces — so a compiled graph can be
// validated, inspected, and resumed without type
// assertions.
package workflow

import (
	"context"
	"fmt"

	"github.com/olav-network/olav/pkg/tool"
)

// State is the typed-by-convention key/value map each node reads and
// contributes a delta to.
type State map[string]any

// Clone returns a shallow copy, so a node can freely mutate its own view
// without affecting the engine's authoritative copy before the delta is
// merged back.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge overlays delta onto s, overwriting keys already present.
func (s State) Merge(delta State) {
	for k, v := range delta {
		s[k] = v
	}
}

// Reserved state keys every workflow's state carries.
const (
	KeyMessages       = "messages"
	KeyToolCalls      = "tool_calls"
	KeyIterationCount = "iteration_count"
	KeyUserMessage    = "user_message"
	KeyProgress       = "progress" // inspection workflows only
	keyVisits         = "__node_visits__"
	keyLastDecision   = "__last_decision__"
	keyLastResult     = "__last_tool_result__"
)

// LastToolResult returns the output of the most recent tool call, or nil
// if no tool has run yet.
func LastToolResult(s State) map[string]any {
	out, _ := s[keyLastResult].(map[string]any)
	return out
}

// LastDecision returns how the most recent gated call was resolved:
// "approved", "rejected", or "executed" (ran without a gate). Empty
// before any tool call.
func LastDecision(s State) string {
	d, _ := s[keyLastDecision].(string)
	return d
}

// ToolCallRequest is what a node asks the engine to invoke on its behalf.
// The node never calls the tool registry directly — the engine invokes
// each request through the registry so gating applies uniformly.
type ToolCallRequest struct {
	ToolName string
	Args     map[string]any

	// Message/RiskLevel/ExecutionPlan are used to build the
	// InterruptRequest shown to a human if this call requires approval.
	Message       string
	RiskLevel     string // session.RiskLevel, kept as a string to avoid an import cycle
	Device        string
	Operation     string
	Commands      []string
	AllowedDecisions []string
}

// NodeFunc computes a node's contribution. It returns a state delta and,
// optionally, a single tool call for the engine to invoke. Returning a
// non-nil call with a nil error tells the engine "invoke this, then route
// from my edges using the post-invocation state."
type NodeFunc func(ctx context.Context, state State) (delta State, call *ToolCallRequest, err error)

// Node is one vertex of a WorkflowDefinition.
type Node struct {
	Name          string
	Func          NodeFunc
	Interruptible bool
	// MaxVisits bounds how many times this node may execute within a
	// single thread's lifetime; cycles are only legal through nodes that
	// carry a bound. Zero means unbounded (only valid for nodes that
	// cannot be revisited by any edge).
	MaxVisits int
}

// Edge connects two nodes, optionally guarded by a pure predicate over
// state; a nil Predicate is unconditional.
type Edge struct {
	From      string
	To        string
	Predicate func(State) bool
}

// WorkflowDefinition is a compiled state graph.
type WorkflowDefinition struct {
	Name        string
	Nodes       map[string]Node
	Edges       []Edge
	Start       string
	Terminal    map[string]bool
}

// New builds a WorkflowDefinition, validating the graph invariants:
// connected, every node reachable from start, start node defined.
func New(name, start string, nodes []Node, edges []Edge, terminal ...string) (*WorkflowDefinition, error) {
	def := &WorkflowDefinition{
		Name:     name,
		Nodes:    make(map[string]Node, len(nodes)),
		Edges:    edges,
		Start:    start,
		Terminal: make(map[string]bool, len(terminal)),
	}
	for _, n := range nodes {
		if n.Func == nil {
			return nil, fmt.Errorf("workflow %s: node %s has no function", name, n.Name)
		}
		def.Nodes[n.Name] = n
	}
	for _, t := range terminal {
		def.Terminal[t] = true
	}
	if _, ok := def.Nodes[start]; !ok {
		return nil, fmt.Errorf("workflow %s: start node %q is not defined", name, start)
	}
	if err := def.validateConnected(); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", name, err)
	}
	return def, nil
}

func (d *WorkflowDefinition) validateConnected() error {
	reachable := map[string]bool{d.Start: true}
	queue := []string{d.Start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range d.Edges {
			if e.From == cur && !reachable[e.To] {
				reachable[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	for name := range d.Nodes {
		if !reachable[name] {
			return fmt.Errorf("node %q is not reachable from start %q", name, d.Start)
		}
	}
	return nil
}

// next evaluates outgoing edges from `from` in declaration order,
// returning the first whose predicate matches (or which is
// unconditional). Returns ok=false if no edge matches and `from` is not
// terminal — a graph-authoring bug the engine surfaces as InternalError.
func (d *WorkflowDefinition) next(from string, state State) (string, bool) {
	for _, e := range d.Edges {
		if e.From != from {
			continue
		}
		if e.Predicate == nil || e.Predicate(state) {
			return e.To, true
		}
	}
	return "", false
}

// Catalogue is the narrow interface the engine uses to invoke tools;
// satisfied by *tool.Registry.
type Catalogue interface {
	Get(name string) (tool.Tool, bool)
	Invoke(ctx tool.Context, name string, args map[string]any) (*tool.Result, error)
}
