// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package workflow

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olav-network/olav/pkg/checkpoint"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/session"
	"github.com/olav-network/olav/pkg/tool"
)

// Registry looks up a WorkflowDefinition by name. The dispatcher is the
// only caller that needs this; kept here (rather than in pkg/registry's
// generic BaseRegistry) because workflows are looked up by Kind, a
// domain concept this package owns.
type Registry struct {
	defs map[string]*WorkflowDefinition
	mu   sync.RWMutex
}

func NewRegistry() *Registry { return &Registry{defs: make(map[string]*WorkflowDefinition)} }

func (r *Registry) Register(def *WorkflowDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

func (r *Registry) Get(name string) (*WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Engine drives WorkflowDefinitions against durable Threads,
// checkpointing after every node boundary and pausing at write-effecting
// tool calls.
type Engine struct {
	tools       Catalogue
	threads     session.Store
	checkpoints *checkpoint.Manager

	cancelMu sync.Mutex
	cancel   map[string]bool
}

func NewEngine(tools Catalogue, threads session.Store, checkpoints *checkpoint.Manager) *Engine {
	return &Engine{tools: tools, threads: threads, checkpoints: checkpoints, cancel: make(map[string]bool)}
}

// Cancel requests cooperative cancellation of a thread's execution. It is
// inspected at the next node boundary.
func (e *Engine) Cancel(threadID string) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	e.cancel[threadID] = true
}

func (e *Engine) cancelled(threadID string) bool {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	return e.cancel[threadID]
}

func (e *Engine) clearCancel(threadID string) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	delete(e.cancel, threadID)
}

// RunStatus is the outcome of one Run/Resume call.
type RunStatus string

const (
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
	RunFailed      RunStatus = "failed"
	RunCancelled   RunStatus = "cancelled"
)

// Result is returned from Run/Resume; the streaming layer translates it
// into terminal events, having already observed the per-step lifecycle
// through the Observer callbacks.
type Result struct {
	Status           RunStatus
	InterruptRequest *session.InterruptRequest
	Err              error
	// FinalState is the workflow state at the run's end; populated on
	// completion so callers (the job layer) can read terminal outputs
	// without re-reading the checkpoint store.
	FinalState State
}

// Observer receives lifecycle callbacks as the engine steps through
// nodes, letting the streaming layer emit tool lifecycle events without
// the engine depending on the wire format.
type Observer interface {
	NodeStarted(node string)
	ToolStarted(callID, toolName string, args map[string]any)
	ToolEnded(callID string, success bool, duration time.Duration, summary string)
}

// NoopObserver discards every callback; used by callers (jobs, tests)
// that don't stream events.
type NoopObserver struct{}

func (NoopObserver) NodeStarted(string)                                         {}
func (NoopObserver) ToolStarted(string, string, map[string]any)                  {}
func (NoopObserver) ToolEnded(string, bool, time.Duration, string)               {}

// autoApprove reports whether role's write calls skip the HITL gate;
// only admin auto-approves.
func autoApprove(role string) bool { return role == "admin" }

// Run starts def from its Start node for a freshly created thread. The
// initial state carries the thread's latest user message so nodes can
// read the request without reaching back into the thread store.
func (e *Engine) Run(ctx context.Context, def *WorkflowDefinition, th *session.Thread, role string, obs Observer) Result {
	return e.RunWithState(ctx, def, th, role, obs, nil)
}

// RunWithState starts def with extra seed state merged over the
// defaults; used by callers (the job layer) that parameterize a run
// beyond the user message.
func (e *Engine) RunWithState(ctx context.Context, def *WorkflowDefinition, th *session.Thread, role string, obs Observer, seed State) Result {
	state := State{KeyMessages: []any{}, KeyToolCalls: []any{}, KeyIterationCount: 0.0}
	for i := len(th.Messages) - 1; i >= 0; i-- {
		if th.Messages[i].Role == session.RoleUser {
			state[KeyUserMessage] = th.Messages[i].Content
			break
		}
	}
	state.Merge(seed)

	// A thread that already ran (an earlier turn, or a completed
	// interrupt cycle) continues its checkpoint version sequence.
	latest, err := e.checkpoints.LatestVersion(ctx, th.ThreadID)
	if err != nil {
		th.Status = session.StatusFailed
		return Result{Status: RunFailed, Err: err}
	}
	return e.step(ctx, def, th, role, obs, def.Start, state, latest+1)
}

// Resume continues a thread paused at decision.CallID.
func (e *Engine) Resume(ctx context.Context, def *WorkflowDefinition, th *session.Thread, role string, decision session.ResumeDecision, obs Observer) Result {
	if th.Status != session.StatusInterrupted || th.PendingInterrupt == nil {
		return Result{Status: RunFailed, Err: olaverr.New(olaverr.Conflict, "thread %s is not interrupted", th.ThreadID)}
	}
	if th.PendingInterrupt.CallID != decision.CallID {
		return Result{Status: RunFailed, Err: olaverr.New(olaverr.Conflict, "decision call_id %s does not match pending interrupt %s", decision.CallID, th.PendingInterrupt.CallID)}
	}
	if !th.PendingInterrupt.Allows(decision.Decision) {
		return Result{Status: RunFailed, Err: olaverr.New(olaverr.BadArguments, "decision %s is not allowed for call %s", decision.Decision, decision.CallID)}
	}

	cp, err := e.checkpoints.Resume(ctx, th.ThreadID)
	if err != nil {
		return Result{Status: RunFailed, Err: err}
	}
	node, state, pending, err := checkpoint.Decode(cp.StateBlob)
	if err != nil {
		return Result{Status: RunFailed, Err: err}
	}
	if len(pending) == 0 {
		return Result{Status: RunFailed, Err: olaverr.New(olaverr.Conflict, "checkpoint for thread %s has no pending tool call", th.ThreadID)}
	}
	call := pending[0]

	th.ClearInterrupt()

	var toolState State
	switch decision.Decision {
	case session.DecisionReject:
		toolState = State{keyLastDecision: "rejected"}
	case session.DecisionApprove, session.DecisionEdit:
		args := call.Arguments
		if decision.Decision == session.DecisionEdit {
			args = decision.EditedArguments
		}
		start := time.Now()
		obs.ToolStarted(call.CallID, call.ToolName, args)
		result, invokeErr := e.tools.Invoke(tool.Context{Context: ctx, ClientID: th.OwnerClientID, Role: role, ThreadID: th.ThreadID, CallID: call.CallID}, call.ToolName, args)
		if invokeErr != nil {
			obs.ToolEnded(call.CallID, false, time.Since(start), invokeErr.Error())
			th.Status = session.StatusFailed
			_ = e.threads.Save(ctx, *th)
			return Result{Status: RunFailed, Err: invokeErr}
		}
		obs.ToolEnded(call.CallID, true, time.Since(start), result.Summary)
		toolState = State{keyLastDecision: "approved", keyLastResult: result.Output}
	}
	state = mergeRaw(state, toolState)

	nextVersion := cp.Version + 1
	return e.step(ctx, def, th, role, obs, nodeAfter(def, node, State(state)), State(state), nextVersion)
}

// nodeAfter resolves the edge out of the node that emitted a tool call,
// now that the call's outcome is reflected in state.
func nodeAfter(def *WorkflowDefinition, from string, state State) string {
	if next, ok := def.next(from, state); ok {
		return next
	}
	return from
}

func mergeRaw(base map[string]any, delta State) State {
	out := State(base)
	if out == nil {
		out = State{}
	}
	out.Merge(delta)
	return out
}

// step runs def starting at `current` until it hits a terminal node, an
// interrupt, cancellation, an iteration-limit violation, or an error.
func (e *Engine) step(ctx context.Context, def *WorkflowDefinition, th *session.Thread, role string, obs Observer, current string, state State, version int64) Result {
	finish := func(res Result) Result {
		_ = e.threads.Save(ctx, *th)
		return res
	}

	for {
		if e.cancelled(th.ThreadID) || ctx.Err() != nil {
			e.clearCancel(th.ThreadID)
			th.Status = session.StatusCancelled
			return finish(Result{Status: RunCancelled})
		}

		node, ok := def.Nodes[current]
		if !ok {
			th.Status = session.StatusFailed
			return finish(Result{Status: RunFailed, Err: olaverr.New(olaverr.InternalError, "workflow %s: node %q not found", def.Name, current)})
		}

		if exceeded, err := recordVisit(state, node); exceeded {
			th.Status = session.StatusFailed
			return finish(Result{Status: RunFailed, Err: err})
		}

		obs.NodeStarted(current)
		delta, call, err := node.Func(ctx, state.Clone())
		if err != nil {
			th.Status = session.StatusFailed
			return finish(Result{Status: RunFailed, Err: olaverr.Wrap(olaverr.InternalError, err)})
		}
		state.Merge(delta)

		if call != nil {
			t, known := def.toolLookup(e.tools, call.ToolName)
			needsApproval := known && t.RequiresApproval && !autoApprove(role)
			callID := newCallID(th.ThreadID, version)

			if needsApproval {
				req := session.InterruptRequest{
					ThreadID:  th.ThreadID,
					CallID:    callID,
					Message:   call.Message,
					RiskLevel: session.RiskLevel(pick(call.RiskLevel, string(session.RiskMedium))),
					ExecutionPlan: session.ExecutionPlan{
						Device:           call.Device,
						Operation:        call.Operation,
						ProposedCommands: call.Commands,
					},
					AllowedDecisions: decisionsOrDefault(call.AllowedDecisions),
				}
				th.SetInterrupt(req)

				blob, encErr := checkpoint.Encode(current, state, []checkpoint.PendingToolCall{{CallID: callID, ToolName: call.ToolName, Arguments: call.Args}})
				if encErr != nil {
					return finish(Result{Status: RunFailed, Err: olaverr.Wrap(olaverr.InternalError, encErr)})
				}
				if err := e.checkpoints.Write(ctx, *th, checkpoint.Checkpoint{ThreadID: th.ThreadID, Version: version, CurrentNode: current, StateBlob: blob}); err != nil {
					return finish(Result{Status: RunFailed, Err: err})
				}
				return Result{Status: RunInterrupted, InterruptRequest: &req}
			}

			start := time.Now()
			obs.ToolStarted(callID, call.ToolName, call.Args)
			result, invokeErr := e.tools.Invoke(tool.Context{Context: ctx, ClientID: th.OwnerClientID, Role: role, ThreadID: th.ThreadID, CallID: callID}, call.ToolName, call.Args)
			if invokeErr != nil {
				obs.ToolEnded(callID, false, time.Since(start), invokeErr.Error())
				th.Status = session.StatusFailed
				return finish(Result{Status: RunFailed, Err: invokeErr})
			}
			obs.ToolEnded(callID, true, time.Since(start), result.Summary)
			state.Merge(State{keyLastDecision: "executed", keyLastResult: result.Output})
		}

		next, ok := def.next(current, state)
		if !ok {
			if def.Terminal[current] {
				th.Status = session.StatusCompleted
				return finish(Result{Status: RunCompleted, FinalState: state})
			}
			th.Status = session.StatusFailed
			return finish(Result{Status: RunFailed, Err: olaverr.New(olaverr.InternalError, "workflow %s: no outgoing edge from %q matched", def.Name, current)})
		}

		blob, err := checkpoint.Encode(next, state, nil)
		if err != nil {
			th.Status = session.StatusFailed
			return finish(Result{Status: RunFailed, Err: olaverr.Wrap(olaverr.InternalError, err)})
		}
		if err := e.checkpoints.Write(ctx, *th, checkpoint.Checkpoint{ThreadID: th.ThreadID, Version: version, CurrentNode: next, StateBlob: blob}); err != nil {
			th.Status = session.StatusFailed
			return finish(Result{Status: RunFailed, Err: err})
		}
		version++
		current = next
	}
}

func (d *WorkflowDefinition) toolLookup(cat Catalogue, name string) (tool.Tool, bool) {
	return cat.Get(name)
}

func recordVisit(state State, node Node) (bool, error) {
	visits, _ := state[keyVisits].(map[string]any)
	if visits == nil {
		visits = map[string]any{}
	}
	count, _ := visits[node.Name].(float64)
	count++
	visits[node.Name] = count
	state[keyVisits] = visits

	if node.MaxVisits > 0 && int(count) > node.MaxVisits {
		return true, olaverr.New(olaverr.IterationLimitExceeded, "node %q exceeded its iteration bound of %d", node.Name, node.MaxVisits)
	}
	return false, nil
}

func pick(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func decisionsOrDefault(ds []string) []session.Decision {
	if len(ds) == 0 {
		return []session.Decision{session.DecisionApprove, session.DecisionReject}
	}
	out := make([]session.Decision, len(ds))
	for i, d := range ds {
		out[i] = session.Decision(d)
	}
	return out
}

func newCallID(threadID string, version int64) string {
	return threadID + "-call-" + strconv.FormatInt(version, 10) + "-" + uuid.NewString()[:8]
}
