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

// Package dispatcher turns an authenticated user request into a running
// workflow: it resolves or creates the conversation thread, classifies
// the request onto a workflow kind (unless hinted), enforces role
// permissions for that kind, and drives the engine while relaying its
// lifecycle onto the event stream.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/olav-network/olav/pkg/auth"
	"github.com/olav-network/olav/pkg/observability"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/rag"
	"github.com/olav-network/olav/pkg/session"
	"github.com/olav-network/olav/pkg/stream"
	"github.com/olav-network/olav/pkg/tool"
	"github.com/olav-network/olav/pkg/toolset"
	"github.com/olav-network/olav/pkg/workflow"
)

// Config holds the routing knobs.
type Config struct {
	// GuardMode rejects non-network requests with a polite refusal.
	GuardMode bool

	// ConfidenceFloor is the minimum classifier confidence for routing
	// to a write-capable workflow; below it the request falls through to
	// the quick query path.
	ConfidenceFloor float64
}

// Dispatcher routes requests onto workflows.
type Dispatcher struct {
	threads   session.Store
	engine    *workflow.Engine
	workflows *workflow.Registry
	tools     *tool.Registry
	broker    *stream.Broker
	knowledge *rag.Searcher
	cfg       Config
	logger    *slog.Logger

	activeMu sync.Mutex
	active   map[string]bool

	recorder observability.Recorder
}

// SetRecorder attaches a metrics recorder; workflow runs and tool calls
// are then recorded alongside the stream events.
func (d *Dispatcher) SetRecorder(r observability.Recorder) {
	d.recorder = r
}

// New builds a Dispatcher.
func New(threads session.Store, engine *workflow.Engine, workflows *workflow.Registry, tools *tool.Registry, broker *stream.Broker, knowledge *rag.Searcher, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.ConfidenceFloor == 0 {
		cfg.ConfidenceFloor = 0.6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		threads:   threads,
		engine:    engine,
		workflows: workflows,
		tools:     tools,
		broker:    broker,
		knowledge: knowledge,
		cfg:       cfg,
		logger:    logger,
		active:    make(map[string]bool),
	}
}

// Active reports whether a run is currently executing for threadID, so
// a reconnecting client can attach to the in-flight stream instead of
// starting a second run.
func (d *Dispatcher) Active(threadID string) bool {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	return d.active[threadID]
}

func (d *Dispatcher) setActive(threadID string, on bool) {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	if on {
		d.active[threadID] = true
	} else {
		delete(d.active, threadID)
	}
}

// Request is one inbound user turn.
type Request struct {
	ThreadID     string `json:"thread_id,omitempty"`
	Message      string `json:"message"`
	WorkflowHint string `json:"workflow_hint,omitempty"`
}

// Routed is the synchronous outcome of Prepare: everything the caller
// needs before the first event is streamed.
type Routed struct {
	Thread  session.Thread
	Kind    workflow.Kind
	Refused bool
}

// intentToKind maps classifier intents onto workflow kinds.
func intentToKind(intent string) (workflow.Kind, bool) {
	switch intent {
	case toolset.IntentQuickQuery:
		return workflow.KindQueryDiagnostic, true
	case toolset.IntentDeviceInspection:
		return workflow.KindInspection, true
	case toolset.IntentDeepAnalysis:
		return workflow.KindDeepDive, true
	case toolset.IntentConfiguration:
		return workflow.KindDeviceExecution, true
	case toolset.IntentNetBox:
		return workflow.KindNetBoxManagement, true
	default:
		return "", false
	}
}

// capabilityFor maps a workflow kind onto the capability its execution
// requires.
func capabilityFor(kind workflow.Kind) auth.Capability {
	switch kind {
	case workflow.KindDeviceExecution, workflow.KindNetBoxManagement:
		return auth.CapabilityWriteWorkflow
	case workflow.KindDeepDive:
		return auth.CapabilityExpertWorkflow
	default:
		return auth.CapabilityReadWorkflow
	}
}

// writeCapable reports whether a kind mutates devices or inventory.
func writeCapable(kind workflow.Kind) bool {
	return capabilityFor(kind) == auth.CapabilityWriteWorkflow
}

// Prepare validates permissions, resolves the thread, and selects the
// workflow kind. It runs before any event is streamed so a denied
// request fails the HTTP call itself and creates no thread.
func (d *Dispatcher) Prepare(ctx context.Context, sess auth.Session, req Request) (Routed, error) {
	if req.Message == "" {
		return Routed{}, olaverr.New(olaverr.BadArguments, "message is required")
	}

	// A hinted workflow is permission-checked immediately; an unhinted
	// one is checked after classification below.
	var kind workflow.Kind
	if req.WorkflowHint != "" {
		k, err := workflow.ByKind(req.WorkflowHint)
		if err != nil {
			return Routed{}, olaverr.New(olaverr.BadArguments, "unknown workflow hint %q", req.WorkflowHint)
		}
		if err := auth.Require(sess.Role, capabilityFor(k)); err != nil {
			return Routed{}, err
		}
		kind = k
	} else {
		k, refused, err := d.classify(ctx, sess, req.Message)
		if err != nil {
			return Routed{}, err
		}
		if refused {
			return Routed{Refused: true}, nil
		}
		if err := auth.Require(sess.Role, capabilityFor(k)); err != nil {
			return Routed{}, err
		}
		kind = k
	}

	th, err := d.resolveThread(ctx, sess, req.ThreadID, kind)
	if err != nil {
		return Routed{}, err
	}
	return Routed{Thread: th, Kind: kind}, nil
}

// classify runs the intent classifier tool and applies the routing
// policy: guard mode for non-network requests, the confidence floor for
// write-capable workflows, and fall-through to the quick query path when
// the classifier is unsure — read before write.
func (d *Dispatcher) classify(ctx context.Context, sess auth.Session, message string) (workflow.Kind, bool, error) {
	res, err := d.tools.Invoke(tool.Context{Context: ctx, ClientID: sess.ClientID, Role: string(sess.Role)},
		"classify_intent", map[string]any{"text": message})
	if err != nil {
		// An unreachable classifier must not take the platform down;
		// the quick query path answers anything read-only.
		d.logger.Warn("intent classification failed, falling back to quick query", "error", err)
		return workflow.KindQueryDiagnostic, false, nil
	}

	intent, _ := res.Output["intent"].(string)
	confidence, _ := res.Output["confidence"].(float64)

	if intent == toolset.IntentNonNetwork {
		if d.cfg.GuardMode {
			return "", true, nil
		}
		return workflow.KindQueryDiagnostic, false, nil
	}

	kind, ok := intentToKind(intent)
	if !ok {
		d.logger.Warn("classifier produced unknown intent", "intent", intent)
		return workflow.KindQueryDiagnostic, false, nil
	}
	if writeCapable(kind) && confidence < d.cfg.ConfidenceFloor {
		d.logger.Info("confidence below floor for write workflow, using quick query",
			"intent", intent, "confidence", confidence, "floor", d.cfg.ConfidenceFloor)
		return workflow.KindQueryDiagnostic, false, nil
	}
	return kind, false, nil
}

// resolveThread loads an existing thread (enforcing ownership) or
// allocates a new one.
func (d *Dispatcher) resolveThread(ctx context.Context, sess auth.Session, threadID string, kind workflow.Kind) (session.Thread, error) {
	if threadID != "" {
		th, found, err := d.threads.Get(ctx, threadID)
		if err != nil {
			return session.Thread{}, olaverr.Wrap(olaverr.InternalError, err)
		}
		if !found {
			return session.Thread{}, olaverr.New(olaverr.NotFound, "thread %s not found", threadID)
		}
		if err := session.OwnedBy(th, sess.ClientID, sess.Role == auth.RoleAdmin); err != nil {
			return session.Thread{}, err
		}
		return th, nil
	}

	now := time.Now()
	th := session.Thread{
		ThreadID:      session.NewThreadID(sess.ClientID),
		OwnerClientID: sess.ClientID,
		WorkflowKind:  string(kind),
		Status:        session.StatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.threads.Create(ctx, th); err != nil {
		return session.Thread{}, olaverr.Wrap(olaverr.InternalError, err)
	}
	return th, nil
}

// Refuse emits the polite guard-mode refusal onto threadless stream id
// and closes it.
func (d *Dispatcher) Refuse(streamID string) {
	d.broker.Publish(streamID, stream.Token("This assistant handles network operations requests only."))
	d.broker.Publish(streamID, stream.Done(stream.StatusCompleted))
}

// Execute drives the routed workflow to its next stopping point,
// publishing events as it goes. It blocks until the run completes,
// interrupts, fails, or is cancelled; the caller typically runs it in
// the goroutine serving the streaming response.
func (d *Dispatcher) Execute(ctx context.Context, sess auth.Session, routed Routed, message string) {
	th := routed.Thread
	d.setActive(th.ThreadID, true)
	defer d.setActive(th.ThreadID, false)
	def, ok := d.workflows.Get(string(routed.Kind))
	if !ok {
		d.publishError(th.ThreadID, olaverr.New(olaverr.InternalError, "workflow %s is not registered", routed.Kind))
		return
	}

	th.AppendMessage(session.Message{Role: session.RoleUser, Content: message})
	th.Status = session.StatusRunning
	if err := d.threads.Save(ctx, th); err != nil {
		d.publishError(th.ThreadID, olaverr.Wrap(olaverr.InternalError, err))
		return
	}

	d.broker.Publish(th.ThreadID, stream.Thinking(stream.StepHypothesis,
		fmt.Sprintf("routing %q through the %s workflow", message, routed.Kind)))

	start := time.Now()
	obs := &streamObserver{broker: d.broker, threadID: th.ThreadID, tools: d.tools, recorder: d.recorder}
	result := d.engine.Run(ctx, def, &th, string(sess.Role), obs)
	if d.recorder != nil {
		d.recorder.RecordWorkflowRun(string(routed.Kind), string(result.Status), time.Since(start))
	}
	d.finish(ctx, sess, th, routed.Kind, message, result)
}

// Resume continues an interrupted thread with a human decision. The
// engine enforces the interrupt/decision matching; the dispatcher
// enforces ownership and republishes the stream.
func (d *Dispatcher) Resume(ctx context.Context, sess auth.Session, decision session.ResumeDecision) error {
	th, found, err := d.threads.Get(ctx, decision.ThreadID)
	if err != nil {
		return olaverr.Wrap(olaverr.InternalError, err)
	}
	if !found {
		return olaverr.New(olaverr.NotFound, "thread %s not found", decision.ThreadID)
	}
	if err := session.OwnedBy(th, sess.ClientID, sess.Role == auth.RoleAdmin); err != nil {
		return err
	}
	if th.Status != session.StatusInterrupted {
		return olaverr.New(olaverr.Conflict, "thread %s is not interrupted", th.ThreadID)
	}

	def, ok := d.workflows.Get(th.WorkflowKind)
	if !ok {
		return olaverr.New(olaverr.InternalError, "workflow %s is not registered", th.WorkflowKind)
	}

	go func() {
		d.setActive(th.ThreadID, true)
		defer d.setActive(th.ThreadID, false)
		obs := &streamObserver{broker: d.broker, threadID: th.ThreadID, tools: d.tools, recorder: d.recorder}
		result := d.engine.Resume(context.WithoutCancel(ctx), def, &th, string(sess.Role), decision, obs)
		d.finish(context.WithoutCancel(ctx), sess, th, workflow.Kind(th.WorkflowKind), "", result)
	}()
	return nil
}

// Cancel requests cooperative cancellation of a thread's current run.
func (d *Dispatcher) Cancel(threadID string) {
	d.engine.Cancel(threadID)
}

// finish translates the engine result into terminal stream events and
// persists the assistant turn.
func (d *Dispatcher) finish(ctx context.Context, sess auth.Session, th session.Thread, kind workflow.Kind, message string, result workflow.Result) {
	switch result.Status {
	case workflow.RunInterrupted:
		d.broker.Publish(th.ThreadID, stream.Interrupted(*result.InterruptRequest))
		d.broker.Publish(th.ThreadID, stream.Done(stream.StatusInterrupted))

	case workflow.RunCompleted:
		summary := fmt.Sprintf("%s workflow completed", kind)
		th.AppendMessage(session.Message{Role: session.RoleAssistant, Content: summary})
		_ = d.threads.Save(ctx, th)
		d.broker.Publish(th.ThreadID, stream.Token(summary))
		d.broker.Publish(th.ThreadID, stream.Done(stream.StatusCompleted))
		if message != "" && d.knowledge != nil {
			d.knowledge.RecordTrace(ctx, rag.Trace{
				Query:        message,
				WorkflowKind: string(kind),
				Summary:      summary,
			})
		}

	case workflow.RunCancelled:
		d.broker.Publish(th.ThreadID, stream.Done(stream.StatusCancelled))

	case workflow.RunFailed:
		d.publishError(th.ThreadID, result.Err)
	}
}

func (d *Dispatcher) publishError(threadID string, err error) {
	if err == nil {
		err = olaverr.New(olaverr.InternalError, "workflow failed")
	}
	if olaverr.KindOf(err) == olaverr.InternalError {
		d.logger.Error("workflow failed", "thread_id", threadID, "error", err)
	}
	d.broker.Publish(threadID, stream.Errored(err, false))
	d.broker.Publish(threadID, stream.Done(stream.StatusFailed))
}

// streamObserver relays engine callbacks onto the event stream and, when
// a recorder is attached, into the tool metrics.
type streamObserver struct {
	broker   *stream.Broker
	threadID string
	tools    *tool.Registry
	recorder observability.Recorder

	// callTools maps in-flight call ids to tool names so ToolEnded can
	// label metrics; the engine drives one observer sequentially, so no
	// locking is needed.
	callTools map[string]string
}

func (o *streamObserver) NodeStarted(node string) {
	o.broker.Publish(o.threadID, stream.Thinking(stream.StepReasoning, "entering "+node))
}

func (o *streamObserver) ToolStarted(callID, toolName string, args map[string]any) {
	display := toolName
	if t, ok := o.tools.Get(toolName); ok && t.DisplayName != "" {
		display = t.DisplayName
	}
	if o.callTools == nil {
		o.callTools = make(map[string]string)
	}
	o.callTools[callID] = toolName
	o.broker.Publish(o.threadID, stream.ToolStart(callID, toolName, display, args))
}

func (o *streamObserver) ToolEnded(callID string, success bool, duration time.Duration, summary string) {
	o.broker.Publish(o.threadID, stream.ToolEnd(callID, success, duration, summary))
	if o.recorder != nil {
		toolName := o.callTools[callID]
		delete(o.callTools, callID)
		o.recorder.RecordToolCall(toolName, duration)
		if !success {
			o.recorder.RecordToolError(toolName, "invocation")
		}
	}
}
