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

// Package fanout runs one Tool invocation per device across a resolved
// device scope, bounded by a concurrency limit, and aggregates per-device
// outcomes without aborting the batch on partial failure.
package fanout

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/ratelimit"
	"github.com/olav-network/olav/pkg/tool"
)

// Outcome classifies a single device's result.
type Outcome string

const (
	OutcomeOK                 Outcome = "ok"
	OutcomeError               Outcome = "error"
	OutcomeTimeout             Outcome = "timeout"
	OutcomeSkippedUnreachable Outcome = "skipped_unreachable"
	OutcomeRejected           Outcome = "rejected"
)

// DeviceResult is one device's aggregated outcome.
type DeviceResult struct {
	Device  string
	Outcome Outcome
	Output  map[string]any
	Summary string
	Err     error
}

// Request describes one fan-out batch: a device scope, a tool to invoke
// per device, and a template of arguments merged with {"device": name}
// for each call.
type Request struct {
	Scope       string
	ToolName    string
	Args        map[string]any
	Concurrency int           // defaults to DefaultConcurrency
	PerDevice   time.Duration // defaults to DefaultDeviceTimeout
}

// DefaultConcurrency is FAN_OUT_MAX_CONCURRENCY's default.
const DefaultConcurrency = 10

// DefaultDeviceTimeout is DEVICE_TIMEOUT_SECONDS' default.
const DefaultDeviceTimeout = 30 * time.Second

// Runner executes fan-out batches against an inventory and a tool
// catalogue.
type Runner struct {
	inventory inventory.Provider
	tools     *tool.Registry

	limiter      ratelimit.Limiter
	limiterScope ratelimit.Scope
}

func NewRunner(inv inventory.Provider, tools *tool.Registry) *Runner {
	return &Runner{inventory: inv, tools: tools}
}

// WithLimiter attaches a device-operation budget: every batch is
// charged one operation per resolved device before any device is
// touched, keyed to the caller's client_id (or role, per scope).
func (r *Runner) WithLimiter(l ratelimit.Limiter, scope ratelimit.Scope) *Runner {
	r.limiter = l
	r.limiterScope = scope
	return r
}

// admit charges the batch against the device-operation budget.
func (r *Runner) admit(ctx context.Context, clientID, role string, devices int) error {
	if r.limiter == nil {
		return nil
	}
	identity := clientID
	if r.limiterScope == ratelimit.ScopeRole {
		identity = role
	}
	decision, err := r.limiter.Allow(ctx, r.limiterScope, identity, 0, int64(devices))
	if err != nil {
		// A broken budget store must not block operations.
		return nil
	}
	if !decision.Allowed {
		return olaverr.New(olaverr.Transient, "device operation budget exhausted: %s", decision.Reason)
	}
	return nil
}

// Run resolves req.Scope and invokes req.ToolName against every resolved
// device, honoring req.Concurrency and req.PerDevice. It never returns a
// partial-batch error: per-device failures are captured as DeviceResult
// entries. The errors Run itself returns are BadArguments for an empty
// resolved set, InternalError for a scope-resolution failure, and
// Transient when the device-operation budget refuses the batch.
//
// Run never invokes a write tool directly — callers gate writes at the
// batch level before calling Run, or call RunRejected to record a
// uniform rejected outcome without touching any device.
func (r *Runner) Run(ctx context.Context, clientID, role, threadID string, req Request) (map[string]DeviceResult, error) {
	devices, err := inventory.Resolve(ctx, r.inventory, req.Scope)
	if err != nil {
		return nil, olaverr.Wrap(olaverr.InternalError, err)
	}
	if len(devices) == 0 {
		return nil, olaverr.New(olaverr.BadArguments, "scope %q resolved to zero devices", req.Scope)
	}
	if err := r.admit(ctx, clientID, role, len(devices)); err != nil {
		return nil, err
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	perDevice := req.PerDevice
	if perDevice <= 0 {
		perDevice = DefaultDeviceTimeout
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	var mu sync.Mutex
	results := make(map[string]DeviceResult, len(devices))

	hook := completionHook(ctx)
	total := len(devices)

	for _, d := range devices {
		dev := d
		group.Go(func() error {
			res := r.invokeOne(groupCtx, clientID, role, threadID, dev.Name, req, perDevice)
			mu.Lock()
			results[dev.Name] = res
			completed := len(results)
			mu.Unlock()
			if hook != nil {
				hook(completed, total)
			}
			return nil
		})
	}
	_ = group.Wait()

	return results, nil
}

type completionHookKey struct{}

// WithCompletionHook returns a context whose fan-out batches report
// per-device completion counts through fn. The job layer uses this to
// publish inspection progress as devices finish.
func WithCompletionHook(ctx context.Context, fn func(completed, total int)) context.Context {
	return context.WithValue(ctx, completionHookKey{}, fn)
}

func completionHook(ctx context.Context) func(completed, total int) {
	fn, _ := ctx.Value(completionHookKey{}).(func(completed, total int))
	return fn
}

// Task is one unit of a parallel sub-task dispatch: a label for the
// result plus the arguments for the per-task tool invocation.
type Task struct {
	Label string
	Args  map[string]any
}

// TaskResult is one sub-task's outcome, index-aligned with the input.
type TaskResult struct {
	Label   string
	Output  map[string]any
	Summary string
	Err     error
}

// RunTasks invokes toolName once per task, up to concurrency at a time.
// Unlike Run, the unit of work is an arbitrary sub-task rather than a
// device, and results come back index-aligned with the input so callers
// keep deterministic ordering. Per-task failures are captured in the
// result, never aborting the batch.
func (r *Runner) RunTasks(ctx context.Context, clientID, role, threadID, toolName string, tasks []Task, concurrency int) []TaskResult {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	results := make([]TaskResult, len(tasks))
	for i, task := range tasks {
		i, task := i, task
		group.Go(func() error {
			callID := threadID + ":task:" + task.Label
			result, err := r.tools.Invoke(tool.Context{Context: groupCtx, ClientID: clientID, Role: role, ThreadID: threadID, CallID: callID}, toolName, task.Args)
			if err != nil {
				results[i] = TaskResult{Label: task.Label, Err: err}
				return nil
			}
			results[i] = TaskResult{Label: task.Label, Output: result.Output, Summary: result.Summary}
			return nil
		})
	}
	_ = group.Wait()

	return results
}

// RunRejected resolves the scope and records OutcomeRejected for every
// device without invoking the tool, for a batch whose approval gate was
// refused: every device records rejected and nothing is touched.
func (r *Runner) RunRejected(ctx context.Context, scope string) (map[string]DeviceResult, error) {
	devices, err := inventory.Resolve(ctx, r.inventory, scope)
	if err != nil {
		return nil, olaverr.Wrap(olaverr.InternalError, err)
	}
	if len(devices) == 0 {
		return nil, olaverr.New(olaverr.BadArguments, "scope %q resolved to zero devices", scope)
	}
	results := make(map[string]DeviceResult, len(devices))
	for _, d := range devices {
		results[d.Name] = DeviceResult{Device: d.Name, Outcome: OutcomeRejected}
	}
	return results, nil
}

func (r *Runner) invokeOne(ctx context.Context, clientID, role, threadID, device string, req Request, timeout time.Duration) DeviceResult {
	args := make(map[string]any, len(req.Args)+1)
	for k, v := range req.Args {
		args[k] = v
	}
	args["device"] = device

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callID := device + ":" + req.ToolName
	result, err := r.tools.Invoke(tool.Context{Context: dctx, ClientID: clientID, Role: role, ThreadID: threadID, CallID: callID}, req.ToolName, args)
	if err == nil {
		return DeviceResult{Device: device, Outcome: OutcomeOK, Output: result.Output, Summary: result.Summary}
	}

	switch olaverr.KindOf(err) {
	case olaverr.Timeout:
		return DeviceResult{Device: device, Outcome: OutcomeTimeout, Err: err}
	case olaverr.Unreachable:
		return DeviceResult{Device: device, Outcome: OutcomeSkippedUnreachable, Err: err}
	default:
		return DeviceResult{Device: device, Outcome: OutcomeError, Err: err}
	}
}
