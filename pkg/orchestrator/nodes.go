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

// Package orchestrator assembles the five workflow graphs onto the tool
// catalogue: it supplies the node functions the graph constructors in
// pkg/workflow expect, and the job runner that drives the inspection
// workflow for the background job layer. Node functions only read state
// and emit tool call requests — every side effect goes through the tool
// registry so the engine's approval gating applies uniformly.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/workflow"
)

// Deps carries what the node closures need. Everything here is
// read-only at run time.
type Deps struct {
	Inventory inventory.Provider

	// DeepDiveMaxDepth bounds how many dispatch waves one deep-dive
	// request may take.
	DeepDiveMaxDepth int

	// DeepDiveMaxFanout caps how many sub-tasks run in parallel within
	// one dispatch wave.
	DeepDiveMaxFanout int
}

// BuildAll compiles every workflow definition and registers it.
func BuildAll(reg *workflow.Registry, deps Deps) error {
	builders := []func() (*workflow.WorkflowDefinition, error){
		func() (*workflow.WorkflowDefinition, error) {
			return workflow.BuildQueryDiagnostic(queryDiagnosticNodes(deps))
		},
		func() (*workflow.WorkflowDefinition, error) {
			return workflow.BuildDeviceExecution(deviceExecutionNodes(deps))
		},
		func() (*workflow.WorkflowDefinition, error) {
			return workflow.BuildNetBoxManagement(netboxNodes(deps))
		},
		func() (*workflow.WorkflowDefinition, error) {
			return workflow.BuildDeepDive(deepDiveNodes(deps), deps.DeepDiveMaxDepth)
		},
		func() (*workflow.WorkflowDefinition, error) {
			return workflow.BuildInspection(inspectionNodes(deps))
		},
	}
	for _, build := range builders {
		def, err := build()
		if err != nil {
			return err
		}
		reg.Register(def)
	}
	return nil
}

func userMessage(s workflow.State) string {
	msg, _ := s[workflow.KeyUserMessage].(string)
	return msg
}

// detectDevice finds the first inventory device name mentioned in text.
func detectDevice(ctx context.Context, inv inventory.Provider, text string) string {
	devices, err := inv.ListDevices(ctx)
	if err != nil {
		return ""
	}
	for _, d := range devices {
		for _, word := range strings.Fields(text) {
			if strings.EqualFold(strings.Trim(word, ".,;:!?"), d.Name) {
				return d.Name
			}
		}
	}
	return ""
}

// queryDiagnosticNodes: classify → macro (schema lookup) → micro
// (device query when one is named) → synthesize.
func queryDiagnosticNodes(deps Deps) workflow.QueryDiagnosticNodes {
	return workflow.QueryDiagnosticNodes{
		Classify: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			return nil, &workflow.ToolCallRequest{
				ToolName: "classify_intent",
				Args:     map[string]any{"text": userMessage(s)},
			}, nil
		},
		MacroQuery: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			device := detectDevice(ctx, deps.Inventory, userMessage(s))
			delta := workflow.State{"needs_device_query": device != ""}
			if device != "" {
				delta["target_device"] = device
			}
			return delta, &workflow.ToolCallRequest{
				ToolName: "schema_search",
				Args:     map[string]any{"text": userMessage(s)},
			}, nil
		},
		MicroQuery: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			device, _ := s["target_device"].(string)
			return nil, &workflow.ToolCallRequest{
				ToolName: "smart_query",
				Args:     map[string]any{"text": userMessage(s), "device": device},
			}, nil
		},
		Synthesize: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			return workflow.State{"answer": workflow.LastToolResult(s)}, nil, nil
		},
	}
}

// deviceExecutionNodes: plan (ungated draft) → apply (gated write) →
// verify. The apply node turns the plan's output into the gated call
// and the human-facing execution plan.
func deviceExecutionNodes(deps Deps) workflow.DeviceExecutionNodes {
	return workflow.DeviceExecutionNodes{
		Plan: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			device := detectDevice(ctx, deps.Inventory, userMessage(s))
			if device == "" {
				return nil, nil, fmt.Errorf("no known device named in %q", userMessage(s))
			}
			return workflow.State{"target_device": device}, &workflow.ToolCallRequest{
				ToolName: "plan_config",
				Args:     map[string]any{"device": device, "intent": userMessage(s)},
			}, nil
		},
		Apply: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			plan := workflow.LastToolResult(s)
			if plan == nil {
				return nil, nil, fmt.Errorf("no plan to apply")
			}
			device, _ := plan["device"].(string)
			operation, _ := plan["operation"].(string)
			commands := anyStrings(plan["commands"])
			return nil, &workflow.ToolCallRequest{
				ToolName:         "apply_config",
				Args:             map[string]any{"device": device, "commands": plan["commands"]},
				Message:          fmt.Sprintf("About to run %d command(s) on %s (%s).", len(commands), device, operation),
				RiskLevel:        riskFor(operation),
				Device:           device,
				Operation:        operation,
				Commands:         commands,
				AllowedDecisions: []string{"approve", "edit", "reject"},
			}, nil
		},
		Verify: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			device, _ := s["target_device"].(string)
			return nil, &workflow.ToolCallRequest{
				ToolName: "verify_config",
				Args:     map[string]any{"device": device},
			}, nil
		},
		Rejected: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			return workflow.State{"outcome": "rejected"}, nil, nil
		},
	}
}

// riskFor grades an operation for the approval prompt. Interface
// shutdowns are high; every other operation, enable_interface included,
// is medium.
func riskFor(operation string) string {
	switch operation {
	case "shut_interface":
		return "high"
	case "enable_interface":
		return "medium"
	default:
		return "medium"
	}
}

func anyStrings(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// netboxNodes: diff intent against inventory → gated inventory apply →
// confirm.
func netboxNodes(deps Deps) workflow.NetBoxManagementNodes {
	return workflow.NetBoxManagementNodes{
		Diff: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			return nil, &workflow.ToolCallRequest{
				ToolName: "netbox_diff",
				Args:     map[string]any{"intent": userMessage(s)},
			}, nil
		},
		Apply: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			diff := workflow.LastToolResult(s)
			diffText, _ := diff["diff"].(string)
			changes := make([]any, 0)
			for _, line := range strings.Split(diffText, "\n") {
				if line = strings.TrimSpace(line); line != "" {
					changes = append(changes, map[string]any{"change": line})
				}
			}
			return nil, &workflow.ToolCallRequest{
				ToolName:         "netbox_apply",
				Args:             map[string]any{"changes": changes},
				Message:          fmt.Sprintf("About to apply %d inventory change(s).", len(changes)),
				RiskLevel:        "medium",
				Operation:        "inventory_update",
				Commands:         strings.Split(diffText, "\n"),
				AllowedDecisions: []string{"approve", "reject"},
			}, nil
		},
		Confirm: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			return workflow.State{"outcome": "applied"}, nil, nil
		},
		Rejected: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			return workflow.State{"outcome": "rejected"}, nil, nil
		},
	}
}

// deepDiveNodes: decompose the request into sub-tasks, then dispatch
// them wave by wave — each wave runs up to DeepDiveMaxFanout sub-tasks
// in parallel through the dispatch_subtasks tool (the fanout layer's
// bounded task dispatch) — and synthesize once every wave has reported.
// The dispatch node's visit bound is the depth limit: a request needing
// more waves than DEEPDIVE_MAX_DEPTH fails rather than running
// unbounded.
func deepDiveNodes(deps Deps) workflow.DeepDiveNodes {
	maxFanout := deps.DeepDiveMaxFanout
	if maxFanout <= 0 {
		maxFanout = 30
	}
	return workflow.DeepDiveNodes{
		Decompose: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			tasks := splitTasks(userMessage(s))
			list := make([]any, len(tasks))
			for i, t := range tasks {
				list[i] = t
			}
			return workflow.State{
				"tasks":           list,
				"task_total":      float64(len(tasks)),
				"next_task_index": 0.0,
				"results":         []any{},
			}, &workflow.ToolCallRequest{
				ToolName: "memory_recall",
				Args:     map[string]any{"text": userMessage(s)},
			}, nil
		},
		Dispatch: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			tasks, _ := s["tasks"].([]any)
			next := int(floatAt(s, "next_task_index"))
			if next >= len(tasks) {
				return nil, nil, fmt.Errorf("dispatch reached with no tasks left")
			}
			end := next + maxFanout
			if end > len(tasks) {
				end = len(tasks)
			}
			wave := tasks[next:end]
			return workflow.State{"wave_size": float64(len(wave))}, &workflow.ToolCallRequest{
				ToolName: "dispatch_subtasks",
				Args:     map[string]any{"tasks": wave, "max_parallel": maxFanout},
			}, nil
		},
		RecordResults: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			results, _ := s["results"].([]any)
			dispatched := workflow.LastToolResult(s)
			waveResults, _ := dispatched["results"].([]any)
			return workflow.State{
				"results":         append(results, waveResults...),
				"next_task_index": floatAt(s, "next_task_index") + floatAt(s, "wave_size"),
			}, nil, nil
		},
		Synthesize: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			results, _ := s["results"].([]any)
			return workflow.State{"answer": map[string]any{"sub_results": results}}, nil, nil
		},
	}
}

func floatAt(s workflow.State, key string) float64 {
	v, _ := s[key].(float64)
	return v
}

// splitTasks breaks a compound request into sub-tasks on sentence and
// conjunction boundaries.
func splitTasks(message string) []string {
	replaced := strings.NewReplacer("; ", "\n", ". ", "\n", " and then ", "\n", ", then ", "\n").Replace(message)
	var tasks []string
	for _, part := range strings.Split(replaced, "\n") {
		if part = strings.TrimSpace(part); part != "" {
			tasks = append(tasks, part)
		}
	}
	if len(tasks) == 0 {
		tasks = []string{message}
	}
	return tasks
}
