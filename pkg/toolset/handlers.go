// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package toolset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olav-network/olav/pkg/fanout"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/rag"
	"github.com/olav-network/olav/pkg/tool"
)

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func stringsArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// classifyIntentTool maps a user request onto one workflow intent.
func classifyIntentTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "classify_intent",
		Description: "Classify a user request into a workflow intent",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string", "description": "the user request"},
			},
			"required": []any{"text"},
		},
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			intent, confidence, err := deps.Classify.Classify(ctx, stringArg(args, "text"))
			if err != nil {
				return nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			return &tool.Result{
				Output:  map[string]any{"intent": intent, "confidence": confidence},
				Summary: fmt.Sprintf("classified as %s (%.2f)", intent, confidence),
			}, nil
		},
	}
}

// deviceQueryTool runs read-only commands on a single device. It is
// also the per-device operation the batch query fans out.
func deviceQueryTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "device_query",
		Description: "Run read-only commands on one device",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"device":   map[string]any{"type": "string"},
				"commands": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []any{"device", "commands"},
		},
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			name := stringArg(args, "device")
			device, found, err := deps.Inventory.GetDevice(ctx, name)
			if err != nil {
				return nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			if !found {
				return nil, olaverr.New(olaverr.NotFound, "device %q is not in the inventory", name)
			}
			adapter, err := deps.Adapters.ForDevice(device)
			if err != nil {
				return nil, err
			}
			commands := stringsArg(args, "commands")
			output, err := adapter.RunCommands(ctx, device, commands)
			if err != nil {
				return nil, err
			}
			out := make(map[string]any, len(output))
			for cmd, text := range output {
				out[cmd] = text
			}
			return &tool.Result{
				Output:  map[string]any{"device": name, "output": out},
				Summary: fmt.Sprintf("ran %d command(s) on %s", len(commands), name),
			}, nil
		},
	}
}

// smartQueryTool turns natural text into one platform-appropriate
// read-only command (consulting the schema index and the LLM), runs it,
// and returns the structured result.
func smartQueryTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "smart_query",
		DisplayName: "Smart Query",
		Description: "Answer a natural-language question against a device",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":   map[string]any{"type": "string"},
				"device": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			text := stringArg(args, "text")
			deviceName := stringArg(args, "device")

			device, found, err := deps.Inventory.GetDevice(ctx, deviceName)
			if err != nil {
				return nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			if !found {
				return nil, olaverr.New(olaverr.NotFound, "device %q is not in the inventory", deviceName)
			}

			// The schema index narrows the question to concrete tables;
			// failure to reach it degrades to an uninformed prompt.
			snippets := deps.Knowledge.Search(ctx, rag.SourceSchema, text, 3)
			var hints []string
			for _, s := range snippets {
				hints = append(hints, s.Content)
			}

			prompt := fmt.Sprintf(
				"Select exactly one read-only %s CLI command answering: %q\nKnown data tables:\n%s\nReply with the command only.",
				device.Platform, text, strings.Join(hints, "\n"))
			command, err := deps.Chat.Complete(ctx, prompt)
			if err != nil {
				return nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			command = strings.TrimSpace(command)
			if command == "" {
				return nil, olaverr.New(olaverr.InternalError, "model produced no command for %q", text)
			}

			adapter, err := deps.Adapters.ForDevice(device)
			if err != nil {
				return nil, err
			}
			output, err := adapter.RunCommands(ctx, device, []string{command})
			if err != nil {
				return nil, err
			}
			return &tool.Result{
				Output: map[string]any{
					"device":  device.Name,
					"command": command,
					"output":  output[command],
				},
				Summary: fmt.Sprintf("%s on %s", command, device.Name),
			}, nil
		},
	}
}

// batchQueryTool fans a command list out across a device scope.
func batchQueryTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "batch_query",
		Description: "Run commands across a device scope, one result per device",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scope":    map[string]any{"type": "string"},
				"commands": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []any{"scope", "commands"},
		},
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			results, err := deps.Batch.RunBatch(ctx, ctx.ClientID, ctx.Role, ctx.ThreadID,
				stringArg(args, "scope"), "device_query", map[string]any{"commands": args["commands"]})
			if err != nil {
				return nil, err
			}
			return &tool.Result{
				Output:  map[string]any{"results": results},
				Summary: fmt.Sprintf("queried %d device(s)", len(results)),
			}, nil
		},
	}
}

// dispatchSubtasksTool runs one wave of deep-dive sub-tasks in
// parallel: each sub-task becomes a smart query, dispatched through the
// task runner with the wave's concurrency bound. Results come back
// index-aligned so the workflow can pair them with their tasks.
func dispatchSubtasksTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "dispatch_subtasks",
		DisplayName: "Dispatch Sub-Tasks",
		Description: "Run a wave of analysis sub-tasks in parallel",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tasks":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"max_parallel": map[string]any{"type": "integer"},
			},
			"required": []any{"tasks"},
		},
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			texts := stringsArg(args, "tasks")
			if len(texts) == 0 {
				return nil, olaverr.New(olaverr.BadArguments, "tasks must not be empty")
			}

			tasks := make([]fanout.Task, len(texts))
			for i, text := range texts {
				taskArgs := map[string]any{"text": text}
				if device := matchDevice(ctx, deps, text); device != "" {
					taskArgs["device"] = device
				}
				tasks[i] = fanout.Task{Label: text, Args: taskArgs}
			}

			results := deps.Tasks.RunTasks(ctx, ctx.ClientID, ctx.Role, ctx.ThreadID,
				"smart_query", tasks, intArg(args, "max_parallel", 30))

			out := make([]any, len(results))
			failed := 0
			for i, r := range results {
				entry := map[string]any{"task": r.Label}
				if r.Err != nil {
					failed++
					entry["error"] = r.Err.Error()
				} else {
					entry["output"] = r.Output
					entry["summary"] = r.Summary
				}
				out[i] = entry
			}
			return &tool.Result{
				Output:  map[string]any{"results": out},
				Summary: fmt.Sprintf("dispatched %d sub-task(s), %d failed", len(results), failed),
			}, nil
		},
	}
}

// matchDevice finds the first inventory device named in text, so a
// sub-task like "check bgp on R1" routes to R1's adapter.
func matchDevice(ctx context.Context, deps Deps, text string) string {
	devices, err := deps.Inventory.ListDevices(ctx)
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

// schemaSearchTool exposes the schema index to workflow nodes.
func schemaSearchTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "schema_search",
		Description: "Find device data tables matching a phrase",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
				"k":    map[string]any{"type": "integer"},
			},
			"required": []any{"text"},
		},
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			snippets := deps.Knowledge.Search(ctx, rag.SourceSchema, stringArg(args, "text"), intArg(args, "k", 5))
			return &tool.Result{
				Output:  map[string]any{"entries": snippetsToAny(snippets)},
				Summary: fmt.Sprintf("%d schema entries", len(snippets)),
			}, nil
		},
	}
}

// memoryRecallTool exposes episodic memory to workflow nodes.
func memoryRecallTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "memory_recall",
		Description: "Recall past successful workflow traces for a similar request",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
				"k":    map[string]any{"type": "integer"},
			},
			"required": []any{"text"},
		},
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			snippets := deps.Knowledge.Search(ctx, rag.SourceEpisodic, stringArg(args, "text"), intArg(args, "k", 3))
			return &tool.Result{
				Output:  map[string]any{"traces": snippetsToAny(snippets)},
				Summary: fmt.Sprintf("%d prior traces", len(snippets)),
			}, nil
		},
	}
}

func snippetsToAny(snippets []rag.Snippet) []any {
	out := make([]any, 0, len(snippets))
	for _, s := range snippets {
		out = append(out, map[string]any{
			"source":   string(s.Source),
			"id":       s.ID,
			"content":  s.Content,
			"score":    s.Score,
			"metadata": s.Metadata,
		})
	}
	return out
}

// planConfigTool drafts the configuration change for one device. It is
// read-only: nothing touches the device until apply_config runs behind
// an approval.
func planConfigTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "plan_config",
		DisplayName: "Plan Config",
		Description: "Draft configuration commands for a requested change",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"device": map[string]any{"type": "string"},
				"intent": map[string]any{"type": "string"},
			},
			"required": []any{"device", "intent"},
		},
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			deviceName := stringArg(args, "device")
			intent := stringArg(args, "intent")

			device, found, err := deps.Inventory.GetDevice(ctx, deviceName)
			if err != nil {
				return nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			if !found {
				return nil, olaverr.New(olaverr.NotFound, "device %q is not in the inventory", deviceName)
			}

			prompt := fmt.Sprintf(
				"Produce the %s configuration commands for: %q on device %s. One command per line, nothing else.",
				device.Platform, intent, device.Name)
			completion, err := deps.Chat.Complete(ctx, prompt)
			if err != nil {
				return nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			var commands []string
			for _, line := range strings.Split(completion, "\n") {
				if line = strings.TrimSpace(line); line != "" {
					commands = append(commands, line)
				}
			}
			if len(commands) == 0 {
				return nil, olaverr.New(olaverr.InternalError, "model produced no plan for %q", intent)
			}

			out := make([]any, len(commands))
			for i, c := range commands {
				out[i] = c
			}
			return &tool.Result{
				Output: map[string]any{
					"device":    device.Name,
					"operation": operationFromIntent(intent),
					"commands":  out,
				},
				Summary: fmt.Sprintf("planned %d command(s) for %s", len(commands), device.Name),
			}, nil
		},
	}
}

// operationFromIntent derives a short operation label shown in the
// approval plan.
func operationFromIntent(intent string) string {
	lower := strings.ToLower(intent)
	switch {
	case strings.Contains(lower, "shut") && !strings.Contains(lower, "no shut"):
		return "shut_interface"
	case strings.Contains(lower, "no shut"), strings.Contains(lower, "enable"):
		return "enable_interface"
	default:
		return "configure"
	}
}

// applyConfigTool pushes a planned change. Write side effect: the
// registry refuses to register it without the approval flag, and the
// engine gates every call behind a human decision unless the caller is
// an auto-approving admin.
func applyConfigTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "apply_config",
		DisplayName: "Apply Config",
		Description: "Push configuration commands to a device",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"device":   map[string]any{"type": "string"},
				"commands": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []any{"device", "commands"},
		},
		SideEffect:       tool.SideEffectWrite,
		RequiresApproval: true,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			deviceName := stringArg(args, "device")
			device, found, err := deps.Inventory.GetDevice(ctx, deviceName)
			if err != nil {
				return nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			if !found {
				return nil, olaverr.New(olaverr.NotFound, "device %q is not in the inventory", deviceName)
			}
			adapter, err := deps.Adapters.ForDevice(device)
			if err != nil {
				return nil, err
			}
			transcript, err := adapter.ApplyConfig(ctx, device, stringsArg(args, "commands"))
			if err != nil {
				return nil, err
			}
			return &tool.Result{
				Output:  map[string]any{"device": device.Name, "transcript": transcript},
				Summary: fmt.Sprintf("applied config on %s", device.Name),
			}, nil
		},
	}
}

// verifyConfigTool re-reads device state after an apply.
func verifyConfigTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "verify_config",
		Description: "Verify device state after a configuration change",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"device":   map[string]any{"type": "string"},
				"commands": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []any{"device"},
		},
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			deviceName := stringArg(args, "device")
			device, found, err := deps.Inventory.GetDevice(ctx, deviceName)
			if err != nil {
				return nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			if !found {
				return nil, olaverr.New(olaverr.NotFound, "device %q is not in the inventory", deviceName)
			}
			adapter, err := deps.Adapters.ForDevice(device)
			if err != nil {
				return nil, err
			}
			commands := stringsArg(args, "commands")
			if len(commands) == 0 {
				commands = []string{"show running-config"}
			}
			output, err := adapter.RunCommands(ctx, device, commands)
			if err != nil {
				return nil, err
			}
			out := make(map[string]any, len(output))
			for cmd, text := range output {
				out[cmd] = text
			}
			return &tool.Result{
				Output:  map[string]any{"device": device.Name, "output": out},
				Summary: fmt.Sprintf("verified %s", device.Name),
			}, nil
		},
	}
}

// netboxDiffTool compares requested inventory intent against the
// current inventory.
func netboxDiffTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "netbox_diff",
		Description: "Diff a requested inventory change against current inventory",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"intent": map[string]any{"type": "string"},
			},
			"required": []any{"intent"},
		},
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			devices, err := deps.Inventory.ListDevices(ctx)
			if err != nil {
				return nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			names := make([]string, 0, len(devices))
			for _, d := range devices {
				names = append(names, fmt.Sprintf("%s (%s, %s/%s)", d.Name, d.Platform, d.Site, d.Role))
			}
			prompt := fmt.Sprintf(
				"Current inventory:\n%s\n\nRequested change: %q\nList the additions, removals, and field updates as one change per line.",
				strings.Join(names, "\n"), stringArg(args, "intent"))
			diff, err := deps.Chat.Complete(ctx, prompt)
			if err != nil {
				return nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			return &tool.Result{
				Output:  map[string]any{"diff": strings.TrimSpace(diff)},
				Summary: "computed inventory diff",
			}, nil
		},
	}
}

// netboxApplyTool mutates the inventory through the external writer.
func netboxApplyTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "netbox_apply",
		Description: "Apply an approved change set to the inventory",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"changes": map[string]any{"type": "array"},
			},
			"required": []any{"changes"},
		},
		SideEffect:       tool.SideEffectWrite,
		RequiresApproval: true,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			raw, _ := args["changes"].([]any)
			changes := make([]map[string]any, 0, len(raw))
			for _, c := range raw {
				if m, ok := c.(map[string]any); ok {
					changes = append(changes, m)
				}
			}
			summary, err := deps.Writer.ApplyChanges(ctx, changes)
			if err != nil {
				return nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			return &tool.Result{
				Output:  map[string]any{"summary": summary, "applied": len(changes)},
				Summary: summary,
			}, nil
		},
	}
}

// FanoutBatch adapts the fan-out runner to the BatchRunner interface.
type FanoutBatch struct {
	Runner      *fanout.Runner
	Concurrency int
	PerDevice   time.Duration
}

func (f FanoutBatch) RunBatch(ctx context.Context, clientID, role, threadID, scope, toolName string, args map[string]any) (map[string]any, error) {
	results, err := f.Runner.Run(ctx, clientID, role, threadID, fanout.Request{
		Scope:       scope,
		ToolName:    toolName,
		Args:        args,
		Concurrency: f.Concurrency,
		PerDevice:   f.PerDevice,
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(results))
	for device, res := range results {
		entry := map[string]any{"outcome": string(res.Outcome), "summary": res.Summary}
		if res.Output != nil {
			entry["output"] = res.Output
		}
		if res.Err != nil {
			entry["error"] = res.Err.Error()
		}
		out[device] = entry
	}
	return out, nil
}

// RunTasks forwards a sub-task wave to the fan-out runner's parallel
// task dispatch.
func (f FanoutBatch) RunTasks(ctx context.Context, clientID, role, threadID, toolName string, tasks []fanout.Task, concurrency int) []fanout.TaskResult {
	return f.Runner.RunTasks(ctx, clientID, role, threadID, toolName, tasks, concurrency)
}
