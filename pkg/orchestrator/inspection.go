// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/olav-network/olav/pkg/config"
	"github.com/olav-network/olav/pkg/fanout"
	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/job"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/session"
	"github.com/olav-network/olav/pkg/workflow"
)

// inspectionNodes: enumerate the scope → fan out the probe commands →
// compare outputs against the profile's criteria → render the report.
// The profile fields travel in state, placed there by the job runner.
func inspectionNodes(deps Deps) workflow.InspectionNodes {
	return workflow.InspectionNodes{
		Enumerate: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			scope, _ := s["scope"].(string)
			devices, err := inventory.Resolve(ctx, deps.Inventory, scope)
			if err != nil {
				return nil, nil, olaverr.Wrap(olaverr.Unreachable, err)
			}
			if len(devices) == 0 {
				return nil, nil, olaverr.New(olaverr.BadArguments, "scope %q resolved to zero devices", scope)
			}
			names := make([]any, len(devices))
			for i, d := range devices {
				names[i] = d.Name
			}
			return workflow.State{
				"devices":            names,
				workflow.KeyProgress: map[string]any{"completed": 0.0, "total": float64(len(devices))},
			}, nil, nil
		},
		Probe: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			scope, _ := s["scope"].(string)
			return nil, &workflow.ToolCallRequest{
				ToolName: "batch_query",
				Args:     map[string]any{"scope": scope, "commands": s["commands"]},
			}, nil
		},
		Compare: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			probe := workflow.LastToolResult(s)
			results, _ := probe["results"].(map[string]any)
			expect, _ := s["expect_contains"].(string)

			compared := make(map[string]any, len(results))
			for device, raw := range results {
				entry, _ := raw.(map[string]any)
				compared[device] = compareDevice(entry, expect)
			}
			devices, _ := s["devices"].([]any)
			return workflow.State{
				"compared":           compared,
				workflow.KeyProgress: map[string]any{"completed": float64(len(results)), "total": float64(len(devices))},
			}, nil, nil
		},
		RenderReport: func(ctx context.Context, s workflow.State) (workflow.State, *workflow.ToolCallRequest, error) {
			inspectionID, _ := s["inspection_id"].(string)
			return nil, &workflow.ToolCallRequest{
				ToolName: "generate_report",
				Args:     map[string]any{"inspection_id": inspectionID, "results": s["compared"]},
			}, nil
		},
	}
}

// compareDevice grades one device's probe entry against the expected
// substring; unreachable and timed-out devices keep their fan-out
// outcome so the report can mark them distinctly from a failed check.
func compareDevice(entry map[string]any, expect string) map[string]any {
	outcome, _ := entry["outcome"].(string)
	if outcome != string(fanout.OutcomeOK) {
		return map[string]any{"outcome": outcome, "summary": entry["summary"]}
	}
	if expect == "" {
		return map[string]any{"outcome": "ok", "summary": "reachable"}
	}

	output, _ := entry["output"].(map[string]any)
	inner, _ := output["output"].(map[string]any)
	for command, raw := range inner {
		text, _ := raw.(string)
		if !strings.Contains(text, expect) {
			return map[string]any{
				"outcome": "error",
				"summary": fmt.Sprintf("%s output missing %q", command, expect),
			}
		}
	}
	return map[string]any{"outcome": "ok", "summary": fmt.Sprintf("all outputs contain %q", expect)}
}

// InspectionRunner builds the job.RunFunc that drives the inspection
// workflow through the engine on a fresh detached thread — the same
// machinery as an interactive run, minus the event stream. Per-device
// progress flows out through the fan-out completion hook.
func InspectionRunner(engine *workflow.Engine, workflows *workflow.Registry, threads session.Store, inspections map[string]*config.InspectionConfig) job.RunFunc {
	return func(ctx context.Context, j job.Job, progress func(job.Progress)) (job.Report, error) {
		profile, ok := inspections[j.InspectionID]
		if !ok {
			return job.Report{}, olaverr.New(olaverr.NotFound, "inspection %s is not configured", j.InspectionID)
		}

		def, ok := workflows.Get(string(workflow.KindInspection))
		if !ok {
			return job.Report{}, olaverr.New(olaverr.InternalError, "inspection workflow is not registered")
		}

		now := time.Now()
		th := session.Thread{
			ThreadID:      session.NewThreadID("job-" + j.OwnerClientID),
			OwnerClientID: j.OwnerClientID,
			WorkflowKind:  string(workflow.KindInspection),
			Status:        session.StatusRunning,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		th.AppendMessage(session.Message{
			Role:    session.RoleUser,
			Content: fmt.Sprintf("inspection %s: run [%s] on %s", j.InspectionID, strings.Join(profile.Commands, "; "), profile.Scope),
		})
		if err := threads.Create(ctx, th); err != nil {
			return job.Report{}, olaverr.Wrap(olaverr.InternalError, err)
		}

		runCtx := fanout.WithCompletionHook(ctx, func(completed, total int) {
			progress(job.Progress{Completed: completed, Total: total})
		})

		seed := workflow.State{
			"inspection_id":   j.InspectionID,
			"scope":           profile.Scope,
			"commands":        commandsToState(profile.Commands),
			"expect_contains": profile.ExpectContains,
		}
		result := engine.RunWithState(runCtx, def, &th, "operator", workflow.NoopObserver{}, seed)
		switch result.Status {
		case workflow.RunCompleted:
		case workflow.RunCancelled:
			return job.Report{}, ctx.Err()
		default:
			if result.Err != nil {
				return job.Report{}, result.Err
			}
			return job.Report{}, olaverr.New(olaverr.InternalError, "inspection ended with status %s", result.Status)
		}

		rendered := workflow.LastToolResult(result.FinalState)
		content, _ := rendered["content"].(string)
		summary, _ := rendered["summary"].(string)
		reportID, _ := rendered["report_id"].(string)
		if reportID == "" {
			reportID = uuid.NewString()
		}
		if content == "" {
			return job.Report{}, olaverr.New(olaverr.InternalError, "inspection produced no report content")
		}
		return job.Report{
			ReportID:     reportID,
			InspectionID: j.InspectionID,
			Content:      content,
			Summary:      summary,
			CreatedAt:    time.Now(),
		}, nil
	}
}

func commandsToState(commands []string) []any {
	out := make([]any, len(commands))
	for i, c := range commands {
		out[i] = c
	}
	return out
}
