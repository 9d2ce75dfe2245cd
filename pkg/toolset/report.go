// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package toolset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/olav-network/olav/pkg/tool"
)

// generateReportTool renders an inspection's aggregated per-device
// results into markdown. Results map device name to an outcome object;
// devices that matched the expected criteria are marked pass, the rest
// fail, and unreachable/timeout devices are called out as unreachable.
func generateReportTool(deps Deps) tool.Tool {
	return tool.Tool{
		Name:        "generate_report",
		Description: "Render an inspection result into a markdown report",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"inspection_id": map[string]any{"type": "string"},
				"results":       map[string]any{"type": "object"},
			},
			"required": []any{"inspection_id", "results"},
		},
		SideEffect: tool.SideEffectRead,
		Handle: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			inspectionID := stringArg(args, "inspection_id")
			results, _ := args["results"].(map[string]any)

			content, summary := RenderReport(inspectionID, results)
			return &tool.Result{
				Output: map[string]any{
					"report_id": uuid.NewString(),
					"content":   content,
					"summary":   summary,
				},
				Summary: summary,
			}, nil
		},
	}
}

// RenderReport builds the markdown body and one-line summary for an
// inspection's result map. Deterministic: devices are sorted by name.
func RenderReport(inspectionID string, results map[string]any) (content, summary string) {
	devices := make([]string, 0, len(results))
	for d := range results {
		devices = append(devices, d)
	}
	sort.Strings(devices)

	var b strings.Builder
	fmt.Fprintf(&b, "# Inspection report: %s\n\n", inspectionID)
	fmt.Fprintf(&b, "Devices inspected: %s\n\n", strings.Join(devices, ", "))
	b.WriteString("| device | outcome | result | detail |\n|---|---|---|---|\n")

	passed := 0
	for _, d := range devices {
		entry, _ := results[d].(map[string]any)
		outcome, _ := entry["outcome"].(string)
		detail, _ := entry["summary"].(string)

		verdict := "fail"
		switch outcome {
		case "ok":
			passed++
			verdict = "pass"
		case "timeout", "skipped_unreachable":
			verdict = "unreachable"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", d, outcome, verdict, detail)
	}

	summary = fmt.Sprintf("%d/%d devices pass", passed, len(devices))
	fmt.Fprintf(&b, "\n%s\n", summary)
	return b.String(), summary
}
