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

// Package toolset registers the tool catalogue the workflows call:
// intent classification, smart and batch device queries, schema search,
// memory recall, report generation, and the plan/apply/verify trio
// behind the configuration workflows. Handlers stay thin — the LLM
// client, device adapters, and knowledge stores they delegate to are
// external collaborators behind narrow interfaces.
package toolset

import (
	"context"
	"log/slog"

	"github.com/olav-network/olav/pkg/deviceadapter"
	"github.com/olav-network/olav/pkg/fanout"
	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/rag"
	"github.com/olav-network/olav/pkg/tool"
)

// Intent values the classifier may produce.
const (
	IntentQuickQuery       = "quick_query"
	IntentDeviceInspection = "device_inspection"
	IntentDeepAnalysis     = "deep_analysis"
	IntentConfiguration    = "configuration"
	IntentNetBox           = "netbox"
	IntentNonNetwork       = "non_network"
)

// ChatClient is the narrow LLM collaborator interface the smart tools
// use: one prompt in, one completion out. Streaming token delivery is
// the dispatcher's concern, not the tools'.
type ChatClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Classifier maps free text onto one intent with a confidence score.
type Classifier interface {
	Classify(ctx context.Context, text string) (intent string, confidence float64, err error)
}

// InventoryWriter applies inventory mutations; the concrete NetBox
// client is an external collaborator.
type InventoryWriter interface {
	ApplyChanges(ctx context.Context, changes []map[string]any) (summary string, err error)
}

// BatchRunner runs one tool invocation per device across a scope; it is
// satisfied by the fan-out layer.
type BatchRunner interface {
	RunBatch(ctx context.Context, clientID, role, threadID, scope, toolName string, args map[string]any) (map[string]any, error)
}

// TaskRunner runs arbitrary sub-tasks in parallel with a concurrency
// bound; the deep-dive workflow dispatches its sub-queries through it.
type TaskRunner interface {
	RunTasks(ctx context.Context, clientID, role, threadID, toolName string, tasks []fanout.Task, concurrency int) []fanout.TaskResult
}

// Deps carries every collaborator the catalogue binds to.
type Deps struct {
	Chat      ChatClient
	Classify  Classifier
	Inventory inventory.Provider
	Adapters  *deviceadapter.Registry
	Knowledge *rag.Searcher
	Writer    InventoryWriter
	Batch     BatchRunner
	Tasks     TaskRunner
	Logger    *slog.Logger
}

// Register installs the full catalogue into reg. It is called exactly
// once at startup; afterwards the registry is read-only.
func Register(reg *tool.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	for _, t := range []tool.Tool{
		classifyIntentTool(deps),
		deviceQueryTool(deps),
		smartQueryTool(deps),
		batchQueryTool(deps),
		dispatchSubtasksTool(deps),
		schemaSearchTool(deps),
		memoryRecallTool(deps),
		generateReportTool(deps),
		planConfigTool(deps),
		applyConfigTool(deps),
		verifyConfigTool(deps),
		netboxDiffTool(deps),
		netboxApplyTool(deps),
	} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
