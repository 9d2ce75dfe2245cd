// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package functiontool builds tool.Tool definitions from typed Go
// functions, generating the JSON Schema from struct tags instead of
// requiring callers to hand-write it.
//
// Example:
//
//	type QueryArgs struct {
//	    Device string `json:"device" jsonschema:"required,description=Device name"`
//	    Intent string `json:"intent" jsonschema:"required,description=Query intent"`
//	}
//
//	t, err := functiontool.New("smart_query", "...", tool.SideEffectRead, false,
//	    func(ctx tool.Context, args QueryArgs) (*tool.Result, error) { ... })
package functiontool

import (
	"fmt"

	"github.com/olav-network/olav/pkg/tool"
)

// New builds a tool.Tool whose argument schema is generated from Args and
// whose handler decodes the invocation's raw map into a typed Args value
// before calling fn.
func New[Args any](
	name, description string,
	sideEffect tool.SideEffect,
	requiresApproval bool,
	fn func(tool.Context, Args) (*tool.Result, error),
) (tool.Tool, error) {
	if name == "" {
		return tool.Tool{}, fmt.Errorf("tool name is required")
	}
	if description == "" {
		return tool.Tool{}, fmt.Errorf("tool description is required")
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return tool.Tool{}, fmt.Errorf("failed to generate schema for %s: %w", name, err)
	}

	handler := func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
		var typedArgs Args
		if err := mapToStruct(args, &typedArgs); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
		return fn(ctx, typedArgs)
	}

	return tool.Tool{
		Name:             name,
		Description:      description,
		Schema:           schema,
		SideEffect:       sideEffect,
		RequiresApproval: requiresApproval,
		Handle:           handler,
	}, nil
}
