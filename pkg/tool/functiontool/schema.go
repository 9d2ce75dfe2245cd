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

package functiontool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// generateSchema reflects the Args type into the flat
// type/properties/required map the tool registry validates against.
//
// Field tags drive the schema:
//
//	type Args struct {
//	    Device string `json:"device" jsonschema:"required,description=Device name"`
//	    Count  int    `json:"count,omitempty" jsonschema:"minimum=1,maximum=100"`
//	}
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		// required comes from the jsonschema tag, not omitempty guessing.
		RequiredFromJSONSchemaTags: true,
		// Inline everything: the registry's validator does not resolve
		// $ref, and flat argument structs don't need definitions.
		ExpandedStruct: true,
		DoNotReference: true,
	}

	// The jsonschema AST round-trips through JSON into the plain map
	// shape tool.Tool.Schema carries.
	raw, err := json.Marshal(reflector.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("marshaling reflected schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decoding reflected schema: %w", err)
	}

	// Keep only the keys the validator reads; the document-level
	// identifiers are noise inside a tool definition.
	for _, key := range []string{"$schema", "$id", "$defs"} {
		delete(schema, key)
	}

	if schema["type"] != "object" {
		return schema, nil
	}
	flat := map[string]any{
		"type":       "object",
		"properties": schema["properties"],
	}
	if required, ok := schema["required"]; ok {
		flat["required"] = required
	}
	if extra, ok := schema["additionalProperties"]; ok {
		flat["additionalProperties"] = extra
	}
	return flat, nil
}
