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
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// mapToStruct decodes a validated argument map into the handler's typed
// Args value. The decoder honors the same json tags the schema was
// generated from and tolerates JSON's number erasure (a float64 "3"
// decodes into an int field), so arguments survive the wire round-trip
// without hand-written conversions.
func mapToStruct(m map[string]any, target any) error {
	if m == nil {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("building argument decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}
	return nil
}
