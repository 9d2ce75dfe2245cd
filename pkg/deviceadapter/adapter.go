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

// Package deviceadapter defines the abstract device adapter the core
// talks to. Concrete transports (SSH, NETCONF, gNMI) live in
// out-of-process plugins dispatched by the device's platform tag; the
// core never links a vendor driver.
package deviceadapter

import (
	"context"

	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/registry"
)

// Adapter executes operations against one device. Implementations map
// errors onto the documented kinds: Unreachable for connectivity,
// Timeout for deadline overruns, Transient for retriable resets.
type Adapter interface {
	// Platforms lists the platform tags this adapter serves.
	Platforms() []string

	// RunCommands executes read-only commands, returning raw output per
	// command.
	RunCommands(ctx context.Context, device inventory.Device, commands []string) (map[string]string, error)

	// ApplyConfig pushes configuration lines and returns the device's
	// transcript. Callers gate this behind an approval decision.
	ApplyConfig(ctx context.Context, device inventory.Device, lines []string) (string, error)

	// Probe checks reachability without changing anything.
	Probe(ctx context.Context, device inventory.Device) error
}

// Registry dispatches adapters by platform tag.
type Registry struct {
	adapters *registry.BaseRegistry[Adapter]
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: registry.NewBaseRegistry[Adapter]()}
}

// Register binds a to every platform it declares.
func (r *Registry) Register(a Adapter) error {
	for _, platform := range a.Platforms() {
		if err := r.adapters.Register(platform, a); err != nil {
			return err
		}
	}
	return nil
}

// ForDevice resolves the adapter serving d's platform tag.
func (r *Registry) ForDevice(d inventory.Device) (Adapter, error) {
	a, ok := r.adapters.Get(d.Platform)
	if !ok {
		return nil, olaverr.New(olaverr.NotFound, "no device adapter for platform %q", d.Platform)
	}
	return a, nil
}

// Count reports how many platform bindings are registered.
func (r *Registry) Count() int {
	return r.adapters.Len()
}

// Platforms lists every registered platform tag, sorted.
func (r *Registry) Platforms() []string {
	return r.adapters.Names()
}
