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

// Package plugins manages out-of-process extension points. The core
// links no vendor code: device I/O and external inventories arrive as
// separate executables discovered by manifest, spawned over net/rpc,
// and supervised by the Host.
package plugins

import (
	"context"
	"fmt"
)

// PluginType names an extension point.
type PluginType string

const (
	// PluginTypeDeviceAdapter provides vendor-specific device I/O: the
	// core only ever sees the abstract adapter contract, never transport
	// details.
	PluginTypeDeviceAdapter PluginType = "device_adapter"

	// PluginTypeInventory provides an external inventory backend.
	PluginTypeInventory PluginType = "inventory_provider"
)

// Valid reports whether t names a known extension point.
func (t PluginType) Valid() bool {
	return t == PluginTypeDeviceAdapter || t == PluginTypeInventory
}

// PluginProtocol is the wire protocol between core and plugin process.
type PluginProtocol string

// ProtocolNetRPC is the only supported protocol.
const ProtocolNetRPC PluginProtocol = "netrpc"

// PluginStatus tracks a loaded plugin's lifecycle.
type PluginStatus string

const (
	StatusReady    PluginStatus = "ready"
	StatusCrashed  PluginStatus = "crashed"
	StatusShutdown PluginStatus = "shutdown"
)

// PluginManifest is the plugin.yaml sitting next to a plugin
// executable; it declares what the executable provides before anything
// is spawned.
type PluginManifest struct {
	Name        string         `yaml:"name" json:"name"`
	Version     string         `yaml:"version" json:"version"`
	Author      string         `yaml:"author,omitempty" json:"author,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Type        PluginType     `yaml:"type" json:"type"`
	Protocol    PluginProtocol `yaml:"protocol" json:"protocol"`

	// CoreVersion pins the oldest core release this plugin supports.
	CoreVersion string `yaml:"core_version,omitempty" json:"core_version,omitempty"`

	// Platforms lists the platform tags a device adapter serves; shown
	// in listings before the process is spawned.
	Platforms []string `yaml:"platforms,omitempty" json:"platforms,omitempty"`
}

// Validate rejects a manifest the Host could not act on.
func (m *PluginManifest) Validate() error {
	switch {
	case m.Name == "":
		return fmt.Errorf("manifest missing name")
	case m.Version == "":
		return fmt.Errorf("manifest missing version")
	case !m.Type.Valid():
		return fmt.Errorf("unknown plugin type %q", m.Type)
	case m.Protocol != ProtocolNetRPC:
		return fmt.Errorf("unsupported protocol %q (only netrpc)", m.Protocol)
	}
	return nil
}

// PluginConfig is everything a loader needs to spawn one plugin.
type PluginConfig struct {
	Name     string
	Type     PluginProtocol
	Path     string
	Enabled  bool
	Manifest *PluginManifest
}

// Plugin is one running plugin process under Host supervision.
type Plugin interface {
	Shutdown(ctx context.Context) error
	GetManifest() *PluginManifest
	GetStatus() PluginStatus
	// Health probes the plugin process; an error marks it crashed.
	Health(ctx context.Context) error
}

// PluginLoader spawns and tears down plugins for one protocol.
type PluginLoader interface {
	Load(ctx context.Context, config *PluginConfig) (Plugin, error)
	Unload(ctx context.Context, plugin Plugin) error
	SupportedProtocol() PluginProtocol
}

// PluginError wraps a failure with the plugin and operation it hit.
type PluginError struct {
	PluginName string
	Operation  string
	Message    string
	Err        error
}

func (e *PluginError) Error() string {
	msg := fmt.Sprintf("plugin %s: %s: %s", e.PluginName, e.Operation, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PluginError) Unwrap() error { return e.Err }

// NewPluginError builds a PluginError.
func NewPluginError(pluginName, operation, message string, err error) *PluginError {
	return &PluginError{PluginName: pluginName, Operation: operation, Message: message, Err: err}
}
