// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlugin(t *testing.T, dir, name, manifest string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".plugin.yaml"), []byte(manifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0o755))
}

func TestDiscoverFindsValidPlugins(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "iosxe", `
name: iosxe
version: 1.0.0
type: device_adapter
protocol: netrpc
platforms: [cisco_iosxe, cisco_iosxr]
`)
	writePlugin(t, dir, "netbox", `
name: netbox
version: 0.3.0
type: inventory_provider
protocol: netrpc
`)
	// A manifest with no executable beside it is skipped, not fatal.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ghost.plugin.yaml"), []byte(`
name: ghost
version: 1.0.0
type: device_adapter
protocol: netrpc
`), 0o600))

	found, err := Discover(context.Background(), &DiscoveryConfig{Enabled: true, Paths: []string{dir}})
	require.NoError(t, err)
	require.Len(t, found, 2)

	adapters := FilterByType(found, PluginTypeDeviceAdapter)
	require.Len(t, adapters, 1)
	assert.Equal(t, "iosxe", adapters[0].Name)
	assert.Equal(t, []string{"cisco_iosxe", "cisco_iosxr"}, adapters[0].Manifest.Platforms)
	assert.Equal(t, filepath.Join(dir, "iosxe"), adapters[0].Path)
}

func TestDiscoverSkipsBrokenManifests(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "bad-proto", `
name: bad-proto
version: 1.0.0
type: device_adapter
protocol: grpc
`)
	writePlugin(t, dir, "no-name", `
version: 1.0.0
type: device_adapter
protocol: netrpc
`)

	found, err := Discover(context.Background(), &DiscoveryConfig{Enabled: true, Paths: []string{dir}})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDiscoverMissingPathIsFine(t *testing.T) {
	found, err := Discover(context.Background(), &DiscoveryConfig{Enabled: true, Paths: []string{"/nonexistent/olav-plugins"}})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestManifestValidate(t *testing.T) {
	m := &PluginManifest{Name: "x", Version: "1", Type: PluginTypeDeviceAdapter, Protocol: ProtocolNetRPC}
	assert.NoError(t, m.Validate())

	m.Type = "llm_provider"
	assert.Error(t, m.Validate())
}
