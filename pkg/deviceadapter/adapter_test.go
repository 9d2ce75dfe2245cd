// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package deviceadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/olaverr"
)

type fakeAdapter struct {
	platforms []string
}

func (f *fakeAdapter) Platforms() []string { return f.platforms }

func (f *fakeAdapter) RunCommands(_ context.Context, d inventory.Device, commands []string) (map[string]string, error) {
	out := make(map[string]string, len(commands))
	for _, c := range commands {
		out[c] = "output of " + c + " on " + d.Name
	}
	return out, nil
}

func (f *fakeAdapter) ApplyConfig(_ context.Context, d inventory.Device, lines []string) (string, error) {
	return "applied", nil
}

func (f *fakeAdapter) Probe(context.Context, inventory.Device) error { return nil }

func TestRegistryDispatchesByPlatform(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeAdapter{platforms: []string{"cisco_iosxe", "cisco_iosxr"}}))
	assert.Equal(t, 2, r.Count())

	a, err := r.ForDevice(inventory.Device{Name: "R1", Platform: "cisco_iosxe"})
	require.NoError(t, err)
	out, err := a.RunCommands(context.Background(), inventory.Device{Name: "R1"}, []string{"show ip bgp summary"})
	require.NoError(t, err)
	assert.Contains(t, out["show ip bgp summary"], "R1")

	_, err = r.ForDevice(inventory.Device{Name: "X", Platform: "junos"})
	assert.Equal(t, olaverr.NotFound, olaverr.KindOf(err))
}

func TestDuplicatePlatformRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeAdapter{platforms: []string{"eos"}}))
	assert.Error(t, r.Register(&fakeAdapter{platforms: []string{"eos"}}))
}

func TestErrCodecRoundTrip(t *testing.T) {
	kind, msg := encodeErr(olaverr.New(olaverr.Unreachable, "ssh dial refused"))
	err := decodeErr(kind, msg)
	assert.Equal(t, olaverr.Unreachable, olaverr.KindOf(err))
	assert.Nil(t, decodeErr(encodeErr(nil)))
}
