package inventory

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(devices []Device) []string {
	out := make([]string, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Name)
	}
	sort.Strings(out)
	return out
}

func TestResolveExplicitList(t *testing.T) {
	p := NewMemoryProvider([]Device{
		{Name: "R1", Group: "core"},
		{Name: "R2", Group: "edge"},
	})

	devices, err := Resolve(context.Background(), p, "R1, R2, R3")
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, names(devices))
}

func TestResolveFilter(t *testing.T) {
	p := NewMemoryProvider([]Device{
		{Name: "R1", Group: "core"},
		{Name: "R2", Group: "edge"},
		{Name: "R3", Group: "core"},
	})

	devices, err := Resolve(context.Background(), p, "group:core")
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R3"}, names(devices))
}

func TestResolveEmptyScope(t *testing.T) {
	p := NewMemoryProvider(nil)
	devices, err := Resolve(context.Background(), p, "")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestResolveUnknownFilterValueYieldsEmpty(t *testing.T) {
	p := NewMemoryProvider([]Device{{Name: "R1", Site: "dc1"}})
	devices, err := Resolve(context.Background(), p, "site:dc2")
	require.NoError(t, err)
	assert.Empty(t, devices)
}
