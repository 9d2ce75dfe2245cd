// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("cisco_iosxe", "iosxe-adapter"))

	got, ok := r.Get("cisco_iosxe")
	assert.True(t, ok)
	assert.Equal(t, "iosxe-adapter", got)

	_, ok = r.Get("junos")
	assert.False(t, ok)
}

func TestDuplicateNameFailsLoudly(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("eos", 1))
	err := r.Register("eos", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already bound")

	// The original binding survives the failed attempt.
	got, _ := r.Get("eos")
	assert.Equal(t, 1, got)
}

func TestEmptyNameRejected(t *testing.T) {
	r := NewBaseRegistry[int]()
	assert.Error(t, r.Register("", 1))
}

func TestNamesAndListAreSorted(t *testing.T) {
	r := NewBaseRegistry[string]()
	for _, name := range []string{"junos", "cisco_iosxe", "eos"} {
		require.NoError(t, r.Register(name, "adapter-"+name))
	}

	assert.Equal(t, []string{"cisco_iosxe", "eos", "junos"}, r.Names())
	assert.Equal(t, []string{"adapter-cisco_iosxe", "adapter-eos", "adapter-junos"}, r.List())
	assert.Equal(t, 3, r.Len())
}

func TestRemove(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("eos", 1))
	require.NoError(t, r.Remove("eos"))
	assert.Zero(t, r.Len())
	assert.Error(t, r.Remove("eos"))
}

func TestConcurrentAccess(t *testing.T) {
	r := NewBaseRegistry[int]()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("platform-%d", i)
			_ = r.Register(name, i)
			_, _ = r.Get(name)
			_ = r.Names()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 32, r.Len())
}
