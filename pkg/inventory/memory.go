package inventory

import (
	"context"
	"sync"
)

// MemoryProvider is an in-memory Provider, useful for tests and for small
// deployments that describe their inventory in the OLAV config file
// instead of delegating to an external inventory system.
type MemoryProvider struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewMemoryProvider builds a MemoryProvider seeded with the given devices.
func NewMemoryProvider(devices []Device) *MemoryProvider {
	m := &MemoryProvider{devices: make(map[string]Device, len(devices))}
	for _, d := range devices {
		m.devices[d.Name] = d
	}
	return m
}

func (m *MemoryProvider) ListDevices(ctx context.Context) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *MemoryProvider) GetDevice(ctx context.Context, name string) (Device, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[name]
	return d, ok, nil
}

// Put registers or replaces a device, for test setup and dynamic reload.
func (m *MemoryProvider) Put(d Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.Name] = d
}
