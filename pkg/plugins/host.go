// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Host supervises the loaded plugin processes: it loads them through
// protocol loaders, probes their health on a ticker, and tears them
// down at shutdown. A crashed plugin is marked, logged, and left down —
// device operations against its platforms fail loudly until an operator
// intervenes, which beats silently retrying a flapping vendor binary.
type Host struct {
	mu      sync.Mutex
	loaders map[PluginProtocol]PluginLoader
	loaded  map[string]Plugin
}

// NewHost creates an empty host.
func NewHost() *Host {
	return &Host{
		loaders: make(map[PluginProtocol]PluginLoader),
		loaded:  make(map[string]Plugin),
	}
}

// RegisterLoader installs the loader for its protocol.
func (h *Host) RegisterLoader(loader PluginLoader) error {
	if loader == nil {
		return fmt.Errorf("loader is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	protocol := loader.SupportedProtocol()
	if _, taken := h.loaders[protocol]; taken {
		return fmt.Errorf("a loader for protocol %q is already registered", protocol)
	}
	h.loaders[protocol] = loader
	return nil
}

// Load spawns one discovered plugin and takes it under supervision,
// returning the running Plugin so the caller can dispense its
// implementation.
func (h *Host) Load(ctx context.Context, d *DiscoveredPlugin) (Plugin, error) {
	h.mu.Lock()
	loader, ok := h.loaders[d.Manifest.Protocol]
	_, duplicate := h.loaded[d.Name]
	h.mu.Unlock()

	if !ok {
		return nil, NewPluginError(d.Name, "load", fmt.Sprintf("no loader for protocol %q", d.Manifest.Protocol), nil)
	}
	if duplicate {
		return nil, NewPluginError(d.Name, "load", "already loaded", nil)
	}

	p, err := loader.Load(ctx, &PluginConfig{
		Name:     d.Name,
		Type:     d.Manifest.Protocol,
		Path:     d.Path,
		Enabled:  true,
		Manifest: d.Manifest,
	})
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.loaded[d.Name] = p
	h.mu.Unlock()

	slog.Info("plugin loaded", "name", d.Name, "type", string(d.Manifest.Type), "version", d.Manifest.Version)
	return p, nil
}

// Get returns a loaded plugin by name.
func (h *Host) Get(name string) (Plugin, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.loaded[name]
	return p, ok
}

// Names lists the loaded plugins, sorted.
func (h *Host) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.loaded))
	for name := range h.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supervise probes every loaded plugin on the given interval until ctx
// ends. Run it in a goroutine after loading finishes.
func (h *Host) Supervise(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.checkAll(ctx)
		}
	}
}

func (h *Host) checkAll(ctx context.Context) {
	h.mu.Lock()
	snapshot := make(map[string]Plugin, len(h.loaded))
	for name, p := range h.loaded {
		snapshot[name] = p
	}
	h.mu.Unlock()

	for name, p := range snapshot {
		if p.GetStatus() != StatusReady {
			continue
		}
		if err := p.Health(ctx); err != nil {
			slog.Error("plugin failed health check", "name", name, "error", err)
		}
	}
}

// Shutdown stops every loaded plugin. Errors are collected, not
// short-circuited — one stubborn plugin must not strand the rest.
func (h *Host) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	loaded := h.loaded
	h.loaded = make(map[string]Plugin)
	h.mu.Unlock()

	var firstErr error
	for name, p := range loaded {
		if err := p.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = NewPluginError(name, "shutdown", "failed to stop", err)
		}
	}
	return firstErr
}
