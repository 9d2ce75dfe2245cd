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

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider loads config from a Consul KV key and watches it with
// blocking queries, so a cluster of instances can share one document.
type ConsulProvider struct {
	client *api.Client
	key    string

	mu        sync.Mutex
	lastIndex uint64
	closed    bool
}

// NewConsulProvider creates a provider reading the given KV key from the
// Consul agent at address (empty means the api client's defaults,
// CONSUL_HTTP_ADDR included).
func NewConsulProvider(address, key string) (*ConsulProvider, error) {
	if key == "" {
		return nil, fmt.Errorf("consul key is required")
	}
	cfg := api.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &ConsulProvider{client: client, key: key}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the KV key.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, meta, err := p.client.KV().Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %q: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %q not found", p.key)
	}
	p.mu.Lock()
	p.lastIndex = meta.LastIndex
	p.mu.Unlock()
	return pair.Value, nil
}

// Watch signals whenever the KV key's ModifyIndex advances, using Consul
// blocking queries with a bounded wait.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	changes := make(chan struct{}, 1)

	go func() {
		defer close(changes)
		for {
			if ctx.Err() != nil {
				return
			}
			p.mu.Lock()
			index := p.lastIndex
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}

			opts := (&api.QueryOptions{WaitIndex: index, WaitTime: 5 * time.Minute}).WithContext(ctx)
			pair, meta, err := p.client.KV().Get(p.key, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("Consul watch error, retrying", "key", p.key, "error", err)
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			if pair == nil || meta.LastIndex == index {
				continue
			}

			p.mu.Lock()
			p.lastIndex = meta.LastIndex
			p.mu.Unlock()

			select {
			case changes <- struct{}{}:
			default:
			}
		}
	}()

	return changes, nil
}

// Close stops the watch loop.
func (p *ConsulProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
