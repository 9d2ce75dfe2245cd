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

package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/olav-network/olav/pkg/config/provider"
)

// Loader turns a Provider's raw bytes into validated *Config values:
// YAML decode, environment expansion, struct mapping, defaults,
// environment overlays, validation — in that order, every load.
type Loader struct {
	source   provider.Provider
	onChange func(*Config)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange installs the callback Watch hands re-validated configs to.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) { l.onChange = fn }
}

// NewLoader builds a Loader over source.
func NewLoader(source provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{source: source}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load runs the full pipeline once.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	raw, err := l.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &Config{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(ExpandEnvVarsInData(tree)); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Watch blocks until ctx ends, reloading on every change signal from
// the provider. A reload that fails to parse or validate is logged and
// dropped — the running config stays in effect until a good document
// lands.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}
	if changes == nil {
		slog.Info("config source does not support watching", "type", l.source.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	slog.Info("watching for config changes", "type", l.source.Type())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, open := <-changes:
			if !open {
				return nil
			}
			cfg, err := l.Load(ctx)
			if err != nil {
				slog.Error("config reload rejected, keeping previous config", "error", err)
				continue
			}
			slog.Info("config reloaded")
			if l.onChange != nil {
				l.onChange(cfg)
			}
		}
	}
}

// Close releases the underlying provider.
func (l *Loader) Close() error {
	return l.source.Close()
}

// LoadFile is shorthand for loading a config document from a local path.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	p, err := provider.NewFileProvider(path)
	if err != nil {
		return nil, err
	}
	return NewLoader(p).Load(ctx)
}
