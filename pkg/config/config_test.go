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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olav-network/olav/pkg/config/provider"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 168, cfg.Auth.SessionTTLHours)
	assert.Equal(t, 10, cfg.Orchestrator.FanOutMaxConcurrency)
	assert.Equal(t, 4, cfg.Orchestrator.JobWorkers)
	assert.Equal(t, 30, cfg.Orchestrator.DeviceTimeoutSeconds)
	assert.Equal(t, 60, cfg.Orchestrator.ToolTimeoutSeconds)
	assert.Equal(t, 256, cfg.Orchestrator.StreamBufferEvents)
	assert.Equal(t, 3, cfg.Orchestrator.DeepDiveMaxDepth)
	assert.Equal(t, 30, cfg.Orchestrator.DeepDiveMaxFanout)
	assert.False(t, cfg.Orchestrator.GuardModeEnabled)
	assert.InDelta(t, 0.6, cfg.Orchestrator.DispatchConfidenceFloor, 1e-9)
	assert.Equal(t, "episodic", cfg.Knowledge.EpisodicCollection)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MASTER_TOKEN", "secret-master")
	t.Setenv("SESSION_TTL_HOURS", "24")
	t.Setenv("FAN_OUT_MAX_CONCURRENCY", "3")
	t.Setenv("GUARD_MODE_ENABLED", "true")
	t.Setenv("DISPATCH_CONFIDENCE_FLOOR", "0.8")

	cfg := Default()

	assert.Equal(t, "secret-master", cfg.Auth.MasterToken)
	assert.Equal(t, 24, cfg.Auth.SessionTTLHours)
	assert.Equal(t, 3, cfg.Orchestrator.FanOutMaxConcurrency)
	assert.True(t, cfg.Orchestrator.GuardModeEnabled)
	assert.InDelta(t, 0.8, cfg.Orchestrator.DispatchConfidenceFloor, 1e-9)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "port out of range",
			mutate: func(c *Config) { c.Server.Port = 70000 },
			want:   "server.port",
		},
		{
			name:   "confidence floor above one",
			mutate: func(c *Config) { c.Orchestrator.DispatchConfidenceFloor = 1.5 },
			want:   "dispatch_confidence_floor",
		},
		{
			name:   "storage references unknown database",
			mutate: func(c *Config) { c.Storage.Database = "missing" },
			want:   "undefined database",
		},
		{
			name:   "bad logger format",
			mutate: func(c *Config) { c.Logger.Format = "xml" },
			want:   "logger.format",
		},
		{
			name: "bad rate limit scope",
			mutate: func(c *Config) {
				c.RateLimiting = &RateLimitConfig{
					Enabled: BoolPtr(true),
					Scope:   "team",
					Limits:  []RateLimitRule{{Type: "requests", Window: "minute", Limit: 10}},
				}
			},
			want: "rate_limiting.scope",
		},
		{
			name: "bad rate limit type",
			mutate: func(c *Config) {
				c.RateLimiting = &RateLimitConfig{
					Enabled: BoolPtr(true),
					Limits:  []RateLimitRule{{Type: "tokens", Window: "minute", Limit: 10}},
				}
			},
			want: "limits[0].type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.SetDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoaderExpandsEnvVars(t *testing.T) {
	t.Setenv("OLAV_TEST_DB_PATH", "/tmp/olav-test.db")

	dir := t.TempDir()
	path := filepath.Join(dir, "olav.yaml")
	doc := `
name: test
server:
  port: 9090
databases:
  default:
    driver: sqlite
    database: ${OLAV_TEST_DB_PATH}
storage:
  database: default
orchestrator:
  job_workers: 2
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)
	cfg, err := NewLoader(p).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/olav-test.db", cfg.Databases["default"].Database)
	assert.Equal(t, 2, cfg.Orchestrator.JobWorkers)
	// Untouched knobs still get their defaults.
	assert.Equal(t, 256, cfg.Orchestrator.StreamBufferEvents)
}

func TestLoaderRejectsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "olav.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600))

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)
	_, err = NewLoader(p).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}
