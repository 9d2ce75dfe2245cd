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

import "fmt"

// RateLimitConfig budgets API requests and device operations per
// authenticated caller.
type RateLimitConfig struct {
	// Enabled turns rate limiting on.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Scope keys budgets to "client" (each client_id separately, the
	// default) or "role" (one pooled budget per role tier).
	Scope string `yaml:"scope,omitempty" json:"scope,omitempty"`

	// Backend stores the counters: "memory" (single instance, default)
	// or "sql" (shared across a cluster).
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`

	// SQLDatabase references an entry in the databases section; required
	// when Backend is "sql".
	SQLDatabase string `yaml:"sql_database,omitempty" json:"sql_database,omitempty"`

	// Limits are the budget rules.
	Limits []RateLimitRule `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// RateLimitRule is one budget rule.
type RateLimitRule struct {
	// Type is what the rule meters: "requests" (API calls) or
	// "device_ops" (devices touched by fan-out batches).
	Type string `yaml:"type" json:"type"`

	// Window is the accounting period: "minute", "hour", "day", "week".
	Window string `yaml:"window" json:"window"`

	// Limit is the maximum allowed within the window.
	Limit int64 `yaml:"limit" json:"limit"`
}

// IsEnabled returns true if rate limiting is enabled.
func (c *RateLimitConfig) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}

// SetDefaults sets default values for RateLimitConfig.
func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(false)
	}
	if c.Scope == "" {
		c.Scope = "client"
	}
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.IsEnabled() && len(c.Limits) == 0 {
		// Defaults sized for one busy operator: a request burst guard
		// plus a daily device-operation quota.
		c.Limits = []RateLimitRule{
			{Type: "requests", Window: "minute", Limit: 60},
			{Type: "device_ops", Window: "day", Limit: 10000},
		}
	}
}

// Validate validates the RateLimitConfig.
func (c *RateLimitConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}

	switch c.Scope {
	case "", "client", "role":
	default:
		return fmt.Errorf("rate_limiting.scope must be 'client' or 'role', got %q", c.Scope)
	}

	switch c.Backend {
	case "", "memory":
	case "sql":
		if c.SQLDatabase == "" {
			return fmt.Errorf("rate_limiting.backend 'sql' requires 'sql_database'")
		}
	default:
		return fmt.Errorf("rate_limiting.backend must be 'memory' or 'sql', got %q", c.Backend)
	}

	if len(c.Limits) == 0 {
		return fmt.Errorf("rate_limiting.limits is required when rate limiting is enabled")
	}
	for i, rule := range c.Limits {
		switch rule.Type {
		case "requests", "device_ops":
		default:
			return fmt.Errorf("rate_limiting.limits[%d].type must be 'requests' or 'device_ops', got %q", i, rule.Type)
		}
		switch rule.Window {
		case "minute", "hour", "day", "week":
		default:
			return fmt.Errorf("rate_limiting.limits[%d].window must be 'minute', 'hour', 'day', or 'week', got %q", i, rule.Window)
		}
		if rule.Limit <= 0 {
			return fmt.Errorf("rate_limiting.limits[%d].limit must be positive", i)
		}
	}
	return nil
}
