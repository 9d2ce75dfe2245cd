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

package observability

import (
	"fmt"
	"time"
)

// Config switches the two observability subsystems on independently;
// both default off.
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	// Enabled turns tracing on. Default: false.
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter is "otlp" (default) or "stdout".
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate keeps this fraction of traces, 0.0–1.0. Default: 1.0.
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	// ServiceName labels exported spans. Default: "olav".
	ServiceName string `yaml:"service_name,omitempty"`

	// ServiceVersion labels exported spans.
	ServiceVersion string `yaml:"service_version,omitempty"`

	// Insecure skips TLS toward the collector. Default: true, matching
	// the usual sidecar/localhost collector deployment.
	Insecure *bool `yaml:"insecure,omitempty"`

	// Headers are sent with every export request (auth tokens etc.).
	Headers map[string]string `yaml:"headers,omitempty"`

	// CapturePayloads attaches full tool/LLM payloads to spans. Off by
	// default: payloads can carry device configuration.
	CapturePayloads bool `yaml:"capture_payloads,omitempty"`

	// Timeout bounds each export attempt. Default: 10s.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SetDefaults fills the tracing defaults.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = DefaultSamplingRate
	}
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultOTLPEndpoint
	}
	if c.Insecure == nil {
		insecure := true
		c.Insecure = &insecure
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate rejects a tracing config that could not export anything.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Exporter != "otlp" && c.Exporter != "stdout" {
		return fmt.Errorf("exporter must be 'otlp' or 'stdout', got %q", c.Exporter)
	}
	if c.Exporter == "otlp" && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required for the otlp exporter")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be within [0, 1], got %g", c.SamplingRate)
	}
	return nil
}

// MetricsConfig configures the Prometheus scrape surface.
type MetricsConfig struct {
	// Enabled turns metrics on. Default: false.
	Enabled bool `yaml:"enabled,omitempty"`

	// Endpoint is the scrape path. Default: "/metrics".
	Endpoint string `yaml:"endpoint,omitempty"`

	// Namespace prefixes every metric name. Default: "olav".
	Namespace string `yaml:"namespace,omitempty"`

	// ConstLabels are stamped onto every metric (e.g. site, instance).
	ConstLabels map[string]string `yaml:"const_labels,omitempty"`
}

// SetDefaults fills the metrics defaults.
func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultMetricsPath
	}
	if c.Namespace == "" {
		c.Namespace = DefaultServiceName
	}
}

// Validate rejects a broken scrape path.
func (c *MetricsConfig) Validate() error {
	if c.Enabled && (c.Endpoint == "" || c.Endpoint[0] != '/') {
		return fmt.Errorf("metrics endpoint must start with '/', got %q", c.Endpoint)
	}
	return nil
}

// SetDefaults fills both subsystems' defaults.
func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks both subsystems.
func (c *Config) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
