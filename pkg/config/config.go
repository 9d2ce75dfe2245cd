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

// Package config loads and validates the OLAV runtime configuration: a
// single YAML document (optionally sourced from Consul KV) with
// ${ENV_VAR} expansion, plus direct environment-variable overrides for
// every operational knob. Every sub-struct follows the same
// SetDefaults/Validate pair convention.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olav-network/olav/pkg/observability"
	"github.com/olav-network/olav/pkg/vector"
)

// Config is the root configuration document.
type Config struct {
	// Name of this configuration (for logging/display).
	Name string `yaml:"name,omitempty"`

	// Description of this configuration.
	Description string `yaml:"description,omitempty"`

	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server,omitempty"`

	// Auth configures the two-tier token model.
	Auth AuthConfig `yaml:"auth,omitempty"`

	// Orchestrator configures workflow execution limits and timeouts.
	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty"`

	// Databases defines available SQL database connections, referenced
	// by name from Storage and RateLimiting.
	Databases map[string]*DatabaseConfig `yaml:"databases,omitempty"`

	// Storage selects the database backing sessions, threads,
	// checkpoints, jobs, and reports.
	Storage StorageConfig `yaml:"storage,omitempty"`

	// Knowledge configures the retrieval sources (episodic memory,
	// schema index, document index) and their vector store.
	Knowledge KnowledgeConfig `yaml:"knowledge,omitempty"`

	// Inventory seeds the embedded inventory provider; deployments with
	// a real inventory system load a provider plugin instead and leave
	// this empty.
	Inventory InventoryConfig `yaml:"inventory,omitempty"`

	// Plugins configures discovery of out-of-process adapter plugins.
	Plugins PluginsConfig `yaml:"plugins,omitempty"`

	// Inspections defines the batch inspection profiles runnable as
	// background jobs, keyed by inspection id.
	Inspections map[string]*InspectionConfig `yaml:"inspections,omitempty"`

	// Logger configures logging behavior.
	Logger LoggerConfig `yaml:"logger,omitempty"`

	// RateLimiting configures rate limiting.
	RateLimiting *RateLimitConfig `yaml:"rate_limiting,omitempty"`

	// Observability configures tracing and metrics.
	Observability *observability.Config `yaml:"observability,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Host to bind. Default: "0.0.0.0".
	Host string `yaml:"host,omitempty"`

	// Port to listen on. Default: 8080.
	Port int `yaml:"port,omitempty"`

	// BaseURL advertised in responses that carry absolute links.
	BaseURL string `yaml:"base_url,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Port)
	}
	return nil
}

// AuthConfig configures the two-tier token model.
type AuthConfig struct {
	// MasterToken bootstraps session creation. If empty, a token is
	// generated and logged once at startup.
	MasterToken string `yaml:"master_token,omitempty"`

	// SessionTTLHours is the lifetime of newly created sessions.
	// Default: 168 (7 days).
	SessionTTLHours int `yaml:"session_ttl_hours,omitempty"`
}

func (c *AuthConfig) SetDefaults() {
	if c.SessionTTLHours == 0 {
		c.SessionTTLHours = 168
	}
}

func (c *AuthConfig) Validate() error {
	if c.SessionTTLHours < 0 {
		return fmt.Errorf("auth.session_ttl_hours must be positive")
	}
	return nil
}

// OrchestratorConfig bounds workflow execution.
type OrchestratorConfig struct {
	// FanOutMaxConcurrency caps concurrent per-device operations within
	// one batch. Default: 10.
	FanOutMaxConcurrency int `yaml:"fan_out_max_concurrency,omitempty"`

	// JobWorkers is the size of the background inspection worker pool.
	// Default: 4.
	JobWorkers int `yaml:"job_workers,omitempty"`

	// DeviceTimeoutSeconds bounds a single device operation. Default: 30.
	DeviceTimeoutSeconds int `yaml:"device_timeout_seconds,omitempty"`

	// ToolTimeoutSeconds bounds a single tool invocation. Default: 60.
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds,omitempty"`

	// StreamBufferEvents bounds the per-stream event buffer before token
	// events are dropped. Default: 256.
	StreamBufferEvents int `yaml:"stream_buffer_events,omitempty"`

	// DeepDiveMaxDepth bounds deep-dive loop iterations. Default: 3.
	DeepDiveMaxDepth int `yaml:"deepdive_max_depth,omitempty"`

	// DeepDiveMaxFanout bounds parallel deep-dive sub-tasks. Default: 30.
	DeepDiveMaxFanout int `yaml:"deepdive_max_fanout,omitempty"`

	// GuardModeEnabled rejects non-network requests with a polite
	// refusal instead of dispatching them. Default: false.
	GuardModeEnabled bool `yaml:"guard_mode_enabled,omitempty"`

	// DispatchConfidenceFloor is the minimum classifier confidence
	// required to route to a write-capable workflow; below it the
	// dispatcher falls through to a quick query. Default: 0.6.
	DispatchConfidenceFloor float64 `yaml:"dispatch_confidence_floor,omitempty"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.FanOutMaxConcurrency == 0 {
		c.FanOutMaxConcurrency = 10
	}
	if c.JobWorkers == 0 {
		c.JobWorkers = 4
	}
	if c.DeviceTimeoutSeconds == 0 {
		c.DeviceTimeoutSeconds = 30
	}
	if c.ToolTimeoutSeconds == 0 {
		c.ToolTimeoutSeconds = 60
	}
	if c.StreamBufferEvents == 0 {
		c.StreamBufferEvents = 256
	}
	if c.DeepDiveMaxDepth == 0 {
		c.DeepDiveMaxDepth = 3
	}
	if c.DeepDiveMaxFanout == 0 {
		c.DeepDiveMaxFanout = 30
	}
	if c.DispatchConfidenceFloor == 0 {
		c.DispatchConfidenceFloor = 0.6
	}
}

func (c *OrchestratorConfig) Validate() error {
	if c.FanOutMaxConcurrency < 1 {
		return fmt.Errorf("orchestrator.fan_out_max_concurrency must be at least 1")
	}
	if c.JobWorkers < 1 {
		return fmt.Errorf("orchestrator.job_workers must be at least 1")
	}
	if c.DispatchConfidenceFloor < 0 || c.DispatchConfidenceFloor > 1 {
		return fmt.Errorf("orchestrator.dispatch_confidence_floor must be within [0, 1]")
	}
	return nil
}

// StorageConfig selects the SQL database backing persistent state. When
// Database is empty, in-memory stores are used (single-process,
// non-durable — development only).
type StorageConfig struct {
	// Database references an entry in the databases section.
	Database string `yaml:"database,omitempty"`
}

// KnowledgeConfig configures the retrieval layer.
type KnowledgeConfig struct {
	// VectorStore selects and configures the vector provider.
	VectorStore *vector.ProviderConfig `yaml:"vector_store,omitempty"`

	// EpisodicCollection names the collection holding past successful
	// workflow traces. Default: "episodic".
	EpisodicCollection string `yaml:"episodic_collection,omitempty"`

	// SchemaCollection names the collection holding the device data
	// schema catalogue. Default: "schema".
	SchemaCollection string `yaml:"schema_collection,omitempty"`

	// DocumentCollection names the collection holding vendor manuals and
	// internal notes. Default: "documents".
	DocumentCollection string `yaml:"document_collection,omitempty"`

	// DocumentPath, when set, points at a directory of markdown/plain
	// text files ingested into the document collection at startup.
	DocumentPath string `yaml:"document_path,omitempty"`

	// Chunking configures document splitting at ingestion time.
	Chunking ChunkingConfig `yaml:"chunking,omitempty"`
}

func (c *KnowledgeConfig) SetDefaults() {
	if c.VectorStore == nil {
		c.VectorStore = &vector.ProviderConfig{}
	}
	c.VectorStore.SetDefaults()
	if c.EpisodicCollection == "" {
		c.EpisodicCollection = "episodic"
	}
	if c.SchemaCollection == "" {
		c.SchemaCollection = "schema"
	}
	if c.DocumentCollection == "" {
		c.DocumentCollection = "documents"
	}
	c.Chunking.SetDefaults()
}

func (c *KnowledgeConfig) Validate() error {
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("knowledge.vector_store: %w", err)
	}
	return nil
}

// ChunkingConfig controls how ingested documents are split.
type ChunkingConfig struct {
	// ChunkSize is the target chunk length in characters. Default: 1000.
	ChunkSize int `yaml:"chunk_size,omitempty"`

	// ChunkOverlap is the overlap between consecutive chunks. Default: 200.
	ChunkOverlap int `yaml:"chunk_overlap,omitempty"`
}

func (c *ChunkingConfig) SetDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
}

// InventoryConfig seeds the embedded inventory provider.
type InventoryConfig struct {
	Devices []DeviceConfig `yaml:"devices,omitempty"`
}

// DeviceConfig is one inventory device described in the config file.
type DeviceConfig struct {
	Name     string            `yaml:"name"`
	Address  string            `yaml:"address,omitempty"`
	Platform string            `yaml:"platform"`
	Group    string            `yaml:"group,omitempty"`
	Role     string            `yaml:"role,omitempty"`
	Site     string            `yaml:"site,omitempty"`
	Tags     map[string]string `yaml:"tags,omitempty"`
}

// PluginsConfig configures plugin discovery.
type PluginsConfig struct {
	// Paths are scanned for plugin executables with manifests.
	Paths []string `yaml:"paths,omitempty"`
}

// InspectionConfig describes one batch inspection profile.
type InspectionConfig struct {
	// Description is shown in job listings.
	Description string `yaml:"description,omitempty"`

	// Scope selects the devices: an explicit name list or a
	// group:/role:/site: filter.
	Scope string `yaml:"scope"`

	// Commands run on every device in scope.
	Commands []string `yaml:"commands"`

	// ExpectContains marks a device as passing when every command's
	// output contains this substring; empty means reachability alone
	// passes.
	ExpectContains string `yaml:"expect_contains,omitempty"`
}

func (c *InspectionConfig) Validate() error {
	if c.Scope == "" {
		return fmt.Errorf("scope is required")
	}
	if len(c.Commands) == 0 {
		return fmt.Errorf("at least one command is required")
	}
	return nil
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error. Default: "info".
	Level string `yaml:"level,omitempty"`

	// Format is "simple", "verbose", or "json". Default: "simple".
	Format string `yaml:"format,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggerConfig) Validate() error {
	switch c.Format {
	case "simple", "verbose", "json":
	default:
		return fmt.Errorf("logger.format must be 'simple', 'verbose', or 'json', got %q", c.Format)
	}
	return nil
}

// SetDefaults applies default values to the whole document.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "olav"
	}
	if c.Databases == nil {
		c.Databases = make(map[string]*DatabaseConfig)
	}
	for _, db := range c.Databases {
		db.SetDefaults()
	}
	c.Server.SetDefaults()
	c.Auth.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Knowledge.SetDefaults()
	c.Logger.SetDefaults()
	if c.RateLimiting != nil {
		c.RateLimiting.SetDefaults()
	}
}

// Validate checks the whole document, including cross-references from
// storage and rate limiting into the databases section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if err := c.Knowledge.Validate(); err != nil {
		return err
	}
	if err := c.Logger.Validate(); err != nil {
		return err
	}
	for name, db := range c.Databases {
		if err := db.Validate(); err != nil {
			return fmt.Errorf("databases.%s: %w", name, err)
		}
	}
	for id, insp := range c.Inspections {
		if err := insp.Validate(); err != nil {
			return fmt.Errorf("inspections.%s: %w", id, err)
		}
	}
	if c.Storage.Database != "" {
		if _, ok := c.Databases[c.Storage.Database]; !ok {
			return fmt.Errorf("storage references undefined database %q", c.Storage.Database)
		}
	}
	if c.RateLimiting != nil {
		if err := c.RateLimiting.Validate(); err != nil {
			return err
		}
		if c.RateLimiting.Backend == "sql" && c.RateLimiting.SQLDatabase != "" {
			if _, ok := c.Databases[c.RateLimiting.SQLDatabase]; !ok {
				return fmt.Errorf("rate_limiting references undefined database %q", c.RateLimiting.SQLDatabase)
			}
		}
	}
	return nil
}

// ApplyEnv overlays the recognized environment variables onto c. YAML
// values lose to explicitly set environment variables, so a containerized
// deployment can run without any config file at all.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MASTER_TOKEN"); v != "" {
		c.Auth.MasterToken = v
	}
	overlayInt(&c.Auth.SessionTTLHours, "SESSION_TTL_HOURS")
	overlayInt(&c.Orchestrator.FanOutMaxConcurrency, "FAN_OUT_MAX_CONCURRENCY")
	overlayInt(&c.Orchestrator.JobWorkers, "JOB_WORKERS")
	overlayInt(&c.Orchestrator.DeviceTimeoutSeconds, "DEVICE_TIMEOUT_SECONDS")
	overlayInt(&c.Orchestrator.ToolTimeoutSeconds, "TOOL_TIMEOUT_SECONDS")
	overlayInt(&c.Orchestrator.StreamBufferEvents, "STREAM_BUFFER_EVENTS")
	overlayInt(&c.Orchestrator.DeepDiveMaxDepth, "DEEPDIVE_MAX_DEPTH")
	overlayInt(&c.Orchestrator.DeepDiveMaxFanout, "DEEPDIVE_MAX_FANOUT")
	if v := os.Getenv("GUARD_MODE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Orchestrator.GuardModeEnabled = b
		}
	}
	if v := os.Getenv("DISPATCH_CONFIDENCE_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Orchestrator.DispatchConfidenceFloor = f
		}
	}
	if v := os.Getenv("OLAV_LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := os.Getenv("OLAV_LOG_FORMAT"); v != "" {
		c.Logger.Format = v
	}
}

func overlayInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// GetDatabase looks a database config up by name.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, ok := c.Databases[name]
	return db, ok
}

// Default returns a fully defaulted config without reading any file.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	c.ApplyEnv()
	return c
}

// BoolPtr returns a pointer to b; used by optional yaml bool fields.
func BoolPtr(b bool) *bool { return &b }
