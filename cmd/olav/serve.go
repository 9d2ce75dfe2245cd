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

package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/olav-network/olav/pkg/auth"
	"github.com/olav-network/olav/pkg/checkpoint"
	"github.com/olav-network/olav/pkg/config"
	"github.com/olav-network/olav/pkg/config/provider"
	"github.com/olav-network/olav/pkg/deviceadapter"
	"github.com/olav-network/olav/pkg/dispatcher"
	"github.com/olav-network/olav/pkg/fanout"
	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/job"
	"github.com/olav-network/olav/pkg/observability"
	"github.com/olav-network/olav/pkg/orchestrator"
	"github.com/olav-network/olav/pkg/plugins"
	"github.com/olav-network/olav/pkg/rag"
	"github.com/olav-network/olav/pkg/ratelimit"
	"github.com/olav-network/olav/pkg/server"
	"github.com/olav-network/olav/pkg/session"
	"github.com/olav-network/olav/pkg/stream"
	"github.com/olav-network/olav/pkg/tool"
	"github.com/olav-network/olav/pkg/toolset"
	"github.com/olav-network/olav/pkg/vector"
	"github.com/olav-network/olav/pkg/workflow"
)

// ServeCmd starts the orchestration server.
type ServeCmd struct {
	Port         int    `help:"Override the configured listen port."`
	ConfigSource string `name:"config-source" help:"Config source (file, consul)." default:"file"`
	ConsulAddr   string `name:"consul-addr" help:"Consul agent address when --config-source=consul."`
	Watch        bool   `help:"Watch the config source and re-validate every change; accepted changes are logged, not applied to the running server."`
	SimDevices   bool   `name:"sim-devices" help:"Register a simulated device adapter for every configured platform (development only)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, loader, err := c.loadConfig(ctx, cli.Config)
	if err != nil {
		return exitWith(exitMisconfigured, "loading config: %v", err)
	}
	if loader != nil {
		defer loader.Close()
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	// Master token bootstrap: injected, prompted on a TTY, or generated
	// and logged exactly once.
	if cfg.Auth.MasterToken == "" {
		token, err := bootstrapMasterToken()
		if err != nil {
			return exitWith(exitMisconfigured, "master token bootstrap: %v", err)
		}
		cfg.Auth.MasterToken = token
	}

	// Storage: SQL-backed when configured, in-memory otherwise.
	dbPool := config.NewDBPool()
	defer dbPool.Close()

	var db *sql.DB
	if cfg.Storage.Database != "" {
		dbCfg, _ := cfg.GetDatabase(cfg.Storage.Database)
		db, err = dbPool.Get(dbCfg)
		if err != nil {
			return exitWith(exitMisconfigured, "opening storage database: %v", err)
		}
	}

	sessionStore, threadStore, checkpointStore, jobStore, err := buildStores(ctx, db)
	if err != nil {
		return exitWith(exitMisconfigured, "initializing stores: %v", err)
	}

	// Request and device-operation budgets.
	limiter, limiterScope, err := ratelimit.FromConfig(cfg, dbPool)
	if err != nil {
		return exitWith(exitMisconfigured, "rate limiting: %v", err)
	}

	authn := auth.New(sessionStore, cfg.Auth.MasterToken, time.Duration(cfg.Auth.SessionTTLHours)*time.Hour)

	// Expired sessions are garbage-collected on a slow sweep.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := authn.PruneExpired(ctx); err != nil {
					slog.Warn("session garbage collection failed", "error", err)
				} else if n > 0 {
					slog.Info("pruned expired sessions", "count", n)
				}
				if limiter != nil {
					if err := limiter.Sweep(ctx, time.Now()); err != nil {
						slog.Warn("rate budget sweep failed", "error", err)
					}
				}
			}
		}
	}()

	// Knowledge lookup: vector store + searcher over the three sources.
	vectorProvider, err := vector.NewProvider(cfg.Knowledge.VectorStore)
	if err != nil {
		return exitWith(exitMisconfigured, "vector store: %v", err)
	}
	defer vectorProvider.Close()
	knowledge := rag.NewSearcher(vectorProvider, newLocalEmbedder(),
		cfg.Knowledge.EpisodicCollection, cfg.Knowledge.SchemaCollection, cfg.Knowledge.DocumentCollection,
		slog.Default())
	if cfg.Knowledge.DocumentPath != "" {
		chunker := rag.NewOverlapChunker(cfg.Knowledge.Chunking.ChunkSize, cfg.Knowledge.Chunking.ChunkOverlap)
		n, err := knowledge.IngestDirectory(ctx, chunker, cfg.Knowledge.DocumentPath)
		if err != nil {
			return exitWith(exitMisconfigured, "indexing documents: %v", err)
		}
		slog.Info("document index ready", "files", n)
	}

	// Inventory and device adapters.
	inv := inventory.NewMemoryProvider(configDevices(cfg))
	adapters := deviceadapter.NewRegistry()
	pluginHost, err := loadAdapterPlugins(ctx, cfg, adapters)
	if err != nil {
		return exitWith(exitMisconfigured, "loading device adapter plugins: %v", err)
	}
	go pluginHost.Supervise(ctx, 30*time.Second)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pluginHost.Shutdown(shutdownCtx); err != nil {
			slog.Warn("plugin shutdown failed", "error", err)
		}
	}()
	if c.SimDevices {
		if err := registerSimAdapters(cfg, adapters); err != nil {
			return exitWith(exitMisconfigured, "registering simulated adapters: %v", err)
		}
	}
	if adapters.Count() == 0 {
		slog.Warn("no device adapters registered; device operations will fail until a plugin is loaded")
	}

	// Tool catalogue.
	tools := tool.NewRegistry()
	runner := fanout.NewRunner(inv, tools)
	if limiter != nil {
		runner.WithLimiter(limiter, limiterScope)
	}
	batch := toolset.FanoutBatch{
		Runner:      runner,
		Concurrency: cfg.Orchestrator.FanOutMaxConcurrency,
		PerDevice:   time.Duration(cfg.Orchestrator.DeviceTimeoutSeconds) * time.Second,
	}
	err = toolset.Register(tools, toolset.Deps{
		Chat:      newRuleChat(),
		Classify:  newKeywordClassifier(),
		Inventory: inv,
		Adapters:  adapters,
		Knowledge: knowledge,
		Writer:    inventoryLogWriter{},
		Batch:     batch,
		Tasks:     batch,
		Logger:    slog.Default(),
	})
	if err != nil {
		return exitWith(exitMisconfigured, "registering tools: %v", err)
	}

	// Workflows, engine, dispatcher.
	workflows := workflow.NewRegistry()
	if err := orchestrator.BuildAll(workflows, orchestrator.Deps{
		Inventory:         inv,
		DeepDiveMaxDepth:  cfg.Orchestrator.DeepDiveMaxDepth,
		DeepDiveMaxFanout: cfg.Orchestrator.DeepDiveMaxFanout,
	}); err != nil {
		return exitWith(exitMisconfigured, "compiling workflows: %v", err)
	}

	engine := workflow.NewEngine(tools, threadStore, checkpoint.NewManager(checkpointStore, threadStore))
	broker := stream.NewBroker(cfg.Orchestrator.StreamBufferEvents)
	disp := dispatcher.New(threadStore, engine, workflows, tools, broker, knowledge, dispatcher.Config{
		GuardMode:       cfg.Orchestrator.GuardModeEnabled,
		ConfidenceFloor: cfg.Orchestrator.DispatchConfidenceFloor,
	}, slog.Default())

	// Background job layer.
	jobs := job.NewManager(jobStore,
		orchestrator.InspectionRunner(engine, workflows, threadStore, cfg.Inspections),
		cfg.Orchestrator.JobWorkers, slog.Default())
	jobs.Start(ctx)

	// Observability.
	obsCfg := cfg.Observability
	if obsCfg == nil {
		obsCfg = &observability.Config{}
	}
	obs, err := observability.NewManager(ctx, obsCfg)
	if err != nil {
		return exitWith(exitMisconfigured, "observability: %v", err)
	}
	if obs.MetricsEnabled() {
		disp.SetRecorder(obs.Metrics())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	srv, err := server.New(server.Options{
		Config:        cfg,
		Authenticator: authn,
		Dispatcher:    disp,
		Jobs:          jobs,
		Threads:       threadStore,
		Broker:        broker,
		Tools:          tools,
		Observability:  obs,
		Logger:         slog.Default(),
		RateLimiter:    limiter,
		RateLimitScope: limiterScope,
	})
	if err != nil {
		return exitWith(exitMisconfigured, "building server: %v", err)
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("config watch stopped", "error", err)
			}
		}()
	}

	if err := srv.Start(ctx); err != nil {
		return exitWith(exitRuntimeFailure, "server: %v", err)
	}
	jobs.Wait()
	return nil
}

func (c *ServeCmd) loadConfig(ctx context.Context, path string) (*config.Config, *config.Loader, error) {
	switch c.ConfigSource {
	case "consul":
		if path == "" {
			return nil, nil, fmt.Errorf("--config is the Consul KV key and is required with --config-source=consul")
		}
		p, err := provider.NewConsulProvider(c.ConsulAddr, path)
		if err != nil {
			return nil, nil, err
		}
		loader := config.NewLoader(p)
		cfg, err := loader.Load(ctx)
		return cfg, loader, err
	case "file", "":
		if path == "" {
			if _, err := os.Stat("olav.yaml"); err == nil {
				path = "olav.yaml"
			} else {
				slog.Info("no config file; running with defaults and environment overrides")
				return config.Default(), nil, nil
			}
		}
		p, err := provider.NewFileProvider(path)
		if err != nil {
			return nil, nil, err
		}
		loader := config.NewLoader(p)
		cfg, err := loader.Load(ctx)
		return cfg, loader, err
	default:
		return nil, nil, fmt.Errorf("unknown config source %q", c.ConfigSource)
	}
}

// bootstrapMasterToken prompts on a TTY or generates a fresh token,
// logging it exactly once so the operator can register clients.
func bootstrapMasterToken() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Master token (empty to generate): ")
		entered, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		if token := strings.TrimSpace(string(entered)); token != "" {
			return token, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	slog.Warn("MASTER_TOKEN not set; generated one for this run", "master_token", token)
	return token, nil
}

func buildStores(ctx context.Context, db *sql.DB) (auth.Store, session.Store, checkpoint.Store, job.Store, error) {
	if db == nil {
		return auth.NewMemoryStore(), session.NewMemoryStore(), checkpoint.NewMemoryStore(), job.NewMemoryStore(), nil
	}
	sessions, err := auth.NewSQLStore(ctx, db)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	threads, err := session.NewSQLStore(ctx, db)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	checkpoints, err := checkpoint.NewSQLStore(ctx, db)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	jobs, err := job.NewSQLStore(ctx, db)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return sessions, threads, checkpoints, jobs, nil
}

func configDevices(cfg *config.Config) []inventory.Device {
	devices := make([]inventory.Device, 0, len(cfg.Inventory.Devices))
	for _, d := range cfg.Inventory.Devices {
		devices = append(devices, inventory.Device{
			Name:     d.Name,
			Address:  d.Address,
			Platform: d.Platform,
			Group:    d.Group,
			Role:     d.Role,
			Site:     d.Site,
			Tags:     d.Tags,
		})
	}
	return devices
}

// loadAdapterPlugins discovers device adapter plugins on the configured
// paths, loads them under the returned Host's supervision, and binds
// their adapters into the registry.
func loadAdapterPlugins(ctx context.Context, cfg *config.Config, adapters *deviceadapter.Registry) (*plugins.Host, error) {
	host := plugins.NewHost()
	if err := host.RegisterLoader(deviceadapter.NewLoader(nil)); err != nil {
		return nil, err
	}
	if len(cfg.Plugins.Paths) == 0 {
		return host, nil
	}

	discovered, err := plugins.Discover(ctx, &plugins.DiscoveryConfig{
		Enabled:            true,
		Paths:              cfg.Plugins.Paths,
		ScanSubdirectories: true,
	})
	if err != nil {
		return nil, err
	}

	for _, d := range plugins.FilterByType(discovered, plugins.PluginTypeDeviceAdapter) {
		p, err := host.Load(ctx, d)
		if err != nil {
			return nil, err
		}
		la, ok := p.(interface{ Adapter() deviceadapter.Adapter })
		if !ok {
			continue
		}
		if err := adapters.Register(la.Adapter()); err != nil {
			return nil, err
		}
	}
	return host, nil
}
