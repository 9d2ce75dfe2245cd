// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the HTTP surface: the auth endpoints, the
// streaming orchestrator endpoints, thread/job/report reads, and the
// operational health/config/metrics endpoints, all routed through chi
// with the auth middleware from pkg/auth.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/olav-network/olav/pkg/auth"
	"github.com/olav-network/olav/pkg/config"
	"github.com/olav-network/olav/pkg/dispatcher"
	"github.com/olav-network/olav/pkg/job"
	"github.com/olav-network/olav/pkg/observability"
	"github.com/olav-network/olav/pkg/ratelimit"
	"github.com/olav-network/olav/pkg/session"
	"github.com/olav-network/olav/pkg/stream"
	"github.com/olav-network/olav/pkg/tool"
	"github.com/olav-network/olav/pkg/workflow"
)

// Options wires the server's collaborators.
type Options struct {
	Config        *config.Config
	Authenticator *auth.Authenticator
	Dispatcher    *dispatcher.Dispatcher
	Jobs          *job.Manager
	Threads       session.Store
	Broker        *stream.Broker
	Tools         *tool.Registry
	Observability *observability.Manager
	Logger        *slog.Logger

	// RateLimiter, when non-nil, meters authenticated requests per
	// RateLimitScope.
	RateLimiter    ratelimit.Limiter
	RateLimitScope ratelimit.Scope
}

// Server is the HTTP front of the orchestration core.
type Server struct {
	cfg        *config.Config
	authn      *auth.Authenticator
	dispatcher *dispatcher.Dispatcher
	jobs       *job.Manager
	threads    session.Store
	broker     *stream.Broker
	tools      *tool.Registry
	obs        *observability.Manager
	logger     *slog.Logger

	limiter      ratelimit.Limiter
	limiterScope ratelimit.Scope

	httpServer *http.Server
}

// New builds a Server; it does not start listening.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        opts.Config,
		authn:      opts.Authenticator,
		dispatcher: opts.Dispatcher,
		jobs:       opts.Jobs,
		threads:    opts.Threads,
		broker:     opts.Broker,
		tools:        opts.Tools,
		obs:          opts.Observability,
		logger:       logger,
		limiter:      opts.RateLimiter,
		limiterScope: opts.RateLimitScope,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Config.Server.Host, opts.Config.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Router assembles the chi mux. Exposed separately so tests can drive
// the full surface through httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if s.obs != nil && (s.obs.TracingEnabled() || s.obs.MetricsEnabled()) {
		r.Use(observability.HTTPMiddleware(s.obs.Tracer(), s.obs.Metrics()))
	}

	// Unauthenticated operational endpoints.
	r.Get("/health", s.handleHealth)
	r.Get("/config", s.handleConfig)
	if s.obs != nil && s.obs.MetricsEnabled() {
		r.Handle(s.obs.MetricsEndpoint(), s.obs.MetricsHandler())
	}

	// Session bootstrap: master token only.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireMaster(s.authn))
		r.Post("/auth/register", s.handleRegister)
	})

	// Admin session management.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(s.authn))
		r.Use(auth.RequireCapability(auth.CapabilitySessionManage))
		r.Get("/auth/sessions", s.handleListSessions)
		r.Post("/auth/revoke/{token}", s.handleRevoke)
	})

	// Operational surface: any valid session; finer-grained checks
	// happen per handler. Request budgets apply here and only here —
	// the unauthenticated surface is not metered.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(s.authn))
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter, s.limiterScope))
		}
		r.Post("/orchestrator/stream", s.handleStream)
		r.Post("/orchestrator/resume", s.handleResume)
		r.Get("/threads/{id}", s.handleGetThread)
		r.Post("/inspections/{id}/run", s.handleRunInspection)
		r.Get("/inspections/jobs", s.handleListJobs)
		r.Get("/inspections/jobs/{id}", s.handleGetJob)
		r.Get("/reports/{id}", s.handleGetReport)
	})

	return r
}

// Start listens until ctx is cancelled, then drains with a bounded
// shutdown grace period.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.logger.Info("shutting down HTTP server")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// workflowKinds lists the routable workflow kinds for GET /config.
func workflowKinds() []string {
	return []string{
		string(workflow.KindQueryDiagnostic),
		string(workflow.KindDeviceExecution),
		string(workflow.KindNetBoxManagement),
		string(workflow.KindDeepDive),
		string(workflow.KindInspection),
	}
}
