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

// Package httpapi serves the admission engine over HTTP: admit and inspect
// endpoints, the static route table, health, and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/quotagate/pkg/auth"
	"github.com/kadirpekel/quotagate/pkg/config"
	"github.com/kadirpekel/quotagate/pkg/denylist"
	"github.com/kadirpekel/quotagate/pkg/observability"
	"github.com/kadirpekel/quotagate/pkg/quota"
)

// Server is the HTTP surface over a coordinator. Optional collaborators
// (denylist, auth validator, observability manager, MCP handler) are
// attached with setters before Start.
type Server struct {
	cfg         *config.Config
	coordinator *quota.Coordinator
	deny        denylist.Denylist
	obs         *observability.Manager
	validator   auth.TokenValidator
	mcpHandler  http.Handler
	httpServer  *http.Server
}

// NewServer creates an HTTP server for the coordinator. The config supplies
// the listen address, timeouts, CORS, and the denylist principal key.
func NewServer(cfg *config.Config, coordinator *quota.Coordinator) *Server {
	return &Server{
		cfg:         cfg,
		coordinator: coordinator,
	}
}

// SetDenylist attaches the denylist consulted before admission. A nil
// denylist disables the check.
func (s *Server) SetDenylist(d denylist.Denylist) {
	s.deny = d
}

// SetObservability attaches the manager whose tracer and metrics instrument
// every request and whose handler serves the metrics endpoint.
func (s *Server) SetObservability(m *observability.Manager) {
	s.obs = m
}

// SetAuth attaches the token validator enforced on the API endpoints.
func (s *Server) SetAuth(v auth.TokenValidator) {
	s.validator = v
}

// SetMCPHandler mounts an MCP streamable HTTP handler on the configured
// MCP path.
func (s *Server) SetMCPHandler(h http.Handler) {
	s.mcpHandler = h
}

// Handler builds the full router: middleware chain, API endpoints, and
// operational endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Order: request-id -> logging -> tracing/metrics -> cors -> auth
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	if s.obs != nil {
		r.Use(observability.HTTPMiddleware(s.obs.GetTracer(), s.obs.GetMetrics()))
	}
	r.Use(corsMiddleware(s.cfg.Server.CORS))

	authCfg := s.cfg.Server.Auth
	if authCfg.IsEnabled() && s.validator != nil {
		if authCfg.IsRequireAuth() {
			r.Use(auth.MiddlewareWithExclusions(s.validator, authCfg.ExcludedPaths))
		} else {
			r.Use(auth.OptionalMiddleware(s.validator))
		}
	}

	r.Post("/v1/admit", s.handleAdmit)
	r.Get("/v1/remaining", s.handleRemaining)
	r.Get("/v1/routes", s.handleRoutes)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	metricsPath := observability.DefaultMetricsPath
	var metricsHandler http.Handler = observability.NoopMetrics{}.Handler()
	if s.obs != nil {
		metricsPath = s.obs.MetricsPath()
		metricsHandler = s.obs.MetricsHandler()
	}
	r.Get(metricsPath, metricsHandler.ServeHTTP)

	if s.mcpHandler != nil {
		r.Mount(s.mcpPath(), s.mcpHandler)
	}

	return r
}

func (s *Server) mcpPath() string {
	if s.cfg.Server.MCP != nil && s.cfg.Server.MCP.Path != "" {
		return s.cfg.Server.MCP.Path
	}
	return "/mcp"
}

// Start listens on the configured address until the server is stopped or
// fails. It blocks; run it on its own goroutine or errgroup.
func (s *Server) Start(ctx context.Context) error {
	serverCfg := s.cfg.Server

	s.httpServer = &http.Server{
		Addr:         serverCfg.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
	}

	slog.Info("🌐 HTTP server starting", "address", serverCfg.Address())
	if s.validator != nil && serverCfg.Auth.IsEnabled() {
		slog.Info("   → Authentication: enabled")
	}
	if s.deny != nil {
		slog.Info("   → Denylist: enabled", "principal_key", s.cfg.Denylist.PrincipalKey)
	}
	if s.mcpHandler != nil {
		slog.Info("   → MCP endpoint mounted", "path", s.mcpPath())
	}

	var err error
	if serverCfg.TLS.IsEnabled() {
		err = s.httpServer.ListenAndServeTLS(serverCfg.TLS.CertFile, serverCfg.TLS.KeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	slog.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}
