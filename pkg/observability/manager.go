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
	"context"
	"net/http"
	"sync"
)

// Manager owns the tracing and metrics lifecycle for one process. It is
// safe for concurrent use after Initialize.
type Manager struct {
	tracer  *Tracer
	metrics *Metrics
	config  Config
	mu      sync.RWMutex
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		config: cfg,
	}
}

// Initialize sets up the tracer and metrics backends and installs the
// metrics as the process-wide recorder.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracer, err := InitTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracer = tracer

	metrics, err := InitMetrics(ctx, m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics

	SetGlobalMetrics(m.metrics)

	return nil
}

func (m *Manager) GetTracer() *Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracer
}

func (m *Manager) GetMetrics() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// MetricsHandler returns the scrape handler. Safe to call on an
// uninitialized manager; a nil Metrics serves 503.
func (m *Manager) MetricsHandler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics.Handler()
}

// MetricsPath returns the configured scrape path.
func (m *Manager) MetricsPath() string {
	if m.config.Metrics.Endpoint != "" {
		return m.config.Metrics.Endpoint
	}
	return DefaultMetricsPath
}

// Shutdown flushes pending spans and resets the global recorder.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	SetGlobalMetrics(nil)

	if m.tracer != nil {
		return m.tracer.Shutdown(ctx)
	}
	return nil
}
