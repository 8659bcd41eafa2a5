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
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the quota engine's instruments. The zero value is a valid
// no-op: every Record method tolerates nil instruments, so disabled metrics
// cost a nil check per call.
type Metrics struct {
	admitTotal          metric.Int64Counter
	routeRejections     metric.Int64Counter
	evaluateDuration    metric.Float64Histogram
	storeCommitDuration metric.Float64Histogram
	storeConflicts      metric.Int64Counter
	storeErrors         metric.Int64Counter
	denylistHits        metric.Int64Counter

	httpRequests     metric.Int64Counter
	httpDuration     metric.Float64Histogram
	httpResponseSize metric.Int64Histogram

	enabled bool
}

// InitMetrics wires an OpenTelemetry meter to the Prometheus default
// registry and creates the engine's instruments. When disabled, a no-op
// Metrics is returned.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter(cfg.Namespace)
	ns := cfg.Namespace

	m := &Metrics{enabled: true}

	m.admitTotal, err = meter.Int64Counter(
		ns+"_admit_total",
		metric.WithDescription("Admission decisions by verdict"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admit counter: %w", err)
	}

	m.routeRejections, err = meter.Int64Counter(
		ns+"_route_rejections_total",
		metric.WithDescription("Rejections by the route that denied the request"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create route rejections counter: %w", err)
	}

	m.evaluateDuration, err = meter.Float64Histogram(
		ns+"_evaluate_duration_seconds",
		metric.WithDescription("Full admission evaluation duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluate duration histogram: %w", err)
	}

	m.storeCommitDuration, err = meter.Float64Histogram(
		ns+"_store_commit_duration_seconds",
		metric.WithDescription("Cursor batch commit duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit duration histogram: %w", err)
	}

	m.storeConflicts, err = meter.Int64Counter(
		ns+"_store_conflicts_total",
		metric.WithDescription("Commits rejected because a cursor moved concurrently"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store conflicts counter: %w", err)
	}

	m.storeErrors, err = meter.Int64Counter(
		ns+"_store_errors_total",
		metric.WithDescription("Store failures by operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store errors counter: %w", err)
	}

	m.denylistHits, err = meter.Int64Counter(
		ns+"_denylist_hits_total",
		metric.WithDescription("Requests refused because the principal is denylisted"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create denylist hits counter: %w", err)
	}

	m.httpRequests, err = meter.Int64Counter(
		ns+"_http_requests_total",
		metric.WithDescription("HTTP requests by method, path, and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		ns+"_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.httpResponseSize, err = meter.Int64Histogram(
		ns+"_http_response_size_bytes",
		metric.WithDescription("HTTP response size in bytes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http response size histogram: %w", err)
	}

	return m, nil
}

// RecordAdmit counts one admission decision.
func (m *Metrics) RecordAdmit(ctx context.Context, admitted bool) {
	if m == nil || m.admitTotal == nil {
		return
	}

	verdict := "rejected"
	if admitted {
		verdict = "admitted"
	}
	m.admitTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrVerdict, verdict),
	))
}

// RecordRouteRejection counts a rejection against the route template that
// denied the request. Templates come from config, so cardinality is bounded.
func (m *Metrics) RecordRouteRejection(ctx context.Context, route string) {
	if m == nil || m.routeRejections == nil {
		return
	}
	m.routeRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRoute, route),
	))
}

// RecordEvaluation records the duration of one full admission evaluation,
// including any commit retries.
func (m *Metrics) RecordEvaluation(ctx context.Context, duration time.Duration) {
	if m == nil || m.evaluateDuration == nil {
		return
	}
	m.evaluateDuration.Record(ctx, duration.Seconds())
}

// RecordStoreCommit records one cursor batch commit attempt.
func (m *Metrics) RecordStoreCommit(ctx context.Context, duration time.Duration) {
	if m == nil || m.storeCommitDuration == nil {
		return
	}
	m.storeCommitDuration.Record(ctx, duration.Seconds())
}

// RecordStoreConflict counts a commit rejected by cursor contention.
func (m *Metrics) RecordStoreConflict(ctx context.Context) {
	if m == nil || m.storeConflicts == nil {
		return
	}
	m.storeConflicts.Add(ctx, 1)
}

// RecordStoreError counts a store failure for the given operation
// ("read" or "commit").
func (m *Metrics) RecordStoreError(ctx context.Context, op string) {
	if m == nil || m.storeErrors == nil {
		return
	}
	m.storeErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
	))
}

// RecordDenylistHit counts a request refused by the denylist.
func (m *Metrics) RecordDenylistHit(ctx context.Context) {
	if m == nil || m.denylistHits == nil {
		return
	}
	m.denylistHits.Add(ctx, 1)
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, respSize int64) {
	if m == nil || m.httpRequests == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	}

	m.httpRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.httpResponseSize.Record(ctx, respSize, metric.WithAttributes(attrs...))
}

// Handler serves the Prometheus scrape endpoint. When metrics are disabled
// it answers 503 so probes can tell the difference from an empty exposition.
func (m *Metrics) Handler() http.Handler {
	if m == nil || !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.Handler()
}
