package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMetricsRecordingNilSafe(t *testing.T) {
	ctx := context.Background()

	metrics := &Metrics{}

	metrics.RecordAdmit(ctx, true)
	metrics.RecordAdmit(ctx, false)
	metrics.RecordRouteRejection(ctx, "user/{user_id}")
	metrics.RecordEvaluation(ctx, 3*time.Millisecond)
	metrics.RecordStoreCommit(ctx, time.Millisecond)
	metrics.RecordStoreConflict(ctx)
	metrics.RecordStoreError(ctx, "commit")
	metrics.RecordDenylistHit(ctx)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/admit", 200, 2*time.Millisecond, 128)

	t.Log("✅ Disabled metrics recorded without panicking")
}

func TestNilMetricsRecording(t *testing.T) {
	ctx := context.Background()

	var metrics *Metrics

	metrics.RecordAdmit(ctx, true)
	metrics.RecordStoreConflict(ctx)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/remaining", 200, time.Millisecond, 64)

	t.Log("✅ Nil metrics recorded without panicking")
}

func TestInitMetricsDisabled(t *testing.T) {
	metrics, err := InitMetrics(context.Background(), MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitMetrics() error = %v", err)
	}
	if metrics == nil {
		t.Fatal("InitMetrics() returned nil metrics")
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled handler status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestNoopMetrics(t *testing.T) {
	ctx := context.Background()
	noop := NoopMetrics{}

	noop.RecordAdmit(ctx, false)
	noop.RecordRouteRejection(ctx, "global")
	noop.RecordEvaluation(ctx, time.Millisecond)
	noop.RecordStoreCommit(ctx, time.Millisecond)
	noop.RecordStoreConflict(ctx)
	noop.RecordStoreError(ctx, "read")
	noop.RecordDenylistHit(ctx)
	noop.RecordHTTPRequest(ctx, "GET", "/health", 200, time.Millisecond, 16)

	rec := httptest.NewRecorder()
	noop.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("noop handler status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestGlobalRecorder(t *testing.T) {
	t.Cleanup(func() { SetGlobalMetrics(nil) })

	if GetGlobalMetrics() == nil {
		t.Fatal("default global recorder is nil")
	}

	metrics := &Metrics{}
	SetGlobalMetrics(metrics)
	if got := GetGlobalMetrics(); got != metrics {
		t.Errorf("GetGlobalMetrics() = %v, want the installed metrics", got)
	}

	SetGlobalMetrics(nil)
	got := GetGlobalMetrics()
	if got == nil {
		t.Fatal("global recorder is nil after reset")
	}
	got.RecordAdmit(context.Background(), true)
}

func TestDisabledTracer(t *testing.T) {
	tracer, err := InitTracer(context.Background(), TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	ctx, span := tracer.Start(context.Background(), SpanAdmit)
	if ctx == nil {
		t.Fatal("Start() returned nil context")
	}
	span.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNilTracerStart(t *testing.T) {
	var tracer *Tracer

	ctx, span := tracer.Start(context.Background(), SpanInspect)
	if ctx == nil {
		t.Fatal("Start() returned nil context")
	}
	span.End()
}

func TestTracingConfigDefaults(t *testing.T) {
	cfg := &TracingConfig{}
	cfg.SetDefaults()

	if cfg.Exporter != "otlp" {
		t.Errorf("Exporter = %q, want %q", cfg.Exporter, "otlp")
	}
	if cfg.Endpoint != DefaultOTLPEndpoint {
		t.Errorf("Endpoint = %q, want %q", cfg.Endpoint, DefaultOTLPEndpoint)
	}
	if cfg.SamplingRate != DefaultSamplingRate {
		t.Errorf("SamplingRate = %v, want %v", cfg.SamplingRate, DefaultSamplingRate)
	}
	if cfg.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, DefaultServiceName)
	}
	if !cfg.IsInsecure() {
		t.Error("IsInsecure() = false, want true by default")
	}
}

func TestTracingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TracingConfig)
		wantErr bool
	}{
		{
			name:    "enabled defaults valid",
			mutate:  func(c *TracingConfig) {},
			wantErr: false,
		},
		{
			name:    "sampling rate above one",
			mutate:  func(c *TracingConfig) { c.SamplingRate = 1.5 },
			wantErr: true,
		},
		{
			name:    "negative sampling rate",
			mutate:  func(c *TracingConfig) { c.SamplingRate = -0.1 },
			wantErr: true,
		},
		{
			name:    "unknown exporter",
			mutate:  func(c *TracingConfig) { c.Exporter = "jaeger" },
			wantErr: true,
		},
		{
			name:    "stdout exporter",
			mutate:  func(c *TracingConfig) { c.Exporter = "stdout" },
			wantErr: false,
		},
		{
			name:    "missing endpoint",
			mutate:  func(c *TracingConfig) { c.Endpoint = "" },
			wantErr: true,
		},
		{
			name: "disabled skips validation",
			mutate: func(c *TracingConfig) {
				c.Enabled = false
				c.SamplingRate = 99
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &TracingConfig{Enabled: true}
			cfg.SetDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsConfigDefaults(t *testing.T) {
	cfg := &MetricsConfig{}
	cfg.SetDefaults()

	if cfg.Endpoint != DefaultMetricsPath {
		t.Errorf("Endpoint = %q, want %q", cfg.Endpoint, DefaultMetricsPath)
	}
	if cfg.Namespace != "quotagate" {
		t.Errorf("Namespace = %q, want %q", cfg.Namespace, "quotagate")
	}
}

func TestManagerUninitialized(t *testing.T) {
	mgr := NoopManager()

	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("uninitialized handler status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	if got := mgr.MetricsPath(); got != DefaultMetricsPath {
		t.Errorf("MetricsPath() = %q, want %q", got, DefaultMetricsPath)
	}

	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestHTTPMiddlewarePassthrough(t *testing.T) {
	handler := HTTPMiddleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/routes", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Body.String() != "short and stout" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "short and stout")
	}
}

func TestResponseWriterDefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	if _, err := wrapped.Write([]byte("ok")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if wrapped.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want %d", wrapped.statusCode, http.StatusOK)
	}
	if wrapped.bytesWritten != 2 {
		t.Errorf("bytesWritten = %d, want 2", wrapped.bytesWritten)
	}
}

func TestResponseWriterIgnoresSecondWriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	wrapped.WriteHeader(http.StatusBadRequest)
	wrapped.WriteHeader(http.StatusInternalServerError)

	if wrapped.statusCode != http.StatusBadRequest {
		t.Errorf("statusCode = %d, want %d", wrapped.statusCode, http.StatusBadRequest)
	}
}

func BenchmarkDisabledMetricsRecording(b *testing.B) {
	ctx := context.Background()
	metrics := &Metrics{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		metrics.RecordAdmit(ctx, true)
	}
}
