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
	"fmt"
	"time"
)

// ObservabilityConfig configures tracing and metrics for the server.
type ObservabilityConfig struct {
	// Tracing configures OpenTelemetry distributed tracing.
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`

	// Metrics configures Prometheus metrics collection.
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on distributed tracing. Default: false.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Exporter specifies the trace exporter: "otlp" (default) or "stdout".
	Exporter string `yaml:"exporter,omitempty" json:"exporter,omitempty"`

	// Endpoint is the OTLP collector endpoint.
	// Default: "localhost:4317" (gRPC).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// SamplingRate controls what fraction of traces are sampled.
	// Range: 0.0 (none) to 1.0 (all). Default: 1.0.
	SamplingRate float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty"`

	// ServiceName identifies this service in traces. Default: "quotagate".
	ServiceName string `yaml:"service_name,omitempty" json:"service_name,omitempty"`

	// Insecure disables TLS for the exporter connection. Default: true.
	Insecure *bool `yaml:"insecure,omitempty" json:"insecure,omitempty"`

	// Timeout for exporter operations. Default: 10s.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns on metrics collection. Default: false.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Endpoint is the path to expose metrics on. Default: "/metrics".
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Namespace prefixes all metric names. Default: "quotagate".
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// SetDefaults applies default values.
func (c *ObservabilityConfig) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks the observability configuration.
func (c *ObservabilityConfig) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// SetDefaults applies default values to TracingConfig.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "quotagate"
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.Insecure == nil {
		insecure := true
		c.Insecure = &insecure
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate checks TracingConfig for errors.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when tracing is enabled")
	}

	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true}
	if !validExporters[c.Exporter] {
		return fmt.Errorf("invalid exporter %q (valid: otlp, stdout)", c.Exporter)
	}

	return nil
}

// IsInsecure returns whether to use an insecure exporter connection.
func (c *TracingConfig) IsInsecure() bool {
	if c.Insecure == nil {
		return true
	}
	return *c.Insecure
}

// SetDefaults applies default values to MetricsConfig.
func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "/metrics"
	}
	if c.Namespace == "" {
		c.Namespace = "quotagate"
	}
}

// Validate checks MetricsConfig for errors.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when metrics are enabled")
	}

	return nil
}
