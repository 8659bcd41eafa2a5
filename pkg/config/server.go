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

// ServerConfig configures the HTTP admission API.
type ServerConfig struct {
	// Host to bind to. Default: 0.0.0.0.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port to listen on. Default: 8080.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// ReadTimeout bounds reading a full request. Default: 10s.
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`

	// WriteTimeout bounds writing a full response. Default: 10s.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`

	// TLS configuration.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`

	// CORS configuration.
	CORS *CORSConfig `yaml:"cors,omitempty" json:"cors,omitempty"`

	// Auth configures JWT-based authentication.
	Auth *AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`

	// MCP exposes the admission operations as MCP tools.
	MCP *MCPConfig `yaml:"mcp,omitempty" json:"mcp,omitempty"`
}

// TLSConfig configures TLS termination.
type TLSConfig struct {
	// Enabled turns on TLS.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// CertFile is the path to the certificate.
	CertFile string `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`

	// KeyFile is the path to the private key.
	KeyFile string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
}

// IsEnabled returns whether TLS is on. A TLS section with cert and key
// files counts as enabled unless explicitly disabled.
func (c *TLSConfig) IsEnabled() bool {
	if c == nil {
		return false
	}
	if c.Enabled != nil {
		return *c.Enabled
	}
	return c.CertFile != "" && c.KeyFile != ""
}

// CORSConfig configures CORS.
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" json:"allowed_origins,omitempty"`

	// AllowedMethods is a list of allowed HTTP methods.
	AllowedMethods []string `yaml:"allowed_methods,omitempty" json:"allowed_methods,omitempty"`

	// AllowedHeaders is a list of allowed headers.
	AllowedHeaders []string `yaml:"allowed_headers,omitempty" json:"allowed_headers,omitempty"`

	// AllowCredentials allows credentials.
	AllowCredentials *bool `yaml:"allow_credentials,omitempty" json:"allow_credentials,omitempty"`
}

// MCPConfig configures the MCP tool surface.
type MCPConfig struct {
	// Enabled mounts the MCP handler on the HTTP server.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Path the streamable HTTP handler is mounted on. Default: /mcp.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}

	if c.Port == 0 {
		c.Port = 8080
	}

	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}

	// Default CORS for development
	if c.CORS == nil {
		c.CORS = &CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}
	}

	if c.Auth != nil {
		c.Auth.SetDefaults()
	}

	if c.MCP != nil && c.MCP.Path == "" {
		c.MCP.Path = "/mcp"
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.TLS != nil && BoolValue(c.TLS.Enabled, false) {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls requires cert_file and key_file")
		}
	}

	if c.Auth != nil {
		if err := c.Auth.Validate(); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	return nil
}

// Address returns the host:port the server binds to.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
