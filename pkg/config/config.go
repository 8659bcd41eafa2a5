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
)

// DefaultDatabaseName is the database entry assumed by SQL-backed components
// when no explicit reference is configured.
const DefaultDatabaseName = "default"

// DefaultSQLitePath is the database file created when the sql backend is
// selected without any databases section.
const DefaultSQLitePath = "./.quotagate/quotagate.db"

// Config is the root configuration for the quota engine and its server.
//
// Example:
//
//	version: "1.0"
//	name: quotagate
//
//	server:
//	  host: 0.0.0.0
//	  port: 8080
//
//	databases:
//	  default:
//	    driver: sqlite
//	    database: ./.quotagate/quotagate.db
//
//	store:
//	  backend: sql
//	  sql_database: default
//
//	limits:
//	  - path: "global"
//	    tiers:
//	      - seconds: 1
//	        quota: 10
//	  - path: "user/{user_id}"
//	    tiers:
//	      - seconds: 15
//	        quota: 2
type Config struct {
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Logger LoggerConfig `yaml:"logger,omitempty" json:"logger,omitempty"`

	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	Databases map[string]*DatabaseConfig `yaml:"databases,omitempty" json:"databases,omitempty"`

	Store StoreConfig `yaml:"store,omitempty" json:"store,omitempty"`

	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`

	Denylist DenylistConfig `yaml:"denylist,omitempty" json:"denylist,omitempty"`

	// Limits is an ordered list: routes are evaluated in declaration order
	// and a request must pass every applicable one.
	Limits []RouteLimit `yaml:"limits" json:"limits"`
}

// ValidationError reports a configuration field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ProcessConfigPipeline normalizes and validates a freshly decoded config.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// GetDatabase looks up a database entry by name.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, ok := c.Databases[name]
	if !ok || db == nil {
		return nil, false
	}
	return db, true
}

// SetDefaults applies defaults across all sections. A sql store backend
// without any databases section gets a local sqlite database so the engine
// runs with nothing but a limits list.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "quotagate"
	}

	c.Logger.SetDefaults()
	c.Server.SetDefaults()
	c.Store.SetDefaults()
	c.Observability.SetDefaults()
	c.Denylist.SetDefaults()

	if c.Databases == nil {
		c.Databases = make(map[string]*DatabaseConfig)
	}

	if c.Store.Backend == "sql" {
		if c.Store.SQLDatabase == "" {
			c.Store.SQLDatabase = DefaultDatabaseName
		}
		if _, ok := c.Databases[c.Store.SQLDatabase]; !ok && c.Store.SQLDatabase == DefaultDatabaseName {
			c.Databases[DefaultDatabaseName] = &DatabaseConfig{
				Driver:   "sqlite",
				Database: DefaultSQLitePath,
			}
		}
	}

	for name := range c.Databases {
		if c.Databases[name] != nil {
			c.Databases[name].SetDefaults()
		}
	}
}

// Validate checks the whole configuration, including that store and denylist
// references point at declared databases.
func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	for name, db := range c.Databases {
		if db == nil {
			continue
		}
		if err := db.Validate(); err != nil {
			return fmt.Errorf("database %q: %w", name, err)
		}
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.Store.Backend == "sql" {
		if _, ok := c.GetDatabase(c.Store.SQLDatabase); !ok {
			return fmt.Errorf("store: sql_database %q is not declared under databases", c.Store.SQLDatabase)
		}
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	if err := c.Denylist.Validate(); err != nil {
		return fmt.Errorf("denylist: %w", err)
	}
	if c.Denylist.Enabled && c.Denylist.Source == "sql" {
		if _, ok := c.GetDatabase(c.Denylist.SQLDatabase); !ok {
			return fmt.Errorf("denylist: sql_database %q is not declared under databases", c.Denylist.SQLDatabase)
		}
	}

	if err := ValidateLimits(c.Limits); err != nil {
		return fmt.Errorf("limits: %w", err)
	}

	return nil
}
