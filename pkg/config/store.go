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

// StoreConfig selects and configures the cursor store backend.
//
// Example:
//
//	store:
//	  backend: redis
//	  redis:
//	    addr: localhost:6379
//	    key_prefix: "quota:"
//	    ttl: 48h
type StoreConfig struct {
	// Backend is "memory", "sql", or "redis". Default: memory.
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=memory,enum=sql,enum=redis,default=memory"`

	// SQLDatabase names the databases entry used when backend is sql.
	// Default: "default".
	SQLDatabase string `yaml:"sql_database,omitempty" json:"sql_database,omitempty"`

	// Redis configures the connection used when backend is redis.
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// Purge configures background removal of expired cursor rows.
	Purge *PurgeConfig `yaml:"purge,omitempty" json:"purge,omitempty"`
}

// RedisConfig holds connection settings for the redis backend.
type RedisConfig struct {
	// Addr is the host:port of the redis server. Default: localhost:6379.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`

	// Password authenticates the connection when set.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// DB selects the redis logical database.
	DB int `yaml:"db,omitempty" json:"db,omitempty"`

	// KeyPrefix namespaces all hash keys. Default: "quota:".
	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`

	// TTL refreshes key expiry on every commit; zero disables expiry and
	// leaves cleanup to the purge job.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// PurgeConfig controls the background job that deletes cursor rows whose
// refill instant is comfortably in the past. A cursor before now carries no
// state, so purging is safe at any margin; the margin only guards against
// clock skew between writers.
type PurgeConfig struct {
	// Enabled turns the background purge loop on. Default: false.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Interval between purge runs. Default: 10m.
	Interval time.Duration `yaml:"interval,omitempty" json:"interval,omitempty"`

	// Margin subtracted from the current time to form the purge cutoff.
	// Default: 1h.
	Margin time.Duration `yaml:"margin,omitempty" json:"margin,omitempty"`
}

// SetDefaults applies default values to the store config.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}

	if c.Backend == "redis" {
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		c.Redis.SetDefaults()
	}

	if c.Purge != nil {
		c.Purge.SetDefaults()
	}
}

// Validate checks the store configuration.
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case "memory", "sql", "redis":
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql, redis)", c.Backend)
	}

	if c.Backend == "redis" {
		if c.Redis == nil {
			return fmt.Errorf("redis section is required when backend is redis")
		}
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	if c.Purge != nil {
		if err := c.Purge.Validate(); err != nil {
			return fmt.Errorf("purge: %w", err)
		}
	}

	return nil
}

// SetDefaults applies default values to the redis config.
func (c *RedisConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "quota:"
	}
}

// Validate checks the redis configuration.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("db must not be negative")
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl must not be negative")
	}
	return nil
}

// SetDefaults applies default values to the purge config.
func (c *PurgeConfig) SetDefaults() {
	if c.Interval == 0 {
		c.Interval = 10 * time.Minute
	}
	if c.Margin == 0 {
		c.Margin = time.Hour
	}
}

// Validate checks the purge configuration.
func (c *PurgeConfig) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	if c.Margin < 0 {
		return fmt.Errorf("margin must not be negative")
	}
	return nil
}
