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

import "fmt"

// DenylistConfig configures the hard block list checked before any quota
// evaluation. Denied paths are rejected outright without consuming quota.
//
// Example:
//
//	denylist:
//	  enabled: true
//	  source: file
//	  file: ./denylist.yaml
//	  watch: true
type DenylistConfig struct {
	// Enabled turns the denylist check on. Default: false.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Source is "memory", "file", or "sql". Default: memory.
	Source string `yaml:"source,omitempty" json:"source,omitempty" jsonschema:"enum=memory,enum=file,enum=sql,default=memory"`

	// File is the path of the denylist file when source is file.
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// Watch reloads the file on change when source is file. Default: true.
	Watch *bool `yaml:"watch,omitempty" json:"watch,omitempty"`

	// SQLDatabase names the databases entry used when source is sql.
	// Default: "default".
	SQLDatabase string `yaml:"sql_database,omitempty" json:"sql_database,omitempty"`

	// PrincipalKey is the request context key whose value is checked
	// against the denylist. Default: "user_id".
	PrincipalKey string `yaml:"principal_key,omitempty" json:"principal_key,omitempty"`
}

// SetDefaults applies default values.
func (c *DenylistConfig) SetDefaults() {
	if c.Source == "" {
		c.Source = "memory"
	}
	if c.Source == "file" && c.Watch == nil {
		watch := true
		c.Watch = &watch
	}
	if c.Source == "sql" && c.SQLDatabase == "" {
		c.SQLDatabase = DefaultDatabaseName
	}
	if c.PrincipalKey == "" {
		c.PrincipalKey = "user_id"
	}
}

// Validate checks the denylist configuration.
func (c *DenylistConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Source {
	case "memory", "file", "sql":
	default:
		return fmt.Errorf("invalid source %q (valid: memory, file, sql)", c.Source)
	}

	if c.Source == "file" && c.File == "" {
		return fmt.Errorf("file is required when source is file")
	}

	return nil
}

// IsWatchEnabled returns whether file watching is on.
func (c *DenylistConfig) IsWatchEnabled() bool {
	if c.Watch == nil {
		return c.Source == "file"
	}
	return *c.Watch
}
