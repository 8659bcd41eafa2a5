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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/quotagate/pkg/config"
)

// SchemaCmd generates JSON Schema from the config structs, for editor
// completion and config linting. Output goes to stdout so it can be
// redirected.
type SchemaCmd struct {
	// Compact enables compact JSON output (no indentation)
	Compact bool `help:"Compact JSON output (no indentation)."`
}

// Run executes the schema generation command.
func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		// Disallow additional properties for strict validation
		AllowAdditionalProperties: false,
		// Inline all definitions (no $ref)
		DoNotReference: true,
	}

	schema := reflector.Reflect(&config.Config{})

	schema.ID = "https://quotagate.dev/schemas/config.json"
	schema.Title = "QuotaGate Configuration Schema"
	schema.Description = "Complete configuration schema for the QuotaGate quota engine"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	schema.Examples = []interface{}{
		map[string]interface{}{
			"version": "1",
			"name":    "api-quotas",
			"limits": []interface{}{
				map[string]interface{}{
					"path": "user/{user_id}",
					"tiers": []interface{}{
						map[string]interface{}{"seconds": 15, "quota": 2},
						map[string]interface{}{"hours": 24, "quota": 250},
					},
				},
			},
			"store": map[string]interface{}{
				"backend":      "sql",
				"sql_database": "default",
			},
			"databases": map[string]interface{}{
				"default": map[string]interface{}{
					"driver":   "sqlite",
					"database": "./.quotagate/quotagate.db",
				},
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}

	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}

	return nil
}
