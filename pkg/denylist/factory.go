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

package denylist

import (
	"fmt"

	"github.com/kadirpekel/quotagate/pkg/config"
)

// NewFromConfig creates the denylist selected by the denylist section, or
// (nil, nil) when the denylist is disabled.
//
// Example config:
//
//	denylist:
//	  enabled: true
//	  source: file
//	  file: ./denylist.yaml
//	  watch: true
func NewFromConfig(cfg *config.Config, pool *config.DBPool) (Denylist, error) {
	dlCfg := cfg.Denylist
	if !dlCfg.Enabled {
		return nil, nil
	}

	switch dlCfg.Source {
	case "file":
		if dlCfg.File == "" {
			return nil, fmt.Errorf("denylist.file is required when source is file")
		}
		list, err := NewFileDenylist(dlCfg.File, dlCfg.IsWatchEnabled())
		if err != nil {
			return nil, fmt.Errorf("failed to load denylist file: %w", err)
		}
		return list, nil

	case "sql":
		if pool == nil {
			return nil, fmt.Errorf("database pool is required for the sql denylist source")
		}

		dbName := dlCfg.SQLDatabase
		if dbName == "" {
			return nil, fmt.Errorf("denylist.sql_database is required when source is sql")
		}

		dbCfg, ok := cfg.GetDatabase(dbName)
		if !ok {
			return nil, fmt.Errorf("database %q not found", dbName)
		}

		db, err := pool.Get(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %w", err)
		}

		list, err := NewSQLDenylist(db, dbCfg.Dialect())
		if err != nil {
			return nil, fmt.Errorf("failed to create sql denylist: %w", err)
		}
		return list, nil

	case "memory", "":
		return NewMemoryDenylist(), nil

	default:
		return nil, fmt.Errorf("unknown denylist source %q (valid: memory, file, sql)", dlCfg.Source)
	}
}
