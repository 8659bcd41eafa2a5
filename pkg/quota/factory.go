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

package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/quotagate/pkg/config"
)

const redisDialTimeout = 5 * time.Second

// NewStoreFromConfig creates the cursor store selected by the store section.
//
// Example config:
//
//	databases:
//	  default:
//	    driver: sqlite
//	    database: ./.quotagate/quotagate.db
//
//	store:
//	  backend: sql
//	  sql_database: default
func NewStoreFromConfig(cfg *config.Config, pool *config.DBPool) (Store, error) {
	storeCfg := cfg.Store

	switch storeCfg.Backend {
	case "sql":
		if pool == nil {
			return nil, fmt.Errorf("database pool is required for the sql store backend")
		}

		dbName := storeCfg.SQLDatabase
		if dbName == "" {
			return nil, fmt.Errorf("store.sql_database is required when backend is sql")
		}

		dbCfg, ok := cfg.GetDatabase(dbName)
		if !ok {
			return nil, fmt.Errorf("database %q not found", dbName)
		}

		db, err := pool.Get(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %w", err)
		}

		store, err := NewSQLStore(db, dbCfg.Dialect())
		if err != nil {
			return nil, fmt.Errorf("failed to create sql store: %w", err)
		}
		return store, nil

	case "redis":
		redisCfg := storeCfg.Redis
		if redisCfg == nil {
			return nil, fmt.Errorf("store.redis is required when backend is redis")
		}

		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", redisCfg.Addr, err)
		}

		store, err := NewRedisStore(client, redisCfg.KeyPrefix, redisCfg.TTL)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		return store, nil

	case "memory", "":
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, storeCfg.Backend)
	}
}

// NewCoordinatorFromConfig builds the full admission pipeline from
// configuration: route table from the limits section, store from the store
// section, coordinator on top.
func NewCoordinatorFromConfig(cfg *config.Config, pool *config.DBPool, opts ...CoordinatorOption) (*Coordinator, error) {
	table, err := NewTable(cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("failed to build route table: %w", err)
	}

	store, err := NewStoreFromConfig(cfg, pool)
	if err != nil {
		return nil, err
	}

	return NewCoordinator(table, store, opts...), nil
}
