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
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBPool manages shared database connection pools keyed by DSN.
// Components referencing the same database share one pool, which for
// SQLite also serializes writers and avoids "database is locked" errors.
type DBPool struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewDBPool creates an empty pool manager.
func NewDBPool() *DBPool {
	return &DBPool{
		pools: make(map[string]*sql.DB),
	}
}

// Get returns the connection pool for the given database config,
// creating it on first use. Configs with the same DSN share a pool.
func (p *DBPool) Get(cfg *DatabaseConfig) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	dsn := cfg.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("could not build DSN for driver %q", cfg.Driver)
	}

	if db, ok := p.pools[dsn]; ok {
		return db, nil
	}

	db, err := p.createPool(cfg, dsn)
	if err != nil {
		return nil, err
	}

	p.pools[dsn] = db
	return db, nil
}

func (p *DBPool) createPool(cfg *DatabaseConfig, dsn string) (*sql.DB, error) {
	driverName := cfg.DriverName()

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection
	// serializes all access through the pool.
	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		slog.Debug("SQLite: using single connection mode")
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driverName == "sqlite3" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("Failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("Failed to set busy timeout", "error", err)
		}
	}

	slog.Debug("Created database connection pool",
		"driver", driverName,
		"database", cfg.Database)

	return db, nil
}

// Close closes all managed pools.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for dsn, db := range p.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", dsn, err))
		}
	}
	p.pools = make(map[string]*sql.DB)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing pools: %v", errs)
	}
	return nil
}
