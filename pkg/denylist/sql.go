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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// SQL drivers for the supported dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const schemaInitTimeout = 30 * time.Second

// SQLDenylist persists entries in a relational table keyed by principal,
// typically in the same database as the cursor store. Supported dialects:
// sqlite, postgres, mysql.
type SQLDenylist struct {
	db      *sql.DB
	dialect string
}

// NewSQLDenylist creates a denylist on an existing database handle and
// ensures the schema exists. The handle is typically shared through a
// connection pool; Close does not close it.
func NewSQLDenylist(db *sql.DB, dialect string) (*SQLDenylist, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	dialect = strings.ToLower(dialect)
	if dialect == "sqlite3" {
		dialect = "sqlite"
	}
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect %q (must be sqlite, postgres, or mysql)", dialect)
	}

	d := &SQLDenylist{db: db, dialect: dialect}

	ctx, cancel := context.WithTimeout(context.Background(), schemaInitTimeout)
	defer cancel()
	if err := d.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize denylist schema: %w", err)
	}
	return d, nil
}

func (d *SQLDenylist) initSchema(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, d.createTableQuery())
	return err
}

// Dialect returns the active SQL dialect, exposed for testing.
func (d *SQLDenylist) Dialect() string {
	return d.dialect
}

// Check reports whether the principal is denied.
func (d *SQLDenylist) Check(ctx context.Context, principal string) (*Entry, error) {
	query := d.convertToPostgresPlaceholders(
		"SELECT principal, reason, created_at FROM denylist WHERE principal = ?")

	var entry Entry
	err := d.db.QueryRowContext(ctx, query, principal).
		Scan(&entry.Principal, &entry.Reason, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query denylist for %q: %w", principal, err)
	}
	return &entry, nil
}

// Set adds an entry for the principal.
func (d *SQLDenylist) Set(ctx context.Context, principal, reason string) error {
	if err := validateEntry(principal, reason); err != nil {
		return err
	}

	existing, err := d.Check(ctx, principal)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyDenied
	}

	query := d.convertToPostgresPlaceholders(
		"INSERT INTO denylist (principal, reason, created_at) VALUES (?, ?, ?)")
	if _, err := d.db.ExecContext(ctx, query, principal, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert denylist entry for %q: %w", principal, err)
	}
	return nil
}

// Remove deletes the principal's entry.
func (d *SQLDenylist) Remove(ctx context.Context, principal string) error {
	query := d.convertToPostgresPlaceholders(
		"DELETE FROM denylist WHERE principal = ?")

	res, err := d.db.ExecContext(ctx, query, principal)
	if err != nil {
		return fmt.Errorf("failed to delete denylist entry for %q: %w", principal, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotDenied
	}
	return nil
}

// List returns all entries ordered by principal.
func (d *SQLDenylist) List(ctx context.Context) ([]Entry, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT principal, reason, created_at FROM denylist ORDER BY principal")
	if err != nil {
		return nil, fmt.Errorf("failed to list denylist entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Principal, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan denylist entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read denylist entries: %w", err)
	}
	return entries, nil
}

// Close releases nothing: the database handle is owned by the shared pool.
func (d *SQLDenylist) Close() error {
	return nil
}

func (d *SQLDenylist) createTableQuery() string {
	switch d.dialect {
	case "mysql":
		return `CREATE TABLE IF NOT EXISTS denylist (
			principal VARCHAR(512) NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (principal)
		)`
	default: // sqlite, postgres
		return `CREATE TABLE IF NOT EXISTS denylist (
			principal TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (principal)
		)`
	}
}

// convertToPostgresPlaceholders rewrites ? placeholders to $1, $2, ... for
// the postgres dialect. Other dialects get the query unchanged.
func (d *SQLDenylist) convertToPostgresPlaceholders(query string) string {
	if d.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
