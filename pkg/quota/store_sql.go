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
	"database/sql"
	"fmt"
	"strings"
	"time"

	// SQL drivers for the supported dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const schemaInitTimeout = 30 * time.Second

// SQLStore persists cursors in a relational table keyed by
// (path, window_millis). Supported dialects: sqlite, postgres, mysql.
//
// Commit runs the whole batch in one transaction, and every write is
// conditional on the cursor still holding the value it was read at, so two
// callers racing on the same stale read cannot both be admitted.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates a cursor store on an existing database handle and
// ensures the schema exists. The handle is typically shared through a
// connection pool; Close does not close it.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
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

	s := &SQLStore{db: db, dialect: dialect}

	ctx, cancel := context.WithTimeout(context.Background(), schemaInitTimeout)
	defer cancel()
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize cursor schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.createTableQuery())
	return err
}

// Dialect returns the active SQL dialect, exposed for testing.
func (s *SQLStore) Dialect() string {
	return s.dialect
}

// =============================================================================
// Store Implementation
// =============================================================================

// FindByPath returns every cursor row recorded for the path.
func (s *SQLStore) FindByPath(ctx context.Context, path string) ([]Row, error) {
	query := s.convertToPostgresPlaceholders(
		"SELECT window_millis, cursor_millis FROM quota_cursor WHERE path = ?")

	result, err := s.db.QueryContext(ctx, query, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query cursors for %q: %w", path, err)
	}
	defer result.Close()

	var rows []Row
	for result.Next() {
		row := Row{Path: path}
		if err := result.Scan(&row.WindowMillis, &row.CursorMillis); err != nil {
			return nil, fmt.Errorf("failed to scan cursor row: %w", err)
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cursor rows: %w", err)
	}
	return rows, nil
}

// Commit applies the batch in one transaction. Inserts and updates are both
// conditional: an insert that finds a row already present, or an update
// that finds a different cursor than the one read, fails the whole batch
// with ErrStaleCursor and nothing is written.
func (s *SQLStore) Commit(ctx context.Context, upserts []Upsert) error {
	if len(upserts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Rollback if not committed

	for _, u := range upserts {
		var res sql.Result
		if u.PrevCursorMillis == 0 {
			res, err = tx.ExecContext(ctx, s.insertCursorQuery(),
				u.Path, u.WindowMillis, u.CursorMillis)
		} else {
			res, err = tx.ExecContext(ctx, s.updateCursorQuery(),
				u.CursorMillis, u.Path, u.WindowMillis, u.PrevCursorMillis)
		}
		if err != nil {
			return fmt.Errorf("failed to write cursor for %q: %w", u.Path, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return ErrStaleCursor
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cursor batch: %w", err)
	}
	return nil
}

// PurgeBefore deletes every row whose cursor lies before the cutoff.
func (s *SQLStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.convertToPostgresPlaceholders(
		"DELETE FROM quota_cursor WHERE cursor_millis < ?")

	res, err := s.db.ExecContext(ctx, query, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cursors: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return deleted, nil
}

// Close releases nothing: the database handle is owned by the shared pool.
func (s *SQLStore) Close() error {
	return nil
}

// =============================================================================
// SQL Query Builders
// =============================================================================

func (s *SQLStore) createTableQuery() string {
	switch s.dialect {
	case "mysql":
		return `CREATE TABLE IF NOT EXISTS quota_cursor (
			path VARCHAR(512) NOT NULL,
			window_millis BIGINT NOT NULL,
			cursor_millis BIGINT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (path, window_millis)
		)`
	case "postgres":
		return `CREATE TABLE IF NOT EXISTS quota_cursor (
			path TEXT NOT NULL,
			window_millis BIGINT NOT NULL,
			cursor_millis BIGINT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (path, window_millis)
		)`
	default: // sqlite
		return `CREATE TABLE IF NOT EXISTS quota_cursor (
			path TEXT NOT NULL,
			window_millis INTEGER NOT NULL,
			cursor_millis INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (path, window_millis)
		)`
	}
}

// insertCursorQuery inserts a row only when none exists yet; a conflict
// leaves zero rows affected, which Commit treats as a stale read.
func (s *SQLStore) insertCursorQuery() string {
	switch s.dialect {
	case "mysql":
		return "INSERT IGNORE INTO quota_cursor (path, window_millis, cursor_millis) VALUES (?, ?, ?)"
	case "postgres":
		return "INSERT INTO quota_cursor (path, window_millis, cursor_millis) VALUES ($1, $2, $3) ON CONFLICT (path, window_millis) DO NOTHING"
	default: // sqlite
		return "INSERT OR IGNORE INTO quota_cursor (path, window_millis, cursor_millis) VALUES (?, ?, ?)"
	}
}

// updateCursorQuery advances a cursor only from the value it was read at.
func (s *SQLStore) updateCursorQuery() string {
	return s.convertToPostgresPlaceholders(
		"UPDATE quota_cursor SET cursor_millis = ?, updated_at = CURRENT_TIMESTAMP " +
			"WHERE path = ? AND window_millis = ? AND cursor_millis = ?")
}

// convertToPostgresPlaceholders rewrites ? placeholders to $1, $2, ... for
// the postgres dialect. Other dialects get the query unchanged.
func (s *SQLStore) convertToPostgresPlaceholders(query string) string {
	if s.dialect != "postgres" {
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
