package quota

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "quota_test.db")

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLStore(db, "sqlite3")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNewSQLStore_Validation(t *testing.T) {
	if _, err := NewSQLStore(nil, "sqlite"); err == nil {
		t.Error("expected nil database to be rejected")
	}

	dbPath := filepath.Join(t.TempDir(), "quota_test.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if _, err := NewSQLStore(db, "oracle"); err == nil {
		t.Error("expected unsupported dialect to be rejected")
	}

	// Driver name sqlite3 normalizes to the sqlite dialect
	store, err := NewSQLStore(db, "sqlite3")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if store.Dialect() != "sqlite" {
		t.Errorf("expected dialect sqlite, got %q", store.Dialect())
	}
}

func TestSQLStore_CommitAndFind(t *testing.T) {
	store := setupSQLStore(t)
	ctx := context.Background()

	err := store.Commit(ctx, []Upsert{
		{Row: Row{Path: "user/u1", WindowMillis: 15000, CursorMillis: 1000}},
		{Row: Row{Path: "user/u1", WindowMillis: 60000, CursorMillis: 2000}},
		{Row: Row{Path: "global", WindowMillis: 1000, CursorMillis: 3000}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := store.FindByPath(ctx, "user/u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Path != "user/u1" {
			t.Errorf("expected path user/u1, got %q", row.Path)
		}
	}

	rows, err = store.FindByPath(ctx, "user/u2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows for unknown path, got %d", len(rows))
	}
}

func TestSQLStore_UpdateRequiresMatchingCursor(t *testing.T) {
	store := setupSQLStore(t)
	ctx := context.Background()

	err := store.Commit(ctx, []Upsert{
		{Row: Row{Path: "global", WindowMillis: 1000, CursorMillis: 500}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = store.Commit(ctx, []Upsert{
		{Row: Row{Path: "global", WindowMillis: 1000, CursorMillis: 900}, PrevCursorMillis: 500},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = store.Commit(ctx, []Upsert{
		{Row: Row{Path: "global", WindowMillis: 1000, CursorMillis: 1200}, PrevCursorMillis: 500},
	})
	if !errors.Is(err, ErrStaleCursor) {
		t.Fatalf("expected ErrStaleCursor, got %v", err)
	}

	rows, err := store.FindByPath(ctx, "global")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].CursorMillis != 900 {
		t.Errorf("expected cursor to stay at 900, got %+v", rows)
	}
}

func TestSQLStore_InsertRequiresAbsence(t *testing.T) {
	store := setupSQLStore(t)
	ctx := context.Background()

	row := Upsert{Row: Row{Path: "channel/c1", WindowMillis: 5000, CursorMillis: 700}}
	if err := store.Commit(ctx, []Upsert{row}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.Commit(ctx, []Upsert{row}); !errors.Is(err, ErrStaleCursor) {
		t.Fatalf("expected ErrStaleCursor, got %v", err)
	}

	err := store.Commit(ctx, []Upsert{
		{Row: Row{Path: "channel/c2", WindowMillis: 5000, CursorMillis: 700}, PrevCursorMillis: 100},
	})
	if !errors.Is(err, ErrStaleCursor) {
		t.Fatalf("expected ErrStaleCursor, got %v", err)
	}
}

func TestSQLStore_StaleBatchRollsBack(t *testing.T) {
	store := setupSQLStore(t)
	ctx := context.Background()

	err := store.Commit(ctx, []Upsert{
		{Row: Row{Path: "global", WindowMillis: 1000, CursorMillis: 100}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The second entry is stale; the transaction must take the fresh
	// first entry down with it.
	err = store.Commit(ctx, []Upsert{
		{Row: Row{Path: "user/u1", WindowMillis: 60000, CursorMillis: 200}},
		{Row: Row{Path: "global", WindowMillis: 1000, CursorMillis: 300}, PrevCursorMillis: 999},
	})
	if !errors.Is(err, ErrStaleCursor) {
		t.Fatalf("expected ErrStaleCursor, got %v", err)
	}

	rows, err := store.FindByPath(ctx, "user/u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected rolled back insert to leave no rows, got %d", len(rows))
	}

	rows, err = store.FindByPath(ctx, "global")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].CursorMillis != 100 {
		t.Errorf("expected cursor to stay at 100, got %+v", rows)
	}
}

func TestSQLStore_PurgeBefore(t *testing.T) {
	store := setupSQLStore(t)
	ctx := context.Background()
	now := time.Date(2025, time.June, 2, 8, 15, 0, 0, time.UTC)

	err := store.Commit(ctx, []Upsert{
		{Row: Row{Path: "user/u1", WindowMillis: 15000, CursorMillis: now.Add(-time.Hour).UnixMilli()}},
		{Row: Row{Path: "user/u2", WindowMillis: 15000, CursorMillis: now.Add(-time.Minute).UnixMilli()}},
		{Row: Row{Path: "user/u3", WindowMillis: 15000, CursorMillis: now.Add(time.Minute).UnixMilli()}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deleted, err := store.PurgeBefore(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 purged rows, got %d", deleted)
	}

	rows, err := store.FindByPath(ctx, "user/u3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected the future cursor to survive, got %d rows", len(rows))
	}
}

func TestSQLStore_PostgresPlaceholders(t *testing.T) {
	s := &SQLStore{dialect: "postgres"}

	got := s.convertToPostgresPlaceholders("UPDATE t SET a = ? WHERE b = ? AND c = ?")
	want := "UPDATE t SET a = $1 WHERE b = $2 AND c = $3"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	plain := "SELECT 1"
	if got := s.convertToPostgresPlaceholders(plain); got != plain {
		t.Errorf("expected query without placeholders unchanged, got %q", got)
	}
}

func TestSQLStore_CoordinatorIntegration(t *testing.T) {
	store := setupSQLStore(t)
	table, err := NewTable(testLimits())
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	clock := newFakeClock()
	co := NewCoordinator(table, store, WithClock(clock.Now))
	ctx := context.Background()

	admitted, err := co.Admit(ctx, fullContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatal("expected first request to be admitted")
	}

	// The 5s channel tier blocks the immediate repeat
	clock.Advance(time.Second)
	admitted, err = co.Admit(ctx, fullContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admitted {
		t.Fatal("expected second request to be denied")
	}

	clock.Advance(5 * time.Second)
	admitted, err = co.Admit(ctx, fullContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatal("expected request to be admitted after refill")
	}
}
