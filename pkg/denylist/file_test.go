package denylist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileDenylist_LoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yaml")
	content := `entries:
  - principal: user-1
    reason: abusive traffic
    created_at: 2025-06-01T12:00:00Z
  - principal: user-2
    reason: chargeback fraud
    created_at: 2025-06-02T08:30:00Z
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	list, err := NewFileDenylist(path, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer list.Close()
	ctx := context.Background()

	entry, err := list.Check(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry == nil {
		t.Fatal("expected user-1 to be denied")
	}
	if entry.Reason != "abusive traffic" {
		t.Errorf("unexpected reason: %q", entry.Reason)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !entry.CreatedAt.Equal(want) {
		t.Errorf("expected created_at %v, got %v", want, entry.CreatedAt)
	}

	entry, err = list.Check(ctx, "user-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != nil {
		t.Errorf("expected user-3 to pass, got %+v", entry)
	}
}

func TestFileDenylist_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yaml")

	list, err := NewFileDenylist(path, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer list.Close()

	entries, err := list.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty denylist, got %d entries", len(entries))
	}
}

func TestFileDenylist_SetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yaml")
	ctx := context.Background()

	list, err := NewFileDenylist(path, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := list.Set(ctx, "user-1", "spamming the admit endpoint"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list.Close()

	// A fresh instance reads what the first one wrote
	reopened, err := NewFileDenylist(path, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer reopened.Close()

	entry, err := reopened.Check(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry == nil {
		t.Fatal("expected persisted entry to survive reopen")
	}
	if entry.Reason != "spamming the admit endpoint" {
		t.Errorf("unexpected reason: %q", entry.Reason)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to round-trip")
	}
}

func TestFileDenylist_RemovePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yaml")
	ctx := context.Background()

	list, err := NewFileDenylist(path, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer list.Close()

	if err := list.Set(ctx, "user-1", "blocked"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := list.Set(ctx, "user-2", "blocked"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := list.Remove(ctx, "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := list.Remove(ctx, "user-1"); !errors.Is(err, ErrNotDenied) {
		t.Fatalf("expected ErrNotDenied, got %v", err)
	}

	reopened, err := NewFileDenylist(path, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Principal != "user-2" {
		t.Errorf("expected only user-2 to remain, got %+v", entries)
	}
}

func TestFileDenylist_RejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()

	malformed := filepath.Join(dir, "malformed.yaml")
	if err := os.WriteFile(malformed, []byte("entries: [not, a, mapping"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := NewFileDenylist(malformed, false); err == nil {
		t.Error("expected malformed YAML to be rejected")
	}

	missing := filepath.Join(dir, "missing-principal.yaml")
	if err := os.WriteFile(missing, []byte("entries:\n  - reason: no principal\n"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := NewFileDenylist(missing, false); err == nil {
		t.Error("expected entry without principal to be rejected")
	}
}

func TestFileDenylist_WatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yaml")
	ctx := context.Background()

	list, err := NewFileDenylist(path, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer list.Close()

	entry, err := list.Check(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected empty denylist, got %+v", entry)
	}

	// An external edit shows up without reopening
	content := "entries:\n  - principal: user-1\n    reason: blocked externally\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		entry, err = list.Check(ctx, "user-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if entry != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("denylist did not reload within deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if entry.Reason != "blocked externally" {
		t.Errorf("unexpected reason: %q", entry.Reason)
	}

	// Deleting the file empties the list
	if err := os.Remove(path); err != nil {
		t.Fatalf("Failed to remove file: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for {
		entry, err = list.Check(ctx, "user-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if entry == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("denylist did not empty after file removal")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestFileDenylist_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yaml")

	list, err := NewFileDenylist(path, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := list.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := list.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
}
