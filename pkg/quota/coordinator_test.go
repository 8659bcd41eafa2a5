package quota

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kadirpekel/quotagate/pkg/config"
)

var testEpoch = time.Date(2025, time.June, 2, 8, 15, 0, 0, time.UTC)

// fakeClock stands in for the coordinator's clock so refill behavior can be
// tested without sleeping.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// failingStore returns fixed errors so wrapping can be asserted.
type failingStore struct {
	readErr   error
	commitErr error
}

func (s *failingStore) FindByPath(_ context.Context, _ string) ([]Row, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return nil, nil
}

func (s *failingStore) Commit(_ context.Context, _ []Upsert) error {
	return s.commitErr
}

func (s *failingStore) Close() error {
	return nil
}

// conflictStore fails the first n commits with ErrStaleCursor, then behaves
// like the wrapped memory store.
type conflictStore struct {
	*MemoryStore
	failures int
	commits  int
}

func (s *conflictStore) Commit(ctx context.Context, upserts []Upsert) error {
	s.commits++
	if s.failures > 0 {
		s.failures--
		return ErrStaleCursor
	}
	return s.MemoryStore.Commit(ctx, upserts)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *MemoryStore, *fakeClock) {
	t.Helper()
	table, err := NewTable(testLimits())
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	store := NewMemoryStore()
	clock := newFakeClock()
	return NewCoordinator(table, store, WithClock(clock.Now)), store, clock
}

func fullContext() map[string]string {
	return map[string]string{"guild_id": "g1", "channel_id": "c1", "user_id": "u1"}
}

func TestCoordinator_AdmitWritesAllMatchedTiers(t *testing.T) {
	co, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	admitted, err := co.Admit(ctx, fullContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatal("expected first request to be admitted")
	}

	// 3 global + 3 guild + 1 channel + 3 user + 1 guild/channel tiers
	if store.Len() != 11 {
		t.Errorf("expected 11 cursor rows, got %d", store.Len())
	}

	rows, err := store.FindByPath(ctx, "guild/g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 rows for guild/g1, got %d", len(rows))
	}
}

func TestCoordinator_SkipsRoutesMissingKeys(t *testing.T) {
	co, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	// No guild_id: both guild routes must stay out of the verdict
	admitted, err := co.Admit(ctx, map[string]string{"channel_id": "c1", "user_id": "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatal("expected request to be admitted")
	}

	if store.Len() != 7 {
		t.Errorf("expected 7 cursor rows, got %d", store.Len())
	}
	rows, err := store.FindByPath(ctx, "guild/g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no guild rows, got %d", len(rows))
	}
}

func TestCoordinator_DenialWritesNothing(t *testing.T) {
	co, store, clock := newTestCoordinator(t)
	ctx := context.Background()

	admitted, err := co.Admit(ctx, fullContext())
	if err != nil || !admitted {
		t.Fatalf("expected first request to pass, got admitted=%v err=%v", admitted, err)
	}
	before := store.Snapshot()

	// One second later the channel tier (1 per 5s) still blocks. Every
	// other route would pass, but none of them may consume anything.
	clock.Advance(1 * time.Second)
	admitted, err = co.Admit(ctx, fullContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admitted {
		t.Fatal("expected second request to be denied")
	}

	after := store.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("expected store to be untouched after denial")
	}

	// Once the blocking tier refills the request goes through again
	clock.Advance(5 * time.Second)
	admitted, err = co.Admit(ctx, fullContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatal("expected request to be admitted after refill")
	}
}

func TestCoordinator_NoMatchingRouteAdmits(t *testing.T) {
	table, err := NewTable([]config.RouteLimit{
		{Path: "guild/{guild_id}", Tiers: []config.TierLimit{{Seconds: 1, Quota: 1}}},
	})
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	store := NewMemoryStore()
	co := NewCoordinator(table, store)

	admitted, err := co.Admit(context.Background(), map[string]string{"user_id": "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatal("expected request with no applicable route to be admitted")
	}
	if store.Len() != 0 {
		t.Errorf("expected no rows, got %d", store.Len())
	}
}

func TestCoordinator_ReadErrorWrapped(t *testing.T) {
	table, err := NewTable(testLimits())
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	boom := errors.New("connection refused")
	co := NewCoordinator(table, &failingStore{readErr: boom})

	_, err = co.Admit(context.Background(), fullContext())
	if err == nil {
		t.Fatal("expected store failure to surface")
	}
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %T", err)
	}
	if se.Op != "read" {
		t.Errorf("expected op read, got %q", se.Op)
	}
	if se.Path != "global" {
		t.Errorf("expected failing path global, got %q", se.Path)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped cause to be preserved")
	}
}

func TestCoordinator_CommitErrorWrapped(t *testing.T) {
	table, err := NewTable(testLimits())
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	boom := errors.New("disk full")
	co := NewCoordinator(table, &failingStore{commitErr: boom})

	_, err = co.Admit(context.Background(), fullContext())
	if err == nil {
		t.Fatal("expected commit failure to surface")
	}
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %T", err)
	}
	if se.Op != "commit" {
		t.Errorf("expected op commit, got %q", se.Op)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped cause to be preserved")
	}
}

func TestCoordinator_RetriesStaleCommit(t *testing.T) {
	table, err := NewTable(testLimits())
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	store := &conflictStore{MemoryStore: NewMemoryStore(), failures: 2}
	clock := newFakeClock()
	co := NewCoordinator(table, store, WithClock(clock.Now))

	admitted, err := co.Admit(context.Background(), fullContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatal("expected request to be admitted after retries")
	}
	if store.commits != 3 {
		t.Errorf("expected 3 commit attempts, got %d", store.commits)
	}
}

func TestCoordinator_RetriesExhausted(t *testing.T) {
	table, err := NewTable(testLimits())
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	store := &conflictStore{MemoryStore: NewMemoryStore(), failures: 100}
	co := NewCoordinator(table, store, WithCommitRetries(2))

	admitted, err := co.Admit(context.Background(), fullContext())
	if admitted {
		t.Fatal("expected request to fail once retries run out")
	}
	if !errors.Is(err, ErrStaleCursor) {
		t.Fatalf("expected ErrStaleCursor, got %v", err)
	}
	if store.commits != 3 {
		t.Errorf("expected 3 commit attempts with 2 retries, got %d", store.commits)
	}
}

func TestCoordinator_InspectReportsWithoutWriting(t *testing.T) {
	co, store, clock := newTestCoordinator(t)
	ctx := context.Background()

	statuses, err := co.Inspect(ctx, fullContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(statuses) != 5 {
		t.Fatalf("expected 5 route statuses, got %d", len(statuses))
	}
	if store.Len() != 0 {
		t.Errorf("expected inspect to write nothing, got %d rows", store.Len())
	}

	// Untouched tiers report their full quota
	for _, rs := range statuses {
		for _, ts := range rs.Tiers {
			if ts.Remaining != ts.Quota {
				t.Errorf("route %s window %d: expected remaining %d, got %d",
					rs.Path, ts.WindowMillis, ts.Quota, ts.Remaining)
			}
		}
	}

	if _, err := co.Admit(ctx, fullContext()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(100 * time.Millisecond)

	statuses, err = co.Inspect(ctx, fullContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, rs := range statuses {
		if rs.Template != "user/{user_id}" {
			continue
		}
		if rs.Path != "user/u1" {
			t.Errorf("expected resolved path user/u1, got %q", rs.Path)
		}
		for _, ts := range rs.Tiers {
			if ts.WindowMillis == (15 * time.Second).Milliseconds() && ts.Remaining != 1 {
				t.Errorf("expected 1 remaining on the 15s tier, got %d", ts.Remaining)
			}
		}
	}
}

func TestCoordinator_InspectSkipsUnmatchedRoutes(t *testing.T) {
	co, _, _ := newTestCoordinator(t)

	statuses, err := co.Inspect(context.Background(), map[string]string{"user_id": "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// global and user only; guild and channel routes need missing keys
	if len(statuses) != 2 {
		t.Fatalf("expected 2 route statuses, got %d", len(statuses))
	}
	if statuses[0].Template != "global" || statuses[1].Template != "user/{user_id}" {
		t.Errorf("unexpected templates: %s, %s", statuses[0].Template, statuses[1].Template)
	}
}

func TestCoordinator_SetTableSwapsRoutes(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	// channel/{channel_id} is a 5s window with quota 1: the second admit
	// under the boot-time table must be rejected.
	chanCtx := map[string]string{"channel_id": "c1"}
	if admitted, err := co.Admit(ctx, chanCtx); err != nil || !admitted {
		t.Fatalf("Admit() = %v, %v, want first request admitted", admitted, err)
	}
	if admitted, err := co.Admit(ctx, chanCtx); err != nil || admitted {
		t.Fatalf("Admit() = %v, %v, want second request rejected", admitted, err)
	}

	table, err := NewTable([]config.RouteLimit{
		{Path: "tenant/{tenant_id}", Tiers: []config.TierLimit{{Seconds: 10, Quota: 1}}},
	})
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	co.SetTable(table)

	if routes := co.Routes(); len(routes) != 1 {
		t.Fatalf("expected 1 route after swap, got %d", len(routes))
	}

	// The channel route is gone: the same context now matches nothing and
	// passes unconditionally.
	if admitted, err := co.Admit(ctx, chanCtx); err != nil || !admitted {
		t.Errorf("Admit() = %v, %v, want unmatched context admitted", admitted, err)
	}

	// The swapped-in route is enforced.
	tenantCtx := map[string]string{"tenant_id": "t1"}
	if admitted, err := co.Admit(ctx, tenantCtx); err != nil || !admitted {
		t.Fatalf("Admit() = %v, %v, want first tenant request admitted", admitted, err)
	}
	if admitted, err := co.Admit(ctx, tenantCtx); err != nil || admitted {
		t.Errorf("Admit() = %v, %v, want second tenant request rejected", admitted, err)
	}
}
