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
	"errors"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/quotagate/pkg/observability"
)

// defaultCommitRetries bounds how often Admit re-evaluates after losing a
// commit race to a concurrent writer.
const defaultCommitRetries = 3

// Coordinator evaluates a request context against every declared route and
// advances all matched cursors in one atomic batch, or none at all.
//
// Evaluation within one call is strictly sequential so that a single
// rejection can abort everything as a plain early exit. Concurrent calls
// are serialized per cursor row by the store's conditional commit: a caller
// whose read went stale is re-evaluated against fresh state.
//
// The route table can be replaced while the coordinator is serving; an
// evaluation in flight keeps the table it started with.
type Coordinator struct {
	table   atomic.Pointer[Table]
	store   Store
	now     func() time.Time
	retries int
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the coordinator's time source. Tests use it to pin
// evaluation to a fixed instant.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithCommitRetries sets how many times Admit re-evaluates after a commit
// conflict before giving up.
func WithCommitRetries(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.retries = n
	}
}

// NewCoordinator builds a coordinator over the given route table and store.
func NewCoordinator(table *Table, store Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:   store,
		now:     time.Now,
		retries: defaultCommitRetries,
	}
	c.table.Store(table)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTable replaces the route table for subsequent evaluations. Config
// reload uses it to apply changed limits without restarting the server.
func (c *Coordinator) SetTable(table *Table) {
	c.table.Store(table)
}

// Routes exposes the declared routes in declaration order, for surfaces
// that report the static table.
func (c *Coordinator) Routes() []*Route {
	return c.table.Load().Routes()
}

// Store exposes the backing store, for maintenance operations that act on
// cursor rows directly.
func (c *Coordinator) Store() Store {
	return c.store
}

// Close releases the backing store.
func (c *Coordinator) Close() error {
	return c.store.Close()
}

// Admit decides whether one unit of the request described by reqCtx may
// proceed. True means every matched tier admitted and all advanced cursors
// are durably committed. False with a nil error means some tier rejected
// and the store is untouched. A non-nil error is always a store failure;
// rejection is never an error.
//
// The verdict must consider every matched quota or none: a request that
// passes a coarse route but is blocked by a finer one consumes nothing.
func (c *Coordinator) Admit(ctx context.Context, reqCtx map[string]string) (bool, error) {
	rec := observability.GetGlobalMetrics()
	start := time.Now()
	defer func() {
		rec.RecordEvaluation(ctx, time.Since(start))
	}()

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		admitted, err := c.admitOnce(ctx, reqCtx)
		if err != nil && errors.Is(err, ErrStaleCursor) {
			// A concurrent writer advanced one of our cursors between
			// read and commit. Evaluate again against fresh state.
			rec.RecordStoreConflict(ctx)
			lastErr = err
			continue
		}
		if err == nil {
			rec.RecordAdmit(ctx, admitted)
		}
		return admitted, err
	}
	return false, lastErr
}

func (c *Coordinator) admitOnce(ctx context.Context, reqCtx map[string]string) (bool, error) {
	rec := observability.GetGlobalMetrics()

	// One instant for the whole batch keeps every tier's view of time
	// consistent within this call.
	now := c.now()

	var staged []Upsert
	for _, route := range c.table.Load().routes {
		if !route.Matches(reqCtx) {
			continue
		}
		path := route.Path(reqCtx)

		rows, err := c.store.FindByPath(ctx, path)
		if err != nil {
			rec.RecordStoreError(ctx, "read")
			return false, &StoreError{Op: "read", Path: path, Err: err}
		}

		for _, tier := range route.tiers {
			windowMillis := tier.Window.Milliseconds()
			cursor, prev := cursorFor(rows, windowMillis)

			next, ok := tier.Check(now, cursor, 1)
			if !ok {
				// Any rejection aborts the whole evaluation; nothing
				// staged so far is ever written.
				rec.RecordRouteRejection(ctx, route.template)
				return false, nil
			}
			staged = append(staged, Upsert{
				Row: Row{
					Path:         path,
					WindowMillis: windowMillis,
					CursorMillis: next.UnixMilli(),
				},
				PrevCursorMillis: prev,
			})
		}
	}

	if len(staged) == 0 {
		return true, nil
	}

	commitStart := time.Now()
	if err := c.store.Commit(ctx, staged); err != nil {
		if !errors.Is(err, ErrStaleCursor) {
			rec.RecordStoreError(ctx, "commit")
		}
		return false, &StoreError{Op: "commit", Err: err}
	}
	rec.RecordStoreCommit(ctx, time.Since(commitStart))
	return true, nil
}

// TierStatus describes one tier's availability for a resolved path.
type TierStatus struct {
	WindowMillis int64  `json:"window_millis"`
	Quota        uint32 `json:"quota"`
	Burst        uint32 `json:"burst"`
	Remaining    uint32 `json:"remaining"`
}

// RouteStatus describes every tier of one matched route for a request
// context.
type RouteStatus struct {
	Template string       `json:"template"`
	Path     string       `json:"path"`
	Tiers    []TierStatus `json:"tiers"`
}

// Inspect reports, without consuming anything, how many units each tier of
// each matched route would currently grant. It is diagnostic: Admit is the
// sole authority for admission decisions.
func (c *Coordinator) Inspect(ctx context.Context, reqCtx map[string]string) ([]RouteStatus, error) {
	now := c.now()

	routes := c.table.Load().routes
	statuses := make([]RouteStatus, 0, len(routes))
	for _, route := range routes {
		if !route.Matches(reqCtx) {
			continue
		}
		path := route.Path(reqCtx)

		rows, err := c.store.FindByPath(ctx, path)
		if err != nil {
			observability.GetGlobalMetrics().RecordStoreError(ctx, "read")
			return nil, &StoreError{Op: "read", Path: path, Err: err}
		}

		status := RouteStatus{
			Template: route.template,
			Path:     path,
			Tiers:    make([]TierStatus, 0, len(route.tiers)),
		}
		for _, tier := range route.tiers {
			cursor, _ := cursorFor(rows, tier.Window.Milliseconds())
			status.Tiers = append(status.Tiers, TierStatus{
				WindowMillis: tier.Window.Milliseconds(),
				Quota:        tier.Quota,
				Burst:        tier.Burst,
				Remaining:    tier.Remaining(now, cursor),
			})
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// cursorFor finds the persisted cursor for a tier window, returning the
// decoded instant and the raw millisecond value Commit will compare against.
func cursorFor(rows []Row, windowMillis int64) (*time.Time, int64) {
	for _, row := range rows {
		if row.WindowMillis == windowMillis {
			cursor := time.UnixMilli(row.CursorMillis)
			return &cursor, row.CursorMillis
		}
	}
	return nil, 0
}
