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
	"time"
)

// Row is one persisted cursor: the time-of-burst for one tier of one
// concrete path, in milliseconds since the Unix epoch. Rows are created on
// the first admitted request for their key and updated on every subsequent
// one; the engine never deletes them.
type Row struct {
	Path         string
	WindowMillis int64
	CursorMillis int64
}

// Upsert stages one cursor advance for Commit. PrevCursorMillis carries the
// cursor the admission decision was computed from, or zero when no row
// existed; Commit implementations compare it against the stored value to
// detect concurrent writers.
type Upsert struct {
	Row
	PrevCursorMillis int64
}

// Store is the persisted cursor store the coordinator evaluates against.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// FindByPath returns every cursor row recorded for the given concrete
	// path, one per tier window consumed at least once. Order is not
	// significant.
	FindByPath(ctx context.Context, path string) ([]Row, error)

	// Commit applies the staged upserts as one atomic batch: either every
	// row is written or none is. When any target row no longer holds the
	// upsert's previous cursor, the whole batch must be rejected with
	// ErrStaleCursor and nothing written. This conditional write is what
	// keeps two callers racing on the same stale read from both being
	// admitted.
	Commit(ctx context.Context, upserts []Upsert) error

	// Close releases resources held by the store.
	Close() error
}

// Purger is implemented by stores that can drop stale rows. A cursor in the
// past is indistinguishable from an absent row, so purging needs no
// knowledge of the tier configurations that produced the rows.
type Purger interface {
	// PurgeBefore deletes every row whose cursor lies before the cutoff
	// and reports how many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Ensure interface compliance at compile time.
var (
	_ Store  = (*MemoryStore)(nil)
	_ Store  = (*SQLStore)(nil)
	_ Store  = (*RedisStore)(nil)
	_ Purger = (*MemoryStore)(nil)
	_ Purger = (*SQLStore)(nil)
	_ Purger = (*RedisStore)(nil)
)
