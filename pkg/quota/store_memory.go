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
	"sort"
	"sync"
	"time"
)

type memoryKey struct {
	path         string
	windowMillis int64
}

// MemoryStore keeps cursors in process memory. It is the natural backend
// for placeholder-free routes whose state need not survive restarts, and
// for tests. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[memoryKey]int64
}

// NewMemoryStore creates an empty in-memory cursor store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[memoryKey]int64)}
}

// FindByPath returns every cursor row recorded for the path.
func (s *MemoryStore) FindByPath(_ context.Context, path string) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []Row
	for key, cursor := range s.rows {
		if key.path == path {
			rows = append(rows, Row{Path: path, WindowMillis: key.windowMillis, CursorMillis: cursor})
		}
	}
	return rows, nil
}

// Commit applies the batch under one write lock. The whole batch is
// rejected with ErrStaleCursor when any row has moved since it was read.
func (s *MemoryStore) Commit(_ context.Context, upserts []Upsert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range upserts {
		current, exists := s.rows[memoryKey{u.Path, u.WindowMillis}]
		if u.PrevCursorMillis == 0 {
			if exists {
				return ErrStaleCursor
			}
		} else if !exists || current != u.PrevCursorMillis {
			return ErrStaleCursor
		}
	}
	for _, u := range upserts {
		s.rows[memoryKey{u.Path, u.WindowMillis}] = u.CursorMillis
	}
	return nil
}

// PurgeBefore drops every row whose cursor lies before the cutoff.
func (s *MemoryStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	cutoffMillis := cutoff.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, cursor := range s.rows {
		if cursor < cutoffMillis {
			delete(s.rows, key)
			deleted++
		}
	}
	return deleted, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Len reports the number of stored rows, for testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Snapshot returns a sorted copy of every row, for testing and debugging.
func (s *MemoryStore) Snapshot() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]Row, 0, len(s.rows))
	for key, cursor := range s.rows {
		rows = append(rows, Row{Path: key.path, WindowMillis: key.windowMillis, CursorMillis: cursor})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Path != rows[j].Path {
			return rows[i].Path < rows[j].Path
		}
		return rows[i].WindowMillis < rows[j].WindowMillis
	})
	return rows
}
