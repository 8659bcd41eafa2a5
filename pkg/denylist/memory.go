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
	"sort"
	"sync"
	"time"
)

// MemoryDenylist keeps entries in process memory. Entries do not survive
// restarts, which suits tests and single-run tooling. Safe for concurrent
// use.
type MemoryDenylist struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryDenylist creates an empty in-memory denylist.
func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{entries: make(map[string]Entry)}
}

// Check reports whether the principal is denied.
func (d *MemoryDenylist) Check(_ context.Context, principal string) (*Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if entry, ok := d.entries[principal]; ok {
		return &entry, nil
	}
	return nil, nil
}

// Set adds an entry for the principal.
func (d *MemoryDenylist) Set(_ context.Context, principal, reason string) error {
	if err := validateEntry(principal, reason); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[principal]; ok {
		return ErrAlreadyDenied
	}
	d.entries[principal] = Entry{Principal: principal, Reason: reason, CreatedAt: time.Now().UTC()}
	return nil
}

// Remove deletes the principal's entry.
func (d *MemoryDenylist) Remove(_ context.Context, principal string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[principal]; !ok {
		return ErrNotDenied
	}
	delete(d.entries, principal)
	return nil
}

// List returns all entries ordered by principal.
func (d *MemoryDenylist) List(_ context.Context) ([]Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]Entry, 0, len(d.entries))
	for _, entry := range d.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Principal < entries[j].Principal
	})
	return entries, nil
}

// Close releases nothing; memory denylists hold no external resources.
func (d *MemoryDenylist) Close() error {
	return nil
}
