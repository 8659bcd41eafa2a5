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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk YAML document:
//
//	entries:
//	  - principal: user-123
//	    reason: abusive traffic
//	    created_at: 2025-06-01T12:00:00Z
type fileFormat struct {
	Entries []Entry `yaml:"entries"`
}

// FileDenylist keeps entries in a YAML file, for deployments without a
// database. Set and Remove rewrite the file; an optional watcher reloads
// it when edited externally. Safe for concurrent use.
type FileDenylist struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewFileDenylist loads the denylist at path and, when watch is true,
// reloads it whenever the file changes. A file that does not exist yet is
// an empty denylist; Set creates it.
func NewFileDenylist(path string, watch bool) (*FileDenylist, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	d := &FileDenylist{
		path:    absPath,
		entries: make(map[string]Entry),
	}

	if err := d.reload(); err != nil {
		return nil, err
	}

	if watch {
		if err := d.startWatch(); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Check reports whether the principal is denied.
func (d *FileDenylist) Check(_ context.Context, principal string) (*Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if entry, ok := d.entries[principal]; ok {
		return &entry, nil
	}
	return nil, nil
}

// Set adds an entry and rewrites the file. The in-memory view only changes
// once the write succeeded.
func (d *FileDenylist) Set(_ context.Context, principal, reason string) error {
	if err := validateEntry(principal, reason); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[principal]; ok {
		return ErrAlreadyDenied
	}

	entry := Entry{Principal: principal, Reason: reason, CreatedAt: time.Now().UTC()}
	if err := d.persist(append(d.sortedLocked(), entry)); err != nil {
		return err
	}
	d.entries[principal] = entry
	return nil
}

// Remove deletes the principal's entry and rewrites the file.
func (d *FileDenylist) Remove(_ context.Context, principal string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[principal]; !ok {
		return ErrNotDenied
	}

	remaining := make([]Entry, 0, len(d.entries)-1)
	for _, entry := range d.sortedLocked() {
		if entry.Principal != principal {
			remaining = append(remaining, entry)
		}
	}
	if err := d.persist(remaining); err != nil {
		return err
	}
	delete(d.entries, principal)
	return nil
}

// List returns all entries ordered by principal.
func (d *FileDenylist) List(_ context.Context) ([]Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sortedLocked(), nil
}

// Close stops the watcher, if any. The file itself is left as is.
func (d *FileDenylist) Close() error {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	d.closed = true
	if d.watcher != nil {
		err := d.watcher.Close()
		d.watcher = nil
		return err
	}
	return nil
}

// Path returns the absolute path of the backing file.
func (d *FileDenylist) Path() string {
	return d.path
}

// sortedLocked returns the entries ordered by principal. Callers must hold
// at least a read lock.
func (d *FileDenylist) sortedLocked() []Entry {
	entries := make([]Entry, 0, len(d.entries))
	for _, entry := range d.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Principal < entries[j].Principal
	})
	return entries
}

// reload replaces the in-memory entries with the file's current content.
// A missing file is an empty denylist; a malformed one is an error and
// leaves the previous entries in place.
func (d *FileDenylist) reload() error {
	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		d.mu.Lock()
		d.entries = make(map[string]Entry)
		d.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read denylist file %s: %w", d.path, err)
	}

	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse denylist file %s: %w", d.path, err)
	}

	entries := make(map[string]Entry, len(doc.Entries))
	for _, entry := range doc.Entries {
		if entry.Principal == "" {
			return fmt.Errorf("denylist file %s: entry with empty principal", d.path)
		}
		entries[entry.Principal] = entry
	}

	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
	return nil
}

// persist writes the given entries to the file via a temp file and rename,
// so the watcher never observes a half-written document.
func (d *FileDenylist) persist(entries []Entry) error {
	data, err := yaml.Marshal(fileFormat{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to marshal denylist: %w", err)
	}

	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, ".denylist-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write denylist file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write denylist file: %w", err)
	}

	if err := os.Rename(tmp.Name(), d.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace denylist file: %w", err)
	}
	return nil
}

// startWatch watches the directory containing the file (some systems do
// not support watching files directly) and reloads on changes.
func (d *FileDenylist) startWatch() error {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	if d.closed {
		return fmt.Errorf("denylist is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(d.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	d.watcher = watcher

	go d.watchLoop(watcher)

	slog.Info("Watching denylist file", "path", d.path)
	return nil
}

func (d *FileDenylist) watchLoop(watcher *fsnotify.Watcher) {
	// Debounce timer to coalesce rapid changes
	var debounceTimer *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				return
			}

			// Only react to changes to our file
			if filepath.Base(event.Name) != filepath.Base(d.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				if err := d.reload(); err != nil {
					slog.Error("Failed to reload denylist, keeping previous entries", "error", err)
					return
				}
				d.mu.RLock()
				count := len(d.entries)
				d.mu.RUnlock()
				slog.Info("Denylist reloaded", "path", d.path, "entries", count)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Denylist watcher error", "error", err)
		}
	}
}
