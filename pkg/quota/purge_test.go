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
	"testing"
	"time"

	"github.com/kadirpekel/quotagate/pkg/config"
)

func TestPurgeRunner_Defaults(t *testing.T) {
	runner := NewPurgeRunner(NewMemoryStore(), nil)
	if runner.interval != 10*time.Minute {
		t.Errorf("interval = %v, want 10m", runner.interval)
	}
	if runner.margin != time.Hour {
		t.Errorf("margin = %v, want 1h", runner.margin)
	}
}

func TestPurgeRunner_DeletesStaleRows(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	stale := time.Now().Add(-2 * time.Hour).UnixMilli()
	live := time.Now().Add(time.Hour).UnixMilli()
	err := store.Commit(ctx, []Upsert{
		{Row: Row{Path: "user/u1", WindowMillis: 15000, CursorMillis: stale}},
		{Row: Row{Path: "user/u2", WindowMillis: 15000, CursorMillis: live}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runner := NewPurgeRunner(store, &config.PurgeConfig{
		Enabled:  true,
		Interval: 10 * time.Millisecond,
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		runner.Run(runCtx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for store.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if store.Len() != 1 {
		t.Fatalf("expected 1 surviving row, got %d", store.Len())
	}
	rows, err := store.FindByPath(ctx, "user/u2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("live row should survive the purge")
	}
}

func TestPurgeRunner_StopsOnCancel(t *testing.T) {
	runner := NewPurgeRunner(NewMemoryStore(), &config.PurgeConfig{Interval: time.Hour})

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(runCtx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
