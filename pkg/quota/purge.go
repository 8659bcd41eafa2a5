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
	"log/slog"
	"time"

	"github.com/kadirpekel/quotagate/pkg/config"
)

// PurgeRunner periodically deletes cursor rows whose burst has long been
// replenished. A cursor in the past admits exactly like an absent row, so a
// purge never changes a verdict; the margin only guards against clock skew
// between writers.
type PurgeRunner struct {
	store    Purger
	interval time.Duration
	margin   time.Duration
	now      func() time.Time
}

// NewPurgeRunner builds a runner over the given purgeable store. Interval
// and margin fall back to the config defaults when zero.
func NewPurgeRunner(store Purger, cfg *config.PurgeConfig) *PurgeRunner {
	r := &PurgeRunner{
		store:    store,
		interval: 10 * time.Minute,
		margin:   time.Hour,
		now:      time.Now,
	}
	if cfg != nil {
		if cfg.Interval > 0 {
			r.interval = cfg.Interval
		}
		if cfg.Margin > 0 {
			r.margin = cfg.Margin
		}
	}
	return r
}

// Run purges on every interval tick until ctx is cancelled. It blocks; run
// it on its own goroutine or errgroup.
func (r *PurgeRunner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.purgeOnce(ctx)
		}
	}
}

func (r *PurgeRunner) purgeOnce(ctx context.Context) {
	cutoff := r.now().Add(-r.margin)
	deleted, err := r.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		slog.Warn("Purge run failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Purged stale cursor rows", "deleted", deleted, "cutoff", cutoff)
	}
}
