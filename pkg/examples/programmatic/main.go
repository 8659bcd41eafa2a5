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

// Example programmatic demonstrates embedding QuotaGate as a library,
// without any YAML configuration or server. It shows:
//
//   - Using the GCRA primitive directly for a single rate limit
//   - Building a multi-route coordinator over an in-memory store
//   - Inspecting remaining capacity without consuming it
//
// Run:
//
//	go run ./pkg/examples/programmatic
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kadirpekel/quotagate/pkg/config"
	"github.com/kadirpekel/quotagate/pkg/gcra"
	"github.com/kadirpekel/quotagate/pkg/quota"
)

func main() {
	ctx := context.Background()

	// 1. The GCRA primitive on its own: 3 units per minute. The tier is
	// stateless; the caller keeps the cursor between calls.
	tier, err := gcra.NewTier(time.Minute, 3)
	if err != nil {
		log.Fatal(err)
	}

	var cursor *time.Time
	now := time.Now()
	for i := 1; i <= 5; i++ {
		next, ok := tier.Check(now, cursor, 1)
		fmt.Printf("gcra check %d: admitted=%v remaining=%d\n",
			i, ok, tier.Remaining(now, cursor))
		if ok {
			cursor = &next
		}
	}

	// 2. The coordinator: declarative routes over a shared store. A
	// request must pass every route its context matches, atomically.
	table, err := quota.NewTable([]config.RouteLimit{
		{
			Path: "user/{user_id}",
			Tiers: []config.TierLimit{
				{Seconds: 15, Quota: 2},
				{Hours: 24, Quota: 250},
			},
		},
		{
			Path: "global",
			Tiers: []config.TierLimit{
				{Seconds: 1, Quota: 50},
			},
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	coordinator := quota.NewCoordinator(table, quota.NewMemoryStore())
	defer coordinator.Close()

	reqCtx := map[string]string{"user_id": "42"}
	for i := 1; i <= 3; i++ {
		admitted, err := coordinator.Admit(ctx, reqCtx)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("admit %d for user 42: %v\n", i, admitted)
	}

	// 3. Inspection is free: it reports per-tier availability without
	// consuming anything.
	statuses, err := coordinator.Inspect(ctx, reqCtx)
	if err != nil {
		log.Fatal(err)
	}
	for _, status := range statuses {
		fmt.Printf("%s (%s):\n", status.Template, status.Path)
		for _, t := range status.Tiers {
			window := time.Duration(t.WindowMillis) * time.Millisecond
			fmt.Printf("  %s window: %d of %d remaining\n", window, t.Remaining, t.Quota)
		}
	}
}
