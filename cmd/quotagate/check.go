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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kadirpekel/quotagate/pkg/config"
	"github.com/kadirpekel/quotagate/pkg/denylist"
	"github.com/kadirpekel/quotagate/pkg/quota"
)

// CheckCmd admits a single request against the configured limits. It is the
// CLI twin of POST /v1/admit: the denylist is consulted first, then every
// matching route must admit or nothing is consumed.
type CheckCmd struct {
	Context map[string]string `help:"Request context key=value pairs (repeatable)." placeholder:"KEY=VALUE"`
}

func (c *CheckCmd) Run(cli *CLI) error {
	verdict, err := c.check(cli)
	if err != nil {
		return err
	}

	fmt.Println(verdict)
	if verdict != "admitted" {
		os.Exit(1)
	}
	return nil
}

// check runs the admission and returns the verdict line. Split from Run so
// deferred cleanup completes before the exit code is decided.
func (c *CheckCmd) check(cli *CLI) (string, error) {
	if len(c.Context) == 0 {
		return "", fmt.Errorf("at least one --context pair is required")
	}

	ctx := context.Background()
	cfg, loader, err := loadConfigFromCLI(cli, false)
	if err != nil {
		return "", err
	}
	defer loader.Stop()

	dbPool := config.NewDBPool()
	defer func() {
		if err := dbPool.Close(); err != nil {
			slog.Warn("Failed to close database pool", "error", err)
		}
	}()

	coordinator, err := quota.NewCoordinatorFromConfig(cfg, dbPool)
	if err != nil {
		return "", fmt.Errorf("failed to build coordinator: %w", err)
	}
	defer func() {
		if err := coordinator.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	deny, err := denylist.NewFromConfig(cfg, dbPool)
	if err != nil {
		return "", fmt.Errorf("failed to build denylist: %w", err)
	}
	if deny != nil {
		defer func() {
			if err := deny.Close(); err != nil {
				slog.Warn("Failed to close denylist", "error", err)
			}
		}()

		principal := c.Context[cfg.Denylist.PrincipalKey]
		if principal != "" {
			entry, err := deny.Check(ctx, principal)
			if err != nil {
				return "", fmt.Errorf("denylist check failed: %w", err)
			}
			if entry != nil {
				return fmt.Sprintf("denied: %s", entry.Reason), nil
			}
		}
	}

	admitted, err := coordinator.Admit(ctx, c.Context)
	if err != nil {
		return "", fmt.Errorf("admission failed: %w", err)
	}
	if !admitted {
		return "rejected", nil
	}
	return "admitted", nil
}

// RemainingCmd reports, without consuming anything, how many units each tier
// of each matching route would still admit for the given context.
type RemainingCmd struct {
	Context map[string]string `help:"Request context key=value pairs (repeatable)." placeholder:"KEY=VALUE"`
	Format  string            `short:"f" help:"Output format: text, json." default:"text" enum:"text,json"`
}

func (c *RemainingCmd) Run(cli *CLI) error {
	if len(c.Context) == 0 {
		return fmt.Errorf("at least one --context pair is required")
	}

	ctx := context.Background()
	cfg, loader, err := loadConfigFromCLI(cli, false)
	if err != nil {
		return err
	}
	defer loader.Stop()

	dbPool := config.NewDBPool()
	defer func() {
		if err := dbPool.Close(); err != nil {
			slog.Warn("Failed to close database pool", "error", err)
		}
	}()

	coordinator, err := quota.NewCoordinatorFromConfig(cfg, dbPool)
	if err != nil {
		return fmt.Errorf("failed to build coordinator: %w", err)
	}
	defer func() {
		if err := coordinator.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	statuses, err := coordinator.Inspect(ctx, c.Context)
	if err != nil {
		return fmt.Errorf("inspection failed: %w", err)
	}

	if c.Format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string][]quota.RouteStatus{"routes": statuses})
	}

	if len(statuses) == 0 {
		fmt.Println("No routes match the given context.")
		return nil
	}
	for _, status := range statuses {
		fmt.Printf("%s (%s)\n", status.Template, status.Path)
		for _, tier := range status.Tiers {
			window := time.Duration(tier.WindowMillis) * time.Millisecond
			fmt.Printf("  window=%s quota=%d burst=%d remaining=%d\n",
				window, tier.Quota, tier.Burst, tier.Remaining)
		}
	}
	return nil
}
