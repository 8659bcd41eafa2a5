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
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/kadirpekel/quotagate/pkg/config"
	"github.com/kadirpekel/quotagate/pkg/quota"
)

// PurgeCmd deletes cursor rows whose burst has long been replenished. A
// cursor in the past admits exactly like an absent row, so removal never
// changes a verdict; the age margin is operator caution.
type PurgeCmd struct {
	OlderThan time.Duration `name:"older-than" help:"Delete rows whose cursor lies at least this far in the past." default:"24h"`
	Yes       bool          `short:"y" help:"Skip the confirmation prompt."`
}

func (c *PurgeCmd) Run(cli *CLI) error {
	if c.OlderThan < 0 {
		return fmt.Errorf("--older-than must not be negative")
	}

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

	store, err := quota.NewStoreFromConfig(cfg, dbPool)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	purger, ok := store.(quota.Purger)
	if !ok {
		return fmt.Errorf("store backend %q does not support purging", cfg.Store.Backend)
	}

	backend := cfg.Store.Backend
	if backend == "" {
		backend = "memory"
	}
	if !c.Yes {
		ok, err := confirm(fmt.Sprintf("Delete cursor rows older than %s from the %s store? [y/N] ", c.OlderThan, backend))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cutoff := time.Now().Add(-c.OlderThan)
	deleted, err := purger.PurgeBefore(context.Background(), cutoff)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	fmt.Printf("Purged %d stale cursor row(s).\n", deleted)
	return nil
}

// confirm prompts on the terminal for a yes/no answer. Non-interactive
// callers must pass --yes instead.
func confirm(prompt string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("stdin is not a terminal; pass --yes to confirm")
	}

	fmt.Print(prompt)
	input, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read input: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
