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
)

// DenyCmd manages the principal denylist.
type DenyCmd struct {
	Set  DenySetCmd  `cmd:"" help:"Add a principal to the denylist."`
	Rm   DenyRmCmd   `cmd:"" help:"Remove a principal from the denylist."`
	Get  DenyGetCmd  `cmd:"" help:"Show a principal's denylist entry."`
	List DenyListCmd `cmd:"" help:"List all denylisted principals."`
}

// openDenylist builds the configured denylist backend. The returned cleanup
// releases the backend, the database pool, and the config loader.
func openDenylist(cli *CLI) (denylist.Denylist, func(), error) {
	cfg, loader, err := loadConfigFromCLI(cli, false)
	if err != nil {
		return nil, nil, err
	}

	dbPool := config.NewDBPool()
	closeAll := func() {
		if err := dbPool.Close(); err != nil {
			slog.Warn("Failed to close database pool", "error", err)
		}
		loader.Stop()
	}

	deny, err := denylist.NewFromConfig(cfg, dbPool)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to build denylist: %w", err)
	}
	if deny == nil {
		closeAll()
		return nil, nil, fmt.Errorf("denylist is not enabled in the configuration")
	}

	cleanup := func() {
		if err := deny.Close(); err != nil {
			slog.Warn("Failed to close denylist", "error", err)
		}
		closeAll()
	}
	return deny, cleanup, nil
}

// DenySetCmd adds a principal to the denylist.
type DenySetCmd struct {
	Principal string `arg:"" help:"Principal to denylist."`
	Reason    string `short:"r" required:"" help:"Reason shown to rejected callers."`
}

func (c *DenySetCmd) Run(cli *CLI) error {
	deny, cleanup, err := openDenylist(cli)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := deny.Set(context.Background(), c.Principal, c.Reason); err != nil {
		return err
	}
	fmt.Printf("Denylisted %q: %s\n", c.Principal, c.Reason)
	return nil
}

// DenyRmCmd removes a principal from the denylist.
type DenyRmCmd struct {
	Principal string `arg:"" help:"Principal to remove."`
}

func (c *DenyRmCmd) Run(cli *CLI) error {
	deny, cleanup, err := openDenylist(cli)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := deny.Remove(context.Background(), c.Principal); err != nil {
		return err
	}
	fmt.Printf("Removed %q from the denylist\n", c.Principal)
	return nil
}

// DenyGetCmd shows a principal's denylist entry.
type DenyGetCmd struct {
	Principal string `arg:"" help:"Principal to look up."`
}

func (c *DenyGetCmd) Run(cli *CLI) error {
	deny, cleanup, err := openDenylist(cli)
	if err != nil {
		return err
	}
	defer cleanup()

	entry, err := deny.Check(context.Background(), c.Principal)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%q is not denylisted", c.Principal)
	}
	fmt.Printf("%s\n", entry.Principal)
	fmt.Printf("  reason: %s\n", entry.Reason)
	fmt.Printf("  since:  %s\n", entry.CreatedAt.Format(time.RFC3339))
	return nil
}

// DenyListCmd lists all denylisted principals.
type DenyListCmd struct {
	Format string `short:"f" help:"Output format: text, json." default:"text" enum:"text,json"`
}

func (c *DenyListCmd) Run(cli *CLI) error {
	deny, cleanup, err := openDenylist(cli)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := deny.List(context.Background())
	if err != nil {
		return err
	}

	if c.Format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string][]denylist.Entry{"entries": entries})
	}

	if len(entries) == 0 {
		fmt.Println("Denylist is empty.")
		return nil
	}
	fmt.Printf("%d denylisted principal(s):\n", len(entries))
	for _, entry := range entries {
		fmt.Printf("  - %s  since %s  (%s)\n",
			entry.Principal, entry.CreatedAt.Format(time.RFC3339), entry.Reason)
	}
	return nil
}
