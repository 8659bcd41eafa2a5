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
	"fmt"
	"log/slog"

	"github.com/kadirpekel/quotagate/internal/mcpserver"
	"github.com/kadirpekel/quotagate/pkg/config"
	"github.com/kadirpekel/quotagate/pkg/denylist"
	"github.com/kadirpekel/quotagate/pkg/quota"
)

// MCPCmd serves the quota tools over MCP on stdio, for agent runtimes that
// spawn their tool servers as child processes. Stdout carries the protocol;
// logs stay on stderr.
type MCPCmd struct{}

func (c *MCPCmd) Run(cli *CLI) error {
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

	deny, err := denylist.NewFromConfig(cfg, dbPool)
	if err != nil {
		return fmt.Errorf("failed to build denylist: %w", err)
	}
	if deny != nil {
		defer func() {
			if err := deny.Close(); err != nil {
				slog.Warn("Failed to close denylist", "error", err)
			}
		}()
	}

	srv := mcpserver.New(cfg, coordinator)
	srv.SetDenylist(deny)

	slog.Info("MCP server listening on stdio", "routes", len(cfg.Limits))
	return srv.ServeStdio()
}
