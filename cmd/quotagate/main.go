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

// Command quotagate is the CLI for the QuotaGate quota engine.
//
// Usage:
//
//	quotagate serve --config quotagate.yaml
//	quotagate check --config quotagate.yaml --context user_id=42
//	quotagate deny set 42 --reason "abusive traffic" --config quotagate.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/quotagate"
	"github.com/kadirpekel/quotagate/internal/httpapi"
	"github.com/kadirpekel/quotagate/internal/mcpserver"
	"github.com/kadirpekel/quotagate/pkg/auth"
	"github.com/kadirpekel/quotagate/pkg/config"
	"github.com/kadirpekel/quotagate/pkg/denylist"
	"github.com/kadirpekel/quotagate/pkg/observability"
	"github.com/kadirpekel/quotagate/pkg/quota"
)

// CLI defines the command-line interface.
type CLI struct {
	Version   VersionCmd   `cmd:"" help:"Show version information."`
	Serve     ServeCmd     `cmd:"" help:"Start the quota server."`
	Check     CheckCmd     `cmd:"" help:"Admit one request against the configured limits."`
	Remaining RemainingCmd `cmd:"" help:"Show remaining units per tier for a request context."`
	Deny      DenyCmd      `cmd:"" help:"Manage the principal denylist."`
	Purge     PurgeCmd     `cmd:"" help:"Delete replenished cursor rows from the store."`
	Validate  ValidateCmd  `cmd:"" help:"Validate configuration file."`
	Schema    SchemaCmd    `cmd:"" help:"Generate JSON Schema for the configuration."`
	MCP       MCPCmd       `cmd:"" name:"mcp" help:"Serve the quota tools over MCP on stdio."`

	Config     string   `short:"c" help:"Path to config file." type:"path"`
	ConfigType string   `name:"config-type" help:"Config source (file, consul, etcd, zookeeper)." default:"file"`
	Endpoint   []string `help:"Remote config store endpoints (consul, etcd, zookeeper)."`
	LogLevel   string   `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile    string   `help:"Log file path (empty = stderr)."`
	LogFormat  string   `help:"Log format (simple, verbose, or json)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := quotagate.GetVersion()
	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "(devel)" && bi.Main.Version != "" {
			info.Version = bi.Main.Version
		}
	}
	fmt.Println(info.String())
	return nil
}

// ServeCmd starts the quota server.
type ServeCmd struct {
	// Server options
	Port  int  `help:"Port to listen on (overrides config)." default:"0"`
	Watch bool `help:"Watch config source for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	// Load configuration
	cfg, loader, err := loadConfigFromCLI(cli, c.Watch)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Stop()
	}

	// Config file logger settings apply when CLI/env did not override
	if cleanup, err := applyLoggerConfig(&cfg.Logger, cli); err != nil {
		return err
	} else if cleanup != nil {
		defer cleanup()
	}

	// Override port if explicitly specified
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	// Database pool shared by the store and the denylist
	dbPool := config.NewDBPool()
	defer func() {
		if err := dbPool.Close(); err != nil {
			slog.Warn("Failed to close database pool", "error", err)
		}
	}()

	// Admission pipeline
	coordinator, err := quota.NewCoordinatorFromConfig(cfg, dbPool)
	if err != nil {
		return fmt.Errorf("failed to build coordinator: %w", err)
	}
	defer func() {
		if err := coordinator.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	// Reloads swap the route table in place; store and server settings
	// keep their boot-time values until restart.
	if c.Watch && loader != nil {
		loader.SetOnChange(func(updated *config.Config) error {
			table, err := quota.NewTable(updated.Limits)
			if err != nil {
				return fmt.Errorf("reloaded limits rejected: %w", err)
			}
			coordinator.SetTable(table)
			slog.Info("Route table reloaded", "routes", len(updated.Limits))
			return nil
		})
	}

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

	// Observability
	var obsMgr *observability.Manager
	if cfg.Observability.Tracing.Enabled || cfg.Observability.Metrics.Enabled {
		slog.Info("🔭 Initializing observability...")
		obsMgr = observability.NewManager(buildObservabilityConfig(cfg))
		if err := obsMgr.Initialize(ctx); err != nil {
			slog.Warn("Failed to initialize observability", "error", err)
			obsMgr = nil
		} else {
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := obsMgr.Shutdown(shutdownCtx); err != nil {
					slog.Warn("Failed to shut down observability", "error", err)
				}
			}()
		}
	}

	// Authentication
	var validator auth.TokenValidator
	if cfg.Server.Auth.IsEnabled() {
		validator, err = auth.NewValidatorFromConfig(cfg.Server.Auth)
		if err != nil {
			return fmt.Errorf("failed to build token validator: %w", err)
		}
	}

	srv := httpapi.NewServer(cfg, coordinator)
	srv.SetDenylist(deny)
	if obsMgr != nil {
		srv.SetObservability(obsMgr)
	}
	if validator != nil {
		srv.SetAuth(validator)
	}

	if cfg.Server.MCP != nil && cfg.Server.MCP.Enabled {
		mcpSrv := mcpserver.New(cfg, coordinator)
		mcpSrv.SetDenylist(deny)
		srv.SetMCPHandler(mcpSrv.HTTPHandler())
	}

	printServeInfo(cfg)

	// Start server (blocks until the context is cancelled)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gCtx)
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Stop(shutdownCtx)
	})

	// Background purge of replenished cursor rows
	if cfg.Store.Purge != nil && cfg.Store.Purge.Enabled {
		if purger, ok := coordinator.Store().(quota.Purger); ok {
			runner := quota.NewPurgeRunner(purger, cfg.Store.Purge)
			g.Go(func() error {
				runner.Run(gCtx)
				return nil
			})
			slog.Info("Background purge enabled", "interval", cfg.Store.Purge.Interval, "margin", cfg.Store.Purge.Margin)
		} else {
			slog.Warn("Background purge configured but store does not support it", "backend", cfg.Store.Backend)
		}
	}

	return g.Wait()
}

// buildObservabilityConfig maps the config tree onto the observability
// package's own config type.
func buildObservabilityConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		Tracing: observability.TracingConfig{
			Enabled:      cfg.Observability.Tracing.Enabled,
			Exporter:     cfg.Observability.Tracing.Exporter,
			Endpoint:     cfg.Observability.Tracing.Endpoint,
			SamplingRate: cfg.Observability.Tracing.SamplingRate,
			ServiceName:  cfg.Observability.Tracing.ServiceName,
			Insecure:     cfg.Observability.Tracing.Insecure,
			Timeout:      cfg.Observability.Tracing.Timeout,
		},
		Metrics: observability.MetricsConfig{
			Enabled:   cfg.Observability.Metrics.Enabled,
			Endpoint:  cfg.Observability.Metrics.Endpoint,
			Namespace: cfg.Observability.Metrics.Namespace,
		},
	}
}

// printServeInfo prints startup info for the serve command.
func printServeInfo(cfg *config.Config) {
	greenColor := "\033[38;2;16;185;129m"
	resetColor := "\033[0m"
	scheme := "http"
	if cfg.Server.TLS.IsEnabled() {
		scheme = "https"
	}
	addr := cfg.Server.Address()

	fmt.Printf("\n%s🚀 QuotaGate server ready!%s\n", greenColor, resetColor)
	fmt.Printf("   Admit:       %s://%s/v1/admit\n", scheme, addr)
	fmt.Printf("   Remaining:   %s://%s/v1/remaining\n", scheme, addr)
	fmt.Printf("   Routes:      %s://%s/v1/routes\n", scheme, addr)
	fmt.Printf("   Health:      %s://%s/health\n", scheme, addr)

	switch cfg.Store.Backend {
	case "sql":
		if dbCfg, ok := cfg.GetDatabase(cfg.Store.SQLDatabase); ok {
			fmt.Printf("   Storage:     %s (%s)\n", dbCfg.Driver, dbCfg.Database)
		}
	case "redis":
		if cfg.Store.Redis != nil {
			fmt.Printf("   Storage:     redis (%s)\n", cfg.Store.Redis.Addr)
		}
	default:
		fmt.Printf("   Storage:     in-memory (not persisted)\n")
	}

	if cfg.Denylist.Enabled {
		fmt.Printf("   Denylist:    %s (key=%s)\n", cfg.Denylist.Source, cfg.Denylist.PrincipalKey)
	}
	if cfg.Server.MCP != nil && cfg.Server.MCP.Enabled {
		fmt.Printf("   MCP:         %s://%s%s\n", scheme, addr, cfg.Server.MCP.Path)
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:     %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}
	if cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:     %s://%s%s\n", scheme, addr, cfg.Observability.Metrics.Endpoint)
	}

	fmt.Println("\n   Routes:")
	for _, limit := range cfg.Limits {
		fmt.Printf("     - %s (%d tiers)\n", limit.Path, len(limit.Tiers))
	}
	fmt.Println("\nPress Ctrl+C to stop")
}

// printBanner prints a colored ASCII banner
func printBanner() {
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			// Not a terminal, skip banner
			return
		}
	} else {
		return
	}

	greenColor := "\033[38;2;16;185;129m"
	resetColor := "\033[0m"

	banner := `
 ██████╗ ██╗   ██╗ ██████╗ ████████╗ █████╗  ██████╗  █████╗ ████████╗███████╗
██╔═══██╗██║   ██║██╔═══██╗╚══██╔══╝██╔══██╗██╔════╝ ██╔══██╗╚══██╔══╝██╔════╝
██║   ██║██║   ██║██║   ██║   ██║   ███████║██║  ███╗███████║   ██║   █████╗
██║▄▄ ██║██║   ██║██║   ██║   ██║   ██╔══██║██║   ██║██╔══██║   ██║   ██╔══╝
╚██████╔╝╚██████╔╝╚██████╔╝   ██║   ██║  ██║╚██████╔╝██║  ██║   ██║   ███████╗
 ╚══▀▀═╝  ╚═════╝  ╚═════╝    ╚═╝   ╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚══════╝
`
	fmt.Printf("%s%s%s\n", greenColor, banner, resetColor)
}

// shouldSkipBanner checks if command should skip banner.
// Informational and one-shot commands skip it; only serve shows it.
func shouldSkipBanner(args []string) bool {
	for _, arg := range args[1:] {
		if arg == "serve" {
			return false
		}
	}
	return true
}

func main() {
	if !shouldSkipBanner(os.Args) {
		printBanner()
	}

	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("quotagate"),
		kong.Description("QuotaGate - Declarative multi-tier quota admission engine"),
		kong.UsageOnError(),
	)

	// Initialize logger with CLI flags/env vars (before config loading)
	_, _, _, cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
