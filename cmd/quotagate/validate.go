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
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/quotagate/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	// Config is the configuration file path (positional argument)
	Config string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`

	// Format specifies the output format
	Format string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`

	// PrintConfig prints the expanded configuration
	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration (with defaults applied and env vars resolved)."`
}

// Run executes the validate command. Loading already applies defaults,
// expands env vars, and validates, so a successful load is a valid config.
func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.LoadConfig(config.LoaderOptions{
		Type: config.ConfigTypeFile,
		Path: c.Config,
	})
	if err != nil {
		return printLoadError(c.Format, c.Config, err)
	}

	if c.PrintConfig {
		return printExpandedConfig(c.Format, c.Config, cfg)
	}

	printSuccess(c.Format, c.Config)
	return nil
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// printLoadError prints a configuration load error.
func printLoadError(format, file string, err error) error {
	switch format {
	case "json":
		printJSONResult(false, file, []ValidationError{{Type: "load", Message: err.Error()}})
	case "verbose":
		fmt.Fprintf(os.Stderr, "Configuration Load Error\n")
		fmt.Fprintf(os.Stderr, "========================\n\n")
		fmt.Fprintf(os.Stderr, "File:    %s\n", file)
		fmt.Fprintf(os.Stderr, "Error:   %s\n", err.Error())
	default: // compact
		fmt.Fprintf(os.Stderr, "%s: load error: %s\n", file, err.Error())
	}
	return fmt.Errorf("config load failed")
}

// printSuccess prints a success message.
func printSuccess(format, file string) {
	switch format {
	case "json":
		printJSONResult(true, file, nil)
	case "verbose":
		fmt.Fprintf(os.Stdout, "Configuration Validation Successful\n")
		fmt.Fprintf(os.Stdout, "===================================\n\n")
		fmt.Fprintf(os.Stdout, "File:   %s\n", file)
		fmt.Fprintf(os.Stdout, "Status: OK Valid\n")
	default: // compact
		fmt.Fprintf(os.Stdout, "%s: valid\n", file)
	}
}

// printExpandedConfig prints the expanded configuration.
func printExpandedConfig(format, file string, cfg *config.Config) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as JSON: %w", err)
		}
	case "verbose", "compact":
		// YAML for human-readable output
		fmt.Fprintf(os.Stdout, "# Expanded Configuration from: %s\n", file)
		fmt.Fprintf(os.Stdout, "# (defaults applied, env vars resolved)\n\n")

		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as YAML: %w", err)
		}
		if err := encoder.Close(); err != nil {
			return fmt.Errorf("failed to flush config YAML: %w", err)
		}
	}
	return nil
}

// jsonOutput is the JSON output structure.
type jsonOutput struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// printJSONResult prints a JSON validation result.
func printJSONResult(valid bool, file string, errors []ValidationError) {
	output := jsonOutput{
		Valid:  valid,
		File:   file,
		Errors: errors,
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}
