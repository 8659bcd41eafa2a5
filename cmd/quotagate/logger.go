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
	"os"

	"github.com/kadirpekel/quotagate/pkg/config"
	"github.com/kadirpekel/quotagate/pkg/logger"
)

const (
	// LogFileEnvVar is the environment variable name for log file path
	LogFileEnvVar = "LOG_FILE"
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"
	// DefaultLogLevel is the default log level
	DefaultLogLevel = "info"
	// DefaultLogFormat is the default log format
	DefaultLogFormat = "simple"
)

// initLoggerFromCLI initializes the logger from CLI flags and environment variables.
// Priority: CLI flags > env vars > defaults
// Returns: level string, file string, format string, cleanup function, error
func initLoggerFromCLI(cliLogLevel, cliLogFile, cliLogFormat string) (string, string, string, func(), error) {
	// Determine log level: CLI flag > env var > default
	logLevel := cliLogLevel
	if logLevel == "" {
		logLevel = os.Getenv(LogLevelEnvVar)
	}
	if logLevel == "" {
		logLevel = DefaultLogLevel
	}

	// Determine log file: CLI flag > env var > default (empty = stderr)
	logFile := cliLogFile
	if logFile == "" {
		logFile = os.Getenv(LogFileEnvVar)
	}

	// Determine log format: CLI flag > env var > default
	logFormat := cliLogFormat
	if logFormat == "" {
		logFormat = os.Getenv(LogFormatEnvVar)
	}
	if logFormat == "" {
		logFormat = DefaultLogFormat
	}

	cleanup, err := initLogger(logLevel, logFile, logFormat)
	if err != nil {
		return "", "", "", nil, err
	}
	return logLevel, logFile, logFormat, cleanup, nil
}

// applyLoggerConfig re-initializes the logger from the config file's logger
// section. CLI flags and environment variables take priority, so this is a
// no-op unless all three were left at their defaults.
func applyLoggerConfig(cfg *config.LoggerConfig, cli *CLI) (func(), error) {
	if cfg == nil {
		return nil, nil
	}
	if cli.LogLevel != DefaultLogLevel || cli.LogFile != "" || cli.LogFormat != DefaultLogFormat {
		return nil, nil
	}
	if os.Getenv(LogLevelEnvVar) != "" || os.Getenv(LogFileEnvVar) != "" || os.Getenv(LogFormatEnvVar) != "" {
		return nil, nil
	}

	logLevel := cfg.Level
	if logLevel == "" {
		logLevel = DefaultLogLevel
	}
	logFormat := cfg.Format
	if logFormat == "" {
		logFormat = DefaultLogFormat
	}
	if logLevel == DefaultLogLevel && cfg.File == "" && logFormat == DefaultLogFormat {
		// Config matches what is already installed.
		return nil, nil
	}

	return initLogger(logLevel, cfg.File, logFormat)
}

func initLogger(logLevel, logFile, logFormat string) (func(), error) {
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output *os.File
	var cleanup func()
	if logFile != "" {
		file, cleanupFn, err := logger.OpenLogFile(logFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = cleanupFn
	} else {
		output = os.Stderr
	}

	logger.Init(level, output, logFormat)

	return cleanup, nil
}
