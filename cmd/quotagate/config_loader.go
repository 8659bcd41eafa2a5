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
	"os"

	"github.com/kadirpekel/quotagate/pkg/config"
)

// defaultConfigFile is picked up from the working directory when --config
// is not given.
const defaultConfigFile = "quotagate.yaml"

// loadConfigFromCLI is the single source of truth for config loading across
// all commands. The source is a file by default; --config-type switches to
// Consul, etcd, or ZooKeeper, in which case --config names the key instead
// of a path.
func loadConfigFromCLI(cli *CLI, watch bool) (*config.Config, *config.Loader, error) {
	configType, err := config.ParseConfigType(cli.ConfigType)
	if err != nil {
		return nil, nil, err
	}

	path := cli.Config
	if path == "" && configType == config.ConfigTypeFile {
		if !fileExists(defaultConfigFile) {
			return nil, nil, fmt.Errorf("no config file given and %s not found (use --config)", defaultConfigFile)
		}
		path = defaultConfigFile
	}
	if path == "" {
		return nil, nil, fmt.Errorf("--config is required for config type %q", configType)
	}

	cfg, loader, err := config.LoadConfigWithLoader(config.LoaderOptions{
		Type:      configType,
		Path:      path,
		Endpoints: cli.Endpoint,
		Watch:     watch,
	})
	if err != nil {
		return nil, nil, err
	}

	slog.Info("Loaded configuration", "source", string(configType), "path", path, "routes", len(cfg.Limits))
	return cfg, loader, nil
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
