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

package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/consul"
	"github.com/knadh/koanf/providers/etcd"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigType identifies where configuration is loaded from.
type ConfigType string

const (
	ConfigTypeFile      ConfigType = "file"
	ConfigTypeConsul    ConfigType = "consul"
	ConfigTypeEtcd      ConfigType = "etcd"
	ConfigTypeZookeeper ConfigType = "zookeeper"
)

// LoaderOptions configures a config Loader.
type LoaderOptions struct {
	// Type selects the config source. Defaults to "file".
	Type ConfigType

	// Path is the file path (file) or key (consul, etcd, zookeeper).
	Path string

	// Endpoints are the remote store addresses. Defaults to the
	// conventional local port for the selected type.
	Endpoints []string

	// Watch enables live reload when the source changes.
	Watch bool

	// OnChange is invoked with the reprocessed config after a reload.
	OnChange func(*Config) error
}

// Loader loads and optionally watches configuration from a file,
// Consul, etcd, or ZooKeeper.
type Loader struct {
	koanf    *koanf.Koanf
	options  LoaderOptions
	parser   *yaml.YAML
	stopChan chan struct{}
}

// NewLoader creates a config loader for the given options.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Type == "" {
		opts.Type = ConfigTypeFile
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	if len(opts.Endpoints) == 0 {
		switch opts.Type {
		case ConfigTypeConsul:
			opts.Endpoints = []string{"localhost:8500"}
		case ConfigTypeEtcd:
			opts.Endpoints = []string{"localhost:2379"}
		case ConfigTypeZookeeper:
			opts.Endpoints = []string{"localhost:2181"}
		}
	}

	return &Loader{
		koanf:    koanf.New("."),
		options:  opts,
		parser:   yaml.Parser(),
		stopChan: make(chan struct{}),
	}, nil
}

// Load reads the config from the configured source, expands environment
// variables, validates, and returns the processed config. When Watch is
// enabled the loader keeps watching the source in the background.
func (l *Loader) Load() (*Config, error) {
	provider, err := l.newProvider()
	if err != nil {
		return nil, err
	}

	if err := l.koanf.Load(provider, l.selectParser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", l.options.Type, err)
	}

	if err := l.expandEnvVarsInKoanf(); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	cfg, err := l.unmarshalAndProcess()
	if err != nil {
		return nil, err
	}

	if l.options.Watch {
		go l.watch(provider)
	}

	return cfg, nil
}

func (l *Loader) newProvider() (koanf.Provider, error) {
	switch l.options.Type {
	case ConfigTypeFile:
		return file.Provider(l.options.Path), nil

	case ConfigTypeConsul:
		consulConfig := api.DefaultConfig()
		consulConfig.Address = l.options.Endpoints[0]

		return consul.Provider(consul.Config{
			Cfg: consulConfig,
			Key: l.options.Path,
		}), nil

	case ConfigTypeEtcd:
		return etcd.Provider(etcd.Config{
			Endpoints:   l.options.Endpoints,
			DialTimeout: 5 * time.Second,
			Key:         l.options.Path,
		}), nil

	case ConfigTypeZookeeper:
		zkProvider, err := NewZookeeperProvider(l.options.Endpoints, l.options.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create zookeeper provider: %w", err)
		}
		return zkProvider, nil

	default:
		return nil, fmt.Errorf("unsupported config type: %s", l.options.Type)
	}
}

// selectParser returns the parser for the current source. File and
// ZooKeeper providers return raw YAML bytes; Consul and etcd providers
// return already-parsed maps and need no parser.
func (l *Loader) selectParser() koanf.Parser {
	if l.options.Type == ConfigTypeFile || l.options.Type == ConfigTypeZookeeper {
		return l.parser
	}
	return nil
}

// Watcher is implemented by providers that support change notification.
type Watcher interface {
	Watch(cb func(event interface{}, err error)) error
}

func (l *Loader) watch(provider koanf.Provider) {
	watcher, ok := provider.(Watcher)
	if !ok {
		slog.Warn("⚠️  Provider does not support watching", "type", l.options.Type)
		return
	}

	slog.Info("🔄 Config watcher started", "type", l.options.Type)

	err := watcher.Watch(func(event interface{}, err error) {
		select {
		case <-l.stopChan:
			slog.Info("🛑 Config watcher stopped", "type", l.options.Type)
			return
		default:
		}

		if err != nil {
			slog.Warn("⚠️  Watch error", "error", err)
			return
		}

		if err := l.koanf.Load(provider, l.selectParser()); err != nil {
			slog.Warn("⚠️  Failed to reload config", "error", err)
			return
		}

		if err := l.expandEnvVarsInKoanf(); err != nil {
			slog.Warn("⚠️  Failed to expand env vars in reloaded config", "error", err)
			return
		}

		newCfg, err := l.unmarshalAndProcess()
		if err != nil {
			slog.Warn("⚠️  Reloaded config processing failed", "error", err)
			return
		}

		if l.options.OnChange == nil {
			slog.Warn("⚠️  Config change detected but no OnChange callback set")
			return
		}

		if err := l.options.OnChange(newCfg); err != nil {
			slog.Warn("⚠️  Config change callback failed", "error", err)
		} else {
			slog.Info("✅ Configuration reloaded", "type", l.options.Type)
		}
	})

	if err != nil {
		slog.Warn("⚠️  Watch stopped with error", "error", err)
	}
}

func (l *Loader) unmarshalAndProcess() (*Config, error) {
	// Strict validation first, to catch typos and unknown fields
	// before they silently disappear in the unmarshal.
	strictResult, err := ValidateConfigStructure(l.koanf)
	if err != nil {
		return nil, fmt.Errorf("strict validation check failed: %w", err)
	}

	if !strictResult.Valid() {
		return nil, fmt.Errorf("configuration has structural errors:\n%s", strictResult.FormatErrors())
	}

	cfg := &Config{}
	if err := l.koanf.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "yaml",
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	processedCfg, err := ProcessConfigPipeline(cfg)
	if err != nil {
		return nil, fmt.Errorf("config processing failed: %w", err)
	}

	return processedCfg, nil
}

// expandEnvVarsInKoanf rebuilds the koanf instance with ${VAR} and
// ${VAR:-default} references resolved from the environment.
func (l *Loader) expandEnvVarsInKoanf() error {
	rawMap := l.koanf.Raw()

	expandedMap := ExpandEnvVarsInData(rawMap)

	expandedMapData, ok := expandedMap.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected type after env var expansion")
	}

	newKoanf := koanf.New(".")
	if err := newKoanf.Load(confmap.Provider(expandedMapData, "."), nil); err != nil {
		return fmt.Errorf("failed to load expanded config: %w", err)
	}

	l.koanf = newKoanf

	return nil
}

// Stop terminates the background watcher, if any.
func (l *Loader) Stop() {
	close(l.stopChan)
}

// SetOnChange sets the callback invoked after a successful reload.
func (l *Loader) SetOnChange(callback func(*Config) error) {
	l.options.OnChange = callback
}

// LoadConfig loads a config without keeping the loader around.
func LoadConfig(opts LoaderOptions) (*Config, error) {
	cfg, _, err := LoadConfigWithLoader(opts)
	return cfg, err
}

// LoadConfigWithLoader loads a config and returns the loader for
// callers that need Stop or SetOnChange.
func LoadConfigWithLoader(opts LoaderOptions) (*Config, *Loader, error) {
	loader, err := NewLoader(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create loader: %w", err)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, loader, nil
}

// ParseConfigType parses a user-supplied config source name.
func ParseConfigType(s string) (ConfigType, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "file":
		return ConfigTypeFile, nil
	case "consul":
		return ConfigTypeConsul, nil
	case "etcd":
		return ConfigTypeEtcd, nil
	case "zookeeper", "zk":
		return ConfigTypeZookeeper, nil
	default:
		return "", fmt.Errorf("invalid config type: %s (valid types: file, consul, etcd, zookeeper)", s)
	}
}
