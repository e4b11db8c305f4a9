// Copyright (C) 2025 the greenlight-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoaderOptions configures the configuration loader.
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config).
	ConfigDir string
	// Environment overrides automatic environment detection.
	Environment string
	// DotenvPath, if set, is loaded with godotenv before env overrides are
	// applied. Missing files are ignored.
	DotenvPath string
}

// DefaultLoaderOptions returns default loader options.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:  "config",
		DotenvPath: ".env",
	}
}

// Load loads configuration with automatic environment detection: it tries
// <dir>/<env>.yaml, then <dir>/default.yaml, then <dir>/config.yaml,
// falling back to an empty Config seeded entirely from environment
// variables.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.DotenvPath != "" {
		// godotenv.Load only overrides unset process env vars, so an
		// operator's real environment always wins over the file.
		_ = godotenv.Load(options.DotenvPath)
	}

	env := options.Environment
	if env == "" {
		env = os.Getenv("GL_ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}

	cfg, err := loadConfigFile(filepath.Join(options.ConfigDir, env+".yaml"))
	if err != nil {
		cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "default.yaml"))
		if err != nil {
			cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "config.yaml"))
			if err != nil {
				cfg = &Config{}
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}
	setDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides binds the env vars named in the bootstrap
// design onto the config, taking priority over file-loaded values. Each
// sub-section is lazily allocated so that setting e.g. only GL_NODE_ID
// is enough to get a usable PluginConfig without a config file at all.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("GL_SCHEDULER_URI"); v != "" {
		if cfg.Signer == nil {
			cfg.Signer = &SignerConfig{}
		}
		cfg.Signer.SchedulerURI = v
		if cfg.Scheduler == nil {
			cfg.Scheduler = &SchedulerConfig{}
		}
		cfg.Scheduler.URI = v
	}
	if v := os.Getenv("GL_CA_CRT"); v != "" {
		if cfg.Signer == nil {
			cfg.Signer = &SignerConfig{}
		}
		cfg.Signer.CACrtPath = v
	}
	if v := os.Getenv("GL_NOBODY_CRT"); v != "" {
		if cfg.Signer == nil {
			cfg.Signer = &SignerConfig{}
		}
		cfg.Signer.NobodyCrtPath = v
	}
	if v := os.Getenv("GL_NOBODY_KEY"); v != "" {
		if cfg.Signer == nil {
			cfg.Signer = &SignerConfig{}
		}
		cfg.Signer.NobodyKeyPath = v
	}
	if v := os.Getenv("GL_NODE_NETWORK"); v != "" {
		if cfg.Signer == nil {
			cfg.Signer = &SignerConfig{}
		}
		cfg.Signer.Network = Network(v)
		if cfg.Plugin == nil {
			cfg.Plugin = &PluginConfig{}
		}
		cfg.Plugin.Network = Network(v)
	}

	if v := os.Getenv("GL_HSMD_SOCK_PATH"); v != "" {
		if cfg.Plugin == nil {
			cfg.Plugin = &PluginConfig{}
		}
		cfg.Plugin.HsmdSockPath = v
	}
	if v := os.Getenv("GL_NODE_BIND"); v != "" {
		if cfg.Plugin == nil {
			cfg.Plugin = &PluginConfig{}
		}
		cfg.Plugin.NodeGRPCBinding = v
	}
	if v := os.Getenv("GL_NODE_ID"); v != "" {
		if cfg.Plugin == nil {
			cfg.Plugin = &PluginConfig{}
		}
		cfg.Plugin.NodeID = v
	}
	if v := os.Getenv("GL_NODE_INIT"); v != "" {
		if cfg.Plugin == nil {
			cfg.Plugin = &PluginConfig{}
		}
		cfg.Plugin.NodeInitHex = v
	}
	if v := os.Getenv("GL_PLUGIN_CLIENTCA_PATH"); v != "" {
		if cfg.Plugin == nil {
			cfg.Plugin = &PluginConfig{}
		}
		cfg.Plugin.ClientCAPath = v
	}
	if v := os.Getenv("GL_CERT_PATH"); v != "" {
		if cfg.Plugin == nil {
			cfg.Plugin = &PluginConfig{}
		}
		cfg.Plugin.CertPath = v
	}
	if v := os.Getenv("GL_TOWER_PUBLIC_GRPC_URI"); v != "" {
		if cfg.Plugin == nil {
			cfg.Plugin = &PluginConfig{}
		}
		cfg.Plugin.TowerPublicGRPCURI = v
	}

	if v := os.Getenv("GL_LOG_LEVEL"); v != "" {
		if cfg.Logging == nil {
			cfg.Logging = &LoggingConfig{}
		}
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GL_LOG_FORMAT"); v != "" {
		if cfg.Logging == nil {
			cfg.Logging = &LoggingConfig{}
		}
		cfg.Logging.Format = v
	}
	switch os.Getenv("GL_METRICS_ENABLED") {
	case "true":
		if cfg.Metrics == nil {
			cfg.Metrics = &MetricsConfig{}
		}
		cfg.Metrics.Enabled = true
	case "false":
		if cfg.Metrics == nil {
			cfg.Metrics = &MetricsConfig{}
		}
		cfg.Metrics.Enabled = false
	}
}

// LoadForEnvironment loads configuration for a specific environment.
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
		DotenvPath:  ".env",
	})
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
