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

// Package config loads and validates the configuration shared by the
// signer, plugin, and scheduler-client binaries. Files are YAML-first
// with a JSON fallback. Load then applies overrides from the GL_*
// environment variables bound in applyEnvironmentOverrides (GL_NODE_ID,
// GL_HSMD_SOCK_PATH, and so on); settings without such a variable come
// only from the file or the defaults, and LoadFromFile applies no
// environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Network identifies which Bitcoin network a node operates on.
type Network string

const (
	NetworkBitcoin Network = "bitcoin"
	NetworkTestnet Network = "testnet"
	NetworkRegtest Network = "regtest"
)

// Config is the top-level configuration shared across the three
// binaries; each binary only reads the sub-section it cares about.
type Config struct {
	Environment string           `yaml:"environment" json:"environment"`
	Signer      *SignerConfig    `yaml:"signer" json:"signer"`
	Plugin      *PluginConfig    `yaml:"plugin" json:"plugin"`
	Scheduler   *SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Logging     *LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// SignerConfig configures the device-side signer loop: where it finds
// its seed and which scheduler it registers/recovers against.
type SignerConfig struct {
	SeedPath      string        `yaml:"seed_path" json:"seed_path"`
	SchedulerURI  string        `yaml:"scheduler_uri" json:"scheduler_uri"`
	Network       Network       `yaml:"network" json:"network"`
	CACrtPath     string        `yaml:"ca_crt_path" json:"ca_crt_path"`
	NobodyCrtPath string        `yaml:"nobody_crt_path" json:"nobody_crt_path"`
	NobodyKeyPath string        `yaml:"nobody_key_path" json:"nobody_key_path"`
	RunOnce       bool          `yaml:"run_once" json:"run_once"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" json:"reconnect_wait"`
}

// PluginConfig configures the node-side plugin process: its HSM-facing
// Unix socket, the gRPC address it listens on for device connections,
// and the client CA it trusts for those connections.
type PluginConfig struct {
	HsmdSockPath       string  `yaml:"hsmd_sock_path" json:"hsmd_sock_path"`
	NodeGRPCBinding    string  `yaml:"node_grpc_binding" json:"node_grpc_binding"`
	NodeID             string  `yaml:"node_id" json:"node_id"`
	NodeInitHex        string  `yaml:"node_init_hex" json:"node_init_hex"`
	ClientCAPath       string  `yaml:"client_ca_path" json:"client_ca_path"`
	CertPath           string  `yaml:"cert_path" json:"cert_path"`
	TowerPublicGRPCURI string  `yaml:"tower_public_grpc_uri" json:"tower_public_grpc_uri"`
	Network            Network `yaml:"network" json:"network"`
}

// SchedulerConfig configures the scheduler client used by both the
// signer (registration/recovery) and any out-of-process caller that
// needs to bring a node's session online.
type SchedulerConfig struct {
	URI        string `yaml:"uri" json:"uri"`
	CACrtPath  string `yaml:"ca_crt_path" json:"ca_crt_path"`
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`
}

// LoggingConfig configures the shared structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML file, falling back to
// JSON if YAML parsing fails.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing the format by
// extension (".json" or else YAML).
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Signer != nil {
		if cfg.Signer.Network == "" {
			cfg.Signer.Network = NetworkBitcoin
		}
		if cfg.Signer.ReconnectWait == 0 {
			cfg.Signer.ReconnectWait = 5 * time.Second
		}
		if cfg.Signer.SeedPath == "" {
			cfg.Signer.SeedPath = ".glsigner/seed"
		}
	}

	if cfg.Plugin != nil {
		if cfg.Plugin.Network == "" {
			cfg.Plugin.Network = NetworkBitcoin
		}
		if cfg.Plugin.CertPath == "" {
			cfg.Plugin.CertPath = "./certs/"
		}
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}

	if cfg.Metrics != nil && cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
