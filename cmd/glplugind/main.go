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

// glplugind is the node-side plugin daemon: it serves the daemon-local
// HSM socket (plugin/hsmserver), the device-facing signer-attach stream
// (plugin/nodeserver), and the supporting auth/state/replay machinery
// those two surfaces share, per spec §4.2-§4.4 and §4.7.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockstream/greenlight-core/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "glplugind",
	Short: "Greenlight node-side plugin daemon",
	Long: `glplugind bridges a node's local HSM socket to the device's
signer-attach stream: it stages every signature request the daemon
issues, serves it to whichever device is currently attached, and mirrors
the versioned signer state and pending authenticated-request context
both sides need to agree on.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "glplugind.yaml", "path to the plugin config file")

	// Subcommands are registered in their respective files:
	// - serve.go: serveCmd
}

func loadPluginConfig() (*config.Config, *config.PluginConfig, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("glplugind: loading config: %w", err)
	}
	if cfg.Plugin == nil {
		return nil, nil, fmt.Errorf("glplugind: config %q has no plugin section", configPath)
	}
	return cfg, cfg.Plugin, nil
}
