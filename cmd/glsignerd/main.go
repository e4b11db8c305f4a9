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

// glsignerd is the device-side signer daemon: it holds the node's seed,
// attaches to the node's StreamHsmRequests stream, and answers (or
// rejects) every HSM request the node relays, per spec §4.1.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blockstream/greenlight-core/config"
)

var (
	configPath string
	credsPath  string
)

var rootCmd = &cobra.Command{
	Use:   "glsignerd",
	Short: "Greenlight device-side signer daemon",
	Long: `glsignerd holds the node identity key derived from the device seed
and attaches to a Greenlight node's signer stream, classifying and
signing (or rejecting) every HSM request the node relays.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "glsignerd.yaml", "path to the signer config file")
	rootCmd.PersistentFlags().StringVar(&credsPath, "creds", "", "path to the device credentials blob (defaults to <seed dir>/creds)")

	// Subcommands are registered in their respective files:
	// - register.go: registerCmd
	// - recover.go: recoverCmd
	// - run.go: runCmd
}

func loadSignerConfig() (*config.SignerConfig, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("glsignerd: loading config: %w", err)
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("glsignerd: config %q has no signer section", configPath)
	}
	return cfg.Signer, nil
}

func loadSeed(path string) ([]byte, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("glsignerd: reading seed file %q: %w", path, err)
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("glsignerd: seed file %q must contain exactly 32 bytes, got %d", path, len(seed))
	}
	return seed, nil
}

func defaultCredsPath(seedPath string) string {
	if credsPath != "" {
		return credsPath
	}
	return filepath.Join(filepath.Dir(seedPath), "creds")
}
