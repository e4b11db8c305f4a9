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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockstream/greenlight-core/scheduler"
	"github.com/blockstream/greenlight-core/signer"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Recover this device's credentials for an already-registered node",
	RunE:  runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	cfg, err := loadSignerConfig()
	if err != nil {
		return err
	}

	seed, err := loadSeed(cfg.SeedPath)
	if err != nil {
		return err
	}

	sgn, err := signer.New(seed, string(cfg.Network), signer.NoopValidator{}, nil, nil)
	if err != nil {
		return fmt.Errorf("glsignerd: %w", err)
	}

	conn, closeConn, err := dialScheduler(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeConn()

	client := scheduler.New(conn, sgn, string(cfg.Network))
	reg, err := client.Recover(cmd.Context())
	if err != nil {
		return fmt.Errorf("glsignerd: recover: %w", err)
	}

	out := defaultCredsPath(cfg.SeedPath)
	if err := os.WriteFile(out, reg.Credentials.Encode(), 0600); err != nil {
		return fmt.Errorf("glsignerd: writing credentials to %q: %w", out, err)
	}

	fmt.Printf("recovered node %x, credentials written to %s\n", sgn.NodeID(), out)
	return nil
}
