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
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockstream/greenlight-core/scheduler"
	"github.com/blockstream/greenlight-core/signer"
)

var (
	bip32ExtKeyHex string
	inviteCode     string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device's node with the scheduler",
	RunE:  runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&bip32ExtKeyHex, "bip32-ext-key", "", "hex-encoded BIP32 extended public key for the new node")
	registerCmd.Flags().StringVar(&inviteCode, "invite-code", "", "optional invite code")
	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
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

	bip32ExtKey, err := hex.DecodeString(bip32ExtKeyHex)
	if err != nil {
		return fmt.Errorf("glsignerd: decoding --bip32-ext-key: %w", err)
	}

	conn, closeConn, err := dialScheduler(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeConn()

	client := scheduler.New(conn, sgn, string(cfg.Network))
	reg, err := client.Register(cmd.Context(), bip32ExtKey, inviteCode)
	if err != nil {
		return fmt.Errorf("glsignerd: register: %w", err)
	}

	out := defaultCredsPath(cfg.SeedPath)
	if err := os.WriteFile(out, reg.Credentials.Encode(), 0600); err != nil {
		return fmt.Errorf("glsignerd: writing credentials to %q: %w", out, err)
	}

	fmt.Printf("registered node %x, credentials written to %s\n", sgn.NodeID(), out)
	return nil
}
