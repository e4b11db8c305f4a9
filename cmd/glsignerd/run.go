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
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blockstream/greenlight-core/creds"
	"github.com/blockstream/greenlight-core/internal/logger"
	"github.com/blockstream/greenlight-core/internal/metrics"
	"github.com/blockstream/greenlight-core/rpc"
	"github.com/blockstream/greenlight-core/scheduler"
	"github.com/blockstream/greenlight-core/signer"
)

var metricsAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to this node's signer stream and serve HSM requests",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadSignerConfig()
	if err != nil {
		return err
	}

	seed, err := loadSeed(cfg.SeedPath)
	if err != nil {
		return err
	}

	dev, err := creds.DecodeDeviceFromPath(defaultCredsPath(cfg.SeedPath))
	if err != nil {
		return fmt.Errorf("glsignerd: loading device credentials: %w", err)
	}
	if len(dev.Cert) == 0 {
		return fmt.Errorf("glsignerd: no device credentials at %s; run 'register' or 'recover' first", defaultCredsPath(cfg.SeedPath))
	}

	go func() {
		logger.Info("glsignerd: serving metrics", logger.String("addr", metricsAddr))
		if err := metrics.StartServer(metricsAddr); err != nil {
			logger.Warn("glsignerd: metrics server stopped", logger.Error(err))
		}
	}()

	sgn, err := signer.New(seed, string(cfg.Network), signer.NoopValidator{}, nil, dialer(dev, cfg.CACrtPath))
	if err != nil {
		return fmt.Errorf("glsignerd: %w", err)
	}

	schedConn, closeSched, err := dialScheduler(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSched()
	sgn.SetScheduler(scheduler.New(schedConn, sgn, string(cfg.Network)))

	uri, err := sgn.Node(ctx, true)
	if err != nil {
		return fmt.Errorf("glsignerd: resolving node location: %w", err)
	}

	logger.Info("glsignerd: attaching to node",
		logger.String("uri", uri), logger.String("node_id", fmt.Sprintf("%x", sgn.NodeID())))
	return sgn.RunForever(ctx, uri, cfg.ReconnectWait)
}

func dialer(dev creds.Device, caPath string) signer.Dialer {
	return func(ctx context.Context, uri string) (rpc.NodeClient, func() error, error) {
		return dialNode(ctx, uri, dev, caPath)
	}
}
