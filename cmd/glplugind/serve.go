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
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/blockstream/greenlight-core/config"
	"github.com/blockstream/greenlight-core/internal/logger"
	"github.com/blockstream/greenlight-core/internal/metrics"
	gltls "github.com/blockstream/greenlight-core/internal/tls"
	"github.com/blockstream/greenlight-core/pendingctx"
	"github.com/blockstream/greenlight-core/pkg/store/postgres"
	"github.com/blockstream/greenlight-core/plugin/configreplay"
	"github.com/blockstream/greenlight-core/plugin/hsmserver"
	"github.com/blockstream/greenlight-core/plugin/nodeserver"
	"github.com/blockstream/greenlight-core/plugin/stager"
	"github.com/blockstream/greenlight-core/rpc"
	"github.com/blockstream/greenlight-core/statestore"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HSM socket and the device-facing signer-attach stream",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, plug, err := loadPluginConfig()
	if err != nil {
		return err
	}

	nodeID, err := hex.DecodeString(plug.NodeID)
	if err != nil {
		return fmt.Errorf("glplugind: decoding node_id: %w", err)
	}
	initMsg, err := hex.DecodeString(plug.NodeInitHex)
	if err != nil {
		return fmt.Errorf("glplugind: decoding node_init_hex: %w", err)
	}

	stage := stager.New()
	state := statestore.New()
	pctx := pendingctx.New()

	replayer, closeStore, err := setupConfigReplay(ctx, cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	go func() {
		logger.Info("glplugind: serving metrics", logger.String("addr", metricsAddr))
		if err := metrics.StartServer(metricsAddr); err != nil {
			logger.Warn("glplugind: metrics server stopped", logger.Error(err))
		}
	}()

	hsm := hsmserver.New(stage, plug.HsmdSockPath, hsmserver.NodeInfo{NodeID: nodeID, InitMsg: initMsg})
	// No AttachHook wired here: plugin/reconnect.Hook needs a daemon peer
	// lister and connector, and the daemon's own RPC surface is out of
	// scope (passthrough is not reimplemented). A daemon integration can
	// supply a concrete hook without any change to nodeserver itself.
	nodeSrv := nodeserver.New(stage, state, pctx, replayer, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("glplugind: serving hsm socket", logger.String("path", plug.HsmdSockPath))
		return hsm.Run(gctx)
	})
	g.Go(func() error {
		return serveNode(gctx, plug, nodeSrv)
	})

	return g.Wait()
}

// serveNode binds plug.NodeGRPCBinding and serves rpc.NodeServer over
// mTLS, requiring every connecting device to present a certificate
// signed by the plugin's configured client CA.
func serveNode(ctx context.Context, plug *config.PluginConfig, srv rpc.NodeServer) error {
	cert, err := os.ReadFile(filepath.Join(plug.CertPath, "cert.pem"))
	if err != nil {
		return fmt.Errorf("glplugind: reading node-server cert: %w", err)
	}
	key, err := os.ReadFile(filepath.Join(plug.CertPath, "key.pem"))
	if err != nil {
		return fmt.Errorf("glplugind: reading node-server key: %w", err)
	}
	clientCA, err := os.ReadFile(plug.ClientCAPath)
	if err != nil {
		return fmt.Errorf("glplugind: reading client CA: %w", err)
	}

	tlsConfig, err := gltls.ServerConfig(cert, key, clientCA)
	if err != nil {
		return fmt.Errorf("glplugind: building node-server TLS config: %w", err)
	}

	lis, err := net.Listen("tcp", plug.NodeGRPCBinding)
	if err != nil {
		return fmt.Errorf("glplugind: listening on %s: %w", plug.NodeGRPCBinding, err)
	}

	grpcServer := grpc.NewServer(
		grpc.ForceServerCodec(rpc.Codec),
		grpc.Creds(credentials.NewTLS(tlsConfig)),
	)
	rpc.RegisterNodeServer(grpcServer, srv)

	logger.Info("glplugind: serving signer-attach stream", logger.String("addr", plug.NodeGRPCBinding))

	errCh := make(chan error, 1)
	go func() { errCh <- grpcServer.Serve(lis) }()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// setupConfigReplay opens the plugin's datastore, when a DSN is
// configured under the scheduler section (the datastore is shared
// between the scheduler and the plugin, keyed by path rather than by
// owner), and returns a Replayer loaded from it. A plugin running
// without persistent storage gets a nil Replayer: nodeserver treats
// that as "no standing configure-replay authorization", not an error.
func setupConfigReplay(ctx context.Context, cfg *config.Config) (nodeserver.Replayer, func() error, error) {
	if cfg.Scheduler == nil || cfg.Scheduler.PostgresDSN == "" {
		logger.Warn("glplugind: no postgres DSN configured, configure-replay is disabled")
		return nil, nil, nil
	}

	pgCfg, err := parsePostgresDSN(cfg.Scheduler.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("glplugind: %w", err)
	}

	ds, err := postgres.NewStore(ctx, pgCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("glplugind: opening datastore: %w", err)
	}

	replayer := configreplay.New(ds, configreplay.PermissiveValidator{})
	if err := replayer.Load(ctx); err != nil {
		ds.Close()
		return nil, nil, fmt.Errorf("glplugind: loading configure-replay cache: %w", err)
	}

	return replayer, ds.Close, nil
}
