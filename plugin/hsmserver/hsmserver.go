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

// Package hsmserver pretends to be the daemon's local HSM: it serves
// unary requests over a Unix-domain socket, answering HsmdInit and the
// dev-memleak probe from a cache and forwarding everything else to the
// staging queue to await a signer's signature.
package hsmserver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/blockstream/greenlight-core/internal/logger"
	"github.com/blockstream/greenlight-core/plugin/stager"
	"github.com/blockstream/greenlight-core/rpc"
)

// Message type tags, per the 2-byte big-endian HSM request framing.
const (
	TagHsmdInit    uint16 = 11
	TagSignMessage uint16 = 23
	TagMemleak     uint16 = 33
)

// memleakResponse is the fixed canned reply to the dev-memleak probe.
var memleakResponse = []byte{0, 133, 0}

// NodeInfo holds the cached HsmdInit response used to answer type-11
// requests without staging them.
type NodeInfo struct {
	NodeID  []byte
	InitMsg []byte
}

// Server implements rpc.HsmServer, backed by a staging queue shared with
// the signer-attach stream.
type Server struct {
	stage        *stager.Stage
	sockPath     string
	nodeInfo     NodeInfo
	nextRequest  atomic.Uint32
}

// New returns an HSM server bound to sockPath, serving the given
// NodeInfo for cached HsmdInit requests.
func New(stage *stager.Stage, sockPath string, nodeInfo NodeInfo) *Server {
	return &Server{stage: stage, sockPath: sockPath, nodeInfo: nodeInfo}
}

// Request implements rpc.HsmServer.
func (s *Server) Request(ctx context.Context, in *rpc.HsmRequestMsg) (*rpc.HsmResponseMsg, error) {
	if len(in.Raw) < 2 {
		return nil, status.Error(codes.InvalidArgument, "hsmserver: request too short for a type tag")
	}
	tag := binary.BigEndian.Uint16(in.Raw[:2])

	switch tag {
	case TagHsmdInit:
		return &rpc.HsmResponseMsg{Raw: s.nodeInfo.InitMsg}, nil
	case TagMemleak:
		return &rpc.HsmResponseMsg{Raw: memleakResponse}, nil
	}

	id := s.nextRequest.Add(1)
	respCh := s.stage.Send(stager.Request{ID: id, Raw: in.Raw})

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, status.Error(codes.Unknown, "channel closed")
		}
		return &rpc.HsmResponseMsg{Raw: resp.Raw}, nil
	case <-ctx.Done():
		return nil, status.Error(codes.Unknown, "channel closed")
	}
}

// Ping implements rpc.HsmServer.
func (s *Server) Ping(ctx context.Context, in *rpc.PingRequestMsg) (*rpc.PingResponseMsg, error) {
	return &rpc.PingResponseMsg{}, nil
}

// Run binds the Unix-domain socket and serves until ctx is done.
// The parent directory is created if missing; a stale socket file left
// over from a previous, uncleanly-terminated run is removed (with a
// warning) before binding.
func (s *Server) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.sockPath), 0755); err != nil {
		return fmt.Errorf("hsmserver: creating socket directory: %w", err)
	}

	if _, err := os.Stat(s.sockPath); err == nil {
		logger.Warn("removing stale hsm socket", logger.String("path", s.sockPath))
		if err := os.Remove(s.sockPath); err != nil {
			return fmt.Errorf("hsmserver: removing stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("hsmserver: stat socket path: %w", err)
	}

	lis, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("hsmserver: listening on %s: %w", s.sockPath, err)
	}

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(rpc.Codec))
	rpc.RegisterHsmServer(grpcServer, s)

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
