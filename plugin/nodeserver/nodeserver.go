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

// Package nodeserver implements the node-facing half of the signer
// attach protocol (spec §4.1): it bridges the plugin's staging queue to
// a device's StreamHsmRequests connection, carrying the node's
// versioned state mirror and its in-flight authenticated-request
// context along on every staged request, and resolving the staged
// request once the signer replies.
package nodeserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockstream/greenlight-core/internal/logger"
	"github.com/blockstream/greenlight-core/internal/metrics"
	"github.com/blockstream/greenlight-core/pendingctx"
	"github.com/blockstream/greenlight-core/plugin/stager"
	"github.com/blockstream/greenlight-core/rpc"
	"github.com/blockstream/greenlight-core/statestore"
)

// Replayer appends any standing, previously-persisted authorization
// (currently: the last configure-closeto request, see
// plugin/configreplay) to the pending requests presented on every
// attach. Optional: a nil Replayer leaves the snapshot untouched.
type Replayer interface {
	Replay(requests []pendingctx.Request) []pendingctx.Request
}

// AttachHook runs once a signer has attached and sent its heartbeat.
// Satisfied by *plugin/reconnect.Hook. Optional: a nil AttachHook skips
// the callback entirely.
type AttachHook interface {
	OnSignerAttach(ctx context.Context)
}

// Server implements rpc.NodeServer over a shared staging queue. Exactly
// one signer may be attached profitably at a time, but multiple
// concurrent StreamHsmRequests calls are accepted: the staging queue
// fans a request out to every attached stream and resolves on whichever
// replies first (see stager.Stage.Send).
type Server struct {
	stage    *stager.Stage
	state    *statestore.Store
	ctx      *pendingctx.Context
	replayer Replayer
	onAttach AttachHook
}

// New returns a node-facing server bridging stage to state and ctx, the
// plugin's state mirror and pending-request context. replayer and
// onAttach may both be nil.
func New(stage *stager.Stage, state *statestore.Store, ctx *pendingctx.Context, replayer Replayer, onAttach AttachHook) *Server {
	return &Server{stage: stage, state: state, ctx: ctx, replayer: replayer, onAttach: onAttach}
}

// StreamHsmRequests implements rpc.NodeServer. It is the signer's
// attach point: per spec §4.1 step 2, the first message the signer
// sends is a synthetic heartbeat carrying its own state snapshot, which
// is merged before anything else happens; everything the signer sends
// afterward is a response to a staged request this server forwarded.
func (s *Server) StreamHsmRequests(stream rpc.NodeStreamHsmRequestsServer) error {
	sub := s.stage.Subscribe()
	metrics.StageConnections.Set(float64(s.stage.HsmConnections()))
	defer func() {
		sub.Close()
		metrics.StageConnections.Set(float64(s.stage.HsmConnections()))
	}()

	heartbeat, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("nodeserver: receiving attach heartbeat: %w", err)
	}
	if err := s.mergeState(heartbeat.SignerState); err != nil {
		return err
	}

	ctx := stream.Context()
	if s.onAttach != nil {
		go s.onAttach.OnSignerAttach(ctx)
	}

	for {
		req, ok := sub.Next(ctx)
		if !ok {
			return ctx.Err()
		}

		pending := s.ctx.Snapshot()
		if s.replayer != nil {
			pending = s.replayer.Replay(pending)
		}

		msg := &rpc.StreamHsmRequestMsg{
			RequestID:   req.ID,
			Raw:         req.Raw,
			SignerState: encodeSnapshot(s.state.Snapshot()),
			Requests:    encodePending(pending),
		}
		if err := stream.Send(msg); err != nil {
			return fmt.Errorf("nodeserver: sending staged request: %w", err)
		}

		resp, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("nodeserver: receiving response: %w", err)
		}
		if err := s.mergeState(resp.SignerState); err != nil {
			return err
		}

		if resp.Error != "" {
			logger.Warn("nodeserver: signer rejected staged request",
				logger.Int("request_id", int(resp.RequestID)), logger.String("error", resp.Error))
		}

		if found := s.stage.Respond(stager.Response{ID: resp.RequestID, Raw: resp.Raw}); !found {
			logger.Warn("nodeserver: response for unknown or already-resolved request",
				logger.Int("request_id", int(resp.RequestID)))
		}
	}
}

func (s *Server) mergeState(snapshot map[string]rpc.StateEntryMsg) error {
	for key, entry := range snapshot {
		if err := s.state.Merge(key, entry.Value, entry.Version); err != nil {
			metrics.StateMergeConflicts.Inc()
			return fmt.Errorf("nodeserver: %w", err)
		}
	}
	return nil
}

func encodeSnapshot(snapshot map[string]statestore.Entry) map[string]rpc.StateEntryMsg {
	out := make(map[string]rpc.StateEntryMsg, len(snapshot))
	for k, v := range snapshot {
		out[k] = rpc.StateEntryMsg{Value: v.Value, Version: v.Version}
	}
	return out
}

func encodePending(requests []pendingctx.Request) []rpc.PendingRequestMsg {
	out := make([]rpc.PendingRequestMsg, len(requests))
	for i, r := range requests {
		out[i] = rpc.PendingRequestMsg{
			URI:       r.URI,
			Payload:   r.Payload,
			PubKey:    r.PubKey,
			Signature: r.Signature,
			Timestamp: r.Timestamp,
		}
	}
	return out
}

// ErrNoAttachedSigner is returned by callers that need an attached
// signer stream to exist before proceeding (e.g. a readiness probe) but
// found none.
var ErrNoAttachedSigner = errors.New("nodeserver: no signer currently attached")

// RequireAttached returns ErrNoAttachedSigner if no signer stream is
// currently attached.
func (s *Server) RequireAttached() error {
	if s.stage.HsmConnections() == 0 {
		return ErrNoAttachedSigner
	}
	return nil
}
