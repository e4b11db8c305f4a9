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

// Package signer implements the device-side signer loop (spec §4.1):
// it attaches to a node's StreamHsmRequests stream, classifies every
// HSM request the node relays, signs or rejects it, and mirrors the
// node's versioned state locally so a split brain between the two
// sides is detected rather than silently accepted.
package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/blockstream/greenlight-core/internal/logger"
	"github.com/blockstream/greenlight-core/internal/metrics"
	"github.com/blockstream/greenlight-core/internal/seckey"
	"github.com/blockstream/greenlight-core/pendingctx"
	"github.com/blockstream/greenlight-core/rpc"
	"github.com/blockstream/greenlight-core/statestore"
)

// version is the signer's self-reported software version, sent with
// every registration/recovery request and startup-message announcement.
const version = "0.1.0"

// maxSignMessageLen is the maximum payload SignMessage accepts. Tag 23
// itself is always rejected at the HSM-request layer (see resolve
// below); this constant backs the signer's own public SignMessage
// method, used directly by callers that need message-signing without
// going through the (permanently disabled) wire tag.
const maxSignMessageLen = 65535

// lnSignedMessagePrefix domain-separates ad-hoc message signing from
// transaction and challenge signing, matching the LN "lightning
// signed message" convention used across the ecosystem.
const lnSignedMessagePrefix = "Lightning Signed Message:"

// SchedulerClient is the subset of scheduler.Client the signer's attach
// loop needs. It is declared locally, rather than imported from package
// scheduler, so package signer does not depend on package scheduler;
// *scheduler.Client satisfies it structurally.
type SchedulerClient interface {
	Schedule(ctx context.Context, nodeID []byte) (string, error)
	GetNodeInfo(ctx context.Context, nodeID []byte, wait bool) (string, error)
	MaybeUpgrade(ctx context.Context, initMsg []byte, signerVersion string, startupMessages [][]byte) error
}

// Dialer opens a NodeClient connection to a given gRPC URI. Production
// callers pass a function that dials with mTLS device credentials
// (spec §4.1 step 1); tests pass an in-memory bufconn dialer.
type Dialer func(ctx context.Context, uri string) (rpc.NodeClient, func() error, error)

// Signer is the device-side half of the signer-attach protocol.
type Signer struct {
	nodeKey   *seckey.NodeKey
	seed      []byte
	network   string
	validator Validator
	scheduler SchedulerClient
	dial      Dialer

	state *statestore.Store
	ctx   *pendingctx.Context
}

// New constructs a Signer from a 32-byte seed. validator resolves the
// HSM requests whose signing policy is out of this core's scope
// (spec §1 Non-goals). scheduler and dial may be nil: without a dialer
// RunOnce returns an error and cannot attach, and without a scheduler
// Node and AnnounceStartupMessages return an error until SetScheduler
// binds one.
func New(seed []byte, network string, validator Validator, scheduler SchedulerClient, dial Dialer) (*Signer, error) {
	nodeKey, err := seckey.FromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	if validator == nil {
		validator = NoopValidator{}
	}

	return &Signer{
		nodeKey:   nodeKey,
		seed:      append([]byte(nil), seed...),
		network:   network,
		validator: validator,
		scheduler: scheduler,
		dial:      dial,
		state:     statestore.New(),
		ctx:       pendingctx.New(),
	}, nil
}

// SetScheduler binds the scheduler client after construction, breaking
// the natural constructor cycle between signer.New (which can want a
// SchedulerClient) and scheduler.New (which needs a Signer — satisfied
// by *Signer itself): callers build the Signer first, then the
// scheduler.Client from it, then bind that client back with
// SetScheduler.
func (s *Signer) SetScheduler(sc SchedulerClient) { s.scheduler = sc }

// Version reports the signer's software version.
func (s *Signer) Version() string { return version }

// NodeID returns the node's 33-byte compressed public key.
func (s *Signer) NodeID() []byte {
	id := s.nodeKey.NodeID()
	return id[:]
}

// SignChallenge signs a scheduler-issued register/recover challenge.
// The challenge must be exactly 32 bytes (spec §4.8, Testable
// Property: "sign_challenge rejects anything but a 32-byte challenge").
func (s *Signer) SignChallenge(challenge []byte) ([]byte, error) {
	if len(challenge) != 32 {
		return nil, errors.New("signer: challenge must be exactly 32 bytes")
	}
	return s.nodeKey.Sign(append([]byte(lnSignedMessagePrefix), challenge...)), nil
}

// SignDeviceKey attests to a freshly generated device public key
// (uncompressed, 65 bytes) as part of issuing that device its
// credentials (spec §4.8 step 5).
func (s *Signer) SignDeviceKey(pubkeyUncompressed []byte) ([]byte, error) {
	if len(pubkeyUncompressed) != 65 {
		return nil, errors.New("signer: device public key must be exactly 65 bytes uncompressed")
	}
	return s.nodeKey.Sign(append([]byte(lnSignedMessagePrefix), pubkeyUncompressed...)), nil
}

// SignMessage signs an arbitrary message up to maxSignMessageLen bytes.
// This is the signer's own public contract method; it is distinct from
// (and always reachable even though) the wire tag TagSignMessage is
// unconditionally rejected when it arrives over the HSM stream (spec
// §4.1.b, Testable Property 1, Scenario D).
func (s *Signer) SignMessage(message []byte) ([]byte, error) {
	if len(message) > maxSignMessageLen {
		return nil, errors.New("Message exceeds max len of 65535")
	}
	return s.nodeKey.Sign(append([]byte(lnSignedMessagePrefix), message...)), nil
}

// Node resolves a gRPC URI for this node, scheduling it if the
// scheduler doesn't already know where it is running.
func (s *Signer) Node(ctx context.Context, wait bool) (string, error) {
	if s.scheduler == nil {
		return "", errors.New("signer: no scheduler client configured")
	}
	uri, err := s.scheduler.GetNodeInfo(ctx, s.NodeID(), wait)
	if err == nil && uri != "" {
		return uri, nil
	}
	return s.scheduler.Schedule(ctx, s.NodeID())
}

// RunForever attaches to the node repeatedly, reconnecting with
// reconnectWait between attempts, until ctx is cancelled (spec §4.1:
// "the signer's run loop reattaches on every disconnect").
func (s *Signer) RunForever(ctx context.Context, uri string, reconnectWait time.Duration) error {
	for {
		metrics.AttachesInitiated.Inc()
		start := time.Now()
		err := s.RunOnce(ctx, uri)
		outcome := attachOutcome(err)
		metrics.AttachesCompleted.WithLabelValues(outcome).Inc()
		metrics.AttachDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A split brain ends only this attach cycle; the loop reattaches
		// after reconnectWait as it does after any other disconnect.

		logger.Warn("signer: attach cycle ended, reconnecting",
			logger.Error(err), logger.Duration("wait", reconnectWait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectWait):
		}
	}
}

func attachOutcome(err error) string {
	switch {
	case err == nil:
		return "disconnected"
	case errors.Is(err, statestore.ErrSplitBrain):
		return "splitbrain"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "shutdown"
	default:
		return "disconnected"
	}
}

// RunOnce attaches to the node at uri for a single StreamHsmRequests
// session, processing requests until the stream ends or ctx is
// cancelled. It implements spec §4.1's per-attach protocol:
//  1. dial and open the bidirectional stream
//  2. send a synthetic RequestID-0 heartbeat response carrying the
//     current state snapshot (spec §4.1 step 2)
//  3. for every inbound request: merge its state snapshot into the
//     local mirror, classify and resolve it, and send a response —
//     always, even on error (Open Question 4 resolution)
func (s *Signer) RunOnce(ctx context.Context, uri string) error {
	if s.dial == nil {
		return errors.New("signer: no dialer configured")
	}

	client, closeConn, err := s.dial(ctx, uri)
	if err != nil {
		return fmt.Errorf("signer: dial: %w", err)
	}
	defer closeConn()

	stream, err := client.StreamHsmRequests(ctx)
	if err != nil {
		return fmt.Errorf("signer: open stream: %w", err)
	}

	if err := stream.Send(&rpc.StreamHsmResponseMsg{
		RequestID:   0,
		SignerState: encodeSnapshot(s.state.Snapshot()),
	}); err != nil {
		return fmt.Errorf("signer: send heartbeat: %w", err)
	}

	for {
		req, err := stream.Recv()
		if err != nil {
			return err
		}

		if err := s.mergeState(req.SignerState); err != nil {
			return err
		}

		resp := s.handle(req)
		if err := stream.Send(resp); err != nil {
			return fmt.Errorf("signer: send response: %w", err)
		}
	}
}

func (s *Signer) mergeState(snapshot map[string]rpc.StateEntryMsg) error {
	for key, entry := range snapshot {
		if err := s.state.Merge(key, entry.Value, entry.Version); err != nil {
			metrics.StateMergeConflicts.Inc()
			return fmt.Errorf("signer: %w", err)
		}
	}
	return nil
}

// handle classifies and resolves one staged HSM request, always
// producing a response (Open Question 4 resolution: the original would
// skip responding on error; this core always replies so the node's
// staging queue never blocks indefinitely on a lost response).
func (s *Signer) handle(req *rpc.StreamHsmRequestMsg) *rpc.StreamHsmResponseMsg {
	timer := metrics.HsmRequestDuration
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	raw, err := s.resolve(req)

	resp := &rpc.StreamHsmResponseMsg{
		RequestID:   req.RequestID,
		SignerState: encodeSnapshot(s.state.Snapshot()),
	}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Raw = raw
	return resp
}

func (s *Signer) resolve(req *rpc.StreamHsmRequestMsg) ([]byte, error) {
	if len(req.Raw) < 2 {
		return nil, errors.New("signer: request too short for a type tag")
	}
	tag := decodeTag(req.Raw)

	hctx := HandleContext{}
	if req.Context != nil {
		hctx = HandleContext{DBID: req.Context.DBID, NodeID: req.Context.NodeID}
	}

	// Tag 23 (SignMessage) is unconditionally rejected the moment it
	// arrives over the HSM stream, before classification runs: a
	// compromised node could otherwise trick the device into minting an
	// attestation over arbitrary bytes by routing it through the
	// classification table's otherwise-plausible "requires context"
	// treatment (spec §4.1.b, Testable Property 1, Scenario D).
	if tag == TagSignMessage {
		metrics.SignOperations.WithLabelValues(tagName(tag), "rejected").Inc()
		return nil, errors.New("signer: sign_message is never honored over the HSM stream")
	}

	if tag == TagHsmdInit {
		metrics.SignOperations.WithLabelValues(tagName(tag), "signed").Inc()
		return s.hsmdInitResponse(), nil
	}
	if tag == TagDeriveSecret {
		label := string(req.Raw[2:])
		metrics.SignOperations.WithLabelValues(tagName(tag), "signed").Inc()
		return s.deriveSecret(label), nil
	}

	switch classify(tag) {
	case classReject:
		metrics.SignOperations.WithLabelValues(tagName(tag), "rejected").Inc()
		return nil, &ResolverError{Tag: tag, Requests: req.Requests}

	case classRequiresContext:
		if !contextMatches(tag, req.Requests) {
			metrics.SignOperations.WithLabelValues(tagName(tag), "rejected").Inc()
			return nil, &ResolverError{Tag: tag, Requests: req.Requests}
		}
		fallthrough

	case classAutoAccept:
		raw, err := s.validator.Handle(hctx, tag, req.Raw)
		if err != nil {
			metrics.SignOperations.WithLabelValues(tagName(tag), "error").Inc()
			return nil, err
		}
		metrics.SignOperations.WithLabelValues(tagName(tag), "signed").Inc()
		return raw, nil
	}

	return nil, &ResolverError{Tag: tag, Requests: req.Requests}
}

func decodeTag(raw []byte) uint16 {
	return uint16(raw[0])<<8 | uint16(raw[1])
}

func encodeSnapshot(snapshot map[string]statestore.Entry) map[string]rpc.StateEntryMsg {
	out := make(map[string]rpc.StateEntryMsg, len(snapshot))
	for k, v := range snapshot {
		out[k] = rpc.StateEntryMsg{Value: v.Value, Version: v.Version}
	}
	return out
}

// AnnounceStartupMessages pushes the signer's cached startup messages to
// the scheduler, so the node can be upgraded/booted without this signer
// online (spec §4.1, maybe_upgrade).
func (s *Signer) AnnounceStartupMessages(ctx context.Context, initMsg []byte) error {
	if s.scheduler == nil {
		return errors.New("signer: no scheduler client configured")
	}
	msgs := s.GetStartupMessages()
	return s.scheduler.MaybeUpgrade(ctx, initMsg, s.Version(), encodeStartupMessagesForUpgrade(msgs))
}

// nodeIDHex is a convenience for logging.
func (s *Signer) nodeIDHex() string { return hex.EncodeToString(s.NodeID()) }
