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

// Package authmw implements the plugin's per-RPC authentication and
// context-attachment middleware: it verifies a device's ECDSA signature
// over the request body, attaches the authenticated call to the shared
// pending-request context for the lifetime of the RPC, and enforces a
// hard buffering limit on the request body.
package authmw

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/blockstream/greenlight-core/internal/logger"
	"github.com/blockstream/greenlight-core/pendingctx"
	"github.com/blockstream/greenlight-core/runes"
)

// MaxBodySize is the hard buffering limit enforced on every
// header-authenticated request body (4 MiB).
const MaxBodySize = 4 * 1024 * 1024

// Header names consumed by the middleware.
const (
	HeaderPubKey   = "glauthpubkey"
	HeaderSig      = "glauthsig"
	HeaderTimestamp = "glts"
	HeaderRune     = "glrune"
)

// ErrPayloadTooLarge is returned when a request body exceeds MaxBodySize.
var ErrPayloadTooLarge = errors.New("authmw: payload too large")

// ErrBadSignature is returned when the device signature over the body
// does not verify against the supplied public key.
var ErrBadSignature = errors.New("authmw: signature verification failed")

// RequireTimestamps, when true, refuses any otherwise-authenticated call
// that omits the glts header. Defaults to false, preserving the legacy
// behavior of accepting both timestamped and un-timestamped signatures.
var RequireTimestamps = false

// Headers is the set of raw header values consumed by Authenticate.
type Headers struct {
	PubKeyB64    string // base64 unpadded
	SigB64       string // base64 unpadded
	TimestampB64 string // base64 unpadded, optional
	RuneB64      string // base64url, required (see Present)
}

// Present reports whether the minimum required triple (pubkey, signature,
// rune) is present; a request missing any of these is forwarded
// unauthenticated and never attached to the pending-request context.
func (h Headers) Present() bool {
	return h.PubKeyB64 != "" && h.SigB64 != "" && h.RuneB64 != ""
}

// EventBus receives a lightweight RpcCall(uri) notification for every
// RPC, authenticated or not. Implementations must not block; a nil bus
// disables the hook.
type EventBus interface {
	RpcCall(uri string)
}

// Middleware ties client requests to the shared pending-request context.
type Middleware struct {
	ctx *pendingctx.Context
	bus EventBus
}

// New returns a middleware attaching authenticated requests to ctx. bus
// may be nil.
func New(ctx *pendingctx.Context, bus EventBus) *Middleware {
	return &Middleware{ctx: ctx, bus: bus}
}

// Authenticate verifies and attaches a request, returning a Detach
// function the caller must invoke unconditionally once the downstream
// handler has returned (success or failure) so the pending entry is
// always removed, regardless of headers being present.
func (m *Middleware) Authenticate(uri string, body []byte, h Headers) (Detach func(), err error) {
	if m.bus != nil {
		m.bus.RpcCall(uri)
	}

	if !h.Present() {
		return func() {}, nil
	}

	if RequireTimestamps && h.TimestampB64 == "" {
		return nil, fmt.Errorf("authmw: %s required", HeaderTimestamp)
	}

	if len(body) > MaxBodySize {
		return nil, ErrPayloadTooLarge
	}

	pubkey, err := decodeUnpadded(h.PubKeyB64)
	if err != nil {
		return nil, fmt.Errorf("authmw: decoding %s: %w", HeaderPubKey, err)
	}
	sig, err := decodeUnpadded(h.SigB64)
	if err != nil {
		return nil, fmt.Errorf("authmw: decoding %s: %w", HeaderSig, err)
	}

	var timestamp *uint64
	signedPayload := body
	if h.TimestampB64 != "" {
		tsBytes, err := decodeUnpadded(h.TimestampB64)
		if err != nil {
			return nil, fmt.Errorf("authmw: decoding %s: %w", HeaderTimestamp, err)
		}
		if len(tsBytes) != 8 {
			return nil, fmt.Errorf("authmw: %s must decode to 8 bytes", HeaderTimestamp)
		}
		ts := binary.BigEndian.Uint64(tsBytes)
		timestamp = &ts
		signedPayload = append(append([]byte(nil), body...), tsBytes...)
	}

	if err := verify(pubkey, signedPayload, sig); err != nil {
		return nil, err
	}

	runeBytes, err := base64.URLEncoding.DecodeString(h.RuneB64)
	if err != nil {
		return nil, fmt.Errorf("authmw: decoding %s: %w", HeaderRune, err)
	}
	if _, err := runes.DecodeRaw(runeBytes); err != nil {
		return nil, fmt.Errorf("authmw: %s: %w", HeaderRune, err)
	}

	req := pendingctx.Request{
		PubKey:    pubkey,
		Signature: sig,
		Payload:   body,
		URI:       uri,
		Timestamp: timestamp,
	}
	m.ctx.Add(req)

	// Detachment is unconditional but deliberately not synchronous with
	// the RPC's completion: it is launched by the caller after the
	// downstream handler returns, so a still-in-flight HSM request for
	// this call may or may not observe it in a requests snapshot taken
	// right at the boundary. Classification logic downstream must not
	// treat absence-from-context as equivalent to "previously approved".
	return func() {
		go m.ctx.Remove(sig)
	}, nil
}

func decodeUnpadded(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(s)
}

// verify checks an ECDSA P-256 signature (the device key's algorithm,
// per the CSR attributes) in ASN.1-free raw r||s form over
// SHA-256(payload).
func verify(pubkeyBytes, payload, sig []byte) error {
	x, y := elliptic.Unmarshal(elliptic.P256(), pubkeyBytes)
	if x == nil {
		return fmt.Errorf("%w: malformed public key", ErrBadSignature)
	}
	if len(sig) != 64 {
		return fmt.Errorf("%w: signature must be 64 bytes", ErrBadSignature)
	}

	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])

	hash := sha256.Sum256(payload)
	if !ecdsa.Verify(pub, hash[:], r, s) {
		return ErrBadSignature
	}
	return nil
}

// logRpcCall is a convenience EventBus that just logs every call, useful
// as a default when no richer observability hook is wired up.
type logRpcCall struct{}

// LogOnly is an EventBus that logs every RPC call at debug level.
var LogOnly EventBus = logRpcCall{}

func (logRpcCall) RpcCall(uri string) {
	logger.Debug("rpc call", logger.String("uri", uri))
}
