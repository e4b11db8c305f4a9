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

package signer

import "fmt"

// HandleContext scopes a request to the daemon's root handler or to a
// per-peer child handler, mirroring spec §4.1.e: "main-daemon vs
// per-peer child: if r.context.dbid == 0 or absent, the root handler;
// otherwise a per-client handler derived with that dbid and peer
// pubkey."
type HandleContext struct {
	DBID   uint64
	NodeID []byte
}

// IsRoot reports whether this context addresses the main-daemon handler
// rather than a per-peer child.
func (c HandleContext) IsRoot() bool {
	return c.DBID == 0
}

// Validator resolves a classified HSM request into its signed (or
// otherwise processed) wire response. The actual cryptographic
// validation policy for Lightning-protocol messages — which basepoints
// a commitment transaction may spend, how a channel's local keys are
// derived, and so on — is explicitly out of scope for this core (spec
// §1 Non-goals: "the HSM's validation policy semantics (delegated to an
// external validator)"); Validator is the seam a concrete
// implementation plugs in at.
type Validator interface {
	Handle(ctx HandleContext, tag uint16, raw []byte) ([]byte, error)
}

// ErrNotImplemented is returned by NoopValidator for every request: it
// exists so the signer's transport, classification, and state-mirror
// machinery can be wired up and tested end-to-end without a real
// Lightning validation policy attached.
type ErrNotImplemented struct {
	Tag uint16
}

func (e *ErrNotImplemented) Error() string {
	return fmt.Sprintf("signer: no validator configured for tag %d", e.Tag)
}

// NoopValidator rejects every request it is asked to handle. It is the
// default used by cmd/glsignerd until a real validation policy (the
// non-goal boundary of this core) is wired in.
type NoopValidator struct{}

// Handle implements Validator.
func (NoopValidator) Handle(_ HandleContext, tag uint16, _ []byte) ([]byte, error) {
	return nil, &ErrNotImplemented{Tag: tag}
}
