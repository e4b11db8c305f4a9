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

// Package configreplay persists the signed request that last set
// node-wide policy (currently: the on-chain close-to address) and
// replays it to the signer on every subsequent attach, so the signer
// always sees the user's standing authorization for that policy.
package configreplay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/blockstream/greenlight-core/pendingctx"
	"github.com/blockstream/greenlight-core/pkg/store"
)

// requestKey is the datastore path the serialized pending request is
// persisted under, per spec §4.7.
var requestKey = store.Key{"glconf", "request"}

// NetworkValidator validates a close-to address against the daemon's
// configured network.
type NetworkValidator interface {
	ValidateAddress(address string) error
}

// ErrInvalidAddress is returned when the supplied close-to address does
// not belong to the daemon's network.
var ErrInvalidAddress = errors.New("configreplay: address does not match daemon network")

// PermissiveValidator accepts every address unconditionally. Real
// network-aware address decoding is on-chain wallet logic, explicitly
// out of scope for this core (spec §1 Non-goals); NetworkValidator is
// the seam a concrete implementation plugs in at, mirroring
// signer.Validator's injected-interface boundary.
type PermissiveValidator struct{}

// ValidateAddress implements NetworkValidator.
func (PermissiveValidator) ValidateAddress(string) error { return nil }

// Replayer caches the most recent configure request in memory, persists
// it to the datastore, and appends it to every outgoing attach's pending
// requests.
type Replayer struct {
	mu        sync.RWMutex
	datastore store.Datastore
	validator NetworkValidator
	cached    *pendingctx.Request
}

// New returns a replayer backed by the given datastore and address
// validator.
func New(datastore store.Datastore, validator NetworkValidator) *Replayer {
	return &Replayer{datastore: datastore, validator: validator}
}

// Load reads any previously-persisted configure request back into the
// in-memory cache. Safe to call once at startup; a missing key is not
// an error.
func (r *Replayer) Load(ctx context.Context) error {
	raw, err := r.datastore.Get(ctx, requestKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("configreplay: loading cached request: %w", err)
	}

	var req pendingctx.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("configreplay: decoding cached request: %w", err)
	}

	r.mu.Lock()
	r.cached = &req
	r.mu.Unlock()
	return nil
}

// SetCloseTo validates closeToAddress against the daemon's network,
// persists the original signed request, and replaces the in-memory
// cache so subsequent attaches replay it.
func (r *Replayer) SetCloseTo(ctx context.Context, closeToAddress string, req pendingctx.Request) error {
	if err := r.validator.ValidateAddress(closeToAddress); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, closeToAddress)
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("configreplay: encoding request: %w", err)
	}
	if err := r.datastore.Put(ctx, requestKey, raw); err != nil {
		return fmt.Errorf("configreplay: persisting request: %w", err)
	}

	r.mu.Lock()
	r.cached = &req
	r.mu.Unlock()
	return nil
}

// Replay appends the cached configure request (if any) to requests, the
// set of pending requests an outgoing signer-attach stream will present.
func (r *Replayer) Replay(requests []pendingctx.Request) []pendingctx.Request {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.cached == nil {
		return requests
	}
	return append(requests, *r.cached)
}
