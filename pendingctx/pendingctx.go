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

// Package pendingctx tracks the authenticated requests currently in
// flight through the plugin, so that a signature request arriving over
// the HSM socket can be matched back to the gRPC call that produced it.
// The set is guarded by a single lock, mirroring the plugin's staging
// queue (see plugin/stager).
package pendingctx

import "bytes"

// Request is a snapshot of an in-flight authenticated call: the caller's
// public key and signature over the request, the raw payload, the gRPC
// method URI, and an optional client timestamp.
type Request struct {
	PubKey    []byte
	Signature []byte
	Payload   []byte
	URI       string
	Timestamp *uint64
}

// Context tracks the set of requests currently attached to the plugin.
type Context struct {
	mu       chan struct{} // binary semaphore made by New; a zero-value Context blocks
	requests []Request
}

// New returns an empty pending-request context.
func New() *Context {
	c := &Context{mu: make(chan struct{}, 1)}
	return c
}

func (c *Context) lock()   { c.mu <- struct{}{} }
func (c *Context) unlock() { <-c.mu }

// Snapshot returns a copy of the currently attached requests.
func (c *Context) Snapshot() []Request {
	c.lock()
	defer c.unlock()

	out := make([]Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Add attaches a request to the context.
func (c *Context) Add(r Request) {
	c.lock()
	defer c.unlock()
	c.requests = append(c.requests, r)
}

// Remove detaches the request whose signature matches sig, leaving any
// others untouched. Matching by signature (rather than by identity or
// index) mirrors the plugin's notion that a request's signature is its
// unique handle once it has been authenticated.
func (c *Context) Remove(sig []byte) {
	c.lock()
	defer c.unlock()

	kept := c.requests[:0]
	for _, r := range c.requests {
		if bytes.Equal(r.Signature, sig) {
			continue
		}
		kept = append(kept, r)
	}
	c.requests = kept
}

// Len reports the number of requests currently attached.
func (c *Context) Len() int {
	c.lock()
	defer c.unlock()
	return len(c.requests)
}
