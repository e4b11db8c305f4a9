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

package reconnect

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeDaemon struct{ peers []Peer }

func (f fakeDaemon) ConnectedPeers(ctx context.Context) ([]Peer, error) { return f.peers, nil }

type fakeStore struct{ peers []Peer }

func (f fakeStore) ListPeers(ctx context.Context) ([]Peer, error) { return f.peers, nil }

type recordingConnector struct {
	mu      sync.Mutex
	called  []Peer
	failFor map[string]bool
}

func (c *recordingConnector) Connect(ctx context.Context, p Peer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.called = append(c.called, p)
	if c.failFor[p.NodeID] {
		return errors.New("connect failed")
	}
	return nil
}

func TestOnSignerAttachDedupesAndConnectsAll(t *testing.T) {
	daemon := fakeDaemon{peers: []Peer{{NodeID: "a", Address: "1.1.1.1"}}}
	store := fakeStore{peers: []Peer{{NodeID: "a", Address: "stale"}, {NodeID: "b", Address: "2.2.2.2"}}}
	connector := &recordingConnector{failFor: map[string]bool{}}

	h := New(daemon, store, connector)
	h.OnSignerAttach(context.Background())

	assert.Len(t, connector.called, 2)
}

func TestOnSignerAttachToleratesIndividualFailures(t *testing.T) {
	daemon := fakeDaemon{peers: []Peer{{NodeID: "a"}, {NodeID: "b"}}}
	store := fakeStore{}
	connector := &recordingConnector{failFor: map[string]bool{"a": true}}

	h := New(daemon, store, connector)
	// Must not panic or abort despite "a" failing.
	h.OnSignerAttach(context.Background())

	assert.Len(t, connector.called, 2)
}
