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

// Package reconnect implements the plugin's reconnect-peers hook: when a
// signer attaches, re-establish sessions with every peer the daemon
// already knows about plus every peer persisted under the
// [greenlight, peerlist] datastore key. Gated by signer presence, since
// a reconnect attempt that requires a signature cannot succeed without
// one.
package reconnect

import (
	"context"
	"sync"

	"github.com/blockstream/greenlight-core/internal/logger"
)

// Peer identifies a Lightning peer by node id and last-known network
// address.
type Peer struct {
	NodeID  string
	Address string
}

// DaemonPeerLister reports the peers the daemon currently considers
// connected.
type DaemonPeerLister interface {
	ConnectedPeers(ctx context.Context) ([]Peer, error)
}

// PersistedPeerStore reports the peer list persisted across restarts.
type PersistedPeerStore interface {
	ListPeers(ctx context.Context) ([]Peer, error)
}

// Connector issues a connect call to the daemon for a single peer.
type Connector interface {
	Connect(ctx context.Context, peer Peer) error
}

// Hook runs the reconnect algorithm on every signer attach.
type Hook struct {
	daemon    DaemonPeerLister
	persisted PersistedPeerStore
	connector Connector
}

// New returns a reconnect hook wired to the given dependencies.
func New(daemon DaemonPeerLister, persisted PersistedPeerStore, connector Connector) *Hook {
	return &Hook{daemon: daemon, persisted: persisted, connector: connector}
}

// OnSignerAttach enumerates the union of connected and persisted peers
// and issues a fire-and-forget connect call for each, deduplicated by
// node id. Individual connect failures are logged, never fatal, and
// never block the rest of the batch.
func (h *Hook) OnSignerAttach(ctx context.Context) {
	peers, err := h.gatherPeers(ctx)
	if err != nil {
		logger.Warn("reconnect: could not enumerate peers", logger.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			if err := h.connector.Connect(ctx, p); err != nil {
				logger.Warn("reconnect: connect failed",
					logger.String("node_id", p.NodeID),
					logger.Error(err))
			}
		}(p)
	}
	wg.Wait()
}

func (h *Hook) gatherPeers(ctx context.Context) ([]Peer, error) {
	seen := make(map[string]Peer)

	connected, err := h.daemon.ConnectedPeers(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range connected {
		seen[p.NodeID] = p
	}

	persisted, err := h.persisted.ListPeers(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range persisted {
		if _, ok := seen[p.NodeID]; !ok {
			seen[p.NodeID] = p
		}
	}

	out := make([]Peer, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	return out, nil
}
