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

// Package lsp implements the plugin's invoice-creation policy: decide
// whether an incoming invoice request can be served from existing
// receivable capacity, or whether it should instead negotiate a
// just-in-time channel with a Lightning Service Provider peer.
package lsp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blockstream/greenlight-core/internal/logger"
	"github.com/blockstream/greenlight-core/plugin/lsp/tlv"
)

// tlvTypeAmountForward is the BOLT04 onion payload TLV type carrying the
// amount an intermediate hop should forward.
const tlvTypeAmountForward = 2

// lspsMessageID is the 2-byte LSPS custom-message id prefix; any inbound
// custom message whose first two bytes don't match this is not ours.
var lspsMessageID = [2]byte{0x94, 0x19}

// PeerQueryTimeout bounds a single LSP menu query.
const PeerQueryTimeout = 2 * time.Second

// LSPFeatureBit is the feature bit advertised by LSP-capable peers.
const LSPFeatureBit = 729

// Channel describes a channel's relevant receivable-capacity state.
type Channel struct {
	PeerID           string
	Connected        bool
	NormalOperation  bool
	ReceivableMsat    uint64
}

// Peer describes a connected Lightning peer and its advertised features.
type Peer struct {
	NodeID       string
	FeatureBits  map[int]bool
}

func (p Peer) supportsLSP() bool {
	return p.FeatureBits[LSPFeatureBit]
}

// Invoice is the outcome of the invoice policy: either a plain invoice
// was created directly, or an LSP-bound invoice was negotiated.
type Invoice struct {
	Bolt11      string
	PeerID      string
	ViaLSP      bool
	AmountMsat  uint64
	Label       string
	Description string
}

// Menu is an LSP's response to a menu query: terms under which it will
// open a JIT channel.
type Menu struct {
	PeerID string
}

// Daemon is the subset of the daemon's RPC surface the invoice policy
// needs: listing channel state, listing peers, and creating invoices.
type Daemon interface {
	Channels(ctx context.Context) ([]Channel, error)
	Peers(ctx context.Context) ([]Peer, error)
	CreatePlainInvoice(ctx context.Context, amountMsat uint64, label, description string) (string, error)
}

// LSPClient queries a single LSP peer for its JIT-channel menu and, on
// acceptance, requests an LSP-bound invoice.
type LSPClient interface {
	QueryMenu(ctx context.Context, peerID string) (Menu, error)
	RequestInvoice(ctx context.Context, peerID string, amountMsat uint64) (string, error)
}

// ErrNoLSPResponded is returned when every LSP-capable peer either timed
// out or returned an error.
var ErrNoLSPResponded = errors.New("lsp: no LSP peer responded within the timeout")

// Policy decides between a plain invoice and a JIT channel negotiation.
type Policy struct {
	daemon Daemon
	client LSPClient
}

// New returns an invoice policy backed by the given daemon and LSP
// client.
func New(daemon Daemon, client LSPClient) *Policy {
	return &Policy{daemon: daemon, client: client}
}

// CreateInvoice implements the algorithm: a plain invoice when existing
// receivable capacity across connected, normal-operation channels covers
// at least 1.05x the requested amount; otherwise negotiate with the
// first LSP peer to respond to a parallel, 2-second-timeout menu query.
func (p *Policy) CreateInvoice(ctx context.Context, amountMsat uint64, label, description string) (Invoice, error) {
	if amountMsat > 0 {
		capacity, err := p.receivableCapacity(ctx)
		if err != nil {
			return Invoice{}, err
		}
		// capacity*100 >= amount*105, scaled to avoid floating point.
		if capacity*100 >= amountMsat*105 {
			bolt11, err := p.daemon.CreatePlainInvoice(ctx, amountMsat, label, description)
			if err != nil {
				return Invoice{}, err
			}
			return Invoice{Bolt11: bolt11, AmountMsat: amountMsat, Label: label, Description: description}, nil
		}
	}

	return p.negotiateJIT(ctx, amountMsat, label, description)
}

func (p *Policy) receivableCapacity(ctx context.Context) (uint64, error) {
	channels, err := p.daemon.Channels(ctx)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, c := range channels {
		if c.Connected && c.NormalOperation {
			total += c.ReceivableMsat
		}
	}
	return total, nil
}

// negotiateJIT queries every LSP-capable peer in parallel, each bounded
// by PeerQueryTimeout, and proceeds with whichever responds first.
func (p *Policy) negotiateJIT(ctx context.Context, amountMsat uint64, label, description string) (Invoice, error) {
	peers, err := p.daemon.Peers(ctx)
	if err != nil {
		return Invoice{}, err
	}

	var candidates []string
	for _, peer := range peers {
		if peer.supportsLSP() {
			candidates = append(candidates, peer.NodeID)
		}
	}
	if len(candidates) == 0 {
		return Invoice{}, ErrNoLSPResponded
	}

	winner := make(chan Menu, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for _, peerID := range candidates {
		peerID := peerID
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, PeerQueryTimeout)
			defer cancel()

			menu, err := p.client.QueryMenu(qctx, peerID)
			if err != nil {
				logger.Warn("lsp: menu query failed",
					logger.String("peer_id", peerID), logger.Error(err))
				return nil
			}
			select {
			case winner <- menu:
			default:
			}
			return nil
		})
	}
	// Errors from individual queries are already logged and swallowed
	// above, so every goroutine returns nil and g.Wait never fails; it
	// only marks when all queries have ended, so winner can be closed.
	go func() { _ = g.Wait(); close(winner) }()

	select {
	case menu, ok := <-winner:
		if !ok {
			return Invoice{}, ErrNoLSPResponded
		}
		bolt11, err := p.client.RequestInvoice(ctx, menu.PeerID, amountMsat)
		if err != nil {
			return Invoice{}, err
		}
		return Invoice{
			Bolt11:      bolt11,
			PeerID:      menu.PeerID,
			ViaLSP:      true,
			AmountMsat:  amountMsat,
			Label:       label,
			Description: description,
		}, nil
	case <-ctx.Done():
		return Invoice{}, ctx.Err()
	}
}

// IsLSPSMessage reports whether raw begins with the LSPS custom-message
// id prefix.
func IsLSPSMessage(raw []byte) bool {
	return len(raw) >= 2 && raw[0] == lspsMessageID[0] && raw[1] == lspsMessageID[1]
}

// RewriteForwardAmount parses onion, a BOLT04 onion payload TLV stream,
// and returns a copy with its amt_to_forward field set to
// newAmountMsat. An LSP applies this to the first HTLC it forwards over
// a channel it just opened for a JIT invoice, covering its channel-open
// fee out of the forwarded amount rather than the invoice amount.
func RewriteForwardAmount(onion []byte, newAmountMsat uint64) ([]byte, error) {
	stream, err := tlv.Parse(onion)
	if err != nil {
		return nil, fmt.Errorf("lsp: parsing onion payload: %w", err)
	}
	stream.Set(tlvTypeAmountForward, tlv.EncodeTU64(newAmountMsat))
	return stream.Serialize(), nil
}
