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

package lsp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockstream/greenlight-core/plugin/lsp/tlv"
)

type fakeDaemon struct {
	channels []Channel
	peers    []Peer
	invoice  string
	invErr   error
}

func (f fakeDaemon) Channels(ctx context.Context) ([]Channel, error) { return f.channels, nil }
func (f fakeDaemon) Peers(ctx context.Context) ([]Peer, error)       { return f.peers, nil }
func (f fakeDaemon) CreatePlainInvoice(ctx context.Context, amountMsat uint64, label, description string) (string, error) {
	return f.invoice, f.invErr
}

type fakeLSPClient struct {
	menus map[string]time.Duration // delay before responding
	fail  map[string]bool
}

func (f fakeLSPClient) QueryMenu(ctx context.Context, peerID string) (Menu, error) {
	if f.fail[peerID] {
		return Menu{}, errors.New("no menu")
	}
	delay := f.menus[peerID]
	select {
	case <-time.After(delay):
		return Menu{PeerID: peerID}, nil
	case <-ctx.Done():
		return Menu{}, ctx.Err()
	}
}

func (f fakeLSPClient) RequestInvoice(ctx context.Context, peerID string, amountMsat uint64) (string, error) {
	return "lnbc-jit-" + peerID, nil
}

func TestCreateInvoicePlainWhenCapacitySufficient(t *testing.T) {
	daemon := fakeDaemon{
		channels: []Channel{{PeerID: "a", Connected: true, NormalOperation: true, ReceivableMsat: 1_000_000}},
		invoice:  "lnbc-plain",
	}
	p := New(daemon, fakeLSPClient{})

	inv, err := p.CreateInvoice(context.Background(), 900_000, "label", "desc")
	require.NoError(t, err)
	assert.False(t, inv.ViaLSP)
	assert.Equal(t, "lnbc-plain", inv.Bolt11)
}

func TestCreateInvoiceIgnoresDisconnectedOrAbnormalChannels(t *testing.T) {
	daemon := fakeDaemon{
		channels: []Channel{
			{PeerID: "a", Connected: false, NormalOperation: true, ReceivableMsat: 5_000_000},
			{PeerID: "b", Connected: true, NormalOperation: false, ReceivableMsat: 5_000_000},
		},
		peers: []Peer{{NodeID: "lsp1", FeatureBits: map[int]bool{LSPFeatureBit: true}}},
	}
	client := fakeLSPClient{menus: map[string]time.Duration{"lsp1": 0}}
	p := New(daemon, client)

	inv, err := p.CreateInvoice(context.Background(), 2_000_000, "label", "desc")
	require.NoError(t, err)
	assert.True(t, inv.ViaLSP)
	assert.Equal(t, "lsp1", inv.PeerID)
}

func TestCreateInvoiceNegotiatesJITWhenCapacityInsufficient(t *testing.T) {
	daemon := fakeDaemon{
		channels: []Channel{{PeerID: "a", Connected: true, NormalOperation: true, ReceivableMsat: 1_000_000}},
		peers: []Peer{
			{NodeID: "slow", FeatureBits: map[int]bool{LSPFeatureBit: true}},
			{NodeID: "fast", FeatureBits: map[int]bool{LSPFeatureBit: true}},
			{NodeID: "not-lsp", FeatureBits: map[int]bool{}},
		},
	}
	client := fakeLSPClient{menus: map[string]time.Duration{
		"slow": 200 * time.Millisecond,
		"fast": 5 * time.Millisecond,
	}}
	p := New(daemon, client)

	inv, err := p.CreateInvoice(context.Background(), 2_000_000, "label", "desc")
	require.NoError(t, err)
	assert.True(t, inv.ViaLSP)
	assert.Equal(t, "fast", inv.PeerID)
	assert.Equal(t, "lnbc-jit-fast", inv.Bolt11)
}

func TestCreateInvoiceToleratesIndividualPeerFailures(t *testing.T) {
	daemon := fakeDaemon{
		peers: []Peer{
			{NodeID: "broken", FeatureBits: map[int]bool{LSPFeatureBit: true}},
			{NodeID: "works", FeatureBits: map[int]bool{LSPFeatureBit: true}},
		},
	}
	client := fakeLSPClient{
		fail:  map[string]bool{"broken": true},
		menus: map[string]time.Duration{"works": 5 * time.Millisecond},
	}
	p := New(daemon, client)

	inv, err := p.CreateInvoice(context.Background(), 2_000_000, "label", "desc")
	require.NoError(t, err)
	assert.Equal(t, "works", inv.PeerID)
}

func TestCreateInvoiceReturnsErrorWhenNoLSPCapablePeers(t *testing.T) {
	p := New(fakeDaemon{}, fakeLSPClient{})
	_, err := p.CreateInvoice(context.Background(), 2_000_000, "label", "desc")
	assert.ErrorIs(t, err, ErrNoLSPResponded)
}

func TestIsLSPSMessage(t *testing.T) {
	assert.True(t, IsLSPSMessage([]byte{0x94, 0x19, 0x01}))
	assert.False(t, IsLSPSMessage([]byte{0x00, 0x01}))
	assert.False(t, IsLSPSMessage([]byte{0x94}))
}

func TestRewriteForwardAmountReplacesExistingField(t *testing.T) {
	original, err := RewriteForwardAmount(nil, 500_000)
	require.NoError(t, err)

	rewritten, err := RewriteForwardAmount(original, 450_000)
	require.NoError(t, err)

	stream, err := tlv.Parse(rewritten)
	require.NoError(t, err)
	value, ok := stream.Get(tlvTypeAmountForward)
	require.True(t, ok)
	got, err := tlv.DecodeTU64(value)
	require.NoError(t, err)
	assert.Equal(t, uint64(450_000), got)
}

func TestRewriteForwardAmountRejectsTruncatedOnion(t *testing.T) {
	_, err := RewriteForwardAmount([]byte{0xFD, 0x01}, 100)
	assert.Error(t, err)
}
