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

package stager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendThenRespondDeliversResponse(t *testing.T) {
	s := New()
	respCh := s.Send(Request{ID: 1, Raw: []byte("req")})

	found := s.Respond(Response{ID: 1, Raw: []byte("resp")})
	assert.True(t, found)

	select {
	case resp := <-respCh:
		assert.Equal(t, []byte("resp"), resp.Raw)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestRespondToUnknownIDIsTolerated(t *testing.T) {
	s := New()
	found := s.Respond(Response{ID: 999, Raw: []byte("resp")})
	assert.False(t, found)
}

func TestSubscribeSeesBacklogThenNewRequests(t *testing.T) {
	s := New()
	s.Send(Request{ID: 1, Raw: []byte("backlog")})

	stream := s.Subscribe()
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req, ok := stream.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, uint32(1), req.ID)

	s.Send(Request{ID: 2, Raw: []byte("fresh")})

	req, ok = stream.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, uint32(2), req.ID)
}

func TestHsmConnectionsTracksSubscriptions(t *testing.T) {
	s := New()
	assert.Equal(t, int64(0), s.HsmConnections())

	stream := s.Subscribe()
	assert.Equal(t, int64(1), s.HsmConnections())

	stream.Close()
	assert.Equal(t, int64(0), s.HsmConnections())
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New()
	stream := s.Subscribe()
	stream.Close()
	stream.Close()
	assert.Equal(t, int64(0), s.HsmConnections())
}

func TestIsStuckDetectsTypeFiveRequests(t *testing.T) {
	s := New()
	assert.False(t, s.IsStuck())

	s.Send(Request{ID: 1, Raw: []byte{0, 5, 0xAA}})
	assert.True(t, s.IsStuck())
}

func TestNextRespectsContextCancellation(t *testing.T) {
	s := New()
	stream := s.Subscribe()
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := stream.Next(ctx)
	assert.False(t, ok)
}
