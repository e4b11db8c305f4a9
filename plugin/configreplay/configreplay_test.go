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

package configreplay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockstream/greenlight-core/pendingctx"
	"github.com/blockstream/greenlight-core/pkg/store"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(ctx context.Context, key store.Key) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Put(ctx context.Context, key store.Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key.String()] = value
	return nil
}

func (m *memStore) Delete(ctx context.Context, key store.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key.String())
	return nil
}

func (m *memStore) Close() error                     { return nil }
func (m *memStore) Ping(ctx context.Context) error   { return nil }

type fakeValidator struct{ reject map[string]bool }

func (v fakeValidator) ValidateAddress(address string) error {
	if v.reject[address] {
		return errors.New("wrong network")
	}
	return nil
}

func TestPermissiveValidatorAcceptsAnything(t *testing.T) {
	assert.NoError(t, PermissiveValidator{}.ValidateAddress("anything at all"))
}

func TestSetCloseToRejectsInvalidAddress(t *testing.T) {
	r := New(newMemStore(), fakeValidator{reject: map[string]bool{"bogus": true}})
	err := r.SetCloseTo(context.Background(), "bogus", pendingctx.Request{URI: "/setconfig"})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestSetCloseToPersistsAndReplays(t *testing.T) {
	ds := newMemStore()
	r := New(ds, fakeValidator{})

	req := pendingctx.Request{URI: "/setconfig", Payload: []byte("closeto")}
	require.NoError(t, r.SetCloseTo(context.Background(), "bc1qvalid", req))

	replayed := r.Replay(nil)
	require.Len(t, replayed, 1)
	assert.Equal(t, req, replayed[0])

	raw, err := ds.Get(context.Background(), requestKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "closeto")
}

func TestLoadRestoresCacheFromDatastore(t *testing.T) {
	ds := newMemStore()
	seed := New(ds, fakeValidator{})
	require.NoError(t, seed.SetCloseTo(context.Background(), "bc1qvalid", pendingctx.Request{URI: "/setconfig"}))

	fresh := New(ds, fakeValidator{})
	require.NoError(t, fresh.Load(context.Background()))

	replayed := fresh.Replay(nil)
	require.Len(t, replayed, 1)
	assert.Equal(t, "/setconfig", replayed[0].URI)
}

func TestLoadWithNoPersistedRequestIsNoop(t *testing.T) {
	r := New(newMemStore(), fakeValidator{})
	require.NoError(t, r.Load(context.Background()))
	assert.Empty(t, r.Replay(nil))
}

func TestReplayAppendsToExistingRequests(t *testing.T) {
	ds := newMemStore()
	r := New(ds, fakeValidator{})
	require.NoError(t, r.SetCloseTo(context.Background(), "bc1qvalid", pendingctx.Request{URI: "/setconfig"}))

	existing := []pendingctx.Request{{URI: "/other"}}
	replayed := r.Replay(existing)
	require.Len(t, replayed, 2)
	assert.Equal(t, "/other", replayed[0].URI)
	assert.Equal(t, "/setconfig", replayed[1].URI)
}
