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

package statestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAcceptsNewKey(t *testing.T) {
	s := New()
	err := s.Merge("scb", []byte("v1"), 1)
	require.NoError(t, err)

	e, ok := s.Get("scb")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), e.Value)
	assert.Equal(t, uint64(1), e.Version)
}

func TestMergeAdvancesOnHigherVersion(t *testing.T) {
	s := New()
	require.NoError(t, s.Merge("scb", []byte("v1"), 1))
	require.NoError(t, s.Merge("scb", []byte("v2"), 2))

	e, _ := s.Get("scb")
	assert.Equal(t, []byte("v2"), e.Value)
	assert.Equal(t, uint64(2), e.Version)
}

func TestMergeIgnoresStaleVersion(t *testing.T) {
	s := New()
	require.NoError(t, s.Merge("scb", []byte("v2"), 2))
	require.NoError(t, s.Merge("scb", []byte("v1"), 1))

	e, _ := s.Get("scb")
	assert.Equal(t, []byte("v2"), e.Value)
}

func TestMergeIgnoresExactDuplicate(t *testing.T) {
	s := New()
	require.NoError(t, s.Merge("scb", []byte("v1"), 1))
	err := s.Merge("scb", []byte("v1"), 1)
	assert.NoError(t, err)
}

func TestMergeDetectsSplitBrain(t *testing.T) {
	s := New()
	require.NoError(t, s.Merge("scb", []byte("v1"), 1))
	err := s.Merge("scb", []byte("v1-diverged"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSplitBrain)

	var sbErr *SplitBrainError
	require.ErrorAs(t, err, &sbErr)
	assert.Equal(t, "scb", sbErr.Key)
	assert.Equal(t, []byte("v1"), sbErr.Old)
	assert.Equal(t, []byte("v1-diverged"), sbErr.New)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := New()
	require.NoError(t, s.Merge("scb", []byte("v1"), 1))

	snap := s.Snapshot()
	snap["scb"] = Entry{Value: []byte("mutated"), Version: 99}

	e, _ := s.Get("scb")
	assert.Equal(t, []byte("v1"), e.Value)
}

func TestKeysSorted(t *testing.T) {
	s := New()
	require.NoError(t, s.Merge("zeta", []byte("z"), 1))
	require.NoError(t, s.Merge("alpha", []byte("a"), 1))

	assert.Equal(t, []string{"alpha", "zeta"}, s.Keys())
}
