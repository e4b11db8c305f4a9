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

package runes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterRuneAllowsEverything(t *testing.T) {
	master := NewMaster([]byte("secret"))
	assert.True(t, master.Allows(map[string]string{"method": "anything"}))
}

func TestReadOnlyRestriction(t *testing.T) {
	master := NewMaster([]byte("secret"))
	ro := master.AddRestriction(DefRules.ReadOnly)

	assert.True(t, ro.Allows(map[string]string{"method": "GetInfo"}))
	assert.True(t, ro.Allows(map[string]string{"method": "ListFunds"}))
	assert.False(t, ro.Allows(map[string]string{"method": "pay"}))
}

func TestPayRestriction(t *testing.T) {
	master := NewMaster([]byte("secret"))
	payOnly := master.AddRestriction(DefRules.Pay)

	assert.True(t, payOnly.Allows(map[string]string{"method": "pay"}))
	assert.False(t, payOnly.Allows(map[string]string{"method": "GetInfo"}))
}

func TestAddRestrictionNarrowsOnly(t *testing.T) {
	master := NewMaster([]byte("secret"))
	ro := master.AddRestriction(DefRules.ReadOnly)
	narrower := ro.AddRestriction(DefRules.Pay)

	// Narrower rune now requires BOTH clauses (ANDed), so a read method no
	// longer satisfies it even though it satisfied the parent rune.
	assert.False(t, narrower.Allows(map[string]string{"method": "GetInfo"}))
	assert.False(t, narrower.Allows(map[string]string{"method": "pay"}))
}

func TestDifferentRestrictionsYieldDifferentAuthcodes(t *testing.T) {
	master := NewMaster([]byte("secret"))
	ro := master.AddRestriction(DefRules.ReadOnly)
	pay := master.AddRestriction(DefRules.Pay)

	assert.NotEqual(t, ro.Encode(), pay.Encode())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	master := NewMaster([]byte("secret"))
	ro := master.AddRestriction(DefRules.ReadOnly)

	encoded := ro.Encode()
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, ro.Allows(map[string]string{"method": "GetInfo"}), decoded.Allows(map[string]string{"method": "GetInfo"}))
	assert.Equal(t, ro.Encode(), decoded.Encode())
}

func TestDecodeRejectsTooShort(t *testing.T) {
	_, err := Decode("YWJj")
	assert.ErrorIs(t, err, ErrMalformedRune)
}

func TestAddFlattensClausesWithOr(t *testing.T) {
	clause := Add(DefRules.ReadOnly, DefRules.Pay)
	assert.Equal(t, "method^Get|method^List|method=pay", clause.String())
}

func TestCarveReadOnly(t *testing.T) {
	master := NewMaster([]byte("secret"))
	carved := Carve(master, DefRules.ReadOnly)
	assert.Equal(t, "method^Get|method^List", carved.restriction.String())
}

func TestCarveAddIsDisjunctive(t *testing.T) {
	master := NewMaster([]byte("secret"))
	carved := Carve(master, Add(DefRules.ReadOnly, DefRules.Pay))

	assert.Equal(t, "method^Get|method^List|method=pay", carved.restriction.String())
	assert.True(t, carved.Allows(map[string]string{"method": "GetInfo"}))
	assert.True(t, carved.Allows(map[string]string{"method": "pay"}))
	assert.False(t, carved.Allows(map[string]string{"method": "other"}))
}
