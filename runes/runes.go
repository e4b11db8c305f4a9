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

// Package runes implements the capability tokens ("runes") that the auth
// middleware uses to decide whether a device's request is in scope. A rune
// is an HMAC-chained authcode plus an ASCII restriction grammar: each
// restriction is a set of "&"-joined clauses, each clause a set of
// "|"-joined alternatives, each alternative a "field op value" triple.
// Adding a restriction to a rune re-derives the authcode as
// HMAC-SHA256(authcode, restriction-bytes), so a derived rune can never be
// widened back to its parent's authority without knowing the master secret.
package runes

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Op is a restriction comparison operator.
type Op string

const (
	// OpEqual requires the field to equal the value exactly.
	OpEqual Op = "="
	// OpStartsWith requires the field to have the value as a prefix.
	OpStartsWith Op = "^"
	// OpEndsWith requires the field to have the value as a suffix.
	OpEndsWith Op = "$"
	// OpContains requires the field to contain the value as a substring.
	OpContains Op = "~"
)

// Alt is a single "field op value" alternative within a clause.
type Alt struct {
	Field string
	Op    Op
	Value string
}

func (a Alt) String() string {
	return fmt.Sprintf("%s%s%s", a.Field, a.Op, a.Value)
}

func parseAlt(s string) (Alt, error) {
	for _, op := range []Op{OpEqual, OpStartsWith, OpEndsWith, OpContains} {
		if idx := strings.Index(s, string(op)); idx >= 0 {
			return Alt{Field: s[:idx], Op: op, Value: s[idx+1:]}, nil
		}
	}
	return Alt{}, fmt.Errorf("runes: malformed alternative %q", s)
}

// Clause is a set of alternatives joined by OR; the clause is satisfied if
// any alternative matches.
type Clause []Alt

func (c Clause) String() string {
	parts := make([]string, len(c))
	for i, a := range c {
		parts[i] = a.String()
	}
	return strings.Join(parts, "|")
}

// Satisfies reports whether at least one alternative in the clause matches
// the given field values.
func (c Clause) Satisfies(fields map[string]string) bool {
	for _, a := range c {
		v, ok := fields[a.Field]
		if !ok {
			continue
		}
		switch a.Op {
		case OpEqual:
			if v == a.Value {
				return true
			}
		case OpStartsWith:
			if strings.HasPrefix(v, a.Value) {
				return true
			}
		case OpEndsWith:
			if strings.HasSuffix(v, a.Value) {
				return true
			}
		case OpContains:
			if strings.Contains(v, a.Value) {
				return true
			}
		}
	}
	return false
}

// Restriction is a set of clauses joined by AND; every clause must be
// satisfied for the restriction to allow a request.
type Restriction []Clause

// String renders the restriction in the canonical "&"/"|" grammar.
func (r Restriction) String() string {
	parts := make([]string, len(r))
	for i, c := range r {
		parts[i] = c.String()
	}
	return strings.Join(parts, "&")
}

// Allows reports whether every clause in the restriction is satisfied.
func (r Restriction) Allows(fields map[string]string) bool {
	for _, c := range r {
		if !c.Satisfies(fields) {
			return false
		}
	}
	return true
}

// ParseRestriction parses the canonical "&"/"|" grammar back into a
// Restriction.
func ParseRestriction(s string) (Restriction, error) {
	if s == "" {
		return nil, nil
	}
	clauseStrs := strings.Split(s, "&")
	r := make(Restriction, 0, len(clauseStrs))
	for _, cs := range clauseStrs {
		altStrs := strings.Split(cs, "|")
		clause := make(Clause, 0, len(altStrs))
		for _, as := range altStrs {
			a, err := parseAlt(as)
			if err != nil {
				return nil, err
			}
			clause = append(clause, a)
		}
		r = append(r, clause)
	}
	return r, nil
}

// DefRules holds a handful of commonly-issued restriction clauses, named
// for the capability they grant.
var DefRules = struct {
	ReadOnly Clause
	Pay      Clause
}{
	ReadOnly: Clause{
		{Field: "method", Op: OpStartsWith, Value: "Get"},
		{Field: "method", Op: OpStartsWith, Value: "List"},
	},
	Pay: Clause{
		{Field: "method", Op: OpEqual, Value: "pay"},
	},
}

// Add flattens the alternatives of every clause into a single clause,
// ORing them together: Add(ReadOnly, Pay) allows a request that matches
// any alternative of ReadOnly or of Pay, not only one that matches both.
func Add(clauses ...Clause) Clause {
	var out Clause
	for _, c := range clauses {
		out = append(out, c...)
	}
	return out
}

// Rune is a capability token: a 32-byte HMAC-chained authcode plus the
// accumulated restriction it carries.
type Rune struct {
	authcode    [32]byte
	restriction Restriction
}

// NewMaster derives the master rune from the node's secret. The master
// rune carries no restrictions and therefore authorizes everything.
func NewMaster(secret []byte) Rune {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("greenlight-rune-master-v1"))
	var code [32]byte
	copy(code[:], mac.Sum(nil))
	return Rune{authcode: code}
}

// AddRestriction derives a new, narrower rune by chaining the authcode
// through HMAC-SHA256 keyed on the parent authcode and appending the given
// clause. The result can only ever narrow the set of requests allowed,
// never widen it.
func (r Rune) AddRestriction(c Clause) Rune {
	mac := hmac.New(sha256.New, r.authcode[:])
	mac.Write([]byte(c.String()))
	var next [32]byte
	copy(next[:], mac.Sum(nil))

	restriction := make(Restriction, len(r.restriction)+1)
	copy(restriction, r.restriction)
	restriction[len(r.restriction)] = c

	return Rune{authcode: next, restriction: restriction}
}

// Carve derives a new rune from r by appending each clause in turn via
// AddRestriction, narrowing the rune's authority one clause at a time.
// Carve(rune, Add(DefRules.ReadOnly, DefRules.Pay)) appends a single
// OR'd clause; Carve(rune, DefRules.ReadOnly, DefRules.Pay) appends two
// separate AND'd clauses instead.
func Carve(r Rune, clauses ...Clause) Rune {
	for _, c := range clauses {
		r = r.AddRestriction(c)
	}
	return r
}

// Allows reports whether the rune's accumulated restriction permits a
// request described by fields (e.g. {"method": "pay"}).
func (r Rune) Allows(fields map[string]string) bool {
	return r.restriction.Allows(fields)
}

// Encode renders the rune as padded URL-safe base64 of authcode || the
// restriction string's bytes.
func (r Rune) Encode() string {
	buf := make([]byte, 32, 32+len(r.restriction.String()))
	copy(buf, r.authcode[:])
	buf = append(buf, []byte(r.restriction.String())...)
	return base64.URLEncoding.EncodeToString(buf)
}

// ErrMalformedRune is returned by Decode when the input is too short to
// contain a 32-byte authcode.
var ErrMalformedRune = errors.New("runes: malformed rune encoding")

// Decode parses a rune produced by Encode.
func Decode(s string) (Rune, error) {
	buf, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return Rune{}, fmt.Errorf("runes: %w", err)
	}
	return DecodeRaw(buf)
}

// DecodeRaw parses a rune from its already-base64-decoded byte form
// (authcode || restriction-string-bytes). Used directly by callers that
// receive the rune bytes already decoded, e.g. the auth middleware's
// glrune header.
func DecodeRaw(buf []byte) (Rune, error) {
	if len(buf) < 32 {
		return Rune{}, ErrMalformedRune
	}
	var code [32]byte
	copy(code[:], buf[:32])
	restriction, err := ParseRestriction(string(buf[32:]))
	if err != nil {
		return Rune{}, err
	}
	return Rune{authcode: code, restriction: restriction}, nil
}
