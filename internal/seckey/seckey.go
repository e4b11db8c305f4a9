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

// Package seckey derives the node identity key pair from the device seed
// and produces the 64-byte r||s ECDSA signatures used throughout the
// signer's public contract (sign_challenge, sign_device_key, sign_invoice).
package seckey

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrInvalidSignature is returned by Verify when the signature does not
// validate, or is not exactly 64 bytes.
var ErrInvalidSignature = errors.New("seckey: invalid signature")

// NodeKey is the node's identity key pair, deterministically derived from
// the 32-byte seed.
type NodeKey struct {
	priv *secp256k1.PrivateKey
	pub  *secp256k1.PublicKey
}

// FromSeed derives the node identity key pair from a 32-byte seed. The
// derivation is a single SHA-256 pass over the seed with a domain
// separator, which is sufficient for a deterministic secp256k1 scalar: the
// real BIP32 derivation tree is a node-daemon concern external to this core
// (see spec §1 Non-goals: "on-chain wallet logic").
func FromSeed(seed []byte) (*NodeKey, error) {
	if len(seed) != 32 {
		return nil, errors.New("seckey: seed must be exactly 32 bytes")
	}

	h := sha256.New()
	h.Write([]byte("greenlight-node-identity-v1"))
	h.Write(seed)
	scalar := h.Sum(nil)

	priv := secp256k1.PrivKeyFromBytes(scalar)
	return &NodeKey{priv: priv, pub: priv.PubKey()}, nil
}

// NodeID returns the 33-byte compressed public key that identifies the
// node, per spec §3 ("Node identity key").
func (k *NodeKey) NodeID() [33]byte {
	var out [33]byte
	copy(out[:], k.pub.SerializeCompressed())
	return out
}

// PublicKeyUncompressed returns the 65-byte uncompressed public key, the
// shape expected by SignDeviceKey and the device CSR public key.
func (k *NodeKey) PublicKeyUncompressed() []byte {
	return k.pub.SerializeUncompressed()
}

// Sign produces a 64-byte r||s ECDSA signature over SHA-256(message).
func (k *NodeKey) Sign(message []byte) []byte {
	hash := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, k.priv.ToECDSA(), hash[:])
	if err != nil {
		// crypto/rand failures are not recoverable; the caller has no
		// sensible fallback.
		panic(err)
	}
	return serializeSignature(r, s)
}

// Verify checks a 64-byte r||s signature produced by Sign against an
// arbitrary secp256k1 public key (uncompressed, 65 bytes).
func Verify(pubkeyUncompressed, message, signature []byte) error {
	pub, err := secp256k1.ParsePubKey(pubkeyUncompressed)
	if err != nil {
		return ErrInvalidSignature
	}
	r, s, err := deserializeSignature(signature)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(message)
	if !ecdsa.Verify(pub.ToECDSA(), hash[:], r, s) {
		return ErrInvalidSignature
	}
	return nil
}

func serializeSignature(r, s *big.Int) []byte {
	rBytes := r.Bytes()
	sBytes := s.Bytes()

	sig := make([]byte, 64)
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	return sig
}

func deserializeSignature(data []byte) (*big.Int, *big.Int, error) {
	if len(data) != 64 {
		return nil, nil, ErrInvalidSignature
	}
	r := new(big.Int).SetBytes(data[:32])
	s := new(big.Int).SetBytes(data[32:])
	return r, s, nil
}
