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

// Package creds implements the device-credentials blob described in
// spec §3/§6: a field-tagged binary encoding of {version, cert, key, ca,
// rune}, plus the Nobody/Device credential sets that carry mTLS identities.
package creds

import (
	"errors"
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// CredVersion is the version stamped onto freshly-issued credentials.
const CredVersion = 1

// data is the wire-level representation of the credentials blob. The wire
// tags match spec §6 exactly (version=1, cert=2, key=3, ca=4, rune=5) and
// are encoded with the standard protobuf wire format (varint tag/wiretype,
// length-delimited bytes fields) so that the blob round-trips through any
// protobuf-aware tooling even though no .proto file is compiled for it.
type data struct {
	version uint32
	cert    []byte
	certSet bool
	key     []byte
	keySet  bool
	ca      []byte
	caSet   bool
	rune    string
	runeSet bool
}

func (d data) encode() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.version))
	if d.certSet {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, d.cert)
	}
	if d.keySet {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, d.key)
	}
	if d.caSet {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, d.ca)
	}
	if d.runeSet {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(d.rune))
	}
	return b
}

func decodeData(buf []byte) (data, error) {
	var d data
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return data{}, fmt.Errorf("creds: malformed tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]

		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return data{}, fmt.Errorf("creds: malformed version field")
			}
			d.version = uint32(v)
			buf = buf[n:]
		case 2:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return data{}, fmt.Errorf("creds: malformed cert field")
			}
			d.cert, d.certSet = append([]byte(nil), v...), true
			buf = buf[n:]
		case 3:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return data{}, fmt.Errorf("creds: malformed key field")
			}
			d.key, d.keySet = append([]byte(nil), v...), true
			buf = buf[n:]
		case 4:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return data{}, fmt.Errorf("creds: malformed ca field")
			}
			d.ca, d.caSet = append([]byte(nil), v...), true
			buf = buf[n:]
		case 5:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return data{}, fmt.Errorf("creds: malformed rune field")
			}
			d.rune, d.runeSet = string(v), true
			buf = buf[n:]
		default:
			// Unknown fields are tolerated, per spec §6: "Decoding
			// unknown fields is tolerated."
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return data{}, fmt.Errorf("creds: malformed unknown field %d", num)
			}
			buf = buf[n:]
		}
	}
	return d, nil
}

// Nobody is the baseline, anonymous mTLS identity shipped with the client
// library. It can only reach the scheduler's register/recover endpoints.
type Nobody struct {
	Cert []byte
	Key  []byte
	CA   []byte
}

// NewNobody returns the default Nobody credentials, loading overrides from
// GL_NOBODY_CRT / GL_NOBODY_KEY / GL_CA_CRT if set, per spec §6 env vars.
func NewNobody(defaultCert, defaultKey, defaultCA []byte) (Nobody, error) {
	cert, err := loadFileOrDefault("GL_NOBODY_CRT", defaultCert)
	if err != nil {
		return Nobody{}, err
	}
	key, err := loadFileOrDefault("GL_NOBODY_KEY", defaultKey)
	if err != nil {
		return Nobody{}, err
	}
	ca, err := loadFileOrDefault("GL_CA_CRT", defaultCA)
	if err != nil {
		return Nobody{}, err
	}
	return Nobody{Cert: cert, Key: key, CA: ca}, nil
}

func loadFileOrDefault(envVar string, fallback []byte) ([]byte, error) {
	if path := os.Getenv(envVar); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("creds: could not read file for %s: %w", envVar, err)
		}
		return b, nil
	}
	return fallback, nil
}

// Device holds the device's mTLS identity, the CA that signed it, and its
// rune (the authorization token enumerating allowed operations).
type Device struct {
	Version uint32
	Cert    []byte
	Key     []byte
	CA      []byte
	Rune    string
}

// NewDevice builds a freshly-issued Device credential set (Version =
// CredVersion).
func NewDevice(cert, key, ca []byte, rune string) Device {
	return Device{Version: CredVersion, Cert: cert, Key: key, CA: ca, Rune: rune}
}

// DecodeDevice decodes a device-credentials blob. Decoding is lenient:
// malformed or truncated input yields the zero-value Device and a non-nil
// error, but fields simply absent from a well-formed blob keep their zero
// values, matching spec Testable Property 7 ("decoding a byte blob that
// omits optional fields yields their defaults without failing").
func DecodeDevice(buf []byte) (Device, error) {
	d, err := decodeData(buf)
	if err != nil {
		return Device{}, err
	}
	dev := Device{Version: d.version}
	if d.certSet {
		dev.Cert = d.cert
	}
	if d.keySet {
		dev.Key = d.key
	}
	if d.caSet {
		dev.CA = d.ca
	}
	if d.runeSet {
		dev.Rune = d.rune
	}
	return dev, nil
}

// Encode serializes the device credentials into the field-tagged binary
// blob described in spec §6.
func (dev Device) Encode() []byte {
	d := data{
		version: CredVersion,
		cert:    dev.Cert, certSet: true,
		key: dev.Key, keySet: true,
		ca: dev.CA, caSet: true,
		rune: dev.Rune, runeSet: true,
	}
	return d.encode()
}

// ErrEmptyBlob names the missing-credentials-file case. DecodeDeviceFromPath
// does not return it: a missing file yields a zero-value Device and a nil
// error, matching the original's "read or default" behavior.
var ErrEmptyBlob = errors.New("creds: credentials file not found")

// DecodeDeviceFromPath reads a credentials blob from disk and decodes it,
// defaulting to a zero-value Device if the file is absent.
func DecodeDeviceFromPath(path string) (Device, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Device{}, nil
		}
		return Device{}, err
	}
	return DecodeDevice(b)
}
