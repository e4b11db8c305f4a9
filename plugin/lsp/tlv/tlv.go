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

// Package tlv implements the Lightning-style onion TLV stream encoding
// used by the JIT/LSP invoice policy to rewrite an HTLC's forward
// amount. Its "compact size" varint is the BOLT wire
// encoding (1 byte for values <= 0xFC, a 0xFD/0xFE/0xFF prefix byte for
// wider values), distinct from protobuf varints used elsewhere in this
// repository.
package tlv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a stream ends mid-field.
var ErrTruncated = errors.New("tlv: truncated stream")

// Record is a single type/length/value entry in a TLV stream.
type Record struct {
	Type  uint64
	Value []byte
}

// Stream is an ordered, mutable sequence of TLV records, preserving the
// original field order on re-serialization.
type Stream struct {
	Records []Record
}

// Parse decodes a serialized TLV stream.
func Parse(b []byte) (*Stream, error) {
	s := &Stream{}
	for len(b) > 0 {
		typ, n, err := readCompactSize(b)
		if err != nil {
			return nil, err
		}
		b = b[n:]

		length, n, err := readCompactSize(b)
		if err != nil {
			return nil, err
		}
		b = b[n:]

		if uint64(len(b)) < length {
			return nil, ErrTruncated
		}
		s.Records = append(s.Records, Record{Type: typ, Value: append([]byte(nil), b[:length]...)})
		b = b[length:]
	}
	return s, nil
}

// Get returns the value for the first record of the given type.
func (s *Stream) Get(typ uint64) ([]byte, bool) {
	for _, r := range s.Records {
		if r.Type == typ {
			return r.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of the first record of the given type, or
// appends a new record at the end of the stream when there is none; it
// does not re-sort records by type.
func (s *Stream) Set(typ uint64, value []byte) {
	for i, r := range s.Records {
		if r.Type == typ {
			s.Records[i].Value = value
			return
		}
	}
	s.Records = append(s.Records, Record{Type: typ, Value: value})
}

// Serialize re-encodes the stream.
func (s *Stream) Serialize() []byte {
	var buf bytes.Buffer
	for _, r := range s.Records {
		buf.Write(appendCompactSize(nil, r.Type))
		buf.Write(appendCompactSize(nil, uint64(len(r.Value))))
		buf.Write(r.Value)
	}
	return buf.Bytes()
}

func readCompactSize(b []byte) (uint64, int, error) {
	if len(b) < 1 {
		return 0, 0, ErrTruncated
	}
	switch {
	case b[0] < 0xFD:
		return uint64(b[0]), 1, nil
	case b[0] == 0xFD:
		if len(b) < 3 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.BigEndian.Uint16(b[1:3])), 3, nil
	case b[0] == 0xFE:
		if len(b) < 5 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.BigEndian.Uint32(b[1:5])), 5, nil
	default: // 0xFF
		if len(b) < 9 {
			return 0, 0, ErrTruncated
		}
		return binary.BigEndian.Uint64(b[1:9]), 9, nil
	}
}

func appendCompactSize(b []byte, v uint64) []byte {
	switch {
	case v < 0xFD:
		return append(b, byte(v))
	case v <= 0xFFFF:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(v))
		return append(append(b, 0xFD), buf...)
	case v <= 0xFFFFFFFF:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(v))
		return append(append(b, 0xFE), buf...)
	default:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, v)
		return append(append(b, 0xFF), buf...)
	}
}

// EncodeTU64 encodes v as a big-endian integer with leading zero bytes
// trimmed (the "TU64" truncated-integer TLV encoding); zero encodes to
// an empty byte string.
func EncodeTU64(v uint64) []byte {
	if v == 0 {
		return nil
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	i := 0
	for i < len(buf) && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// DecodeTU64 decodes a TU64-encoded value.
func DecodeTU64(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, fmt.Errorf("tlv: TU64 value too long (%d bytes)", len(b))
	}
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf[:]), nil
}
