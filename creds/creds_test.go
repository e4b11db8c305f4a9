package creds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestDeviceRoundTrip(t *testing.T) {
	dev := NewDevice([]byte("cert-bytes"), []byte("key-bytes"), []byte("ca-bytes"), "method^Get|method^List")

	blob := dev.Encode()
	got, err := DecodeDevice(blob)
	require.NoError(t, err)

	assert.Equal(t, dev, got)
}

func TestDecodeDeviceOmittedFieldsDefault(t *testing.T) {
	// A blob carrying only the version field (tag 1) must decode cleanly,
	// leaving every other field at its zero value.
	d := data{version: 1}
	blob := d.encode()

	got, err := DecodeDevice(blob)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), got.Version)
	assert.Nil(t, got.Cert)
	assert.Nil(t, got.Key)
	assert.Nil(t, got.CA)
	assert.Equal(t, "", got.Rune)
}

func TestDecodeDeviceUnknownFieldTolerated(t *testing.T) {
	dev := NewDevice([]byte("c"), []byte("k"), []byte("a"), "r")
	blob := dev.Encode()

	// Append an unknown varint field (tag 9) after the known fields.
	extra := append([]byte(nil), blob...)
	extra = protowire.AppendTag(extra, 9, protowire.VarintType)
	extra = protowire.AppendVarint(extra, 42)

	got, err := DecodeDevice(extra)
	require.NoError(t, err)
	assert.Equal(t, dev, got)
}

func TestDecodeDeviceMalformedInput(t *testing.T) {
	_, err := DecodeDevice([]byte{0xff})
	assert.Error(t, err)
}

func TestDecodeDeviceFromPathMissingFileDefaults(t *testing.T) {
	dev, err := DecodeDeviceFromPath("/nonexistent/path/to/creds.bin")
	require.NoError(t, err)
	assert.Equal(t, Device{}, dev)
}
