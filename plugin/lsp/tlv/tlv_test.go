package tlv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripSmallValues(t *testing.T) {
	s := &Stream{}
	s.Set(1, []byte("hello"))
	s.Set(2, []byte{0x01, 0x02})

	decoded, err := Parse(s.Serialize())
	require.NoError(t, err)

	v, ok := decoded.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), v)

	v, ok = decoded.Get(2)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02}, v)
}

func TestRoundTripWideLengthAndType(t *testing.T) {
	s := &Stream{}
	big := make([]byte, 70000)
	for i := range big {
		big[i] = byte(i)
	}
	s.Set(100000, big)

	decoded, err := Parse(s.Serialize())
	require.NoError(t, err)

	v, ok := decoded.Get(100000)
	require.True(t, ok)
	assert.Equal(t, big, v)
}

func TestSetReplacesExistingType(t *testing.T) {
	s := &Stream{}
	s.Set(1, []byte("a"))
	s.Set(1, []byte("b"))

	require.Len(t, s.Records, 1)
	v, _ := s.Get(1)
	assert.Equal(t, []byte("b"), v)
}

func TestParseRejectsTruncatedStream(t *testing.T) {
	_, err := Parse([]byte{0x01, 0x05, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestTU64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 255, 256, 1 << 32, ^uint64(0)} {
		encoded := EncodeTU64(v)
		decoded, err := DecodeTU64(encoded)
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	}
}

func TestTU64TrimsLeadingZeros(t *testing.T) {
	assert.Equal(t, []byte{0x01}, EncodeTU64(1))
	assert.Nil(t, EncodeTU64(0))
}

func TestDecodeTU64RejectsOversizedInput(t *testing.T) {
	_, err := DecodeTU64(make([]byte, 9))
	assert.Error(t, err)
}
