package seckey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroSeed() []byte {
	return make([]byte, 32)
}

func TestFromSeed(t *testing.T) {
	t.Run("RejectsWrongLength", func(t *testing.T) {
		_, err := FromSeed(make([]byte, 31))
		assert.Error(t, err)
		_, err = FromSeed(make([]byte, 33))
		assert.Error(t, err)
	})

	t.Run("Deterministic", func(t *testing.T) {
		k1, err := FromSeed(zeroSeed())
		require.NoError(t, err)
		k2, err := FromSeed(zeroSeed())
		require.NoError(t, err)
		assert.Equal(t, k1.NodeID(), k2.NodeID())
	})

	t.Run("NodeIDIs33Bytes", func(t *testing.T) {
		k, err := FromSeed(zeroSeed())
		require.NoError(t, err)
		id := k.NodeID()
		assert.Len(t, id, 33)
	})
}

func TestSignVerify(t *testing.T) {
	k, err := FromSeed(zeroSeed())
	require.NoError(t, err)

	msg := []byte("sign this")
	sig := k.Sign(msg)
	assert.Len(t, sig, 64)

	err = Verify(k.PublicKeyUncompressed(), msg, sig)
	assert.NoError(t, err)

	err = Verify(k.PublicKeyUncompressed(), []byte("other message"), sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	badSig := make([]byte, 63)
	err = Verify(k.PublicKeyUncompressed(), msg, badSig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
