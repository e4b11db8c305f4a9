package pendingctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndSnapshot(t *testing.T) {
	c := New()
	c.Add(Request{Signature: []byte("sig-a"), URI: "/glrpc.Node/Pay"})
	c.Add(Request{Signature: []byte("sig-b"), URI: "/glrpc.Node/GetInfo"})

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 2, c.Len())
}

func TestRemoveBySignature(t *testing.T) {
	c := New()
	c.Add(Request{Signature: []byte("sig-a")})
	c.Add(Request{Signature: []byte("sig-b")})

	c.Remove([]byte("sig-a"))

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, []byte("sig-b"), snap[0].Signature)
}

func TestRemoveNonexistentIsNoop(t *testing.T) {
	c := New()
	c.Add(Request{Signature: []byte("sig-a")})

	c.Remove([]byte("sig-does-not-exist"))

	assert.Equal(t, 1, c.Len())
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	c := New()
	c.Add(Request{Signature: []byte("sig-a")})

	snap := c.Snapshot()
	snap[0].Signature = []byte("mutated")

	fresh := c.Snapshot()
	assert.Equal(t, []byte("sig-a"), fresh[0].Signature)
}
