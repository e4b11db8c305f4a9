package hsmserver

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockstream/greenlight-core/plugin/stager"
	"github.com/blockstream/greenlight-core/rpc"
)

func rawWithTag(tag uint16, rest ...byte) []byte {
	buf := make([]byte, 2+len(rest))
	binary.BigEndian.PutUint16(buf, tag)
	copy(buf[2:], rest)
	return buf
}

func TestRequestReturnsCachedInit(t *testing.T) {
	s := New(stager.New(), "/tmp/unused.sock", NodeInfo{InitMsg: []byte("cached-init")})

	resp, err := s.Request(context.Background(), &rpc.HsmRequestMsg{Raw: rawWithTag(TagHsmdInit)})
	require.NoError(t, err)
	assert.Equal(t, []byte("cached-init"), resp.Raw)
}

func TestRequestReturnsMemleakProbe(t *testing.T) {
	s := New(stager.New(), "/tmp/unused.sock", NodeInfo{})

	resp, err := s.Request(context.Background(), &rpc.HsmRequestMsg{Raw: rawWithTag(TagMemleak)})
	require.NoError(t, err)
	assert.Equal(t, memleakResponse, resp.Raw)
}

func TestRequestStagesUnknownTags(t *testing.T) {
	stage := stager.New()
	s := New(stage, "/tmp/unused.sock", NodeInfo{})

	raw := rawWithTag(27, 0x01, 0x02)
	done := make(chan struct{})
	var respErr error
	var resp *rpc.HsmResponseMsg

	go func() {
		resp, respErr = s.Request(context.Background(), &rpc.HsmRequestMsg{Raw: raw})
		close(done)
	}()

	// Give the Request goroutine a moment to stage before subscribing.
	time.Sleep(10 * time.Millisecond)
	stream := stage.Subscribe()
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	staged, ok := stream.Next(ctx)
	require.True(t, ok)

	stage.Respond(stager.Response{ID: staged.ID, Raw: []byte("signed")})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for staged response")
	}
	require.NoError(t, respErr)
	assert.Equal(t, []byte("signed"), resp.Raw)
}

func TestRequestRejectsShortRaw(t *testing.T) {
	s := New(stager.New(), "/tmp/unused.sock", NodeInfo{})
	_, err := s.Request(context.Background(), &rpc.HsmRequestMsg{Raw: []byte{0}})
	assert.Error(t, err)
}
