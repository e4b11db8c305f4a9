package signer

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/blockstream/greenlight-core/rpc"
	"github.com/blockstream/greenlight-core/statestore"
)

func seed32(b byte) []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = b
	}
	return s
}

func newTestSigner(t *testing.T, validator Validator) *Signer {
	t.Helper()
	s, err := New(seed32(0x42), "regtest", validator, nil, nil)
	require.NoError(t, err)
	return s
}

func TestSignChallengeRequiresExactly32Bytes(t *testing.T) {
	s := newTestSigner(t, nil)

	_, err := s.SignChallenge(make([]byte, 31))
	require.Error(t, err)

	sig, err := s.SignChallenge(make([]byte, 32))
	require.NoError(t, err)
	require.Len(t, sig, 64)
}

func TestSignDeviceKeyRequiresExactly65Bytes(t *testing.T) {
	s := newTestSigner(t, nil)

	_, err := s.SignDeviceKey(make([]byte, 64))
	require.Error(t, err)

	sig, err := s.SignDeviceKey(make([]byte, 65))
	require.NoError(t, err)
	require.Len(t, sig, 64)
}

func TestSignMessageRejectsOversizedPayload(t *testing.T) {
	s := newTestSigner(t, nil)

	_, err := s.SignMessage(make([]byte, maxSignMessageLen+1))
	require.EqualError(t, err, "Message exceeds max len of 65535")

	sig, err := s.SignMessage(make([]byte, maxSignMessageLen))
	require.NoError(t, err)
	require.Len(t, sig, 64)
}

func TestHsmdInitResponseIsFixed146Bytes(t *testing.T) {
	s := newTestSigner(t, nil)
	msgs := s.GetStartupMessages()
	require.NotEmpty(t, msgs)
	require.Len(t, msgs[0].Response, hsmdInitResponseLen)
}

func TestStartupMessagesCanonicalOrder(t *testing.T) {
	s := newTestSigner(t, nil)
	msgs := s.GetStartupMessages()
	require.Len(t, msgs, 1+len(startupSecretLabels))
	require.Equal(t, TagHsmdInit, decodeTag(msgs[0].Request))
	for i, label := range startupSecretLabels {
		req := msgs[i+1].Request
		require.Equal(t, TagDeriveSecret, decodeTag(req))
		require.Equal(t, label, string(req[2:]))
		require.Len(t, msgs[i+1].Response, 32)
	}
}

func TestDeriveSecretDeterministic(t *testing.T) {
	s := newTestSigner(t, nil)
	a := s.deriveSecret("bolt12-invoice-base")
	b := s.deriveSecret("bolt12-invoice-base")
	require.Equal(t, a, b)

	c := s.deriveSecret("scb secret")
	require.NotEqual(t, a, c)
}

func TestContextMatchesRequiresPendingRequest(t *testing.T) {
	require.False(t, contextMatches(TagNewChannel, nil))
	require.True(t, contextMatches(TagNewChannel, []rpc.PendingRequestMsg{{URI: "/cln.Node/FundChannel"}}))
	require.False(t, contextMatches(TagNewChannel, []rpc.PendingRequestMsg{{URI: "/cln.Node/Pay"}}))
}

type stubValidator struct {
	raw []byte
	err error
}

func (v stubValidator) Handle(_ HandleContext, _ uint16, _ []byte) ([]byte, error) {
	return v.raw, v.err
}

func TestResolveAutoAcceptDelegatesToValidator(t *testing.T) {
	s := newTestSigner(t, stubValidator{raw: []byte("signed")})
	raw, err := s.resolve(&rpc.StreamHsmRequestMsg{Raw: encodeTag(TagPing, nil)})
	require.NoError(t, err)
	require.Equal(t, []byte("signed"), raw)
}

func TestResolveSignMessageAlwaysRejected(t *testing.T) {
	s := newTestSigner(t, stubValidator{raw: []byte("should never be returned")})
	_, err := s.resolve(&rpc.StreamHsmRequestMsg{Raw: encodeTag(TagSignMessage, []byte("anything"))})
	require.Error(t, err)
}

func TestResolveRequiresContextRejectsWithoutPendingRequest(t *testing.T) {
	s := newTestSigner(t, stubValidator{raw: []byte("signed")})
	_, err := s.resolve(&rpc.StreamHsmRequestMsg{Raw: encodeTag(TagNewChannel, nil)})
	require.Error(t, err)
	var resolverErr *ResolverError
	require.ErrorAs(t, err, &resolverErr)
	require.Equal(t, TagNewChannel, resolverErr.Tag)
}

func TestResolveRequiresContextAcceptsWithMatchingPendingRequest(t *testing.T) {
	s := newTestSigner(t, stubValidator{raw: []byte("signed")})
	raw, err := s.resolve(&rpc.StreamHsmRequestMsg{
		Raw:      encodeTag(TagNewChannel, nil),
		Requests: []rpc.PendingRequestMsg{{URI: "/cln.Node/FundChannel"}},
	})
	require.NoError(t, err)
	require.Equal(t, []byte("signed"), raw)
}

func TestResolveUnknownTagRejected(t *testing.T) {
	s := newTestSigner(t, stubValidator{raw: []byte("signed")})
	_, err := s.resolve(&rpc.StreamHsmRequestMsg{Raw: encodeTag(0xBEEF, nil)})
	require.Error(t, err)
}

// fakeNodeServer replays a fixed script of StreamHsmRequestMsg to the
// signer and records every StreamHsmResponseMsg it sends back.
type fakeNodeServer struct {
	script    []*rpc.StreamHsmRequestMsg
	responses []*rpc.StreamHsmResponseMsg
	heartbeat *rpc.StreamHsmResponseMsg
}

func (f *fakeNodeServer) StreamHsmRequests(stream rpc.NodeStreamHsmRequestsServer) error {
	// First inbound message is always the signer's synthetic heartbeat
	// response; record it before sending the scripted requests.
	hb, err := stream.Recv()
	if err != nil {
		return err
	}
	f.heartbeat = hb

	for _, req := range f.script {
		if err := stream.Send(req); err != nil {
			return err
		}
		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		f.responses = append(f.responses, resp)
	}
	return nil
}

func dialBufconn(t *testing.T, srv rpc.NodeServer) Dialer {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	t.Cleanup(func() { lis.Close() })

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(rpc.Codec))
	rpc.RegisterNodeServer(grpcServer, srv)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	return func(ctx context.Context, _ string) (rpc.NodeClient, func() error, error) {
		dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }
		conn, err := grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(dialer),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.ForceCodec(rpc.Codec)),
		)
		if err != nil {
			return nil, nil, err
		}
		return rpc.NewNodeClient(conn), conn.Close, nil
	}
}

func TestRunOnceSignsAutoAcceptRequestsEndToEnd(t *testing.T) {
	fake := &fakeNodeServer{script: []*rpc.StreamHsmRequestMsg{
		{RequestID: 1, Raw: encodeTag(TagPing, nil)},
	}}
	s := newTestSigner(t, stubValidator{raw: []byte("pong")})
	s.dial = dialBufconn(t, fake)

	err := s.RunOnce(context.Background(), "bufnet")
	require.Error(t, err) // the stream ends when the script is exhausted

	require.Len(t, fake.responses, 1)
	require.Equal(t, uint32(1), fake.responses[0].RequestID)
	require.Equal(t, []byte("pong"), fake.responses[0].Raw)
	require.Empty(t, fake.responses[0].Error)
}

func TestRunOnceAlwaysRespondsEvenOnRejection(t *testing.T) {
	fake := &fakeNodeServer{script: []*rpc.StreamHsmRequestMsg{
		{RequestID: 7, Raw: encodeTag(TagSignMessage, []byte("x"))},
	}}
	s := newTestSigner(t, stubValidator{raw: []byte("should not matter")})
	s.dial = dialBufconn(t, fake)

	_ = s.RunOnce(context.Background(), "bufnet")

	require.Len(t, fake.responses, 1)
	require.Equal(t, uint32(7), fake.responses[0].RequestID)
	require.Empty(t, fake.responses[0].Raw)
	require.NotEmpty(t, fake.responses[0].Error)
}

func TestRunOnceDetectsSplitBrain(t *testing.T) {
	fake := &fakeNodeServer{script: []*rpc.StreamHsmRequestMsg{
		{
			RequestID: 1,
			Raw:       encodeTag(TagPing, nil),
			SignerState: map[string]rpc.StateEntryMsg{
				"k": {Value: []byte("a"), Version: 1},
			},
		},
		{
			RequestID: 2,
			Raw:       encodeTag(TagPing, nil),
			SignerState: map[string]rpc.StateEntryMsg{
				"k": {Value: []byte("b"), Version: 1},
			},
		},
	}}
	s := newTestSigner(t, stubValidator{raw: []byte("pong")})
	s.dial = dialBufconn(t, fake)

	err := s.RunOnce(context.Background(), "bufnet")
	require.Error(t, err)
	require.True(t, errors.Is(err, statestore.ErrSplitBrain))
}

func TestRunOnceSendsSnapshotOnHeartbeat(t *testing.T) {
	fake := &fakeNodeServer{script: []*rpc.StreamHsmRequestMsg{
		{RequestID: 1, Raw: encodeTag(TagPing, nil)},
	}}
	s := newTestSigner(t, stubValidator{raw: []byte("pong")})
	s.dial = dialBufconn(t, fake)
	require.NoError(t, s.state.Merge("k", []byte("v"), 1))

	err := s.RunOnce(context.Background(), "bufnet")
	require.Error(t, err)
	require.NotNil(t, fake.heartbeat)
	require.Equal(t, uint32(0), fake.heartbeat.RequestID)
	require.Contains(t, fake.heartbeat.SignerState, "k")
}
