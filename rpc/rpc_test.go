package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func TestCodecRoundTrip(t *testing.T) {
	in := &HsmRequestMsg{Raw: []byte{0, 11, 0xAA}}
	b, err := Codec.Marshal(in)
	require.NoError(t, err)

	out := new(HsmRequestMsg)
	require.NoError(t, Codec.Unmarshal(b, out))
	require.Equal(t, in.Raw, out.Raw)
}

type fakeHsmServer struct {
	resp *HsmResponseMsg
}

func (f *fakeHsmServer) Request(ctx context.Context, in *HsmRequestMsg) (*HsmResponseMsg, error) {
	return f.resp, nil
}

func (f *fakeHsmServer) Ping(ctx context.Context, in *PingRequestMsg) (*PingResponseMsg, error) {
	return &PingResponseMsg{}, nil
}

func TestHsmServiceOverBufconn(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	t.Cleanup(func() { lis.Close() })

	srv := grpc.NewServer(grpc.ForceServerCodec(Codec))
	RegisterHsmServer(srv, &fakeHsmServer{resp: &HsmResponseMsg{Raw: []byte("pong")}})
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client := NewHsmClient(conn)
	resp, err := client.Request(context.Background(), &HsmRequestMsg{Raw: []byte{0, 11}})
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), resp.Raw)
}
