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

package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// RequestContextMsg carries the (dbid, node_id) pair a daemon HSM request
// may be scoped to, per spec §3's HSM request "context" field.
type RequestContextMsg struct {
	DBID   uint64 `json:"dbid"`
	NodeID []byte `json:"node_id"`
}

// StateEntryMsg is a single versioned state entry, carried in the signer
// state snapshot attached to every outgoing HSM request.
type StateEntryMsg struct {
	Value   []byte `json:"value"`
	Version uint64 `json:"version"`
}

// PendingRequestMsg mirrors pendingctx.Request on the wire.
type PendingRequestMsg struct {
	URI       string  `json:"uri"`
	Payload   []byte  `json:"payload"`
	PubKey    []byte  `json:"pubkey"`
	Signature []byte  `json:"signature"`
	Timestamp *uint64 `json:"timestamp,omitempty"`
}

// StreamHsmRequestMsg is sent plugin → signer: one staged HSM request
// together with the signer-state snapshot and pending-request context
// needed to classify and sign it.
type StreamHsmRequestMsg struct {
	RequestID   uint32                   `json:"request_id"`
	Raw         []byte                   `json:"raw"`
	Context     *RequestContextMsg       `json:"context,omitempty"`
	SignerState map[string]StateEntryMsg `json:"signer_state"`
	Requests    []PendingRequestMsg      `json:"requests"`
}

// StreamHsmResponseMsg is sent signer → plugin: the resolved response
// for a previously-received StreamHsmRequestMsg, carrying the signer's
// full state-mirror snapshot at the time the response was assembled, per
// spec §3's HsmResponse shape. RequestID 0 is reserved for the synthetic
// heartbeat response the signer injects as the first outbound item on a
// fresh attach (spec §4.1 step 2), whose Raw is empty and whose only
// purpose is to ship SignerState early.
type StreamHsmResponseMsg struct {
	RequestID   uint32                   `json:"request_id"`
	Raw         []byte                   `json:"raw"`
	Error       string                   `json:"error,omitempty"`
	SignerState map[string]StateEntryMsg `json:"signer_state"`
}

// NodeServer is implemented by the plugin side of the signer-attach
// stream.
type NodeServer interface {
	StreamHsmRequests(NodeStreamHsmRequestsServer) error
}

// NodeStreamHsmRequestsServer is the server-side handle for one attached
// signer's bidirectional stream.
type NodeStreamHsmRequestsServer interface {
	Send(*StreamHsmRequestMsg) error
	Recv() (*StreamHsmResponseMsg, error)
	grpc.ServerStream
}

type nodeStreamHsmRequestsServer struct {
	grpc.ServerStream
}

func (s *nodeStreamHsmRequestsServer) Send(m *StreamHsmRequestMsg) error {
	return s.ServerStream.SendMsg(m)
}

func (s *nodeStreamHsmRequestsServer) Recv() (*StreamHsmResponseMsg, error) {
	m := new(StreamHsmResponseMsg)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func nodeStreamHsmRequestsHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(NodeServer).StreamHsmRequests(&nodeStreamHsmRequestsServer{ServerStream: stream})
}

// NodeClient is implemented by a dialed connection to a NodeServer; it is
// the signer's view of the stream.
type NodeClient interface {
	StreamHsmRequests(ctx context.Context, opts ...grpc.CallOption) (NodeStreamHsmRequestsClient, error)
}

// NodeStreamHsmRequestsClient is the signer-side handle for the attach
// stream.
type NodeStreamHsmRequestsClient interface {
	Send(*StreamHsmResponseMsg) error
	Recv() (*StreamHsmRequestMsg, error)
	grpc.ClientStream
}

type nodeStreamHsmRequestsClient struct {
	grpc.ClientStream
}

func (c *nodeStreamHsmRequestsClient) Send(m *StreamHsmResponseMsg) error {
	return c.ClientStream.SendMsg(m)
}

func (c *nodeStreamHsmRequestsClient) Recv() (*StreamHsmRequestMsg, error) {
	m := new(StreamHsmRequestMsg)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type nodeClient struct {
	cc *grpc.ClientConn
}

// NewNodeClient wraps a dialed *grpc.ClientConn into a NodeClient.
func NewNodeClient(cc *grpc.ClientConn) NodeClient {
	return &nodeClient{cc: cc}
}

func (c *nodeClient) StreamHsmRequests(ctx context.Context, opts ...grpc.CallOption) (NodeStreamHsmRequestsClient, error) {
	stream, err := c.cc.NewStream(ctx, &NodeServiceDesc.Streams[0], "/glrpc.Node/StreamHsmRequests", opts...)
	if err != nil {
		return nil, err
	}
	return &nodeStreamHsmRequestsClient{ClientStream: stream}, nil
}

// NodeServiceDesc is the hand-authored equivalent of what
// protoc-gen-go-grpc emits for a service with one bidirectional-
// streaming method.
var NodeServiceDesc = grpc.ServiceDesc{
	ServiceName: "glrpc.Node",
	HandlerType: (*NodeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamHsmRequests",
			Handler:       nodeStreamHsmRequestsHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "glrpc/node.proto",
}

// RegisterNodeServer registers a NodeServer implementation on s.
func RegisterNodeServer(s grpc.ServiceRegistrar, srv NodeServer) {
	s.RegisterService(&NodeServiceDesc, srv)
}
