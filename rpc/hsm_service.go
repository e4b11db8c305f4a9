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

// HsmRequestMsg is the wire message the daemon sends over the HSM
// unix-domain socket: a 2-byte-tag-prefixed body, matching spec §6's HSM
// request framing.
type HsmRequestMsg struct {
	Raw []byte `json:"raw"`
}

// HsmResponseMsg is the corresponding reply.
type HsmResponseMsg struct {
	Raw []byte `json:"raw"`
}

// PingRequestMsg/PingResponseMsg are a trivial liveness check.
type PingRequestMsg struct{}
type PingResponseMsg struct{}

// HsmServer is implemented by the plugin's UDS-facing HSM server.
type HsmServer interface {
	Request(context.Context, *HsmRequestMsg) (*HsmResponseMsg, error)
	Ping(context.Context, *PingRequestMsg) (*PingResponseMsg, error)
}

// HsmClient is implemented by a dialed connection to an HsmServer.
type HsmClient interface {
	Request(ctx context.Context, in *HsmRequestMsg, opts ...grpc.CallOption) (*HsmResponseMsg, error)
	Ping(ctx context.Context, in *PingRequestMsg, opts ...grpc.CallOption) (*PingResponseMsg, error)
}

type hsmClient struct {
	cc *grpc.ClientConn
}

// NewHsmClient wraps a dialed *grpc.ClientConn into an HsmClient.
func NewHsmClient(cc *grpc.ClientConn) HsmClient {
	return &hsmClient{cc: cc}
}

func (c *hsmClient) Request(ctx context.Context, in *HsmRequestMsg, opts ...grpc.CallOption) (*HsmResponseMsg, error) {
	out := new(HsmResponseMsg)
	if err := c.cc.Invoke(ctx, "/glrpc.Hsm/Request", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *hsmClient) Ping(ctx context.Context, in *PingRequestMsg, opts ...grpc.CallOption) (*PingResponseMsg, error) {
	out := new(PingResponseMsg)
	if err := c.cc.Invoke(ctx, "/glrpc.Hsm/Ping", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func hsmRequestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HsmRequestMsg)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HsmServer).Request(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/glrpc.Hsm/Request"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(HsmServer).Request(ctx, req.(*HsmRequestMsg))
	}
	return interceptor(ctx, in, info, handler)
}

func hsmPingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PingRequestMsg)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HsmServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/glrpc.Hsm/Ping"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(HsmServer).Ping(ctx, req.(*PingRequestMsg))
	}
	return interceptor(ctx, in, info, handler)
}

// HsmServiceDesc is the hand-authored equivalent of what
// protoc-gen-go-grpc would emit for a service with two unary methods.
var HsmServiceDesc = grpc.ServiceDesc{
	ServiceName: "glrpc.Hsm",
	HandlerType: (*HsmServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Request", Handler: hsmRequestHandler},
		{MethodName: "Ping", Handler: hsmPingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "glrpc/hsm.proto",
}

// RegisterHsmServer registers an HsmServer implementation on s.
func RegisterHsmServer(s grpc.ServiceRegistrar, srv HsmServer) {
	s.RegisterService(&HsmServiceDesc, srv)
}
