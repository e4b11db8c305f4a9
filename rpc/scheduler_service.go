package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ChallengeScope selects which flow a scheduler challenge is for.
type ChallengeScope string

const (
	ChallengeScopeRegister ChallengeScope = "register"
	ChallengeScopeRecover  ChallengeScope = "recover"
)

type GetChallengeRequestMsg struct {
	Scope ChallengeScope `json:"scope"`
}

type GetChallengeResponseMsg struct {
	Challenge []byte `json:"challenge"`
}

type RegistrationRequestMsg struct {
	NodeID        []byte `json:"node_id"`
	Bip32ExtKey   []byte `json:"bip32_ext_key"`
	Network       string `json:"network"`
	Challenge     []byte `json:"challenge"`
	SignerVersion string `json:"signer_version"`
	InitMsg       []byte `json:"init_msg"`
	Signature     []byte `json:"signature"`
	CSR           []byte `json:"csr"`
}

type CredentialsResponseMsg struct {
	DeviceCert []byte `json:"device_cert"`
	DeviceKey  []byte `json:"device_key,omitempty"`
	CA         []byte `json:"ca"`
	Rune       string `json:"rune"`
}

type RecoveryRequestMsg struct {
	NodeID        []byte `json:"node_id"`
	Network       string `json:"network"`
	Challenge     []byte `json:"challenge"`
	SignerVersion string `json:"signer_version"`
	Signature     []byte `json:"signature"`
	CSR           []byte `json:"csr"`
}

type ScheduleRequestMsg struct {
	NodeID []byte `json:"node_id"`
}

type ScheduleResponseMsg struct {
	GrpcURI string `json:"grpc_uri"`
}

type GetNodeInfoRequestMsg struct {
	NodeID []byte `json:"node_id"`
	Wait   bool   `json:"wait"`
}

type MaybeUpgradeRequestMsg struct {
	InitMsg         []byte   `json:"init_msg"`
	SignerVersion   string   `json:"signer_version"`
	StartupMessages [][]byte `json:"startup_messages"`
}

type MaybeUpgradeResponseMsg struct{}

// SchedulerServer is implemented by the scheduler (not built out in this
// core — the signer and scheduler client only need SchedulerClient — but
// the server interface is kept so a test double can stand in for the
// scheduler in integration tests).
type SchedulerServer interface {
	GetChallenge(context.Context, *GetChallengeRequestMsg) (*GetChallengeResponseMsg, error)
	Register(context.Context, *RegistrationRequestMsg) (*CredentialsResponseMsg, error)
	Recover(context.Context, *RecoveryRequestMsg) (*CredentialsResponseMsg, error)
	Schedule(context.Context, *ScheduleRequestMsg) (*ScheduleResponseMsg, error)
	GetNodeInfo(context.Context, *GetNodeInfoRequestMsg) (*ScheduleResponseMsg, error)
	MaybeUpgrade(context.Context, *MaybeUpgradeRequestMsg) (*MaybeUpgradeResponseMsg, error)
}

// SchedulerClient is implemented by a dialed connection to a scheduler.
type SchedulerClient interface {
	GetChallenge(ctx context.Context, in *GetChallengeRequestMsg, opts ...grpc.CallOption) (*GetChallengeResponseMsg, error)
	Register(ctx context.Context, in *RegistrationRequestMsg, opts ...grpc.CallOption) (*CredentialsResponseMsg, error)
	Recover(ctx context.Context, in *RecoveryRequestMsg, opts ...grpc.CallOption) (*CredentialsResponseMsg, error)
	Schedule(ctx context.Context, in *ScheduleRequestMsg, opts ...grpc.CallOption) (*ScheduleResponseMsg, error)
	GetNodeInfo(ctx context.Context, in *GetNodeInfoRequestMsg, opts ...grpc.CallOption) (*ScheduleResponseMsg, error)
	MaybeUpgrade(ctx context.Context, in *MaybeUpgradeRequestMsg, opts ...grpc.CallOption) (*MaybeUpgradeResponseMsg, error)
}

type schedulerClient struct {
	cc *grpc.ClientConn
}

// NewSchedulerClient wraps a dialed *grpc.ClientConn into a SchedulerClient.
func NewSchedulerClient(cc *grpc.ClientConn) SchedulerClient {
	return &schedulerClient{cc: cc}
}

func (c *schedulerClient) GetChallenge(ctx context.Context, in *GetChallengeRequestMsg, opts ...grpc.CallOption) (*GetChallengeResponseMsg, error) {
	out := new(GetChallengeResponseMsg)
	if err := c.cc.Invoke(ctx, "/glrpc.Scheduler/GetChallenge", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) Register(ctx context.Context, in *RegistrationRequestMsg, opts ...grpc.CallOption) (*CredentialsResponseMsg, error) {
	out := new(CredentialsResponseMsg)
	if err := c.cc.Invoke(ctx, "/glrpc.Scheduler/Register", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) Recover(ctx context.Context, in *RecoveryRequestMsg, opts ...grpc.CallOption) (*CredentialsResponseMsg, error) {
	out := new(CredentialsResponseMsg)
	if err := c.cc.Invoke(ctx, "/glrpc.Scheduler/Recover", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) Schedule(ctx context.Context, in *ScheduleRequestMsg, opts ...grpc.CallOption) (*ScheduleResponseMsg, error) {
	out := new(ScheduleResponseMsg)
	if err := c.cc.Invoke(ctx, "/glrpc.Scheduler/Schedule", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) GetNodeInfo(ctx context.Context, in *GetNodeInfoRequestMsg, opts ...grpc.CallOption) (*ScheduleResponseMsg, error) {
	out := new(ScheduleResponseMsg)
	if err := c.cc.Invoke(ctx, "/glrpc.Scheduler/GetNodeInfo", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) MaybeUpgrade(ctx context.Context, in *MaybeUpgradeRequestMsg, opts ...grpc.CallOption) (*MaybeUpgradeResponseMsg, error) {
	out := new(MaybeUpgradeResponseMsg)
	if err := c.cc.Invoke(ctx, "/glrpc.Scheduler/MaybeUpgrade", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func schedulerHandler(method string, dispatch func(SchedulerServer, context.Context, interface{}) (interface{}, error), newReq func() interface{}) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return dispatch(srv.(SchedulerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/glrpc.Scheduler/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return dispatch(srv.(SchedulerServer), ctx, req)
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SchedulerServiceDesc is the hand-authored equivalent of what
// protoc-gen-go-grpc would emit for the scheduler's six unary methods.
var SchedulerServiceDesc = grpc.ServiceDesc{
	ServiceName: "glrpc.Scheduler",
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetChallenge", Handler: schedulerHandler("GetChallenge", func(s SchedulerServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.GetChallenge(ctx, req.(*GetChallengeRequestMsg))
		}, func() interface{} { return new(GetChallengeRequestMsg) })},
		{MethodName: "Register", Handler: schedulerHandler("Register", func(s SchedulerServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.Register(ctx, req.(*RegistrationRequestMsg))
		}, func() interface{} { return new(RegistrationRequestMsg) })},
		{MethodName: "Recover", Handler: schedulerHandler("Recover", func(s SchedulerServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.Recover(ctx, req.(*RecoveryRequestMsg))
		}, func() interface{} { return new(RecoveryRequestMsg) })},
		{MethodName: "Schedule", Handler: schedulerHandler("Schedule", func(s SchedulerServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.Schedule(ctx, req.(*ScheduleRequestMsg))
		}, func() interface{} { return new(ScheduleRequestMsg) })},
		{MethodName: "GetNodeInfo", Handler: schedulerHandler("GetNodeInfo", func(s SchedulerServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.GetNodeInfo(ctx, req.(*GetNodeInfoRequestMsg))
		}, func() interface{} { return new(GetNodeInfoRequestMsg) })},
		{MethodName: "MaybeUpgrade", Handler: schedulerHandler("MaybeUpgrade", func(s SchedulerServer, ctx context.Context, req interface{}) (interface{}, error) {
			return s.MaybeUpgrade(ctx, req.(*MaybeUpgradeRequestMsg))
		}, func() interface{} { return new(MaybeUpgradeRequestMsg) })},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "glrpc/scheduler.proto",
}

// RegisterSchedulerServer registers a SchedulerServer implementation on s.
func RegisterSchedulerServer(s grpc.ServiceRegistrar, srv SchedulerServer) {
	s.RegisterService(&SchedulerServiceDesc, srv)
}
