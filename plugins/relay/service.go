package relay

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// forwardMethod is the fully-qualified RPC name used on both ends. There
// is no protoc-generated client/server stub here (see relay.proto); the
// service is registered and invoked directly against the grpc-go
// runtime, with google.protobuf well-known types standing in for the
// generated message types.
const forwardMethod = "/relay.Relay/Forward"

// RelayServer is implemented by whatever wants to receive forwarded
// buffers: Server in this package, or a test double.
type RelayServer interface {
	Forward(ctx context.Context, buf *structpb.Struct) (*wrapperspb.UInt32Value, error)
}

func forwardHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayServer).Forward(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: forwardMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RelayServer).Forward(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the equivalent of a protoc-generated _ServiceDesc.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "relay.Relay",
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Forward", Handler: forwardHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "plugins/relay/relay.proto",
}

// RegisterRelayServer attaches srv to s, the way a generated
// RegisterRelayServer function would.
func RegisterRelayServer(s *grpc.Server, srv RelayServer) {
	s.RegisterService(&serviceDesc, srv)
}

// forward invokes the Forward RPC against an established connection, the
// way a generated client stub's Forward method would.
func forward(ctx context.Context, cc *grpc.ClientConn, in *structpb.Struct) (*wrapperspb.UInt32Value, error) {
	out := new(wrapperspb.UInt32Value)
	if err := cc.Invoke(ctx, forwardMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
