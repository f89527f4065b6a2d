package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The chat API exchanges google.protobuf.Struct messages, so no generated
// code is needed on either side.
const (
	ServiceName = "coursechat.v1.ChatService"

	MethodGetHistory  = "/" + ServiceName + "/GetHistory"
	MethodGetPresence = "/" + ServiceName + "/GetPresence"
)

type ChatServiceServer interface {
	GetHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetPresence(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetHistory", Handler: getHistoryHandler},
		{MethodName: "GetPresence", Handler: getPresenceHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coursechat/v1/chat.proto",
}

func getHistoryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).GetHistory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetHistory}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).GetHistory(ctx, req.(*structpb.Struct))
	})
}

func getPresenceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).GetPresence(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetPresence}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).GetPresence(ctx, req.(*structpb.Struct))
	})
}

// ChatServiceClient is the client side of ChatServiceDesc.
type ChatServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewChatServiceClient(cc grpc.ClientConnInterface) *ChatServiceClient {
	return &ChatServiceClient{cc: cc}
}

func (c *ChatServiceClient) GetHistory(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetHistory, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatServiceClient) GetPresence(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetPresence, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
