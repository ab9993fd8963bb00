package rpc

import (
	"context"

	"google.golang.org/grpc"
)

type GetChatServerRequest struct {
	UID int `json:"uid"`
}

type GetChatServerResponse struct {
	Error int    `json:"error"`
	Host  string `json:"host"`
	Port  string `json:"port"`
	Token string `json:"token"`
}

const (
	statusServiceName   = "status.StatusService"
	methodGetChatServer = "GetChatServer"
)

type StatusServiceServer interface {
	GetChatServer(ctx context.Context, req *GetChatServerRequest) (*GetChatServerResponse, error)
}

func RegisterStatusService(s grpc.ServiceRegistrar, srv StatusServiceServer) {
	s.RegisterService(&statusServiceDesc, srv)
}

var statusServiceDesc = grpc.ServiceDesc{
	ServiceName: statusServiceName,
	HandlerType: (*StatusServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetChatServer, Handler: getChatServerHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "status.proto",
}

func getChatServerHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetChatServerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServiceServer).GetChatServer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + statusServiceName + "/" + methodGetChatServer,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StatusServiceServer).GetChatServer(ctx, req.(*GetChatServerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type StatusClient struct {
	cc grpc.ClientConnInterface
}

func NewStatusClient(cc grpc.ClientConnInterface) *StatusClient {
	return &StatusClient{cc: cc}
}

func (c *StatusClient) GetChatServer(ctx context.Context, req *GetChatServerRequest, opts ...grpc.CallOption) (*GetChatServerResponse, error) {
	out := new(GetChatServerResponse)
	if err := c.cc.Invoke(ctx, "/"+statusServiceName+"/"+methodGetChatServer, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
