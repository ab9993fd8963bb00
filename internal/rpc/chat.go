package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
)

// Notification is a cross-server push addressed to one user.
type Notification interface {
	Recipient() int
	Method() string
}

type AddFriendRequest struct {
	ApplyUID int    `json:"applyuid"`
	Name     string `json:"name"`
	Desc     string `json:"desc"`
	Icon     string `json:"icon"`
	Nick     string `json:"nick"`
	Sex      int    `json:"sex"`
	ToUID    int    `json:"touid"`
}

// AuthFriendRequest carries the accepting user's profile so the receiving
// server can render the notification without a lookup.
type AuthFriendRequest struct {
	FromUID int    `json:"fromuid"`
	ToUID   int    `json:"touid"`
	Name    string `json:"name,omitempty"`
	Nick    string `json:"nick,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Sex     int    `json:"sex,omitempty"`
}

type TextChatData struct {
	MsgID   string `json:"msgid"`
	Content string `json:"content"`
}

type TextChatMsgRequest struct {
	FromUID  int            `json:"fromuid"`
	ToUID    int            `json:"touid"`
	TextMsgs []TextChatData `json:"text_array"`
}

// NotifyResponse is the reply to every ChatService method.
type NotifyResponse struct {
	Error   int `json:"error"`
	FromUID int `json:"fromuid"`
	ToUID   int `json:"touid"`
}

const (
	MethodNotifyAddFriend   = "NotifyAddFriend"
	MethodNotifyAuthFriend  = "NotifyAuthFriend"
	MethodNotifyTextChatMsg = "NotifyTextChatMsg"

	chatServiceName = "chat.ChatService"
)

func (r *AddFriendRequest) Recipient() int   { return r.ToUID }
func (r *AddFriendRequest) Method() string   { return MethodNotifyAddFriend }
func (r *AuthFriendRequest) Recipient() int  { return r.ToUID }
func (r *AuthFriendRequest) Method() string  { return MethodNotifyAuthFriend }
func (r *TextChatMsgRequest) Recipient() int { return r.ToUID }
func (r *TextChatMsgRequest) Method() string { return MethodNotifyTextChatMsg }

// ChatServiceServer is implemented by every chat server for pushes arriving
// from its peers.
type ChatServiceServer interface {
	NotifyAddFriend(ctx context.Context, req *AddFriendRequest) (*NotifyResponse, error)
	NotifyAuthFriend(ctx context.Context, req *AuthFriendRequest) (*NotifyResponse, error)
	NotifyTextChatMsg(ctx context.Context, req *TextChatMsgRequest) (*NotifyResponse, error)
}

// DecodeNotification builds the request type for method from its JSON body.
func DecodeNotification(method string, data []byte) (Notification, error) {
	var n Notification
	switch method {
	case MethodNotifyAddFriend:
		n = &AddFriendRequest{}
	case MethodNotifyAuthFriend:
		n = &AuthFriendRequest{}
	case MethodNotifyTextChatMsg:
		n = &TextChatMsgRequest{}
	default:
		return nil, fmt.Errorf("rpc: unknown method %q", method)
	}
	if err := json.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("rpc: decode %s: %w", method, err)
	}
	return n, nil
}

// Serve invokes the srv method matching n.
func Serve(ctx context.Context, srv ChatServiceServer, n Notification) (*NotifyResponse, error) {
	switch req := n.(type) {
	case *AddFriendRequest:
		return srv.NotifyAddFriend(ctx, req)
	case *AuthFriendRequest:
		return srv.NotifyAuthFriend(ctx, req)
	case *TextChatMsgRequest:
		return srv.NotifyTextChatMsg(ctx, req)
	default:
		return nil, fmt.Errorf("rpc: unsupported notification %T", n)
	}
}

func RegisterChatService(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&chatServiceDesc, srv)
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: chatServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodNotifyAddFriend, Handler: chatHandler(func() Notification { return &AddFriendRequest{} })},
		{MethodName: MethodNotifyAuthFriend, Handler: chatHandler(func() Notification { return &AuthFriendRequest{} })},
		{MethodName: MethodNotifyTextChatMsg, Handler: chatHandler(func() Notification { return &TextChatMsgRequest{} })},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chat.proto",
}

func chatHandler(newReq func() Notification) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return Serve(ctx, srv.(ChatServiceServer), in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + chatServiceName + "/" + in.Method(),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return Serve(ctx, srv.(ChatServiceServer), req.(Notification))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ChatClient is the stub a chat server uses to reach one peer.
type ChatClient struct {
	cc grpc.ClientConnInterface
}

func NewChatClient(cc grpc.ClientConnInterface) *ChatClient {
	return &ChatClient{cc: cc}
}

// Notify issues the method matching n once.
func (c *ChatClient) Notify(ctx context.Context, n Notification, opts ...grpc.CallOption) (*NotifyResponse, error) {
	out := new(NotifyResponse)
	if err := c.cc.Invoke(ctx, "/"+chatServiceName+"/"+n.Method(), n, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
