package router

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/Jam-Ngai/chatserver/internal/presence"
	"github.com/Jam-Ngai/chatserver/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type sentFrame struct {
	msgID   uint16
	payload []byte
}

type fakeSender struct {
	mu     sync.Mutex
	frames []sentFrame
	err    error
}

func (s *fakeSender) Send(msgID uint16, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, sentFrame{msgID: msgID, payload: payload})
	return nil
}

func (s *fakeSender) sent() []sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentFrame(nil), s.frames...)
}

type fakeLocator map[int]*fakeSender

func (l fakeLocator) Lookup(uid int) (Sender, bool) {
	s, ok := l[uid]
	if !ok {
		return nil, false
	}
	return s, true
}

type fakePeers struct {
	resp  *rpc.NotifyResponse
	err   error
	calls int
}

func (p *fakePeers) Notify(_ context.Context, _ string, _ rpc.Notification) (*rpc.NotifyResponse, error) {
	p.calls++
	return p.resp, p.err
}

func render(n rpc.Notification) (uint16, []byte, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return 0, nil, err
	}
	switch n.Method() {
	case rpc.MethodNotifyAddFriend:
		return rpc.MsgNotifyAddFriendReq, payload, nil
	case rpc.MethodNotifyAuthFriend:
		return rpc.MsgNotifyAuthFriendReq, payload, nil
	default:
		return rpc.MsgNotifyTextChatReq, payload, nil
	}
}

func textMsg(from, to int) *rpc.TextChatMsgRequest {
	return &rpc.TextChatMsgRequest{
		FromUID:  from,
		ToUID:    to,
		TextMsgs: []rpc.TextChatData{{MsgID: "m1", Content: "hi"}},
	}
}

func TestNotifyOfflineWhenNotInDirectory(t *testing.T) {
	dir := presence.NewDirectory(presence.NewMemoryStore())
	peers := &fakePeers{}
	r := New("A", dir, fakeLocator{}, peers, render, nil)

	out, err := r.Notify(context.Background(), textMsg(9, 7))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffline, out)
	assert.Zero(t, peers.calls)
}

func TestNotifyLocalBypassesPeers(t *testing.T) {
	ctx := context.Background()
	dir := presence.NewDirectory(presence.NewMemoryStore())
	require.NoError(t, dir.SetHost(ctx, 7, "A"))

	s := &fakeSender{}
	peers := &fakePeers{}
	r := New("A", dir, fakeLocator{7: s}, peers, render, nil)

	out, err := r.Notify(ctx, textMsg(9, 7))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocal, out)
	assert.Zero(t, peers.calls)

	frames := s.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, rpc.MsgNotifyTextChatReq, frames[0].msgID)
}

func TestNotifyLocalMissingSessionIsOffline(t *testing.T) {
	ctx := context.Background()
	dir := presence.NewDirectory(presence.NewMemoryStore())
	require.NoError(t, dir.SetHost(ctx, 7, "A"))

	r := New("A", dir, fakeLocator{}, &fakePeers{}, render, nil)
	out, err := r.Notify(ctx, textMsg(9, 7))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffline, out)
}

func TestNotifyRemoteFailures(t *testing.T) {
	ctx := context.Background()
	dir := presence.NewDirectory(presence.NewMemoryStore())
	require.NoError(t, dir.SetHost(ctx, 7, "B"))

	t.Run("transport error", func(t *testing.T) {
		boom := errors.New("connection refused")
		peers := &fakePeers{err: boom}
		r := New("A", dir, fakeLocator{}, peers, render, nil)

		out, err := r.Notify(ctx, textMsg(9, 7))
		assert.Equal(t, OutcomeRemote, out)

		var rce *RemoteCallError
		require.ErrorAs(t, err, &rce)
		assert.Equal(t, "B", rce.Server)
		assert.Equal(t, rpc.MethodNotifyTextChatMsg, rce.Method)
		assert.Equal(t, rpc.ErrCodeRPCFailed, rce.Code)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, peers.calls, "remote calls are never retried")
	})

	t.Run("non-success reply", func(t *testing.T) {
		peers := &fakePeers{resp: &rpc.NotifyResponse{Error: rpc.ErrCodeUIDInvalid}}
		r := New("A", dir, fakeLocator{}, peers, render, nil)

		_, err := r.Notify(ctx, textMsg(9, 7))
		var rce *RemoteCallError
		require.ErrorAs(t, err, &rce)
		assert.Equal(t, rpc.ErrCodeUIDInvalid, rce.Code)
	})

	t.Run("no peer transport", func(t *testing.T) {
		r := New("A", dir, fakeLocator{}, nil, render, nil)
		_, err := r.Notify(ctx, textMsg(9, 7))
		assert.ErrorIs(t, err, ErrUnknownPeer)
	})
}

// peerServer answers peer calls by delivering to its own router's sessions.
type peerServer struct {
	r *Router
}

func (p *peerServer) deliver(n rpc.Notification) (*rpc.NotifyResponse, error) {
	if _, err := p.r.DeliverLocal(n); err != nil {
		return &rpc.NotifyResponse{Error: rpc.ErrCodeRPCFailed, ToUID: n.Recipient()}, nil
	}
	return &rpc.NotifyResponse{ToUID: n.Recipient()}, nil
}

func (p *peerServer) NotifyAddFriend(_ context.Context, req *rpc.AddFriendRequest) (*rpc.NotifyResponse, error) {
	return p.deliver(req)
}

func (p *peerServer) NotifyAuthFriend(_ context.Context, req *rpc.AuthFriendRequest) (*rpc.NotifyResponse, error) {
	return p.deliver(req)
}

func (p *peerServer) NotifyTextChatMsg(_ context.Context, req *rpc.TextChatMsgRequest) (*rpc.NotifyResponse, error) {
	return p.deliver(req)
}

func TestCrossServerDelivery(t *testing.T) {
	ctx := context.Background()
	dir := presence.NewDirectory(presence.NewMemoryStore())

	// Server A hosts user 7.
	sessionA := &fakeSender{}
	routerA := New("A", dir, fakeLocator{7: sessionA}, nil, render, nil)
	require.NoError(t, dir.SetHost(ctx, 7, "A"))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	rpc.RegisterChatService(srv, &peerServer{r: routerA})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	// Server B hosts user 9 and reaches A over the pooled gRPC peer set.
	peers, err := NewGRPCPeers(ctx, []Peer{{Name: "A"}}, GRPCOptions{
		PoolSize: 2,
		Target:   func(p Peer) string { return "passthrough:///" + p.Name },
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(peers.Close)

	sessionB := &fakeSender{}
	routerB := New("B", dir, fakeLocator{9: sessionB}, peers, render, nil)
	require.NoError(t, dir.SetHost(ctx, 9, "B"))

	out, err := routerB.Notify(ctx, textMsg(9, 7))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemote, out)

	frames := sessionA.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, rpc.MsgNotifyTextChatReq, frames[0].msgID)

	var got rpc.TextChatMsgRequest
	require.NoError(t, json.Unmarshal(frames[0].payload, &got))
	assert.Equal(t, 9, got.FromUID)
	assert.Equal(t, 7, got.ToUID)
	assert.Empty(t, sessionB.sent())
}

func TestGRPCPeersUnknownServer(t *testing.T) {
	peers, err := NewGRPCPeers(context.Background(), nil, GRPCOptions{}, nil)
	require.NoError(t, err)
	defer peers.Close()

	_, err = peers.Notify(context.Background(), "Z", textMsg(1, 2))
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "chat.peer.A.NotifyTextChatMsg", Subject("A", rpc.MethodNotifyTextChatMsg))
}
