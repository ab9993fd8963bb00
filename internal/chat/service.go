package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/frame"
	"github.com/Jam-Ngai/chatserver/internal/presence"
	"github.com/Jam-Ngai/chatserver/internal/router"
	"github.com/Jam-Ngai/chatserver/internal/rpc"
	"github.com/Jam-Ngai/chatserver/internal/store"
)

type Profiles interface {
	Get(ctx context.Context, uid int) (*store.User, error)
	ByName(ctx context.Context, name string) (*store.User, error)
}

type Friends interface {
	AddFriendApply(ctx context.Context, from, to int) error
	AuthFriendApply(ctx context.Context, uid, applicant int) error
	AddFriend(ctx context.Context, self, friend int, back string) error
	ApplyList(ctx context.Context, uid int) ([]store.Apply, error)
	FriendList(ctx context.Context, uid int) ([]store.User, error)
}

type ServiceOptions struct {
	Self      string
	Users     *UserRegistry
	Directory *presence.Directory
	Router    *router.Router
	Profiles  Profiles
	Friends   Friends
	// Timeout bounds the store and directory calls of one handler.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Service holds the chat handlers and answers notifications from peers.
type Service struct {
	self     string
	users    *UserRegistry
	dir      *presence.Directory
	router   *router.Router
	profiles Profiles
	friends  Friends
	timeout  time.Duration
	logger   *slog.Logger

	dispatcher *Dispatcher
}

var _ rpc.ChatServiceServer = (*Service)(nil)

func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		self:     opts.Self,
		users:    opts.Users,
		dir:      opts.Directory,
		router:   opts.Router,
		profiles: opts.Profiles,
		friends:  opts.Friends,
		timeout:  timeout,
		logger:   logger.With("server", opts.Self),
	}
}

// Register installs the chat handlers on d. Session teardown is queued on
// d as well.
func (svc *Service) Register(d *Dispatcher) {
	svc.dispatcher = d
	d.RegisterHandler(rpc.MsgChatLogin, svc.handleLogin)
	d.RegisterHandler(rpc.MsgSearchUserReq, svc.handleSearch)
	d.RegisterHandler(rpc.MsgAddFriendReq, svc.handleAddFriend)
	d.RegisterHandler(rpc.MsgAuthFriendReq, svc.handleAuthFriend)
	d.RegisterHandler(rpc.MsgTextChatMsgReq, svc.handleTextChat)
}

// Start zeroes this server's login counter.
func (svc *Service) Start(ctx context.Context) error {
	return svc.dir.ResetLoginCount(ctx, svc.self)
}

// Shutdown removes this server from the login counters.
func (svc *Service) Shutdown(ctx context.Context) error {
	return svc.dir.RemoveServer(ctx, svc.self)
}

// Teardown undoes a session's login once it has closed. The work runs on
// the dispatcher after every frame the session posted, so it cannot
// interleave with a login of the same user on this server. Once the
// dispatcher stops accepting tasks it runs inline.
func (svc *Service) Teardown(s *Session) {
	if svc.dispatcher != nil && svc.dispatcher.Post(Task{Session: s, run: svc.teardown}) {
		return
	}
	svc.teardown(s)
}

// teardown must run on the dispatcher goroutine. A session that was
// replaced by a newer login of the same user leaves the directory alone.
func (svc *Service) teardown(s *Session) {
	uid, ok := s.UID()
	if !ok {
		return
	}
	if !svc.users.RemoveSessionIfCurrent(uid, s) {
		return
	}
	ctx, cancel := svc.context()
	defer cancel()

	if err := svc.dir.ClearHost(ctx, uid, svc.self); err != nil {
		svc.logger.Warn("clear host failed", "uid", uid, "error", err)
	}
	if _, err := svc.dir.DecrLogin(ctx, svc.self); err != nil {
		svc.logger.Warn("decrement login count failed", "uid", uid, "error", err)
	}
	svc.logger.Info("user logged out", "uid", uid, "session", s.ID(), "addr", s.Remote())
}

func (svc *Service) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), svc.timeout)
}

// shrinker is a reply that can drop optional content to fit in one frame.
type shrinker interface {
	shrink() bool
}

// reply always sends exactly one frame. A body too large for a frame is
// shrunk while it can be; past that the client gets a bare error.
func (svc *Service) reply(s *Session, msgID uint16, v any) {
	if err := s.Send(msgID, svc.encodeReply(msgID, v)); err != nil {
		svc.logger.Warn("reply not sent", "session", s.ID(), "msg_id", msgID, "error", err)
	}
}

func (svc *Service) encodeReply(msgID uint16, v any) []byte {
	trimmed := false
	for {
		data, err := json.Marshal(v)
		if err != nil {
			svc.logger.Error("encode reply failed", "msg_id", msgID, "error", err)
			break
		}
		if len(data) <= frame.MaxBodyLen {
			if trimmed {
				svc.logger.Warn("reply trimmed to fit frame", "msg_id", msgID, "bytes", len(data))
			}
			return data
		}
		sh, ok := v.(shrinker)
		if !ok || !sh.shrink() {
			svc.logger.Warn("reply exceeds frame, sending bare error", "msg_id", msgID, "bytes", len(data))
			break
		}
		trimmed = true
	}
	data, _ := json.Marshal(errorRsp{Error: rpc.ErrCodeRPCFailed})
	return data
}

// route delivers n best-effort. Failures are logged and never reach the
// sender's reply.
func (svc *Service) route(ctx context.Context, n rpc.Notification) {
	out, err := svc.router.Notify(ctx, n)
	if err != nil {
		svc.logger.Warn("notification not delivered", "uid", n.Recipient(), "method", n.Method(), "error", err)
		return
	}
	svc.logger.Debug("notification routed", "uid", n.Recipient(), "method", n.Method(), "outcome", out.String())
}

func (svc *Service) handleLogin(s *Session, _ uint16, payload []byte) {
	rsp := &loginRsp{Error: rpc.ErrCodeSuccess}
	defer svc.reply(s, rpc.MsgChatLoginRsp, rsp)

	var req loginReq
	if err := json.Unmarshal(payload, &req); err != nil {
		rsp.Error = rpc.ErrCodeJSON
		return
	}
	ctx, cancel := svc.context()
	defer cancel()

	uid, ok, err := svc.dir.TokenUser(ctx, req.Token)
	if err != nil {
		svc.logger.Warn("token lookup failed", "uid", req.UID, "error", err)
		rsp.Error = rpc.ErrCodeRPCFailed
		return
	}
	if !ok || uid != req.UID {
		rsp.Error = rpc.ErrCodeTokenInvalid
		return
	}

	user, err := svc.profiles.Get(ctx, uid)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			svc.logger.Warn("profile lookup failed", "uid", uid, "error", err)
		}
		rsp.Error = rpc.ErrCodeUIDInvalid
		return
	}
	if !s.BindUser(uid) {
		rsp.Error = rpc.ErrCodeUIDInvalid
		return
	}
	rsp.User = user

	if rsp.ApplyList, err = svc.friends.ApplyList(ctx, uid); err != nil {
		svc.logger.Warn("apply list failed", "uid", uid, "error", err)
	}
	if rsp.FriendList, err = svc.friends.FriendList(ctx, uid); err != nil {
		svc.logger.Warn("friend list failed", "uid", uid, "error", err)
	}
	if err := svc.dir.ConsumeToken(ctx, req.Token); err != nil {
		svc.logger.Warn("consume token failed", "uid", uid, "error", err)
	}

	// Directory writes are best effort and do not fail the login.
	prev := svc.users.SetUserSession(uid, s)
	if prev != s {
		if prev != nil {
			if _, err := svc.dir.DecrLogin(ctx, svc.self); err != nil {
				svc.logger.Warn("decrement login count failed", "uid", uid, "error", err)
			}
			svc.logger.Info("replacing older session", "uid", uid, "session", prev.ID())
			_ = prev.Close()
		}
		if _, err := svc.dir.IncrLogin(ctx, svc.self); err != nil {
			svc.logger.Warn("increment login count failed", "uid", uid, "error", err)
		}
	}
	if err := svc.dir.SetHost(ctx, uid, svc.self); err != nil {
		svc.logger.Warn("set host failed", "uid", uid, "error", err)
	}

	// A session closed before its login frame was posted queued its
	// teardown ahead of this handler, which then found nothing to undo.
	select {
	case <-s.Done():
		svc.teardown(s)
	default:
	}
	svc.logger.Info("user logged in", "uid", uid, "session", s.ID(), "local_users", svc.users.Len())
}

// loggedIn checks that the session is bound to claimed.
func (svc *Service) loggedIn(s *Session, claimed int) bool {
	uid, ok := s.UID()
	return ok && uid == claimed
}

func (svc *Service) handleSearch(s *Session, _ uint16, payload []byte) {
	rsp := &userRsp{Error: rpc.ErrCodeSuccess}
	defer svc.reply(s, rpc.MsgSearchUserRsp, rsp)

	var req searchReq
	if err := json.Unmarshal(payload, &req); err != nil || (req.UID == 0 && req.Name == "") {
		rsp.Error = rpc.ErrCodeJSON
		return
	}
	if _, ok := s.UID(); !ok {
		rsp.Error = rpc.ErrCodeUIDInvalid
		return
	}
	ctx, cancel := svc.context()
	defer cancel()

	var (
		user *store.User
		err  error
	)
	if req.UID != 0 {
		user, err = svc.profiles.Get(ctx, req.UID)
	} else {
		user, err = svc.profiles.ByName(ctx, req.Name)
	}
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			svc.logger.Warn("search failed", "error", err)
		}
		rsp.Error = rpc.ErrCodeUIDInvalid
		return
	}
	rsp.User = user
}

func (svc *Service) handleAddFriend(s *Session, _ uint16, payload []byte) {
	rsp := &errorRsp{Error: rpc.ErrCodeSuccess}
	defer svc.reply(s, rpc.MsgAddFriendRsp, rsp)

	var req addFriendReq
	if err := json.Unmarshal(payload, &req); err != nil {
		rsp.Error = rpc.ErrCodeJSON
		return
	}
	if !svc.loggedIn(s, req.UID) || req.ToUID <= 0 || req.ToUID == req.UID {
		rsp.Error = rpc.ErrCodeUIDInvalid
		return
	}
	ctx, cancel := svc.context()
	defer cancel()

	if err := svc.friends.AddFriendApply(ctx, req.UID, req.ToUID); err != nil {
		svc.logger.Warn("record friend apply failed", "uid", req.UID, "touid", req.ToUID, "error", err)
		rsp.Error = rpc.ErrCodeRPCFailed
		return
	}

	n := &rpc.AddFriendRequest{ApplyUID: req.UID, Name: req.ApplyName, ToUID: req.ToUID}
	if me, err := svc.profiles.Get(ctx, req.UID); err == nil {
		n.Icon, n.Nick, n.Sex = me.Icon, me.Nick, me.Sex
	}
	svc.route(ctx, n)
}

func (svc *Service) handleAuthFriend(s *Session, _ uint16, payload []byte) {
	rsp := &userRsp{Error: rpc.ErrCodeSuccess}
	defer svc.reply(s, rpc.MsgAuthFriendRsp, rsp)

	var req authFriendReq
	if err := json.Unmarshal(payload, &req); err != nil {
		rsp.Error = rpc.ErrCodeJSON
		return
	}
	if !svc.loggedIn(s, req.FromUID) || req.ToUID == req.FromUID {
		rsp.Error = rpc.ErrCodeUIDInvalid
		return
	}
	ctx, cancel := svc.context()
	defer cancel()

	peer, err := svc.profiles.Get(ctx, req.ToUID)
	if err != nil {
		rsp.Error = rpc.ErrCodeUIDInvalid
		return
	}
	rsp.User = peer

	if err := svc.friends.AuthFriendApply(ctx, req.FromUID, req.ToUID); err != nil {
		svc.logger.Warn("accept friend apply failed", "uid", req.FromUID, "error", err)
		rsp.Error = rpc.ErrCodeRPCFailed
		return
	}
	if err := svc.friends.AddFriend(ctx, req.FromUID, req.ToUID, req.Back); err != nil {
		svc.logger.Warn("add friend failed", "uid", req.FromUID, "error", err)
		rsp.Error = rpc.ErrCodeRPCFailed
		return
	}

	n := &rpc.AuthFriendRequest{FromUID: req.FromUID, ToUID: req.ToUID}
	if me, err := svc.profiles.Get(ctx, req.FromUID); err == nil {
		n.Name, n.Nick, n.Icon, n.Sex = me.Name, me.Nick, me.Icon, me.Sex
	}
	svc.route(ctx, n)
}

func (svc *Service) handleTextChat(s *Session, _ uint16, payload []byte) {
	req := &rpc.TextChatMsgRequest{}
	rsp := &textChatRsp{Error: rpc.ErrCodeSuccess, TextChatMsgRequest: req}
	defer svc.reply(s, rpc.MsgTextChatMsgRsp, rsp)

	if err := json.Unmarshal(payload, req); err != nil {
		rsp.Error = rpc.ErrCodeJSON
		return
	}
	if !svc.loggedIn(s, req.FromUID) {
		rsp.Error = rpc.ErrCodeUIDInvalid
		return
	}
	ctx, cancel := svc.context()
	defer cancel()
	svc.route(ctx, req)
}

func (svc *Service) deliver(n rpc.Notification, from int) *rpc.NotifyResponse {
	rsp := &rpc.NotifyResponse{Error: rpc.ErrCodeSuccess, FromUID: from, ToUID: n.Recipient()}
	if _, err := svc.router.DeliverLocal(n); err != nil {
		rsp.Error = rpc.ErrCodeRPCFailed
	}
	return rsp
}

func (svc *Service) NotifyAddFriend(_ context.Context, req *rpc.AddFriendRequest) (*rpc.NotifyResponse, error) {
	return svc.deliver(req, req.ApplyUID), nil
}

func (svc *Service) NotifyAuthFriend(_ context.Context, req *rpc.AuthFriendRequest) (*rpc.NotifyResponse, error) {
	return svc.deliver(req, req.FromUID), nil
}

func (svc *Service) NotifyTextChatMsg(_ context.Context, req *rpc.TextChatMsgRequest) (*rpc.NotifyResponse, error) {
	return svc.deliver(req, req.FromUID), nil
}
