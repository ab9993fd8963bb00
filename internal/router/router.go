// Package router delivers per-user notifications to wherever the recipient
// is connected: straight to a local session, or through one remote call to
// the chat server named in the presence directory.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Jam-Ngai/chatserver/internal/presence"
	"github.com/Jam-Ngai/chatserver/internal/rpc"
)

var ErrUnknownPeer = errors.New("router: unknown peer")

// Sender is the part of a client session the router writes to.
type Sender interface {
	Send(msgID uint16, payload []byte) error
}

// Locator resolves a user id to the live session hosted by this process.
type Locator interface {
	Lookup(uid int) (Sender, bool)
}

// Peers issues a single notification call to a named chat server.
type Peers interface {
	Notify(ctx context.Context, server string, n rpc.Notification) (*rpc.NotifyResponse, error)
}

// Renderer turns a notification into the client frame that carries it.
type Renderer func(n rpc.Notification) (msgID uint16, payload []byte, err error)

type Outcome int

const (
	OutcomeOffline Outcome = iota
	OutcomeLocal
	OutcomeRemote
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLocal:
		return "local"
	case OutcomeRemote:
		return "remote"
	default:
		return "offline"
	}
}

// RemoteCallError reports a failed or non-successful call to a peer.
type RemoteCallError struct {
	Server string
	Method string
	Code   int
	Err    error
}

func (e *RemoteCallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("router: %s on %s failed (code %d): %v", e.Method, e.Server, e.Code, e.Err)
	}
	return fmt.Sprintf("router: %s on %s failed (code %d)", e.Method, e.Server, e.Code)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

type Router struct {
	self   string
	dir    *presence.Directory
	local  Locator
	peers  Peers
	render Renderer
	logger *slog.Logger
}

func New(self string, dir *presence.Directory, local Locator, peers Peers, render Renderer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		self:   self,
		dir:    dir,
		local:  local,
		peers:  peers,
		render: render,
		logger: logger.With("server", self),
	}
}

// Notify delivers n at most once. A recipient missing from the directory,
// or missing locally although the directory names this server, is offline
// and not an error. Remote failures are returned and never retried.
func (r *Router) Notify(ctx context.Context, n rpc.Notification) (Outcome, error) {
	uid := n.Recipient()
	server, ok, err := r.dir.Host(ctx, uid)
	if err != nil {
		routedTotal.WithLabelValues("error").Inc()
		return OutcomeOffline, fmt.Errorf("router: lookup uid %d: %w", uid, err)
	}
	if !ok {
		routedTotal.WithLabelValues(OutcomeOffline.String()).Inc()
		return OutcomeOffline, nil
	}

	if server == r.self {
		delivered, err := r.DeliverLocal(n)
		if err != nil {
			routedTotal.WithLabelValues("error").Inc()
			return OutcomeLocal, err
		}
		if !delivered {
			routedTotal.WithLabelValues(OutcomeOffline.String()).Inc()
			return OutcomeOffline, nil
		}
		routedTotal.WithLabelValues(OutcomeLocal.String()).Inc()
		return OutcomeLocal, nil
	}

	if r.peers == nil {
		routedTotal.WithLabelValues("error").Inc()
		return OutcomeRemote, &RemoteCallError{Server: server, Method: n.Method(), Code: rpc.ErrCodeRPCFailed, Err: ErrUnknownPeer}
	}
	resp, err := r.peers.Notify(ctx, server, n)
	if err != nil {
		routedTotal.WithLabelValues("error").Inc()
		return OutcomeRemote, &RemoteCallError{Server: server, Method: n.Method(), Code: rpc.ErrCodeRPCFailed, Err: err}
	}
	if resp.Error != rpc.ErrCodeSuccess {
		routedTotal.WithLabelValues("error").Inc()
		return OutcomeRemote, &RemoteCallError{Server: server, Method: n.Method(), Code: resp.Error}
	}
	routedTotal.WithLabelValues(OutcomeRemote.String()).Inc()
	return OutcomeRemote, nil
}

// DeliverLocal sends n to the recipient's session on this process, if any.
// It is also the receiving end of a peer's remote call.
func (r *Router) DeliverLocal(n rpc.Notification) (bool, error) {
	sender, ok := r.local.Lookup(n.Recipient())
	if !ok {
		return false, nil
	}
	msgID, payload, err := r.render(n)
	if err != nil {
		return false, fmt.Errorf("router: render %s: %w", n.Method(), err)
	}
	if err := sender.Send(msgID, payload); err != nil {
		r.logger.Warn("local delivery dropped", "uid", n.Recipient(), "msg_id", msgID, "error", err)
		return false, err
	}
	return true, nil
}
