package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/rpc"
	"github.com/nats-io/nats.go"
)

const subjectPrefix = "chat.peer."

// Subject is where server listens for method. Server names must not
// contain '.', '*' or '>'.
func Subject(server, method string) string {
	return subjectPrefix + server + "." + method
}

// Connect dials NATS with the reconnect policy every chat process uses.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

// NATSPeers sends notifications as request/reply messages instead of gRPC
// calls. The reply body is an rpc.NotifyResponse in JSON.
type NATSPeers struct {
	nc      *nats.Conn
	timeout time.Duration
}

func NewNATSPeers(nc *nats.Conn, timeout time.Duration) *NATSPeers {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &NATSPeers{nc: nc, timeout: timeout}
}

func (p *NATSPeers) Notify(ctx context.Context, server string, n rpc.Notification) (*rpc.NotifyResponse, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.nc.RequestWithContext(ctx, Subject(server, n.Method()), data)
	if errors.Is(err, nats.ErrNoResponders) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, server)
	}
	if err != nil {
		return nil, err
	}
	resp := new(rpc.NotifyResponse)
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return nil, fmt.Errorf("decode reply from %s: %w", server, err)
	}
	return resp, nil
}

// ServeNATS answers peer notifications addressed to self with srv.
func ServeNATS(nc *nats.Conn, self string, srv rpc.ChatServiceServer, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return nc.Subscribe(Subject(self, "*"), func(m *nats.Msg) {
		method := m.Subject[strings.LastIndexByte(m.Subject, '.')+1:]
		resp := &rpc.NotifyResponse{Error: rpc.ErrCodeJSON}

		n, err := rpc.DecodeNotification(method, m.Data)
		if err != nil {
			logger.Warn("bad peer notification", "subject", m.Subject, "error", err)
		} else {
			resp.ToUID = n.Recipient()
			r, err := rpc.Serve(context.Background(), srv, n)
			if err != nil {
				logger.Warn("peer notification failed", "subject", m.Subject, "error", err)
				resp.Error = rpc.ErrCodeRPCFailed
			} else {
				resp = r
			}
		}

		data, _ := json.Marshal(resp)
		if err := m.Respond(data); err != nil {
			logger.Debug("respond failed", "subject", m.Subject, "error", err)
		}
	})
}
