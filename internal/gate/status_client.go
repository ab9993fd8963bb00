package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/pool"
	"github.com/Jam-Ngai/chatserver/internal/rpc"
	"google.golang.org/grpc"
)

type StatusOptions struct {
	Addr          string
	PoolSize      int
	CheckInterval time.Duration
	StaleAfter    time.Duration
	ProbeTimeout  time.Duration
	DialOptions   []grpc.DialOption
}

// StatusClient calls StatusService over a pool of client connections.
type StatusClient struct {
	conns *pool.Pool[*grpc.ClientConn]
}

func NewStatusClient(ctx context.Context, opts StatusOptions, logger *slog.Logger) (*StatusClient, error) {
	conns, err := pool.New(ctx, pool.Options[*grpc.ClientConn]{
		Name: "status",
		Size: opts.PoolSize,
		New: func(context.Context) (*grpc.ClientConn, error) {
			return grpc.NewClient(opts.Addr, rpc.DialOptions(opts.DialOptions...)...)
		},
		Ping:          rpc.Probe,
		Close:         func(cc *grpc.ClientConn) error { return cc.Close() },
		CheckInterval: opts.CheckInterval,
		StaleAfter:    opts.StaleAfter,
		ProbeTimeout:  opts.ProbeTimeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return &StatusClient{conns: conns}, nil
}

func (c *StatusClient) GetChatServer(ctx context.Context, req *rpc.GetChatServerRequest) (*rpc.GetChatServerResponse, error) {
	var rsp *rpc.GetChatServerResponse
	err := c.conns.Do(ctx, func(cc *grpc.ClientConn) error {
		var err error
		rsp, err = rpc.NewStatusClient(cc).GetChatServer(ctx, req)
		return err
	})
	return rsp, err
}

func (c *StatusClient) Close() {
	c.conns.Close()
}
