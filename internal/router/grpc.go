package router

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/pool"
	"github.com/Jam-Ngai/chatserver/internal/rpc"
	"google.golang.org/grpc"
)

// Peer is the static identity of another chat server's RPC endpoint.
type Peer struct {
	Name    string
	Host    string
	RPCPort int
}

func (p Peer) Addr() string { return net.JoinHostPort(p.Host, strconv.Itoa(p.RPCPort)) }

type GRPCOptions struct {
	PoolSize      int
	CheckInterval time.Duration
	StaleAfter    time.Duration
	ProbeTimeout  time.Duration
	// DialOptions are appended to rpc.DialOptions for every connection.
	DialOptions []grpc.DialOption
	// Target maps a peer to its dial target. Defaults to Peer.Addr.
	Target func(Peer) string
}

// GRPCPeers keeps one pool of client connections per configured peer.
type GRPCPeers struct {
	pools  map[string]*pool.Pool[*grpc.ClientConn]
	logger *slog.Logger
}

func NewGRPCPeers(ctx context.Context, peers []Peer, opts GRPCOptions, logger *slog.Logger) (*GRPCPeers, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &GRPCPeers{
		pools:  make(map[string]*pool.Pool[*grpc.ClientConn], len(peers)),
		logger: logger,
	}
	target := opts.Target
	if target == nil {
		target = Peer.Addr
	}
	for _, peer := range peers {
		addr := target(peer)
		p, err := pool.New(ctx, pool.Options[*grpc.ClientConn]{
			Name: "peer-" + peer.Name,
			Size: opts.PoolSize,
			New: func(context.Context) (*grpc.ClientConn, error) {
				return grpc.NewClient(addr, rpc.DialOptions(opts.DialOptions...)...)
			},
			Ping:          rpc.Probe,
			Close:         func(cc *grpc.ClientConn) error { return cc.Close() },
			CheckInterval: opts.CheckInterval,
			StaleAfter:    opts.StaleAfter,
			ProbeTimeout:  opts.ProbeTimeout,
			Logger:        logger,
		})
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("peer %s: %w", peer.Name, err)
		}
		g.pools[peer.Name] = p
	}
	return g, nil
}

func (g *GRPCPeers) Notify(ctx context.Context, server string, n rpc.Notification) (*rpc.NotifyResponse, error) {
	p, ok := g.pools[server]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, server)
	}
	var resp *rpc.NotifyResponse
	err := p.Do(ctx, func(cc *grpc.ClientConn) error {
		var err error
		resp, err = rpc.NewChatClient(cc).Notify(ctx, n)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *GRPCPeers) Close() {
	for _, p := range g.pools {
		p.Close()
	}
}
