// Package status assigns logging-in users to the least loaded chat server
// and issues the token they present to it.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/presence"
	"github.com/google/uuid"
)

var ErrNoServers = errors.New("status: no chat servers configured")

// Node is the static identity of one chat server.
type Node struct {
	Name string
	Host string
	Port int
}

func (n Node) Addr() string { return net.JoinHostPort(n.Host, strconv.Itoa(n.Port)) }

type Assignment struct {
	Node  Node
	Token string
}

type Balancer struct {
	nodes    []Node
	dir      *presence.Directory
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewBalancer keeps nodes in the given order; that order breaks ties.
func NewBalancer(nodes []Node, dir *presence.Directory, tokenTTL time.Duration, logger *slog.Logger) *Balancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Balancer{
		nodes:    append([]Node(nil), nodes...),
		dir:      dir,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// Pick returns the node with the strictly smallest login counter, the first
// one in configured order on a tie. A node without a readable counter is
// only chosen when no node has one, and then the first node wins.
func (b *Balancer) Pick(ctx context.Context) (Node, error) {
	if len(b.nodes) == 0 {
		return Node{}, ErrNoServers
	}
	best := -1
	var bestCount int64
	for i, n := range b.nodes {
		count, ok, err := b.dir.LoginCount(ctx, n.Name)
		if err != nil {
			b.logger.Warn("login count unavailable", "server", n.Name, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if best < 0 || count < bestCount {
			best, bestCount = i, count
		}
	}
	if best < 0 {
		best = 0
	}
	return b.nodes[best], nil
}

// Assign picks a node for uid and binds a fresh token to it.
func (b *Balancer) Assign(ctx context.Context, uid int) (Assignment, error) {
	node, err := b.Pick(ctx)
	if err != nil {
		return Assignment{}, err
	}
	token := uuid.NewString()
	if err := b.dir.BindToken(ctx, token, uid, b.tokenTTL); err != nil {
		return Assignment{}, fmt.Errorf("assign uid %d: %w", uid, err)
	}
	assignmentsTotal.WithLabelValues(node.Name).Inc()
	b.logger.Info("chat server assigned", "uid", uid, "server", node.Name)
	return Assignment{Node: node, Token: token}, nil
}
