package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Jam-Ngai/chatserver/internal/config"
	"github.com/Jam-Ngai/chatserver/internal/presence"
	"github.com/Jam-Ngai/chatserver/internal/rpc"
	"github.com/Jam-Ngai/chatserver/internal/status"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Run the status service that assigns users to chat servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			return runStatus(cmd.Context(), cfg, logger)
		},
	}
}

func runStatus(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := openPresence(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	nodes := make([]status.Node, 0, len(cfg.ChatServers))
	for _, n := range cfg.ChatServers {
		nodes = append(nodes, status.Node{Name: n.Name, Host: n.Host, Port: n.Port})
	}
	b := status.NewBalancer(nodes, presence.NewDirectory(kv), cfg.Token.TTL, logger)

	lis, err := net.Listen("tcp", cfg.Status.Addr)
	if err != nil {
		return fmt.Errorf("listen status: %w", err)
	}
	gs := grpc.NewServer()
	rpc.RegisterStatusService(gs, status.NewService(b, logger))
	go func() {
		if err := gs.Serve(lis); err != nil {
			logger.Error("status server failed", "error", err)
		}
	}()
	logger.Info("status server started", "addr", lis.Addr().String(), "chat_servers", len(nodes))
	metrics := serveMetrics(cfg.Metrics.Addr, logger)

	<-ctx.Done()
	gs.GracefulStop()
	shutdownHTTP(metrics, logger)
	return nil
}
