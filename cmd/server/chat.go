package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/chat"
	"github.com/Jam-Ngai/chatserver/internal/config"
	"github.com/Jam-Ngai/chatserver/internal/presence"
	"github.com/Jam-Ngai/chatserver/internal/router"
	"github.com/Jam-Ngai/chatserver/internal/rpc"
	"github.com/Jam-Ngai/chatserver/internal/store"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Run a chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg, logger)
		},
	}
}

func storeOptions(cfg *config.Config) store.Options {
	return store.Options{
		DSN:           cfg.Postgres.DSN,
		PoolSize:      cfg.Postgres.PoolSize,
		CheckInterval: cfg.Pool.CheckInterval,
		StaleAfter:    cfg.Pool.StaleAfter,
		ProbeTimeout:  cfg.Pool.ProbeTimeout,
	}
}

func runChat(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger = logger.With("server", cfg.Self.Name)

	kv, closeKV, err := openPresence(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()
	dir := presence.NewDirectory(kv)

	if cfg.Postgres.Migrate {
		if err := store.Migrate(cfg.Postgres.DSN, logger); err != nil {
			return err
		}
	}
	users, err := store.Open(ctx, storeOptions(cfg), logger)
	if err != nil {
		return err
	}
	defer users.Close()
	profiles := store.NewProfiles(users, kv, 0, logger)

	registry := chat.NewUserRegistry()

	var (
		peers    router.Peers
		rpcStop  func()
		serveRPC func(srv rpc.ChatServiceServer) error
	)
	switch cfg.Peer.Transport {
	case "nats":
		nc, err := router.Connect(cfg.NATS.URL, cfg.Self.Name)
		if err != nil {
			return err
		}
		defer nc.Close()
		peers = router.NewNATSPeers(nc, cfg.Peer.Timeout)
		serveRPC = func(srv rpc.ChatServiceServer) error {
			sub, err := router.ServeNATS(nc, cfg.Self.Name, srv, logger)
			if err != nil {
				return err
			}
			rpcStop = func() { _ = sub.Drain() }
			return nil
		}
	default:
		list := make([]router.Peer, 0, len(cfg.Peers))
		for _, p := range cfg.Peers {
			list = append(list, router.Peer{Name: p.Name, Host: p.Host, RPCPort: p.RPCPort})
		}
		gp, err := router.NewGRPCPeers(ctx, list, router.GRPCOptions{
			PoolSize:      cfg.Pool.Size,
			CheckInterval: cfg.Pool.CheckInterval,
			StaleAfter:    cfg.Pool.StaleAfter,
			ProbeTimeout:  cfg.Pool.ProbeTimeout,
		}, logger)
		if err != nil {
			return err
		}
		defer gp.Close()
		peers = gp
		serveRPC = func(srv rpc.ChatServiceServer) error {
			lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Self.RPCPort))
			if err != nil {
				return fmt.Errorf("listen rpc: %w", err)
			}
			gs := grpc.NewServer()
			rpc.RegisterChatService(gs, srv)
			go func() {
				if err := gs.Serve(lis); err != nil {
					logger.Error("rpc server failed", "error", err)
				}
			}()
			logger.Info("rpc server started", "addr", lis.Addr().String())
			rpcStop = gs.GracefulStop
			return nil
		}
	}

	rt := router.New(cfg.Self.Name, dir, registry, peers, chat.RenderNotification, logger)
	svc := chat.NewService(chat.ServiceOptions{
		Self:      cfg.Self.Name,
		Users:     registry,
		Directory: dir,
		Router:    rt,
		Profiles:  profiles,
		Friends:   users,
		Timeout:   cfg.Dispatch.HandlerTimeout,
		Logger:    logger,
	})

	d := chat.NewDispatcher(cfg.Dispatch.Queue, logger)
	svc.Register(d)
	srv := chat.NewServer(chat.ServerOptions{
		Addr:      ":" + strconv.Itoa(cfg.Self.Port),
		SendQueue: cfg.Session.SendQueue,
		OnClose:   svc.Teardown,
		Logger:    logger,
	}, d)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("reset login count: %w", err)
	}
	if err := serveRPC(svc); err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		rpcStop()
		return fmt.Errorf("start chat listener: %w", err)
	}

	var ws *http.Server
	if cfg.Self.WSPort > 0 {
		ws = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Self.WSPort),
			Handler:           srv.WebSocketHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		serveHTTP("websocket", ws, logger)
	}
	metrics := serveMetrics(cfg.Metrics.Addr, logger)

	<-ctx.Done()
	logger.Info("signal received, shutting down")

	if ws != nil {
		shutdownHTTP(ws, logger)
	}
	rpcStop()
	srv.Stop()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(sctx); err != nil {
		logger.Warn("remove login counter", "error", err)
	}
	shutdownHTTP(metrics, logger)
	return nil
}
