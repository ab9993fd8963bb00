package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/config"
	"github.com/Jam-Ngai/chatserver/internal/logging"
	"github.com/Jam-Ngai/chatserver/internal/presence"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Distributed chat backend",
		Long:          "server runs one role of the chat backend: a chat server, the status service that assigns users to chat servers, or the HTTP login gateway.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML configuration file")

	rootCmd.AddCommand(
		newChatCmd(opts),
		newStatusCmd(opts),
		newGateCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

// load reads the configuration and installs the process logger.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openPresence(ctx context.Context, cfg *config.Config, logger *slog.Logger) (presence.Store, func(), error) {
	if cfg.Presence.Backend == "memory" {
		logger.Warn("using in-process presence store; directory is not shared between servers")
		return presence.NewMemoryStore(), func() {}, nil
	}
	rs, err := presence.NewRedisStore(ctx, presence.RedisOptions{
		Addr:          cfg.Redis.Addr,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		CheckInterval: cfg.Pool.CheckInterval,
		StaleAfter:    cfg.Pool.StaleAfter,
		ProbeTimeout:  cfg.Pool.ProbeTimeout,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open presence store: %w", err)
	}
	return rs, func() {
		if err := rs.Close(); err != nil {
			logger.Warn("close presence store", "error", err)
		}
	}, nil
}

func serveHTTP(name string, srv *http.Server, logger *slog.Logger) {
	go func() {
		logger.Info("http listener started", "listener", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http listener failed", "listener", name, "error", err)
		}
	}()
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	serveHTTP("metrics", srv, logger)
	return srv
}

func shutdownHTTP(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", "addr", srv.Addr, "error", err)
	}
}
