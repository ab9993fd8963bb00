package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/config"
	"github.com/Jam-Ngai/chatserver/internal/gate"
	"github.com/Jam-Ngai/chatserver/internal/presence"
	"github.com/Jam-Ngai/chatserver/internal/store"
	"github.com/spf13/cobra"
)

func newGateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gate",
		Short: "Run the HTTP login gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			return runGate(cmd.Context(), cfg, logger)
		},
	}
}

func runGate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, err := store.Open(ctx, storeOptions(cfg), logger)
	if err != nil {
		return err
	}
	defer users.Close()

	kv, closeKV, err := openPresence(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	sc, err := gate.NewStatusClient(ctx, gate.StatusOptions{
		Addr:          cfg.Status.Addr,
		PoolSize:      cfg.Status.PoolSize,
		CheckInterval: cfg.Pool.CheckInterval,
		StaleAfter:    cfg.Pool.StaleAfter,
		ProbeTimeout:  cfg.Pool.ProbeTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer sc.Close()

	srv := &http.Server{
		Addr:              cfg.Gate.Addr,
		Handler:           gate.NewHandler(users, sc, presence.NewDirectory(kv), logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveHTTP("gate", srv, logger)
	metrics := serveMetrics(cfg.Metrics.Addr, logger)

	<-ctx.Done()
	shutdownHTTP(srv, logger)
	shutdownHTTP(metrics, logger)
	return nil
}
