package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradeflow/config"
	"tradeflow/db"
	"tradeflow/outbox"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the outbox relay",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	server, err := NewServer(cfg, pool, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	relay := outbox.NewRelay(pool, nil, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger.Named("outbox"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		if err := relay.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Shutdown(context.Background())
	})

	logger.Info("tradeflow started", zap.String("port", cfg.HTTPPort))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
