// recorder subscribes to configured topics and persists every update, plus
// periodic full snapshots, to PostgreSQL.
// Usage: go run ./cmd/recorder --config configs/recorder.local.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/topicmux/topicmux/internal/client"
	"github.com/topicmux/topicmux/internal/config"
	"github.com/topicmux/topicmux/internal/connection"
	"github.com/topicmux/topicmux/internal/database"
	"github.com/topicmux/topicmux/internal/metrics"
	"github.com/topicmux/topicmux/internal/recorder"
	"github.com/topicmux/topicmux/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/recorder.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting recorder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateRecorder(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"server_url", cfg.Server.URL,
		"topics", cfg.Recorder.Topics,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Create topic client
	cli := client.New(client.Config{
		Connection: connection.Config{
			URL:                cfg.Server.URL,
			HandshakeTimeout:   cfg.Server.HandshakeTimeout,
			WriteTimeout:       cfg.Server.WriteTimeout,
			StaleTimeout:       cfg.Server.StaleTimeout,
			ReconnectBaseDelay: cfg.Server.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.Server.ReconnectMaxDelay,
			MaxReconnectTries:  cfg.Server.MaxReconnectTries,
		},
		DefaultTopics: cfg.Subscriptions.Defaults,
		ScrollTopics:  cfg.Subscriptions.Scroll,
	}, logger)

	// Subscribe recorded topics before connecting so the initial open
	// carries the full subscription set.
	handles := make([]*client.Handle, 0, len(cfg.Recorder.Topics))
	for _, topic := range cfg.Recorder.Topics {
		handles = append(handles, cli.Subscribe(topic))
	}
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	// Start recorder
	rec := recorder.New(cfg.Recorder, cli, pool, logger)
	if err := rec.Start(ctx); err != nil {
		logger.Error("failed to start recorder", "error", err)
		os.Exit(1)
	}

	if err := cli.Connect(); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint and event watcher share the lifecycle.
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(cli, rec))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Metrics, reg, logger)
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-cli.Events():
				switch ev.Type {
				case connection.EventAuthFailed:
					logger.Error("authentication rejected, shutting down", "code", ev.Code)
					cancel()
				case connection.EventReloadRequired:
					logger.Error("connection unrecoverable, shutting down", "code", ev.Code)
					cancel()
				case connection.EventStateChanged:
					logger.Info("connection state changed",
						"state", string(ev.State),
						"generation", ev.Generation,
					)
				}
			}
		}
	})

	logger.Info("recorder running")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := rec.Stop(shutdownCtx); err != nil {
		logger.Error("recorder stop failed", "error", err)
	}
	if err := cli.Close(); err != nil {
		logger.Error("client close failed", "error", err)
	}
	if err := g.Wait(); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("recorder stopped")
}
