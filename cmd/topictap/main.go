// topictap connects to a topic server and streams updates to the console.
// Usage: go run ./cmd/topictap --config configs/client.local.yaml --topics Config,Log
//
// With --call the tap also issues one RPC once the connection is open, e.g.
//
//	topictap --topics Config --call Config.refresh --args '{"force":true}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/topicmux/topicmux/internal/client"
	"github.com/topicmux/topicmux/internal/config"
	"github.com/topicmux/topicmux/internal/connection"
	"github.com/topicmux/topicmux/internal/rpc"
)

func main() {
	configPath := flag.String("config", "configs/client.local.yaml", "path to config file")
	topicsFlag := flag.String("topics", "", "comma-separated topics to subscribe beyond the defaults")
	callFlag := flag.String("call", "", "one-shot RPC as Topic.fn, issued once connected")
	argsFlag := flag.String("args", "", "JSON arguments for --call")
	verbose := flag.Bool("verbose", false, "print full snapshot JSON per update")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

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

	// Subscribe requested topics before connecting
	handles := make(map[string]*client.Handle)
	for _, topic := range splitTopics(*topicsFlag) {
		handles[topic] = cli.Subscribe(topic)
	}

	if err := cli.Connect(); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	// Console printers
	go printUpdates(ctx, cli, *verbose)
	go watchEvents(ctx, cancel, cli, logger, *callFlag, *argsFlag, handles, cfg.RPC)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := cli.Stats()
				logger.Info("stats",
					"state", string(stats.State),
					"generation", stats.Generation,
					"queue", stats.QueueLen,
					"messages", stats.Messages,
					"reconnects", stats.Reconnects,
					"dropped", stats.Dropped,
					"pending_calls", cli.PendingCalls(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	for _, h := range handles {
		h.Release()
	}
	cli.Close()

	logger.Info("shutdown complete")
}

func splitTopics(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func printUpdates(ctx context.Context, cli *client.Client, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-cli.Updates():
			if verbose {
				data, _ := json.MarshalIndent(u.Value, "", "  ")
				fmt.Printf("[%s %s] %s\n", u.Topic, u.Op, data)
			} else {
				fmt.Printf("[%s %s] at=%s\n", u.Topic, u.Op, u.At.Format(time.RFC3339Nano))
			}
		}
	}
}

// watchEvents logs lifecycle events and fires the one-shot --call RPC the
// first time the connection opens.
func watchEvents(
	ctx context.Context,
	cancel context.CancelFunc,
	cli *client.Client,
	logger *slog.Logger,
	call, args string,
	handles map[string]*client.Handle,
	rpcCfg config.RPCConfig,
) {
	called := false

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-cli.Events():
			switch ev.Type {
			case connection.EventAuthFailed:
				logger.Error("authentication rejected", "code", ev.Code)
				cancel()
			case connection.EventReloadRequired:
				logger.Error("connection unrecoverable", "code", ev.Code)
				cancel()
			case connection.EventStateChanged:
				logger.Info("connection state changed",
					"state", string(ev.State),
					"generation", ev.Generation,
				)
				if ev.State == connection.StateOpen && call != "" && !called {
					called = true
					issueCall(cli, logger, call, args, handles, rpcCfg)
				}
			}
		}
	}
}

func issueCall(
	cli *client.Client,
	logger *slog.Logger,
	call, args string,
	handles map[string]*client.Handle,
	rpcCfg config.RPCConfig,
) {
	topic, fn, ok := strings.Cut(call, ".")
	if !ok {
		logger.Error("malformed --call, want Topic.fn", "call", call)
		return
	}

	var parsed any
	if args != "" {
		if err := json.Unmarshal([]byte(args), &parsed); err != nil {
			logger.Error("malformed --args", "error", err)
			return
		}
	}

	h, ok := handles[topic]
	if !ok {
		h = cli.Subscribe(topic)
		handles[topic] = h
	}

	var opts []rpc.CallOption
	if rpcCfg.Timeout > 0 {
		opts = append(opts, rpc.WithTimeout(rpcCfg.Timeout))
	}
	if rpcCfg.PendingDelay > 0 {
		opts = append(opts, rpc.WithPendingDelay(rpcCfg.PendingDelay))
	}

	id := h.Call(fn, parsed, rpc.Callbacks{
		OnSuccess: func() {
			logger.Info("call succeeded", "call", call)
		},
		OnError: func(err error) {
			logger.Error("call failed", "call", call, "error", err)
		},
		OnPending: func(pending bool) {
			logger.Info("call pending", "call", call, "pending", pending)
		},
	}, opts...)

	logger.Info("call issued", "call", call, "id", id)
}
