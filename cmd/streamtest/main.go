// streamtest subscribes to one realtime feed and prints every tick to the console.
// Usage: go run ./cmd/streamtest --config configs/gateway.example.yaml --code 005930
//
// Required environment variables (referenced by the example config):
//
//	KIS_APP_KEY    - App key from the KIS developer portal
//	KIS_APP_SECRET - Matching app secret
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/kis-data/internal/auth"
	"github.com/rickgao/kis-data/internal/config"
	"github.com/rickgao/kis-data/internal/connection"
	"github.com/rickgao/kis-data/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/gateway.example.yaml", "path to config file")
	code := flag.String("code", "", "stock code (defaults to stream.tr_key)")
	trID := flag.String("tr-id", "", "realtime transaction id (defaults to stream.tr_id)")
	verbose := flag.Bool("verbose", false, "print raw fields instead of parsed trades")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	creds := auth.Credentials{AppKey: cfg.API.AppKey, AppSecret: cfg.API.AppSecret}
	if err := creds.Validate(); err != nil {
		logger.Error("API credentials required for the realtime stream", "error", err)
		logger.Info("Set environment variables: KIS_APP_KEY and KIS_APP_SECRET")
		os.Exit(1)
	}

	sub := connection.Subscription{TrID: cfg.Stream.TrID, TrKey: cfg.Stream.TrKey}
	if *code != "" {
		sub.TrKey = *code
	}
	if *trID != "" {
		sub.TrID = *trID
	}
	if sub.TrKey == "" {
		sub.TrKey = "005930"
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

	approvals := auth.NewApprovalIssuer(cfg.Stream.ApprovalURL, creds, auth.WithLogger(logger))
	supervisor := connection.NewSupervisor(connection.SupervisorConfig{
		Session: connection.SessionConfig{
			Client: connection.ClientConfig{
				URL:              cfg.Stream.WSURL,
				PingTimeout:      cfg.Stream.PingTimeout,
				WriteTimeout:     cfg.Stream.WriteTimeout,
				HandshakeTimeout: cfg.Stream.HandshakeTimeout,
				BufferSize:       cfg.Stream.BufferSize,
			},
			CustType: cfg.API.CustType,
		},
		ReconnectDelay: cfg.Stream.ReconnectDelay,
	}, approvals, logger, nil)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := supervisor.Stats()
				logger.Info("stats",
					"state", stats.State,
					"attempts", stats.Attempts,
					"subscribed", stats.Subscribed,
					"ticks", stats.Ticks,
					"data_errors", stats.DataErrors,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop",
		"ws_url", cfg.Stream.WSURL,
		"tr_id", sub.TrID,
		"tr_key", sub.TrKey,
	)

	err = supervisor.Run(ctx, sub,
		func(tick model.Tick) { printTick(tick, *verbose) },
		func(err error) { logger.Warn("session ended, reconnecting", "error", err) },
	)

	stats := supervisor.Stats()
	logger.Info("shutdown complete",
		"reason", err,
		"ticks", stats.Ticks,
		"attempts", stats.Attempts,
	)
}

func printTick(tick model.Tick, verbose bool) {
	// JSON control frames such as the subscribe acknowledgement.
	if len(tick.Fields) == 0 {
		fmt.Printf("[CONTROL] tr_id=%s body=%s\n", tick.TrID, tick.Payload)
		return
	}

	if verbose || tick.TrID != model.TrIDTrade {
		fmt.Printf("[%s] count=%d fields=%s\n", tick.TrID, tick.Count, strings.Join(tick.Fields, "^"))
		return
	}

	trades, err := model.ParseTrades(tick)
	if err != nil {
		fmt.Printf("[%s] unparseable: %v\n", tick.TrID, err)
		return
	}
	for _, t := range trades {
		fmt.Printf("[TRADE] code=%s time=%s price=%d change=%d (%s%%) volume=%d cum_volume=%d\n",
			t.Code, t.TradeTime, t.Price, t.Change, t.ChangeRate, t.Volume, t.CumVolume)
	}
}
