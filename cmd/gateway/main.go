// gateway serves the KIS quotation endpoints over HTTP and, when enabled,
// keeps a realtime trade subscription alive and persists its trades.
//
// Usage: go run ./cmd/gateway --config configs/gateway.example.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rickgao/kis-data/internal/api"
	"github.com/rickgao/kis-data/internal/auth"
	"github.com/rickgao/kis-data/internal/cache"
	"github.com/rickgao/kis-data/internal/config"
	"github.com/rickgao/kis-data/internal/connection"
	"github.com/rickgao/kis-data/internal/database"
	"github.com/rickgao/kis-data/internal/metrics"
	"github.com/rickgao/kis-data/internal/model"
	"github.com/rickgao/kis-data/internal/server"
	"github.com/rickgao/kis-data/internal/version"
	"github.com/rickgao/kis-data/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/gateway.example.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"rest_url", cfg.API.RestURL,
		"app_key", auth.Redact(cfg.API.AppKey),
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway failed", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway stopped")
}

func run(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	creds := auth.Credentials{AppKey: cfg.API.AppKey, AppSecret: cfg.API.AppSecret}

	tokens := auth.NewTokenManager(cfg.API.RestURL, creds,
		auth.WithLogger(logger),
		auth.WithExpiryMargin(cfg.API.TokenExpiryMargin),
		auth.WithMetrics(m),
	)

	clientOpts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithCustType(cfg.API.CustType),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
		api.WithMetrics(m),
	}

	// Optional response cache
	if cfg.Cache.Enabled() {
		redis, err := cache.NewRedis(ctx, cfg.Cache, logger)
		if err != nil {
			return fmt.Errorf("connect cache: %w", err)
		}
		defer redis.Close()
		clientOpts = append(clientOpts, api.WithResponseCache(redis, cfg.Cache.FinancialTTL))
		logger.Info("response cache enabled", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.FinancialTTL)
	}

	apiClient := api.NewClient(cfg.API.RestURL, creds, tokens, clientOpts...)

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithTokenStatus(tokens),
		server.WithGatherer(reg),
	}

	// Optional realtime stream
	var (
		supervisor  *connection.Supervisor
		tradeWriter *writer.TradeWriter
	)
	if cfg.Stream.Enabled {
		onTick := func(tick model.Tick) {}

		if cfg.Database.Enabled() {
			logger.Info("connecting to database",
				"host", cfg.Database.Host,
				"port", cfg.Database.Port,
				"database", cfg.Database.Name,
			)
			pool, err := database.Connect(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := writer.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			logger.Info("database connected")

			tradeWriter = writer.NewTradeWriter(writer.WriterConfig{
				BatchSize:     cfg.Writer.BatchSize,
				FlushInterval: cfg.Writer.FlushInterval,
			}, pool, logger, m)
			if err := tradeWriter.Start(ctx); err != nil {
				return fmt.Errorf("start trade writer: %w", err)
			}
			onTick = tradeWriter.Handle
		}

		approvals := auth.NewApprovalIssuer(cfg.Stream.ApprovalURL, creds, auth.WithLogger(logger))
		supervisor = connection.NewSupervisor(supervisorConfig(cfg), approvals, logger, m)

		sub := connection.Subscription{TrID: cfg.Stream.TrID, TrKey: cfg.Stream.TrKey}
		onFatal := func(err error) {
			logger.Warn("stream session ended", "error", err)
		}
		if err := supervisor.Start(ctx, sub, onTick, onFatal); err != nil {
			return fmt.Errorf("start stream supervisor: %w", err)
		}
		serverOpts = append(serverOpts, server.WithStreamStatus(supervisor))

		logger.Info("stream enabled",
			"ws_url", cfg.Stream.WSURL,
			"tr_id", sub.TrID,
			"tr_key", sub.TrKey,
			"persist", tradeWriter != nil,
		)
	}

	srv := server.New(server.Config{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MetricsPath:    cfg.Metrics.Path,
	}, apiClient, serverOpts...)

	if err := srv.Start(ctx); err != nil {
		return err
	}

	logger.Info("gateway running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Front door first, then the stream, then flush what the stream produced.
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if supervisor != nil {
		if err := supervisor.Stop(shutdownCtx); err != nil {
			logger.Warn("stream supervisor shutdown", "error", err)
		}
		stats := supervisor.Stats()
		logger.Info("stream stats",
			"attempts", stats.Attempts,
			"subscribed", stats.Subscribed,
			"ticks", stats.Ticks,
			"data_errors", stats.DataErrors,
		)
	}
	if tradeWriter != nil {
		if err := tradeWriter.Stop(shutdownCtx); err != nil {
			logger.Warn("trade writer shutdown", "error", err)
		}
		stats := tradeWriter.Stats()
		logger.Info("trade writer stats",
			"inserts", stats.Inserts,
			"conflicts", stats.Conflicts,
			"errors", stats.Errors,
			"dropped", stats.Dropped,
		)
	}

	return nil
}

func supervisorConfig(cfg *config.GatewayConfig) connection.SupervisorConfig {
	return connection.SupervisorConfig{
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
	}
}
