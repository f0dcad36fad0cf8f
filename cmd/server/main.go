package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/brojonat/solwallet/service/config"
	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/logging"
	"github.com/brojonat/solwallet/service/metrics"
	"github.com/brojonat/solwallet/service/server"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := logging.New(cfg.LogLevel, os.Stderr)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"treasury", cfg.TreasuryKey.PublicKey().String(),
		"mint", cfg.TokenMint.String(),
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize the transfer journal
	store := db.NewStore(dbPool, metricsCollector)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Initialize Solana ledger gateway
	gateway := newGateway(cfg, metricsCollector, logger)
	logger.Info("initialized solana RPC client", "endpoint", solana.EndpointLabel(cfg.SolanaRPCURL))

	// Initialize price oracle
	prices := newOracle(cfg, metricsCollector, logger)

	// Initialize NATS publisher (optional)
	publisher, closePublisher, err := newPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer closePublisher()
	if publisher == nil {
		logger.Warn("NATS_URL not set, transfer events are not published")
	}

	// Initialize Idempotency-Key store (optional)
	idem, closeIdempotency, err := newIdempotency(ctx, cfg.RedisURL, cfg.IdempotencyTTL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to initialize idempotency store", "error", err)
		os.Exit(1)
	}
	defer closeIdempotency()

	// Initialize wallet service
	svc, err := wallet.NewService(walletConfig(cfg, gateway, prices, store, publisher, metricsCollector, logger))
	if err != nil {
		logger.Error("failed to create wallet service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, svc, idem, metricsCollector, logger)
	httpServer.SetConfirmTimeout(cfg.ConfirmTimeout)

	logger.Info("server initialized, all dependencies ready",
		"idempotency", idem != nil,
		"nats", publisher != nil,
		"fiat_currency", cfg.FiatCurrency,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout. In-flight transfers may wait on
		// several confirmations, so allow as long as a response may take.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), server.TransferWriteTimeout(cfg.ConfirmTimeout))
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}
