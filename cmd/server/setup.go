package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/config"
	"github.com/brojonat/solwallet/service/metrics"
	natspkg "github.com/brojonat/solwallet/service/nats"
	"github.com/brojonat/solwallet/service/oracle"
	"github.com/brojonat/solwallet/service/server"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/wallet"
	"github.com/redis/go-redis/v9"
)

// newIdempotency connects to Redis and returns the Idempotency-Key store.
// An empty URL disables idempotency and returns a nil store.
func newIdempotency(ctx context.Context, redisURL string, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) (*server.Idempotency, func(), error) {
	if redisURL == "" {
		return nil, func() {}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return server.NewIdempotency(rdb, ttl, m, logger), func() { rdb.Close() }, nil
}

// newPublisher connects to NATS when natsURL is set. The returned publisher
// is a nil interface, never a typed nil, when events are disabled.
func newPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (wallet.EventPublisher, func(), error) {
	if natsURL == "" {
		return nil, func() {}, nil
	}

	p, err := natspkg.NewPublisher(natsURL, m, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { p.Close() }, nil
}

// newGateway builds the ledger gateway for the configured RPC endpoint.
func newGateway(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *solana.Gateway {
	// Note: For premium RPC endpoints, include API key in the URL
	return solana.NewGateway(solana.NewRPCClient(cfg.SolanaRPCURL), solana.GatewayConfig{
		Endpoint:       solana.EndpointLabel(cfg.SolanaRPCURL),
		Commitment:     cfg.Commitment,
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.ConfirmPollInterval,
	}, m, logger)
}

// newOracle builds the price oracle client.
func newOracle(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *oracle.CoinGecko {
	return oracle.NewCoinGecko(oracle.Config{
		BaseURL:           cfg.PriceOracleURL,
		APIKey:            cfg.PriceOracleAPIKey,
		RequestsPerSecond: cfg.PriceOracleRPS,
		Timeout:           cfg.PriceOracleTimeout,
	}, m, logger)
}

// walletConfig assembles the wallet service configuration. journal may be nil.
func walletConfig(cfg *config.Config, ledger wallet.Ledger, prices wallet.PriceOracle, journal wallet.Journal, publisher wallet.EventPublisher, m *metrics.Metrics, logger *slog.Logger) wallet.Config {
	return wallet.Config{
		Ledger:    ledger,
		Oracle:    prices,
		Journal:   journal,
		Publisher: publisher,
		Orchestrator: wallet.OrchestratorConfig{
			Treasury:              cfg.TreasuryKey,
			Mint:                  cfg.TokenMint,
			TokenProgram:          cfg.TokenProgram,
			PreflightBalanceCheck: cfg.PreflightBalanceCheck,
		},
		FiatCurrency: cfg.FiatCurrency,
		Metrics:      m,
		Logger:       logger,
	}
}
