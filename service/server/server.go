package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/wallet"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WalletService is the wallet facade the HTTP layer serves.
// Implemented by *wallet.Service.
type WalletService interface {
	CreateAccount(ctx context.Context) (*wallet.Account, error)
	GetBalance(ctx context.Context, address string) (*wallet.Balance, error)
	GetBalanceInFiat(ctx context.Context, address, currency string) (*wallet.FiatBalance, error)
	GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error)
	Transfer(ctx context.Context, recipient string, amount uint64) (*wallet.TransferReceipt, error)
	GetTransfer(ctx context.Context, id string) (*wallet.TransferRecord, error)
}

// Server represents the HTTP server for the wallet service.
type Server struct {
	addr        string
	wallet      WalletService
	idempotency *Idempotency
	metrics     *metrics.Metrics
	logger      *slog.Logger
	server      *http.Server

	writeTimeout time.Duration
}

const defaultWriteTimeout = 90 * time.Second

// TransferWriteTimeout bounds how long a transfer response may take when each
// ledger confirmation waits up to confirmTimeout. A transfer can wait on three
// confirmations: the sender account, the recipient account and the transfer.
func TransferWriteTimeout(confirmTimeout time.Duration) time.Duration {
	return max(defaultWriteTimeout, 3*confirmTimeout+30*time.Second)
}

// New creates a new HTTP server with the given dependencies.
// The idempotency store is optional - if nil, Idempotency-Key headers are ignored.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, svc WalletService, idem *Idempotency, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:        addr,
		wallet:      svc,
		idempotency: idem,
		metrics:     m,
		logger:      logger,

		writeTimeout: defaultWriteTimeout,
	}
}

// SetConfirmTimeout sizes the response write timeout for transfers that wait
// up to d per ledger confirmation. Must be called before Start.
func (s *Server) SetConfirmTimeout(d time.Duration) {
	s.writeTimeout = TransferWriteTimeout(d)
}

// Handler builds the routed handler. Exposed so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Account routes
	route("POST /api/v1/accounts", "/api/v1/accounts", handleCreateAccount(s.wallet, s.logger))
	route("GET /api/v1/accounts/{address}", "/api/v1/accounts/{address}", handleGetAccountInfo(s.wallet, s.logger))
	route("GET /api/v1/accounts/{address}/balance", "/api/v1/accounts/{address}/balance", handleGetBalance(s.wallet, s.logger))
	route("GET /api/v1/accounts/{address}/balance/fiat", "/api/v1/accounts/{address}/balance/fiat", handleGetFiatBalance(s.wallet, s.logger))

	// Transfer routes
	transfer := handleCreateTransfer(s.wallet, s.logger)
	if s.idempotency != nil {
		transfer = s.idempotency.Middleware(true)(transfer)
	} else {
		s.logger.Warn("idempotency store not configured, Idempotency-Key headers are ignored")
	}
	route("POST /api/v1/transfers", "/api/v1/transfers", transfer)
	route("GET /api/v1/transfers/{id}", "/api/v1/transfers/{id}", handleGetTransfer(s.wallet, s.logger))

	// Routes kept for clients of the original service
	legacySend := handleLegacySend(s.wallet, s.logger)
	if s.idempotency != nil {
		legacySend = s.idempotency.Middleware(false)(legacySend)
	}
	route("GET /solana/create-wallet", "/solana/create-wallet", handleLegacyCreateWallet(s.wallet, s.logger))
	route("POST /solana/account-balance", "/solana/account-balance", handleLegacyBalance(s.wallet, s.logger))
	route("POST /solana/account-balance-usd", "/solana/account-balance-usd", handleLegacyBalanceUSD(s.wallet, s.logger))
	route("POST /solana/contract-info", "/solana/contract-info", handleLegacyContractInfo(s.wallet, s.logger))
	route("POST /solana/send", "/solana/send", legacySend)

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = s.httpServer()

	s.logger.Info("starting HTTP server", "addr", s.addr, "write_timeout", s.writeTimeout)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+idempotencyKeyHeader)
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
