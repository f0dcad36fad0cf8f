package config

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/solwallet/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	LogLevel    string
	MetricsAddr string

	// Database configuration
	DatabaseURL string

	// Redis configuration (Idempotency-Key storage). Empty disables idempotency.
	RedisURL       string
	IdempotencyTTL time.Duration

	// NATS configuration. Empty disables transfer events.
	NATSURL string

	// Solana configuration
	SolanaRPCURL        string
	Commitment          rpc.CommitmentType
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// Token transfer configuration
	TokenMint             solanago.PublicKey
	TokenProgram          solanago.PublicKey
	TreasuryKey           solanago.PrivateKey
	PreflightBalanceCheck bool

	// Price oracle configuration
	PriceOracleURL     string
	PriceOracleAPIKey  string
	PriceOracleRPS     float64
	PriceOracleTimeout time.Duration
	FiatCurrency       string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Reconciliation configuration
	ReconcileInterval    time.Duration
	ReconcileGracePeriod time.Duration
	ReconcileBatchSize   int
}

// Load reads the server configuration from environment variables and
// validates all required fields, including the treasury key and token mint.
func Load() (*Config, error) {
	return load(true)
}

// LoadWorker is like Load but does not read the treasury key. The
// reconciliation worker only reads the ledger and never signs.
func LoadWorker() (*Config, error) {
	return load(false)
}

func load(withTreasury bool) (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// Redis configuration
	cfg.RedisURL = os.Getenv("REDIS_URL")
	ttl, err := parseDuration("IDEMPOTENCY_TTL", "24h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.IdempotencyTTL = ttl
	}

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	commitment, err := parseCommitment(getEnvOrDefault("SOLANA_COMMITMENT", "confirmed"))
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.Commitment = commitment
	}

	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	pollInterval, err := parseDuration("CONFIRM_POLL_INTERVAL", "500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmPollInterval = pollInterval
	}

	if cfg.ConfirmPollInterval > 0 && cfg.ConfirmTimeout > 0 && cfg.ConfirmPollInterval >= cfg.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("CONFIRM_POLL_INTERVAL (%v) must be less than CONFIRM_TIMEOUT (%v)",
			cfg.ConfirmPollInterval, cfg.ConfirmTimeout))
	}

	// Token transfer configuration
	if withTreasury {
		mint := os.Getenv("TOKEN_MINT_ADDRESS")
		if mint == "" {
			errs = append(errs, fmt.Errorf("TOKEN_MINT_ADDRESS is required"))
		} else if key, err := solanago.PublicKeyFromBase58(mint); err != nil {
			errs = append(errs, fmt.Errorf("TOKEN_MINT_ADDRESS: invalid address %q: %w", mint, err))
		} else {
			cfg.TokenMint = key
		}

		program, err := solana.TokenProgramByName(os.Getenv("TOKEN_PROGRAM"))
		if err != nil {
			errs = append(errs, fmt.Errorf("TOKEN_PROGRAM: %w", err))
		} else {
			cfg.TokenProgram = program
		}

		// Never echo the key itself in errors.
		treasury := os.Getenv("TREASURY_PRIVATE_KEY")
		if treasury == "" {
			errs = append(errs, fmt.Errorf("TREASURY_PRIVATE_KEY is required"))
		} else if key, err := ParsePrivateKey(treasury); err != nil {
			errs = append(errs, fmt.Errorf("TREASURY_PRIVATE_KEY: %w", err))
		} else {
			cfg.TreasuryKey = key
		}

		preflight, err := parseBool("PREFLIGHT_BALANCE_CHECK", true)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.PreflightBalanceCheck = preflight
		}
	}

	// Price oracle configuration
	cfg.PriceOracleURL = getEnvOrDefault("PRICE_ORACLE_URL", "https://api.coingecko.com/api/v3")
	cfg.PriceOracleAPIKey = os.Getenv("PRICE_ORACLE_API_KEY")
	cfg.FiatCurrency = strings.ToLower(getEnvOrDefault("FIAT_CURRENCY", "usd"))

	rps, err := parseFloat("PRICE_ORACLE_RPS", 0.5)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PriceOracleRPS = rps
	}

	oracleTimeout, err := parseDuration("PRICE_ORACLE_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PriceOracleTimeout = oracleTimeout
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solwallet-reconcile")

	// Reconciliation configuration
	interval, err := parseDuration("RECONCILE_INTERVAL", "1m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileInterval = interval
	}

	grace, err := parseDuration("RECONCILE_GRACE_PERIOD", "2m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileGracePeriod = grace
	}

	batch, err := parseInt("RECONCILE_BATCH_SIZE", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileBatchSize = batch
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// MustLoadWorker is like LoadWorker but panics if configuration is invalid.
func MustLoadWorker() *Config {
	cfg, err := LoadWorker()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.TokenMint.IsZero() {
		errs = append(errs, fmt.Errorf("TokenMint is required"))
	}

	if !solana.IsTokenProgram(c.TokenProgram) {
		errs = append(errs, fmt.Errorf("TokenProgram must be spl-token or token-2022"))
	}

	if len(c.TreasuryKey) != 64 {
		errs = append(errs, fmt.Errorf("TreasuryKey must be 64 bytes"))
	}

	if c.ConfirmTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be at least 1 second"))
	}

	if c.ReconcileBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ReconcileBatchSize must be positive"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ParsePrivateKey accepts a base58 encoded 64-byte keypair or a JSON byte
// array as written by solana-keygen.
func ParsePrivateKey(value string) (solanago.PrivateKey, error) {
	value = strings.TrimSpace(value)

	var raw []byte
	if strings.HasPrefix(value, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(value), &ints); err != nil {
			return nil, fmt.Errorf("invalid JSON byte array: %w", err)
		}
		raw = make([]byte, len(ints))
		for i, n := range ints {
			if n < 0 || n > 255 {
				return nil, fmt.Errorf("byte %d out of range", i)
			}
			raw[i] = byte(n)
		}
	} else {
		decoded, err := base58.Decode(value)
		if err != nil {
			return nil, fmt.Errorf("invalid base58: %w", err)
		}
		raw = decoded
	}

	if len(raw) != 64 {
		return nil, fmt.Errorf("expected 64 bytes, got %d", len(raw))
	}
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(derived, raw) {
		return nil, fmt.Errorf("public half does not match secret")
	}
	return solanago.PrivateKey(raw), nil
}

func parseCommitment(value string) (rpc.CommitmentType, error) {
	switch c := rpc.CommitmentType(strings.ToLower(value)); c {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return c, nil
	default:
		return "", fmt.Errorf("SOLANA_COMMITMENT: invalid commitment %q: must be processed, confirmed or finalized", value)
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
