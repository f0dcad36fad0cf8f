package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public CoinGecko API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

const source = "coingecko"

// ErrNoRate is returned when the oracle answered but had no usable rate.
var ErrNoRate = errors.New("no rate available")

// Quote is a unit price of Base expressed in Currency.
type Quote struct {
	Base     string
	Currency string
	Rate     decimal.Decimal
	AsOf     time.Time
	Source   string
}

// Config configures the CoinGecko client.
type Config struct {
	BaseURL           string  // defaults to DefaultBaseURL
	APIKey            string  // optional demo/pro key, sent as x-cg-demo-api-key
	RequestsPerSecond float64 // outbound rate limit; <= 0 disables limiting
	Timeout           time.Duration
}

// CoinGecko fetches spot prices from the CoinGecko simple price endpoint.
// Quotes are fetched per call and never cached.
type CoinGecko struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewCoinGecko creates a price oracle client. If m is nil, no metrics are recorded.
func NewCoinGecko(cfg Config, m *metrics.Metrics, logger *slog.Logger) *CoinGecko {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &CoinGecko{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		metrics:    m,
		logger:     logger,
	}
}

// GetRate returns the current price of one unit of base (a CoinGecko coin id
// such as "solana") in currency (such as "usd").
func (c *CoinGecko) GetRate(ctx context.Context, base, currency string) (*Quote, error) {
	base = strings.ToLower(strings.TrimSpace(base))
	currency = strings.ToLower(strings.TrimSpace(currency))
	if base == "" || currency == "" {
		return nil, fmt.Errorf("base and currency are required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("price oracle rate limit: %w", err)
	}

	start := time.Now()
	quote, err := c.fetch(ctx, base, currency)
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordOracleRequest(source, status, time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.WarnContext(ctx, "price oracle request failed",
			"base", base,
			"currency", currency,
			"error", err,
		)
		return nil, err
	}
	return quote, nil
}

func (c *CoinGecko) fetch(ctx context.Context, base, currency string) (*Quote, error) {
	q := url.Values{}
	q.Set("ids", base)
	q.Set("vs_currencies", currency)
	q.Set("include_last_updated_at", "true")
	endpoint := c.baseURL + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// {"solana":{"usd":142.35,"last_updated_at":1718000000}}
	var payload map[string]map[string]json.Number
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	prices, ok := payload[base]
	if !ok {
		return nil, fmt.Errorf("%w: unknown asset %q", ErrNoRate, base)
	}
	raw, ok := prices[currency]
	if !ok {
		return nil, fmt.Errorf("%w: no %s price for %s", ErrNoRate, currency, base)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", raw, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive price %s", ErrNoRate, price)
	}

	asOf := time.Now().UTC()
	if ts, ok := prices["last_updated_at"]; ok {
		if secs, err := ts.Int64(); err == nil && secs > 0 {
			asOf = time.Unix(secs, 0).UTC()
		}
	}

	return &Quote{
		Base:     base,
		Currency: currency,
		Rate:     price,
		AsOf:     asOf,
		Source:   source,
	}, nil
}
