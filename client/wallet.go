package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Account is a newly generated account. SecretKey and RecoveryPhrase are
// returned exactly once, by CreateAccount.
type Account struct {
	PublicAddress        string `json:"public_address"`
	SecretKey            string `json:"secret_key"`
	RecoveryPhrase       string `json:"recovery_phrase"`
	RecoveryPhraseLinked bool   `json:"recovery_phrase_linked"`
}

// Balance is the native balance of an address.
type Balance struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"` // exact decimal
}

// FiatBalance is a native balance valued in a fiat currency.
type FiatBalance struct {
	Balance
	Currency string    `json:"currency"`
	Rate     string    `json:"rate"`
	Value    string    `json:"value"`
	AsOf     time.Time `json:"as_of"`
}

// AccountInfo is the on-chain account at an address. TokenAccount and Mint
// are set when the account is an SPL token account or mint.
type AccountInfo struct {
	Address      string          `json:"address"`
	Lamports     uint64          `json:"lamports"`
	Owner        string          `json:"owner"`
	Executable   bool            `json:"executable"`
	RentEpoch    uint64          `json:"rent_epoch"`
	Space        int             `json:"space"`
	Data         []byte          `json:"data"`
	TokenAccount json.RawMessage `json:"token_account,omitempty"`
	Mint         json.RawMessage `json:"mint,omitempty"`
}

// Transfer is a confirmed token transfer.
type Transfer struct {
	ID                    string
	Signature             string
	Sender                string
	Recipient             string
	RecipientTokenAccount string
	Mint                  string
	Amount                uint64
	ProvisionedSender     bool
	ProvisionedRecipient  bool
}

// TransferRecord is the journaled state of a transfer.
type TransferRecord struct {
	ID           string
	Status       string // pending, submitted, confirmed, failed
	Sender       string
	Recipient    string
	Mint         string
	Amount       uint64
	Signature    *string
	ErrorKind    *string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SubmittedAt  *time.Time
	ResolvedAt   *time.Time
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string // failure classification, e.g. "insufficient_funds"
	Retryable  bool
	TransferID string // set when a transfer's outcome is undecided
	Signature  string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("request failed: %s (%s)", e.Message, e.Kind)
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}

// Client is the HTTP client for the wallet service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new wallet service client.
// Transfers wait for ledger confirmation, so the default timeout is generous.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateAccount asks the server to generate a new account.
func (c *Client) CreateAccount(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.do(ctx, http.MethodPost, "/api/v1/accounts", nil, nil, http.StatusCreated, &acct); err != nil {
		return nil, err
	}
	c.logger.Debug("account created", "public_address", acct.PublicAddress)
	return &acct, nil
}

// GetBalance retrieves the native balance of an address.
func (c *Client) GetBalance(ctx context.Context, address string) (*Balance, error) {
	var bal Balance
	path := "/api/v1/accounts/" + url.PathEscape(address) + "/balance"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, http.StatusOK, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// GetFiatBalance retrieves the native balance of an address valued in
// currency. An empty currency uses the server's default.
func (c *Client) GetFiatBalance(ctx context.Context, address, currency string) (*FiatBalance, error) {
	path := "/api/v1/accounts/" + url.PathEscape(address) + "/balance/fiat"
	if currency != "" {
		path += "?" + url.Values{"currency": {currency}}.Encode()
	}

	var bal FiatBalance
	if err := c.do(ctx, http.MethodGet, path, nil, nil, http.StatusOK, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// GetAccountInfo retrieves the on-chain account at an address.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	var info AccountInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(address), nil, nil, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Transfer sends amount base units of the configured token from the server's
// treasury to recipient. idempotencyKey must be unique per intended transfer;
// retrying with the same key never sends twice.
func (c *Client) Transfer(ctx context.Context, recipient string, amount uint64, idempotencyKey string) (*Transfer, error) {
	body := map[string]string{
		"recipient": recipient,
		"amount":    strconv.FormatUint(amount, 10),
	}
	headers := map[string]string{"Idempotency-Key": idempotencyKey}

	var resp transferResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/transfers", body, headers, http.StatusOK, &resp); err != nil {
		return nil, err
	}

	amt, err := strconv.ParseUint(resp.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", resp.Amount, err)
	}

	c.logger.Debug("transfer confirmed", "id", resp.ID, "signature", resp.Signature)
	return &Transfer{
		ID:                    resp.ID,
		Signature:             resp.Signature,
		Sender:                resp.Sender,
		Recipient:             resp.Recipient,
		RecipientTokenAccount: resp.RecipientTokenAccount,
		Mint:                  resp.Mint,
		Amount:                amt,
		ProvisionedSender:     resp.ProvisionedSender,
		ProvisionedRecipient:  resp.ProvisionedRecipient,
	}, nil
}

// GetTransfer retrieves the journaled state of a transfer.
func (c *Client) GetTransfer(ctx context.Context, id string) (*TransferRecord, error) {
	var resp transferRecordResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/transfers/"+url.PathEscape(id), nil, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}

	amt, err := strconv.ParseUint(resp.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", resp.Amount, err)
	}

	return &TransferRecord{
		ID:           resp.ID,
		Status:       resp.Status,
		Sender:       resp.Sender,
		Recipient:    resp.Recipient,
		Mint:         resp.Mint,
		Amount:       amt,
		Signature:    resp.Signature,
		ErrorKind:    resp.ErrorKind,
		ErrorMessage: resp.ErrorMessage,
		CreatedAt:    resp.CreatedAt,
		UpdatedAt:    resp.UpdatedAt,
		SubmittedAt:  resp.SubmittedAt,
		ResolvedAt:   resp.ResolvedAt,
	}, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// transferResponse is the API response format for a transfer.
// The server returns amounts as strings so they survive JSON number precision.
type transferResponse struct {
	ID                    string `json:"id"`
	Signature             string `json:"signature"`
	Sender                string `json:"sender"`
	Recipient             string `json:"recipient"`
	RecipientTokenAccount string `json:"recipient_token_account"`
	Mint                  string `json:"mint"`
	Amount                string `json:"amount"`
	ProvisionedSender     bool   `json:"provisioned_sender"`
	ProvisionedRecipient  bool   `json:"provisioned_recipient"`
}

type transferRecordResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Sender       string     `json:"sender"`
	Recipient    string     `json:"recipient"`
	Mint         string     `json:"mint"`
	Amount       string     `json:"amount"`
	Signature    *string    `json:"signature,omitempty"`
	ErrorKind    *string    `json:"error_kind,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error      string `json:"error"`
		Kind       string `json:"kind"`
		Retryable  bool   `json:"retryable"`
		TransferID string `json:"transfer_id"`
		Signature  string `json:"signature"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    errResp.Error,
		Kind:       errResp.Kind,
		Retryable:  errResp.Retryable,
		TransferID: errResp.TransferID,
		Signature:  errResp.Signature,
	}
}
