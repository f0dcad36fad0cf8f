package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/solwallet/service/wallet"
	"github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 16 // 64KB - requests carry an address and an amount
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

	// Fiat currency codes as accepted by the price oracle
	validCurrencyRegex = regexp.MustCompile(`^[a-z]{3,5}$`)
)

type accountResponse struct {
	PublicAddress        string `json:"public_address"`
	SecretKey            string `json:"secret_key"`
	RecoveryPhrase       string `json:"recovery_phrase"`
	RecoveryPhraseLinked bool   `json:"recovery_phrase_linked"`
}

type balanceResponse struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"`
}

type fiatBalanceResponse struct {
	balanceResponse
	Currency string    `json:"currency"`
	Rate     string    `json:"rate"`
	Value    string    `json:"value"`
	AsOf     time.Time `json:"as_of"`
}

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

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`

	// Identify a transfer whose outcome the caller still needs to follow up.
	TransferID string `json:"transfer_id,omitempty"`
	Signature  string `json:"signature,omitempty"`
}

// handleCreateAccount returns a handler that generates a new account.
// POST /api/v1/accounts
// The response is the only place the secret key and recovery phrase are ever shown.
func handleCreateAccount(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := svc.CreateAccount(r.Context())
		if err != nil {
			writeWalletError(w, r, logger, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, accountToResponse(acct), http.StatusCreated)
	})
}

// handleGetBalance returns a handler that reports the native balance of an address.
// GET /api/v1/accounts/{address}/balance
func handleGetBalance(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeValidationError(w, err)
			return
		}

		bal, err := svc.GetBalance(r.Context(), address)
		if err != nil {
			writeWalletError(w, r, logger, err)
			return
		}

		writeJSON(w, balanceToResponse(bal), http.StatusOK)
	})
}

// handleGetFiatBalance returns a handler that values the native balance of an address.
// GET /api/v1/accounts/{address}/balance/fiat?currency=usd
func handleGetFiatBalance(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeValidationError(w, err)
			return
		}

		currency := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("currency")))
		if err := validateCurrency(currency); err != nil {
			writeValidationError(w, err)
			return
		}

		bal, err := svc.GetBalanceInFiat(r.Context(), address, currency)
		if err != nil {
			writeWalletError(w, r, logger, err)
			return
		}

		writeJSON(w, fiatBalanceResponse{
			balanceResponse: balanceToResponse(&bal.Balance),
			Currency:        bal.Currency,
			Rate:            bal.Rate.String(),
			Value:           bal.Value.String(),
			AsOf:            bal.AsOf,
		}, http.StatusOK)
	})
}

// handleGetAccountInfo returns a handler that reports the on-chain account at an address.
// GET /api/v1/accounts/{address}
func handleGetAccountInfo(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeValidationError(w, err)
			return
		}

		info, err := svc.GetAccountInfo(r.Context(), address)
		if err != nil {
			writeWalletError(w, r, logger, err)
			return
		}

		writeJSON(w, info, http.StatusOK)
	})
}

// handleCreateTransfer returns a handler that sends tokens from the treasury.
// POST /api/v1/transfers {"recipient": "...", "amount": "1000"}
// amount is in base units and may be given as a JSON number or string.
func handleCreateTransfer(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Recipient string      `json:"recipient"`
			Amount    json.Number `json:"amount"`
		}
		if !decodeBody(w, r, logger, &req) {
			return
		}

		if err := validateAddress(req.Recipient); err != nil {
			logger.Debug("invalid recipient", "recipient", req.Recipient, "error", err)
			writeValidationError(w, err)
			return
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, errorResponse{Error: err.Error(), Kind: string(wallet.KindInvalidAmount)}, http.StatusBadRequest)
			return
		}

		receipt, err := svc.Transfer(r.Context(), req.Recipient, amount)
		if err != nil {
			writeWalletError(w, r, logger, err)
			return
		}

		writeJSON(w, receiptToResponse(receipt), http.StatusOK)
	})
}

// handleGetTransfer returns a handler that reports the journaled state of a transfer.
// GET /api/v1/transfers/{id}
func handleGetTransfer(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.GetTransfer(r.Context(), r.PathValue("id"))
		if err != nil {
			writeWalletError(w, r, logger, err)
			return
		}

		writeJSON(w, transferRecordResponse{
			ID:           rec.ID.String(),
			Status:       rec.Status,
			Sender:       rec.Sender,
			Recipient:    rec.Recipient,
			Mint:         rec.Mint,
			Amount:       strconv.FormatUint(rec.Amount, 10),
			Signature:    rec.Signature,
			ErrorKind:    rec.ErrorKind,
			ErrorMessage: rec.ErrorMessage,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
			SubmittedAt:  rec.SubmittedAt,
			ResolvedAt:   rec.ResolvedAt,
		}, http.StatusOK)
	})
}

func accountToResponse(acct *wallet.Account) accountResponse {
	return accountResponse{
		PublicAddress:        acct.PublicAddress.String(),
		SecretKey:            acct.SecretKey.String(),
		RecoveryPhrase:       acct.RecoveryPhrase,
		RecoveryPhraseLinked: acct.RecoveryPhraseLinked,
	}
}

func balanceToResponse(bal *wallet.Balance) balanceResponse {
	return balanceResponse{
		Address:  bal.Address,
		Lamports: bal.Lamports,
		SOL:      bal.SOL.String(),
	}
}

func receiptToResponse(r *wallet.TransferReceipt) transferResponse {
	return transferResponse{
		ID:                    r.ID.String(),
		Signature:             r.Signature.String(),
		Sender:                r.Sender.String(),
		Recipient:             r.Recipient.String(),
		RecipientTokenAccount: r.RecipientTokenAccount.String(),
		Mint:                  r.Mint.String(),
		Amount:                strconv.FormatUint(r.Amount, 10),
		ProvisionedSender:     r.ProvisionedSender,
		ProvisionedRecipient:  r.ProvisionedRecipient,
	}
}

// decodeBody decodes a size-limited JSON body into dst. It writes the error
// response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		logger.Debug("failed to decode request body", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, errorResponse{Error: "request body too large"}, http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, errorResponse{Error: "invalid request body: must be valid JSON"}, http.StatusBadRequest)
		return false
	}
	return true
}

// parseAmount accepts a positive integer amount in base units.
func parseAmount(n json.Number) (uint64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, errorf("amount is required")
	}
	amount, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errorf("amount must be a positive integer number of base units")
	}
	if amount == 0 {
		return 0, errorf("amount must be greater than zero")
	}
	return amount, nil
}

// statusForKind maps a wallet failure classification to an HTTP status.
func statusForKind(kind wallet.Kind) int {
	switch kind {
	case wallet.KindInvalidAddress, wallet.KindInvalidAmount:
		return http.StatusBadRequest
	case wallet.KindAccountNotFound, wallet.KindTransferNotFound:
		return http.StatusNotFound
	case wallet.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case wallet.KindSenderAccountProvisionFailed, wallet.KindRecipientAccountProvisionFailed,
		wallet.KindTransferSubmissionFailed:
		return http.StatusBadGateway
	case wallet.KindQuoteUnavailable, wallet.KindLedgerUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeWalletError renders a wallet failure. Only the classified message is
// sent; the underlying cause goes to the log.
func writeWalletError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var werr *wallet.Error
	if !errors.As(err, &werr) {
		werr = &wallet.Error{Kind: wallet.KindInternal, Message: "internal server error", Err: err}
	}
	status := statusForKind(werr.Kind)

	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(r.Context(), level, "wallet request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"kind", string(werr.Kind),
		"status", status,
		"error", err,
	)

	writeError(w, errorResponse{
		Error:      werr.Message,
		Kind:       string(werr.Kind),
		Retryable:  werr.Retryable(),
		TransferID: werr.TransferID,
		Signature:  werr.Signature,
	}, status)
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeError(w, errorResponse{Error: err.Error(), Kind: string(wallet.KindInvalidAddress)}, http.StatusBadRequest)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, resp errorResponse, statusCode int) {
	writeJSON(w, resp, statusCode)
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return errorf("invalid address: not a 32-byte public key")
	}

	return nil
}

// validateCurrency validates an optional fiat currency code.
func validateCurrency(currency string) error {
	if currency == "" {
		return nil
	}
	if !validCurrencyRegex.MatchString(currency) {
		return errorf("invalid currency: must be a lowercase currency code such as usd")
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
