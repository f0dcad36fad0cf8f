package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/brojonat/solwallet/service/wallet"
)

// Routes and payload shapes of the original express service. Request bodies
// carry the address as {"address": "..."}; errors use the same JSON error
// body as the rest of the API.

type legacyAddressRequest struct {
	Address string `json:"address"`
}

type legacyAccountResponse struct {
	Passphrase string `json:"passphrase"`
	PrivateKey []int  `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// handleLegacyCreateWallet returns a handler that generates a new account.
// GET /solana/create-wallet
func handleLegacyCreateWallet(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := svc.CreateAccount(r.Context())
		if err != nil {
			writeWalletError(w, r, logger, err)
			return
		}

		secret := make([]int, len(acct.SecretKey))
		for i, b := range acct.SecretKey {
			secret[i] = int(b)
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, legacyAccountResponse{
			Passphrase: acct.RecoveryPhrase,
			PrivateKey: secret,
			PublicKey:  acct.PublicAddress.String(),
		}, http.StatusOK)
	})
}

// handleLegacyBalance returns a handler that reports a balance in lamports.
// POST /solana/account-balance {"address": "..."} -> {"balance": lamports}
func handleLegacyBalance(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req legacyAddressRequest
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if err := validateAddress(req.Address); err != nil {
			writeValidationError(w, err)
			return
		}

		bal, err := svc.GetBalance(r.Context(), req.Address)
		if err != nil {
			writeWalletError(w, r, logger, err)
			return
		}

		writeJSON(w, map[string]uint64{"balance": bal.Lamports}, http.StatusOK)
	})
}

// handleLegacyBalanceUSD returns a handler that reports a balance valued in USD.
// POST /solana/account-balance-usd {"address": "..."} -> {"balance": usd}
func handleLegacyBalanceUSD(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req legacyAddressRequest
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if err := validateAddress(req.Address); err != nil {
			writeValidationError(w, err)
			return
		}

		bal, err := svc.GetBalanceInFiat(r.Context(), req.Address, "usd")
		if err != nil {
			writeWalletError(w, r, logger, err)
			return
		}

		// Exact decimal rendered as a JSON number.
		writeJSON(w, map[string]json.Number{"balance": json.Number(bal.Value.String())}, http.StatusOK)
	})
}

// handleLegacyContractInfo returns a handler that reports the account at an address.
// POST /solana/contract-info {"address": "..."}
func handleLegacyContractInfo(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req legacyAddressRequest
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if err := validateAddress(req.Address); err != nil {
			writeValidationError(w, err)
			return
		}

		info, err := svc.GetAccountInfo(r.Context(), req.Address)
		if err != nil {
			writeWalletError(w, r, logger, err)
			return
		}

		writeJSON(w, info, http.StatusOK)
	})
}

// handleLegacySend returns a handler that sends tokens from the treasury.
// POST /solana/send {"address": "...", "amount": 1000} -> "<signature>"
func handleLegacySend(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Address string      `json:"address"`
			Amount  json.Number `json:"amount"`
		}
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if err := validateAddress(req.Address); err != nil {
			writeValidationError(w, err)
			return
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, errorResponse{Error: err.Error(), Kind: string(wallet.KindInvalidAmount)}, http.StatusBadRequest)
			return
		}

		receipt, err := svc.Transfer(r.Context(), req.Address, amount)
		if err != nil {
			writeWalletError(w, r, logger, err)
			return
		}

		writeJSON(w, receipt.Signature.String(), http.StatusOK)
	})
}
