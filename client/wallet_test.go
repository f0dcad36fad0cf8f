package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func TestCreateAccount_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/accounts", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"public_address":         testAddress,
			"secret_key":             "secret",
			"recovery_phrase":        "abandon ability able",
			"recovery_phrase_linked": false,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	acct, err := client.CreateAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testAddress, acct.PublicAddress)
	assert.Equal(t, "secret", acct.SecretKey)
	assert.Equal(t, "abandon ability able", acct.RecoveryPhrase)
	assert.False(t, acct.RecoveryPhraseLinked)
}

func TestGetBalance_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/accounts/"+testAddress+"/balance", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address":  testAddress,
			"lamports": 1500000000,
			"sol":      "1.5",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	bal, err := client.GetBalance(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500000000), bal.Lamports)
	assert.Equal(t, "1.5", bal.SOL)
}

func TestGetFiatBalance_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/"+testAddress+"/balance/fiat", r.URL.Path)
		assert.Equal(t, "eur", r.URL.Query().Get("currency"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address":  testAddress,
			"lamports": 1500000000,
			"sol":      "1.5",
			"currency": "eur",
			"rate":     "150.25",
			"value":    "225.375",
			"as_of":    "2025-01-02T03:04:05Z",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	bal, err := client.GetFiatBalance(context.Background(), testAddress, "eur")
	require.NoError(t, err)
	assert.Equal(t, "eur", bal.Currency)
	assert.Equal(t, "225.375", bal.Value)
	assert.Equal(t, uint64(1500000000), bal.Lamports)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), bal.AsOf.UTC())
}

func TestGetFiatBalance_DefaultCurrencyOmitsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"address": testAddress, "currency": "usd"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	bal, err := client.GetFiatBalance(context.Background(), testAddress, "")
	require.NoError(t, err)
	assert.Equal(t, "usd", bal.Currency)
}

func TestGetAccountInfo_TokenAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/"+testAddress, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"address":"` + testAddress + `","lamports":2039280,"owner":"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA","space":165,"token_account":{"amount":42}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	info, err := client.GetAccountInfo(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(2039280), info.Lamports)
	assert.Equal(t, 165, info.Space)
	assert.JSONEq(t, `{"amount":42}`, string(info.TokenAccount))
	assert.Nil(t, info.Mint)
}

func TestGetAccountInfo_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":     "account not found",
			"kind":      "account_not_found",
			"retryable": false,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetAccountInfo(context.Background(), testAddress)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "account_not_found", apiErr.Kind)
	assert.Contains(t, err.Error(), "account not found")
}

func TestTransfer_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "order-42", r.Header.Get("Idempotency-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testAddress, body["recipient"])
		assert.Equal(t, "18446744073709551615", body["amount"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":                    "0b7c3c1e-3f7a-4d8e-9c1a-6a1d2b3c4d5e",
			"signature":             "5sig",
			"recipient":             testAddress,
			"amount":                "18446744073709551615",
			"provisioned_recipient": true,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	tr, err := client.Transfer(context.Background(), testAddress, 18446744073709551615, "order-42")
	require.NoError(t, err)
	assert.Equal(t, "5sig", tr.Signature)
	assert.Equal(t, uint64(18446744073709551615), tr.Amount)
	assert.True(t, tr.ProvisionedRecipient)
	assert.False(t, tr.ProvisionedSender)
}

func TestTransfer_NoIdempotencyKeyOmitsHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header["Idempotency-Key"]
		assert.False(t, ok)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "x", "amount": "1"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Transfer(context.Background(), testAddress, 1, "")
	require.NoError(t, err)
}

func TestTransfer_RetryableFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":     "ledger unavailable",
			"kind":      "ledger_unavailable",
			"retryable": true,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Transfer(context.Background(), testAddress, 1000, "order-43")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Retryable)
	assert.Equal(t, "ledger_unavailable", apiErr.Kind)
}

func TestTransfer_OutcomeUnknownCarriesTransferID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":       "transfer was not confirmed by the ledger",
			"kind":        "transfer_submission_failed",
			"retryable":   false,
			"transfer_id": "2f0c8f1e-8a4e-4f57-9d43-2f1b2f0a9b11",
			"signature":   "5sigUnknown",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Transfer(context.Background(), testAddress, 1000, "order-44")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.Retryable)
	assert.Equal(t, "2f0c8f1e-8a4e-4f57-9d43-2f1b2f0a9b11", apiErr.TransferID)
	assert.Equal(t, "5sigUnknown", apiErr.Signature)
}

func TestTransfer_InvalidAmountInResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "x", "amount": "lots"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Transfer(context.Background(), testAddress, 1, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid amount")
}

func TestGetTransfer_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transfers/abc", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":         "abc",
			"status":     "submitted",
			"amount":     "1000",
			"signature":  "5sig",
			"created_at": "2025-01-02T03:04:05Z",
			"updated_at": "2025-01-02T03:04:06Z",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	rec, err := client.GetTransfer(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "submitted", rec.Status)
	assert.Equal(t, uint64(1000), rec.Amount)
	require.NotNil(t, rec.Signature)
	assert.Equal(t, "5sig", *rec.Signature)
	assert.Nil(t, rec.ResolvedAt)
}

func TestParseErrorResponse_NonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetBalance(context.Background(), testAddress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.Health(context.Background()))
}

func TestHealth_Unhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.GetBalance(ctx, testAddress)
	require.Error(t, err)
}
