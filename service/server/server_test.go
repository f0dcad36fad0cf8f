package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/metrics"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

// fakeWallet is a hand-written WalletService. Each operation returns the
// configured value or error and records its arguments.
type fakeWallet struct {
	mu sync.Mutex

	account    *wallet.Account
	accountErr error

	balance    *wallet.Balance
	balanceErr error

	fiat     *wallet.FiatBalance
	fiatErr  error
	currency string

	info    *solana.AccountInfo
	infoErr error

	receipt       *wallet.TransferReceipt
	transferErr   error
	transferDelay time.Duration
	transferCalls int
	recipient     string
	amount        uint64

	record    *wallet.TransferRecord
	recordErr error
	recordID  string

	addresses []string
}

func newFakeWallet(t *testing.T) *fakeWallet {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)

	signer, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	recipient := solanago.MustPublicKeyFromBase58(testAddress)

	return &fakeWallet{
		account: &wallet.Account{
			PublicAddress:  key.PublicKey(),
			SecretKey:      key,
			RecoveryPhrase: "abandon ability able about above absent absorb abstract absurd abuse access accident",
		},
		balance: &wallet.Balance{
			Address:  testAddress,
			Lamports: 1_500_000_000,
			SOL:      decimal.RequireFromString("1.5"),
		},
		fiat: &wallet.FiatBalance{
			Balance: wallet.Balance{
				Address:  testAddress,
				Lamports: 1_500_000_000,
				SOL:      decimal.RequireFromString("1.5"),
			},
			Currency: "usd",
			Rate:     decimal.RequireFromString("150.25"),
			Value:    decimal.RequireFromString("225.375"),
			AsOf:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		info: &solana.AccountInfo{
			Address:  testAddress,
			Lamports: 2_039_280,
			Owner:    solana.TokenProgramID.String(),
			Space:    165,
		},
		receipt: &wallet.TransferReceipt{
			ID:                    uuid.MustParse("6f1c8d7e-2a3b-4c5d-8e9f-0a1b2c3d4e5f"),
			Signature:             solanago.Signature{1, 2, 3},
			Sender:                signer.PublicKey(),
			Recipient:             recipient,
			RecipientTokenAccount: recipient,
			Mint:                  solanago.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"),
			Amount:                1000,
			ProvisionedRecipient:  true,
		},
		record: &wallet.TransferRecord{
			ID:        uuid.MustParse("6f1c8d7e-2a3b-4c5d-8e9f-0a1b2c3d4e5f"),
			Sender:    signer.PublicKey().String(),
			Recipient: testAddress,
			Mint:      "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
			Amount:    1000,
			Status:    db.StatusSubmitted,
			CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			UpdatedAt: time.Date(2025, 1, 2, 3, 4, 6, 0, time.UTC),
		},
	}
}

func (f *fakeWallet) CreateAccount(ctx context.Context) (*wallet.Account, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return f.account, nil
}

func (f *fakeWallet) GetBalance(ctx context.Context, address string) (*wallet.Balance, error) {
	f.mu.Lock()
	f.addresses = append(f.addresses, address)
	f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeWallet) GetBalanceInFiat(ctx context.Context, address, currency string) (*wallet.FiatBalance, error) {
	f.mu.Lock()
	f.addresses = append(f.addresses, address)
	f.currency = currency
	f.mu.Unlock()
	if f.fiatErr != nil {
		return nil, f.fiatErr
	}
	return f.fiat, nil
}

func (f *fakeWallet) GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error) {
	f.mu.Lock()
	f.addresses = append(f.addresses, address)
	f.mu.Unlock()
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeWallet) Transfer(ctx context.Context, recipient string, amount uint64) (*wallet.TransferReceipt, error) {
	f.mu.Lock()
	f.transferCalls++
	f.recipient = recipient
	f.amount = amount
	err := f.transferErr
	delay := f.transferDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return f.receipt, nil
}

func (f *fakeWallet) GetTransfer(ctx context.Context, id string) (*wallet.TransferRecord, error) {
	f.mu.Lock()
	f.recordID = id
	f.mu.Unlock()
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	return f.record, nil
}

func (f *fakeWallet) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transferCalls
}

func (f *fakeWallet) ledgerCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.addresses)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(svc WalletService, idem *Idempotency, m *metrics.Metrics) http.Handler {
	return New(":0", svc, idem, m, testLogger()).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := newTestHandler(newFakeWallet(t), nil, nil)

	w := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(newFakeWallet(t), nil, nil)

	w := do(t, h, http.MethodOptions, "/api/v1/transfers", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("served when metrics are configured", func(t *testing.T) {
		m := metrics.NewMetrics(prometheus.NewRegistry())
		h := newTestHandler(newFakeWallet(t), nil, m)

		// Drive one instrumented route so the middleware records something.
		w := do(t, h, http.MethodGet, "/api/v1/accounts/"+testAddress+"/balance", "")
		require.Equal(t, http.StatusOK, w.Code)

		w = do(t, h, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("absent without metrics", func(t *testing.T) {
		h := newTestHandler(newFakeWallet(t), nil, nil)

		w := do(t, h, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUnknownMethodRejected(t *testing.T) {
	h := newTestHandler(newFakeWallet(t), nil, nil)

	w := do(t, h, http.MethodDelete, "/api/v1/transfers", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestWriteTimeoutCoversTransferConfirmations(t *testing.T) {
	s := New(":0", newFakeWallet(t), nil, nil, testLogger())
	assert.Equal(t, 90*time.Second, s.httpServer().WriteTimeout)

	// Sender account, recipient account and transfer each wait for confirmation.
	s.SetConfirmTimeout(60 * time.Second)
	assert.Equal(t, 210*time.Second, s.httpServer().WriteTimeout)
	assert.Greater(t, s.httpServer().WriteTimeout, 3*60*time.Second)

	// Short confirmation timeouts keep the default.
	s.SetConfirmTimeout(5 * time.Second)
	assert.Equal(t, 90*time.Second, s.httpServer().WriteTimeout)
}
