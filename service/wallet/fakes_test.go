package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/oracle"
	"github.com/brojonat/solwallet/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKey(t *testing.T) solanago.PrivateKey {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// fakeLedger is an in-memory ledger. Token accounts are keyed by owner since
// tests only use a single mint.
type fakeLedger struct {
	mu sync.Mutex

	balances   map[solanago.PublicKey]uint64
	balanceErr error

	accounts map[solanago.PublicKey]*solana.AccountInfo
	infoErr  error

	tokenAccounts map[solanago.PublicKey]*solana.TokenAccountRef
	findErr       error
	createErr     map[solanago.PublicKey]error
	submitErr     error
	submitSig     solanago.Signature

	// onSubmit runs inside SubmitAndConfirm, before it returns.
	onSubmit func()

	calls       []string
	created     []solanago.PublicKey
	submissions [][]solanago.Instruction
	signers     [][]solanago.PrivateKey
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:      make(map[solanago.PublicKey]uint64),
		accounts:      make(map[solanago.PublicKey]*solana.AccountInfo),
		tokenAccounts: make(map[solanago.PublicKey]*solana.TokenAccountRef),
		createErr:     make(map[solanago.PublicKey]error),
		submitSig:     solanago.Signature{7, 7, 7},
	}
}

// withTokenAccount registers an existing associated token account for owner.
func (f *fakeLedger) withTokenAccount(owner, mint solanago.PublicKey, balance uint64) *fakeLedger {
	addr, err := solana.FindAssociatedTokenAddress(owner, mint, solana.TokenProgramID)
	if err != nil {
		panic(err)
	}
	f.tokenAccounts[owner] = &solana.TokenAccountRef{Owner: owner, Mint: mint, Address: addr, Balance: balance}
	return f
}

func (f *fakeLedger) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeLedger) GetBalance(ctx context.Context, address solanago.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("balance")
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balances[address], nil
}

func (f *fakeLedger) GetAccountInfo(ctx context.Context, address solanago.PublicKey) (*solana.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("account_info")
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	info, ok := f.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", solana.ErrAccountNotFound, address)
	}
	return info, nil
}

func (f *fakeLedger) FindTokenAccount(ctx context.Context, owner, mint, tokenProgram solanago.PublicKey) (*solana.TokenAccountRef, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("find:" + owner.String())
	if f.findErr != nil {
		return nil, false, f.findErr
	}
	if ref, ok := f.tokenAccounts[owner]; ok {
		cp := *ref
		return &cp, true, nil
	}
	addr, err := solana.FindAssociatedTokenAddress(owner, mint, tokenProgram)
	if err != nil {
		return nil, false, err
	}
	return &solana.TokenAccountRef{Owner: owner, Mint: mint, Address: addr}, false, nil
}

func (f *fakeLedger) CreateTokenAccount(ctx context.Context, payer solanago.PrivateKey, owner, mint, tokenProgram solanago.PublicKey) (*solana.TokenAccountRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create:" + owner.String())
	if err := f.createErr[owner]; err != nil {
		return nil, err
	}
	f.created = append(f.created, owner)
	if ref, ok := f.tokenAccounts[owner]; ok {
		cp := *ref
		return &cp, nil
	}
	addr, err := solana.FindAssociatedTokenAddress(owner, mint, tokenProgram)
	if err != nil {
		return nil, err
	}
	ref := &solana.TokenAccountRef{Owner: owner, Mint: mint, Address: addr}
	f.tokenAccounts[owner] = ref
	cp := *ref
	return &cp, nil
}

func (f *fakeLedger) SubmitAndConfirm(ctx context.Context, instructions []solanago.Instruction, beforeSend func(solanago.Signature) error, signers ...solanago.PrivateKey) (solanago.Signature, error) {
	f.mu.Lock()
	sig := f.submitSig
	f.mu.Unlock()
	if beforeSend != nil {
		if err := beforeSend(sig); err != nil {
			return solanago.Signature{}, fmt.Errorf("%w: %v", solana.ErrNotSent, err)
		}
	}

	f.mu.Lock()
	f.record("submit")
	f.submissions = append(f.submissions, instructions)
	f.signers = append(f.signers, signers)
	hook, err := f.onSubmit, f.submitErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return sig, err
}

func (f *fakeLedger) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeLedger) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submissions)
}

func (f *fakeLedger) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeOracle returns a fixed quote or error.
type fakeOracle struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (f *fakeOracle) GetRate(ctx context.Context, base, currency string) (*oracle.Quote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &oracle.Quote{Base: base, Currency: currency, Rate: f.rate, AsOf: time.Unix(1718000000, 0).UTC(), Source: "fake"}, nil
}

// fakeJournal is an in-memory transfer journal with the same status rules as db.Store.
type fakeJournal struct {
	mu        sync.Mutex
	transfers map[uuid.UUID]*db.Transfer
	createErr error
	markErr   error
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{transfers: make(map[uuid.UUID]*db.Transfer)}
}

func (j *fakeJournal) CreateTransfer(ctx context.Context, p db.CreateTransferParams) (*db.Transfer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.createErr != nil {
		return nil, j.createErr
	}
	now := time.Now().UTC()
	t := &db.Transfer{
		ID: p.ID, Sender: p.Sender, Recipient: p.Recipient, Mint: p.Mint, Amount: p.Amount,
		Status: db.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	j.transfers[p.ID] = t
	cp := *t
	return &cp, nil
}

func (j *fakeJournal) update(id uuid.UUID, allowed []string, fn func(t *db.Transfer)) (*db.Transfer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.transfers[id]
	if !ok {
		return nil, db.ErrTransferNotFound
	}
	for _, st := range allowed {
		if t.Status == st {
			fn(t)
			t.UpdatedAt = time.Now().UTC()
			cp := *t
			return &cp, nil
		}
	}
	return nil, db.ErrTransferNotFound
}

func (j *fakeJournal) MarkTransferSubmitted(ctx context.Context, id uuid.UUID, signature string) (*db.Transfer, error) {
	j.mu.Lock()
	markErr := j.markErr
	j.mu.Unlock()
	if markErr != nil {
		return nil, markErr
	}
	return j.update(id, []string{db.StatusPending}, func(t *db.Transfer) {
		now := time.Now().UTC()
		t.Status = db.StatusSubmitted
		t.Signature = &signature
		t.SubmittedAt = &now
	})
}

func (j *fakeJournal) MarkTransferConfirmed(ctx context.Context, id uuid.UUID, signature string) (*db.Transfer, error) {
	return j.update(id, []string{db.StatusPending, db.StatusSubmitted}, func(t *db.Transfer) {
		now := time.Now().UTC()
		t.Status = db.StatusConfirmed
		t.Signature = &signature
		t.ResolvedAt = &now
	})
}

func (j *fakeJournal) MarkTransferFailed(ctx context.Context, id uuid.UUID, kind, message string) (*db.Transfer, error) {
	return j.update(id, []string{db.StatusPending, db.StatusSubmitted}, func(t *db.Transfer) {
		now := time.Now().UTC()
		t.Status = db.StatusFailed
		t.ErrorKind = &kind
		t.ErrorMessage = &message
		t.ResolvedAt = &now
	})
}

func (j *fakeJournal) GetTransfer(ctx context.Context, id uuid.UUID) (*db.Transfer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.transfers[id]
	if !ok {
		return nil, db.ErrTransferNotFound
	}
	cp := *t
	return &cp, nil
}

func (j *fakeJournal) only(t *testing.T) *db.Transfer {
	t.Helper()
	j.mu.Lock()
	defer j.mu.Unlock()
	require.Len(t, j.transfers, 1)
	for _, tr := range j.transfers {
		cp := *tr
		return &cp
	}
	return nil
}

// failingReader always errors, standing in for an exhausted entropy source.
type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("entropy source exhausted")
}
