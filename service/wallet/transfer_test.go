package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/solwallet/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orchestratorFixture struct {
	ledger    *fakeLedger
	orch      *Orchestrator
	treasury  solanago.PrivateKey
	mint      solanago.PublicKey
	recipient solanago.PublicKey
}

func newOrchestratorFixture(t *testing.T, preflight bool) *orchestratorFixture {
	t.Helper()
	treasury := newKey(t)
	mint := newKey(t).PublicKey()
	ledger := newFakeLedger()
	orch := NewOrchestrator(ledger, OrchestratorConfig{
		Treasury:              treasury,
		Mint:                  mint,
		TokenProgram:          solana.TokenProgramID,
		PreflightBalanceCheck: preflight,
	}, nil, discardLogger())
	return &orchestratorFixture{
		ledger:    ledger,
		orch:      orch,
		treasury:  treasury,
		mint:      mint,
		recipient: newKey(t).PublicKey(),
	}
}

func (f *orchestratorFixture) intent(amount uint64) TransferIntent {
	return TransferIntent{ID: uuid.New(), Recipient: f.recipient, Amount: amount}
}

func TestTransfer_BothAccountsExist(t *testing.T) {
	f := newOrchestratorFixture(t, true)
	f.ledger.withTokenAccount(f.treasury.PublicKey(), f.mint, 1_000_000)
	f.ledger.withTokenAccount(f.recipient, f.mint, 0)

	receipt, err := f.orch.Transfer(context.Background(), f.intent(250))
	require.NoError(t, err)

	assert.Equal(t, 0, f.ledger.createdCount(), "no token account should be created")
	require.Equal(t, 1, f.ledger.submitCount())
	assert.False(t, receipt.ProvisionedSender)
	assert.False(t, receipt.ProvisionedRecipient)
	assert.Equal(t, f.ledger.submitSig, receipt.Signature)
	assert.Equal(t, f.treasury.PublicKey(), receipt.Sender)
	assert.Equal(t, f.mint, receipt.Mint)
	assert.Equal(t, uint64(250), receipt.Amount)

	// Exactly one transfer instruction, signed by the treasury only.
	ixs := f.ledger.submissions[0]
	require.Len(t, ixs, 1)
	ix := ixs[0]
	assert.Equal(t, solana.TokenProgramID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	amount, err := solana.DecodeTransferAmount(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), amount)

	senderATA, err := solana.FindAssociatedTokenAddress(f.treasury.PublicKey(), f.mint, solana.TokenProgramID)
	require.NoError(t, err)
	recipientATA, err := solana.FindAssociatedTokenAddress(f.recipient, f.mint, solana.TokenProgramID)
	require.NoError(t, err)

	accounts := ix.Accounts()
	require.Len(t, accounts, 3)
	assert.Equal(t, senderATA, accounts[0].PublicKey)
	assert.Equal(t, recipientATA, accounts[1].PublicKey)
	assert.Equal(t, f.treasury.PublicKey(), accounts[2].PublicKey)
	assert.True(t, accounts[2].IsSigner)
	assert.Equal(t, recipientATA, receipt.RecipientTokenAccount)

	require.Len(t, f.ledger.signers[0], 1)
	assert.Equal(t, f.treasury.PublicKey(), f.ledger.signers[0][0].PublicKey())
}

func TestTransfer_ProvisionsMissingRecipientOnce(t *testing.T) {
	f := newOrchestratorFixture(t, true)
	f.ledger.withTokenAccount(f.treasury.PublicKey(), f.mint, 1_000_000)

	receipt, err := f.orch.Transfer(context.Background(), f.intent(10))
	require.NoError(t, err)
	assert.True(t, receipt.ProvisionedRecipient)
	assert.False(t, receipt.ProvisionedSender)
	require.Equal(t, 1, f.ledger.createdCount())
	assert.Equal(t, f.recipient, f.ledger.created[0])

	// Provisioning is not repeated once the account exists.
	receipt, err = f.orch.Transfer(context.Background(), f.intent(10))
	require.NoError(t, err)
	assert.False(t, receipt.ProvisionedRecipient)
	assert.Equal(t, 1, f.ledger.createdCount())
	assert.Equal(t, 2, f.ledger.submitCount())
}

func TestTransfer_StepOrder(t *testing.T) {
	f := newOrchestratorFixture(t, false)

	var hookCalls []string
	f.orch.OnSubmit(func(ctx context.Context, intent TransferIntent, sig solanago.Signature) error {
		hookCalls = append(hookCalls, "hook")
		// The hook runs before anything is submitted.
		assert.Equal(t, 0, f.ledger.submitCount())
		assert.Equal(t, f.ledger.submitSig, sig)
		return nil
	})

	_, err := f.orch.Transfer(context.Background(), f.intent(5))
	require.NoError(t, err)

	sender := f.treasury.PublicKey().String()
	recipient := f.recipient.String()
	assert.Equal(t, []string{
		"find:" + sender,
		"create:" + sender,
		"find:" + recipient,
		"create:" + recipient,
		"submit",
	}, f.ledger.callLog())
	assert.Equal(t, []string{"hook"}, hookCalls)
}

func TestTransfer_HookFailureSendsNothing(t *testing.T) {
	f := newOrchestratorFixture(t, false)
	f.orch.OnSubmit(func(ctx context.Context, intent TransferIntent, sig solanago.Signature) error {
		return errors.New("journal unavailable")
	})

	receipt, err := f.orch.Transfer(context.Background(), f.intent(5))
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.True(t, errors.Is(err, solana.ErrNotSent))
	assert.False(t, solana.OutcomeUnknown(err))
	require.NotNil(t, receipt)
	assert.Equal(t, solanago.Signature{}, receipt.Signature)
	assert.Equal(t, 0, f.ledger.submitCount())
}

func TestTransfer_RejectsZeroAmount(t *testing.T) {
	f := newOrchestratorFixture(t, true)

	_, err := f.orch.Transfer(context.Background(), f.intent(0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidAmount))
	assert.Empty(t, f.ledger.callLog(), "no ledger call before validation passes")
}

func TestTransfer_RejectsZeroRecipient(t *testing.T) {
	f := newOrchestratorFixture(t, true)

	_, err := f.orch.Transfer(context.Background(), TransferIntent{ID: uuid.New(), Amount: 1})
	assert.True(t, errors.Is(err, ErrInvalidAddress))
	assert.Empty(t, f.ledger.callLog())
}

func TestTransfer_RejectsOffCurveRecipient(t *testing.T) {
	f := newOrchestratorFixture(t, true)
	f.ledger.withTokenAccount(f.treasury.PublicKey(), f.mint, 1_000)
	pda, _, err := solanago.FindProgramAddress([][]byte{[]byte("vault")}, solana.TokenProgramID)
	require.NoError(t, err)

	intent := f.intent(10)
	intent.Recipient = pda
	_, err = f.orch.Transfer(context.Background(), intent)
	assert.True(t, errors.Is(err, ErrInvalidAddress))
	assert.Empty(t, f.ledger.callLog(), "no token account is created for an off-curve owner")
}

func TestTransfer_RejectsForeignSender(t *testing.T) {
	f := newOrchestratorFixture(t, true)
	intent := f.intent(1)
	intent.Sender = newKey(t).PublicKey()

	_, err := f.orch.Transfer(context.Background(), intent)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Empty(t, f.ledger.callLog())
}

func TestTransfer_Preflight(t *testing.T) {
	tests := []struct {
		name          string
		senderBalance *uint64
		amount        uint64
		wantErr       *Error
	}{
		{name: "sender account missing", senderBalance: nil, amount: 1, wantErr: ErrInsufficientFunds},
		{name: "balance too low", senderBalance: ptr(uint64(9)), amount: 10, wantErr: ErrInsufficientFunds},
		{name: "exact balance", senderBalance: ptr(uint64(10)), amount: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t, true)
			if tt.senderBalance != nil {
				f.ledger.withTokenAccount(f.treasury.PublicKey(), f.mint, *tt.senderBalance)
			}

			_, err := f.orch.Transfer(context.Background(), f.intent(tt.amount))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Equal(t, 0, f.ledger.createdCount(), "nothing is provisioned when preflight fails")
				assert.Equal(t, 0, f.ledger.submitCount())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, f.ledger.submitCount())
		})
	}
}

func TestTransfer_WithoutPreflightProvisionsSender(t *testing.T) {
	f := newOrchestratorFixture(t, false)
	f.ledger.withTokenAccount(f.recipient, f.mint, 0)

	receipt, err := f.orch.Transfer(context.Background(), f.intent(1))
	require.NoError(t, err)
	assert.True(t, receipt.ProvisionedSender)
	assert.False(t, receipt.ProvisionedRecipient)
	require.Equal(t, 1, f.ledger.createdCount())
	assert.Equal(t, f.treasury.PublicKey(), f.ledger.created[0])
}

func TestTransfer_ProvisionFailures(t *testing.T) {
	t.Run("sender lookup fails", func(t *testing.T) {
		f := newOrchestratorFixture(t, false)
		f.ledger.findErr = errors.New("rpc down")

		_, err := f.orch.Transfer(context.Background(), f.intent(1))
		assert.True(t, errors.Is(err, ErrSenderAccountProvisionFailed))
		assert.Equal(t, 0, f.ledger.submitCount())
	})

	t.Run("sender create fails", func(t *testing.T) {
		f := newOrchestratorFixture(t, false)
		f.ledger.createErr[f.treasury.PublicKey()] = errors.New("blockhash expired")

		_, err := f.orch.Transfer(context.Background(), f.intent(1))
		assert.True(t, errors.Is(err, ErrSenderAccountProvisionFailed))
		assert.Equal(t, 0, f.ledger.submitCount())
		assert.NotContains(t, f.ledger.callLog(), "find:"+f.recipient.String())
	})

	t.Run("recipient create fails", func(t *testing.T) {
		f := newOrchestratorFixture(t, true)
		f.ledger.withTokenAccount(f.treasury.PublicKey(), f.mint, 100)
		f.ledger.createErr[f.recipient] = errors.New("insufficient lamports for rent")

		_, err := f.orch.Transfer(context.Background(), f.intent(1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRecipientAccountProvisionFailed))
		assert.False(t, errors.Is(err, ErrSenderAccountProvisionFailed))
		assert.Equal(t, 0, f.ledger.submitCount())
	})
}

func TestTransfer_SubmissionFailureKeepsSignature(t *testing.T) {
	f := newOrchestratorFixture(t, true)
	f.ledger.withTokenAccount(f.treasury.PublicKey(), f.mint, 100)
	f.ledger.withTokenAccount(f.recipient, f.mint, 0)
	f.ledger.submitErr = solana.ErrConfirmationTimeout

	receipt, err := f.orch.Transfer(context.Background(), f.intent(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransferSubmissionFailed))
	assert.True(t, errors.Is(err, solana.ErrConfirmationTimeout))
	require.NotNil(t, receipt)
	assert.Equal(t, f.ledger.submitSig, receipt.Signature)
}

func ptr[T any](v T) *T {
	return &v
}
