package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/brojonat/solwallet/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// OrchestratorConfig configures token transfers out of the treasury.
type OrchestratorConfig struct {
	Treasury     solanago.PrivateKey
	Mint         solanago.PublicKey
	TokenProgram solanago.PublicKey
	// PreflightBalanceCheck rejects transfers the treasury cannot cover
	// before any token account is provisioned.
	PreflightBalanceCheck bool
}

// Orchestrator moves tokens from the treasury to a recipient, provisioning
// associated token accounts on the way.
//
// Steps run strictly in order: validate, resolve/create the sender account,
// resolve/create the recipient account, build one transfer instruction,
// submit and confirm. A failure at any step stops the run. Everything before
// submission is safe to repeat; submission is not.
type Orchestrator struct {
	ledger       Ledger
	treasury     solanago.PrivateKey
	mint         solanago.PublicKey
	tokenProgram solanago.PublicKey
	preflight    bool
	onSubmit     func(ctx context.Context, intent TransferIntent, sig solanago.Signature) error
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewOrchestrator creates a transfer orchestrator. If m is nil, no metrics are recorded.
func NewOrchestrator(ledger Ledger, cfg OrchestratorConfig, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		ledger:       ledger,
		treasury:     cfg.Treasury,
		mint:         cfg.Mint,
		tokenProgram: cfg.TokenProgram,
		preflight:    cfg.PreflightBalanceCheck,
		metrics:      m,
		logger:       logger,
	}
}

// OnSubmit registers fn to run with the signed transaction's signature right
// before it is sent. If fn returns an error nothing is sent. Must be called
// before the first Transfer.
func (o *Orchestrator) OnSubmit(fn func(ctx context.Context, intent TransferIntent, sig solanago.Signature) error) {
	o.onSubmit = fn
}

// Sender is the treasury address transfers are paid from.
func (o *Orchestrator) Sender() solanago.PublicKey {
	return o.treasury.PublicKey()
}

// Transfer runs one intent to completion. On a submission failure the
// returned receipt still carries the signature, if one was produced, so
// the caller can track an undecided outcome.
func (o *Orchestrator) Transfer(ctx context.Context, intent TransferIntent) (*TransferReceipt, error) {
	if intent.Amount == 0 {
		return nil, newError(KindInvalidAmount, "amount must be greater than zero", nil)
	}
	if err := validateRecipient(intent.Recipient); err != nil {
		return nil, err
	}
	sender := o.Sender()
	if !intent.Sender.IsZero() && !intent.Sender.Equals(sender) {
		return nil, newError(KindInternal, "transfer sender is not the treasury", nil)
	}
	if !intent.Mint.IsZero() && !intent.Mint.Equals(o.mint) {
		return nil, newError(KindInternal, "transfer mint is not the configured mint", nil)
	}

	logger := o.logger.With(
		"transfer_id", intent.ID.String(),
		"recipient", intent.Recipient.String(),
		"amount", intent.Amount,
	)
	receipt := &TransferReceipt{
		ID:        intent.ID,
		Sender:    sender,
		Recipient: intent.Recipient,
		Mint:      o.mint,
		Amount:    intent.Amount,
	}

	// Sender token account
	senderRef, exists, err := o.ledger.FindTokenAccount(ctx, sender, o.mint, o.tokenProgram)
	if err != nil {
		return nil, newError(KindSenderAccountProvisionFailed, "could not resolve sender token account", err)
	}
	var balance uint64
	if exists {
		balance = senderRef.Balance
	}
	if o.preflight && (!exists || balance < intent.Amount) {
		logger.WarnContext(ctx, "treasury cannot cover transfer",
			"token_account_exists", exists,
			"balance", balance,
		)
		return nil, newError(KindInsufficientFunds, "insufficient token balance for transfer", nil)
	}
	if !exists {
		senderRef, err = o.provision(ctx, "sender", sender)
		if err != nil {
			return nil, newError(KindSenderAccountProvisionFailed, "could not create sender token account", err)
		}
		receipt.ProvisionedSender = true
	}

	// Recipient token account
	recipientRef, exists, err := o.ledger.FindTokenAccount(ctx, intent.Recipient, o.mint, o.tokenProgram)
	if err != nil {
		return nil, newError(KindRecipientAccountProvisionFailed, "could not resolve recipient token account", err)
	}
	if !exists {
		recipientRef, err = o.provision(ctx, "recipient", intent.Recipient)
		if err != nil {
			return nil, newError(KindRecipientAccountProvisionFailed, "could not create recipient token account", err)
		}
		receipt.ProvisionedRecipient = true
	}
	receipt.RecipientTokenAccount = recipientRef.Address

	ix := solana.NewTransferInstruction(o.tokenProgram, senderRef.Address, recipientRef.Address, sender, intent.Amount)

	beforeSend := func(sig solanago.Signature) error {
		if o.onSubmit == nil {
			return nil
		}
		return o.onSubmit(ctx, intent, sig)
	}
	sig, err := o.ledger.SubmitAndConfirm(ctx, []solanago.Instruction{ix}, beforeSend, o.treasury)
	receipt.Signature = sig
	if errors.Is(err, solana.ErrNotSent) {
		logger.ErrorContext(ctx, "transfer aborted before sending", "error", err)
		return receipt, newError(KindInternal, "transfer was not sent", err)
	}
	if err != nil {
		logger.ErrorContext(ctx, "transfer submission failed",
			"signature", sig.String(),
			"error", err,
		)
		return receipt, newError(KindTransferSubmissionFailed, "transfer was not confirmed by the ledger", err)
	}

	logger.InfoContext(ctx, "transfer confirmed",
		"signature", sig.String(),
		"provisioned_sender", receipt.ProvisionedSender,
		"provisioned_recipient", receipt.ProvisionedRecipient,
	)
	return receipt, nil
}

// validateRecipient rejects owners that cannot hold an associated token
// account: the zero key and off-curve addresses such as program derived ones.
func validateRecipient(recipient solanago.PublicKey) error {
	if recipient.IsZero() {
		return newError(KindInvalidAddress, "recipient address is required", nil)
	}
	if !solanago.IsOnCurve(recipient[:]) {
		return newError(KindInvalidAddress, "recipient address is not on the ed25519 curve", nil)
	}
	return nil
}

func (o *Orchestrator) provision(ctx context.Context, party string, owner solanago.PublicKey) (*solana.TokenAccountRef, error) {
	ref, err := o.ledger.CreateTokenAccount(ctx, o.treasury, owner, o.mint, o.tokenProgram)
	if o.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordTokenAccountProvision(party, status)
	}
	if err != nil {
		return nil, fmt.Errorf("provision %s token account for %s: %w", party, owner, err)
	}
	return ref, nil
}
