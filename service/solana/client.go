package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrAccountNotFound is returned when an address holds no on-chain account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionRejected means the node refused the transaction before it
	// could be included. Nothing landed.
	ErrTransactionRejected = errors.New("transaction rejected")

	// ErrTransactionFailed means the transaction was included and failed. Nothing moved.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrNotSent means the transaction never left the process. Nothing landed.
	ErrNotSent = errors.New("transaction not sent")

	// ErrConfirmationTimeout means the transaction was sent but not seen as
	// confirmed before the deadline. It may still land.
	ErrConfirmationTimeout = errors.New("transaction not confirmed before deadline")
)

// OutcomeUnknown reports whether err leaves the fate of a sent transaction undecided.
func OutcomeUnknown(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrNotSent) &&
		!errors.Is(err, ErrTransactionRejected) &&
		!errors.Is(err, ErrTransactionFailed)
}

// GatewayConfig holds tuning for ledger access.
type GatewayConfig struct {
	Endpoint       string             // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	Commitment     rpc.CommitmentType // defaults to confirmed
	ConfirmTimeout time.Duration      // upper bound for send + confirmation
	PollInterval   time.Duration      // signature status polling interval
}

// Gateway provides the ledger operations the wallet needs: balance and
// account reads, associated token account provisioning and transaction
// submission with confirmation.
type Gateway struct {
	rpc            RPCClient
	logger         *slog.Logger
	metrics        *metrics.Metrics
	endpoint       string
	commitment     rpc.CommitmentType
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// NewGateway creates a new ledger gateway.
// If metrics is nil, no metrics will be recorded.
func NewGateway(rpcClient RPCClient, cfg GatewayConfig, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	g := &Gateway{
		rpc:            rpcClient,
		logger:         logger,
		metrics:        m,
		endpoint:       cfg.Endpoint,
		commitment:     cfg.Commitment,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
	}
	if g.commitment == "" {
		g.commitment = rpc.CommitmentConfirmed
	}
	if g.confirmTimeout <= 0 {
		g.confirmTimeout = 60 * time.Second
	}
	if g.pollInterval <= 0 {
		g.pollInterval = 500 * time.Millisecond
	}
	return g
}

func (g *Gateway) recordCall(method string, start time.Time, err error) {
	if g.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	g.metrics.RecordRPCCall(method, status, g.endpoint, time.Since(start).Seconds())
}

// GetBalance returns the native balance in lamports. Addresses with no
// account report zero.
func (g *Gateway) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := g.rpc.GetBalance(ctx, address, g.commitment)
	g.recordCall("GetBalance", start, err)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to get balance",
			"address", address.String(),
			"error", err,
		)
		return 0, fmt.Errorf("failed to get balance for %s: %w", address, err)
	}
	return out.Value, nil
}

// GetAccountInfo returns the account stored at address, decoding SPL token
// accounts and mints. Returns ErrAccountNotFound if there is none.
func (g *Gateway) GetAccountInfo(ctx context.Context, address solana.PublicKey) (*AccountInfo, error) {
	acct, err := g.getAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	return accountToDomain(address, acct), nil
}

func (g *Gateway) getAccount(ctx context.Context, address solana.PublicKey) (*rpc.Account, error) {
	start := time.Now()
	out, err := g.rpc.GetAccountInfo(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: g.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		g.recordCall("GetAccountInfo", start, nil)
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	g.recordCall("GetAccountInfo", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get account info for %s: %w", address, err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return out.Value, nil
}

// FindTokenAccount resolves the associated token account for owner and mint.
// The boolean is false when the account has not been created yet; the
// returned ref still carries the derived address.
func (g *Gateway) FindTokenAccount(ctx context.Context, owner, mint, tokenProgram solana.PublicKey) (*TokenAccountRef, bool, error) {
	ata, err := FindAssociatedTokenAddress(owner, mint, tokenProgram)
	if err != nil {
		return nil, false, err
	}
	ref := &TokenAccountRef{Owner: owner, Mint: mint, Address: ata}

	acct, err := g.getAccount(ctx, ata)
	if errors.Is(err, ErrAccountNotFound) {
		return ref, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !acct.Owner.Equals(tokenProgram) {
		return nil, false, fmt.Errorf("token account %s is owned by %s, expected %s", ata, acct.Owner, tokenProgram)
	}
	decoded, err := decodeTokenAccount(acct.Data.GetBinary())
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode token account %s: %w", ata, err)
	}
	if decoded.Mint != mint.String() || decoded.Owner != owner.String() {
		return nil, false, fmt.Errorf("token account %s does not belong to owner %s for mint %s", ata, owner, mint)
	}
	ref.Balance = decoded.Amount
	return ref, true, nil
}

// CreateTokenAccount creates the associated token account for owner and mint,
// paid for and signed by payer. Creating an existing account is a no-op on the ledger.
func (g *Gateway) CreateTokenAccount(ctx context.Context, payer solana.PrivateKey, owner, mint, tokenProgram solana.PublicKey) (*TokenAccountRef, error) {
	ix, ata, err := NewCreateAssociatedTokenAccountInstruction(payer.PublicKey(), owner, mint, tokenProgram)
	if err != nil {
		return nil, err
	}

	sig, err := g.SubmitAndConfirm(ctx, []solana.Instruction{ix}, nil, payer)
	if err != nil {
		return nil, fmt.Errorf("failed to create token account %s: %w", ata, err)
	}

	g.logger.InfoContext(ctx, "created associated token account",
		"owner", owner.String(),
		"mint", mint.String(),
		"token_account", ata.String(),
		"signature", sig.String(),
	)
	return &TokenAccountRef{Owner: owner, Mint: mint, Address: ata}, nil
}

// SubmitAndConfirm signs the instructions into one transaction, sends it and
// waits until it reaches the configured commitment. The first signer pays the
// fee. beforeSend, if not nil, receives the signature once the transaction is
// signed; an error from it aborts with ErrNotSent. Once sent, the signature is
// returned even on error so the caller can track an undecided outcome.
func (g *Gateway) SubmitAndConfirm(ctx context.Context, instructions []solana.Instruction, beforeSend func(solana.Signature) error, signers ...solana.PrivateKey) (solana.Signature, error) {
	if len(signers) == 0 {
		return solana.Signature{}, fmt.Errorf("at least one signer is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()

	start := time.Now()
	blockhash, err := g.rpc.GetLatestBlockhash(ctx, g.commitment)
	g.recordCall("GetLatestBlockhash", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: failed to get latest blockhash: %v", ErrTransactionRejected, err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		blockhash.Value.Blockhash,
		solana.TransactionPayer(signers[0].PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: failed to build transaction: %v", ErrTransactionRejected, err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: failed to sign transaction: %v", ErrTransactionRejected, err)
	}
	expected := tx.Signatures[0]
	if beforeSend != nil {
		if err := beforeSend(expected); err != nil {
			return solana.Signature{}, fmt.Errorf("%w: %v", ErrNotSent, err)
		}
	}

	start = time.Now()
	sig, err := g.rpc.SendTransaction(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: g.commitment,
	})
	g.recordCall("SendTransaction", start, err)
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return solana.Signature{}, fmt.Errorf("%w: %s", ErrTransactionRejected, rpcErr.Message)
		}
		g.logger.WarnContext(ctx, "send failed without a node response, outcome unknown",
			"signature", expected.String(),
			"error", err,
		)
		return expected, fmt.Errorf("failed to send transaction: %w", err)
	}

	g.logger.DebugContext(ctx, "transaction sent, awaiting confirmation",
		"signature", sig.String(),
		"commitment", g.commitment,
	)

	confirmStart := time.Now()
	err = g.awaitConfirmation(ctx, sig)
	if g.metrics != nil {
		status := "confirmed"
		switch {
		case errors.Is(err, ErrTransactionFailed):
			status = "failed"
		case err != nil:
			status = "timeout"
		}
		g.metrics.RecordConfirmation(status, time.Since(confirmStart).Seconds())
	}
	return sig, err
}

func (g *Gateway) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		start := time.Now()
		out, err := g.rpc.GetSignatureStatuses(ctx, false, sig)
		g.recordCall("GetSignatureStatuses", start, err)

		if err != nil {
			g.logger.WarnContext(ctx, "failed to poll signature status, retrying",
				"signature", sig.String(),
				"error", err,
			)
			if g.metrics != nil {
				g.metrics.RecordRPCRetry("GetSignatureStatuses", "timeout_or_error")
			}
		} else if len(out.Value) > 0 && out.Value[0] != nil {
			st := signatureStatusToDomain(sig, out.Value[0])
			if st.Err != nil {
				return fmt.Errorf("%w: %s", ErrTransactionFailed, *st.Err)
			}
			if g.reached(st) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmationTimeout, sig)
		case <-ticker.C:
		}
	}
}

func (g *Gateway) reached(st *SignatureStatus) bool {
	if g.commitment == rpc.CommitmentFinalized {
		return st.ConfirmationStatus == string(rpc.ConfirmationStatusFinalized)
	}
	return st.Settled()
}

// SignatureStatuses looks up the status of previously sent transactions,
// searching the ledger's full history. The result is in the order of sigs.
func (g *Gateway) SignatureStatuses(ctx context.Context, sigs []solana.Signature) ([]*SignatureStatus, error) {
	if len(sigs) == 0 {
		return nil, nil
	}

	start := time.Now()
	out, err := g.rpc.GetSignatureStatuses(ctx, true, sigs...)
	g.recordCall("GetSignatureStatuses", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature statuses: %w", err)
	}
	if len(out.Value) != len(sigs) {
		return nil, fmt.Errorf("expected %d signature statuses, got %d", len(sigs), len(out.Value))
	}

	statuses := make([]*SignatureStatus, len(sigs))
	for i, sig := range sigs {
		statuses[i] = signatureStatusToDomain(sig, out.Value[i])
		if g.metrics != nil {
			result := "unknown"
			switch {
			case statuses[i].Err != nil:
				result = "failed"
			case statuses[i].Settled():
				result = "confirmed"
			case statuses[i].Found:
				result = "processed"
			}
			g.metrics.RecordSignatureStatus(result)
		}
	}
	return statuses, nil
}
