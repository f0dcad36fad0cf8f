package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/metrics"
	natspkg "github.com/brojonat/solwallet/service/nats"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Signature outcomes as seen by reconciliation.
const (
	OutcomeConfirmed = "confirmed" // landed and settled without error
	OutcomeFailed    = "failed"    // landed with an error
	OutcomeExpired   = "expired"   // the ledger has no record of it
	OutcomePending   = "pending"   // landed but not settled yet
)

// ListUnresolvedTransfersInput contains parameters for the ListUnresolvedTransfers activity.
type ListUnresolvedTransfersInput struct {
	OlderThan time.Time `json:"older_than"`
	Limit     int       `json:"limit"`
}

// UnresolvedTransfer is a submitted journal row awaiting an outcome.
type UnresolvedTransfer struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`
}

// ListUnresolvedTransfersResult contains the result of the ListUnresolvedTransfers activity.
type ListUnresolvedTransfersResult struct {
	Transfers []UnresolvedTransfer `json:"transfers"`
}

// CheckSignatureStatusesInput contains parameters for the CheckSignatureStatuses activity.
type CheckSignatureStatusesInput struct {
	Signatures []string `json:"signatures"`
}

// SignatureOutcome is the reconciled state of one signature.
type SignatureOutcome struct {
	Signature string `json:"signature"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
}

// CheckSignatureStatusesResult contains the result of the CheckSignatureStatuses activity.
type CheckSignatureStatusesResult struct {
	Outcomes []SignatureOutcome `json:"outcomes"`
}

// ResolveTransferInput contains parameters for the ResolveTransfer activity.
type ResolveTransferInput struct {
	TransferID string `json:"transfer_id"`
	Signature  string `json:"signature"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

// ResolveTransferResult contains the result of the ResolveTransfer activity.
type ResolveTransferResult struct {
	// Resolved is false when the row had already left the submitted state.
	Resolved bool `json:"resolved"`
}

// StoreInterface defines the journal operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	ListUnresolvedTransfers(ctx context.Context, olderThan time.Time, limit int32) ([]*db.Transfer, error)
	MarkTransferConfirmed(ctx context.Context, id uuid.UUID, signature string) (*db.Transfer, error)
	MarkTransferFailed(ctx context.Context, id uuid.UUID, kind, message string) (*db.Transfer, error)
}

// SignatureChecker looks up transaction outcomes on the ledger. It must be
// read-only: reconciliation never resubmits. Implemented by solana.Gateway.
type SignatureChecker interface {
	SignatureStatuses(ctx context.Context, sigs []solanago.Signature) ([]*solana.SignatureStatus, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishTransfer(ctx context.Context, event *natspkg.TransferEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	store     StoreInterface
	ledger    SignatureChecker
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// publisher and m are optional.
func NewActivities(store StoreInterface, ledger SignatureChecker, publisher PublisherInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) observe(activity string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds())
	}
}

// ListUnresolvedTransfers reads submitted journal rows that have not been
// touched since input.OlderThan. Rows without a signature cannot be looked up
// and are left out.
func (a *Activities) ListUnresolvedTransfers(ctx context.Context, input ListUnresolvedTransfersInput) (*ListUnresolvedTransfersResult, error) {
	defer a.observe("ListUnresolvedTransfers", time.Now())

	limit := input.Limit
	if limit <= 0 {
		limit = defaultBatchSize
	}

	rows, err := a.store.ListUnresolvedTransfers(ctx, input.OlderThan, int32(limit))
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to list unresolved transfers", "error", err)
		return nil, fmt.Errorf("failed to list unresolved transfers: %w", err)
	}

	result := &ListUnresolvedTransfersResult{Transfers: make([]UnresolvedTransfer, 0, len(rows))}
	for _, row := range rows {
		if row.Signature == nil || *row.Signature == "" {
			a.logger.WarnContext(ctx, "skipping submitted transfer without signature", "transfer_id", row.ID.String())
			continue
		}
		result.Transfers = append(result.Transfers, UnresolvedTransfer{ID: row.ID.String(), Signature: *row.Signature})
	}

	a.logger.InfoContext(ctx, "listed unresolved transfers",
		"older_than", input.OlderThan,
		"count", len(result.Transfers),
	)
	return result, nil
}

// CheckSignatureStatuses asks the ledger what became of each signature.
// It only reads, so Temporal may retry it freely.
func (a *Activities) CheckSignatureStatuses(ctx context.Context, input CheckSignatureStatusesInput) (*CheckSignatureStatusesResult, error) {
	defer a.observe("CheckSignatureStatuses", time.Now())

	sigs := make([]solanago.Signature, 0, len(input.Signatures))
	for _, s := range input.Signatures {
		sig, err := solanago.SignatureFromBase58(s)
		if err != nil {
			return nil, temporalsdk.NewNonRetryableApplicationError(
				fmt.Sprintf("invalid signature %q", s), "InvalidSignature", err)
		}
		sigs = append(sigs, sig)
	}

	statuses, err := a.ledger.SignatureStatuses(ctx, sigs)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to check signature statuses", "count", len(sigs), "error", err)
		return nil, fmt.Errorf("failed to check signature statuses: %w", err)
	}

	result := &CheckSignatureStatusesResult{Outcomes: make([]SignatureOutcome, len(statuses))}
	for i, st := range statuses {
		out := SignatureOutcome{Signature: input.Signatures[i]}
		switch {
		case !st.Found:
			out.Outcome = OutcomeExpired
		case st.Err != nil:
			out.Outcome = OutcomeFailed
			out.Error = *st.Err
		case st.Settled():
			out.Outcome = OutcomeConfirmed
		default:
			out.Outcome = OutcomePending
		}
		result.Outcomes[i] = out
	}
	return result, nil
}

// ResolveTransfer writes a reconciled outcome to the journal and announces it.
// Rows that were resolved by someone else in the meantime are left alone.
func (a *Activities) ResolveTransfer(ctx context.Context, input ResolveTransferInput) (*ResolveTransferResult, error) {
	defer a.observe("ResolveTransfer", time.Now())

	id, err := uuid.Parse(input.TransferID)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid transfer id %q", input.TransferID), "InvalidTransferID", err)
	}
	logger := a.logger.With("transfer_id", input.TransferID, "signature", input.Signature, "outcome", input.Outcome)

	var rec *db.Transfer
	switch input.Outcome {
	case OutcomeConfirmed:
		rec, err = a.store.MarkTransferConfirmed(ctx, id, input.Signature)
	case OutcomeFailed:
		rec, err = a.store.MarkTransferFailed(ctx, id, string(wallet.KindTransferSubmissionFailed), "transaction failed on the ledger")
	case OutcomeExpired:
		rec, err = a.store.MarkTransferFailed(ctx, id, string(wallet.KindTransferSubmissionFailed), "transaction expired without landing")
	default:
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("outcome %q does not resolve a transfer", input.Outcome), "UnresolvableOutcome", nil)
	}
	if errors.Is(err, db.ErrTransferNotFound) {
		logger.InfoContext(ctx, "transfer already resolved, skipping")
		return &ResolveTransferResult{Resolved: false}, nil
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to resolve transfer", "error", err)
		return nil, fmt.Errorf("failed to resolve transfer %s: %w", input.TransferID, err)
	}

	logger.InfoContext(ctx, "transfer reconciled", "status", rec.Status, "ledger_error", input.Error)
	if a.metrics != nil {
		a.metrics.RecordTransfersReconciled(input.Outcome, 1)
	}

	if a.publisher != nil {
		if err := a.publisher.PublishTransfer(ctx, natspkg.FromDBTransfer(rec)); err != nil {
			// The journal is the source of truth; the event is best-effort.
			logger.WarnContext(ctx, "failed to publish reconciled transfer", "error", err)
		}
	}

	return &ResolveTransferResult{Resolved: true}, nil
}
