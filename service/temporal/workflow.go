package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	defaultGracePeriod = 2 * time.Minute
	defaultBatchSize   = 100

	// maxSignaturesPerCheck is the most signatures getSignatureStatuses accepts per call.
	maxSignaturesPerCheck = 256
)

// ReconcileInput configures one reconciliation run.
type ReconcileInput struct {
	// GracePeriod is how long a transfer must have been left submitted before
	// it is looked at. It must outlive a transaction's blockhash so that a
	// signature unknown to the ledger can no longer land.
	GracePeriod time.Duration `json:"grace_period"`
	BatchSize   int           `json:"batch_size"`
}

// ReconcileResult summarizes one reconciliation run.
type ReconcileResult struct {
	Checked   int       `json:"checked"`
	Confirmed int       `json:"confirmed"`
	Failed    int       `json:"failed"`  // landed with an error or expired
	Pending   int       `json:"pending"` // still not settled, left for the next run
	Skipped   int       `json:"skipped"` // resolved elsewhere while this run was in flight
	RunTime   time.Time `json:"run_time"`
}

// ReconcileTransfersWorkflow resolves journal rows whose transfer outcome was
// unknown when the wallet gave up waiting. It is triggered by a Temporal
// schedule.
//
// The workflow performs these steps:
// 1. List submitted transfers older than the grace period (ListUnresolvedTransfers)
// 2. Look up their signatures on the ledger (CheckSignatureStatuses)
// 3. Record each settled outcome and announce it (ResolveTransfer)
//
// It never resubmits a transaction.
func ReconcileTransfersWorkflow(ctx workflow.Context, input ReconcileInput) (*ReconcileResult, error) {
	logger := workflow.GetLogger(ctx)

	if input.GracePeriod <= 0 {
		input.GracePeriod = defaultGracePeriod
	}
	if input.BatchSize <= 0 {
		input.BatchSize = defaultBatchSize
	}

	result := &ReconcileResult{RunTime: workflow.Now(ctx)}
	logger.Info("ReconcileTransfersWorkflow started", "grace_period", input.GracePeriod, "batch_size", input.BatchSize)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	// Step 1: find transfers left in limbo
	var listed *ListUnresolvedTransfersResult
	err := workflow.ExecuteActivity(ctx, a.ListUnresolvedTransfers, ListUnresolvedTransfersInput{
		OlderThan: result.RunTime.Add(-input.GracePeriod),
		Limit:     input.BatchSize,
	}).Get(ctx, &listed)
	if err != nil {
		return result, fmt.Errorf("failed to list unresolved transfers: %w", err)
	}
	if len(listed.Transfers) == 0 {
		logger.Info("no unresolved transfers")
		return result, nil
	}

	bySignature := make(map[string]string, len(listed.Transfers))
	signatures := make([]string, 0, len(listed.Transfers))
	for _, t := range listed.Transfers {
		bySignature[t.Signature] = t.ID
		signatures = append(signatures, t.Signature)
	}

	// Step 2: ask the ledger, in chunks it will accept
	var outcomes []SignatureOutcome
	for start := 0; start < len(signatures); start += maxSignaturesPerCheck {
		end := min(start+maxSignaturesPerCheck, len(signatures))
		var checked *CheckSignatureStatusesResult
		err := workflow.ExecuteActivity(ctx, a.CheckSignatureStatuses, CheckSignatureStatusesInput{
			Signatures: signatures[start:end],
		}).Get(ctx, &checked)
		if err != nil {
			return result, fmt.Errorf("failed to check signature statuses: %w", err)
		}
		outcomes = append(outcomes, checked.Outcomes...)
	}
	result.Checked = len(outcomes)

	// Step 3: record what settled
	for _, out := range outcomes {
		if out.Outcome == OutcomePending {
			result.Pending++
			continue
		}

		var resolved *ResolveTransferResult
		err := workflow.ExecuteActivity(ctx, a.ResolveTransfer, ResolveTransferInput{
			TransferID: bySignature[out.Signature],
			Signature:  out.Signature,
			Outcome:    out.Outcome,
			Error:      out.Error,
		}).Get(ctx, &resolved)
		if err != nil {
			// Leave it for the next run rather than abandoning the rest.
			logger.Error("failed to resolve transfer", "transfer_id", bySignature[out.Signature], "error", err)
			result.Pending++
			continue
		}

		switch {
		case !resolved.Resolved:
			result.Skipped++
		case out.Outcome == OutcomeConfirmed:
			result.Confirmed++
		default:
			result.Failed++
		}
	}

	logger.Info("ReconcileTransfersWorkflow completed",
		"checked", result.Checked,
		"confirmed", result.Confirmed,
		"failed", result.Failed,
		"pending", result.Pending,
		"skipped", result.Skipped,
	)
	return result, nil
}
