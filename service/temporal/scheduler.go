package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule that triggers ReconcileTransfersWorkflow.
type Scheduler interface {
	// EnsureReconcileSchedule creates or updates the reconciliation schedule.
	EnsureReconcileSchedule(ctx context.Context, interval time.Duration, input ReconcileInput) error

	// DeleteReconcileSchedule stops scheduled reconciliation.
	DeleteReconcileSchedule(ctx context.Context) error
}
