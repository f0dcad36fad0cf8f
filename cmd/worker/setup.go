package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/config"
	"github.com/brojonat/solwallet/service/metrics"
	natspkg "github.com/brojonat/solwallet/service/nats"
	"github.com/brojonat/solwallet/service/temporal"
)

// reconcileInput builds the scheduled reconciliation input from config.
func reconcileInput(cfg *config.Config) temporal.ReconcileInput {
	return temporal.ReconcileInput{
		GracePeriod: cfg.ReconcileGracePeriod,
		BatchSize:   cfg.ReconcileBatchSize,
	}
}

// ensureSchedule creates or updates the reconciliation schedule. A
// non-positive interval removes it, which turns periodic reconciliation off.
func ensureSchedule(ctx context.Context, s temporal.Scheduler, cfg *config.Config, logger *slog.Logger) error {
	if cfg.ReconcileInterval <= 0 {
		logger.Warn("RECONCILE_INTERVAL is not positive, removing reconciliation schedule")
		if err := s.DeleteReconcileSchedule(ctx); err != nil {
			logger.Debug("no reconciliation schedule to remove", "error", err)
		}
		return nil
	}

	if cfg.ReconcileGracePeriod < cfg.ConfirmTimeout {
		logger.Warn("reconcile grace period is shorter than the confirmation timeout, in-flight transfers may be marked expired",
			"grace_period", cfg.ReconcileGracePeriod,
			"confirm_timeout", cfg.ConfirmTimeout,
		)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.EnsureReconcileSchedule(ctx, cfg.ReconcileInterval, reconcileInput(cfg)); err != nil {
		return fmt.Errorf("failed to ensure reconciliation schedule: %w", err)
	}

	logger.Info("reconciliation schedule ready",
		"schedule_id", temporal.ReconcileScheduleID,
		"interval", cfg.ReconcileInterval,
		"grace_period", cfg.ReconcileGracePeriod,
		"batch_size", cfg.ReconcileBatchSize,
	)
	return nil
}

// newPublisher connects to NATS when natsURL is set. The returned publisher
// is a nil interface, never a typed nil, when events are disabled.
func newPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (temporal.PublisherInterface, func(), error) {
	if natsURL == "" {
		return nil, func() {}, nil
	}

	p, err := natspkg.NewPublisher(natsURL, m, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { p.Close() }, nil
}
