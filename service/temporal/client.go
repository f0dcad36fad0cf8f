package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// ReconcileScheduleID is the ID of the one schedule that drives reconciliation.
const ReconcileScheduleID = "reconcile-transfers"

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewClient creates a new Temporal client. If m is nil, no metrics are recorded.
func NewClient(host, namespace, taskQueue string, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		metrics:   m,
		logger:    logger,
	}, nil
}

func (c *Client) reconcileAction(input ReconcileInput) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        "reconcile-transfers",
		Workflow:  ReconcileTransfersWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{input},
	}
}

// EnsureReconcileSchedule creates the reconciliation schedule, or updates its
// interval and input if it already exists. Runs never overlap.
func (c *Client) EnsureReconcileSchedule(ctx context.Context, interval time.Duration, input ReconcileInput) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ReconcileScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("reconcile schedule not found, creating it", "schedule_id", ReconcileScheduleID, "error", err)

		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: ReconcileScheduleID,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			},
			Action:  c.reconcileAction(input),
			Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
			Memo: map[string]interface{}{
				"created_by": "solwallet",
			},
		})
		if err != nil {
			c.logger.Error("failed to create reconcile schedule", "schedule_id", ReconcileScheduleID, "error", err)
			return fmt.Errorf("failed to create schedule %q: %w", ReconcileScheduleID, err)
		}

		c.logger.Info("reconcile schedule created",
			"schedule_id", ReconcileScheduleID,
			"interval", interval,
			"grace_period", input.GracePeriod,
			"batch_size", input.BatchSize,
		)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			in.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{{Every: interval}}
			in.Description.Schedule.Action = c.reconcileAction(input)
			return &client.ScheduleUpdate{
				Schedule: &in.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update reconcile schedule", "schedule_id", ReconcileScheduleID, "error", err)
		return fmt.Errorf("failed to update schedule %q: %w", ReconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule updated",
		"schedule_id", ReconcileScheduleID,
		"interval", interval,
		"grace_period", input.GracePeriod,
		"batch_size", input.BatchSize,
	)
	return nil
}

// DeleteReconcileSchedule deletes the reconciliation schedule.
func (c *Client) DeleteReconcileSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ReconcileScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete reconcile schedule", "schedule_id", ReconcileScheduleID, "error", err)
		return fmt.Errorf("failed to delete schedule %q: %w", ReconcileScheduleID, err)
	}
	c.logger.Info("reconcile schedule deleted", "schedule_id", ReconcileScheduleID)
	return nil
}

// RunReconcile starts one reconciliation run outside the schedule and waits
// for its result.
func (c *Client) RunReconcile(ctx context.Context, input ReconcileInput) (*ReconcileResult, error) {
	start := time.Now()
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "reconcile-transfers-manual-" + uuid.NewString(),
		TaskQueue: c.taskQueue,
	}, ReconcileTransfersWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start reconcile workflow: %w", err)
	}
	c.logger.Info("reconcile workflow started", "workflow_id", run.GetID(), "run_id", run.GetRunID())

	var result ReconcileResult
	err = run.Get(ctx, &result)
	if c.metrics != nil {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		c.metrics.RecordWorkflowDuration(status, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile workflow failed: %w", err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
