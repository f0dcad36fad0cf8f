package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal      *prometheus.CounterVec
	solanaRPCCallDuration    *prometheus.HistogramVec
	solanaRPCRetries         *prometheus.CounterVec
	solanaConfirmDuration    *prometheus.HistogramVec
	tokenAccountProvisions   *prometheus.CounterVec
	signatureStatusesChecked *prometheus.CounterVec

	// Wallet Metrics
	accountsCreatedTotal *prometheus.CounterVec
	balanceQueriesTotal  *prometheus.CounterVec
	transfersTotal       *prometheus.CounterVec
	transferDuration     *prometheus.HistogramVec
	sequencerQueueDepth  *prometheus.GaugeVec

	// Price Oracle Metrics
	oracleRequestsTotal   *prometheus.CounterVec
	oracleRequestDuration *prometheus.HistogramVec

	// Workflow Metrics
	reconcileWorkflowDuration        *prometheus.HistogramVec
	reconcileWorkflowExecutionsTotal *prometheus.CounterVec
	reconcileActivityDuration        *prometheus.HistogramVec
	transfersReconciledTotal         *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration    *prometheus.HistogramVec
	httpRequestsTotal      *prometheus.CounterVec
	idempotencyLookupTotal *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		solanaConfirmDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_transaction_confirm_duration_seconds",
				Help:    "Time from submission until a transaction is confirmed, fails or times out",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
			},
			[]string{"status"},
		),
		tokenAccountProvisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_account_provisions_total",
				Help: "Total number of associated token accounts created, by party",
			},
			[]string{"party", "status"},
		),
		signatureStatusesChecked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_signature_statuses_checked_total",
				Help: "Total number of signature statuses looked up, by result",
			},
			[]string{"result"},
		),

		// Wallet Metrics
		accountsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_accounts_created_total",
				Help: "Total number of accounts generated",
			},
			[]string{"status"},
		),
		balanceQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_balance_queries_total",
				Help: "Total number of balance queries by denomination and status",
			},
			[]string{"denomination", "status"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_transfers_total",
				Help: "Total number of token transfers by outcome and error kind",
			},
			[]string{"status", "kind"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_transfer_duration_seconds",
				Help:    "End-to-end duration of token transfers in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"status"},
		),
		sequencerQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wallet_sequencer_queue_depth",
				Help: "Number of transfers waiting or running per sender",
			},
			[]string{"sender"},
		),

		// Price Oracle Metrics
		oracleRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_oracle_requests_total",
				Help: "Total number of price oracle requests by source and status",
			},
			[]string{"source", "status"},
		),
		oracleRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "price_oracle_request_duration_seconds",
				Help:    "Duration of price oracle requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"source"},
		),

		// Workflow Metrics
		reconcileWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_workflow_duration_seconds",
				Help:    "Duration of reconcile workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		reconcileWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_workflow_executions_total",
				Help: "Total number of reconcile workflow executions",
			},
			[]string{"status"},
		),
		reconcileActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_activity_duration_seconds",
				Help:    "Duration of reconcile workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),
		transfersReconciledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_reconciled_total",
				Help: "Total number of journal records resolved by reconciliation",
			},
			[]string{"outcome"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		idempotencyLookupTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_idempotency_lookups_total",
				Help: "Total number of Idempotency-Key lookups by result",
			},
			[]string{"result"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordConfirmation records how long a submitted transaction took to settle.
// Status is one of "confirmed", "failed" or "timeout".
func (m *Metrics) RecordConfirmation(status string, duration float64) {
	m.solanaConfirmDuration.WithLabelValues(status).Observe(duration)
}

// RecordTokenAccountProvision records an associated token account creation attempt.
// Party is "sender" or "recipient".
func (m *Metrics) RecordTokenAccountProvision(party, status string) {
	m.tokenAccountProvisions.WithLabelValues(party, status).Inc()
}

// RecordSignatureStatus records a signature status lookup result.
func (m *Metrics) RecordSignatureStatus(result string) {
	m.signatureStatusesChecked.WithLabelValues(result).Inc()
}

// Wallet metric helpers

// RecordAccountCreated records an account generation attempt.
func (m *Metrics) RecordAccountCreated(status string) {
	m.accountsCreatedTotal.WithLabelValues(status).Inc()
}

// RecordBalanceQuery records a balance lookup. Denomination is "lamports" or a fiat currency.
func (m *Metrics) RecordBalanceQuery(denomination, status string) {
	m.balanceQueriesTotal.WithLabelValues(denomination, status).Inc()
}

// RecordTransfer records the outcome of a token transfer. Kind is empty on success.
func (m *Metrics) RecordTransfer(status, kind string, duration float64) {
	m.transfersTotal.WithLabelValues(status, kind).Inc()
	m.transferDuration.WithLabelValues(status).Observe(duration)
}

// RecordSequencerDepth adjusts the queued transfer count for a sender.
func (m *Metrics) RecordSequencerDepth(sender string, delta float64) {
	m.sequencerQueueDepth.WithLabelValues(sender).Add(delta)
}

// Price oracle metric helpers

// RecordOracleRequest records a price oracle request with duration.
func (m *Metrics) RecordOracleRequest(source, status string, duration float64) {
	m.oracleRequestsTotal.WithLabelValues(source, status).Inc()
	m.oracleRequestDuration.WithLabelValues(source).Observe(duration)
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.reconcileWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.reconcileWorkflowExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.reconcileActivityDuration.WithLabelValues(activity).Observe(duration)
}

// RecordTransfersReconciled records journal records resolved by reconciliation.
func (m *Metrics) RecordTransfersReconciled(outcome string, count int) {
	m.transfersReconciledTotal.WithLabelValues(outcome).Add(float64(count))
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordIdempotencyLookup records the result of an Idempotency-Key lookup:
// "miss", "replay", "conflict", "mismatch" or "error".
func (m *Metrics) RecordIdempotencyLookup(result string) {
	m.idempotencyLookupTotal.WithLabelValues(result).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
