package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Transfer journal statuses.
const (
	StatusPending   = "pending"   // recorded, nothing sent yet
	StatusSubmitted = "submitted" // transfer transaction handed to the ledger, outcome unknown
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// ErrTransferNotFound is returned when no journal record has the given ID.
var ErrTransferNotFound = errors.New("transfer not found")

// Store provides database operations for the transfer journal.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Migrate creates the journal schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Transfer is one journaled token transfer.
type Transfer struct {
	ID           uuid.UUID
	Sender       string
	Recipient    string
	Mint         string
	Amount       uint64
	Status       string
	Signature    *string // set on submission
	ErrorKind    *string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SubmittedAt  *time.Time
	ResolvedAt   *time.Time
}

// Resolved reports whether the transfer reached a terminal status.
func (t *Transfer) Resolved() bool {
	return t.Status == StatusConfirmed || t.Status == StatusFailed
}

// CreateTransferParams contains the parameters for journaling a new transfer.
type CreateTransferParams struct {
	ID        uuid.UUID
	Sender    string
	Recipient string
	Mint      string
	Amount    uint64
}

const transferColumns = `id::text, sender, recipient, mint, amount::text, status, signature,
	error_kind, error_message, created_at, updated_at, submitted_at, resolved_at`

func (s *Store) observe(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, "transfers", time.Since(start).Seconds(), err)
	}
}

// CreateTransfer records a new transfer in the pending status.
func (s *Store) CreateTransfer(ctx context.Context, params CreateTransferParams) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transfers (id, sender, recipient, mint, amount, status)
		VALUES ($1::uuid, $2, $3, $4, $5::numeric, $6)
		RETURNING `+transferColumns,
		params.ID.String(), params.Sender, params.Recipient, params.Mint,
		strconv.FormatUint(params.Amount, 10), StatusPending,
	)
	t, err := scanTransfer(row)
	s.observe("create_transfer", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}
	return t, nil
}

// MarkTransferSubmitted moves a pending transfer to submitted and records the
// signature of the transaction about to be sent. It must succeed before the
// transaction leaves the process so every submitted row can be reconciled.
func (s *Store) MarkTransferSubmitted(ctx context.Context, id uuid.UUID, signature string) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE transfers
		SET status = $2, signature = $3, submitted_at = NOW(), updated_at = NOW()
		WHERE id = $1::uuid AND status = $4
		RETURNING `+transferColumns,
		id.String(), StatusSubmitted, signature, StatusPending,
	)
	t, err := scanTransfer(row)
	s.observe("mark_transfer_submitted", start, err)
	if err != nil {
		return nil, s.notFound(id, err)
	}
	return t, nil
}

// MarkTransferConfirmed resolves a transfer as confirmed with its signature.
// Resolved transfers are never changed.
func (s *Store) MarkTransferConfirmed(ctx context.Context, id uuid.UUID, signature string) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE transfers
		SET status = $2, signature = $3, resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1::uuid AND status IN ($4, $5)
		RETURNING `+transferColumns,
		id.String(), StatusConfirmed, signature, StatusPending, StatusSubmitted,
	)
	t, err := scanTransfer(row)
	s.observe("mark_transfer_confirmed", start, err)
	if err != nil {
		return nil, s.notFound(id, err)
	}
	return t, nil
}

// MarkTransferFailed resolves a transfer as failed with the classified error.
// Resolved transfers are never changed.
func (s *Store) MarkTransferFailed(ctx context.Context, id uuid.UUID, kind, message string) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE transfers
		SET status = $2, error_kind = $3, error_message = $4, resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1::uuid AND status IN ($5, $6)
		RETURNING `+transferColumns,
		id.String(), StatusFailed, kind, message, StatusPending, StatusSubmitted,
	)
	t, err := scanTransfer(row)
	s.observe("mark_transfer_failed", start, err)
	if err != nil {
		return nil, s.notFound(id, err)
	}
	return t, nil
}

// GetTransfer retrieves a transfer by ID.
func (s *Store) GetTransfer(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1::uuid`, id.String())
	t, err := scanTransfer(row)
	s.observe("get_transfer", start, err)
	if err != nil {
		return nil, s.notFound(id, err)
	}
	return t, nil
}

// ListUnresolvedTransfers returns submitted transfers with a signature that
// were last touched before olderThan, oldest first. Rows without a signature
// cannot be looked up on the ledger and are left out so they never fill a batch.
func (s *Store) ListUnresolvedTransfers(ctx context.Context, olderThan time.Time, limit int32) ([]*Transfer, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE status = $1 AND signature IS NOT NULL AND updated_at < $2
		ORDER BY created_at ASC
		LIMIT $3`,
		StatusSubmitted, olderThan, limit,
	)
	if err != nil {
		s.observe("list_unresolved_transfers", start, err)
		return nil, fmt.Errorf("failed to list unresolved transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]*Transfer, 0)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			s.observe("list_unresolved_transfers", start, err)
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	err = rows.Err()
	s.observe("list_unresolved_transfers", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved transfers: %w", err)
	}
	return transfers, nil
}

func (s *Store) notFound(id uuid.UUID, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTransferNotFound, id)
	}
	return fmt.Errorf("transfer %s: %w", id, err)
}

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var (
		t      Transfer
		id     string
		amount string
	)
	err := row.Scan(
		&id, &t.Sender, &t.Recipient, &t.Mint, &amount, &t.Status, &t.Signature,
		&t.ErrorKind, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt, &t.SubmittedAt, &t.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid transfer id %q: %w", id, err)
	}
	if t.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid transfer amount %q: %w", amount, err)
	}
	return &t, nil
}
