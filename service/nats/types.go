package nats

import (
	"strconv"
	"time"

	"github.com/brojonat/solwallet/service/db"
)

// TransferEvent represents a resolved token transfer published to NATS.
// This is published to the subject "transfers.{recipient}" in JetStream.
type TransferEvent struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"` // "confirmed" or "failed"

	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Mint      string `json:"mint"`
	Amount    string `json:"amount"` // base units, as a string to survive JSON number precision

	Signature    string `json:"signature,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	ResolvedAt  time.Time `json:"resolved_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromDBTransfer converts a journaled transfer to a TransferEvent for publishing.
func FromDBTransfer(t *db.Transfer) *TransferEvent {
	event := &TransferEvent{
		TransferID:  t.ID.String(),
		Status:      t.Status,
		Sender:      t.Sender,
		Recipient:   t.Recipient,
		Mint:        t.Mint,
		Amount:      strconv.FormatUint(t.Amount, 10),
		CreatedAt:   t.CreatedAt,
		PublishedAt: time.Now().UTC(),
	}

	if t.Signature != nil {
		event.Signature = *t.Signature
	}
	if t.ErrorKind != nil {
		event.ErrorKind = *t.ErrorKind
	}
	if t.ErrorMessage != nil {
		event.ErrorMessage = *t.ErrorMessage
	}
	if t.ResolvedAt != nil {
		event.ResolvedAt = *t.ResolvedAt
	}

	return event
}
