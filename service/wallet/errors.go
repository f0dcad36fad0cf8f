package wallet

import (
	"errors"
	"fmt"
)

// Kind classifies a wallet failure so callers can tell retryable infrastructure
// problems apart from terminal business failures.
type Kind string

const (
	KindInvalidAddress                  Kind = "invalid_address"
	KindInvalidAmount                   Kind = "invalid_amount"
	KindAccountNotFound                 Kind = "account_not_found"
	KindTransferNotFound                Kind = "transfer_not_found"
	KindQuoteUnavailable                Kind = "quote_unavailable"
	KindSenderAccountProvisionFailed    Kind = "sender_account_provision_failed"
	KindRecipientAccountProvisionFailed Kind = "recipient_account_provision_failed"
	KindInsufficientFunds               Kind = "insufficient_funds"
	KindTransferSubmissionFailed        Kind = "transfer_submission_failed"
	KindEntropySourceUnavailable        Kind = "entropy_source_unavailable"
	KindLedgerUnavailable               Kind = "ledger_unavailable"
	KindInternal                        Kind = "internal"
)

// Error is the classified error returned by every wallet operation.
// Message is safe to show to API callers; Err carries the collaborator's
// failure for logs and is never rendered in responses.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Set on transfer failures once the transfer was journaled or signed,
	// so an undecided outcome can be looked up later.
	TransferID string
	Signature  string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, ErrInvalidAmount) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Retryable reports whether the caller may safely retry the same request.
// Submission failures are deliberately not retryable: the transfer may have landed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindQuoteUnavailable, KindLedgerUnavailable,
		KindSenderAccountProvisionFailed, KindRecipientAccountProvisionFailed:
		return true
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidAddress                  = &Error{Kind: KindInvalidAddress}
	ErrInvalidAmount                   = &Error{Kind: KindInvalidAmount}
	ErrAccountNotFound                 = &Error{Kind: KindAccountNotFound}
	ErrTransferNotFound                = &Error{Kind: KindTransferNotFound}
	ErrQuoteUnavailable                = &Error{Kind: KindQuoteUnavailable}
	ErrSenderAccountProvisionFailed    = &Error{Kind: KindSenderAccountProvisionFailed}
	ErrRecipientAccountProvisionFailed = &Error{Kind: KindRecipientAccountProvisionFailed}
	ErrInsufficientFunds               = &Error{Kind: KindInsufficientFunds}
	ErrTransferSubmissionFailed        = &Error{Kind: KindTransferSubmissionFailed}
	ErrEntropySourceUnavailable        = &Error{Kind: KindEntropySourceUnavailable}
	ErrLedgerUnavailable               = &Error{Kind: KindLedgerUnavailable}
)

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the classification of err, or KindInternal if err was not
// produced by this package.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return KindInternal
}

// classify wraps err with kind unless it is already a classified *Error.
func classify(kind Kind, message string, err error) error {
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}
	return newError(kind, message, err)
}
