package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/metrics"
	"github.com/brojonat/solwallet/service/nats"
	"github.com/brojonat/solwallet/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// NativeAssetID is the price oracle identifier of SOL.
const NativeAssetID = "solana"

// DefaultFiatCurrency is used when a fiat balance request names no currency.
const DefaultFiatCurrency = "usd"

// Config wires a Service. Journal and Publisher are optional.
type Config struct {
	Ledger       Ledger
	Oracle       PriceOracle
	Journal      Journal
	Publisher    EventPublisher
	Entropy      io.Reader // nil means crypto/rand
	Orchestrator OrchestratorConfig
	FiatCurrency string
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Service is the single entry point for wallet operations. Every failure it
// returns is a classified *Error.
type Service struct {
	ledger       Ledger
	oracle       PriceOracle
	journal      Journal
	publisher    EventPublisher
	factory      *AccountFactory
	converter    *Converter
	orchestrator *Orchestrator
	sequencer    *Sequencer
	treasury     solanago.PrivateKey
	mint         solanago.PublicKey
	fiatCurrency string
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewService validates cfg and assembles the wallet service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("price oracle is required")
	}
	if len(cfg.Orchestrator.Treasury) != 64 {
		return nil, fmt.Errorf("treasury key must be 64 bytes, got %d", len(cfg.Orchestrator.Treasury))
	}
	if cfg.Orchestrator.Mint.IsZero() {
		return nil, fmt.Errorf("token mint is required")
	}
	if !solana.IsTokenProgram(cfg.Orchestrator.TokenProgram) {
		return nil, fmt.Errorf("unsupported token program %s", cfg.Orchestrator.TokenProgram)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fiat := strings.ToLower(strings.TrimSpace(cfg.FiatCurrency))
	if fiat == "" {
		fiat = DefaultFiatCurrency
	}

	s := &Service{
		ledger:       cfg.Ledger,
		oracle:       cfg.Oracle,
		journal:      cfg.Journal,
		publisher:    cfg.Publisher,
		factory:      NewAccountFactory(cfg.Entropy),
		converter:    NewConverter(),
		orchestrator: NewOrchestrator(cfg.Ledger, cfg.Orchestrator, cfg.Metrics, logger),
		sequencer:    NewSequencer(cfg.Metrics, logger),
		treasury:     cfg.Orchestrator.Treasury,
		mint:         cfg.Orchestrator.Mint,
		fiatCurrency: fiat,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
	s.orchestrator.OnSubmit(s.markSubmitted)
	return s, nil
}

// Treasury is the address transfers are sent from.
func (s *Service) Treasury() solanago.PublicKey {
	return s.orchestrator.Sender()
}

// Mint is the token moved by Transfer.
func (s *Service) Mint() solanago.PublicKey {
	return s.mint
}

// Close waits for in-flight transfers and wipes the treasury key.
func (s *Service) Close() {
	s.sequencer.Close()
	for i := range s.treasury {
		s.treasury[i] = 0
	}
}

func parseAddress(address string) (solanago.PublicKey, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return solanago.PublicKey{}, newError(KindInvalidAddress, "address is required", nil)
	}
	key, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return solanago.PublicKey{}, newError(KindInvalidAddress, "address is not a valid base58 public key", err)
	}
	return key, nil
}

// CreateAccount generates a new account. The result is the only place secret
// material ever leaves the service.
func (s *Service) CreateAccount(ctx context.Context) (*Account, error) {
	acct, err := s.factory.CreateAccount()
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordAccountCreated(status)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create account", "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "account created", "account", acct)
	return acct, nil
}

// GetBalance returns the native balance of address.
func (s *Service) GetBalance(ctx context.Context, address string) (*Balance, error) {
	key, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	lamports, err := s.ledger.GetBalance(ctx, key)
	s.recordBalanceQuery("lamports", err)
	if err != nil {
		return nil, newError(KindLedgerUnavailable, "ledger unavailable", err)
	}
	return &Balance{
		Address:  key.String(),
		Lamports: lamports,
		SOL:      s.converter.ToDisplayUnits(lamports),
	}, nil
}

// GetBalanceInFiat values the native balance of address in currency, or in
// the configured default currency when empty.
func (s *Service) GetBalanceInFiat(ctx context.Context, address, currency string) (*FiatBalance, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.fiatCurrency
	}

	bal, err := s.GetBalance(ctx, address)
	if err != nil {
		return nil, err
	}

	quote, err := s.oracle.GetRate(ctx, NativeAssetID, currency)
	if err != nil {
		s.recordBalanceQuery(currency, err)
		return nil, newError(KindQuoteUnavailable, "price quote unavailable", err)
	}
	value, err := s.converter.ToFiat(bal.Lamports, quote)
	s.recordBalanceQuery(currency, err)
	if err != nil {
		return nil, err
	}

	return &FiatBalance{
		Balance:  *bal,
		Currency: currency,
		Rate:     quote.Rate,
		Value:    value,
		AsOf:     quote.AsOf,
	}, nil
}

func (s *Service) recordBalanceQuery(denomination string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordBalanceQuery(denomination, status)
}

// GetAccountInfo returns the on-chain account at address.
func (s *Service) GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error) {
	key, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	info, err := s.ledger.GetAccountInfo(ctx, key)
	if errors.Is(err, solana.ErrAccountNotFound) {
		return nil, newError(KindAccountNotFound, "no account exists at this address", err)
	}
	if err != nil {
		return nil, newError(KindLedgerUnavailable, "ledger unavailable", err)
	}
	return info, nil
}

// Transfer sends amount base units of the configured mint from the treasury
// to recipient, creating token accounts as needed. Transfers from the
// treasury are serialized. Once the transfer starts it is not cancelled by ctx.
func (s *Service) Transfer(ctx context.Context, recipient string, amount uint64) (*TransferReceipt, error) {
	if amount == 0 {
		return nil, newError(KindInvalidAmount, "amount must be greater than zero", nil)
	}
	to, err := parseAddress(recipient)
	if err != nil {
		return nil, err
	}
	if err := validateRecipient(to); err != nil {
		return nil, err
	}

	intent := TransferIntent{
		ID:        uuid.New(),
		Sender:    s.Treasury(),
		Recipient: to,
		Mint:      s.mint,
		Amount:    amount,
	}
	logger := s.logger.With("transfer_id", intent.ID.String())
	start := time.Now()

	if s.journal != nil {
		_, err := s.journal.CreateTransfer(ctx, db.CreateTransferParams{
			ID:        intent.ID,
			Sender:    intent.Sender.String(),
			Recipient: intent.Recipient.String(),
			Mint:      intent.Mint.String(),
			Amount:    intent.Amount,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to journal transfer", "error", err)
			return nil, newError(KindInternal, "could not record transfer", err)
		}
	}

	var (
		receipt *TransferReceipt
		terr    error
	)
	err = s.sequencer.Do(ctx, intent.Sender.String(), func(ctx context.Context) {
		receipt, terr = s.orchestrator.Transfer(ctx, intent)
	})
	if err != nil {
		terr = newError(KindInternal, "transfer was not started", err)
	}

	s.finish(context.WithoutCancel(ctx), intent, receipt, terr, start)
	if terr != nil {
		return nil, s.transferError(intent, receipt, terr)
	}
	return receipt, nil
}

// transferError attaches the journaled transfer id and any signature to a
// transfer failure. The classified error is copied, never mutated.
func (s *Service) transferError(intent TransferIntent, receipt *TransferReceipt, terr error) error {
	var werr *Error
	errors.As(classify(KindInternal, "transfer failed", terr), &werr)
	out := *werr
	if s.journal != nil {
		out.TransferID = intent.ID.String()
	}
	if receipt != nil && receipt.Signature != (solanago.Signature{}) {
		out.Signature = receipt.Signature.String()
	}
	return &out
}

// markSubmitted journals the signature of a signed transfer before it is
// sent. An error here aborts the send.
func (s *Service) markSubmitted(ctx context.Context, intent TransferIntent, sig solanago.Signature) error {
	if s.journal == nil {
		return nil
	}
	if _, err := s.journal.MarkTransferSubmitted(ctx, intent.ID, sig.String()); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark transfer submitted",
			"transfer_id", intent.ID.String(),
			"signature", sig.String(),
			"error", err,
		)
		return fmt.Errorf("failed to journal submission: %w", err)
	}
	return nil
}

// finish records the outcome of a transfer in the journal and announces it.
// Transfers whose fate is undecided stay submitted for reconciliation.
func (s *Service) finish(ctx context.Context, intent TransferIntent, receipt *TransferReceipt, terr error, start time.Time) {
	logger := s.logger.With("transfer_id", intent.ID.String())

	switch {
	case terr == nil:
		s.recordTransfer("confirmed", "", start)
		rec := s.journalCall(ctx, func() (*db.Transfer, error) {
			return s.journal.MarkTransferConfirmed(ctx, intent.ID, receipt.Signature.String())
		})
		s.publish(ctx, intent, rec, db.StatusConfirmed, receipt.Signature.String(), nil)

	case KindOf(terr) == KindTransferSubmissionFailed && solana.OutcomeUnknown(terr):
		s.recordTransfer("unknown", string(KindTransferSubmissionFailed), start)
		if receipt == nil || receipt.Signature == (solanago.Signature{}) {
			logger.ErrorContext(ctx, "transfer outcome unknown and no signature to reconcile", "error", terr)
			return
		}
		// The signature was journaled before sending.
		logger.WarnContext(ctx, "transfer outcome unknown, leaving for reconciliation",
			"signature", receipt.Signature.String(),
		)

	default:
		var werr *Error
		if !errors.As(terr, &werr) {
			werr = newError(KindInternal, "transfer failed", terr)
		}
		s.recordTransfer("failed", string(werr.Kind), start)
		rec := s.journalCall(ctx, func() (*db.Transfer, error) {
			return s.journal.MarkTransferFailed(ctx, intent.ID, string(werr.Kind), werr.Message)
		})
		s.publish(ctx, intent, rec, db.StatusFailed, "", werr)
	}
}

func (s *Service) journalCall(ctx context.Context, fn func() (*db.Transfer, error)) *db.Transfer {
	if s.journal == nil {
		return nil
	}
	rec, err := fn()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to update transfer journal", "error", err)
		return nil
	}
	return rec
}

func (s *Service) publish(ctx context.Context, intent TransferIntent, rec *db.Transfer, status, signature string, werr *Error) {
	if s.publisher == nil {
		return
	}
	if rec == nil {
		now := time.Now().UTC()
		rec = &db.Transfer{
			ID:         intent.ID,
			Sender:     intent.Sender.String(),
			Recipient:  intent.Recipient.String(),
			Mint:       intent.Mint.String(),
			Amount:     intent.Amount,
			Status:     status,
			CreatedAt:  now,
			UpdatedAt:  now,
			ResolvedAt: &now,
		}
		if signature != "" {
			rec.Signature = &signature
		}
		if werr != nil {
			kind := string(werr.Kind)
			rec.ErrorKind = &kind
			rec.ErrorMessage = &werr.Message
		}
	}
	if err := s.publisher.PublishTransfer(ctx, nats.FromDBTransfer(rec)); err != nil {
		s.logger.WarnContext(ctx, "failed to publish transfer event",
			"transfer_id", intent.ID.String(),
			"error", err,
		)
	}
}

func (s *Service) recordTransfer(status, kind string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordTransfer(status, kind, time.Since(start).Seconds())
	}
}

// GetTransfer returns the journaled state of a transfer.
func (s *Service) GetTransfer(ctx context.Context, id string) (*TransferRecord, error) {
	if s.journal == nil {
		return nil, newError(KindTransferNotFound, "transfer history is not enabled", nil)
	}
	tid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, newError(KindTransferNotFound, "transfer not found", err)
	}
	rec, err := s.journal.GetTransfer(ctx, tid)
	if errors.Is(err, db.ErrTransferNotFound) {
		return nil, newError(KindTransferNotFound, "transfer not found", err)
	}
	if err != nil {
		return nil, newError(KindInternal, "could not read transfer", err)
	}
	return rec, nil
}
