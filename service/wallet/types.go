package wallet

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/nats"
	"github.com/brojonat/solwallet/service/oracle"
	"github.com/brojonat/solwallet/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the subset of ledger operations the wallet needs.
// Implemented by solana.Gateway.
type Ledger interface {
	GetBalance(ctx context.Context, address solanago.PublicKey) (uint64, error)
	GetAccountInfo(ctx context.Context, address solanago.PublicKey) (*solana.AccountInfo, error)
	FindTokenAccount(ctx context.Context, owner, mint, tokenProgram solanago.PublicKey) (*solana.TokenAccountRef, bool, error)
	CreateTokenAccount(ctx context.Context, payer solanago.PrivateKey, owner, mint, tokenProgram solanago.PublicKey) (*solana.TokenAccountRef, error)
	SubmitAndConfirm(ctx context.Context, instructions []solanago.Instruction, beforeSend func(solanago.Signature) error, signers ...solanago.PrivateKey) (solanago.Signature, error)
}

// PriceOracle quotes the price of one unit of base in currency.
// Implemented by oracle.CoinGecko.
type PriceOracle interface {
	GetRate(ctx context.Context, base, currency string) (*oracle.Quote, error)
}

// Journal records transfer intents and their outcomes. Implemented by db.Store.
type Journal interface {
	CreateTransfer(ctx context.Context, params db.CreateTransferParams) (*db.Transfer, error)
	MarkTransferSubmitted(ctx context.Context, id uuid.UUID, signature string) (*db.Transfer, error)
	MarkTransferConfirmed(ctx context.Context, id uuid.UUID, signature string) (*db.Transfer, error)
	MarkTransferFailed(ctx context.Context, id uuid.UUID, kind, message string) (*db.Transfer, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (*db.Transfer, error)
}

// Account is a freshly generated keypair-backed account. The secret key and
// recovery phrase are only ever handed back to the creator.
type Account struct {
	PublicAddress  solanago.PublicKey
	SecretKey      solanago.PrivateKey
	RecoveryPhrase string
	// RecoveryPhraseLinked is false: the phrase is not the seed of SecretKey.
	RecoveryPhraseLinked bool
}

// LogValue keeps secret material out of logs.
func (a Account) LogValue() slog.Value {
	return slog.GroupValue(slog.String("public_address", a.PublicAddress.String()))
}

// Balance is the native balance of an address.
type Balance struct {
	Address  string
	Lamports uint64
	SOL      decimal.Decimal
}

// FiatBalance is a native balance valued in a fiat currency.
type FiatBalance struct {
	Balance
	Currency string
	Rate     decimal.Decimal
	Value    decimal.Decimal
	AsOf     time.Time
}

// TransferIntent is one request to move Amount base units of Mint from
// Sender to Recipient. It is consumed by exactly one orchestration run.
type TransferIntent struct {
	ID        uuid.UUID
	Sender    solanago.PublicKey
	Recipient solanago.PublicKey
	Mint      solanago.PublicKey
	Amount    uint64
}

// TransferReceipt describes a confirmed transfer.
type TransferReceipt struct {
	ID                    uuid.UUID
	Signature             solanago.Signature
	Sender                solanago.PublicKey
	Recipient             solanago.PublicKey
	RecipientTokenAccount solanago.PublicKey
	Mint                  solanago.PublicKey
	Amount                uint64
	// ProvisionedSender/ProvisionedRecipient report whether this run created
	// the corresponding associated token account.
	ProvisionedSender    bool
	ProvisionedRecipient bool
}

// TransferRecord is the journaled state of a transfer.
type TransferRecord = db.Transfer

// EventPublisher announces resolved transfers. Implemented by nats.JetStreamPublisher.
type EventPublisher interface {
	PublishTransfer(ctx context.Context, event *nats.TransferEvent) error
}
