package solana

import (
	"github.com/gagliardetto/solana-go"
)

// AccountInfo is our view of an on-chain account, independent of the RPC response format.
type AccountInfo struct {
	Address    string        `json:"address"`
	Lamports   uint64        `json:"lamports"`
	Owner      string        `json:"owner"`
	Executable bool          `json:"executable"`
	RentEpoch  uint64        `json:"rent_epoch"`
	Space      int           `json:"space"`
	Data       []byte        `json:"data"`                    // base64 in JSON
	Token      *TokenAccount `json:"token_account,omitempty"` // set when the account is an SPL token account
	Mint       *Mint         `json:"mint,omitempty"`          // set when the account is an SPL token mint
}

// TokenAccount is the decoded base layout of an SPL token account.
type TokenAccount struct {
	Mint            string  `json:"mint"`
	Owner           string  `json:"owner"`
	Amount          uint64  `json:"amount"`
	Delegate        *string `json:"delegate,omitempty"`
	State           string  `json:"state"`
	DelegatedAmount uint64  `json:"delegated_amount"`
	CloseAuthority  *string `json:"close_authority,omitempty"`
}

// Mint is the decoded base layout of an SPL token mint.
type Mint struct {
	MintAuthority   *string `json:"mint_authority,omitempty"`
	Supply          uint64  `json:"supply"`
	Decimals        uint8   `json:"decimals"`
	IsInitialized   bool    `json:"is_initialized"`
	FreezeAuthority *string `json:"freeze_authority,omitempty"`
}

// TokenAccountRef identifies the associated token account for an (owner, mint) pair.
// Balance is only meaningful when the account exists.
type TokenAccountRef struct {
	Owner   solana.PublicKey
	Mint    solana.PublicKey
	Address solana.PublicKey
	Balance uint64
}

// SignatureStatus is the on-chain status of a previously submitted transaction.
type SignatureStatus struct {
	Signature          solana.Signature
	Found              bool    // false if the ledger has no record of the signature
	ConfirmationStatus string  // "processed", "confirmed" or "finalized"
	Err                *string // nil if the transaction succeeded
}

// Settled reports whether the transaction has reached at least confirmed commitment.
func (s *SignatureStatus) Settled() bool {
	return s.Found && (s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized")
}
