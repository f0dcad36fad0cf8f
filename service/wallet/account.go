package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip39"
)

// mnemonicEntropyBytes is 128 bits, a 12-word phrase.
const mnemonicEntropyBytes = 16

// AccountFactory generates new accounts from an entropy source.
type AccountFactory struct {
	entropy io.Reader
}

// NewAccountFactory returns a factory drawing from entropy. A nil reader
// means crypto/rand.
func NewAccountFactory(entropy io.Reader) *AccountFactory {
	if entropy == nil {
		entropy = rand.Reader
	}
	return &AccountFactory{entropy: entropy}
}

// CreateAccount draws a recovery phrase and, independently, an ed25519
// keypair. The phrase does not derive the key; Account.RecoveryPhraseLinked
// reports this to callers. Nothing touches the ledger.
func (f *AccountFactory) CreateAccount() (*Account, error) {
	ent := make([]byte, mnemonicEntropyBytes)
	if _, err := io.ReadFull(f.entropy, ent); err != nil {
		return nil, newError(KindEntropySourceUnavailable, "entropy source unavailable", err)
	}
	phrase, err := bip39.NewMnemonic(ent)
	if err != nil {
		return nil, newError(KindInternal, "failed to encode recovery phrase", err)
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(f.entropy, seed); err != nil {
		return nil, newError(KindEntropySourceUnavailable, "entropy source unavailable", fmt.Errorf("read key seed: %w", err))
	}
	key := solanago.PrivateKey(ed25519.NewKeyFromSeed(seed))
	clear(seed)

	return &Account{
		PublicAddress:        key.PublicKey(),
		SecretKey:            key,
		RecoveryPhrase:       phrase,
		RecoveryPhraseLinked: false,
	}, nil
}
