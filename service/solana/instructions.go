package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// AssociatedTokenProgramID derives and creates associated token accounts
	AssociatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// Associated Token Account program instruction types
const (
	AssociatedTokenCreateInstruction           = uint8(0)
	AssociatedTokenCreateIdempotentInstruction = uint8(1)
)

// TokenProgramByName maps the configured program name to its ID.
func TokenProgramByName(name string) (solana.PublicKey, error) {
	switch name {
	case "", "spl-token":
		return TokenProgramID, nil
	case "token-2022":
		return Token2022ProgramID, nil
	default:
		return solana.PublicKey{}, fmt.Errorf("unknown token program %q: must be spl-token or token-2022", name)
	}
}

// IsTokenProgram reports whether program is one of the SPL token programs.
func IsTokenProgram(program solana.PublicKey) bool {
	return program.Equals(TokenProgramID) || program.Equals(Token2022ProgramID)
}

// FindAssociatedTokenAddress derives the associated token account for owner and mint
// under the given token program. solana-go's helper only covers the classic program.
func FindAssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		AssociatedTokenProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

// NewCreateAssociatedTokenAccountInstruction builds the idempotent create instruction.
// Creating an account that already exists succeeds without changes.
//
// Accounts: [payer (w,s), associated account (w), owner, mint, system program, token program]
func NewCreateAssociatedTokenAccountInstruction(payer, owner, mint, tokenProgram solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	ata, err := FindAssociatedTokenAddress(owner, mint, tokenProgram)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(SystemProgramID, false, false),
		solana.NewAccountMeta(tokenProgram, false, false),
	}
	data := []byte{AssociatedTokenCreateIdempotentInstruction}
	return solana.NewInstruction(AssociatedTokenProgramID, accounts, data), ata, nil
}

// NewTransferInstruction builds an SPL token Transfer instruction.
//
// Data:     [0] = 3 (Transfer), [1..9] = amount (u64 LE)
// Accounts: [source token account (w), destination token account (w), authority (s)]
func NewTransferInstruction(tokenProgram, source, destination, authority solana.PublicKey, amount uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = TokenProgramTransferInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(source, true, false),
		solana.NewAccountMeta(destination, true, false),
		solana.NewAccountMeta(authority, false, true),
	}
	return solana.NewInstruction(tokenProgram, accounts, data)
}

// DecodeTransferAmount extracts the amount from Transfer or TransferChecked instruction data.
func DecodeTransferAmount(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty instruction data")
	}
	switch data[0] {
	case TokenProgramTransferInstruction, TokenProgramTransferCheckedInstruction:
		if len(data) < 9 {
			return 0, fmt.Errorf("transfer instruction data too short: %d bytes", len(data))
		}
		return binary.LittleEndian.Uint64(data[1:9]), nil
	default:
		return 0, fmt.Errorf("unknown token instruction type: %d", data[0])
	}
}
