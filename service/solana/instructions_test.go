package solana

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenProgramByName(t *testing.T) {
	got, err := TokenProgramByName("spl-token")
	require.NoError(t, err)
	assert.Equal(t, TokenProgramID, got)

	got, err = TokenProgramByName("")
	require.NoError(t, err)
	assert.Equal(t, TokenProgramID, got)

	got, err = TokenProgramByName("token-2022")
	require.NoError(t, err)
	assert.Equal(t, Token2022ProgramID, got)

	_, err = TokenProgramByName("token-2023")
	assert.Error(t, err)
}

func TestFindAssociatedTokenAddress(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	t.Run("matches solana-go for the classic program", func(t *testing.T) {
		want, _, err := solana.FindAssociatedTokenAddress(owner, mint)
		require.NoError(t, err)

		got, err := FindAssociatedTokenAddress(owner, mint, TokenProgramID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("differs per token program", func(t *testing.T) {
		classic, err := FindAssociatedTokenAddress(owner, mint, TokenProgramID)
		require.NoError(t, err)
		ext, err := FindAssociatedTokenAddress(owner, mint, Token2022ProgramID)
		require.NoError(t, err)
		assert.NotEqual(t, classic, ext)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := FindAssociatedTokenAddress(owner, mint, TokenProgramID)
		require.NoError(t, err)
		b, err := FindAssociatedTokenAddress(owner, mint, TokenProgramID)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestNewTransferInstruction(t *testing.T) {
	source := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()

	ix := NewTransferInstruction(TokenProgramID, source, dest, authority, 123456789)
	assert.Equal(t, TokenProgramID, ix.ProgramID())

	accounts := ix.Accounts()
	require.Len(t, accounts, 3)
	assert.Equal(t, source, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsWritable)
	assert.Equal(t, dest, accounts[1].PublicKey)
	assert.True(t, accounts[1].IsWritable)
	assert.Equal(t, authority, accounts[2].PublicKey)
	assert.True(t, accounts[2].IsSigner)
	assert.False(t, accounts[2].IsWritable)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 9)
	assert.Equal(t, TokenProgramTransferInstruction, data[0])

	amount, err := DecodeTransferAmount(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), amount)
}

func TestNewCreateAssociatedTokenAccountInstruction(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	ix, ata, err := NewCreateAssociatedTokenAccountInstruction(payer, owner, mint, TokenProgramID)
	require.NoError(t, err)
	assert.Equal(t, AssociatedTokenProgramID, ix.ProgramID())

	accounts := ix.Accounts()
	require.Len(t, accounts, 6)
	assert.Equal(t, payer, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner)
	assert.Equal(t, ata, accounts[1].PublicKey)
	assert.True(t, accounts[1].IsWritable)
	assert.Equal(t, owner, accounts[2].PublicKey)
	assert.Equal(t, mint, accounts[3].PublicKey)
	assert.Equal(t, SystemProgramID, accounts[4].PublicKey)
	assert.Equal(t, TokenProgramID, accounts[5].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{AssociatedTokenCreateIdempotentInstruction}, data)
}

func TestDecodeTransferAmount_Errors(t *testing.T) {
	_, err := DecodeTransferAmount(nil)
	assert.Error(t, err)

	_, err = DecodeTransferAmount([]byte{3, 1, 2})
	assert.Error(t, err)

	_, err = DecodeTransferAmount([]byte{7, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.Error(t, err)
}
