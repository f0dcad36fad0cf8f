package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SPL token account and mint layouts. Token-2022 accounts share the base
// layout and append an account-type byte plus extensions after it.
const (
	TokenAccountSize = 165
	MintSize         = 82

	accountTypeOffset  = 165
	accountTypeMint    = 1
	accountTypeAccount = 2
)

var tokenAccountStates = map[uint8]string{
	0: "uninitialized",
	1: "initialized",
	2: "frozen",
}

// accountToDomain converts an RPC account to our domain AccountInfo. Token
// program accounts get their mint or token-account layout decoded; decoding
// failures leave the raw data in place.
func accountToDomain(address solana.PublicKey, acct *rpc.Account) *AccountInfo {
	info := &AccountInfo{
		Address:    address.String(),
		Lamports:   acct.Lamports,
		Owner:      acct.Owner.String(),
		Executable: acct.Executable,
	}
	if acct.RentEpoch != nil && acct.RentEpoch.IsUint64() {
		info.RentEpoch = acct.RentEpoch.Uint64()
	}
	if acct.Data != nil {
		info.Data = acct.Data.GetBinary()
	}
	info.Space = len(info.Data)

	if !IsTokenProgram(acct.Owner) {
		return info
	}
	switch tokenLayoutKind(info.Data) {
	case accountTypeAccount:
		if ta, err := decodeTokenAccount(info.Data); err == nil {
			info.Token = ta
		}
	case accountTypeMint:
		if m, err := decodeMint(info.Data); err == nil {
			info.Mint = m
		}
	}
	return info
}

// tokenLayoutKind guesses whether data holds a mint or a token account.
// Returns 0 when neither layout fits.
func tokenLayoutKind(data []byte) uint8 {
	switch {
	case len(data) == MintSize:
		return accountTypeMint
	case len(data) == TokenAccountSize:
		return accountTypeAccount
	case len(data) > accountTypeOffset:
		switch data[accountTypeOffset] {
		case accountTypeMint, accountTypeAccount:
			return data[accountTypeOffset]
		}
	}
	return 0
}

// decodeTokenAccount parses the 165-byte base token account layout:
//
//	mint[0:32] owner[32:64] amount[64:72] delegate[72:108]
//	state[108] is_native[109:121] delegated_amount[121:129] close_authority[129:165]
func decodeTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) < TokenAccountSize {
		return nil, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	state, ok := tokenAccountStates[data[108]]
	if !ok {
		return nil, fmt.Errorf("unknown token account state: %d", data[108])
	}
	return &TokenAccount{
		Mint:            solana.PublicKeyFromBytes(data[0:32]).String(),
		Owner:           solana.PublicKeyFromBytes(data[32:64]).String(),
		Amount:          binary.LittleEndian.Uint64(data[64:72]),
		Delegate:        decodeOptionalKey(data[72:108]),
		State:           state,
		DelegatedAmount: binary.LittleEndian.Uint64(data[121:129]),
		CloseAuthority:  decodeOptionalKey(data[129:165]),
	}, nil
}

// decodeMint parses the 82-byte base mint layout:
//
//	mint_authority[0:36] supply[36:44] decimals[44] is_initialized[45] freeze_authority[46:82]
func decodeMint(data []byte) (*Mint, error) {
	if len(data) < MintSize {
		return nil, fmt.Errorf("mint data too short: %d bytes", len(data))
	}
	return &Mint{
		MintAuthority:   decodeOptionalKey(data[0:36]),
		Supply:          binary.LittleEndian.Uint64(data[36:44]),
		Decimals:        data[44],
		IsInitialized:   data[45] == 1,
		FreezeAuthority: decodeOptionalKey(data[46:82]),
	}, nil
}

// decodeOptionalKey reads a COption<Pubkey>: a u32 LE tag followed by 32 key bytes.
func decodeOptionalKey(b []byte) *string {
	if len(b) < 36 || binary.LittleEndian.Uint32(b[0:4]) == 0 {
		return nil
	}
	s := solana.PublicKeyFromBytes(b[4:36]).String()
	return &s
}

// signatureStatusToDomain converts an RPC status entry; a nil entry means the
// ledger does not know the signature.
func signatureStatusToDomain(sig solana.Signature, st *rpc.SignatureStatusesResult) *SignatureStatus {
	out := &SignatureStatus{Signature: sig}
	if st == nil {
		return out
	}
	out.Found = true
	out.ConfirmationStatus = string(st.ConfirmationStatus)
	if st.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", st.Err)
		out.Err = &errMsg
	}
	return out
}
