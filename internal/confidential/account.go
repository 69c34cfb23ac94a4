// account.go - On-ledger layout of a confidential token account and the
// withdraw instruction payload.
//
// The account record is read-only to this client: every mutation is proposed
// through ledger instructions and takes effect only once the ledger applies
// them. The layouts are fixed-size so record lengths are compile-time
// constants.

package confidential

import (
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/pkg/errors"
	"github.com/tchajed/marshal"
)

// Errors surfaced by the balance model.
var (
	// ErrExtensionNotPresent means the account exists but carries no
	// confidential transfer extension.
	ErrExtensionNotPresent = errors.New("confidential: account has no confidential transfer extension")

	// ErrInsufficientBalance means the decrypted available balance is smaller
	// than the requested amount.
	ErrInsufficientBalance = errors.New("confidential: insufficient available balance")
)

// AccountStateLen is the encoded size of a confidential token account record.
const AccountStateLen = 32 + 32 + 1 + 1 + PubKeyLen + 2*CiphertextLen + SnapshotLen

// AccountState is one account's confidential extension data as read from the
// ledger.
type AccountState struct {
	Mint     [32]byte
	Owner    [32]byte
	Decimals uint8

	// Extension marks the confidential transfer extension as initialized.
	Extension bool

	// Pubkey is the holder's ElGamal public key the balances are encrypted to.
	Pubkey bls12377.G1Affine

	// Available is the spendable encrypted balance; Pending holds credits not
	// yet merged into Available.
	Available Ciphertext
	Pending   Ciphertext

	// DecryptableAvailable is the AES-GCM snapshot of the available balance,
	// recoverable only by the holder.
	DecryptableAvailable []byte
}

// Encode serializes the account record into its fixed on-ledger layout.
func (s *AccountState) Encode() []byte {
	b := make([]byte, 0, AccountStateLen)
	b = marshal.WriteBytes(b, s.Mint[:])
	b = marshal.WriteBytes(b, s.Owner[:])
	b = append(b, s.Decimals)
	if s.Extension {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	pk := s.Pubkey.Bytes()
	b = marshal.WriteBytes(b, pk[:])
	b = marshal.WriteBytes(b, s.Available.Encode())
	b = marshal.WriteBytes(b, s.Pending.Encode())
	b = marshal.WriteBytes(b, s.DecryptableAvailable)
	return b
}

// ParseAccount decodes an account record. Returns ErrExtensionNotPresent when
// the confidential extension flag is unset.
func ParseAccount(raw []byte) (*AccountState, error) {
	if len(raw) != AccountStateLen {
		return nil, errors.Errorf("account record: want %d bytes, got %d", AccountStateLen, len(raw))
	}
	var s AccountState
	copy(s.Mint[:], raw[:32])
	copy(s.Owner[:], raw[32:64])
	s.Decimals = raw[64]
	s.Extension = raw[65] == 1
	if !s.Extension {
		return nil, ErrExtensionNotPresent
	}
	off := 66
	if _, err := s.Pubkey.SetBytes(raw[off : off+PubKeyLen]); err != nil {
		return nil, errors.Wrap(err, "account pubkey")
	}
	off += PubKeyLen
	avail, err := DecodeCiphertext(raw[off : off+CiphertextLen])
	if err != nil {
		return nil, errors.Wrap(err, "available balance")
	}
	s.Available = avail
	off += CiphertextLen
	pending, err := DecodeCiphertext(raw[off : off+CiphertextLen])
	if err != nil {
		return nil, errors.Wrap(err, "pending balance")
	}
	s.Pending = pending
	off += CiphertextLen
	s.DecryptableAvailable = append([]byte(nil), raw[off:off+SnapshotLen]...)
	return &s, nil
}

// NewDecryptableBalance re-encrypts (balance - amount) under the AE key, where
// balance comes from the same pre-state snapshot the proof bundle was
// generated against. Computing it from the identical snapshot avoids balance
// drift between proof generation and the withdrawal instruction.
func NewDecryptableBalance(state *AccountState, amount uint64, key AEKey) ([]byte, error) {
	balance, err := key.Decrypt(state.DecryptableAvailable)
	if err != nil {
		return nil, errors.Wrap(err, "decryptable balance")
	}
	if amount > balance {
		return nil, ErrInsufficientBalance
	}
	return key.Encrypt(balance - amount)
}

// WithdrawDataLen is the encoded size of a withdraw instruction payload.
const WithdrawDataLen = 8 + 1 + SnapshotLen

// WithdrawData is the payload of the token program's withdraw instruction.
// The proof itself is not inline: the instruction references a staging
// account holding the verified proof context.
type WithdrawData struct {
	Amount                  uint64
	Decimals                uint8
	NewDecryptableAvailable []byte
}

// Encode serializes the withdraw payload.
func (w *WithdrawData) Encode() []byte {
	b := make([]byte, 0, WithdrawDataLen)
	b = marshal.WriteInt(b, w.Amount)
	b = append(b, w.Decimals)
	b = marshal.WriteBytes(b, w.NewDecryptableAvailable)
	return b
}

// DecodeWithdrawData parses a withdraw payload.
func DecodeWithdrawData(raw []byte) (*WithdrawData, error) {
	if len(raw) != WithdrawDataLen {
		return nil, errors.Errorf("withdraw data: want %d bytes, got %d", WithdrawDataLen, len(raw))
	}
	var w WithdrawData
	w.Amount, raw = marshal.ReadInt(raw)
	w.Decimals = raw[0]
	w.NewDecryptableAvailable = append([]byte(nil), raw[1:1+SnapshotLen]...)
	return &w, nil
}
