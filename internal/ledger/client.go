// client.go - Ledger client contract and wire types.
//
// The withdrawal protocol depends on the ledger only through the Client
// interface: submit a signed transaction, await its confirmation, read raw
// account bytes, and price persistent storage. Everything else (signature
// model, fees, gossip) is the ledger's business.

package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/tchajed/marshal"
	"github.com/zeebo/blake3"
)

// MaxTransactionBytes is the hard per-transaction payload ceiling. A withdraw
// proof verification payload fits in a transaction of its own and in nothing
// smaller; this constant is why proof verification is staged through a
// separate account instead of being inlined into the withdrawal.
const MaxTransactionBytes = 1232

// Errors surfaced by ledger clients.
var (
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrTransactionTooLarge = errors.New("ledger: transaction exceeds payload ceiling")
	ErrRejected            = errors.New("ledger: transaction rejected")
	ErrUnknownTransaction  = errors.New("ledger: unknown transaction")
	ErrTransport           = errors.New("ledger: transport failure")
	ErrTimeout             = errors.New("ledger: confirmation timed out")
)

// Address is a 32-byte account address.
type Address [32]byte

// String returns the hex form of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// ParseAddress parses a hex-encoded address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(a) {
		return a, errors.Errorf("invalid address %q", s)
	}
	copy(a[:], raw)
	return a, nil
}

// NewAddress generates a fresh random address. Staging accounts get a new
// address per withdrawal attempt.
func NewAddress() (Address, error) {
	var a Address
	if _, err := rand.Read(a[:]); err != nil {
		return a, errors.Wrap(err, "new address")
	}
	return a, nil
}

// Well-known program addresses, derived from their names.
var (
	SystemProgram = programAddress("system")
	ProofProgram  = programAddress("zk-proof")
	TokenProgram  = programAddress("confidential-token")
)

func programAddress(name string) Address {
	return Address(blake3.Sum256([]byte("program/" + name)))
}

// TxID identifies a submitted transaction (hex digest of its encoding).
type TxID string

// Instruction targets one program with a list of accounts and a payload.
type Instruction struct {
	Program  Address
	Accounts []Address
	Data     []byte
}

// Transaction is an ordered list of instructions signed by one signer.
type Transaction struct {
	Signer       Address
	Instructions []Instruction
}

// Encode serializes the transaction.
func (t *Transaction) Encode() []byte {
	b := marshal.WriteBytes(nil, t.Signer[:])
	b = marshal.WriteInt(b, uint64(len(t.Instructions)))
	for _, ins := range t.Instructions {
		b = marshal.WriteBytes(b, ins.Program[:])
		b = marshal.WriteInt(b, uint64(len(ins.Accounts)))
		for _, acc := range ins.Accounts {
			b = marshal.WriteBytes(b, acc[:])
		}
		b = marshal.WriteInt(b, uint64(len(ins.Data)))
		b = marshal.WriteBytes(b, ins.Data)
	}
	return b
}

// DecodeTransaction parses an encoded transaction.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	var t Transaction
	if len(raw) < 40 {
		return nil, errors.Errorf("transaction: truncated at %d bytes", len(raw))
	}
	copy(t.Signer[:], raw[:32])
	raw = raw[32:]
	n, raw := marshal.ReadInt(raw)
	for i := uint64(0); i < n; i++ {
		var ins Instruction
		if len(raw) < 40 {
			return nil, errors.New("transaction: truncated instruction")
		}
		copy(ins.Program[:], raw[:32])
		raw = raw[32:]
		k, rest := marshal.ReadInt(raw)
		raw = rest
		if uint64(len(raw)) < k*32+8 {
			return nil, errors.New("transaction: truncated account list")
		}
		for j := uint64(0); j < k; j++ {
			var acc Address
			copy(acc[:], raw[:32])
			raw = raw[32:]
			ins.Accounts = append(ins.Accounts, acc)
		}
		dataLen, rest := marshal.ReadInt(raw)
		raw = rest
		if uint64(len(raw)) < dataLen {
			return nil, errors.New("transaction: truncated instruction data")
		}
		ins.Data = append([]byte(nil), raw[:dataLen]...)
		raw = raw[dataLen:]
		t.Instructions = append(t.Instructions, ins)
	}
	return &t, nil
}

// EncodedSize is the byte size the payload ceiling is checked against.
func (t *Transaction) EncodedSize() int {
	return len(t.Encode())
}

// ID derives the transaction identifier from its encoding.
func (t *Transaction) ID() TxID {
	sum := blake3.Sum256(t.Encode())
	return TxID(hex.EncodeToString(sum[:]))
}

// CreateAccountData is the system program's create-account payload.
type CreateAccountData struct {
	Funding uint64
	Space   uint64
	Owner   Address
}

// Encode serializes the payload.
func (c *CreateAccountData) Encode() []byte {
	b := marshal.WriteInt(nil, c.Funding)
	b = marshal.WriteInt(b, c.Space)
	b = marshal.WriteBytes(b, c.Owner[:])
	return b
}

// DecodeCreateAccountData parses the payload.
func DecodeCreateAccountData(raw []byte) (*CreateAccountData, error) {
	if len(raw) != 48 {
		return nil, errors.Errorf("create account data: want 48 bytes, got %d", len(raw))
	}
	var c CreateAccountData
	c.Funding, raw = marshal.ReadInt(raw)
	c.Space, raw = marshal.ReadInt(raw)
	copy(c.Owner[:], raw)
	return &c, nil
}

// NewCreateAccountInstruction builds the system instruction allocating a new
// account of the given size, funded for persistence, owned by owner.
func NewCreateAccountInstruction(payer, newAccount Address, funding, space uint64, owner Address) Instruction {
	data := CreateAccountData{Funding: funding, Space: space, Owner: owner}
	return Instruction{
		Program:  SystemProgram,
		Accounts: []Address{payer, newAccount},
		Data:     data.Encode(),
	}
}

// Client is the ledger adapter contract the withdrawal protocol builds on.
//
// Submit performs static checks (including the payload ceiling) and hands the
// transaction to the ledger; AwaitConfirmation blocks until the ledger has
// durably applied or rejected it, with a timeout policy owned by the
// implementation.
type Client interface {
	Submit(ctx context.Context, tx *Transaction) (TxID, error)
	AwaitConfirmation(ctx context.Context, id TxID) error
	ReadAccount(ctx context.Context, addr Address) ([]byte, error)
	MinimumPersistenceFunding(ctx context.Context, sizeInBytes uint64) (uint64, error)
}
