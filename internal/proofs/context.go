// context.go - The withdraw proof statement and the on-ledger record of its
// verified form.

package proofs

import (
	"encoding/binary"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/kilogold/confidential-withdraw/internal/confidential"
)

// ContextLen is the encoded size of a withdraw proof statement.
const ContextLen = confidential.PubKeyLen + 2*confidential.CiphertextLen + 8

// WithdrawContext is the public statement all three proofs are generated
// against: the holder key, the pre-state available balance, the fresh
// encryption of the remaining balance, and the withdrawal amount.
type WithdrawContext struct {
	Pubkey    bls12377.G1Affine
	Available confidential.Ciphertext
	Fresh     confidential.Ciphertext
	Amount    uint64
}

// Encode serializes the statement into its fixed layout.
func (c *WithdrawContext) Encode() []byte {
	b := make([]byte, 0, ContextLen)
	pk := c.Pubkey.Bytes()
	b = marshal.WriteBytes(b, pk[:])
	b = marshal.WriteBytes(b, c.Available.Encode())
	b = marshal.WriteBytes(b, c.Fresh.Encode())
	b = marshal.WriteInt(b, c.Amount)
	return b
}

// DecodeContext parses a withdraw proof statement.
func DecodeContext(raw []byte) (*WithdrawContext, error) {
	if len(raw) != ContextLen {
		return nil, errors.Errorf("proof context: want %d bytes, got %d", ContextLen, len(raw))
	}
	var c WithdrawContext
	if _, err := c.Pubkey.SetBytes(raw[:confidential.PubKeyLen]); err != nil {
		return nil, errors.Wrap(err, "context pubkey")
	}
	off := confidential.PubKeyLen
	avail, err := confidential.DecodeCiphertext(raw[off : off+confidential.CiphertextLen])
	if err != nil {
		return nil, errors.Wrap(err, "context available ciphertext")
	}
	c.Available = avail
	off += confidential.CiphertextLen
	fresh, err := confidential.DecodeCiphertext(raw[off : off+confidential.CiphertextLen])
	if err != nil {
		return nil, errors.Wrap(err, "context fresh ciphertext")
	}
	c.Fresh = fresh
	off += confidential.CiphertextLen
	c.Amount, _ = marshal.ReadInt(raw[off:])
	return &c, nil
}

// Transcript domain-separation labels. Each sigma proof derives its challenge
// from the full statement plus its own label and commitments, which is what
// makes cross-bundle substitution fail.
const (
	labelEquality uint64 = 1
	labelValidity uint64 = 2
)

// challenge derives the Fiat-Shamir challenge for one proof component. Every
// absorbed item is a canonical 48-byte field encoding, so each MiMC block is
// well-formed.
func (c *WithdrawContext) challenge(label uint64, commitments ...*bls12377.G1Affine) bls12377_fr.Element {
	h := mimcNative.NewMiMC()
	absorbPoint := func(p *bls12377.G1Affine) {
		x := p.X.Bytes()
		h.Write(x[:])
		y := p.Y.Bytes()
		h.Write(y[:])
	}
	absorbUint := func(v uint64) {
		var blk [48]byte
		binary.BigEndian.PutUint64(blk[40:], v)
		h.Write(blk[:])
	}
	absorbPoint(&c.Pubkey)
	absorbPoint(&c.Available.C)
	absorbPoint(&c.Available.D)
	absorbPoint(&c.Fresh.C)
	absorbPoint(&c.Fresh.D)
	absorbUint(c.Amount)
	absorbUint(label)
	for _, p := range commitments {
		absorbPoint(p)
	}
	var e bls12377_fr.Element
	e.SetBytes(h.Sum(nil))
	return e
}

// Staging record state tags, driven only by ledger-confirmed transactions.
const (
	StateUninitialized uint8 = 0
	StateVerified      uint8 = 1
	StateConsumed      uint8 = 2
)

// ProofKindWithdraw tags a staging record as holding a withdraw proof context.
const ProofKindWithdraw uint8 = 1

// Proof program instruction opcodes (first byte of instruction data).
const (
	InstrVerifyProof  byte = 1
	InstrCloseContext byte = 2
)

// ContextStateLen is the fixed size of a staging account's record: state tag,
// proof kind, close authority, verified statement. Allocation requests
// exactly this many bytes.
const ContextStateLen = 1 + 1 + 32 + ContextLen

// ContextState is the verified-proof record the proof program writes into a
// staging account. A freshly allocated account holds all zeroes, which
// decodes as StateUninitialized.
type ContextState struct {
	State     uint8
	Kind      uint8
	Authority [32]byte
	Context   *WithdrawContext
}

// Encode serializes the record to exactly ContextStateLen bytes.
func (s *ContextState) Encode() []byte {
	b := make([]byte, 0, ContextStateLen)
	b = append(b, s.State, s.Kind)
	b = marshal.WriteBytes(b, s.Authority[:])
	if s.Context != nil {
		b = marshal.WriteBytes(b, s.Context.Encode())
	} else {
		b = marshal.WriteBytes(b, make([]byte, ContextLen))
	}
	return b
}

// DecodeContextState parses a staging account record.
func DecodeContextState(raw []byte) (*ContextState, error) {
	if len(raw) != ContextStateLen {
		return nil, errors.Errorf("context state: want %d bytes, got %d", ContextStateLen, len(raw))
	}
	s := &ContextState{State: raw[0], Kind: raw[1]}
	copy(s.Authority[:], raw[2:34])
	if s.State == StateUninitialized {
		return s, nil
	}
	ctx, err := DecodeContext(raw[34:])
	if err != nil {
		return nil, errors.Wrap(err, "context state")
	}
	s.Context = ctx
	return s, nil
}
