// bundle.go - Withdrawal proof bundle generation and verification.

package proofs

import (
	"github.com/consensys/gnark/backend/groth16"
	"github.com/pkg/errors"
	"github.com/tchajed/marshal"
	"go.uber.org/zap"

	"github.com/kilogold/confidential-withdraw/internal/confidential"
)

// ErrProofGeneration tags cryptographic failures during bundle generation.
// Regenerating a bundle is always safe: all randomness is fresh per call.
var ErrProofGeneration = errors.New("proofs: proof generation failed")

// Bundle is the artifact of one generation call: three proofs over one shared
// statement. It lives in memory only; once verified into a staging account it
// is discarded.
type Bundle struct {
	Equality *EqualityProof
	Validity *ValidityProof
	Range    []byte
}

// Encode serializes the bundle. The range proof is length-prefixed because
// Groth16 proof encodings are not fixed-size.
func (b *Bundle) Encode() []byte {
	out := marshal.WriteBytes(nil, b.Equality.Encode())
	out = marshal.WriteBytes(out, b.Validity.Encode())
	out = marshal.WriteInt(out, uint64(len(b.Range)))
	out = marshal.WriteBytes(out, b.Range)
	return out
}

// DecodeBundle parses an encoded bundle.
func DecodeBundle(raw []byte) (*Bundle, error) {
	if len(raw) < EqualityProofLen+ValidityProofLen+8 {
		return nil, errors.Errorf("bundle: truncated at %d bytes", len(raw))
	}
	eq, err := DecodeEqualityProof(raw[:EqualityProofLen])
	if err != nil {
		return nil, err
	}
	raw = raw[EqualityProofLen:]
	val, err := DecodeValidityProof(raw[:ValidityProofLen])
	if err != nil {
		return nil, err
	}
	raw = raw[ValidityProofLen:]
	rangeLen, raw := marshal.ReadInt(raw)
	if uint64(len(raw)) != rangeLen {
		return nil, errors.Errorf("bundle: range proof length mismatch")
	}
	return &Bundle{
		Equality: eq,
		Validity: val,
		Range:    append([]byte(nil), raw...),
	}, nil
}

// Prover generates withdrawal proof bundles. It holds the compiled range
// circuit and proving key, which are expensive to build and shared across
// withdrawals.
type Prover struct {
	params *RangeParams
	logger *zap.Logger
}

// NewProver returns a Prover over the given range proof parameters.
func NewProver(params *RangeParams, logger *zap.Logger) *Prover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prover{params: params, logger: logger}
}

// Params exposes the range parameters (the verifying key in particular).
func (p *Prover) Params() *RangeParams {
	return p.params
}

// GenerateWithdrawBundle produces the proof bundle and its statement for
// withdrawing amount from the loaded account state.
//
// Pure over its inputs apart from internally drawn randomness; the fresh
// ciphertext randomness and all sigma nonces are generated per call and never
// reused. Fails with confidential.ErrInsufficientBalance before touching any
// cryptography when the decrypted available balance is too small.
func (p *Prover) GenerateWithdrawBundle(
	state *confidential.AccountState,
	amount uint64,
	kp *confidential.Keypair,
	aeKey confidential.AEKey,
) (*Bundle, *WithdrawContext, error) {
	if !kp.P.Equal(&state.Pubkey) {
		return nil, nil, errors.Wrap(ErrProofGeneration, "derived keypair does not match account encryption key")
	}
	balance, err := aeKey.Decrypt(state.DecryptableAvailable)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrProofGeneration, "decryptable balance: %v", err)
	}
	if amount > balance {
		return nil, nil, confidential.ErrInsufficientBalance
	}
	remaining := balance - amount

	fresh, r, err := confidential.Encrypt(&kp.P, remaining)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrProofGeneration, "fresh ciphertext: %v", err)
	}
	ctx := &WithdrawContext{
		Pubkey:    kp.P,
		Available: state.Available,
		Fresh:     fresh,
		Amount:    amount,
	}

	equality, err := proveEquality(ctx, kp)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrProofGeneration, "equality proof: %v", err)
	}
	validity, err := proveValidity(ctx, remaining, &r)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrProofGeneration, "validity proof: %v", err)
	}
	rangeProof, err := proveRange(p.params, ctx, remaining, &r)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrProofGeneration, "range proof: %v", err)
	}

	p.logger.Debug("generated withdraw proof bundle",
		zap.Uint64("amount", amount),
		zap.Int("range_proof_bytes", len(rangeProof)),
	)
	return &Bundle{Equality: equality, Validity: validity, Range: rangeProof}, ctx, nil
}

// VerifyBundle checks all three proofs against the statement. This is what
// the ledger's proof program runs before writing the verified context into a
// staging account.
func VerifyBundle(vk groth16.VerifyingKey, ctx *WithdrawContext, b *Bundle) error {
	if err := VerifyEquality(ctx, b.Equality); err != nil {
		return err
	}
	if err := VerifyValidity(ctx, b.Validity); err != nil {
		return err
	}
	return VerifyRange(vk, ctx, b.Range)
}

// VerifyData is the payload of the proof program's verify instruction: the
// statement plus the bundle proving it. It is the single largest payload in
// the protocol and the reason verification needs its own transaction.
type VerifyData struct {
	Context *WithdrawContext
	Bundle  *Bundle
}

// Encode serializes the verify instruction payload.
func (v *VerifyData) Encode() []byte {
	out := marshal.WriteBytes(nil, v.Context.Encode())
	out = marshal.WriteBytes(out, v.Bundle.Encode())
	return out
}

// DecodeVerifyData parses a verify instruction payload.
func DecodeVerifyData(raw []byte) (*VerifyData, error) {
	if len(raw) < ContextLen {
		return nil, errors.Errorf("verify data: truncated at %d bytes", len(raw))
	}
	ctx, err := DecodeContext(raw[:ContextLen])
	if err != nil {
		return nil, err
	}
	bundle, err := DecodeBundle(raw[ContextLen:])
	if err != nil {
		return nil, err
	}
	return &VerifyData{Context: ctx, Bundle: bundle}, nil
}
