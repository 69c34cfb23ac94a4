// validity.go - Ciphertext validity proof.
//
// Proves the fresh ciphertext is a legitimate encryption under the stated
// key: knowledge of x and r with C = x*G + r*P and D = r*G. Without it a
// withdrawal could smuggle an arbitrary bit pattern into the account state.

package proofs

import (
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"

	"github.com/kilogold/confidential-withdraw/internal/confidential"
)

// ValidityProofLen is the encoded proof size: two points, two scalars.
const ValidityProofLen = 2*confidential.PubKeyLen + 64

// ValidityProof is a sigma proof of well-formedness of the fresh ciphertext.
type ValidityProof struct {
	A1 bls12377.G1Affine
	A2 bls12377.G1Affine
	Zx bls12377_fr.Element
	Zr bls12377_fr.Element
}

// proveValidity generates the validity proof for the fresh ciphertext in ctx,
// with witness (remaining, r). Nonces are fresh per call.
func proveValidity(ctx *WithdrawContext, remaining uint64, r *bls12377_fr.Element) (*ValidityProof, error) {
	g := confidential.G1Gen()

	var kx, kr bls12377_fr.Element
	if _, err := kx.SetRandom(); err != nil {
		return nil, errors.Wrap(err, "validity nonce")
	}
	if _, err := kr.SetRandom(); err != nil {
		return nil, errors.Wrap(err, "validity nonce")
	}

	var proof ValidityProof
	var kxG, krP bls12377.G1Affine
	kxG.ScalarMultiplication(&g, kx.BigInt(new(big.Int)))
	krP.ScalarMultiplication(&ctx.Pubkey, kr.BigInt(new(big.Int)))
	proof.A1 = confidential.AddPoints(&kxG, &krP)
	proof.A2.ScalarMultiplication(&g, kr.BigInt(new(big.Int)))

	c := ctx.challenge(labelValidity, &proof.A1, &proof.A2)

	var x bls12377_fr.Element
	x.SetUint64(remaining)
	proof.Zx.Mul(&c, &x)
	proof.Zx.Add(&proof.Zx, &kx)
	proof.Zr.Mul(&c, r)
	proof.Zr.Add(&proof.Zr, &kr)
	return &proof, nil
}

// VerifyValidity checks the proof against the fresh ciphertext in ctx.
func VerifyValidity(ctx *WithdrawContext, proof *ValidityProof) error {
	g := confidential.G1Gen()
	c := ctx.challenge(labelValidity, &proof.A1, &proof.A2)
	cBig := c.BigInt(new(big.Int))

	// Zx*G + Zr*P == A1 + c*C
	var zxG, zrP, tmp bls12377.G1Affine
	zxG.ScalarMultiplication(&g, proof.Zx.BigInt(new(big.Int)))
	zrP.ScalarMultiplication(&ctx.Pubkey, proof.Zr.BigInt(new(big.Int)))
	lhs := confidential.AddPoints(&zxG, &zrP)
	tmp.ScalarMultiplication(&ctx.Fresh.C, cBig)
	rhs := confidential.AddPoints(&proof.A1, &tmp)
	if !lhs.Equal(&rhs) {
		return errors.New("validity proof: commitment relation does not hold")
	}

	// Zr*G == A2 + c*D
	lhs.ScalarMultiplication(&g, proof.Zr.BigInt(new(big.Int)))
	tmp.ScalarMultiplication(&ctx.Fresh.D, cBig)
	rhs = confidential.AddPoints(&proof.A2, &tmp)
	if !lhs.Equal(&rhs) {
		return errors.New("validity proof: handle relation does not hold")
	}
	return nil
}

// Encode serializes the proof.
func (p *ValidityProof) Encode() []byte {
	a1 := p.A1.Bytes()
	a2 := p.A2.Bytes()
	zx := p.Zx.Bytes()
	zr := p.Zr.Bytes()
	out := make([]byte, 0, ValidityProofLen)
	out = append(out, a1[:]...)
	out = append(out, a2[:]...)
	out = append(out, zx[:]...)
	out = append(out, zr[:]...)
	return out
}

// DecodeValidityProof parses an encoded validity proof.
func DecodeValidityProof(raw []byte) (*ValidityProof, error) {
	if len(raw) != ValidityProofLen {
		return nil, errors.Errorf("validity proof: want %d bytes, got %d", ValidityProofLen, len(raw))
	}
	var p ValidityProof
	if _, err := p.A1.SetBytes(raw[:48]); err != nil {
		return nil, errors.Wrap(err, "validity A1")
	}
	if _, err := p.A2.SetBytes(raw[48:96]); err != nil {
		return nil, errors.Wrap(err, "validity A2")
	}
	p.Zx.SetBytes(raw[96:128])
	p.Zr.SetBytes(raw[128:])
	return &p, nil
}
