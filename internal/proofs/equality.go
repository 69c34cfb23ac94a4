// equality.go - Ciphertext equality proof.
//
// Proves that the homomorphically-debited account ciphertext and the fresh
// ciphertext supplied with the withdrawal decrypt to the same value under the
// holder's key. With post = Available - amount*G and fresh both decrypting to
// x*G, the difference (post.C - fresh.C) must equal s*(post.D - fresh.D),
// where s is the holder's ElGamal secret. That is a Chaum-Pedersen discrete
// log equality statement on the pair (G, P) and (U, V).

package proofs

import (
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"

	"github.com/kilogold/confidential-withdraw/internal/confidential"
)

// EqualityProofLen is the encoded proof size: two points, one scalar.
const EqualityProofLen = 2*confidential.PubKeyLen + 32

// EqualityProof is a Chaum-Pedersen proof that the stated ciphertexts encrypt
// the same value.
type EqualityProof struct {
	A1 bls12377.G1Affine
	A2 bls12377.G1Affine
	Z  bls12377_fr.Element
}

// equalityBases recomputes the derived statement points from the context.
func equalityBases(ctx *WithdrawContext) (u, v bls12377.G1Affine) {
	post := confidential.SubAmount(ctx.Available, ctx.Amount)
	u = confidential.SubPoints(&post.D, &ctx.Fresh.D)
	v = confidential.SubPoints(&post.C, &ctx.Fresh.C)
	return u, v
}

// proveEquality generates the equality proof. The nonce k is fresh per call;
// reusing it across proofs would leak the secret key.
func proveEquality(ctx *WithdrawContext, kp *confidential.Keypair) (*EqualityProof, error) {
	u, _ := equalityBases(ctx)
	g := confidential.G1Gen()

	var k bls12377_fr.Element
	if _, err := k.SetRandom(); err != nil {
		return nil, errors.Wrap(err, "equality nonce")
	}
	var proof EqualityProof
	proof.A1.ScalarMultiplication(&g, k.BigInt(new(big.Int)))
	proof.A2.ScalarMultiplication(&u, k.BigInt(new(big.Int)))

	c := ctx.challenge(labelEquality, &proof.A1, &proof.A2)
	proof.Z.Mul(&c, &kp.S)
	proof.Z.Add(&proof.Z, &k)
	return &proof, nil
}

// VerifyEquality checks the proof against the statement in ctx.
func VerifyEquality(ctx *WithdrawContext, proof *EqualityProof) error {
	u, v := equalityBases(ctx)
	g := confidential.G1Gen()
	c := ctx.challenge(labelEquality, &proof.A1, &proof.A2)
	cBig := c.BigInt(new(big.Int))
	zBig := proof.Z.BigInt(new(big.Int))

	// z*G == A1 + c*P
	var lhs, rhs, tmp bls12377.G1Affine
	lhs.ScalarMultiplication(&g, zBig)
	tmp.ScalarMultiplication(&ctx.Pubkey, cBig)
	rhs = confidential.AddPoints(&proof.A1, &tmp)
	if !lhs.Equal(&rhs) {
		return errors.New("equality proof: key relation does not hold")
	}

	// z*U == A2 + c*V
	lhs.ScalarMultiplication(&u, zBig)
	tmp.ScalarMultiplication(&v, cBig)
	rhs = confidential.AddPoints(&proof.A2, &tmp)
	if !lhs.Equal(&rhs) {
		return errors.New("equality proof: ciphertexts do not encrypt the same value")
	}
	return nil
}

// Encode serializes the proof.
func (p *EqualityProof) Encode() []byte {
	a1 := p.A1.Bytes()
	a2 := p.A2.Bytes()
	z := p.Z.Bytes()
	out := make([]byte, 0, EqualityProofLen)
	out = append(out, a1[:]...)
	out = append(out, a2[:]...)
	out = append(out, z[:]...)
	return out
}

// DecodeEqualityProof parses an encoded equality proof.
func DecodeEqualityProof(raw []byte) (*EqualityProof, error) {
	if len(raw) != EqualityProofLen {
		return nil, errors.Errorf("equality proof: want %d bytes, got %d", EqualityProofLen, len(raw))
	}
	var p EqualityProof
	if _, err := p.A1.SetBytes(raw[:48]); err != nil {
		return nil, errors.Wrap(err, "equality A1")
	}
	if _, err := p.A2.SetBytes(raw[48:96]); err != nil {
		return nil, errors.Wrap(err, "equality A2")
	}
	p.Z.SetBytes(raw[96:])
	return &p, nil
}
