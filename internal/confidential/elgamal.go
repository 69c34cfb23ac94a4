// elgamal.go - Additively homomorphic encryption of account balances.
//
// Implements exponent ElGamal over BLS12-377 G1: a ciphertext for amount x
// under public key P = s*G is (C, D) = (x*G + r*P, r*G). Subtracting a public
// amount from the encrypted balance is a single point subtraction on C, which
// is what the ledger's token program does when it applies a withdrawal.

package confidential

import (
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"
)

const (
	// PubKeyLen is the compressed size of a BLS12-377 G1 point.
	PubKeyLen = 48

	// CiphertextLen is the encoded size of an ElGamal ciphertext (two
	// compressed G1 points).
	CiphertextLen = 2 * PubKeyLen
)

// Keypair is an ElGamal keypair. S is the decryption scalar, P = S*G.
type Keypair struct {
	S bls12377_fr.Element
	P bls12377.G1Affine
}

// Ciphertext is an exponent-ElGamal encryption of a 64-bit amount.
// C = amount*G + r*P, D = r*G.
type Ciphertext struct {
	C bls12377.G1Affine
	D bls12377.G1Affine
}

// G1Gen returns the canonical G1 generator.
func G1Gen() bls12377.G1Affine {
	_, _, g1Aff, _ := bls12377.Generators()
	return g1Aff
}

// ScalarBaseMul computes k*G.
func ScalarBaseMul(k *bls12377_fr.Element) bls12377.G1Affine {
	g := G1Gen()
	var p bls12377.G1Affine
	p.ScalarMultiplication(&g, k.BigInt(new(big.Int)))
	return p
}

// AmountPoint maps a 64-bit amount onto the curve as amount*G.
func AmountPoint(amount uint64) bls12377.G1Affine {
	var k bls12377_fr.Element
	k.SetUint64(amount)
	return ScalarBaseMul(&k)
}

// AddPoints returns a + b.
func AddPoints(a, b *bls12377.G1Affine) bls12377.G1Affine {
	var jac bls12377.G1Jac
	jac.FromAffine(a)
	var bj bls12377.G1Jac
	bj.FromAffine(b)
	jac.AddAssign(&bj)
	var out bls12377.G1Affine
	out.FromJacobian(&jac)
	return out
}

// SubPoints returns a - b.
func SubPoints(a, b *bls12377.G1Affine) bls12377.G1Affine {
	var jac bls12377.G1Jac
	jac.FromAffine(a)
	var bj bls12377.G1Jac
	bj.FromAffine(b)
	jac.SubAssign(&bj)
	var out bls12377.G1Affine
	out.FromJacobian(&jac)
	return out
}

// Encrypt encrypts amount under pub with fresh randomness. The randomness is
// returned to the caller because the proof generator needs it as a witness;
// it must never be reused for a second ciphertext.
func Encrypt(pub *bls12377.G1Affine, amount uint64) (Ciphertext, bls12377_fr.Element, error) {
	var r bls12377_fr.Element
	if _, err := r.SetRandom(); err != nil {
		return Ciphertext{}, r, errors.Wrap(err, "elgamal randomness")
	}
	return EncryptWithRandomness(pub, amount, &r), r, nil
}

// EncryptWithRandomness encrypts amount under pub using the supplied
// randomness. Exposed for deterministic tests; production callers use Encrypt.
func EncryptWithRandomness(pub *bls12377.G1Affine, amount uint64, r *bls12377_fr.Element) Ciphertext {
	xg := AmountPoint(amount)
	var rp bls12377.G1Affine
	rp.ScalarMultiplication(pub, r.BigInt(new(big.Int)))
	return Ciphertext{
		C: AddPoints(&xg, &rp),
		D: ScalarBaseMul(r),
	}
}

// SubAmount homomorphically subtracts a public amount from the ciphertext:
// the result encrypts (x - amount) under the same key and randomness.
func SubAmount(ct Ciphertext, amount uint64) Ciphertext {
	ag := AmountPoint(amount)
	return Ciphertext{
		C: SubPoints(&ct.C, &ag),
		D: ct.D,
	}
}

// DecryptsTo reports whether ct encrypts amount under kp. Exponent ElGamal
// has no efficient general decryption; equality against a candidate amount is
// all the protocol ever needs (the decryptable snapshot covers display).
func DecryptsTo(kp *Keypair, ct Ciphertext, amount uint64) bool {
	var sd bls12377.G1Affine
	sd.ScalarMultiplication(&ct.D, kp.S.BigInt(new(big.Int)))
	lhs := SubPoints(&ct.C, &sd)
	rhs := AmountPoint(amount)
	return lhs.Equal(&rhs)
}

// Encode serializes the ciphertext as two compressed G1 points.
func (ct Ciphertext) Encode() []byte {
	cb := ct.C.Bytes()
	db := ct.D.Bytes()
	out := make([]byte, 0, CiphertextLen)
	out = append(out, cb[:]...)
	out = append(out, db[:]...)
	return out
}

// DecodeCiphertext parses a 96-byte ciphertext encoding.
func DecodeCiphertext(raw []byte) (Ciphertext, error) {
	var ct Ciphertext
	if len(raw) != CiphertextLen {
		return ct, errors.Errorf("ciphertext: want %d bytes, got %d", CiphertextLen, len(raw))
	}
	if _, err := ct.C.SetBytes(raw[:PubKeyLen]); err != nil {
		return ct, errors.Wrap(err, "ciphertext C")
	}
	if _, err := ct.D.SetBytes(raw[PubKeyLen:]); err != nil {
		return ct, errors.Wrap(err, "ciphertext D")
	}
	return ct, nil
}
