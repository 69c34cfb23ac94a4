// rangeproof.go - Range proof for the remaining balance.
//
// A Groth16 circuit over BW6-761 (BLS12-377 points are native in-circuit)
// proving that the fresh ciphertext encrypts a value in [0, 2^64). The
// ciphertext points are public inputs, so the proof is bound to this exact
// ciphertext and cannot be replayed for another bundle.

package proofs

import (
	"bytes"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/algebra/native/sw_bls12377"
	"github.com/pkg/errors"

	"github.com/kilogold/confidential-withdraw/internal/confidential"
)

// RangeCircuit constrains the fresh ciphertext (C, D) to be an encryption of
// a 64-bit value X under Pub: C = X*G + R*Pub, D = R*G, with X decomposed
// into 64 bits.
type RangeCircuit struct {
	// Public
	C   sw_bls12377.G1Affine `gnark:",public"`
	D   sw_bls12377.G1Affine `gnark:",public"`
	Pub sw_bls12377.G1Affine `gnark:",public"`
	G   sw_bls12377.G1Affine `gnark:",public"`

	// Private
	X frontend.Variable
	R frontend.Variable
}

// Define implements the range and well-formedness constraints.
func (c *RangeCircuit) Define(api frontend.API) error {
	// (1) X fits in 64 bits.
	api.ToBinary(c.X, 64)

	// (2) C = X*G + R*Pub
	xG := new(sw_bls12377.G1Affine)
	xG.ScalarMul(api, c.G, c.X)
	rP := new(sw_bls12377.G1Affine)
	rP.ScalarMul(api, c.Pub, c.R)
	xG.AddAssign(api, *rP)
	api.AssertIsEqual(c.C.X, xG.X)
	api.AssertIsEqual(c.C.Y, xG.Y)

	// (3) D = R*G
	rG := new(sw_bls12377.G1Affine)
	rG.ScalarMul(api, c.G, c.R)
	api.AssertIsEqual(c.D.X, rG.X)
	api.AssertIsEqual(c.D.Y, rG.Y)
	return nil
}

// toGnarkPoint converts a native BLS12-377 point to gnark witness format.
func toGnarkPoint(p bls12377.G1Affine) sw_bls12377.G1Affine {
	xBytes := p.X.Bytes()
	yBytes := p.Y.Bytes()
	return sw_bls12377.G1Affine{
		X: new(big.Int).SetBytes(xBytes[:]).String(),
		Y: new(big.Int).SetBytes(yBytes[:]).String(),
	}
}

// RangeParams bundles the compiled circuit and Groth16 keys.
type RangeParams struct {
	CCS constraint.ConstraintSystem
	PK  groth16.ProvingKey
	VK  groth16.VerifyingKey
}

// CompileRangeCircuit compiles the range circuit for BW6-761.
func CompileRangeCircuit() (constraint.ConstraintSystem, error) {
	var circuit RangeCircuit
	return frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &circuit)
}

// SetupOrLoadRangeKeys compiles the circuit and generates or loads Groth16
// keys. If keys exist under dir, loads them; otherwise generates and saves.
func SetupOrLoadRangeKeys(dir string) (*RangeParams, error) {
	ccs, err := CompileRangeCircuit()
	if err != nil {
		return nil, errors.Wrap(err, "compile range circuit")
	}
	pkPath := filepath.Join(dir, "range_proving.key")
	vkPath := filepath.Join(dir, "range_verifying.key")
	pk, pkErr := loadProvingKey(pkPath)
	vk, vkErr := loadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return &RangeParams{CCS: ccs, PK: pk, VK: vk}, nil
	}
	pk, vk, err = groth16.Setup(ccs)
	if err != nil {
		return nil, errors.Wrap(err, "groth16 setup")
	}
	if err := saveKey(pkPath, pk.WriteTo); err != nil {
		return nil, err
	}
	if err := saveKey(vkPath, vk.WriteTo); err != nil {
		return nil, err
	}
	return &RangeParams{CCS: ccs, PK: pk, VK: vk}, nil
}

func saveKey(path string, writeTo func(w io.Writer) (int64, error)) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "save key")
	}
	defer f.Close()
	_, err = writeTo(f)
	return errors.Wrap(err, "save key")
}

func loadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BW6_761)
	_, err = pk.ReadFrom(f)
	return pk, err
}

func loadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// proveRange generates a Groth16 range proof for the fresh ciphertext in ctx
// with witness (remaining, r).
func proveRange(params *RangeParams, ctx *WithdrawContext, remaining uint64, r *bls12377_fr.Element) ([]byte, error) {
	assignment := &RangeCircuit{
		C:   toGnarkPoint(ctx.Fresh.C),
		D:   toGnarkPoint(ctx.Fresh.D),
		Pub: toGnarkPoint(ctx.Pubkey),
		G:   toGnarkPoint(confidential.G1Gen()),
		X:   new(big.Int).SetUint64(remaining),
		R:   r.BigInt(new(big.Int)),
	}
	witness, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, errors.Wrap(err, "range witness")
	}
	proof, err := groth16.Prove(params.CCS, params.PK, witness)
	if err != nil {
		return nil, errors.Wrap(err, "range prove")
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "range proof serialize")
	}
	return buf.Bytes(), nil
}

// VerifyRange checks a serialized range proof against the statement in ctx.
func VerifyRange(vk groth16.VerifyingKey, ctx *WithdrawContext, proofBytes []byte) error {
	public := &RangeCircuit{
		C:   toGnarkPoint(ctx.Fresh.C),
		D:   toGnarkPoint(ctx.Fresh.D),
		Pub: toGnarkPoint(ctx.Pubkey),
		G:   toGnarkPoint(confidential.G1Gen()),
	}
	witness, err := frontend.NewWitness(public, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errors.Wrap(err, "range public witness")
	}
	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return errors.Wrap(err, "range proof parse")
	}
	if err := groth16.Verify(proof, vk, witness); err != nil {
		return errors.Wrap(err, "range proof: remaining balance not in [0, 2^64)")
	}
	return nil
}
