// keys.go - Deterministic key derivation and the decryptable balance snapshot.
//
// Both the ElGamal keypair and the AES key are pure functions of the holder's
// signing seed and the account address. There is no key storage: whoever holds
// the signing seed can rederive everything, and nobody else can.

package confidential

import (
	"github.com/pkg/errors"
	"github.com/tchajed/marshal"
	subtleaead "github.com/tink-crypto/tink-go/v2/aead/subtle"
	"github.com/zeebo/blake3"
)

// Distinct derivation contexts keep the two keys cryptographically unrelated
// even though they share input material.
const (
	elgamalDeriveContext = "confidential-withdraw/elgamal-seed/v1"
	aeDeriveContext      = "confidential-withdraw/ae-key/v1"
)

// SnapshotLen is the encoded size of a decryptable balance snapshot:
// 12-byte AES-GCM nonce, 8-byte ciphertext, 16-byte tag.
const SnapshotLen = 12 + 8 + 16

// AEKey is the symmetric key protecting the decryptable balance snapshot.
type AEKey [32]byte

// DeriveKeys derives the ElGamal keypair and the AE key for an account from
// the holder's signing seed and the account address.
//
// The derivation is deterministic on purpose: it removes key storage entirely,
// at the cost of coupling the derived keys to the signing secret's lifetime.
func DeriveKeys(signerSeed []byte, accountAddress []byte) (*Keypair, AEKey, error) {
	var ae AEKey
	if len(signerSeed) == 0 {
		return nil, ae, errors.New("derive keys: empty signer seed")
	}
	material := make([]byte, 0, len(signerSeed)+len(accountAddress))
	material = append(material, signerSeed...)
	material = append(material, accountAddress...)

	var scalarSeed [48]byte
	blake3.DeriveKey(elgamalDeriveContext, material, scalarSeed[:])
	var kp Keypair
	kp.S.SetBytes(scalarSeed[:])
	kp.P = ScalarBaseMul(&kp.S)

	blake3.DeriveKey(aeDeriveContext, material, ae[:])
	return &kp, ae, nil
}

// Encrypt produces a decryptable snapshot of balance with a fresh nonce.
func (k AEKey) Encrypt(balance uint64) ([]byte, error) {
	cipher, err := subtleaead.NewAESGCM(k[:])
	if err != nil {
		return nil, errors.Wrap(err, "ae key")
	}
	pt := marshal.WriteInt(nil, balance)
	ct, err := cipher.Encrypt(pt, nil)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot encrypt")
	}
	if len(ct) != SnapshotLen {
		return nil, errors.Errorf("snapshot encrypt: unexpected length %d", len(ct))
	}
	return ct, nil
}

// Decrypt recovers the balance from a snapshot. Fails if the snapshot was not
// produced under this key.
func (k AEKey) Decrypt(snapshot []byte) (uint64, error) {
	if len(snapshot) != SnapshotLen {
		return 0, errors.Errorf("snapshot: want %d bytes, got %d", SnapshotLen, len(snapshot))
	}
	cipher, err := subtleaead.NewAESGCM(k[:])
	if err != nil {
		return 0, errors.Wrap(err, "ae key")
	}
	pt, err := cipher.Decrypt(snapshot, nil)
	if err != nil {
		return 0, errors.Wrap(err, "snapshot decrypt")
	}
	balance, _ := marshal.ReadInt(pt)
	return balance, nil
}
