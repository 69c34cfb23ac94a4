package confidential

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testKeypair(t *testing.T) (*Keypair, AEKey) {
	t.Helper()
	seed := []byte("test-signer-seed-0000000000000000")
	addr := []byte("test-account-address-000000000000")
	kp, ae, err := DeriveKeys(seed, addr)
	require.NoError(t, err)
	return kp, ae
}

func TestElGamal(t *testing.T) {
	kp, _ := testKeypair(t)

	t.Run("encrypt decrypts to amount", func(t *testing.T) {
		ct, _, err := Encrypt(&kp.P, 12345)
		require.NoError(t, err)
		require.True(t, DecryptsTo(kp, ct, 12345))
		require.False(t, DecryptsTo(kp, ct, 12346))
	})

	t.Run("homomorphic subtraction", func(t *testing.T) {
		ct, _, err := Encrypt(&kp.P, 10000)
		require.NoError(t, err)
		post := SubAmount(ct, 2000)
		require.True(t, DecryptsTo(kp, post, 8000))
	})

	t.Run("ciphertext roundtrip", func(t *testing.T) {
		ct, _, err := Encrypt(&kp.P, 777)
		require.NoError(t, err)
		decoded, err := DecodeCiphertext(ct.Encode())
		require.NoError(t, err)
		require.True(t, ct.C.Equal(&decoded.C))
		require.True(t, ct.D.Equal(&decoded.D))
	})

	t.Run("wrong key does not decrypt", func(t *testing.T) {
		other, _, err := DeriveKeys([]byte("another-seed-00000000000000000000"), []byte("addr"))
		require.NoError(t, err)
		ct, _, err := Encrypt(&kp.P, 42)
		require.NoError(t, err)
		require.False(t, DecryptsTo(other, ct, 42))
	})
}

func TestDeriveKeys(t *testing.T) {
	seed := []byte("seed-material-aaaaaaaaaaaaaaaaaa")

	t.Run("deterministic", func(t *testing.T) {
		kp1, ae1, err := DeriveKeys(seed, []byte("addr-1"))
		require.NoError(t, err)
		kp2, ae2, err := DeriveKeys(seed, []byte("addr-1"))
		require.NoError(t, err)
		require.True(t, kp1.P.Equal(&kp2.P))
		require.Equal(t, ae1, ae2)
	})

	t.Run("distinct per account", func(t *testing.T) {
		kp1, ae1, err := DeriveKeys(seed, []byte("addr-1"))
		require.NoError(t, err)
		kp2, ae2, err := DeriveKeys(seed, []byte("addr-2"))
		require.NoError(t, err)
		require.False(t, kp1.P.Equal(&kp2.P))
		require.NotEqual(t, ae1, ae2)
	})

	t.Run("empty seed rejected", func(t *testing.T) {
		_, _, err := DeriveKeys(nil, []byte("addr"))
		require.Error(t, err)
	})
}

func TestSnapshot(t *testing.T) {
	_, ae := testKeypair(t)

	t.Run("roundtrip", func(t *testing.T) {
		snap, err := ae.Encrypt(987654321)
		require.NoError(t, err)
		require.Len(t, snap, SnapshotLen)
		balance, err := ae.Decrypt(snap)
		require.NoError(t, err)
		require.Equal(t, uint64(987654321), balance)
	})

	t.Run("wrong key fails", func(t *testing.T) {
		snap, err := ae.Encrypt(1)
		require.NoError(t, err)
		var other AEKey
		other[0] = 0xff
		_, err = other.Decrypt(snap)
		require.Error(t, err)
	})

	t.Run("tampered snapshot fails", func(t *testing.T) {
		snap, err := ae.Encrypt(1)
		require.NoError(t, err)
		snap[SnapshotLen-1] ^= 1
		_, err = ae.Decrypt(snap)
		require.Error(t, err)
	})
}

func testAccountState(t *testing.T, kp *Keypair, ae AEKey, balance uint64) *AccountState {
	t.Helper()
	available, _, err := Encrypt(&kp.P, balance)
	require.NoError(t, err)
	pending, _, err := Encrypt(&kp.P, 0)
	require.NoError(t, err)
	snap, err := ae.Encrypt(balance)
	require.NoError(t, err)
	return &AccountState{
		Mint:                 [32]byte{1},
		Owner:                [32]byte{2},
		Decimals:             2,
		Extension:            true,
		Pubkey:               kp.P,
		Available:            available,
		Pending:              pending,
		DecryptableAvailable: snap,
	}
}

func TestAccountRecord(t *testing.T) {
	kp, ae := testKeypair(t)
	state := testAccountState(t, kp, ae, 10000)

	t.Run("roundtrip", func(t *testing.T) {
		raw := state.Encode()
		require.Len(t, raw, AccountStateLen)
		parsed, err := ParseAccount(raw)
		require.NoError(t, err)
		require.Equal(t, state.Owner, parsed.Owner)
		require.Equal(t, state.Decimals, parsed.Decimals)
		require.True(t, state.Pubkey.Equal(&parsed.Pubkey))
		require.True(t, state.Available.C.Equal(&parsed.Available.C))
		require.Equal(t, state.DecryptableAvailable, parsed.DecryptableAvailable)
	})

	t.Run("missing extension", func(t *testing.T) {
		raw := state.Encode()
		raw[65] = 0
		_, err := ParseAccount(raw)
		require.ErrorIs(t, err, ErrExtensionNotPresent)
	})

	t.Run("truncated record", func(t *testing.T) {
		_, err := ParseAccount(state.Encode()[:100])
		require.Error(t, err)
	})
}

func TestNewDecryptableBalance(t *testing.T) {
	kp, ae := testKeypair(t)
	state := testAccountState(t, kp, ae, 10000)

	t.Run("subtracts from snapshot", func(t *testing.T) {
		snap, err := NewDecryptableBalance(state, 2000, ae)
		require.NoError(t, err)
		balance, err := ae.Decrypt(snap)
		require.NoError(t, err)
		require.Equal(t, uint64(8000), balance)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		_, err := NewDecryptableBalance(state, 20000, ae)
		require.ErrorIs(t, err, ErrInsufficientBalance)
	})
}

func TestWithdrawData(t *testing.T) {
	_, ae := testKeypair(t)
	snap, err := ae.Encrypt(500)
	require.NoError(t, err)

	data := &WithdrawData{Amount: 2000, Decimals: 2, NewDecryptableAvailable: snap}
	raw := data.Encode()
	require.Len(t, raw, WithdrawDataLen)
	decoded, err := DecodeWithdrawData(raw)
	require.NoError(t, err)
	require.Equal(t, data.Amount, decoded.Amount)
	require.Equal(t, data.Decimals, decoded.Decimals)
	require.Equal(t, data.NewDecryptableAvailable, decoded.NewDecryptableAvailable)
}
