package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddress(t *testing.T) {
	t.Run("roundtrip", func(t *testing.T) {
		a, err := NewAddress()
		require.NoError(t, err)
		parsed, err := ParseAddress(a.String())
		require.NoError(t, err)
		require.Equal(t, a, parsed)
	})

	t.Run("invalid hex rejected", func(t *testing.T) {
		_, err := ParseAddress("not-hex")
		require.Error(t, err)
	})

	t.Run("wrong length rejected", func(t *testing.T) {
		_, err := ParseAddress("abcd")
		require.Error(t, err)
	})

	t.Run("program addresses are distinct", func(t *testing.T) {
		require.NotEqual(t, SystemProgram, ProofProgram)
		require.NotEqual(t, ProofProgram, TokenProgram)
	})
}

func TestTransactionCodec(t *testing.T) {
	signer, err := NewAddress()
	require.NoError(t, err)
	target, err := NewAddress()
	require.NoError(t, err)

	tx := &Transaction{
		Signer: signer,
		Instructions: []Instruction{
			NewCreateAccountInstruction(signer, target, 4100, 282, ProofProgram),
			{Program: TokenProgram, Accounts: []Address{target, signer}, Data: []byte{1, 2, 3}},
		},
	}

	t.Run("roundtrip", func(t *testing.T) {
		decoded, err := DecodeTransaction(tx.Encode())
		require.NoError(t, err)
		require.Equal(t, tx.Signer, decoded.Signer)
		require.Len(t, decoded.Instructions, 2)
		require.Equal(t, tx.Instructions[0].Data, decoded.Instructions[0].Data)
		require.Equal(t, tx.Instructions[1].Accounts, decoded.Instructions[1].Accounts)
	})

	t.Run("id is stable", func(t *testing.T) {
		require.Equal(t, tx.ID(), tx.ID())
		other := &Transaction{Signer: signer, Instructions: tx.Instructions[:1]}
		require.NotEqual(t, tx.ID(), other.ID())
	})

	t.Run("truncated encoding rejected", func(t *testing.T) {
		raw := tx.Encode()
		_, err := DecodeTransaction(raw[:len(raw)-10])
		require.Error(t, err)
	})
}

func TestCreateAccountData(t *testing.T) {
	d := &CreateAccountData{Funding: 4100, Space: 282, Owner: ProofProgram}
	decoded, err := DecodeCreateAccountData(d.Encode())
	require.NoError(t, err)
	require.Equal(t, d.Funding, decoded.Funding)
	require.Equal(t, d.Space, decoded.Space)
	require.Equal(t, d.Owner, decoded.Owner)
}
