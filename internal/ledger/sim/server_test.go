package sim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilogold/confidential-withdraw/internal/ledger"
	"github.com/kilogold/confidential-withdraw/internal/proofs"
)

// TestRestRoundtrip drives the REST client against the simulator's handler,
// covering the full submit/confirm/read/rent surface over the wire.
func TestRestRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := New(nil, nil)
	wallet := newAddr(t)
	s.SeedWallet(wallet, 1_000_000)

	ts := httptest.NewServer(NewServer(s, nil).Handler())
	defer ts.Close()
	client := ledger.NewRestClient(ts.URL, nil)

	rent, err := client.MinimumPersistenceFunding(ctx, proofs.ContextStateLen)
	require.NoError(t, err)
	want, err := s.MinimumPersistenceFunding(ctx, proofs.ContextStateLen)
	require.NoError(t, err)
	require.Equal(t, want, rent)

	target := newAddr(t)
	id, err := client.Submit(ctx, createAccountTx(wallet, target, rent, proofs.ContextStateLen, ledger.ProofProgram))
	require.NoError(t, err)
	require.NoError(t, client.AwaitConfirmation(ctx, id))

	data, err := client.ReadAccount(ctx, target)
	require.NoError(t, err)
	require.Len(t, data, proofs.ContextStateLen)

	_, err = client.ReadAccount(ctx, newAddr(t))
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)

	t.Run("oversized transaction maps to sentinel", func(t *testing.T) {
		tx := &ledger.Transaction{
			Signer: wallet,
			Instructions: []ledger.Instruction{{
				Program: ledger.ProofProgram,
				Data:    make([]byte, ledger.MaxTransactionBytes),
			}},
		}
		_, err := client.Submit(ctx, tx)
		require.ErrorIs(t, err, ledger.ErrTransactionTooLarge)
	})
}

// TestAccountReadFailureIsServerError checks that a read failure other than a
// missing account surfaces as a 5xx instead of an empty 200 body.
func TestAccountReadFailureIsServerError(t *testing.T) {
	s := New(nil, nil)
	wallet := newAddr(t)
	s.SeedWallet(wallet, 1_000_000)
	handler := NewServer(s, nil).Handler()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/account?address="+wallet.String(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(cancelled))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	// The same read succeeds once the context is live again.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account?address="+wallet.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPeerLimiter(t *testing.T) {
	l := NewPeerLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("peer-a"))
	}
	require.False(t, l.Allow("peer-a"))
	require.Equal(t, 0, l.Tokens("peer-a"))

	// Other peers are unaffected.
	require.True(t, l.Allow("peer-b"))
}
