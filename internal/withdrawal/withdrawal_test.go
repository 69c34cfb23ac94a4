package withdrawal

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/kilogold/confidential-withdraw/internal/confidential"
	"github.com/kilogold/confidential-withdraw/internal/ledger"
	"github.com/kilogold/confidential-withdraw/internal/ledger/sim"
	"github.com/kilogold/confidential-withdraw/internal/proofs"
	"github.com/kilogold/confidential-withdraw/internal/staging"
)

var (
	paramsOnce sync.Once
	paramsVal  *proofs.RangeParams
	paramsErr  error
)

func testParams(t *testing.T) *proofs.RangeParams {
	t.Helper()
	paramsOnce.Do(func() {
		if err := os.MkdirAll("testdata", 0o755); err != nil {
			paramsErr = err
			return
		}
		paramsVal, paramsErr = proofs.SetupOrLoadRangeKeys("testdata")
	})
	require.NoError(t, paramsErr)
	return paramsVal
}

type env struct {
	sim    *sim.Sim
	seq    *Sequencer
	prover *proofs.Prover

	wallet       ledger.Address
	tokenAccount ledger.Address
	seed         []byte
	kp           *confidential.Keypair
	ae           confidential.AEKey
}

const (
	initialBalance uint64 = 10000
	walletFunding  uint64 = 1_000_000
)

func newEnv(t *testing.T) *env {
	t.Helper()
	params := testParams(t)
	s := sim.New(params.VK, nil)

	wallet, err := ledger.NewAddress()
	require.NoError(t, err)
	tokenAccount, err := ledger.NewAddress()
	require.NoError(t, err)
	seed := []byte("withdrawal-test-seed-000000000000")

	kp, ae, err := confidential.DeriveKeys(seed, tokenAccount[:])
	require.NoError(t, err)
	available, _, err := confidential.Encrypt(&kp.P, initialBalance)
	require.NoError(t, err)
	pending, _, err := confidential.Encrypt(&kp.P, 0)
	require.NoError(t, err)
	snap, err := ae.Encrypt(initialBalance)
	require.NoError(t, err)

	s.SeedWallet(wallet, walletFunding)
	s.SeedTokenAccount(tokenAccount, &confidential.AccountState{
		Mint:                 [32]byte{1},
		Owner:                [32]byte(wallet),
		Decimals:             2,
		Extension:            true,
		Pubkey:               kp.P,
		Available:            available,
		Pending:              pending,
		DecryptableAvailable: snap,
	})

	prover := proofs.NewProver(params, nil)
	return &env{
		sim:          s,
		seq:          NewSequencer(s, prover, nil),
		prover:       prover,
		wallet:       wallet,
		tokenAccount: tokenAccount,
		seed:         seed,
		kp:           kp,
		ae:           ae,
	}
}

func (e *env) request(amount uint64) *Request {
	return &Request{
		Account:    e.tokenAccount,
		Authority:  e.wallet,
		SignerSeed: e.seed,
		Amount:     amount,
	}
}

func (e *env) readState(t *testing.T) *confidential.AccountState {
	t.Helper()
	raw, err := e.sim.ReadAccount(context.Background(), e.tokenAccount)
	require.NoError(t, err)
	state, err := confidential.ParseAccount(raw)
	require.NoError(t, err)
	return state
}

func TestWithdrawEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	receipt, err := e.seq.Withdraw(ctx, e.request(2000))
	require.NoError(t, err)

	t.Run("three confirmed transactions plus close", func(t *testing.T) {
		require.NotEmpty(t, receipt.AllocateTx)
		require.NotEmpty(t, receipt.VerifyTx)
		require.NotEmpty(t, receipt.WithdrawTx)
		require.NotEmpty(t, receipt.CloseTx)
		require.Equal(t, uint64(4), e.sim.Metrics().Confirmed)
	})

	t.Run("balances updated", func(t *testing.T) {
		state := e.readState(t)
		balance, err := e.ae.Decrypt(state.DecryptableAvailable)
		require.NoError(t, err)
		require.Equal(t, uint64(8000), balance)
		require.True(t, confidential.DecryptsTo(e.kp, state.Available, 8000))
		require.True(t, confidential.DecryptsTo(e.kp, state.Pending, 0))
	})

	t.Run("staging account reclaimed", func(t *testing.T) {
		_, err := e.sim.ReadAccount(ctx, receipt.StagingAccount)
		require.ErrorIs(t, err, ledger.ErrAccountNotFound)
		funding, ok := e.sim.AccountFunding(e.wallet)
		require.True(t, ok)
		require.Equal(t, walletFunding, funding)
	})

	t.Run("display amount", func(t *testing.T) {
		require.Equal(t, "20", receipt.UIAmount())
	})
}

func TestSequentialWithdrawals(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.seq.Withdraw(ctx, e.request(2000))
	require.NoError(t, err)
	_, err = e.seq.Withdraw(ctx, e.request(3000))
	require.NoError(t, err)

	state := e.readState(t)
	balance, err := e.ae.Decrypt(state.DecryptableAvailable)
	require.NoError(t, err)
	require.Equal(t, uint64(5000), balance)
	require.True(t, confidential.DecryptsTo(e.kp, state.Available, 5000))
}

func TestInsufficientBalanceSubmitsNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.seq.Withdraw(ctx, e.request(20000))
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageGenerateProofs, stageErr.Stage)
	require.ErrorIs(t, err, confidential.ErrInsufficientBalance)
	require.Empty(t, stageErr.Confirmed)
	require.Equal(t, uint64(0), e.sim.Metrics().Submitted)
}

func TestWrongAuthority(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	req := e.request(100)
	other, err := ledger.NewAddress()
	require.NoError(t, err)
	req.Authority = other

	_, err = e.seq.Withdraw(ctx, req)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageLoadAccount, stageErr.Stage)
	require.Equal(t, uint64(0), e.sim.Metrics().Submitted)
}

func TestMissingExtension(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	plain, err := ledger.NewAddress()
	require.NoError(t, err)
	state := e.readState(t)
	state.Extension = false
	e.sim.SeedTokenAccount(plain, state)

	req := e.request(100)
	req.Account = plain
	_, err = e.seq.Withdraw(ctx, req)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageLoadAccount, stageErr.Stage)
	require.ErrorIs(t, err, confidential.ErrExtensionNotPresent)
}

// TestCombinedTransactionTooLarge shows why the protocol exists: the verify
// payload plus allocation and withdrawal cannot share one transaction.
func TestCombinedTransactionTooLarge(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	state := e.readState(t)
	bundle, proofCtx, err := e.prover.GenerateWithdrawBundle(state, 2000, e.kp, e.ae)
	require.NoError(t, err)
	newSnap, err := confidential.NewDecryptableBalance(state, 2000, e.ae)
	require.NoError(t, err)

	stagingAddr, err := ledger.NewAddress()
	require.NoError(t, err)
	rent, err := e.sim.MinimumPersistenceFunding(ctx, proofs.ContextStateLen)
	require.NoError(t, err)

	combined := &ledger.Transaction{
		Signer: e.wallet,
		Instructions: []ledger.Instruction{
			ledger.NewCreateAccountInstruction(e.wallet, stagingAddr, rent, proofs.ContextStateLen, ledger.ProofProgram),
			staging.NewVerifyProofInstruction(stagingAddr, e.wallet, &proofs.VerifyData{Context: proofCtx, Bundle: bundle}),
			NewWithdrawInstruction(e.tokenAccount, stagingAddr, e.wallet, &confidential.WithdrawData{
				Amount:                  2000,
				Decimals:                state.Decimals,
				NewDecryptableAvailable: newSnap,
			}),
		},
	}
	require.Greater(t, combined.EncodedSize(), ledger.MaxTransactionBytes)
	_, err = e.sim.Submit(ctx, combined)
	require.ErrorIs(t, err, ledger.ErrTransactionTooLarge)

	// The verify payload alone does fit, which is what makes staging viable.
	verifyOnly := &ledger.Transaction{
		Signer: e.wallet,
		Instructions: []ledger.Instruction{
			staging.NewVerifyProofInstruction(stagingAddr, e.wallet, &proofs.VerifyData{Context: proofCtx, Bundle: bundle}),
		},
	}
	require.LessOrEqual(t, verifyOnly.EncodedSize(), ledger.MaxTransactionBytes)
}

// TestConsumedContextCannotBeReplayed drives the three transactions by hand,
// skips the close, and checks a verified context only pays out once.
func TestConsumedContextCannotBeReplayed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	mgr := staging.NewManager(e.sim, nil)

	state := e.readState(t)
	bundle, proofCtx, err := e.prover.GenerateWithdrawBundle(state, 2000, e.kp, e.ae)
	require.NoError(t, err)
	newSnap, err := confidential.NewDecryptableBalance(state, 2000, e.ae)
	require.NoError(t, err)

	allocated, err := mgr.Allocate(ctx, e.wallet)
	require.NoError(t, err)
	verified, err := mgr.Verify(ctx, allocated, &proofs.VerifyData{Context: proofCtx, Bundle: bundle})
	require.NoError(t, err)

	withdrawTx := &ledger.Transaction{
		Signer: e.wallet,
		Instructions: []ledger.Instruction{
			NewWithdrawInstruction(e.tokenAccount, verified.Reference(), e.wallet, &confidential.WithdrawData{
				Amount:                  2000,
				Decimals:                state.Decimals,
				NewDecryptableAvailable: newSnap,
			}),
		},
	}
	id, err := e.sim.Submit(ctx, withdrawTx)
	require.NoError(t, err)
	require.NoError(t, e.sim.AwaitConfirmation(ctx, id))

	t.Run("identical resubmission applies once", func(t *testing.T) {
		id2, err := e.sim.Submit(ctx, withdrawTx)
		require.NoError(t, err)
		require.Equal(t, id, id2)
		require.NoError(t, e.sim.AwaitConfirmation(ctx, id2))
		state := e.readState(t)
		balance, err := e.ae.Decrypt(state.DecryptableAvailable)
		require.NoError(t, err)
		require.Equal(t, uint64(8000), balance)
	})

	t.Run("fresh withdrawal against consumed context rejected", func(t *testing.T) {
		otherSnap, err := e.ae.Encrypt(8000)
		require.NoError(t, err)
		replay := &ledger.Transaction{
			Signer: e.wallet,
			Instructions: []ledger.Instruction{
				NewWithdrawInstruction(e.tokenAccount, verified.Reference(), e.wallet, &confidential.WithdrawData{
					Amount:                  2000,
					Decimals:                state.Decimals,
					NewDecryptableAvailable: otherSnap,
				}),
			},
		}
		id, err := e.sim.Submit(ctx, replay)
		require.NoError(t, err)
		require.ErrorIs(t, e.sim.AwaitConfirmation(ctx, id), ledger.ErrRejected)
	})
}

// verifyDropClient passes everything through except proof verification
// submissions, which fail with a transport error until failures runs out.
type verifyDropClient struct {
	ledger.Client
	failures int
}

func (c *verifyDropClient) Submit(ctx context.Context, tx *ledger.Transaction) (ledger.TxID, error) {
	if c.failures > 0 && isVerifySubmission(tx) {
		c.failures--
		return "", errors.Wrap(ledger.ErrTransport, "connection reset")
	}
	return c.Client.Submit(ctx, tx)
}

func isVerifySubmission(tx *ledger.Transaction) bool {
	for _, ins := range tx.Instructions {
		if ins.Program == ledger.ProofProgram && len(ins.Data) > 0 && ins.Data[0] == proofs.InstrVerifyProof {
			return true
		}
	}
	return false
}

// TestVerifyFailureStopsSequence checks that a failed verification stage
// halts the sequence: the withdrawal instruction is never submitted and the
// error reports the stage, the confirmed allocation, and the orphaned staging
// account.
func TestVerifyFailureStopsSequence(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	seq := NewSequencer(&verifyDropClient{Client: e.sim, failures: 1}, e.prover, nil)

	_, err := seq.Withdraw(ctx, e.request(2000))
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageVerifyProof, stageErr.Stage)
	require.ErrorIs(t, err, ledger.ErrTransport)
	require.Len(t, stageErr.Confirmed, 1)
	require.NotEqual(t, ledger.Address{}, stageErr.StagingAccount)

	// Only the allocation ever reached the ledger; no withdrawal, no close.
	require.Equal(t, uint64(1), e.sim.Metrics().Submitted)

	balance, err := e.ae.Decrypt(e.readState(t).DecryptableAvailable)
	require.NoError(t, err)
	require.Equal(t, initialBalance, balance)
}

// TestRerunAfterFailureConverges re-runs the sequencer after a failed verify
// stage and checks the retry lands on the same final balance as one clean
// run, using a fresh staging account and leaving the orphan untouched.
func TestRerunAfterFailureConverges(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	seq := NewSequencer(&verifyDropClient{Client: e.sim, failures: 1}, e.prover, nil)

	_, err := seq.Withdraw(ctx, e.request(2000))
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	orphan := stageErr.StagingAccount

	receipt, err := seq.Withdraw(ctx, e.request(2000))
	require.NoError(t, err)
	require.NotEqual(t, orphan, receipt.StagingAccount)

	state := e.readState(t)
	balance, err := e.ae.Decrypt(state.DecryptableAvailable)
	require.NoError(t, err)
	require.Equal(t, uint64(8000), balance)
	require.True(t, confidential.DecryptsTo(e.kp, state.Available, 8000))

	t.Run("orphaned staging account left allocated", func(t *testing.T) {
		raw, err := e.sim.ReadAccount(ctx, orphan)
		require.NoError(t, err)
		record, err := proofs.DecodeContextState(raw)
		require.NoError(t, err)
		require.Equal(t, proofs.StateUninitialized, record.State)
	})
}

// TestStaleContextRejected verifies a proof generated against superseded
// account state, then tries to spend it after the state moved on.
func TestStaleContextRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	mgr := staging.NewManager(e.sim, nil)

	// Stage a proof against the current state.
	state := e.readState(t)
	bundle, proofCtx, err := e.prover.GenerateWithdrawBundle(state, 2000, e.kp, e.ae)
	require.NoError(t, err)
	allocated, err := mgr.Allocate(ctx, e.wallet)
	require.NoError(t, err)
	verified, err := mgr.Verify(ctx, allocated, &proofs.VerifyData{Context: proofCtx, Bundle: bundle})
	require.NoError(t, err)

	// The state moves on: a full withdrawal sequence runs in between.
	_, err = e.seq.Withdraw(ctx, e.request(1000))
	require.NoError(t, err)

	newSnap, err := confidential.NewDecryptableBalance(state, 2000, e.ae)
	require.NoError(t, err)
	staleTx := &ledger.Transaction{
		Signer: e.wallet,
		Instructions: []ledger.Instruction{
			NewWithdrawInstruction(e.tokenAccount, verified.Reference(), e.wallet, &confidential.WithdrawData{
				Amount:                  2000,
				Decimals:                state.Decimals,
				NewDecryptableAvailable: newSnap,
			}),
		},
	}
	id, err := e.sim.Submit(ctx, staleTx)
	require.NoError(t, err)
	require.ErrorIs(t, e.sim.AwaitConfirmation(ctx, id), ledger.ErrRejected)

	// Balance reflects only the interleaved withdrawal.
	balance, err := e.ae.Decrypt(e.readState(t).DecryptableAvailable)
	require.NoError(t, err)
	require.Equal(t, uint64(9000), balance)
}
