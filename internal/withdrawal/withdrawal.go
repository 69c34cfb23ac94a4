// Package withdrawal sequences a confidential withdrawal end to end: load the
// account state once, generate the proof bundle off-ledger, then drive three
// ledger transactions in strict order (allocate staging, verify proof,
// withdraw by reference), each gated on confirmation of the previous one.
//
// The sequence is fail-fast and never retries: a failed step stops everything
// after it, and re-running the whole sequence later is safe because proof
// generation is re-randomized and staging accounts are fresh per attempt.
//
// Withdrawals against different accounts may run concurrently; concurrent
// withdrawals against the same account race on the encrypted pre-state and
// need caller-side exclusion. The ledger rejects the loser's stale proof, but
// only after it has paid for a staging account.
package withdrawal

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kilogold/confidential-withdraw/internal/confidential"
	"github.com/kilogold/confidential-withdraw/internal/ledger"
	"github.com/kilogold/confidential-withdraw/internal/proofs"
	"github.com/kilogold/confidential-withdraw/internal/staging"
)

// Request is one withdrawal order.
type Request struct {
	// Account is the confidential token account withdrawn from.
	Account ledger.Address

	// Authority signs all transactions and must own the token account.
	Authority ledger.Address

	// SignerSeed is the authority's signing seed, from which the account's
	// ElGamal keypair and AE key are rederived.
	SignerSeed []byte

	// Amount is in base token units.
	Amount uint64
}

// Sequencer runs withdrawal sequences against one ledger.
type Sequencer struct {
	client  ledger.Client
	prover  *proofs.Prover
	staging *staging.Manager
	logger  *zap.Logger
}

// NewSequencer wires a Sequencer from its collaborators.
func NewSequencer(client ledger.Client, prover *proofs.Prover, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		client:  client,
		prover:  prover,
		staging: staging.NewManager(client, logger),
		logger:  logger,
	}
}

// Withdraw runs the full sequence for one request.
//
// The account state is read exactly once, before proof generation, and every
// later artifact (proofs, fresh snapshot, withdraw payload) is computed from
// that single snapshot. Local failures (missing extension, insufficient
// balance, proof generation) surface before anything is submitted to the
// ledger.
func (s *Sequencer) Withdraw(ctx context.Context, req *Request) (*Receipt, error) {
	fail := func(stage Stage, err error, confirmed []ledger.TxID, stagingAcc ledger.Address) (*Receipt, error) {
		return nil, &StageError{Stage: stage, Confirmed: confirmed, StagingAccount: stagingAcc, Err: err}
	}

	raw, err := s.client.ReadAccount(ctx, req.Account)
	if err != nil {
		return fail(StageLoadAccount, err, nil, ledger.Address{})
	}
	state, err := confidential.ParseAccount(raw)
	if err != nil {
		return fail(StageLoadAccount, err, nil, ledger.Address{})
	}
	if state.Owner != [32]byte(req.Authority) {
		return fail(StageLoadAccount, errors.New("authority does not own the account"), nil, ledger.Address{})
	}

	kp, aeKey, err := confidential.DeriveKeys(req.SignerSeed, req.Account[:])
	if err != nil {
		return fail(StageGenerateProofs, err, nil, ledger.Address{})
	}
	bundle, proofCtx, err := s.prover.GenerateWithdrawBundle(state, req.Amount, kp, aeKey)
	if err != nil {
		return fail(StageGenerateProofs, err, nil, ledger.Address{})
	}
	newSnapshot, err := confidential.NewDecryptableBalance(state, req.Amount, aeKey)
	if err != nil {
		return fail(StageGenerateProofs, err, nil, ledger.Address{})
	}

	allocated, err := s.staging.Allocate(ctx, req.Authority)
	if err != nil {
		return fail(StageAllocate, err, nil, ledger.Address{})
	}
	confirmed := []ledger.TxID{allocated.AllocationTx()}

	verified, err := s.staging.Verify(ctx, allocated, &proofs.VerifyData{Context: proofCtx, Bundle: bundle})
	if err != nil {
		return fail(StageVerifyProof, err, confirmed, allocated.Address())
	}
	confirmed = append(confirmed, verified.VerificationTx())

	data := &confidential.WithdrawData{
		Amount:                  req.Amount,
		Decimals:                state.Decimals,
		NewDecryptableAvailable: newSnapshot,
	}
	tx := &ledger.Transaction{
		Signer: req.Authority,
		Instructions: []ledger.Instruction{
			NewWithdrawInstruction(req.Account, verified.Reference(), req.Authority, data),
		},
	}
	withdrawTx, err := s.client.Submit(ctx, tx)
	if err != nil {
		return fail(StageWithdraw, err, confirmed, verified.Reference())
	}
	if err := s.client.AwaitConfirmation(ctx, withdrawTx); err != nil {
		return fail(StageWithdraw, err, confirmed, verified.Reference())
	}

	receipt := &Receipt{
		AllocateTx:     allocated.AllocationTx(),
		VerifyTx:       verified.VerificationTx(),
		WithdrawTx:     withdrawTx,
		StagingAccount: verified.Reference(),
		Amount:         req.Amount,
		Decimals:       state.Decimals,
	}

	// Reclaim the staging account's funding. The withdrawal already succeeded,
	// so a failure here only leaves funding parked at StagingAccount.
	closeTx, err := s.staging.Close(ctx, verified.Reference(), req.Authority, req.Authority)
	if err != nil {
		s.logger.Warn("staging account close failed",
			zap.String("staging_account", verified.Reference().String()),
			zap.Error(err),
		)
	} else {
		receipt.CloseTx = closeTx
	}

	s.logger.Info("withdrawal complete",
		zap.String("account", req.Account.String()),
		zap.Uint64("amount", req.Amount),
		zap.String("withdraw_tx", string(withdrawTx)),
	)
	return receipt, nil
}

// NewWithdrawInstruction builds the token program instruction that withdraws
// by reference to a verified proof context.
func NewWithdrawInstruction(tokenAccount, proofContext, authority ledger.Address, data *confidential.WithdrawData) ledger.Instruction {
	return ledger.Instruction{
		Program:  ledger.TokenProgram,
		Accounts: []ledger.Address{tokenAccount, proofContext, authority},
		Data:     data.Encode(),
	}
}
