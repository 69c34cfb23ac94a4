// receipt.go - Withdrawal outcomes: the receipt on success, the staged error
// on failure.

package withdrawal

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/kilogold/confidential-withdraw/internal/ledger"
)

// Stage names one step of the withdrawal sequence.
type Stage string

const (
	StageLoadAccount    Stage = "load-account"
	StageGenerateProofs Stage = "generate-proofs"
	StageAllocate       Stage = "allocate-staging"
	StageVerifyProof    Stage = "verify-proof"
	StageWithdraw       Stage = "withdraw"
)

// StageError reports where a withdrawal sequence stopped and what had already
// been confirmed by then. A non-zero StagingAccount points at an allocated
// staging account whose funding the caller can still reclaim.
type StageError struct {
	Stage          Stage
	Confirmed      []ledger.TxID
	StagingAccount ledger.Address
	Err            error
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("withdrawal failed at stage %s: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is matching.
func (e *StageError) Unwrap() error { return e.Err }

// Receipt records a completed withdrawal: the three confirmed transactions,
// the close transaction if reclamation succeeded, and the withdrawn amount.
type Receipt struct {
	AllocateTx ledger.TxID
	VerifyTx   ledger.TxID
	WithdrawTx ledger.TxID

	// CloseTx is empty when best-effort reclamation did not go through; the
	// staging account can still be closed manually via StagingAccount.
	CloseTx        ledger.TxID
	StagingAccount ledger.Address

	Amount   uint64
	Decimals uint8
}

// UIAmount renders the withdrawn amount in display units, e.g. 2000 base
// units at 2 decimals is "20".
func (r *Receipt) UIAmount() string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(r.Amount), -int32(r.Decimals))
	return d.String()
}
