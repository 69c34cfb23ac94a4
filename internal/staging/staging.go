// Package staging manages proof staging accounts: ledger accounts sized to
// hold exactly one verified proof context, used because a proof bundle is too
// large to ride along in the transaction that consumes it.
//
// The lifecycle is encoded in the types. Allocate returns an Allocated handle;
// only Verify can turn it into a Verified handle, and only a Verified handle
// exposes Reference. State never advances on submission alone, each step waits
// for ledger confirmation first.
package staging

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kilogold/confidential-withdraw/internal/ledger"
	"github.com/kilogold/confidential-withdraw/internal/proofs"
)

// Errors surfaced by the staging lifecycle.
var (
	ErrAllocationFailed = errors.New("staging: account allocation failed")
	ErrProofRejected    = errors.New("staging: proof verification rejected")
	ErrNotYetVerified   = errors.New("staging: account holds no verified proof")
)

// Allocated is a staging account that exists on the ledger but holds no
// verified proof yet. It cannot be referenced by a withdrawal.
type Allocated struct {
	addr      ledger.Address
	authority ledger.Address
	tx        ledger.TxID
}

// Address returns the staging account's address.
func (a *Allocated) Address() ledger.Address { return a.addr }

// AllocationTx returns the confirmed allocation transaction.
func (a *Allocated) AllocationTx() ledger.TxID { return a.tx }

// Verified is a staging account whose proof context the ledger has verified.
type Verified struct {
	addr      ledger.Address
	authority ledger.Address
	tx        ledger.TxID
}

// Reference returns the address a withdrawal instruction names to consume the
// verified proof. Only a Verified handle has this.
func (v *Verified) Reference() ledger.Address { return v.addr }

// VerificationTx returns the confirmed verification transaction.
func (v *Verified) VerificationTx() ledger.TxID { return v.tx }

// NewVerifyProofInstruction builds the proof program instruction that checks
// the bundle and records the verified context in the staging account.
func NewVerifyProofInstruction(stagingAddr, authority ledger.Address, vd *proofs.VerifyData) ledger.Instruction {
	return ledger.Instruction{
		Program:  ledger.ProofProgram,
		Accounts: []ledger.Address{stagingAddr, authority},
		Data:     append([]byte{proofs.InstrVerifyProof}, vd.Encode()...),
	}
}

// NewCloseInstruction builds the proof program instruction that reclaims the
// staging account's funding to destination.
func NewCloseInstruction(stagingAddr, authority, destination ledger.Address) ledger.Instruction {
	return ledger.Instruction{
		Program:  ledger.ProofProgram,
		Accounts: []ledger.Address{stagingAddr, authority, destination},
		Data:     []byte{proofs.InstrCloseContext},
	}
}

// Manager drives staging accounts through their lifecycle against a ledger.
type Manager struct {
	client ledger.Client
	logger *zap.Logger
}

// NewManager returns a Manager over the given ledger client.
func NewManager(client ledger.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{client: client, logger: logger}
}

// Allocate creates a fresh staging account sized for one proof context, paid
// for and controlled by authority. A new address is drawn per call; staging
// accounts are never reused across withdrawal attempts.
func (m *Manager) Allocate(ctx context.Context, authority ledger.Address) (*Allocated, error) {
	addr, err := ledger.NewAddress()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	funding, err := m.client.MinimumPersistenceFunding(ctx, proofs.ContextStateLen)
	if err != nil {
		return nil, fmt.Errorf("%w: funding query: %w", ErrAllocationFailed, err)
	}
	tx := &ledger.Transaction{
		Signer: authority,
		Instructions: []ledger.Instruction{
			ledger.NewCreateAccountInstruction(authority, addr, funding, proofs.ContextStateLen, ledger.ProofProgram),
		},
	}
	id, err := m.client.Submit(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: submit: %w", ErrAllocationFailed, err)
	}
	if err := m.client.AwaitConfirmation(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: confirm: %w", ErrAllocationFailed, err)
	}
	m.logger.Debug("staging account allocated",
		zap.String("address", addr.String()),
		zap.Uint64("funding", funding),
	)
	return &Allocated{addr: addr, authority: authority, tx: id}, nil
}

// Verify submits the proof bundle for ledger-side verification into the
// staging account. On confirmation the account holds the verified context and
// the returned handle can be referenced.
func (m *Manager) Verify(ctx context.Context, acc *Allocated, vd *proofs.VerifyData) (*Verified, error) {
	tx := &ledger.Transaction{
		Signer: acc.authority,
		Instructions: []ledger.Instruction{
			NewVerifyProofInstruction(acc.addr, acc.authority, vd),
		},
	}
	id, err := m.client.Submit(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: submit: %w", ErrProofRejected, err)
	}
	if err := m.client.AwaitConfirmation(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: confirm: %w", ErrProofRejected, err)
	}
	m.logger.Debug("proof verified into staging account",
		zap.String("address", acc.addr.String()),
	)
	return &Verified{addr: acc.addr, authority: acc.authority, tx: id}, nil
}

// Reference reads a staging account directly and returns its address if it
// holds a verified, unconsumed withdraw context. This is the recovery path for
// callers holding only an address; in-process flows use Verified.Reference.
func (m *Manager) Reference(ctx context.Context, addr ledger.Address) (ledger.Address, error) {
	raw, err := m.client.ReadAccount(ctx, addr)
	if err != nil {
		return ledger.Address{}, err
	}
	record, err := proofs.DecodeContextState(raw)
	if err != nil {
		return ledger.Address{}, errors.Wrapf(ErrNotYetVerified, "%v", err)
	}
	if record.State != proofs.StateVerified {
		return ledger.Address{}, errors.Wrapf(ErrNotYetVerified, "state %d", record.State)
	}
	return addr, nil
}

// Close reclaims the staging account's persistence funding to destination.
// Best effort; callers on the success path treat failure as advisory.
func (m *Manager) Close(ctx context.Context, addr, authority, destination ledger.Address) (ledger.TxID, error) {
	tx := &ledger.Transaction{
		Signer: authority,
		Instructions: []ledger.Instruction{
			NewCloseInstruction(addr, authority, destination),
		},
	}
	id, err := m.client.Submit(ctx, tx)
	if err != nil {
		return "", err
	}
	if err := m.client.AwaitConfirmation(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}
