// Package sim is an in-process ledger implementing exactly the slice of
// on-chain behavior the withdrawal protocol depends on: a system program that
// allocates funded accounts, a proof program that verifies withdrawal proof
// bundles into staging accounts, and a confidential token program that
// consumes a verified proof by reference.
//
// The simulator enforces the same external constraints a real ledger would:
// the per-transaction payload ceiling, persistence funding for new accounts,
// and atomic all-or-nothing transaction application.
package sim

import (
	"context"
	"sync"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kilogold/confidential-withdraw/internal/confidential"
	"github.com/kilogold/confidential-withdraw/internal/ledger"
	"github.com/kilogold/confidential-withdraw/internal/proofs"
)

// Persistence pricing: flat per-byte cost plus a fixed per-account overhead.
const (
	fundingPerByte  = 10
	accountOverhead = 128
)

// Account is one ledger account: persistence funding, owning program, and raw
// record bytes.
type Account struct {
	Funding uint64
	Owner   ledger.Address
	Data    []byte
}

type txStatus struct {
	failure string // empty on success
}

// Stats counts simulator activity, exposed on the /metrics endpoint.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Confirmed uint64 `json:"confirmed"`
	Rejected  uint64 `json:"rejected"`
}

// Sim is the in-process ledger. It implements ledger.Client directly, so
// tests and local tooling can drive the full protocol without a network.
type Sim struct {
	mu       sync.Mutex
	accounts map[ledger.Address]*Account
	statuses map[ledger.TxID]*txStatus
	stats    Stats

	rangeVK groth16.VerifyingKey
	logger  *zap.Logger
}

var _ ledger.Client = (*Sim)(nil)

// New returns an empty ledger. rangeVK is the proof program's verifying key
// for withdraw range proofs.
func New(rangeVK groth16.VerifyingKey, logger *zap.Logger) *Sim {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sim{
		accounts: make(map[ledger.Address]*Account),
		statuses: make(map[ledger.TxID]*txStatus),
		rangeVK:  rangeVK,
		logger:   logger,
	}
}

// SeedWallet creates a funded system account (test and local-dev fixture).
func (s *Sim) SeedWallet(addr ledger.Address, funding uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[addr] = &Account{Funding: funding, Owner: ledger.SystemProgram}
}

// SeedTokenAccount installs a confidential token account with the given
// state (test and local-dev fixture; on a real ledger this is the deposit and
// apply-pending flow, which is out of scope here).
func (s *Sim) SeedTokenAccount(addr ledger.Address, state *confidential.AccountState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[addr] = &Account{
		Funding: (confidential.AccountStateLen + accountOverhead) * fundingPerByte,
		Owner:   ledger.TokenProgram,
		Data:    state.Encode(),
	}
}

// Metrics returns a copy of the activity counters.
func (s *Sim) Metrics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Submit checks the payload ceiling, applies the transaction atomically, and
// records its status. The status is reported through AwaitConfirmation; a
// program failure does not error here, matching a real submit/confirm split.
func (s *Sim) Submit(ctx context.Context, tx *ledger.Transaction) (ledger.TxID, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrapf(ledger.ErrTransport, "submit: %v", err)
	}
	size := tx.EncodedSize()
	if size > ledger.MaxTransactionBytes {
		return "", errors.Wrapf(ledger.ErrTransactionTooLarge, "%d > %d bytes", size, ledger.MaxTransactionBytes)
	}
	id := tx.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.statuses[id]; seen {
		// Identical re-submission; the recorded outcome stands.
		return id, nil
	}
	s.stats.Submitted++

	staged := cloneAccounts(s.accounts)
	err := s.apply(staged, tx)
	status := &txStatus{}
	if err != nil {
		status.failure = err.Error()
		s.stats.Rejected++
		s.logger.Warn("transaction failed",
			zap.String("tx", string(id)),
			zap.Error(err),
		)
	} else {
		s.accounts = staged
		s.stats.Confirmed++
		s.logger.Info("transaction confirmed",
			zap.String("tx", string(id)),
			zap.Int("size", size),
		)
	}
	s.statuses[id] = status
	return id, nil
}

// AwaitConfirmation reports the recorded outcome. The simulator applies
// transactions synchronously, so there is no pending state.
func (s *Sim) AwaitConfirmation(ctx context.Context, id ledger.TxID) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(ledger.ErrTransport, "confirmation: %v", err)
	}
	s.mu.Lock()
	status, ok := s.statuses[id]
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(ledger.ErrUnknownTransaction, "%s", id)
	}
	if status.failure != "" {
		return errors.Wrap(ledger.ErrRejected, status.failure)
	}
	return nil
}

// ReadAccount returns a copy of the account's record bytes.
func (s *Sim) ReadAccount(ctx context.Context, addr ledger.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(ledger.ErrTransport, "read account: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[addr]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return append([]byte(nil), acc.Data...), nil
}

// AccountFunding returns the persistence funding of an account.
func (s *Sim) AccountFunding(addr ledger.Address) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[addr]
	if !ok {
		return 0, false
	}
	return acc.Funding, true
}

// MinimumPersistenceFunding prices persistent storage of sizeInBytes.
func (s *Sim) MinimumPersistenceFunding(ctx context.Context, sizeInBytes uint64) (uint64, error) {
	return (sizeInBytes + accountOverhead) * fundingPerByte, nil
}

func cloneAccounts(src map[ledger.Address]*Account) map[ledger.Address]*Account {
	dst := make(map[ledger.Address]*Account, len(src))
	for k, v := range src {
		dst[k] = &Account{
			Funding: v.Funding,
			Owner:   v.Owner,
			Data:    append([]byte(nil), v.Data...),
		}
	}
	return dst
}

// apply runs every instruction against the staged account set.
func (s *Sim) apply(accounts map[ledger.Address]*Account, tx *ledger.Transaction) error {
	if len(tx.Instructions) == 0 {
		return errors.New("empty transaction")
	}
	for i, ins := range tx.Instructions {
		var err error
		switch ins.Program {
		case ledger.SystemProgram:
			err = s.applyCreateAccount(accounts, tx, ins)
		case ledger.ProofProgram:
			err = s.applyProofProgram(accounts, tx, ins)
		case ledger.TokenProgram:
			err = s.applyWithdraw(accounts, tx, ins)
		default:
			err = errors.Errorf("unknown program %s", ins.Program)
		}
		if err != nil {
			return errors.Wrapf(err, "instruction %d", i)
		}
	}
	return nil
}

func (s *Sim) applyCreateAccount(accounts map[ledger.Address]*Account, tx *ledger.Transaction, ins ledger.Instruction) error {
	data, err := ledger.DecodeCreateAccountData(ins.Data)
	if err != nil {
		return err
	}
	if len(ins.Accounts) != 2 {
		return errors.New("create account: want [payer, new] accounts")
	}
	payerAddr, newAddr := ins.Accounts[0], ins.Accounts[1]
	if payerAddr != tx.Signer {
		return errors.New("create account: payer must sign")
	}
	if _, exists := accounts[newAddr]; exists {
		return errors.Errorf("create account: %s already exists", newAddr)
	}
	rent := (data.Space + accountOverhead) * fundingPerByte
	if data.Funding < rent {
		return errors.Errorf("create account: funding %d below persistence minimum %d", data.Funding, rent)
	}
	payer, ok := accounts[payerAddr]
	if !ok || payer.Funding < data.Funding {
		return errors.New("create account: payer cannot cover funding")
	}
	payer.Funding -= data.Funding
	accounts[newAddr] = &Account{
		Funding: data.Funding,
		Owner:   data.Owner,
		Data:    make([]byte, data.Space),
	}
	return nil
}

func (s *Sim) applyProofProgram(accounts map[ledger.Address]*Account, tx *ledger.Transaction, ins ledger.Instruction) error {
	if len(ins.Data) == 0 {
		return errors.New("proof program: empty data")
	}
	switch ins.Data[0] {
	case proofs.InstrVerifyProof:
		return s.applyVerifyProof(accounts, tx, ins)
	case proofs.InstrCloseContext:
		return s.applyCloseContext(accounts, tx, ins)
	default:
		return errors.Errorf("proof program: unknown instruction %d", ins.Data[0])
	}
}

func (s *Sim) applyVerifyProof(accounts map[ledger.Address]*Account, tx *ledger.Transaction, ins ledger.Instruction) error {
	if len(ins.Accounts) != 2 {
		return errors.New("verify proof: want [staging, authority] accounts")
	}
	stagingAddr, authority := ins.Accounts[0], ins.Accounts[1]
	if authority != tx.Signer {
		return errors.New("verify proof: authority must sign")
	}
	staging, ok := accounts[stagingAddr]
	if !ok {
		return errors.Errorf("verify proof: staging account %s does not exist", stagingAddr)
	}
	if staging.Owner != ledger.ProofProgram {
		return errors.New("verify proof: staging account not owned by proof program")
	}
	if len(staging.Data) != proofs.ContextStateLen {
		return errors.Errorf("verify proof: staging account sized %d, want %d", len(staging.Data), proofs.ContextStateLen)
	}
	record, err := proofs.DecodeContextState(staging.Data)
	if err != nil {
		return err
	}
	if record.State != proofs.StateUninitialized {
		return errors.New("verify proof: staging account already holds a proof context")
	}
	payload, err := proofs.DecodeVerifyData(ins.Data[1:])
	if err != nil {
		return err
	}
	if err := proofs.VerifyBundle(s.rangeVK, payload.Context, payload.Bundle); err != nil {
		return errors.Wrap(err, "verify proof")
	}
	out := proofs.ContextState{
		State:     proofs.StateVerified,
		Kind:      proofs.ProofKindWithdraw,
		Authority: [32]byte(authority),
		Context:   payload.Context,
	}
	staging.Data = out.Encode()
	return nil
}

func (s *Sim) applyCloseContext(accounts map[ledger.Address]*Account, tx *ledger.Transaction, ins ledger.Instruction) error {
	if len(ins.Accounts) != 3 {
		return errors.New("close context: want [staging, authority, destination] accounts")
	}
	stagingAddr, authority, dest := ins.Accounts[0], ins.Accounts[1], ins.Accounts[2]
	if authority != tx.Signer {
		return errors.New("close context: authority must sign")
	}
	staging, ok := accounts[stagingAddr]
	if !ok {
		return errors.Errorf("close context: staging account %s does not exist", stagingAddr)
	}
	if staging.Owner != ledger.ProofProgram {
		return errors.New("close context: account not owned by proof program")
	}
	record, err := proofs.DecodeContextState(staging.Data)
	if err != nil {
		return err
	}
	if record.State != proofs.StateUninitialized && record.Authority != [32]byte(authority) {
		return errors.New("close context: authority mismatch")
	}
	destAcc, ok := accounts[dest]
	if !ok {
		return errors.Errorf("close context: destination %s does not exist", dest)
	}
	destAcc.Funding += staging.Funding
	delete(accounts, stagingAddr)
	return nil
}

func (s *Sim) applyWithdraw(accounts map[ledger.Address]*Account, tx *ledger.Transaction, ins ledger.Instruction) error {
	data, err := confidential.DecodeWithdrawData(ins.Data)
	if err != nil {
		return err
	}
	if len(ins.Accounts) != 3 {
		return errors.New("withdraw: want [token account, proof context, authority] accounts")
	}
	tokenAddr, contextAddr, authority := ins.Accounts[0], ins.Accounts[1], ins.Accounts[2]
	if authority != tx.Signer {
		return errors.New("withdraw: authority must sign")
	}
	tokenAcc, ok := accounts[tokenAddr]
	if !ok {
		return errors.Errorf("withdraw: token account %s does not exist", tokenAddr)
	}
	if tokenAcc.Owner != ledger.TokenProgram {
		return errors.New("withdraw: account not owned by token program")
	}
	state, err := confidential.ParseAccount(tokenAcc.Data)
	if err != nil {
		return errors.Wrap(err, "withdraw")
	}
	if state.Owner != authority {
		return errors.New("withdraw: authority does not own the token account")
	}
	if state.Decimals != data.Decimals {
		return errors.Errorf("withdraw: decimals mismatch (%d vs %d)", data.Decimals, state.Decimals)
	}

	// Proof location: the referenced staging account must hold a verified,
	// unconsumed withdraw context matching this instruction and this account
	// state. A stale context (pre-state ciphertext no longer current) is
	// rejected here, which is what forces proof regeneration after races.
	ctxAcc, ok := accounts[contextAddr]
	if !ok {
		return errors.Errorf("withdraw: proof context account %s does not exist", contextAddr)
	}
	if ctxAcc.Owner != ledger.ProofProgram {
		return errors.New("withdraw: proof context account not owned by proof program")
	}
	record, err := proofs.DecodeContextState(ctxAcc.Data)
	if err != nil {
		return errors.Wrap(err, "withdraw")
	}
	switch record.State {
	case proofs.StateVerified:
	case proofs.StateConsumed:
		return errors.New("withdraw: proof context already consumed")
	default:
		return errors.New("withdraw: proof context not verified")
	}
	if record.Kind != proofs.ProofKindWithdraw {
		return errors.New("withdraw: proof context holds the wrong proof kind")
	}
	if record.Authority != [32]byte(authority) {
		return errors.New("withdraw: proof context authority mismatch")
	}
	if record.Context.Amount != data.Amount {
		return errors.New("withdraw: amount does not match verified context")
	}
	if !record.Context.Pubkey.Equal(&state.Pubkey) {
		return errors.New("withdraw: verified context bound to a different encryption key")
	}
	if !ciphertextEqual(record.Context.Available, state.Available) {
		return errors.New("withdraw: verified context was generated against stale account state")
	}

	state.Available = confidential.SubAmount(state.Available, data.Amount)
	state.DecryptableAvailable = data.NewDecryptableAvailable
	tokenAcc.Data = state.Encode()

	record.State = proofs.StateConsumed
	ctxAcc.Data = record.Encode()
	return nil
}

func ciphertextEqual(a, b confidential.Ciphertext) bool {
	return a.C.Equal(&b.C) && a.D.Equal(&b.D)
}
