// snapshot.go - JSON persistence of the simulator's state.
//
// The whole ledger fits in one human-readable file, which is all local
// development needs: stop the node, inspect or edit the file, start again.

package sim

import (
	"encoding/base64"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/kilogold/confidential-withdraw/internal/ledger"
)

type snapshotAccount struct {
	Funding uint64 `json:"funding"`
	Owner   string `json:"owner"`
	Data    string `json:"data"` // base64
}

type snapshotFile struct {
	Accounts map[string]snapshotAccount `json:"accounts"`
	Failures map[string]string          `json:"failures"` // txid -> failure, "" = confirmed
	Stats    Stats                      `json:"stats"`
}

// SaveSnapshot writes the full ledger state to path.
func (s *Sim) SaveSnapshot(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := snapshotFile{
		Accounts: make(map[string]snapshotAccount, len(s.accounts)),
		Failures: make(map[string]string, len(s.statuses)),
		Stats:    s.stats,
	}
	for addr, acc := range s.accounts {
		out.Accounts[addr.String()] = snapshotAccount{
			Funding: acc.Funding,
			Owner:   acc.Owner.String(),
			Data:    base64.StdEncoding.EncodeToString(acc.Data),
		}
	}
	for id, status := range s.statuses {
		out.Failures[string(id)] = status.failure
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "snapshot encode")
	}
	return errors.Wrap(os.WriteFile(path, raw, 0o644), "snapshot write")
}

// LoadSnapshot replaces the ledger state with the contents of path. A missing
// file is not an error; the simulator just starts empty.
func (s *Sim) LoadSnapshot(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "snapshot read")
	}
	var in snapshotFile
	if err := json.Unmarshal(raw, &in); err != nil {
		return errors.Wrap(err, "snapshot decode")
	}

	accounts := make(map[ledger.Address]*Account, len(in.Accounts))
	for addrHex, acc := range in.Accounts {
		addr, err := ledger.ParseAddress(addrHex)
		if err != nil {
			return errors.Wrap(err, "snapshot account address")
		}
		owner, err := ledger.ParseAddress(acc.Owner)
		if err != nil {
			return errors.Wrap(err, "snapshot account owner")
		}
		data, err := base64.StdEncoding.DecodeString(acc.Data)
		if err != nil {
			return errors.Wrap(err, "snapshot account data")
		}
		accounts[addr] = &Account{Funding: acc.Funding, Owner: owner, Data: data}
	}
	statuses := make(map[ledger.TxID]*txStatus, len(in.Failures))
	for id, failure := range in.Failures {
		statuses[ledger.TxID(id)] = &txStatus{failure: failure}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = accounts
	s.statuses = statuses
	s.stats = in.Stats
	return nil
}
