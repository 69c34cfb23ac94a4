// keypair.go - Signer seed loading.
package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/kilogold/confidential-withdraw/internal/ledger"
)

// loadSignerSeed reads a seed file: a JSON array of bytes.
func loadSignerSeed(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read keypair")
	}
	var seed []byte
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, errors.Wrap(err, "parse keypair")
	}
	if len(seed) < 32 {
		return nil, errors.Errorf("keypair: seed too short (%d bytes)", len(seed))
	}
	return seed, nil
}

// walletAddress derives the signer's ledger address from the seed.
func walletAddress(seed []byte) ledger.Address {
	return ledger.Address(blake3.Sum256(seed))
}
