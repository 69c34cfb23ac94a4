// main.go - CLI for withdrawing from a confidential token account.
//
// Reads the account, generates the proof bundle locally, then runs the
// three-transaction staging sequence against the configured ledger node.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kilogold/confidential-withdraw/internal/ledger"
	"github.com/kilogold/confidential-withdraw/internal/proofs"
	"github.com/kilogold/confidential-withdraw/internal/withdrawal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "withdraw.yaml", "configuration file")
		account    = flag.String("account", "", "confidential token account (hex)")
		amount     = flag.Uint64("amount", 0, "amount in base token units")
	)
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	accountAddr, err := ledger.ParseAddress(*account)
	if err != nil {
		return err
	}
	if *amount == 0 {
		return fmt.Errorf("amount must be positive")
	}
	seed, err := loadSignerSeed(cfg.KeypairPath)
	if err != nil {
		return err
	}

	logger.Info("loading range proof parameters", zap.String("keys_dir", cfg.KeysDir))
	if err := os.MkdirAll(cfg.KeysDir, 0o755); err != nil {
		return err
	}
	params, err := proofs.SetupOrLoadRangeKeys(cfg.KeysDir)
	if err != nil {
		return err
	}

	client := ledger.NewRestClient(cfg.Endpoint, logger)
	seq := withdrawal.NewSequencer(client, proofs.NewProver(params, logger), logger)

	receipt, err := seq.Withdraw(context.Background(), &withdrawal.Request{
		Account:    accountAddr,
		Authority:  walletAddress(seed),
		SignerSeed: seed,
		Amount:     *amount,
	})
	if err != nil {
		return err
	}

	fmt.Printf("withdrew %s tokens (%d base units)\n", receipt.UIAmount(), receipt.Amount)
	fmt.Printf("  allocate: %s\n", receipt.AllocateTx)
	fmt.Printf("  verify:   %s\n", receipt.VerifyTx)
	fmt.Printf("  withdraw: %s\n", receipt.WithdrawTx)
	if receipt.CloseTx != "" {
		fmt.Printf("  close:    %s\n", receipt.CloseTx)
	} else {
		fmt.Printf("  staging account %s not reclaimed\n", receipt.StagingAccount)
	}
	return nil
}
