// main.go - In-process ledger simulator with a REST front end.
//
// Compiles the range proof circuit at startup (or loads cached keys), then
// serves the ledger endpoints the withdraw CLI drives. The -demo flag seeds a
// funded wallet and a confidential token account so a fresh checkout can run
// a withdrawal end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/kilogold/confidential-withdraw/internal/confidential"
	"github.com/kilogold/confidential-withdraw/internal/ledger"
	"github.com/kilogold/confidential-withdraw/internal/ledger/sim"
	"github.com/kilogold/confidential-withdraw/internal/proofs"
)

const (
	demoBalance  uint64 = 1_000_000
	demoDecimals uint8  = 2
	demoFunding  uint64 = 100_000_000
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "ledgersim.yaml", "configuration file")
		demo       = flag.Bool("demo", false, "seed a demo wallet and token account")
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

	logger.Info("compiling range proof circuit", zap.String("keys_dir", cfg.KeysDir))
	if err := os.MkdirAll(cfg.KeysDir, 0o755); err != nil {
		return err
	}
	params, err := proofs.SetupOrLoadRangeKeys(cfg.KeysDir)
	if err != nil {
		return err
	}

	s := sim.New(params.VK, logger)
	if cfg.SnapshotPath != "" {
		if err := s.LoadSnapshot(cfg.SnapshotPath); err != nil {
			return err
		}
		saveOnShutdown(s, cfg.SnapshotPath, logger)
	}
	if *demo {
		if err := seedDemo(s, logger); err != nil {
			return err
		}
	}
	return sim.NewServer(s, logger).ListenAndServe(cfg.ListenAddr)
}

// saveOnShutdown persists the ledger to disk on SIGINT/SIGTERM before exiting.
func saveOnShutdown(s *sim.Sim, path string, logger *zap.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		if err := s.SaveSnapshot(path); err != nil {
			logger.Error("snapshot save failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("ledger snapshot saved", zap.String("path", path))
		os.Exit(0)
	}()
}

// seedDemo installs a funded wallet and a confidential token account holding
// demoBalance, and writes the wallet seed to demo-keypair.json for the CLI.
func seedDemo(s *sim.Sim, logger *zap.Logger) error {
	seed := make([]byte, 32)
	blake3.DeriveKey("confidential-withdraw/demo-seed/v1", []byte("demo"), seed)
	wallet := ledger.Address(blake3.Sum256(seed))
	tokenAccount := ledger.Address(blake3.Sum256(append([]byte("token-account/"), wallet[:]...)))

	kp, aeKey, err := confidential.DeriveKeys(seed, tokenAccount[:])
	if err != nil {
		return err
	}
	available, _, err := confidential.Encrypt(&kp.P, demoBalance)
	if err != nil {
		return err
	}
	pending, _, err := confidential.Encrypt(&kp.P, 0)
	if err != nil {
		return err
	}
	snapshot, err := aeKey.Encrypt(demoBalance)
	if err != nil {
		return err
	}
	state := &confidential.AccountState{
		Mint:                 blake3.Sum256([]byte("demo-mint")),
		Owner:                [32]byte(wallet),
		Decimals:             demoDecimals,
		Extension:            true,
		Pubkey:               kp.P,
		Available:            available,
		Pending:              pending,
		DecryptableAvailable: snapshot,
	}
	s.SeedWallet(wallet, demoFunding)
	s.SeedTokenAccount(tokenAccount, state)

	raw, err := json.Marshal(seed)
	if err != nil {
		return err
	}
	if err := os.WriteFile("demo-keypair.json", raw, 0o600); err != nil {
		return errors.Wrap(err, "write demo keypair")
	}
	logger.Info("demo fixtures seeded",
		zap.String("wallet", wallet.String()),
		zap.String("token_account", tokenAccount.String()),
		zap.Uint64("balance", demoBalance),
	)
	return nil
}
