// Command oracled runs the VeriPass oracle worker: it polls the shared store
// for provider-submitted service records, attests their content hashes on
// the EventRegistry contract, and mirrors each confirmed attestation into
// the evidence table.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veripass/oracle/internal/config"
	"github.com/veripass/oracle/internal/poller"
	"github.com/veripass/oracle/internal/registry"
	"github.com/veripass/oracle/internal/signer"
	"github.com/veripass/oracle/internal/store"
	"github.com/veripass/oracle/internal/verifier"
)

func main() {
	zap.ReplaceGlobals(zap.Must(zap.NewProduction()))
	logger := zap.L()
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("oracle worker exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	oracle, err := signer.New(cfg.PrivateKey)
	if err != nil {
		return err
	}
	logger.Info("oracle worker starting", zap.String("address", oracle.Address().Hex()))

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}

	reg, err := registry.Dial(ctx, cfg.RPCURL, cfg.RegistryAddress, oracle, logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	// Startup checks: the registry must already trust this oracle, and the
	// signing account needs funds to pay for attestation transactions.
	trusted, err := reg.IsTrustedOracle(ctx, oracle.Address())
	if err != nil {
		return err
	}
	if !trusted {
		logger.Error("oracle address is not registered with the event registry",
			zap.String("address", oracle.Address().Hex()),
			zap.String("hint", "ask the contract owner to call addTrustedOracle with this address"))
		os.Exit(1)
	}

	balance, err := reg.Balance(ctx, oracle.Address())
	if err != nil {
		return err
	}
	logger.Info("oracle registered",
		zap.String("address", oracle.Address().Hex()),
		zap.String("balance_eth", registry.WeiToEtherString(balance)))
	if balance.Cmp(registry.LowBalanceWei) < 0 {
		logger.Warn("oracle balance is low",
			zap.String("balance_eth", registry.WeiToEtherString(balance)),
			zap.String("threshold_eth", registry.WeiToEtherString(registry.LowBalanceWei)))
	}

	v := verifier.New(verifier.Params{
		Store:  st,
		Ledger: reg,
		Signer: oracle,
		Logger: logger,
	})
	p := poller.New(poller.Params{
		Locator:   st,
		Processor: v,
		Interval:  cfg.PollInterval(),
		Logger:    logger,
	})

	if err := p.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining in-flight tick")
		return p.Stop()
	})
	return g.Wait()
}
