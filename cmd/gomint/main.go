// Package main implements the gomint worker. It mints DOSC with the local
// processors, claims it as ERG, converts the ERG to MEL and pays out profits,
// talking to a wallet daemon and a chain node.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitmark-inc/exitwithstatus"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/chain/zmqtip"
	"github.com/bardlex/gomint/internal/config"
	"github.com/bardlex/gomint/internal/database"
	"github.com/bardlex/gomint/internal/database/influx"
	"github.com/bardlex/gomint/internal/database/postgres"
	"github.com/bardlex/gomint/internal/database/redis"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/internal/messaging"
	"github.com/bardlex/gomint/internal/mint"
	"github.com/bardlex/gomint/internal/pow"
	"github.com/bardlex/gomint/internal/queue"
	"github.com/bardlex/gomint/internal/seed"
	"github.com/bardlex/gomint/internal/validation"
	"github.com/bardlex/gomint/internal/wallet"
	"github.com/bardlex/gomint/internal/worker"
	"github.com/bardlex/gomint/pkg/circuit"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
	"github.com/bardlex/gomint/pkg/retry"
)

const (
	abortTimeout = 5 * time.Second

	// proofClockSkew bounds how far ahead of the local clock a stored
	// proof may claim to have been created.
	proofClockSkew = time.Minute
)

func main() {
	// ensure exit handler is first
	defer exitwithstatus.Handler()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		exitwithstatus.Exit(errors.ExitStatus(err))
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting gomint",
		"version", cfg.Version,
		"network", cfg.Network,
		"wallet", cfg.WalletName(),
		"threads", cfg.Threads,
		"difficulty_mode", cfg.DifficultyMode(),
		"store", cfg.StoreBackend,
	)

	err = run(cfg, logger)
	status := errors.ExitStatus(err)
	if status != 0 {
		logger.WithError(err).Error("gomint stopped", "status", status)
		exitwithstatus.Exit(status)
	}
	logger.Info("gomint stopped")
}

// run wires the worker and runs it until it stops. Deferred cleanups finish
// before main picks the exit status.
func run(cfg *config.Config, logger *log.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Chain node
	chainClient, err := chain.NewRPCClient(cfg.ChainRPCHost, cfg.ChainRPCPort, cfg.ChainRPCUser, cfg.ChainRPCPassword)
	if err != nil {
		return err
	}
	defer chainClient.Close()
	watchBreaker(logger, chainClient.Breaker())

	var tips chain.TipSignal
	if cfg.ChainZMQAddr != "" {
		notifier, err := zmqtip.New(cfg.ChainZMQAddr, logger)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_setup", "failed to create block notifier")
		}
		defer notifier.Close()
		if err := notifier.Connect(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_connect", "failed to connect block notifier")
		}
		go func() {
			if err := notifier.Listen(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("block notifier stopped, confirmations fall back to the daemon's pace")
			}
		}()
		tips = notifier
	}

	// Wallet daemon
	daemon, err := wallet.NewRESTDaemon(cfg.WalletEndpoint, tips)
	if err != nil {
		return err
	}
	watchBreaker(logger, daemon.Breaker())
	client, err := retry.DoWithResult(ctx, retry.NetworkConfig(), func() (wallet.Client, error) {
		return wallet.Open(ctx, daemon, cfg.WalletName(), cfg.IsTestnet(), logger)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWallet, "open_wallet", "failed to open the mint wallet").
			WithContext("wallet", cfg.WalletName())
	}
	facade := wallet.NewFacade(client, logger, cfg.RefuseHighFee)

	// Persistence and sinks
	manager, err := database.NewManager(databaseConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer manager.Close()

	archiveCtx, stopArchive := context.WithCancel(context.Background())
	archiveDone := make(chan struct{})
	go func() {
		defer close(archiveDone)
		manager.Run(archiveCtx)
	}()
	defer func() {
		stopArchive()
		<-archiveDone
	}()

	sinks := []ledger.Sink{manager}
	observers := []queue.Observer{manager}
	var publisher *messaging.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = messaging.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.WalletName(), logger)
		defer publisher.Close()

		publishCtx, stopPublisher := context.WithCancel(context.Background())
		publisherDone := make(chan struct{})
		go func() {
			defer close(publisherDone)
			publisher.Run(publishCtx)
		}()
		defer func() {
			stopPublisher()
			<-publisherDone
		}()
		sinks = append(sinks, publisher)
		observers = append(observers, publisher)
	}

	// Worker
	address, err := facade.Address(ctx)
	if err != nil {
		return err
	}
	logger.Info("mint wallet ready", "address", address)

	fees := ledger.New(logger, sinks...)
	seeds := seed.NewManager(facade, chainClient, fees, seedConfig(cfg), logger)
	engine := mint.NewEngine(chainClient, pow.HashChain{}, logger)
	validator := validation.NewProofValidator(1, pow.MaxDifficulty, proofClockSkew).
		WithClaimedDifficulty(pow.ProofDifficulty)
	q, err := queue.Open(ctx, manager.Store.Table(queue.TableName), logger,
		queue.WithObservers(observers...),
		queue.WithValidator(validator),
	)
	if err != nil {
		return err
	}

	w := worker.New(workerConfig(cfg), worker.Deps{
		Wallet:  facade,
		Chain:   chainClient,
		Seeds:   seeds,
		Engine:  engine,
		Queue:   q,
		Ledger:  fees,
		Metrics: manager,
		Health:  daemon.Breaker(),
	}, logger)

	// First interrupt stops after the current iteration, the second exits
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		logger.Warn("shutdown signal received, minting stops once the proofs in flight are submitted; interrupt again to exit now")
		w.Stop()

		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		logger.Error("second shutdown signal received, exiting now")
		os.Exit(errors.ExitFatal)
	}()

	err = w.Run(ctx)
	if exit := errors.AsExit(err); exit != nil && publisher != nil {
		abortCtx, abortCancel := context.WithTimeout(context.Background(), abortTimeout)
		defer abortCancel()
		if err := publisher.Abort(abortCtx, exit.Status, exit.Reason); err != nil {
			logger.WithError(err).Warn("failed to publish abort event")
		}
	}
	return err
}

// watchBreaker logs the transitions of a daemon's circuit breaker.
func watchBreaker(logger *log.Logger, b *circuit.Breaker) {
	b.Watch(func(name string, from, to circuit.State) {
		stats := b.GetStats()
		l := logger.WithFields(
			"daemon", name,
			"from", from.String(),
			"to", to.String(),
			"failures", stats.Failures,
			"since_success", b.SinceSuccess().Round(time.Second).String(),
		)
		if to == circuit.StateOpen {
			l.Warn("daemon circuit opened, calls fail fast until it recovers")
			return
		}
		l.Info("daemon circuit changed state")
	})
}

func databaseConfig(cfg *config.Config) *database.Config {
	dbCfg := &database.Config{
		Wallet:  cfg.WalletName(),
		Backend: cfg.StoreBackend,
		DataDir: cfg.DataDir,
		Redis:   redis.DefaultConfig(cfg.RedisURL, cfg.WalletName()),
	}
	if cfg.PostgresURL != "" {
		dbCfg.Postgres = postgres.DefaultConfig(cfg.PostgresURL)
	}
	if cfg.InfluxURL != "" {
		dbCfg.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
			Wallet: cfg.WalletName(),
		}
	}
	return dbCfg
}

// seedConfig sends swept seeds without a fallback address to the payout
// address, or burns all of them when there is none.
func seedConfig(cfg *config.Config) seed.Config {
	fallback := cfg.FallbackAddress
	if fallback == "" {
		fallback = cfg.PayoutAddress
	}
	if fallback == "" {
		fallback = cfg.VoidAddress
	}
	return seed.Config{
		Threads:         cfg.Threads,
		Bulk:            cfg.BulkSeeds,
		VoidAddress:     chain.Address(cfg.VoidAddress),
		FallbackAddress: chain.Address(fallback),
	}
}

func workerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		Threads: cfg.Threads,
		Policy: worker.Policy{
			Testnet:        cfg.IsTestnet(),
			Fixed:          cfg.FixedDifficulty,
			TargetDuration: cfg.TargetDuration,
		},
		Payout:           chain.Address(cfg.PayoutAddress),
		MaxLoss:          chain.CoinValue(cfg.MaxLoss),
		ProfitFailsafe:   cfg.ProfitFailsafe,
		SeedTTL:          cfg.SeedTTL,
		SkipBalanceCheck: cfg.SkipBalanceCheck,
	}
}
