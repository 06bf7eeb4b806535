// Package worker runs the mint loop. Every iteration calibrates the
// difficulty, makes sure there are seeds, mints a batch of proofs, submits
// them, settles the proceeds and reports, until a stop is requested or a
// fail-safe ends the run.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/internal/mint"
	"github.com/bardlex/gomint/internal/pow"
	"github.com/bardlex/gomint/internal/queue"
	"github.com/bardlex/gomint/internal/seed"
	"github.com/bardlex/gomint/internal/wallet"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
	"github.com/bardlex/gomint/pkg/retry"
)

// State is the step the worker is in.
type State int32

const (
	Idle State = iota
	Calibrating
	EnsuringSeeds
	Minting
	Submitting
	Settling
	Reporting
	Stopping
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Calibrating:
		return "calibrating"
	case EnsuringSeeds:
		return "ensuring_seeds"
	case Minting:
		return "minting"
	case Submitting:
		return "submitting"
	case Settling:
		return "settling"
	case Reporting:
		return "reporting"
	case Stopping:
		return "stopping"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const reservePoll = 30 * time.Second

// Metrics receives what the worker observes. Implementations must not
// block; database.Manager is the production one.
type Metrics interface {
	RecordSpeed(speed, progress, dailyERG, dailyMEL float64)
	RecordBatch(difficulty uint, threads int, d time.Duration)
	PublishStatus(ctx context.Context, status any) error
}

// Health reports how long ago the wallet daemon last answered a call.
// *circuit.Breaker is the production one.
type Health interface {
	SinceSuccess() time.Duration
}

// healthy never reports the daemon as gone.
type healthy struct{}

func (healthy) SinceSuccess() time.Duration { return 0 }

type noMetrics struct{}

func (noMetrics) RecordSpeed(float64, float64, float64, float64) {}
func (noMetrics) RecordBatch(uint, int, time.Duration) {}
func (noMetrics) PublishStatus(context.Context, any) error { return nil }

// Config is the per-run policy of the worker.
type Config struct {
	Threads int
	Policy  Policy
	// Payout receives half the balance once it exceeds one MEL; empty
	// disables payouts.
	Payout           chain.Address
	MaxLoss          chain.CoinValue
	ProfitFailsafe   bool
	SeedTTL          time.Duration
	SkipBalanceCheck bool
}

// Deps are the collaborators of a worker.
type Deps struct {
	Wallet    *wallet.Facade
	Chain     chain.Client
	Economics chain.Economics
	Seeds     *seed.Manager
	Engine    *mint.Engine
	Queue     *queue.Queue
	Ledger    *ledger.Ledger
	// Solver defaults to timing the reference hash chain.
	Solver  Solver
	Metrics Metrics
	// Health times wallet outages while minting; nil disables the
	// disconnect fail-safe.
	Health Health
}

// Status is the snapshot published after every iteration.
type Status struct {
	Wallet      string                          `json:"wallet"`
	Address     chain.Address                   `json:"address"`
	Iteration   int                             `json:"iteration"`
	Mode        string                          `json:"mode"`
	Difficulty  uint                            `json:"difficulty"`
	ApproxSolve string                          `json:"approx_solve"`
	MaxSpeed    float64                         `json:"max_speed_hps"`
	SeedTTL     uint64                          `json:"seed_ttl_blocks"`
	Expired     int                             `json:"expired_seeds"`
	Balances    map[chain.Denom]chain.CoinValue `json:"balances"`
	Unsent      int                             `json:"unsent"`
	UpdatedAt   time.Time                       `json:"updated_at"`
}

// Worker is the mint loop of one wallet.
type Worker struct {
	cfg     Config
	wallet  *wallet.Facade
	chain   chain.Client
	econ    chain.Economics
	seeds   *seed.Manager
	engine  *mint.Engine
	queue   *queue.Queue
	ledger  *ledger.Ledger
	tx      *transactor
	solver  Solver
	metrics Metrics
	health  Health
	logger  *log.Logger

	loop        retry.Forever
	reservePoll time.Duration
	now         func() time.Time

	stop      atomic.Bool
	state     atomic.Int32
	iteration int
}

// New creates a worker.
func New(cfg Config, deps Deps, logger *log.Logger) *Worker {
	w := &Worker{
		cfg:         cfg,
		wallet:      deps.Wallet,
		chain:       deps.Chain,
		econ:        deps.Economics,
		seeds:       deps.Seeds,
		engine:      deps.Engine,
		queue:       deps.Queue,
		ledger:      deps.Ledger,
		solver:      deps.Solver,
		metrics:     deps.Metrics,
		health:      deps.Health,
		logger:      logger.WithComponent("worker"),
		reservePoll: reservePoll,
		now:         time.Now,
	}
	if w.econ == nil {
		w.econ = chain.DefaultEconomics()
	}
	if w.solver == nil {
		w.solver = TimedSolver(pow.HashChain{})
	}
	if w.metrics == nil {
		w.metrics = noMetrics{}
	}
	if w.health == nil {
		w.health = healthy{}
	}
	w.tx = &transactor{
		wallet: w.wallet,
		chain:  w.chain,
		econ:   w.econ,
		fees:   w.ledger,
		logger: w.logger,
	}
	w.loop = retry.Forever{
		Delay: retry.ForeverDelay,
		OnError: func(attempt int, err error) {
			w.logger.WithError(err).Warn("iteration failed, retrying",
				"attempt", attempt,
				"state", w.State().String(),
			)
		},
	}
	return w
}

// Stop asks the worker to stop before it next ensures seeds. Proofs already
// being minted are submitted first.
func (w *Worker) Stop() {
	if w.stop.CompareAndSwap(false, true) {
		w.logger.Warn("stop requested, the worker stops after the current iteration")
	}
}

// State returns the current step.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.logger.Debug("state", "state", s.String())
}

// Run mints until Stop is honored, ctx is canceled or a fail-safe returns an
// exit error.
func (w *Worker) Run(ctx context.Context) error {
	err := w.run(ctx)
	if errors.AsExit(err) != nil {
		w.setState(Aborted)
	}
	return err
}

func (w *Worker) run(ctx context.Context) error {
	if w.cfg.Payout == "" {
		w.logger.Warn("no payout address set, all profits stay in the mint wallet")
	}
	if !w.cfg.SkipBalanceCheck {
		if err := w.loop.Run(ctx, func(ctx context.Context) error {
			return w.wallet.WaitForReserve(ctx, wallet.MinReserve, w.reservePoll)
		}); err != nil {
			return err
		}
	}

	if w.queue.Len() > 0 || len(w.queue.Awaiting()) > 0 {
		for _, rec := range w.queue.Pending() {
			w.logger.Info("resubmitting recovered proof",
				"seed", rec.Seed.ID.String(),
				"difficulty", rec.Difficulty,
				"fails", rec.Fails,
			)
		}
		w.setState(Submitting)
		if err := w.loop.Run(ctx, w.submit); err != nil {
			return err
		}
	}

	for {
		stopped, err := retry.ForeverWithResult(ctx, w.loop, w.iterate)
		if err != nil {
			return err
		}
		if stopped {
			w.setState(Stopping)
			w.logger.Info("worker stopped", "iterations", w.iteration)
			return nil
		}
	}
}

// iterate runs one pass of the loop. It returns true when a stop request
// was honored.
func (w *Worker) iterate(ctx context.Context) (bool, error) {
	w.setState(Calibrating)
	speed, err := Benchmark(ctx, w.solver)
	if err != nil {
		return false, err
	}
	cal, err := Select(speed, w.cfg.Policy)
	if err != nil {
		return false, err
	}
	ttl := w.seeds.SetTTL(max(2*cal.ApproxSolve(), w.cfg.SeedTTL))

	if w.stop.Load() {
		return true, nil
	}

	w.setState(EnsuringSeeds)
	seeds, err := w.seeds.Ensure(ctx, w.cfg.Threads)
	if err != nil {
		return false, err
	}

	w.setState(Minting)
	if err := w.mint(ctx, cal, seeds); err != nil {
		return false, err
	}

	w.setState(Submitting)
	if err := w.submit(ctx); err != nil {
		return false, err
	}

	w.setState(Settling)
	if err := w.settle(ctx); err != nil {
		return false, err
	}

	w.setState(Reporting)
	w.iteration++
	return false, w.report(ctx, cal, ttl)
}

// mint computes one batch from the ensured seeds while the aggregator
// reports on it, then queues the proofs.
func (w *Worker) mint(ctx context.Context, cal Calibration, seeds []seed.Seed) error {
	snap, err := w.chain.Snapshot(ctx)
	if err != nil {
		return err
	}
	header := snap.Header()
	pool, err := snap.Pool(ctx, chain.MelAnd(chain.DenomErg))
	if err != nil {
		return err
	}

	progress := &mint.Progress{}
	agg := &aggregator{
		wallet:     w.wallet,
		econ:       w.econ,
		metrics:    w.metrics,
		progress:   progress,
		header:     header,
		pool:       pool,
		threads:    w.cfg.Threads,
		difficulty: cal.Difficulty,
		health:     w.health,
		logger:     w.logger,
		now:        w.now,
	}

	batchCtx, stopAggregator := context.WithCancel(ctx)
	defer stopAggregator()
	g, gctx := errgroup.WithContext(batchCtx)
	g.Go(func() error { return agg.run(gctx) })

	type result struct {
		proofs []mint.Proof
		err    error
	}
	done := make(chan result, 1)
	started := w.now()
	go func() {
		proofs, err := w.engine.MintBatch(ctx, seeds, cal.Difficulty, w.cfg.Threads, progress)
		done <- result{proofs, err}
	}()

	var res result
	select {
	case res = <-done:
		stopAggregator()
		if err := g.Wait(); err != nil {
			return err
		}
	case <-gctx.Done():
		// the aggregator gave up on the daemon, or the run is canceled;
		// the compute threads are abandoned either way
		if err := g.Wait(); err != nil {
			return err
		}
		return ctx.Err()
	}
	if res.err != nil {
		return res.err
	}

	elapsed := w.now().Sub(started)
	w.metrics.RecordBatch(cal.Difficulty, w.cfg.Threads, elapsed)
	w.logger.Info("built batch of proofs",
		"proofs", len(res.proofs),
		"difficulty", cal.Difficulty,
		"elapsed", elapsed.String(),
		"approx", cal.ApproxSolve().String(),
	)
	w.logger.LogThroughput("mint_batch", float64(len(res.proofs))*math.Ldexp(1, int(cal.Difficulty)), elapsed)

	for _, p := range res.proofs {
		w.seeds.MarkUsed(p.Seed)
	}
	after, err := w.chain.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, p := range res.proofs {
		err := w.queue.Enqueue(ctx, queue.NewRecord(p, after.Header().Height, w.now()))
		if errors.IsType(err, errors.ErrorTypeValidation) {
			w.logger.WithError(err).Error("discarding invalid proof", "seed", p.Seed.ID.String())
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// submit drains the queue and waits for every sent mint to confirm.
func (w *Worker) submit(ctx context.Context) error {
	if queued := w.queue.Len(); queued > 0 {
		sent, err := w.queue.Drain(ctx, w.tx)
		if err != nil {
			return err
		}
		if sent < queued {
			w.logger.Error("some proofs could not be submitted", "queued", queued, "sent", sent)
		}
	}
	return w.queue.Settle(ctx, w.tx)
}

// settle converts the ERG reward, checks the fail-safe and pays out.
func (w *Worker) settle(ctx context.Context) error {
	if _, err := w.tx.convert(ctx); err != nil {
		return err
	}
	if _, err := w.ledger.Check(w.cfg.MaxLoss, w.cfg.ProfitFailsafe); err != nil {
		return err
	}
	if w.cfg.Payout != "" {
		if _, err := w.tx.payout(ctx, w.cfg.Payout); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) report(ctx context.Context, cal Calibration, ttl chain.Height) error {
	snap, err := w.chain.Snapshot(ctx)
	if err != nil {
		return err
	}
	summary, err := w.wallet.Summary(ctx)
	if err != nil {
		return err
	}
	header := snap.Header()
	expired := w.seeds.Expired()

	w.logger.Info("iteration complete",
		"iteration", w.iteration,
		"mode", cal.Mode,
		"difficulty", cal.Difficulty,
		"approx_solve", cal.ApproxSolve().String(),
		"max_speed_khps", header.FastestSpeed()/1000,
		"seed_ttl_blocks", uint64(ttl),
		"seed_ttl", (time.Duration(ttl) * chain.BlockInterval * time.Second).String(),
		"expired_seeds", expired,
		"address", summary.Address,
		"mel", summary.Balance(chain.DenomMel).String(),
		"erg", summary.Balance(chain.DenomErg).String(),
	)

	status := Status{
		Wallet:      w.wallet.Client().Name(),
		Address:     summary.Address,
		Iteration:   w.iteration,
		Mode:        cal.Mode,
		Difficulty:  cal.Difficulty,
		ApproxSolve: cal.ApproxSolve().String(),
		MaxSpeed:    header.FastestSpeed(),
		SeedTTL:     uint64(ttl),
		Expired:     expired,
		Balances:    summary.DetailedBalance,
		Unsent:      w.queue.Len(),
		UpdatedAt:   w.now(),
	}
	if err := w.metrics.PublishStatus(ctx, status); err != nil {
		w.logger.WithError(err).Warn("failed to publish status")
	}
	return nil
}
