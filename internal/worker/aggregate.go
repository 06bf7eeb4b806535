package worker

import (
	"context"
	"math"
	"time"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/mint"
	"github.com/bardlex/gomint/internal/wallet"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

const (
	aggregateInterval = time.Second
	disconnectTimeout = 10 * time.Minute
)

// yieldScale keeps fractional daily yields through the integer conversions.
const yieldScale = 10_000

// Yield is the expected daily return at the current speed.
type Yield struct {
	DOSC float64
	ERG  float64
	MEL  float64
}

// aggregator turns the progress board of a running batch into speed and
// yield reports, and watches the wallet daemon while the threads work.
type aggregator struct {
	wallet     *wallet.Facade
	econ       chain.Economics
	metrics    Metrics
	progress   *mint.Progress
	header     chain.Header
	pool       chain.PoolState
	threads    int
	difficulty uint
	health     Health
	logger     *log.Logger

	now         func() time.Time
	started     time.Time
	unreachable bool
}

func (a *aggregator) run(ctx context.Context) error {
	a.started = a.now()
	ticker := time.NewTicker(aggregateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.sample(ctx); err != nil {
				return err
			}
		}
	}
}

// speed is the batch's hashes per second so far.
func (a *aggregator) speed(mean float64) float64 {
	elapsed := a.now().Sub(a.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return mean * float64(a.threads) * math.Ldexp(1, int(a.difficulty)) / elapsed
}

// yield estimates the daily return of threads each hashing at
// speed/threads. Slower processors earn quadratically less than the
// network's fastest.
func (a *aggregator) yield(speed float64) Yield {
	fastest := a.header.FastestSpeed()
	if fastest <= 0 || a.threads == 0 {
		return Yield{}
	}
	perCore := speed / float64(a.threads)
	var y Yield
	y.DOSC = math.Pow(perCore/fastest, 2) * float64(a.threads)
	y.ERG = y.DOSC * float64(a.econ.DoscToErg(a.header.Height, yieldScale)) / yieldScale

	pool := a.pool
	mels, _ := pool.SwapMany(0, uint64(y.ERG*yieldScale))
	y.MEL = float64(mels) / yieldScale
	return y
}

// sample reports once. Losing the wallet daemon for longer than the
// disconnect timeout, as measured by health, ends the run: proofs mined
// meanwhile could never be claimed.
func (a *aggregator) sample(ctx context.Context) error {
	mean := a.progress.Mean(a.threads)
	speed := a.speed(mean)
	y := a.yield(speed)

	summary, err := a.wallet.Summary(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if !a.unreachable {
			a.unreachable = true
			a.logger.WithError(err).Error("cannot reach the wallet daemon, minting continues but rewards cannot be claimed until it is back",
				"timeout", disconnectTimeout.String(),
			)
		}
		if since := a.health.SinceSuccess(); since > disconnectTimeout {
			return errors.Exit(errors.ExitDisconnected, "wallet daemon unreachable for "+since.Round(time.Second).String(), err)
		}
		return nil
	}
	if a.unreachable {
		a.logger.Info("wallet daemon is reachable again")
		a.unreachable = false
	}

	a.logger.WithFields("daily_dosc", y.DOSC).
		LogProgress(mean*100, speed, y.ERG, y.MEL, summary.Balance(chain.DenomMel).String())
	a.metrics.RecordSpeed(speed, mean, y.ERG, y.MEL)
	return nil
}
