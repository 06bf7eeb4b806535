package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bardlex/gomint/internal/pow"
	"github.com/bardlex/gomint/pkg/errors"
)

// Seconds of work a proof should represent at the measured speed.
const (
	MainnetFactor = 30000
	TestnetFactor = 120
)

const (
	benchmarkThreshold = time.Second

	durationTolerance   = 180 * time.Second
	searchDecayEvery    = 10_000
	searchMaxIterations = 20_000
)

// Difficulty modes.
const (
	ModeAuto     = "auto"
	ModeFixed    = "fixed"
	ModeDuration = "duration"
)

// Policy is the operator's difficulty choice. Fixed and TargetDuration are
// mutually exclusive; configuration rejects both being set.
type Policy struct {
	Testnet        bool
	Fixed          uint
	TargetDuration time.Duration
}

// Mode names the active policy.
func (p Policy) Mode() string {
	switch {
	case p.Fixed > 0:
		return ModeFixed
	case p.TargetDuration > 0:
		return ModeDuration
	default:
		return ModeAuto
	}
}

// Calibration is the outcome of one Calibrating state.
type Calibration struct {
	// Speed is the measured hashes per second of one thread.
	Speed      float64
	Auto       uint
	Difficulty uint
	Mode       string
}

// ApproxSolve is the expected time of one proof at the chosen difficulty.
func (c Calibration) ApproxSolve() time.Duration {
	if c.Speed <= 0 {
		return 0
	}
	return time.Duration(math.Ldexp(1, int(c.Difficulty)) / c.Speed * float64(time.Second))
}

// Solver times one proof at difficulty.
type Solver func(difficulty uint) time.Duration

// TimedSolver times g on an empty challenge.
func TimedSolver(g pow.Generator) Solver {
	return func(difficulty uint) time.Duration {
		started := time.Now()
		g.Generate(nil, difficulty, nil)
		return time.Since(started)
	}
}

// Benchmark doubles the work until a single solve takes longer than a
// second and returns the speed of that solve in hashes per second.
func Benchmark(ctx context.Context, solve Solver) (float64, error) {
	for d := uint(1); d <= pow.MaxDifficulty; d++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		elapsed := solve(d)
		if elapsed > benchmarkThreshold {
			return math.Ldexp(1, int(d)) / elapsed.Seconds(), nil
		}
	}
	return 0, errors.New(errors.ErrorTypeInternal, "benchmark", "solver never slowed down")
}

// AutoDifficulty is the smallest difficulty worth minting at speed.
func AutoDifficulty(speed float64, testnet bool) uint {
	factor := float64(MainnetFactor)
	if testnet {
		factor = TestnetFactor
	}
	d := math.Ceil(math.Log2(speed * factor))
	if d < 1 {
		return 1
	}
	return uint(d)
}

// Select applies the policy to a measured speed. A fixed difficulty below
// the automatic one is raised to it. A target duration that the hash-count
// search cannot reach returns an ExitCalibration error.
func Select(speed float64, p Policy) (Calibration, error) {
	c := Calibration{
		Speed: speed,
		Auto:  AutoDifficulty(speed, p.Testnet),
		Mode:  p.Mode(),
	}
	switch c.Mode {
	case ModeFixed:
		c.Difficulty = max(p.Fixed, c.Auto)
	case ModeDuration:
		hashes, err := searchHashes(speed, p.TargetDuration, math.Ldexp(1, int(c.Auto)))
		if err != nil {
			return c, err
		}
		c.Difficulty = uint(max(1, math.Ceil(math.Log2(hashes))))
	default:
		c.Difficulty = c.Auto
	}
	return c, nil
}

// searchHashes walks the total hash count from start towards the count that
// takes target at speed. The step halves whenever the walk overshoots and
// every searchDecayEvery iterations.
func searchHashes(speed float64, target time.Duration, start float64) (float64, error) {
	want := target.Seconds()
	tolerance := durationTolerance.Seconds()
	hashes, step := start, start/2
	below := hashes/speed < want

	for i := 1; i <= searchMaxIterations; i++ {
		implied := hashes / speed
		if math.Abs(implied-want) <= tolerance {
			return hashes, nil
		}
		if nowBelow := implied < want; nowBelow != below {
			step /= 2
			below = nowBelow
		}
		if i%searchDecayEvery == 0 {
			step /= 2
		}
		if below {
			hashes += step
		} else {
			hashes = max(1, hashes-step)
		}
	}
	return 0, errors.Exit(errors.ExitCalibration,
		fmt.Sprintf("no hash count within %s of a %s solve after %d iterations", durationTolerance, target, searchMaxIterations), nil)
}
