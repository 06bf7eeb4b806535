// Package mint turns seeds into proofs of work, one dedicated OS thread per
// seed, and reports per-thread progress while the batch runs.
package mint

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/pow"
	"github.com/bardlex/gomint/internal/seed"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
	"github.com/bardlex/gomint/pkg/retry"
)

// MaxThreads is the largest batch; a split index is a single byte.
const MaxThreads = 255

// progressSampleRate is the share of progress callbacks forwarded to the
// board.
const progressSampleRate = 0.1

// Proof is one solved seed.
type Proof struct {
	Seed       seed.Seed
	Coin       chain.CoinDataHeight
	Difficulty uint
	Proof      []byte
}

// Progress is the per-thread progress of a running batch. Each compute
// thread writes only its own key.
type Progress struct {
	m sync.Map
}

// Set records progress in [0, 1] for thread idx.
func (p *Progress) Set(idx int, v float64) {
	p.m.Store(idx, v)
}

// Snapshot copies the current progress of every thread that reported.
func (p *Progress) Snapshot() map[int]float64 {
	out := make(map[int]float64)
	p.m.Range(func(k, v any) bool {
		out[k.(int)] = v.(float64)
		return true
	})
	return out
}

// Mean averages progress over threads, counting silent threads as zero.
func (p *Progress) Mean(threads int) float64 {
	if threads <= 0 {
		return 0
	}
	var sum float64
	for _, v := range p.Snapshot() {
		sum += v
	}
	return sum / float64(threads)
}

// Engine computes proof batches.
type Engine struct {
	chain     chain.Client
	generator pow.Generator
	logger    *log.Logger
	lookups   retry.Forever
	sample    func() bool
}

// NewEngine creates an engine solving with g against the chain behind c.
func NewEngine(c chain.Client, g pow.Generator, logger *log.Logger) *Engine {
	e := &Engine{
		chain:     c,
		generator: g,
		logger:    logger.WithComponent("mint"),
		sample:    func() bool { return rand.Float64() < progressSampleRate },
	}
	e.lookups = retry.Forever{
		Delay: retry.ForeverDelay,
		OnError: func(attempt int, err error) {
			e.logger.WithError(err).Warn("chain lookup failed, retrying", "attempt", attempt)
		},
	}
	return e
}

// challenge derives the proof input of a seed created in the block header.
func challenge(header chain.Header, id chain.CoinID) []byte {
	h, err := blake2b.New256(header.Hash[:])
	if err != nil {
		// 32-byte key, cannot fail
		panic(err)
	}
	h.Write(id.CanonicalEncoding())
	return h.Sum(nil)
}

// MintBatch solves threads seeds at difficulty, one OS thread each. The
// seeds are taken from the origin transaction with the most usable seeds;
// having fewer than threads of them means Ensure was skipped, which panics.
// The call blocks until every thread is done, even if ctx is canceled
// meanwhile; only the chain lookups before the threads start observe ctx.
func (e *Engine) MintBatch(ctx context.Context, seeds []seed.Seed, difficulty uint, threads int, progress *Progress) ([]Proof, error) {
	if threads <= 0 || threads > MaxThreads {
		panic(fmt.Sprintf("mint: thread count %d outside [1, %d]", threads, MaxThreads))
	}
	group := seed.Largest(seeds)
	if len(group) < threads {
		panic(fmt.Sprintf("mint: %d usable seeds from one origin, need %d", len(group), threads))
	}
	group = group[:threads]

	type job struct {
		idx       int
		seed      seed.Seed
		coin      chain.CoinDataHeight
		challenge []byte
	}
	jobs := make([]job, 0, threads)
	for idx, s := range group {
		coin, header, err := e.lookup(ctx, s)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job{idx: idx, seed: s, coin: coin, challenge: challenge(header, s.ID)})
	}

	started := time.Now()
	proofs := make([]Proof, threads)
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if err := pow.LowerThreadPriority(); err != nil {
				e.logger.WithError(err).Debug("could not lower thread priority", "thread", j.idx)
			}

			out := e.generator.Generate(j.challenge, difficulty, func(p float64) {
				if e.sample() {
					progress.Set(j.idx, p)
				}
			})
			progress.Set(j.idx, 1)
			proofs[j.idx] = Proof{Seed: j.seed, Coin: j.coin, Difficulty: difficulty, Proof: out}
		}()
	}
	wg.Wait()

	e.logger.LogDuration("mint_batch", time.Since(started))
	return proofs, nil
}

// lookup fetches the seed's coin and the header of the block that created
// it, retrying transient failures forever. A coin that no longer exists is
// not transient.
func (e *Engine) lookup(ctx context.Context, s seed.Seed) (chain.CoinDataHeight, chain.Header, error) {
	type found struct {
		coin   chain.CoinDataHeight
		header chain.Header
		ok     bool
	}
	res, err := retry.ForeverWithResult(ctx, e.lookups, func(ctx context.Context) (found, error) {
		snap, err := e.chain.Snapshot(ctx)
		if err != nil {
			return found{}, err
		}
		coin, err := snap.Coin(ctx, s.Coin)
		if errors.Is(err, chain.ErrCoinNotFound) {
			return found{}, nil
		}
		if err != nil {
			return found{}, err
		}
		header, err := snap.Older(ctx, coin.Height)
		if err != nil {
			return found{}, err
		}
		return found{coin: coin, header: header, ok: true}, nil
	})
	if err != nil {
		return chain.CoinDataHeight{}, chain.Header{}, err
	}
	if !res.ok {
		return chain.CoinDataHeight{}, chain.Header{}, errors.Wrap(chain.ErrCoinNotFound, errors.ErrorTypeChain, "mint_batch",
			"seed was spent behind our back").WithContext("seed", s.ID.String())
	}
	return res.coin, res.header, nil
}
