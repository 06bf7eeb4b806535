// Package seed manages the mint wallet's seeds: unspent custom-denomination
// coins used once each as proof-of-work input. It issues new seeds, enforces
// a time-to-live measured in blocks, and sweeps expired seeds away.
package seed

import (
	"bytes"
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/internal/wallet"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

const (
	// MinTTL and MaxTTL bound the wall-clock lifetime of a seed.
	MinTTL = 3 * time.Hour
	MaxTTL = 12 * time.Hour

	// SweepFactor times the thread count is the number of expired seeds
	// tolerated before the next issuance sweeps them.
	SweepFactor = 15

	// MaxSplit is the number of logical seeds one bulk coin can back; the
	// split index is a single byte.
	MaxSplit = 256

	heightCacheSize = 4096
)

// Seed is one usable proof-of-work input. ID identifies the seed; Coin is the
// unspent coin backing it. They are equal for single seeds, while the seeds
// split from a bulk coin share its Coin and carry their split index in ID.
type Seed struct {
	ID     chain.CoinID
	Coin   chain.CoinID
	Height chain.Height
}

// Origin is the hash of the transaction that issued the seed.
func (s Seed) Origin() chainhash.Hash {
	return s.ID.TxHash
}

// FeeRecorder records paid fees. *ledger.Ledger satisfies it.
type FeeRecorder interface {
	Record(kind ledger.Kind, balance, fee, income chain.CoinValue) ledger.Record
}

// Config is the issuance policy of a Manager.
type Config struct {
	Threads int
	// Bulk issues one coin valued at the requested count instead of that
	// many coins of value one.
	Bulk bool
	// VoidAddress and FallbackAddress receive swept seeds.
	VoidAddress     chain.Address
	FallbackAddress chain.Address
}

// Manager tracks usable and expired seeds of one wallet.
type Manager struct {
	wallet *wallet.Facade
	chain  chain.Client
	fees   FeeRecorder
	config Config
	logger *log.Logger

	mu      sync.Mutex
	ttl     chain.Height
	ttlSet  bool
	expired map[chainhash.Hash]map[chain.CoinID]chain.CoinData
	used    map[chain.CoinID]struct{}
	pending *chainhash.Hash

	heights  *lru.Cache[chain.CoinID, chain.Height]
	coinFlip func() bool
}

// NewManager creates a seed manager for the wallet behind w.
func NewManager(w *wallet.Facade, c chain.Client, fees FeeRecorder, config Config, logger *log.Logger) *Manager {
	heights, err := lru.New[chain.CoinID, chain.Height](heightCacheSize)
	if err != nil {
		panic(err)
	}
	return &Manager{
		wallet:   w,
		chain:    c,
		fees:     fees,
		config:   config,
		logger:   logger.WithComponent("seeds"),
		expired:  make(map[chainhash.Hash]map[chain.CoinID]chain.CoinData),
		used:     make(map[chain.CoinID]struct{}),
		heights:  heights,
		coinFlip: func() bool { return rand.IntN(2) == 0 },
	}
}

// SetTTL converts lifetime, clamped to [MinTTL, MaxTTL], into blocks. Only
// the first call computes; later calls return the cached value.
func (m *Manager) SetTTL(lifetime time.Duration) chain.Height {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ttlSet {
		return m.ttl
	}
	lifetime = min(max(lifetime, MinTTL), MaxTTL)
	m.ttl = chain.Height(lifetime / (chain.BlockInterval * time.Second))
	m.ttlSet = true
	return m.ttl
}

// TTL returns the seed lifetime in blocks, zero if it was never set.
func (m *Manager) TTL() chain.Height {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttl
}

// Expired returns the number of expired seeds waiting to be swept.
func (m *Manager) Expired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiredCountLocked()
}

func (m *Manager) expiredCountLocked() int {
	n := 0
	for _, group := range m.expired {
		for _, data := range group {
			n += splitCount(data.Value)
		}
	}
	return n
}

// MarkUsed excludes seeds from future collections once they were mined.
func (m *Manager) MarkUsed(seeds ...Seed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range seeds {
		m.used[s.ID] = struct{}{}
	}
}

// Collect returns the seeds usable at height, sorted by origin and index.
// Seeds older than the TTL are moved to the expiration map instead.
func (m *Manager) Collect(ctx context.Context, height chain.Height) ([]Seed, error) {
	coins, err := m.wallet.Coins(ctx)
	if err != nil {
		return nil, err
	}

	var snap chain.Snapshot
	var seeds []Seed
	live := make(map[chain.CoinID]struct{}, len(coins))

	for id, data := range coins {
		if !data.Denom.IsCustom() {
			continue
		}
		live[id] = struct{}{}

		created, ok := m.heights.Get(id)
		if !ok {
			if snap == nil {
				if snap, err = m.chain.Snapshot(ctx); err != nil {
					return nil, err
				}
			}
			cdh, err := snap.Coin(ctx, id)
			if errors.Is(err, chain.ErrCoinNotFound) {
				// The node has not seen it yet.
				continue
			}
			if err != nil {
				return nil, err
			}
			created = cdh.Height
			m.heights.Add(id, created)
		}

		m.mu.Lock()
		if m.ttl > 0 && height > created && height-created > m.ttl {
			group := m.expired[id.TxHash]
			if group == nil {
				group = make(map[chain.CoinID]chain.CoinData)
				m.expired[id.TxHash] = group
			}
			group[id] = data
			m.mu.Unlock()
			continue
		}
		for i := range splitCount(data.Value) {
			sid := id
			if data.Value > 1 {
				sid.Index = id.Index + uint8(i)
			}
			if _, done := m.used[sid]; done {
				continue
			}
			seeds = append(seeds, Seed{ID: sid, Coin: id, Height: created})
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	for origin, group := range m.expired {
		for id := range group {
			if _, ok := live[id]; !ok {
				delete(group, id)
			}
		}
		if len(group) == 0 {
			delete(m.expired, origin)
		}
	}
	m.mu.Unlock()

	slices.SortFunc(seeds, func(a, b Seed) int {
		switch {
		case a.ID.Less(b.ID):
			return -1
		case b.ID.Less(a.ID):
			return 1
		}
		return 0
	})
	return seeds, nil
}

// Largest returns the seeds of the origin transaction with the most seeds.
// Ties go to the lowest origin hash.
func Largest(seeds []Seed) []Seed {
	groups := make(map[chainhash.Hash][]Seed)
	for _, s := range seeds {
		groups[s.Origin()] = append(groups[s.Origin()], s)
	}
	var best []Seed
	for origin, group := range groups {
		switch {
		case len(group) > len(best):
			best = group
		case len(group) == len(best) && len(best) > 0:
			bestOrigin := best[0].Origin()
			if bytes.Compare(origin[:], bestOrigin[:]) < 0 {
				best = group
			}
		}
	}
	return best
}

// Ensure makes sure at least count seeds from one origin transaction are
// usable, issuing and confirming a new batch if they are not, and returns
// that origin's seeds. Callers mint from the returned set: collecting again
// at a later height may find some of them expired. An issuance whose
// confirmation was interrupted is awaited before anything else.
func (m *Manager) Ensure(ctx context.Context, count int) ([]Seed, error) {
	if count <= 0 || count > MaxSplit {
		return nil, errors.New(errors.ErrorTypeValidation, "ensure_seeds", "seed count out of range").
			WithContext("count", count)
	}
	if err := m.awaitPending(ctx); err != nil {
		return nil, err
	}

	for {
		snap, err := m.chain.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		seeds, err := m.Collect(ctx, snap.Header().Height)
		if err != nil {
			return nil, err
		}
		if group := Largest(seeds); len(group) >= count {
			return group, nil
		}
		if err := m.issue(ctx, count); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (m *Manager) awaitPending(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pending
	m.mu.Unlock()
	if pending == nil {
		return nil
	}

	m.logger.Info("waiting for an earlier seed issuance", "tx", chain.HashHex(*pending))
	if _, err := m.wallet.Wait(ctx, *pending); err != nil {
		return err
	}
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	return nil
}

// issue sends one seed-issuing transaction and waits for it, sweeping the
// expired seeds along with it when there are too many of them.
func (m *Manager) issue(ctx context.Context, count int) error {
	address, err := m.wallet.Address(ctx)
	if err != nil {
		return err
	}

	var outputs []chain.CoinData
	if m.config.Bulk {
		outputs = append(outputs, chain.CoinData{Covhash: address, Value: chain.CoinValue(count), Denom: chain.DenomNewCoin})
	} else {
		for range count {
			outputs = append(outputs, chain.CoinData{Covhash: address, Value: 1, Denom: chain.DenomNewCoin})
		}
	}

	inputs, sweeps, swept := m.sweepPlan()
	outputs = append(outputs, sweeps...)

	tx, err := m.wallet.Prepare(ctx, wallet.PrepareRequest{
		Kind:    wallet.TxNormal,
		Inputs:  inputs,
		Outputs: outputs,
	})
	if err != nil {
		return err
	}
	balance, err := m.wallet.Balance(ctx, chain.DenomMel)
	if err != nil {
		return err
	}
	m.fees.Record(ledger.SeedIssue, balance, tx.Fee, 0)

	hash, err := m.wallet.Send(ctx, tx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.pending = &hash
	if swept > 0 {
		m.expired = make(map[chainhash.Hash]map[chain.CoinID]chain.CoinData)
	}
	m.mu.Unlock()

	m.logger.Info("seed issuance sent",
		"tx", chain.HashHex(hash),
		"seeds", count,
		"bulk", m.config.Bulk,
		"swept", swept,
		"fee", tx.Fee.String(),
	)
	return m.awaitPending(ctx)
}

// sweepPlan returns the inputs and outputs that move every expired seed
// away, or nothing while the expired seeds stay under the threshold. Each
// origin group becomes one output to the void or the fallback address,
// with equal odds.
func (m *Manager) sweepPlan() (inputs []chain.CoinID, outputs []chain.CoinData, swept int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := m.expiredCountLocked()
	if expired <= SweepFactor*m.config.Threads {
		return nil, nil, 0
	}

	origins := make([]chainhash.Hash, 0, len(m.expired))
	for origin := range m.expired {
		origins = append(origins, origin)
	}
	slices.SortFunc(origins, func(a, b chainhash.Hash) int { return bytes.Compare(a[:], b[:]) })

	for _, origin := range origins {
		dest := m.config.VoidAddress
		if m.coinFlip() {
			dest = m.config.FallbackAddress
		}
		group := m.expired[origin]
		ids := make([]chain.CoinID, 0, len(group))
		for id := range group {
			ids = append(ids, id)
		}
		slices.SortFunc(ids, func(a, b chain.CoinID) int {
			if a.Less(b) {
				return -1
			}
			return 1
		})
		// one output per denomination carries the group's total
		totals := make(map[chain.Denom]chain.CoinValue)
		var denoms []chain.Denom
		for _, id := range ids {
			data := group[id]
			inputs = append(inputs, id)
			if _, seen := totals[data.Denom]; !seen {
				denoms = append(denoms, data.Denom)
			}
			totals[data.Denom] += data.Value
		}
		for _, d := range denoms {
			outputs = append(outputs, chain.CoinData{Covhash: dest, Value: totals[d], Denom: d})
		}
	}
	return inputs, outputs, expired
}

// splitCount is the number of seeds a coin of value v backs.
func splitCount(v chain.CoinValue) int {
	if v == 0 {
		return 0
	}
	return int(min(v, MaxSplit))
}
