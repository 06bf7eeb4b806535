package mint

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/blake2b"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/mock"
	"github.com/bardlex/gomint/internal/seed"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

func addSeeds(net *mock.Network, origin chainhash.Hash, n int) []seed.Seed {
	h := net.Height()
	seeds := make([]seed.Seed, n)
	for i := range n {
		id := chain.CoinID{TxHash: origin, Index: uint8(i)}
		net.AddCoin(id, chain.CoinData{Covhash: mock.Owner, Value: 1, Denom: chain.CustomDenom(origin)}, h)
		seeds[i] = seed.Seed{ID: id, Coin: id, Height: h}
	}
	return seeds
}

func TestChallengeIsKeyedByHeader(t *testing.T) {
	id := chain.CoinID{TxHash: chainhash.Hash{0x42}, Index: 3}
	header := chain.Header{Height: 7, Hash: mock.HeaderHash(7)}

	mac, _ := blake2b.New256(header.Hash[:])
	mac.Write(id.CanonicalEncoding())
	want := mac.Sum(nil)

	if got := challenge(header, id); !bytes.Equal(got, want) {
		t.Errorf("challenge() = %x, want %x", got, want)
	}

	other := chain.Header{Height: 8, Hash: mock.HeaderHash(8)}
	if bytes.Equal(challenge(other, id), want) {
		t.Error("challenge() does not depend on the header")
	}
	if bytes.Equal(challenge(header, chain.CoinID{TxHash: id.TxHash, Index: 4}), want) {
		t.Error("challenge() does not depend on the seed")
	}
}

func TestMintBatch(t *testing.T) {
	net := mock.NewNetwork(chain.MicroUnit)
	gen := &mock.PoW{}
	e := NewEngine(net, gen, log.Discard())

	seeds := addSeeds(net, chainhash.Hash{0x01}, 4)
	var progress Progress

	proofs, err := e.MintBatch(context.Background(), seeds, 12, 4, &progress)
	if err != nil {
		t.Fatalf("MintBatch() error = %v", err)
	}
	if len(proofs) != 4 {
		t.Fatalf("MintBatch() returned %d proofs, want 4", len(proofs))
	}
	for i, p := range proofs {
		if p.Seed != seeds[i] {
			t.Errorf("proof %d is for seed %s, want %s", i, p.Seed.ID, seeds[i].ID)
		}
		if p.Difficulty != 12 || len(p.Proof) == 0 {
			t.Errorf("proof %d = difficulty %d, %d bytes", i, p.Difficulty, len(p.Proof))
		}
		if p.Coin.Height != seeds[i].Height {
			t.Errorf("proof %d coin height = %d, want %d", i, p.Coin.Height, seeds[i].Height)
		}
	}
	if got := len(gen.Calls()); got != 4 {
		t.Errorf("generator called %d times, want 4", got)
	}
	if mean := progress.Mean(4); mean != 1 {
		t.Errorf("progress mean after batch = %v, want 1", mean)
	}
}

func TestMintBatchUsesOneOrigin(t *testing.T) {
	net := mock.NewNetwork(chain.MicroUnit)
	e := NewEngine(net, &mock.PoW{}, log.Discard())

	small := addSeeds(net, chainhash.Hash{0x01}, 2)
	large := addSeeds(net, chainhash.Hash{0x02}, 3)

	proofs, err := e.MintBatch(context.Background(), append(small, large...), 10, 3, &Progress{})
	if err != nil {
		t.Fatalf("MintBatch() error = %v", err)
	}
	for _, p := range proofs {
		if p.Seed.Origin() != large[0].Origin() {
			t.Errorf("proof for seed %s from the smaller origin", p.Seed.ID)
		}
	}
}

func TestMintBatchSamplesProgress(t *testing.T) {
	net := mock.NewNetwork(chain.MicroUnit)
	e := NewEngine(net, &mock.PoW{}, log.Discard())
	var sampled atomic.Int32
	e.sample = func() bool {
		sampled.Add(1)
		return false
	}

	var progress Progress
	seeds := addSeeds(net, chainhash.Hash{0x01}, 2)
	if _, err := e.MintBatch(context.Background(), seeds, 10, 2, &progress); err != nil {
		t.Fatalf("MintBatch() error = %v", err)
	}
	// mock.PoW reports twice per proof
	if got := sampled.Load(); got != 4 {
		t.Errorf("sampler consulted %d times, want 4", got)
	}
	if got := progress.Snapshot(); got[0] != 1 || got[1] != 1 {
		t.Errorf("final progress = %v, want every thread at 1", got)
	}
}

func TestMintBatchSpentSeed(t *testing.T) {
	net := mock.NewNetwork(chain.MicroUnit)
	e := NewEngine(net, &mock.PoW{}, log.Discard())

	seeds := addSeeds(net, chainhash.Hash{0x01}, 2)
	net.Spend(seeds[1].Coin)

	_, err := e.MintBatch(context.Background(), seeds, 10, 2, &Progress{})
	if !errors.Is(err, chain.ErrCoinNotFound) {
		t.Errorf("MintBatch() error = %v, want ErrCoinNotFound", err)
	}
}

func TestMintBatchRetriesLookups(t *testing.T) {
	net := mock.NewNetwork(chain.MicroUnit)
	e := NewEngine(net, &mock.PoW{}, log.Discard())
	e.lookups.Delay = 1

	failures := 2
	net.CoinErr = func(chain.CoinID) error {
		if failures > 0 {
			failures--
			return errors.New(errors.ErrorTypeNetwork, "coin", "connection reset")
		}
		return nil
	}

	seeds := addSeeds(net, chainhash.Hash{0x01}, 1)
	if _, err := e.MintBatch(context.Background(), seeds, 10, 1, &Progress{}); err != nil {
		t.Fatalf("MintBatch() error = %v", err)
	}
	if failures != 0 {
		t.Errorf("%d injected failures left, want 0", failures)
	}
}

func TestMintBatchPanics(t *testing.T) {
	net := mock.NewNetwork(chain.MicroUnit)
	e := NewEngine(net, &mock.PoW{}, log.Discard())
	seeds := addSeeds(net, chainhash.Hash{0x01}, 2)

	tests := []struct {
		name    string
		threads int
	}{
		{"too few seeds", 3},
		{"zero threads", 0},
		{"over the split limit", MaxThreads + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("MintBatch(threads=%d) did not panic", tt.threads)
				}
			}()
			_, _ = e.MintBatch(context.Background(), seeds, 10, tt.threads, &Progress{})
		})
	}
}

func TestProgressMean(t *testing.T) {
	var p Progress
	p.Set(0, 0.5)
	p.Set(1, 1)
	if got := p.Mean(4); got != 0.375 {
		t.Errorf("Mean(4) = %v, want 0.375", got)
	}
	if got := p.Mean(0); got != 0 {
		t.Errorf("Mean(0) = %v, want 0", got)
	}
}
