package seed

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/internal/mock"
	"github.com/bardlex/gomint/internal/wallet"
	"github.com/bardlex/gomint/pkg/log"
)

const (
	voidAddr     chain.Address = "void"
	fallbackAddr chain.Address = "fallback"
)

func newTestManager(net *mock.Network, cfg Config) (*Manager, *ledger.Ledger) {
	if cfg.VoidAddress == "" {
		cfg.VoidAddress = voidAddr
	}
	if cfg.FallbackAddress == "" {
		cfg.FallbackAddress = fallbackAddr
	}
	fees := ledger.New(log.Discard())
	facade := wallet.NewFacade(net.Client(), log.Discard(), false)
	return NewManager(facade, net, fees, cfg, log.Discard()), fees
}

func TestSetTTL(t *testing.T) {
	tests := []struct {
		name     string
		lifetime time.Duration
		want     chain.Height
	}{
		{"below minimum", time.Hour, 360},
		{"minimum", 3 * time.Hour, 360},
		{"in range", 6 * time.Hour, 720},
		{"maximum", 12 * time.Hour, 1440},
		{"above maximum", 48 * time.Hour, 1440},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(mock.NewNetwork(chain.MicroUnit), Config{Threads: 1})
			if got := m.SetTTL(tt.lifetime); got != tt.want {
				t.Errorf("SetTTL(%s) = %d, want %d", tt.lifetime, got, tt.want)
			}
		})
	}
}

func TestSetTTLIsComputedOnce(t *testing.T) {
	m, _ := newTestManager(mock.NewNetwork(chain.MicroUnit), Config{Threads: 1})

	first := m.SetTTL(time.Hour)
	second := m.SetTTL(12 * time.Hour)
	if first != 360 || second != 360 {
		t.Errorf("SetTTL returned %d then %d, want 360 both times", first, second)
	}
	if m.TTL() != 360 {
		t.Errorf("TTL() = %d, want 360", m.TTL())
	}
}

func TestEnsureBulk(t *testing.T) {
	ctx := context.Background()
	net := mock.NewNetwork(10 * chain.MicroUnit)
	m, fees := newTestManager(net, Config{Threads: 8, Bulk: true})

	ensured, err := m.Ensure(ctx, 8)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if len(ensured) != 8 {
		t.Fatalf("Ensure() returned %d seeds, want 8", len(ensured))
	}

	seeds, err := m.Collect(ctx, net.Height())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(seeds) != 8 {
		t.Fatalf("Collect() returned %d seeds, want 8", len(seeds))
	}
	origin := seeds[0].Origin()
	for i, s := range seeds {
		if s.Origin() != origin {
			t.Errorf("seed %d origin = %s, want %s", i, chain.HashHex(s.Origin()), chain.HashHex(origin))
		}
		if s.ID.Index != uint8(i) {
			t.Errorf("seed %d index = %d, want %d", i, s.ID.Index, i)
		}
		if s.Coin != (chain.CoinID{TxHash: origin}) {
			t.Errorf("seed %d backed by %s, want the bulk coin", i, s.Coin)
		}
	}

	if len(net.Prepared) != 1 {
		t.Fatalf("prepared %d transactions, want 1", len(net.Prepared))
	}
	outs := net.Prepared[0].Outputs
	if len(outs) != 1 || outs[0].Value != 8 || outs[0].Denom != chain.DenomNewCoin {
		t.Errorf("bulk issuance outputs = %+v, want one new coin of value 8", outs)
	}

	records := fees.Records()
	if len(records) != 1 || records[0].Kind != ledger.SeedIssue || records[0].Income != 0 {
		t.Errorf("fee records = %+v, want one seed issuance without income", records)
	}
}

func TestEnsureSingleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	net := mock.NewNetwork(10 * chain.MicroUnit)
	m, _ := newTestManager(net, Config{Threads: 4})

	if _, err := m.Ensure(ctx, 4); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if _, err := m.Ensure(ctx, 4); err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if len(net.Sent) != 1 {
		t.Errorf("sent %d transactions, want 1", len(net.Sent))
	}

	outs := net.Prepared[0].Outputs
	if len(outs) != 4 {
		t.Fatalf("issuance has %d outputs, want 4", len(outs))
	}
	for i, o := range outs {
		if o.Value != 1 || o.Covhash != mock.Owner {
			t.Errorf("output %d = %+v, want one unit to the wallet", i, o)
		}
	}

	seeds, err := m.Collect(ctx, net.Height())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if got := len(Largest(seeds)); got != 4 {
		t.Errorf("largest seed group = %d, want 4", got)
	}
}

func TestEnsureIgnoresSmallerOrigins(t *testing.T) {
	ctx := context.Background()
	net := mock.NewNetwork(10 * chain.MicroUnit)
	m, _ := newTestManager(net, Config{Threads: 3})

	old := chainhash.Hash{0x01}
	for i := range 2 {
		net.AddCoin(chain.CoinID{TxHash: old, Index: uint8(i)},
			chain.CoinData{Covhash: mock.Owner, Value: 1, Denom: chain.CustomDenom(old)}, net.Height())
	}

	if _, err := m.Ensure(ctx, 3); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if len(net.Sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(net.Sent))
	}

	seeds, err := m.Collect(ctx, net.Height())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(seeds) != 5 {
		t.Errorf("Collect() returned %d seeds, want 5", len(seeds))
	}
	if largest := Largest(seeds); len(largest) != 3 || largest[0].Origin() == old {
		t.Errorf("largest group has %d seeds from the old origin, want 3 fresh ones", len(largest))
	}
}

func addExpired(net *mock.Network, origins, perOrigin int) {
	created := net.Height()
	for o := range origins {
		origin := chainhash.Hash{0xee, byte(o)}
		for i := range perOrigin {
			net.AddCoin(chain.CoinID{TxHash: origin, Index: uint8(i)},
				chain.CoinData{Covhash: mock.Owner, Value: 1, Denom: chain.CustomDenom(origin)}, created)
		}
	}
}

func TestSweepExpiredSeeds(t *testing.T) {
	ctx := context.Background()
	net := mock.NewNetwork(10 * chain.MicroUnit)
	m, _ := newTestManager(net, Config{Threads: 4})
	flips := 0
	m.coinFlip = func() bool {
		flips++
		return flips%2 == 0
	}

	addExpired(net, 4, 16)
	if ttl := m.SetTTL(time.Hour); ttl != 360 {
		t.Fatalf("SetTTL() = %d, want 360", ttl)
	}
	net.Advance(361)

	seeds, err := m.Collect(ctx, net.Height())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(seeds) != 0 {
		t.Errorf("Collect() returned %d usable seeds, want 0", len(seeds))
	}
	if got := m.Expired(); got != 64 {
		t.Fatalf("Expired() = %d, want 64", got)
	}

	if _, err := m.Ensure(ctx, 4); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	req := net.Prepared[0]
	if len(req.Inputs) != 64 {
		t.Errorf("issuance spends %d inputs, want 64", len(req.Inputs))
	}
	if len(req.Outputs) != 4+4 {
		t.Fatalf("issuance has %d outputs, want 8", len(req.Outputs))
	}

	destByOrigin := make(map[chain.Denom]chain.Address)
	for i, out := range req.Outputs[4:] {
		if out.Covhash != voidAddr && out.Covhash != fallbackAddr {
			t.Errorf("sweep output %d goes to %q", i, out.Covhash)
		}
		if out.Value != 16 {
			t.Errorf("sweep output %d carries %d, want the group total 16", i, out.Value)
		}
		if _, ok := destByOrigin[out.Denom]; ok {
			t.Errorf("origin %s has more than one sweep output", out.Denom)
		}
		destByOrigin[out.Denom] = out.Covhash
	}
	if len(destByOrigin) != 4 {
		t.Errorf("sweep covers %d origins, want 4", len(destByOrigin))
	}

	if got := m.Expired(); got != 0 {
		t.Errorf("Expired() after sweep = %d, want 0", got)
	}
	if net.Unspent(chain.CoinID{TxHash: chainhash.Hash{0xee, 0}}) {
		t.Error("expired seed is still unspent after the sweep")
	}
}

func TestExpiredBelowThresholdAreKept(t *testing.T) {
	ctx := context.Background()
	net := mock.NewNetwork(10 * chain.MicroUnit)
	m, _ := newTestManager(net, Config{Threads: 4})

	addExpired(net, 4, 15)
	m.SetTTL(time.Hour)
	net.Advance(361)

	if _, err := m.Ensure(ctx, 4); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if got := len(net.Prepared[0].Inputs); got != 0 {
		t.Errorf("issuance spends %d inputs, want 0", got)
	}
	if got := m.Expired(); got != 60 {
		t.Errorf("Expired() = %d, want 60", got)
	}
}

func TestMarkUsed(t *testing.T) {
	ctx := context.Background()
	net := mock.NewNetwork(10 * chain.MicroUnit)
	m, _ := newTestManager(net, Config{Threads: 4, Bulk: true})

	if _, err := m.Ensure(ctx, 4); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	seeds, err := m.Collect(ctx, net.Height())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	m.MarkUsed(seeds[:2]...)

	rest, err := m.Collect(ctx, net.Height())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(rest) != 2 || rest[0].ID.Index != 2 || rest[1].ID.Index != 3 {
		t.Errorf("Collect() after MarkUsed = %+v, want split indices 2 and 3", rest)
	}
}

func TestEnsuredSeedsOutliveLaterBlocks(t *testing.T) {
	ctx := context.Background()
	net := mock.NewNetwork(10 * chain.MicroUnit)
	net.Advance(1000)
	m, _ := newTestManager(net, Config{Threads: 4})
	m.SetTTL(time.Hour)

	origin := chainhash.Hash{0x0a}
	for i := range 4 {
		net.AddCoin(chain.CoinID{TxHash: origin, Index: uint8(i)},
			chain.CoinData{Covhash: mock.Owner, Value: 1, Denom: chain.CustomDenom(origin)}, net.Height()-360)
	}

	ensured, err := m.Ensure(ctx, 4)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if len(net.Prepared) != 0 {
		t.Fatalf("prepared %d transactions, want the existing seeds reused", len(net.Prepared))
	}
	if len(ensured) != 4 {
		t.Fatalf("Ensure() returned %d seeds, want 4", len(ensured))
	}

	// one block later the same seeds are past their lifetime, yet the set
	// Ensure returned is what gets minted
	net.Advance(1)
	if seeds, _ := m.Collect(ctx, net.Height()); len(seeds) != 0 {
		t.Errorf("Collect() one block later = %d seeds, want 0", len(seeds))
	}
	for i, s := range ensured {
		if s.Origin() != origin || s.ID.Index != uint8(i) {
			t.Errorf("ensured seed %d = %s, want %s-%d", i, s.ID, chain.HashHex(origin), i)
		}
	}
}

func TestEnsureRejectsBadCount(t *testing.T) {
	m, _ := newTestManager(mock.NewNetwork(chain.MicroUnit), Config{Threads: 1})
	for _, n := range []int{0, -1, MaxSplit + 1} {
		if _, err := m.Ensure(context.Background(), n); err == nil {
			t.Errorf("Ensure(%d) succeeded, want error", n)
		}
	}
}
