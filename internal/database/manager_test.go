package database

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

func newLocalManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(&Config{
		Wallet:  "__melminter_Testnet",
		Backend: BackendLevelDB,
		DataDir: t.TempDir(),
	}, log.Discard())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	m := newLocalManager(t)

	table := m.Store.Table("try_send_proofs")
	if err := table.Set(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, found, err := table.Get(ctx, []byte("k"))
	if err != nil || !found || string(value) != "v" {
		t.Errorf("Get() = %q, %v, %v", value, found, err)
	}
	if err := m.Health(ctx); err != nil {
		t.Errorf("Health() error = %v", err)
	}
	if err := m.PublishStatus(ctx, map[string]int{"threads": 4}); err != nil {
		t.Errorf("PublishStatus() without redis error = %v", err)
	}
}

func TestUnknownBackend(t *testing.T) {
	_, err := NewManager(&Config{Backend: "bolt"}, log.Discard())
	if !errors.IsType(err, errors.ErrorTypeConfig) {
		t.Errorf("NewManager() error = %v, want a config error", err)
	}
}

func TestSinksWithoutBackends(t *testing.T) {
	m := newLocalManager(t)

	m.RecordFee(ledger.Record{Kind: ledger.Mint, Time: time.Now(), Fee: 10, Income: 20, Balance: chain.MicroUnit})
	m.RecordSubmission("seed", 20, 0, "sent", "abcd")
	m.RecordSpeed(1000, 0.5, 1, 1)
	m.RecordBatch(20, 4, time.Minute)

	if n := len(m.archive); n != 0 {
		t.Errorf("archive holds %d writes without PostgreSQL, want 0", n)
	}
}

func TestRunWritesArchive(t *testing.T) {
	m := newLocalManager(t)
	m.retryConfig.MaxAttempts = 1

	var writes atomic.Int32
	for range 3 {
		m.enqueue("test", func(context.Context) error {
			writes.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
	if got := writes.Load(); got != 3 {
		t.Errorf("Run() performed %d writes, want 3", got)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	m := newLocalManager(t)
	for range archiveBacklog + 5 {
		m.enqueue("test", func(context.Context) error { return nil })
	}
	if n := len(m.archive); n != archiveBacklog {
		t.Errorf("archive holds %d writes, want %d", n, archiveBacklog)
	}
}
