// Package database provides the worker's persistence: the key-value Store
// holding the submission queue, and the optional PostgreSQL archive and
// InfluxDB metrics that observe a run.
package database

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bardlex/gomint/internal/database/influx"
	"github.com/bardlex/gomint/internal/database/leveldb"
	"github.com/bardlex/gomint/internal/database/postgres"
	"github.com/bardlex/gomint/internal/database/redis"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/pkg/circuit"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
	"github.com/bardlex/gomint/pkg/retry"
)

// Store backends
const (
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
)

const (
	archiveBacklog = 256
	archiveTimeout = 10 * time.Second
)

// Manager owns the Store and every optional sink of one run
type Manager struct {
	Store Store

	Postgres    *postgres.Client
	Fees        *postgres.FeeRepository
	Submissions *postgres.SubmissionRepository
	Influx      *influx.Client
	redis       *redis.Client

	wallet string
	logger *log.Logger

	// Archive writes run in the background so sinks never block minting
	archive chan func(ctx context.Context) error

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all database systems
type Config struct {
	Wallet  string
	Backend string
	DataDir string
	Redis   *redis.Config
	// Postgres and Influx are disabled when nil
	Postgres *postgres.Config
	Influx   *influx.Config
}

// NewManager opens the store and every configured sink
func NewManager(cfg *Config, logger *log.Logger) (*Manager, error) {
	m := &Manager{
		wallet:  cfg.Wallet,
		logger:  logger.WithComponent("database"),
		archive: make(chan func(ctx context.Context) error, archiveBacklog),
		circuitBreaker: circuit.New(&circuit.Config{
			Name:            "archive",
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retryConfig: retry.StorageConfig(),
	}

	switch cfg.Backend {
	case BackendLevelDB:
		dir := filepath.Join(cfg.DataDir, "store")
		s, err := leveldb.Open(dir)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "leveldb_open",
				"failed to open the local store").WithContext("dir", dir)
		}
		m.Store = levelStore{s}
	case BackendRedis:
		c, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "redis_connection",
				"failed to connect to Redis")
		}
		m.redis = c
		m.Store = redisStore{c}
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "open_store", fmt.Sprintf("unknown store backend %q", cfg.Backend))
	}

	if cfg.Postgres != nil {
		pg, err := postgres.NewClient(cfg.Postgres)
		if err != nil {
			m.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "postgres_connection",
				"failed to connect to PostgreSQL")
		}
		m.Postgres = pg
		m.Fees = postgres.NewFeeRepository(pg.DB())
		m.Submissions = postgres.NewSubmissionRepository(pg.DB())
	}

	if cfg.Influx != nil {
		ic, err := influx.NewClient(cfg.Influx)
		if err != nil {
			m.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "influx_connection",
				"failed to connect to InfluxDB")
		}
		m.Influx = ic
	}

	return m, nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if m.Store != nil {
		if err := m.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close error: %w", err))
		}
	}
	if m.Postgres != nil {
		if err := m.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
		}
	}
	if m.Influx != nil {
		m.Influx.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}
	return nil
}

// Health checks the health of the networked backends
func (m *Manager) Health(ctx context.Context) error {
	if m.redis != nil {
		if err := m.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}
	if m.Postgres != nil {
		if err := m.Postgres.Health(ctx); err != nil {
			return fmt.Errorf("PostgreSQL health check failed: %w", err)
		}
	}
	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}
	return nil
}

// enqueue schedules an archive write, dropping it when the backlog is full
func (m *Manager) enqueue(op string, fn func(ctx context.Context) error) {
	select {
	case m.archive <- fn:
	default:
		m.logger.Warn("archive backlog full, dropping write", "operation", op)
	}
}

// RecordFee implements ledger.Sink
func (m *Manager) RecordFee(rec ledger.Record) {
	if m.Influx != nil {
		m.Influx.WriteFeeMetric(rec.Kind.String(), uint64(rec.Fee), uint64(rec.Income), uint64(rec.Balance), rec.Time)
	}
	if m.Fees == nil {
		return
	}
	row := &postgres.FeeRecord{
		Wallet:     m.wallet,
		Kind:       rec.Kind.String(),
		RecordedAt: rec.Time,
		Balance:    int64(rec.Balance),
		Fee:        int64(rec.Fee),
		Income:     int64(rec.Income),
	}
	m.enqueue("record_fee", func(ctx context.Context) error {
		return m.Fees.CreateFee(ctx, row)
	})
}

// RecordSubmission records the outcome of one proof submission
func (m *Manager) RecordSubmission(seed string, difficulty uint, fails int, outcome string, txHash string) {
	if m.Influx != nil {
		m.Influx.WriteSubmissionMetric(outcome, difficulty, fails)
	}
	if m.Submissions == nil || outcome == "retrying" {
		return
	}
	row := &postgres.MintSubmission{
		Wallet:     m.wallet,
		Seed:       seed,
		Difficulty: int(difficulty),
		Status:     outcome,
		Fails:      fails,
		CreatedAt:  time.Now(),
	}
	if txHash != "" {
		row.TxHash = &txHash
	}
	m.enqueue("record_submission", func(ctx context.Context) error {
		return m.Submissions.CreateSubmission(ctx, row)
	})
}

// RecordSpeed records one progress sample
func (m *Manager) RecordSpeed(speed, progress, dailyERG, dailyMEL float64) {
	if m.Influx != nil {
		m.Influx.WriteSpeedMetric(speed, progress, dailyERG, dailyMEL)
	}
}

// RecordBatch records one finished proof batch
func (m *Manager) RecordBatch(difficulty uint, threads int, d time.Duration) {
	if m.Influx != nil {
		m.Influx.WriteBatchMetric(difficulty, threads, d)
	}
}

// PublishStatus caches the worker status where other tools can read it.
// Only the Redis backend has a place for it.
func (m *Manager) PublishStatus(ctx context.Context, status any) error {
	if m.redis == nil {
		return nil
	}
	return m.redis.SetStatus(ctx, m.wallet, status, 10*time.Minute)
}

// Run performs archive writes and periodic flushes until ctx is done
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.drainArchive()
			return
		case fn := <-m.archive:
			m.write(ctx, fn)
		case <-ticker.C:
			if m.Influx != nil {
				m.Influx.Flush()
			}
		}
	}
}

// write performs one archive write. Writes already accepted finish even
// while the run shuts down.
func (m *Manager) write(parent context.Context, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), archiveTimeout)
	defer cancel()
	err := m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			return fn(ctx)
		})
	})
	if err != nil {
		m.logger.WithError(err).Warn("archive write failed")
	}
}

// drainArchive performs what is left after shutdown
func (m *Manager) drainArchive() {
	ctx := context.Background()
	for {
		select {
		case fn := <-m.archive:
			m.write(ctx, fn)
		default:
			return
		}
	}
}

// Store adapters

type levelStore struct{ *leveldb.Store }

func (s levelStore) Table(name string) Table { return s.Store.Table(name) }

type redisStore struct{ *redis.Client }

func (s redisStore) Table(name string) Table { return s.Client.Table(name) }

var _ ledger.Sink = (*Manager)(nil)
