// Package postgres archives the worker's fee history and mint submissions in
// PostgreSQL so that profitability can be audited across runs.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DefaultConfig returns the pool settings used by the worker
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		MaxLifetime:  30 * time.Minute,
	}
}

// NewClient creates a new PostgreSQL client and makes sure the schema exists
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}

// Schema creates the archive tables
const Schema = `
CREATE TABLE IF NOT EXISTS fee_records (
	id          BIGSERIAL PRIMARY KEY,
	wallet      TEXT        NOT NULL,
	kind        TEXT        NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	balance     BIGINT      NOT NULL,
	fee         BIGINT      NOT NULL,
	income      BIGINT      NOT NULL
);
CREATE INDEX IF NOT EXISTS fee_records_wallet_time ON fee_records (wallet, recorded_at);

CREATE TABLE IF NOT EXISTS mint_submissions (
	id          BIGSERIAL PRIMARY KEY,
	wallet      TEXT        NOT NULL,
	seed        TEXT        NOT NULL,
	difficulty  INTEGER     NOT NULL,
	tx_hash     TEXT,
	status      TEXT        NOT NULL,
	fails       INTEGER     NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS mint_submissions_wallet_status ON mint_submissions (wallet, status);
`
