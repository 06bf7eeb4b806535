// Package redis is the networked Store backend. Every table is one Redis
// hash, which lets several workers share a server under distinct prefixes.
package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection used as a key-value store
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	Prefix       string
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the settings used by the worker
func DefaultConfig(url, prefix string) *Config {
	return &Config{
		URL:          url,
		Prefix:       prefix,
		PoolSize:     4,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb, prefix: cfg.Prefix}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Table returns the named table
func (c *Client) Table(name string) *Table {
	return &Table{rdb: c.rdb, key: hashKey(c.prefix, name)}
}

func hashKey(prefix, table string) string {
	if prefix == "" {
		return "table:" + table
	}
	return prefix + ":table:" + table
}

// Table is one Redis hash
type Table struct {
	rdb *redis.Client
	key string
}

// Get implements database.Table
func (t *Table) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	value, err := t.rdb.HGet(ctx, t.key, string(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s field: %w", t.key, err)
	}
	return value, true, nil
}

// Set implements database.Table
func (t *Table) Set(ctx context.Context, key, value []byte) error {
	if err := t.rdb.HSet(ctx, t.key, string(key), value).Err(); err != nil {
		return fmt.Errorf("failed to set %s field: %w", t.key, err)
	}
	return nil
}

// Delete implements database.Table
func (t *Table) Delete(ctx context.Context, key []byte) error {
	if err := t.rdb.HDel(ctx, t.key, string(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s field: %w", t.key, err)
	}
	return nil
}

// Keys implements database.Table
func (t *Table) Keys(ctx context.Context) ([][]byte, error) {
	fields, err := t.rdb.HKeys(ctx, t.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s fields: %w", t.key, err)
	}
	keys := make([][]byte, len(fields))
	for i, f := range fields {
		keys[i] = []byte(f)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys, nil
}

// Flush implements database.Table. Redis applies a write before it
// acknowledges it; durability beyond that is the server's persistence policy.
func (t *Table) Flush(context.Context) error {
	return nil
}

// Status caching

// SetStatus stores the worker status with expiration
func (c *Client) SetStatus(ctx context.Context, wallet string, data any, expiration time.Duration) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := c.rdb.Set(ctx, c.statusKey(wallet), jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

// GetStatus retrieves the worker status
func (c *Client) GetStatus(ctx context.Context, wallet string, dest any) error {
	jsonData, err := c.rdb.Get(ctx, c.statusKey(wallet)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("status not found")
		}
		return fmt.Errorf("failed to get status: %w", err)
	}

	if err := json.Unmarshal(jsonData, dest); err != nil {
		return fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return nil
}

func (c *Client) statusKey(wallet string) string {
	if c.prefix == "" {
		return "status:" + wallet
	}
	return c.prefix + ":status:" + wallet
}
