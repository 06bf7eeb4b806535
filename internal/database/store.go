package database

import "context"

// Table is a byte-keyed mapping. Tables of one Store are disjoint.
type Table interface {
	// Get returns the value stored under key, or found=false.
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	// Keys lists every key of the table in ascending byte order.
	Keys(ctx context.Context) ([][]byte, error)
	// Flush makes every completed write durable.
	Flush(ctx context.Context) error
}

// Store is a persistent key-value engine holding named tables.
type Store interface {
	Table(name string) Table
	Close() error
}
