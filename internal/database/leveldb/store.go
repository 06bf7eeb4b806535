// Package leveldb is the embedded on-disk Store backend.
package leveldb

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"
)

const currentVersion = 1

var versionKey = []byte{0x00, 'v', 'e', 'r', 's', 'i', 'o', 'n'}

// tableSeparator ends every table prefix; table names cannot contain it.
const tableSeparator = 0x00

// Store keeps every table in one LevelDB database, each table under its own
// key prefix.
type Store struct {
	db    *leveldb.DB
	write *ldb_opt.WriteOptions
}

// Open opens or creates the database in dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, &ldb_opt.Options{
		ErrorIfExist:   false,
		ErrorIfMissing: false,
	})
	if err != nil {
		return nil, err
	}
	return setup(db)
}

// OpenMemory opens a database that lives in memory only.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return setup(db)
}

func setup(db *leveldb.DB) (*Store, error) {
	value, err := db.Get(versionKey, nil)
	switch {
	case err == leveldb.ErrNotFound:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, currentVersion)
		if err := db.Put(versionKey, buf, &ldb_opt.WriteOptions{Sync: true}); err != nil {
			db.Close()
			return nil, err
		}
	case err != nil:
		db.Close()
		return nil, err
	case len(value) != 4:
		db.Close()
		return nil, fmt.Errorf("incompatible database version length: expected: %d  actual: %d", 4, len(value))
	case binary.BigEndian.Uint32(value) != currentVersion:
		db.Close()
		return nil, fmt.Errorf("incompatible database version: expected: %d  actual: %d", currentVersion, binary.BigEndian.Uint32(value))
	}
	return &Store{db: db, write: &ldb_opt.WriteOptions{Sync: true}}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Table returns the named table. Names must be non-empty and must not
// contain a NUL byte.
func (s *Store) Table(name string) *Table {
	for i := 0; i < len(name); i++ {
		if name[i] == tableSeparator {
			panic(fmt.Sprintf("leveldb: invalid table name %q", name))
		}
	}
	if name == "" {
		panic("leveldb: empty table name")
	}
	prefix := append([]byte(name), tableSeparator)
	return &Table{store: s, prefix: prefix}
}

// Table is one key prefix of a Store.
type Table struct {
	store  *Store
	prefix []byte
}

func (t *Table) key(k []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(k))
	return append(append(out, t.prefix...), k...)
}

// Get implements database.Table.
func (t *Table) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	value, err := t.store.db.Get(t.key(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set implements database.Table. Writes are synced before returning.
func (t *Table) Set(_ context.Context, key, value []byte) error {
	return t.store.db.Put(t.key(key), value, t.store.write)
}

// Delete implements database.Table.
func (t *Table) Delete(_ context.Context, key []byte) error {
	return t.store.db.Delete(t.key(key), t.store.write)
}

// Keys implements database.Table.
func (t *Table) Keys(_ context.Context) ([][]byte, error) {
	iter := t.store.db.NewIterator(ldb_util.BytesPrefix(t.prefix), nil)
	defer iter.Release()

	var keys [][]byte
	for iter.Next() {
		k := iter.Key()[len(t.prefix):]
		keys = append(keys, append([]byte(nil), k...))
	}
	return keys, iter.Error()
}

// Flush implements database.Table. Every write is already synced, so there
// is nothing left to do.
func (t *Table) Flush(context.Context) error {
	return nil
}
