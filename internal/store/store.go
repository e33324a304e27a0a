// store.go - Named-record persistence on LevelDB.
//
// Every durable piece of pool state is an independently addressable
// named record: the pool ledger, the accumulator state, one record per
// registered nullifier, one per verification key entry. Values are
// CBOR. An empty path opens an in-memory database, which tests use.
//
// Thread-safe: LevelDB handles its own synchronization.

package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Record name prefixes.
const (
	KeyPool            = "pool"
	KeyTree            = "tree"
	PrefixNullifier    = "nullifier/"
	PrefixVerification = "vk/"
)

// Store wraps LevelDB for named-record persistence.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates a database at path. An empty path uses
// in-memory storage.
func Open(path string) (*Store, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenMemory creates an in-memory store for testing.
func OpenMemory() (*Store, error) {
	return Open("")
}

// Record pairs a name with a value for batched writes.
type Record struct {
	Name  string
	Value any
}

// PutRecords writes all records in one atomic LevelDB batch: either
// every record lands or none does.
func (s *Store) PutRecords(records ...Record) error {
	batch := new(leveldb.Batch)
	for _, r := range records {
		data, err := cbor.Marshal(r.Value)
		if err != nil {
			return fmt.Errorf("store: encode %q: %w", r.Name, err)
		}
		batch.Put([]byte(r.Name), data)
	}
	return s.db.Write(batch, nil)
}

// PutRecord CBOR-encodes v under name.
func (s *Store) PutRecord(name string, v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", name, err)
	}
	return s.db.Put([]byte(name), data, nil)
}

// GetRecord decodes the record under name into v. Returns
// (false, nil) if the record does not exist.
func (s *Store) GetRecord(name string, v any) (bool, error) {
	data, err := s.db.Get([]byte(name), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: get %q: %w", name, err)
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: decode %q: %w", name, err)
	}
	return true, nil
}

// EachRecord iterates all records under a prefix in key order, decoding
// each into a fresh T before handing it to fn.
func EachRecord[T any](s *Store, prefix string, fn func(name string, v T) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var v T
		if err := cbor.Unmarshal(iter.Value(), &v); err != nil {
			return fmt.Errorf("store: decode %q: %w", iter.Key(), err)
		}
		if err := fn(string(iter.Key()), v); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("store: iterate %q: %w", prefix, err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
