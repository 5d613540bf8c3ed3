// Package kv implements the key-value primitive (spec §4.6): a thin
// transaction-scripting layer over pkg/storage's MVCC substrate.
package kv

import (
	"math"

	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/storage"
	"github.com/stratadb/strata/pkg/value"
)

// Store implements the KV primitive over one Database.
type Store struct {
	db *storage.Database
}

// New wraps db as a KV store.
func New(db *storage.Database) *Store {
	return &Store{db: db}
}

func validateUserKey(k string) error {
	if k == "" {
		return &errors.InvalidKey{Key: k, Reason: "key must not be empty"}
	}
	return nil
}

func (s *Store) encode(run key.RunID, k string) []byte {
	return key.KV(run, k).Encode()
}

// Put writes key=value as a single-operation transaction.
func (s *Store) Put(run key.RunID, k string, v value.Value) error {
	if err := validateUserKey(k); err != nil {
		return err
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return err
	}
	txn := s.db.Coordinator.BeginTxn()
	txn.Put(s.encode(run, k), v)
	return txn.Commit()
}

// Get returns the live value for key, or NotFound.
func (s *Store) Get(run key.RunID, k string) (value.Value, error) {
	if err := validateUserKey(k); err != nil {
		return value.Value{}, err
	}
	txn := s.db.Coordinator.BeginTxn()
	v, ok := txn.Get(s.encode(run, k))
	txn.Rollback()
	if !ok {
		return value.Value{}, &errors.NotFound{Key: k}
	}
	return v, nil
}

// Delete removes key as a single-operation transaction.
func (s *Store) Delete(run key.RunID, k string) error {
	if err := validateUserKey(k); err != nil {
		return err
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return err
	}
	txn := s.db.Coordinator.BeginTxn()
	txn.Delete(s.encode(run, k))
	return txn.Commit()
}

// Incr performs a read-modify-write transaction with an implicit CAS on
// the observed version: delta is added to the current int value (0 if
// absent), and the write is rejected if any other transaction committed
// to the key in between.
func (s *Store) Incr(run key.RunID, k string, delta int64) (int64, error) {
	if err := validateUserKey(k); err != nil {
		return 0, err
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return 0, err
	}
	encoded := s.encode(run, k)

	txn := s.db.Coordinator.BeginTxn()
	var current int64
	v, ok := txn.Get(encoded)
	if ok {
		n, isInt := v.AsInt()
		if !isInt {
			txn.Rollback()
			return 0, &errors.WrongType{Expected: "Int", Actual: v.TypeName()}
		}
		current = n
	}

	next, overflowed := addOverflows(current, delta)
	if overflowed {
		txn.Rollback()
		return 0, &errors.Overflow{Key: k}
	}

	txn.CompareAndSwap(encoded, txn.ObservedVersion(encoded), value.Int(next))
	if err := txn.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func addOverflows(a, b int64) (int64, bool) {
	sum := a + b
	if b > 0 && sum < a {
		return 0, true
	}
	if b < 0 && sum > a {
		return 0, true
	}
	if a == math.MinInt64 && b == math.MinInt64 {
		return 0, true
	}
	return sum, false
}

// CasVersion writes value iff key's current head version equals expected
// (0 meaning ABSENT, "must not exist").
func (s *Store) CasVersion(run key.RunID, k string, expected uint64, v value.Value) error {
	if err := validateUserKey(k); err != nil {
		return err
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return err
	}
	txn := s.db.Coordinator.BeginTxn()
	txn.CompareAndSwap(s.encode(run, k), expected, v)
	return txn.Commit()
}

// MGet reads several keys in one snapshot, returning a parallel slice
// where a missing key's slot is value.Null() with ok=false.
func (s *Store) MGet(run key.RunID, keys []string) ([]value.Value, []bool, error) {
	for _, k := range keys {
		if err := validateUserKey(k); err != nil {
			return nil, nil, err
		}
	}
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()

	vals := make([]value.Value, len(keys))
	oks := make([]bool, len(keys))
	for i, k := range keys {
		v, ok := txn.Get(s.encode(run, k))
		vals[i] = v
		oks[i] = ok
	}
	return vals, oks, nil
}

// MPut writes several key/value pairs in one transaction.
func (s *Store) MPut(run key.RunID, entries map[string]value.Value) error {
	for k := range entries {
		if err := validateUserKey(k); err != nil {
			return err
		}
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return err
	}
	txn := s.db.Coordinator.BeginTxn()
	for k, v := range entries {
		txn.Put(s.encode(run, k), v)
	}
	return txn.Commit()
}

// MDelete removes several keys in one transaction.
func (s *Store) MDelete(run key.RunID, keys []string) error {
	for _, k := range keys {
		if err := validateUserKey(k); err != nil {
			return err
		}
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return err
	}
	txn := s.db.Coordinator.BeginTxn()
	for _, k := range keys {
		txn.Delete(s.encode(run, k))
	}
	return txn.Commit()
}
