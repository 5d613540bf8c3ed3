// Package state implements the state cell primitive (spec §4.9): named
// single-slot entities with a monotonic counter. The counter is the
// substrate's own MVCC version for the cell's key -- version numbers are
// already strictly increasing and never assigned twice, which is exactly
// spec §4.9's "must never go backwards, must advance by at least one on
// every successful write" invariant, so no separate counter needs
// maintaining.
package state

import (
	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/storage"
	"github.com/stratadb/strata/pkg/value"
)

// Store implements the state cell primitive over one Database.
type Store struct {
	db *storage.Database
}

// New wraps db as a state cell store.
func New(db *storage.Database) *Store {
	return &Store{db: db}
}

func validateCell(cell string) error {
	if cell == "" {
		return &errors.InvalidKey{Key: cell, Reason: "cell name must not be empty"}
	}
	return nil
}

func (s *Store) encode(run key.RunID, cell string) []byte {
	return key.State(run, cell).Encode()
}

// Set replaces cell's value unconditionally and returns the new counter.
func (s *Store) Set(run key.RunID, cell string, v value.Value) (uint64, error) {
	if err := validateCell(cell); err != nil {
		return 0, err
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return 0, err
	}
	encoded := s.encode(run, cell)
	txn := s.db.Coordinator.BeginTxn()
	txn.Put(encoded, v)
	if err := txn.Commit(); err != nil {
		return 0, err
	}
	return s.db.Store.HeadVersion(encoded), nil
}

// Get returns cell's current value and counter, or ok=false if it has never
// been set.
func (s *Store) Get(run key.RunID, cell string) (value.Value, uint64, bool, error) {
	if err := validateCell(cell); err != nil {
		return value.Value{}, 0, false, err
	}
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()

	encoded := s.encode(run, cell)
	v, ok := txn.Get(encoded)
	if !ok {
		return value.Value{}, 0, false, nil
	}
	return v, txn.ObservedVersion(encoded), true, nil
}

// Cas atomically sets cell to v iff its current counter equals expected
// (nil meaning "must not exist"). Returns the new counter and ok=true on
// success; ok=false (no error) if the expectation did not hold, matching
// the original state_cas's Option<new_counter> return instead of an error.
func (s *Store) Cas(run key.RunID, cell string, expected *uint64, v value.Value) (uint64, bool, error) {
	if err := validateCell(cell); err != nil {
		return 0, false, err
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return 0, false, err
	}
	var expectedVersion uint64
	if expected != nil {
		expectedVersion = *expected
	}

	encoded := s.encode(run, cell)
	txn := s.db.Coordinator.BeginTxn()
	txn.CompareAndSwap(encoded, expectedVersion, v)
	if err := txn.Commit(); err != nil {
		if _, isConflict := err.(*errors.Conflict); isConflict {
			return 0, false, nil
		}
		return 0, false, err
	}
	return s.db.Store.HeadVersion(encoded), true, nil
}
