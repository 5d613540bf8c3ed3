package storage

import (
	"testing"

	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/value"
	"github.com/stratadb/strata/pkg/wal"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	store := NewShardedStore(4)
	w, err := wal.NewWriter(wal.Options{Ephemeral: true})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return NewCoordinator(store, w)
}

func TestTransaction_PutThenCommitIsVisible(t *testing.T) {
	c := newTestCoordinator(t)

	txn := c.BeginTxn()
	txn.Put([]byte("a"), value.Int(1))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	read := c.BeginTxn()
	got, ok := read.Get([]byte("a"))
	if !ok {
		t.Fatal("expected committed write to be visible")
	}
	if n, _ := got.AsInt(); n != 1 {
		t.Errorf("Get = %d, want 1", n)
	}
}

func TestTransaction_WriteWriteConflictAborts(t *testing.T) {
	c := newTestCoordinator(t)

	setup := c.BeginTxn()
	setup.Put([]byte("a"), value.Int(1))
	setup.Commit()

	t1 := c.BeginTxn()
	t1.Get([]byte("a")) // records read set at version 1

	t2 := c.BeginTxn()
	t2.Put([]byte("a"), value.Int(2))
	if err := t2.Commit(); err != nil {
		t.Fatalf("t2 Commit: %v", err)
	}

	t1.Put([]byte("a"), value.Int(3))
	err := t1.Commit()
	if err == nil {
		t.Fatal("expected a conflict: t1's read set is stale after t2 committed")
	}
	if _, ok := err.(*errors.Conflict); !ok {
		t.Errorf("expected *errors.Conflict, got %T", err)
	}
	if t1.Status() != TxnAborted {
		t.Errorf("expected TxnAborted, got %v", t1.Status())
	}
}

func TestTransaction_ReadYourOwnWrites(t *testing.T) {
	c := newTestCoordinator(t)
	txn := c.BeginTxn()
	txn.Put([]byte("a"), value.Int(9))

	got, ok := txn.Get([]byte("a"))
	if !ok {
		t.Fatal("expected to read back an uncommitted write")
	}
	if n, _ := got.AsInt(); n != 9 {
		t.Errorf("Get = %d, want 9", n)
	}
}

func TestTransaction_CompareAndSwapSucceedsWhenExpectedMatches(t *testing.T) {
	c := newTestCoordinator(t)

	setup := c.BeginTxn()
	setup.Put([]byte("a"), value.Int(1))
	setup.Commit()

	read := c.BeginTxn()
	_, _ = read.Get([]byte("a"))

	txn := c.BeginTxn()
	head := txn.coordinator.store.HeadVersion([]byte("a"))
	txn.CompareAndSwap([]byte("a"), head, value.Int(2))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestTransaction_CompareAndSwapFailsWhenExpectedStale(t *testing.T) {
	c := newTestCoordinator(t)

	setup := c.BeginTxn()
	setup.Put([]byte("a"), value.Int(1))
	setup.Commit()

	txn := c.BeginTxn()
	txn.CompareAndSwap([]byte("a"), 0, value.Int(2)) // 0 = ABSENT, but key exists
	err := txn.Commit()
	if err == nil {
		t.Fatal("expected CAS conflict")
	}
	if _, ok := err.(*errors.Conflict); !ok {
		t.Errorf("expected *errors.Conflict, got %T", err)
	}
}

func TestTransaction_CompareAndSwapAgainstAbsentKeyWithZeroSentinel(t *testing.T) {
	c := newTestCoordinator(t)

	txn := c.BeginTxn()
	txn.CompareAndSwap([]byte("new"), 0, value.String("first"))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestTransaction_RollbackDiscardsWrites(t *testing.T) {
	c := newTestCoordinator(t)

	txn := c.BeginTxn()
	txn.Put([]byte("a"), value.Int(1))
	txn.Rollback()

	read := c.BeginTxn()
	if _, ok := read.Get([]byte("a")); ok {
		t.Error("expected rolled-back write to never become visible")
	}
}

func TestTransaction_ReadOnlyCommitNeverConflicts(t *testing.T) {
	c := newTestCoordinator(t)
	txn := c.BeginTxn()
	txn.Get([]byte("nonexistent"))
	if err := txn.Commit(); err != nil {
		t.Errorf("expected read-only commit to always succeed, got %v", err)
	}
}
