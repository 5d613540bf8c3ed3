package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/stratadb/strata/pkg/metrics"
	"github.com/stratadb/strata/pkg/wal"
)

// Coordinator serializes commits across the whole store: a single mutex
// orders validate -> WAL append -> apply for every transaction, giving
// first-committer-wins semantics without per-key locking. Snapshot reads
// never touch commitMu at all.
type Coordinator struct {
	store    *ShardedStore
	wal      *wal.Writer
	registry *transactionRegistry

	commitMu  sync.Mutex
	nextTxnID uint64 // atomic, allocated lazily
}

// NewCoordinator wires a store to its WAL writer. Both must already be
// initialized (recovery replayed, version counters primed) before use.
func NewCoordinator(store *ShardedStore, w *wal.Writer) *Coordinator {
	return &Coordinator{store: store, wal: w, registry: newTransactionRegistry()}
}

// BeginTxn returns a new read-write transaction snapshotted at the store's
// current version. The transaction is registered as active until it
// commits or rolls back, so retention never trims a version its snapshot
// still needs.
func (c *Coordinator) BeginTxn() *Transaction {
	t := &Transaction{
		coordinator: c,
		snapshot:    newSnapshot(c.store, c.store.CurrentVersion()),
		readSet:     make(map[string]uint64),
		writeSet:    make(map[string]pendingOp),
		casSet:      make(map[string]uint64),
		status:      TxnActive,
	}
	c.registry.register(t)
	return t
}

// MinActiveSnapshot returns the oldest snapshot version any open
// transaction still holds, or the store's current version if none are
// open. Retention sweeps must never trim a version above this.
func (c *Coordinator) MinActiveSnapshot() uint64 {
	return c.registry.minActiveVersion(c.store.CurrentVersion())
}

// allocateTxnID lazily hands out an id the first time a transaction
// actually needs one (a write or a CAS), rather than on every BeginTxn --
// read-only transactions never touch the WAL and never need an id.
func (c *Coordinator) allocateTxnID() uint64 {
	return atomic.AddUint64(&c.nextTxnID, 1)
}

// commit validates t's read and CAS sets against the live store, then
// appends its WAL records and applies its writes, all under commitMu. The
// validation order is CAS set first (CAS failures are a distinct, named
// error condition) then the remainder of the read set.
func (c *Coordinator) commit(t *Transaction) error {
	defer c.registry.unregister(t)

	if len(t.writeSet) == 0 && len(t.casSet) == 0 {
		// A read-only transaction never needs to serialize on commitMu;
		// nothing it observed can be invalidated by skipping validation.
		t.status = TxnCommitted
		return nil
	}

	c.commitMu.Lock()

	for key, expected := range t.casSet {
		if err := c.store.CheckKeyConflict(key, expected); err != nil {
			c.commitMu.Unlock()
			t.status = TxnAborted
			metrics.ConflictsTotal.WithLabelValues("cas").Inc()
			return err
		}
	}
	for key, observed := range t.readSet {
		if _, isCAS := t.casSet[key]; isCAS {
			continue
		}
		if err := c.store.CheckKeyConflict(key, observed); err != nil {
			c.commitMu.Unlock()
			t.status = TxnAborted
			metrics.ConflictsTotal.WithLabelValues("read").Inc()
			return err
		}
	}

	if t.txnID == 0 {
		t.txnID = c.allocateTxnID()
	}
	nowMicros := time.Now().UnixMicro()

	if _, err := c.wal.Append(wal.Record{Kind: wal.KindBeginTxn, TxnID: t.txnID, TimestampMicros: nowMicros}); err != nil {
		t.status = TxnAborted
		c.commitMu.Unlock()
		return err
	}

	version := c.store.NextVersion()
	for key, op := range t.writeSet {
		var err error
		if op.isDelete {
			_, err = c.wal.Append(wal.Record{Kind: wal.KindDelete, TxnID: t.txnID, Key: []byte(key), Version: version, TimestampMicros: nowMicros})
		} else {
			_, err = c.wal.Append(wal.Record{Kind: wal.KindWrite, TxnID: t.txnID, Key: []byte(key), Value: op.value, Version: version, TimestampMicros: nowMicros})
		}
		if err != nil {
			t.status = TxnAborted
			c.commitMu.Unlock()
			return err
		}
	}
	if _, err := c.wal.Append(wal.Record{Kind: wal.KindCommitTxn, TxnID: t.txnID, TimestampMicros: nowMicros}); err != nil {
		t.status = TxnAborted
		c.commitMu.Unlock()
		return err
	}

	for key, op := range t.writeSet {
		if op.isDelete {
			c.store.DeleteWithVersion([]byte(key), version, nowMicros)
		} else {
			c.store.PutWithVersion([]byte(key), op.value, version, nowMicros)
		}
	}

	t.status = TxnCommitted
	c.commitMu.Unlock()
	metrics.CommitsTotal.Inc()

	// Rotation is deliberately outside commitMu: it only switches which
	// file new Appends land in, and must never serialize behind it.
	c.wal.MaybeRotate()

	return nil
}
