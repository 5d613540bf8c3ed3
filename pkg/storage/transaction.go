package storage

import "github.com/stratadb/strata/pkg/value"

// TxnStatus is a transaction's lifecycle state.
type TxnStatus uint8

const (
	TxnActive TxnStatus = iota
	TxnCommitted
	TxnAborted
)

func (s TxnStatus) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type pendingOp struct {
	value    value.Value
	isDelete bool
}

// Transaction is a single MVCC read-write transaction: a fixed snapshot to
// read through, plus the read/write/CAS sets the coordinator validates at
// commit time under first-committer-wins rules.
type Transaction struct {
	coordinator *Coordinator
	snapshot    Snapshot

	readSet  map[string]uint64
	writeSet map[string]pendingOp
	casSet   map[string]uint64

	status TxnStatus
	txnID  uint64
}

// Snapshot returns the transaction's fixed read view.
func (t *Transaction) Snapshot() Snapshot {
	return t.snapshot
}

// ObservedVersion returns the version this transaction would validate key
// against at commit time: the version recorded by an earlier Get, or the
// snapshot's version for key if it has not been read yet (0 if absent
// either way). Callers building a read-modify-write CAS off an already-Get
// key should use this instead of re-querying the live store, so the CAS
// expectation matches exactly what this transaction saw.
func (t *Transaction) ObservedVersion(key []byte) uint64 {
	k := string(key)
	if v, ok := t.readSet[k]; ok {
		return v
	}
	return t.snapshot.ObservedVersion(key)
}

// Get reads key, consulting this transaction's own uncommitted writes
// first, then the snapshot. A snapshot read is recorded into the read set
// so the coordinator can detect a conflicting write at commit time.
func (t *Transaction) Get(key []byte) (value.Value, bool) {
	k := string(key)
	if op, ok := t.writeSet[k]; ok {
		if op.isDelete {
			return value.Value{}, false
		}
		return op.value, true
	}
	v, _, ok := t.snapshot.Get(key)
	if _, tracked := t.readSet[k]; !tracked {
		t.readSet[k] = t.snapshot.ObservedVersion(key)
	}
	return v, ok
}

// Put buffers a write; it is not visible to other transactions until
// Commit succeeds.
func (t *Transaction) Put(key []byte, v value.Value) {
	t.writeSet[string(key)] = pendingOp{value: v}
}

// Delete buffers a tombstone write.
func (t *Transaction) Delete(key []byte) {
	t.writeSet[string(key)] = pendingOp{isDelete: true}
}

// CompareAndSwap records an expectation that key's head version equals
// expectedVersion (0 meaning "must not exist") at commit time, in addition
// to buffering the write itself.
func (t *Transaction) CompareAndSwap(key []byte, expectedVersion uint64, v value.Value) {
	k := string(key)
	t.casSet[k] = expectedVersion
	t.writeSet[k] = pendingOp{value: v}
}

// CompareAndDelete is CompareAndSwap's tombstone equivalent.
func (t *Transaction) CompareAndDelete(key []byte, expectedVersion uint64) {
	k := string(key)
	t.casSet[k] = expectedVersion
	t.writeSet[k] = pendingOp{isDelete: true}
}

// Commit validates and applies the transaction, or returns the conflict
// that aborted it.
func (t *Transaction) Commit() error {
	if t.status != TxnActive {
		return nil
	}
	return t.coordinator.commit(t)
}

// Rollback discards the transaction's buffered writes without touching the
// store; an active transaction is already invisible to everyone else, so
// rollback is just marking it dead.
func (t *Transaction) Rollback() {
	if t.status == TxnActive {
		t.status = TxnAborted
		t.coordinator.registry.unregister(t)
	}
}

// Status returns the transaction's current lifecycle state.
func (t *Transaction) Status() TxnStatus {
	return t.status
}
