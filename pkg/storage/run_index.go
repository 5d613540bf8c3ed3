package storage

import (
	"time"

	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/metrics"
	"github.com/stratadb/strata/pkg/value"
)

// RunState is a run's lifecycle state.
type RunState uint8

const (
	RunActive RunState = iota
	RunPaused
	RunClosed
	RunFailed
	RunCancelled
	RunArchived
)

func (s RunState) String() string {
	switch s {
	case RunActive:
		return "Active"
	case RunPaused:
		return "Paused"
	case RunClosed:
		return "Closed"
	case RunFailed:
		return "Failed"
	case RunCancelled:
		return "Cancelled"
	case RunArchived:
		return "Archived"
	default:
		return "Unknown"
	}
}

// RetentionKind selects a run's version/event retention policy.
type RetentionKind uint8

const (
	RetentionKeepAll RetentionKind = iota
	RetentionKeepLast
	RetentionKeepFor
)

// RetentionPolicy bounds how far back a run's version chains or event
// streams are retained.
type RetentionPolicy struct {
	Kind  RetentionKind
	N     int           // KeepLast
	Since time.Duration // KeepFor
}

// RunInfo is the persisted lifecycle record for one run.
type RunInfo struct {
	ID        key.RunID
	State     RunState
	CreatedAt int64
	ClosedAt  *int64
	Metadata  value.Value
	Retention RetentionPolicy
}

// RunIndex implements run lifecycle transitions, persisting RunInfo under
// RunIndex-tagged keys in the substrate it's given. Writes commit through
// the coordinator exactly like any primitive's write -- WAL-then-apply --
// so run lifecycle state is durable across restart via the ordinary
// recovery path instead of disappearing whenever the process restarts.
// Lookups still read the live store directly at its current version
// rather than through a snapshot: run metadata is single-owner
// administrative state, and every caller expects to observe its own write
// immediately after commit, not through snapshot isolation.
type RunIndex struct {
	store       *ShardedStore
	coordinator *Coordinator
}

// NewRunIndex wires a RunIndex to its backing store and coordinator. The
// default run is seeded as Active on first use if it does not already
// exist.
func NewRunIndex(store *ShardedStore, coordinator *Coordinator) (*RunIndex, error) {
	idx := &RunIndex{store: store, coordinator: coordinator}
	if _, ok := idx.lookup(key.DefaultRunID()); !ok {
		if err := idx.put(RunInfo{ID: key.DefaultRunID(), State: RunActive, CreatedAt: time.Now().UnixMicro(), Retention: RetentionPolicy{Kind: RetentionKeepAll}}); err != nil {
			return nil, err
		}
	}
	metrics.RunsActive.Set(float64(idx.countActive()))
	return idx, nil
}

func (idx *RunIndex) countActive() int {
	n := 0
	for _, info := range idx.ListRuns() {
		if info.State == RunActive {
			n++
		}
	}
	return n
}

func (idx *RunIndex) indexKey(id key.RunID) []byte {
	return key.RunIndexKey(id).Encode()
}

func (idx *RunIndex) lookup(id key.RunID) (RunInfo, bool) {
	v, ok := idx.store.Get(idx.indexKey(id), idx.store.CurrentVersion())
	if !ok {
		return RunInfo{}, false
	}
	return decodeRunInfo(id, v), true
}

// put commits info's encoded record through the coordinator, the same
// WAL-then-apply path every primitive write takes, so it replays on
// recovery like any other committed key.
func (idx *RunIndex) put(info RunInfo) error {
	txn := idx.coordinator.BeginTxn()
	txn.Put(idx.indexKey(info.ID), encodeRunInfo(info))
	return txn.Commit()
}

// CreateRun creates a new Active run. Fails with RunExists if id is already
// in the index.
func (idx *RunIndex) CreateRun(id key.RunID, metadata value.Value, retention RetentionPolicy) error {
	if _, ok := idx.lookup(id); ok {
		return &errors.RunExists{RunID: id.String()}
	}
	if err := idx.put(RunInfo{ID: id, State: RunActive, CreatedAt: time.Now().UnixMicro(), Metadata: metadata, Retention: retention}); err != nil {
		return err
	}
	metrics.RunsActive.Inc()
	return nil
}

// GetRun returns the run's lifecycle record.
func (idx *RunIndex) GetRun(id key.RunID) (RunInfo, error) {
	info, ok := idx.lookup(id)
	if !ok {
		return RunInfo{}, &errors.RunNotFound{RunID: id.String()}
	}
	return info, nil
}

// ListRuns returns every run's lifecycle record.
func (idx *RunIndex) ListRuns() []RunInfo {
	prefix := key.Prefix(key.DefaultRunID(), key.TagRunIndex, "")
	entries := idx.store.ScanPrefix(prefix, idx.store.CurrentVersion())
	out := make([]RunInfo, 0, len(entries))
	for _, e := range entries {
		id := key.RunIDFromBytes(runIDFromIndexKey(e.Key))
		out = append(out, decodeRunInfo(id, e.Entry.Value))
	}
	return out
}

// CloseRun transitions Active or Paused -> Closed. The default run can
// never be closed.
func (idx *RunIndex) CloseRun(id key.RunID) error {
	if id.IsDefault() {
		return &errors.ConstraintViolation{Reason: "the default run cannot be closed"}
	}
	info, err := idx.GetRun(id)
	if err != nil {
		return err
	}
	if info.State != RunActive && info.State != RunPaused {
		return &errors.ConstraintViolation{Reason: "run_close requires Active or Paused, found " + info.State.String()}
	}
	wasActive := info.State == RunActive
	now := time.Now().UnixMicro()
	info.State = RunClosed
	info.ClosedAt = &now
	if err := idx.put(info); err != nil {
		return err
	}
	if wasActive {
		metrics.RunsActive.Dec()
	}
	return nil
}

// PauseRun transitions Active -> Paused.
func (idx *RunIndex) PauseRun(id key.RunID) error {
	info, err := idx.GetRun(id)
	if err != nil {
		return err
	}
	if info.State != RunActive {
		return &errors.ConstraintViolation{Reason: "run_pause requires Active, found " + info.State.String()}
	}
	info.State = RunPaused
	if err := idx.put(info); err != nil {
		return err
	}
	metrics.RunsActive.Dec()
	return nil
}

// ResumeRun transitions Paused -> Active.
func (idx *RunIndex) ResumeRun(id key.RunID) error {
	info, err := idx.GetRun(id)
	if err != nil {
		return err
	}
	if info.State != RunPaused {
		return &errors.ConstraintViolation{Reason: "run_resume requires Paused, found " + info.State.String()}
	}
	info.State = RunActive
	if err := idx.put(info); err != nil {
		return err
	}
	metrics.RunsActive.Inc()
	return nil
}

// FailRun transitions to the terminal Failed state.
func (idx *RunIndex) FailRun(id key.RunID) error {
	return idx.terminalTransition(id, RunFailed)
}

// CancelRun transitions to the terminal Cancelled state.
func (idx *RunIndex) CancelRun(id key.RunID) error {
	return idx.terminalTransition(id, RunCancelled)
}

// ArchiveRun transitions any non-default run to the terminal Archived
// state, from any prior state.
func (idx *RunIndex) ArchiveRun(id key.RunID) error {
	if id.IsDefault() {
		return &errors.ConstraintViolation{Reason: "the default run cannot be archived"}
	}
	return idx.terminalTransition(id, RunArchived)
}

func (idx *RunIndex) terminalTransition(id key.RunID, to RunState) error {
	info, err := idx.GetRun(id)
	if err != nil {
		return err
	}
	wasActive := info.State == RunActive
	now := time.Now().UnixMicro()
	info.State = to
	info.ClosedAt = &now
	if err := idx.put(info); err != nil {
		return err
	}
	if wasActive {
		metrics.RunsActive.Dec()
	}
	return nil
}

// DeleteRun hard-deletes a run: every key namespaced under it, then the
// RunIndex entry itself, as a single committed transaction so the deletion
// is WAL-durable and cannot leave the index entry gone while some
// namespaced key survives (or vice versa) across a crash.
func (idx *RunIndex) DeleteRun(id key.RunID) error {
	if id.IsDefault() {
		return &errors.ConstraintViolation{Reason: "the default run cannot be deleted"}
	}
	info, err := idx.GetRun(id)
	if err != nil {
		return err
	}
	prefix := key.RunPrefix(id)
	version := idx.store.CurrentVersion()
	txn := idx.coordinator.BeginTxn()
	for _, e := range idx.store.ScanPrefix(prefix, version) {
		txn.Delete(e.Key)
	}
	txn.Delete(idx.indexKey(id))
	if err := txn.Commit(); err != nil {
		return err
	}
	if info.State == RunActive {
		metrics.RunsActive.Dec()
	}
	return nil
}

// RequireActive returns ConstraintViolation unless the run is Active --
// the gate every data-primitive write passes through.
func (idx *RunIndex) RequireActive(id key.RunID) error {
	info, err := idx.GetRun(id)
	if err != nil {
		return err
	}
	if info.State != RunActive {
		return &errors.ConstraintViolation{Reason: "run " + id.String() + " is not Active (" + info.State.String() + ")"}
	}
	return nil
}

func runIDFromIndexKey(encoded []byte) [16]byte {
	// RunIndex keys are encoded as DefaultRunID(16) ‖ TagRunIndex(1) ‖
	// indexed_run_id(16) -- the indexed run's bytes are the last 16.
	var out [16]byte
	copy(out[:], encoded[len(encoded)-16:])
	return out
}

func encodeRunInfo(info RunInfo) value.Value {
	closedAt := value.Null()
	if info.ClosedAt != nil {
		closedAt = value.Int(*info.ClosedAt)
	}
	retention := value.Object([]value.ObjectField{
		{Key: "kind", Value: value.Int(int64(info.Retention.Kind))},
		{Key: "n", Value: value.Int(int64(info.Retention.N))},
		{Key: "since_micros", Value: value.Int(info.Retention.Since.Microseconds())},
	})
	return value.Object([]value.ObjectField{
		{Key: "state", Value: value.Int(int64(info.State))},
		{Key: "created_at", Value: value.Int(info.CreatedAt)},
		{Key: "closed_at", Value: closedAt},
		{Key: "metadata", Value: info.Metadata},
		{Key: "retention", Value: retention},
	})
}

func decodeRunInfo(id key.RunID, v value.Value) RunInfo {
	info := RunInfo{ID: id}
	if state, ok := v.ObjectGet("state"); ok {
		if i, ok := state.AsInt(); ok {
			info.State = RunState(i)
		}
	}
	if created, ok := v.ObjectGet("created_at"); ok {
		if i, ok := created.AsInt(); ok {
			info.CreatedAt = i
		}
	}
	if closed, ok := v.ObjectGet("closed_at"); ok && !closed.IsNull() {
		if i, ok := closed.AsInt(); ok {
			info.ClosedAt = &i
		}
	}
	if metadata, ok := v.ObjectGet("metadata"); ok {
		info.Metadata = metadata
	}
	if retention, ok := v.ObjectGet("retention"); ok {
		if kind, ok := retention.ObjectGet("kind"); ok {
			if i, ok := kind.AsInt(); ok {
				info.Retention.Kind = RetentionKind(i)
			}
		}
		if n, ok := retention.ObjectGet("n"); ok {
			if i, ok := n.AsInt(); ok {
				info.Retention.N = int(i)
			}
		}
		if since, ok := retention.ObjectGet("since_micros"); ok {
			if i, ok := since.AsInt(); ok {
				info.Retention.Since = time.Duration(i) * time.Microsecond
			}
		}
	}
	return info
}
