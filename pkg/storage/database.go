package storage

import (
	"path/filepath"

	"github.com/stratadb/strata/pkg/wal"
)

// Database bundles the whole MVCC substrate: the in-memory sharded store,
// its WAL, the coordinator serializing commits, and the run index. It is
// the shared foundation every primitive (kv, jsondoc, events, state,
// vector, trace) is built on top of.
type Database struct {
	Store       *ShardedStore
	WAL         *wal.Writer
	Coordinator *Coordinator
	Runs        *RunIndex
}

// Options configures Open. The zero value of Durability is
// wal.DurabilityNone; callers wanting the WAL's usual safe default should
// set it to wal.DurabilityBuffered explicitly.
type Options struct {
	Dir        string
	Ephemeral  bool
	ShardCount int
	Durability wal.Durability
}

// Open replays dir's WAL (if any), then opens a live WAL writer and wires
// up a Coordinator and RunIndex over the recovered state.
func Open(opts Options) (*Database, error) {
	store := NewShardedStore(opts.ShardCount)

	walDir := filepath.Join(opts.Dir, "wal")
	var recovered RecoveryResult
	if !opts.Ephemeral {
		r, err := Recover(walDir, store)
		if err != nil {
			return nil, err
		}
		recovered = r
	}

	walOpts := wal.DefaultOptions()
	walOpts.Dir = walDir
	walOpts.Ephemeral = opts.Ephemeral
	walOpts.Durability = opts.Durability

	w, err := wal.NewWriter(walOpts)
	if err != nil {
		return nil, err
	}

	coordinator := NewCoordinator(store, w)
	coordinator.nextTxnID = recovered.MaxTxnID
	runs, err := NewRunIndex(store, coordinator)
	if err != nil {
		return nil, err
	}

	return &Database{Store: store, WAL: w, Coordinator: coordinator, Runs: runs}, nil
}

// Close flushes and closes the WAL writer.
func (d *Database) Close() error {
	return d.WAL.Close()
}
