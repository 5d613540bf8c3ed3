package storage

import "github.com/stratadb/strata/pkg/value"

// Snapshot is a point-in-time read view: every read through it is ceilinged
// at ceilingVersion. It is not a structural copy-on-write clone of the
// B+Tree -- version chain entries are only ever prepended, never mutated in
// place, so reading the live store at a fixed ceiling is indistinguishable
// from reading a true point-in-time copy, at a fraction of the cost.
type Snapshot struct {
	store          *ShardedStore
	ceilingVersion uint64
}

func newSnapshot(store *ShardedStore, ceilingVersion uint64) Snapshot {
	return Snapshot{store: store, ceilingVersion: ceilingVersion}
}

// Version returns the snapshot's ceiling version.
func (s Snapshot) Version() uint64 {
	return s.ceilingVersion
}

// Get returns the value visible at this snapshot, and the version it was
// written at (0 if the key does not exist).
func (s Snapshot) Get(key []byte) (value.Value, uint64, bool) {
	entry, ok := s.store.GetEntry(key, s.ceilingVersion)
	if !ok {
		return value.Value{}, 0, false
	}
	return entry.Value, entry.Version, true
}

// ObservedVersion returns the version a key would be recorded at in a
// transaction's read set: the version of its newest entry at or below the
// snapshot ceiling, including tombstones, or 0 if absent.
func (s Snapshot) ObservedVersion(key []byte) uint64 {
	chain, ok := s.store.shardFor(key).lookup(key)
	if !ok {
		return 0
	}
	entry, _ := chain.versionedAt(s.ceilingVersion)
	if entry == nil {
		return 0
	}
	return entry.Version
}

// History returns key's full version history visible at this snapshot.
func (s Snapshot) History(key []byte) []*VersionedEntry {
	return s.store.History(key, s.ceilingVersion)
}

// ScanPrefix returns every live key with the given prefix visible at this
// snapshot.
func (s Snapshot) ScanPrefix(prefix []byte) []ScanEntry {
	return s.store.ScanPrefix(prefix, s.ceilingVersion)
}
