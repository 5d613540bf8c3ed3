package storage

import (
	"sort"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/value"
)

// defaultShardCount is the number of independent shards a ShardedStore
// splits its keyspace across. Hashing (rather than key-range partitioning)
// keeps shard load balanced regardless of key-prefix skew, at the cost of
// needing a fan-out merge for prefix scans; see ScanPrefix.
const defaultShardCount = 32

// ShardedStore is the in-memory MVCC key space: N independent shards, each
// holding one version chain per key, plus the monotonic version counter
// that every committed write is stamped with.
type ShardedStore struct {
	shards         []*shard
	currentVersion uint64 // atomic
}

// NewShardedStore creates a store with shardCount shards. shardCount <= 0
// falls back to defaultShardCount.
func NewShardedStore(shardCount int) *ShardedStore {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	s := &ShardedStore{shards: make([]*shard, shardCount)}
	for i := range s.shards {
		s.shards[i] = newShard()
	}
	return s
}

func (s *ShardedStore) shardFor(key []byte) *shard {
	h := xxhash.Sum64(key)
	return s.shards[h%uint64(len(s.shards))]
}

// CurrentVersion returns the highest version number ever assigned.
func (s *ShardedStore) CurrentVersion() uint64 {
	return atomic.LoadUint64(&s.currentVersion)
}

// SetCurrentVersion initializes the version counter, used by recovery to
// resume where the WAL left off.
func (s *ShardedStore) SetCurrentVersion(v uint64) {
	atomic.StoreUint64(&s.currentVersion, v)
}

// NextVersion allocates and returns the next version number.
func (s *ShardedStore) NextVersion() uint64 {
	return atomic.AddUint64(&s.currentVersion, 1)
}

// PutWithVersion appends a new live entry. Called only by the coordinator
// under commitMu; version must be greater than the key's current head.
func (s *ShardedStore) PutWithVersion(key []byte, v value.Value, version uint64, tsMicros int64) error {
	chain := s.shardFor(key).chainFor(key)
	return chain.prepend(&VersionedEntry{Value: v, Version: version, TimestampMicros: tsMicros})
}

// DeleteWithVersion appends a tombstone. Called only by the coordinator
// under commitMu.
func (s *ShardedStore) DeleteWithVersion(key []byte, version uint64, tsMicros int64) error {
	chain := s.shardFor(key).chainFor(key)
	return chain.prepend(&VersionedEntry{Version: version, TimestampMicros: tsMicros, Tombstone: true})
}

// PutWithVersionIdempotent is the recovery-path variant: replaying a WAL
// whose tail already exists in the chain (e.g. a checkpoint taken after the
// record was written) is a no-op rather than an invariant violation.
func (s *ShardedStore) PutWithVersionIdempotent(key []byte, v value.Value, version uint64, tsMicros int64) {
	chain := s.shardFor(key).chainFor(key)
	if version <= chain.headVersion() {
		return
	}
	_ = chain.prepend(&VersionedEntry{Value: v, Version: version, TimestampMicros: tsMicros})
}

// DeleteWithVersionIdempotent is the recovery-path tombstone equivalent of
// PutWithVersionIdempotent.
func (s *ShardedStore) DeleteWithVersionIdempotent(key []byte, version uint64, tsMicros int64) {
	chain := s.shardFor(key).chainFor(key)
	if version <= chain.headVersion() {
		return
	}
	_ = chain.prepend(&VersionedEntry{Version: version, TimestampMicros: tsMicros, Tombstone: true})
}

// HeadVersion returns the current version of key, or 0 if the key has
// never been written (the ABSENT sentinel used by CAS).
func (s *ShardedStore) HeadVersion(key []byte) uint64 {
	chain, ok := s.shardFor(key).lookup(key)
	if !ok {
		return 0
	}
	return chain.headVersion()
}

// Get returns the live value for key at the given ceiling version.
func (s *ShardedStore) Get(key []byte, ceilingVersion uint64) (value.Value, bool) {
	chain, ok := s.shardFor(key).lookup(key)
	if !ok {
		return value.Value{}, false
	}
	entry, ok := chain.versionedAt(ceilingVersion)
	if !ok {
		return value.Value{}, false
	}
	return entry.Value, true
}

// GetEntry is like Get but returns the full versioned entry (needed by
// callers that report the observed version back into a transaction's read
// set, or that need the timestamp).
func (s *ShardedStore) GetEntry(key []byte, ceilingVersion uint64) (*VersionedEntry, bool) {
	chain, ok := s.shardFor(key).lookup(key)
	if !ok {
		return nil, false
	}
	return chain.versionedAt(ceilingVersion)
}

// History returns every entry for key up to ceilingVersion, newest first,
// including tombstones.
func (s *ShardedStore) History(key []byte, ceilingVersion uint64) []*VersionedEntry {
	chain, ok := s.shardFor(key).lookup(key)
	if !ok {
		return nil
	}
	return chain.history(ceilingVersion)
}

// ScanEntry is one (key, entry) pair returned by ScanPrefix.
type ScanEntry struct {
	Key   []byte
	Entry *VersionedEntry
}

// ScanPrefix returns every live key with the given byte prefix, visible at
// ceilingVersion, in ascending key order. Because sharding is hash-based, a
// prefix can land in any shard: every shard is scanned independently and
// the results merged, rather than range-scanned from a single shard.
func (s *ShardedStore) ScanPrefix(prefix []byte, ceilingVersion uint64) []ScanEntry {
	var out []ScanEntry
	for _, sh := range s.shards {
		sh.scan(prefix, func(key []byte, chain *versionChain) bool {
			if !hasPrefix(key, prefix) {
				// Keys in a shard are ordered; once we pass the prefix
				// range there are no more matches in this shard.
				return false
			}
			if entry, ok := chain.versionedAt(ceilingVersion); ok {
				out = append(out, ScanEntry{Key: append([]byte(nil), key...), Entry: entry})
			}
			return true
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Key) < string(out[j].Key)
	})
	return out
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

// CheckKeyConflict reports whether the live head version of key differs
// from expected -- the core first-committer-wins validation primitive used
// by both a transaction's read-set and CAS-set checks.
func (s *ShardedStore) CheckKeyConflict(key string, expected uint64) error {
	head := s.HeadVersion([]byte(key))
	if head != expected {
		return &errors.Conflict{
			Key:      key,
			Expected: versionAsValue(expected),
			Actual:   versionAsValue(head),
		}
	}
	return nil
}

func versionAsValue(v uint64) value.Value {
	if v == 0 {
		return value.Null()
	}
	return value.Int(int64(v))
}
