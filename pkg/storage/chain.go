package storage

import (
	"fmt"
	"sync/atomic"

	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/value"
)

// VersionedEntry is one immutable link in a key's version chain. Entries are
// only ever prepended: once published via versionChain.prepend, an entry's
// fields and its Next pointer never change again.
type VersionedEntry struct {
	Value           value.Value
	Version         uint64
	TimestampMicros int64
	Tombstone       bool
	Next            *VersionedEntry
}

// versionChain is the newest-first linked list of committed values for a
// single key. The coordinator's commit mutex is the only writer of any
// chain, so readers walk it lock-free through an atomic head pointer.
type versionChain struct {
	head atomic.Pointer[VersionedEntry]
}

func (c *versionChain) headVersion() uint64 {
	h := c.head.Load()
	if h == nil {
		return 0
	}
	return h.Version
}

// prepend publishes a new head. It must only be called by the coordinator
// while holding the commit mutex; versions must increase monotonically.
func (c *versionChain) prepend(entry *VersionedEntry) error {
	head := c.head.Load()
	if head != nil && entry.Version <= head.Version {
		return &errors.Internal{Message: fmt.Sprintf("version chain: non-monotonic version %d after %d", entry.Version, head.Version)}
	}
	entry.Next = head
	c.head.Store(entry)
	return nil
}

// versionedAt returns the newest entry visible at or below maxVersion. A
// tombstone is a valid result for history scans but is reported as "absent"
// to point reads via the ok return.
func (c *versionChain) versionedAt(maxVersion uint64) (*VersionedEntry, bool) {
	for e := c.head.Load(); e != nil; e = e.Next {
		if e.Version <= maxVersion {
			if e.Tombstone {
				return e, false
			}
			return e, true
		}
	}
	return nil, false
}

// history returns every entry with Version <= maxVersion, newest first.
func (c *versionChain) history(maxVersion uint64) []*VersionedEntry {
	var out []*VersionedEntry
	for e := c.head.Load(); e != nil; e = e.Next {
		if e.Version <= maxVersion {
			out = append(out, e)
		}
	}
	return out
}
