package storage

import (
	"testing"

	"github.com/stratadb/strata/pkg/value"
)

func TestVersionChain_PrependRejectsNonMonotonicVersion(t *testing.T) {
	c := &versionChain{}
	if err := c.prepend(&VersionedEntry{Value: value.Int(1), Version: 5}); err != nil {
		t.Fatalf("prepend: %v", err)
	}
	if err := c.prepend(&VersionedEntry{Value: value.Int(2), Version: 5}); err == nil {
		t.Error("expected error prepending a non-increasing version")
	}
	if err := c.prepend(&VersionedEntry{Value: value.Int(2), Version: 3}); err == nil {
		t.Error("expected error prepending an older version")
	}
}

func TestVersionChain_VersionedAtReturnsNewestAtOrBelowCeiling(t *testing.T) {
	c := &versionChain{}
	c.prepend(&VersionedEntry{Value: value.Int(1), Version: 1})
	c.prepend(&VersionedEntry{Value: value.Int(2), Version: 3})
	c.prepend(&VersionedEntry{Value: value.Int(3), Version: 7})

	e, ok := c.versionedAt(5)
	if !ok {
		t.Fatal("expected a visible entry at ceiling 5")
	}
	if v, _ := e.Value.AsInt(); v != 2 {
		t.Errorf("versionedAt(5) = %d, want 2", v)
	}

	if _, ok := c.versionedAt(0); ok {
		t.Error("expected no entry visible at ceiling 0")
	}
}

func TestVersionChain_TombstoneHidesValueButKeepsHistory(t *testing.T) {
	c := &versionChain{}
	c.prepend(&VersionedEntry{Value: value.String("a"), Version: 1})
	c.prepend(&VersionedEntry{Version: 2, Tombstone: true})

	if _, ok := c.versionedAt(2); ok {
		t.Error("expected tombstoned key to be reported absent")
	}

	hist := c.history(2)
	if len(hist) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(hist))
	}
	if !hist[0].Tombstone {
		t.Error("newest history entry should be the tombstone")
	}
}

func TestVersionChain_HeadVersion(t *testing.T) {
	c := &versionChain{}
	if c.headVersion() != 0 {
		t.Error("expected headVersion 0 on empty chain")
	}
	c.prepend(&VersionedEntry{Version: 4})
	if c.headVersion() != 4 {
		t.Errorf("headVersion = %d, want 4", c.headVersion())
	}
}
