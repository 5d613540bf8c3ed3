package storage

import (
	"testing"

	"github.com/stratadb/strata/pkg/value"
)

func TestShardedStore_PutThenGet(t *testing.T) {
	s := NewShardedStore(4)
	v1 := s.NextVersion()
	if err := s.PutWithVersion([]byte("a"), value.String("hello"), v1, 0); err != nil {
		t.Fatalf("PutWithVersion: %v", err)
	}

	got, ok := s.Get([]byte("a"), s.CurrentVersion())
	if !ok {
		t.Fatal("expected key to be found")
	}
	if !value.Equal(got, value.String("hello")) {
		t.Errorf("Get = %+v, want hello", got)
	}
}

func TestShardedStore_DeleteHidesValue(t *testing.T) {
	s := NewShardedStore(4)
	s.PutWithVersion([]byte("a"), value.Int(1), s.NextVersion(), 0)
	s.DeleteWithVersion([]byte("a"), s.NextVersion(), 0)

	if _, ok := s.Get([]byte("a"), s.CurrentVersion()); ok {
		t.Error("expected deleted key to be absent")
	}
}

func TestShardedStore_GetRespectsCeilingVersion(t *testing.T) {
	s := NewShardedStore(4)
	v1 := s.NextVersion()
	s.PutWithVersion([]byte("a"), value.Int(1), v1, 0)
	v2 := s.NextVersion()
	s.PutWithVersion([]byte("a"), value.Int(2), v2, 0)

	got, ok := s.Get([]byte("a"), v1)
	if !ok {
		t.Fatal("expected value visible at v1")
	}
	if n, _ := got.AsInt(); n != 1 {
		t.Errorf("Get at v1 = %d, want 1", n)
	}
}

func TestShardedStore_HeadVersionIsZeroForAbsentKey(t *testing.T) {
	s := NewShardedStore(4)
	if s.HeadVersion([]byte("nope")) != 0 {
		t.Error("expected HeadVersion 0 for an unwritten key")
	}
}

func TestShardedStore_ScanPrefixMergesAcrossShards(t *testing.T) {
	s := NewShardedStore(8)
	keys := []string{"run/a", "run/b", "run/c", "other/z"}
	for _, k := range keys {
		s.PutWithVersion([]byte(k), value.String(k), s.NextVersion(), 0)
	}

	entries := s.ScanPrefix([]byte("run/"), s.CurrentVersion())
	if len(entries) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if string(entries[i-1].Key) >= string(entries[i].Key) {
			t.Errorf("expected ascending key order, got %q then %q", entries[i-1].Key, entries[i].Key)
		}
	}
}

func TestShardedStore_CheckKeyConflict(t *testing.T) {
	s := NewShardedStore(4)
	if err := s.CheckKeyConflict("a", 0); err != nil {
		t.Errorf("expected no conflict for an absent key against expected 0, got %v", err)
	}
	s.PutWithVersion([]byte("a"), value.Int(1), s.NextVersion(), 0)
	if err := s.CheckKeyConflict("a", 0); err == nil {
		t.Error("expected conflict: key now exists but expected was absent")
	}
}

func TestShardedStore_RecoveryIdempotentPutIsNoopBelowHead(t *testing.T) {
	s := NewShardedStore(4)
	s.PutWithVersion([]byte("a"), value.Int(2), 5, 0)
	s.PutWithVersionIdempotent([]byte("a"), value.Int(1), 3, 0)

	got, _ := s.Get([]byte("a"), s.CurrentVersion())
	if n, _ := got.AsInt(); n != 2 {
		t.Errorf("expected idempotent replay to be a no-op, got %d", n)
	}
}
