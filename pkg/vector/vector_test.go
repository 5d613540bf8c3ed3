package vector

import (
	"testing"

	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/storage"
	"github.com/stratadb/strata/pkg/value"
	"github.com/stratadb/strata/pkg/wal"
)

func newTestDB(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.Open(storage.Options{Ephemeral: true})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestVector_CreateCollectionThenInfo(t *testing.T) {
	db := newTestDB(t)
	s := New(db)
	run := key.DefaultRunID()

	if err := s.CreateCollection(run, "docs", 3, Cosine); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	info, err := s.GetCollectionInfo(run, "docs")
	if err != nil {
		t.Fatalf("GetCollectionInfo: %v", err)
	}
	if info.Dimension != 3 || info.Metric != Cosine {
		t.Errorf("info = %+v, want dim 3 Cosine", info)
	}
}

func TestVector_CreateCollectionRejectsDuplicate(t *testing.T) {
	db := newTestDB(t)
	s := New(db)
	run := key.DefaultRunID()
	s.CreateCollection(run, "docs", 3, Cosine)
	err := s.CreateCollection(run, "docs", 3, Cosine)
	if _, ok := err.(*errors.ConstraintViolation); !ok {
		t.Errorf("expected *errors.ConstraintViolation, got %T", err)
	}
}

func TestVector_UpsertRejectsWrongDimension(t *testing.T) {
	db := newTestDB(t)
	s := New(db)
	run := key.DefaultRunID()
	s.CreateCollection(run, "docs", 3, Cosine)

	err := s.Upsert(run, "docs", "a", []float32{1, 2}, value.Null())
	if _, ok := err.(*errors.ConstraintViolation); !ok {
		t.Errorf("expected *errors.ConstraintViolation, got %T", err)
	}
}

func TestVector_UpsertThenGet(t *testing.T) {
	db := newTestDB(t)
	s := New(db)
	run := key.DefaultRunID()
	s.CreateCollection(run, "docs", 3, Cosine)

	md := value.Object([]value.ObjectField{{Key: "tag", Value: value.String("x")}})
	if err := s.Upsert(run, "docs", "a", []float32{1, 0, 0}, md); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	row, ok, err := s.Get(run, "docs", "a")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if len(row.Vector) != 3 || row.Vector[0] != 1 {
		t.Errorf("row.Vector = %v, want [1 0 0]", row.Vector)
	}
	tag, _ := row.Metadata.ObjectGet("tag")
	if s, _ := tag.AsString(); s != "x" {
		t.Errorf("metadata.tag = %v, want x", tag)
	}
}

func TestVector_DeleteRemovesRowAndFromIndex(t *testing.T) {
	db := newTestDB(t)
	s := New(db)
	run := key.DefaultRunID()
	s.CreateCollection(run, "docs", 3, Cosine)
	s.Upsert(run, "docs", "a", []float32{1, 0, 0}, value.Null())

	if err := s.Delete(run, "docs", "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, _ := s.Get(run, "docs", "a")
	if ok {
		t.Error("expected Get to fail after Delete")
	}
	count, _ := s.Count(run, "docs")
	if count != 0 {
		t.Errorf("Count = %d, want 0", count)
	}
}

func TestVector_SearchReturnsMostSimilarFirst(t *testing.T) {
	db := newTestDB(t)
	s := New(db)
	run := key.DefaultRunID()
	s.CreateCollection(run, "docs", 2, Cosine)

	s.Upsert(run, "docs", "close", []float32{1, 0}, value.Null())
	s.Upsert(run, "docs", "far", []float32{0, 1}, value.Null())
	s.Upsert(run, "docs", "opposite", []float32{-1, 0}, value.Null())

	hits, err := s.Search(run, "docs", []float32{1, 0}, 3, nil, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("hits = %+v, want 3", hits)
	}
	if hits[0].ID != "close" {
		t.Errorf("hits[0].ID = %s, want close", hits[0].ID)
	}
	if hits[len(hits)-1].ID != "opposite" {
		t.Errorf("hits[last].ID = %s, want opposite", hits[len(hits)-1].ID)
	}
}

func TestVector_SearchAppliesMetadataFilterPostANN(t *testing.T) {
	db := newTestDB(t)
	s := New(db)
	run := key.DefaultRunID()
	s.CreateCollection(run, "docs", 2, Cosine)

	s.Upsert(run, "docs", "a", []float32{1, 0}, value.Object([]value.ObjectField{{Key: "kind", Value: value.String("keep")}}))
	s.Upsert(run, "docs", "b", []float32{0.9, 0.1}, value.Object([]value.ObjectField{{Key: "kind", Value: value.String("drop")}}))

	f := Equals("kind", value.String("keep"))
	hits, err := s.Search(run, "docs", []float32{1, 0}, 10, &f, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Errorf("hits = %+v, want only 'a'", hits)
	}
}

func TestVector_DropCollectionRemovesEverything(t *testing.T) {
	db := newTestDB(t)
	s := New(db)
	run := key.DefaultRunID()
	s.CreateCollection(run, "docs", 2, Cosine)
	s.Upsert(run, "docs", "a", []float32{1, 0}, value.Null())

	if err := s.DropCollection(run, "docs"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	if _, err := s.GetCollectionInfo(run, "docs"); err == nil {
		t.Error("expected GetCollectionInfo to fail after drop")
	}
}

func TestVector_ListCollections(t *testing.T) {
	db := newTestDB(t)
	s := New(db)
	run := key.DefaultRunID()
	s.CreateCollection(run, "docs", 2, Cosine)
	s.CreateCollection(run, "images", 4, Euclidean)

	names, err := s.ListCollections(run)
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("names = %v, want 2 entries", names)
	}
}

func TestVector_RebuildsIndexFromSubstrateOnReopen(t *testing.T) {
	dir := t.TempDir()
	run := key.DefaultRunID()

	db1, err := storage.Open(storage.Options{Dir: dir, Durability: wal.DurabilityBuffered})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	s1 := New(db1)
	if err := s1.CreateCollection(run, "docs", 2, Cosine); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := s1.Upsert(run, "docs", "a", []float32{1, 0}, value.Null()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	db1.Close()

	db2, err := storage.Open(storage.Options{Dir: dir, Durability: wal.DurabilityBuffered})
	if err != nil {
		t.Fatalf("storage.Open (reopen): %v", err)
	}
	defer db2.Close()
	s2 := New(db2)

	hits, err := s2.Search(run, "docs", []float32{1, 0}, 1, nil, nil)
	if err != nil {
		t.Fatalf("Search after reopen: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Errorf("hits = %+v, want recovered vector 'a'", hits)
	}
}
