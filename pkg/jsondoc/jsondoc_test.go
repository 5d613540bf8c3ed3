package jsondoc

import (
	"testing"

	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/storage"
	"github.com/stratadb/strata/pkg/value"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(storage.Options{Ephemeral: true})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestJsondoc_SetRootThenGetRoot(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()

	doc := value.Object([]value.ObjectField{{Key: "name", Value: value.String("alice")}})
	if err := s.Set(run, "doc1", "$", doc); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get(run, "doc1", "$")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !value.Equal(got, doc) {
		t.Errorf("Get = %+v, want %+v", got, doc)
	}
}

func TestJsondoc_SetRootRejectsNonObject(t *testing.T) {
	s := newTestStore(t)
	err := s.Set(key.DefaultRunID(), "doc1", "$", value.Int(1))
	if _, ok := err.(*errors.ConstraintViolation); !ok {
		t.Errorf("expected *errors.ConstraintViolation, got %T", err)
	}
}

func TestJsondoc_SetFieldAutoCreatesIntermediates(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()

	if err := s.Set(run, "doc1", "$.a.b", value.Int(7)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get(run, "doc1", "$.a.b")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if n, _ := got.AsInt(); n != 7 {
		t.Errorf("got = %+v, want 7", got)
	}
}

func TestJsondoc_SetArrayAppend(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()

	s.Set(run, "doc1", "$.items", value.Array(nil))
	if err := s.Set(run, "doc1", "$.items[-]", value.Int(1)); err != nil {
		t.Fatalf("Set append 1: %v", err)
	}
	if err := s.Set(run, "doc1", "$.items[-]", value.Int(2)); err != nil {
		t.Fatalf("Set append 2: %v", err)
	}
	got, ok, err := s.Get(run, "doc1", "$.items")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	arr, _ := got.AsArray()
	if len(arr) != 2 {
		t.Fatalf("arr = %+v, want len 2", arr)
	}
	if n, _ := arr[0].AsInt(); n != 1 {
		t.Errorf("arr[0] = %+v, want 1", arr[0])
	}
	if n, _ := arr[1].AsInt(); n != 2 {
		t.Errorf("arr[1] = %+v, want 2", arr[1])
	}
}

func TestJsondoc_SetArrayIndexOutOfRangeFails(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	s.Set(run, "doc1", "$.items", value.Array(nil))
	err := s.Set(run, "doc1", "$.items[5]", value.Int(1))
	if _, ok := err.(*errors.InvalidPath); !ok {
		t.Errorf("expected *errors.InvalidPath, got %T", err)
	}
}

func TestJsondoc_GetMissingKeyReturnsNotOk(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(key.DefaultRunID(), "nope", "$")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing document")
	}
}

func TestJsondoc_GetAbsentPathReturnsNotOk(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	s.Set(run, "doc1", "$.a", value.Int(1))
	_, ok, err := s.Get(run, "doc1", "$.b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for absent path")
	}
}

func TestJsondoc_DeleteRootIsForbidden(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	s.Set(run, "doc1", "$", value.Object(nil))
	_, err := s.Delete(run, "doc1", "$")
	if _, ok := err.(*errors.ConstraintViolation); !ok {
		t.Errorf("expected *errors.ConstraintViolation, got %T", err)
	}
}

func TestJsondoc_DeleteFieldRemovesIt(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	s.Set(run, "doc1", "$.a", value.Int(1))
	s.Set(run, "doc1", "$.b", value.Int(2))

	n, err := s.Delete(run, "doc1", "$.a")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Errorf("Delete count = %d, want 1", n)
	}
	_, ok, _ := s.Get(run, "doc1", "$.a")
	if ok {
		t.Error("expected $.a to be absent after delete")
	}
	got, ok, _ := s.Get(run, "doc1", "$.b")
	if !ok {
		t.Fatal("expected $.b to survive")
	}
	if n, _ := got.AsInt(); n != 2 {
		t.Errorf("$.b = %+v, want 2", got)
	}
}

func TestJsondoc_DeleteAbsentPathReturnsZero(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	s.Set(run, "doc1", "$.a", value.Int(1))
	n, err := s.Delete(run, "doc1", "$.missing")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 0 {
		t.Errorf("Delete count = %d, want 0", n)
	}
}

func TestJsondoc_MergeDeletesNullFieldsRecursively(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()

	doc := value.Object([]value.ObjectField{
		{Key: "a", Value: value.Int(1)},
		{Key: "b", Value: value.Object([]value.ObjectField{
			{Key: "x", Value: value.Int(1)},
			{Key: "y", Value: value.Int(2)},
		})},
	})
	if err := s.Set(run, "doc1", "$", doc); err != nil {
		t.Fatalf("Set: %v", err)
	}

	patch := value.Object([]value.ObjectField{
		{Key: "a", Value: value.Null()},
		{Key: "b", Value: value.Object([]value.ObjectField{
			{Key: "x", Value: value.Null()},
			{Key: "z", Value: value.Int(9)},
		})},
	})
	if err := s.Merge(run, "doc1", "$", patch); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	_, ok, _ := s.Get(run, "doc1", "$.a")
	if ok {
		t.Error("expected $.a to be deleted by merge")
	}
	_, ok, _ = s.Get(run, "doc1", "$.b.x")
	if ok {
		t.Error("expected $.b.x to be deleted by merge")
	}
	got, ok, _ := s.Get(run, "doc1", "$.b.y")
	if !ok {
		t.Fatal("expected $.b.y to survive merge")
	}
	if n, _ := got.AsInt(); n != 2 {
		t.Errorf("$.b.y = %+v, want 2", got)
	}
	got, ok, _ = s.Get(run, "doc1", "$.b.z")
	if !ok {
		t.Fatal("expected $.b.z to be added by merge")
	}
	if n, _ := got.AsInt(); n != 9 {
		t.Errorf("$.b.z = %+v, want 9", got)
	}
}

func TestJsondoc_MergeArrayReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	s.Set(run, "doc1", "$.items", value.Array([]value.Value{value.Int(1), value.Int(2)}))

	patch := value.Array([]value.Value{value.Int(9)})
	if err := s.Merge(run, "doc1", "$.items", patch); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	got, ok, _ := s.Get(run, "doc1", "$.items")
	if !ok {
		t.Fatal("expected $.items to exist")
	}
	arr, _ := got.AsArray()
	if len(arr) != 1 {
		t.Fatalf("arr = %+v, want len 1", arr)
	}
	if n, _ := arr[0].AsInt(); n != 9 {
		t.Errorf("arr[0] = %+v, want 9", arr[0])
	}
}

func TestJsondoc_ExistsAndGetVersion(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()

	ok, err := s.Exists(run, "doc1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("expected Exists=false before any write")
	}

	s.Set(run, "doc1", "$", value.Object(nil))

	ok, err = s.Exists(run, "doc1")
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}

	v, ok, err := s.GetVersion(run, "doc1")
	if err != nil || !ok || v == 0 {
		t.Fatalf("GetVersion: v=%d ok=%v err=%v", v, ok, err)
	}
}

func TestJsondoc_HistoryReturnsPastVersions(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()

	s.Set(run, "doc1", "$", value.Object([]value.ObjectField{{Key: "v", Value: value.Int(1)}}))
	s.Set(run, "doc1", "$.v", value.Int(2))
	s.Set(run, "doc1", "$.v", value.Int(3))

	hist, err := s.History(run, "doc1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) < 3 {
		t.Fatalf("History len = %d, want >= 3", len(hist))
	}
}

func TestJsondoc_WritesRejectedOnNonActiveRun(t *testing.T) {
	db, err := storage.Open(storage.Options{Ephemeral: true})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer db.Close()
	s := New(db)

	run, _ := key.NewRunID()
	if err := db.Runs.CreateRun(run, value.Null(), storage.RetentionPolicy{}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	db.Runs.CloseRun(run)

	err = s.Set(run, "doc1", "$", value.Object(nil))
	if _, ok := err.(*errors.ConstraintViolation); !ok {
		t.Errorf("expected *errors.ConstraintViolation, got %T", err)
	}
}
