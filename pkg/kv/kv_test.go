package kv

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

func TestKV_PutThenGet(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()

	if err := s.Put(run, "a", value.String("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(run, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !value.Equal(got, value.String("hello")) {
		t.Errorf("Get = %+v, want hello", got)
	}
}

func TestKV_GetMissingKeyReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(key.DefaultRunID(), "nope")
	if _, ok := err.(*errors.NotFound); !ok {
		t.Errorf("expected *errors.NotFound, got %T (%v)", err, err)
	}
}

func TestKV_PutRejectsEmptyKey(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(key.DefaultRunID(), "", value.Int(1))
	if _, ok := err.(*errors.InvalidKey); !ok {
		t.Errorf("expected *errors.InvalidKey, got %T", err)
	}
}

func TestKV_Delete(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	s.Put(run, "a", value.Int(1))
	if err := s.Delete(run, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(run, "a"); err == nil {
		t.Error("expected NotFound after Delete")
	}
}

func TestKV_IncrFromAbsentStartsAtDelta(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	n, err := s.Incr(run, "counter", 5)
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if n != 5 {
		t.Errorf("Incr = %d, want 5", n)
	}
}

func TestKV_IncrAccumulates(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	s.Incr(run, "counter", 5)
	n, err := s.Incr(run, "counter", 3)
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if n != 8 {
		t.Errorf("Incr = %d, want 8", n)
	}
}

func TestKV_IncrOnNonIntIsWrongType(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	s.Put(run, "x", value.String("not a number"))
	_, err := s.Incr(run, "x", 1)
	if _, ok := err.(*errors.WrongType); !ok {
		t.Errorf("expected *errors.WrongType, got %T", err)
	}
}

func TestKV_CasVersionSucceedsOnAbsent(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	if err := s.CasVersion(run, "a", 0, value.Int(1)); err != nil {
		t.Fatalf("CasVersion: %v", err)
	}
}

func TestKV_CasVersionFailsOnStaleExpectation(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	s.Put(run, "a", value.Int(1))
	err := s.CasVersion(run, "a", 0, value.Int(2))
	if _, ok := err.(*errors.Conflict); !ok {
		t.Errorf("expected *errors.Conflict, got %T", err)
	}
}

func TestKV_MPutThenMGet(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	if err := s.MPut(run, map[string]value.Value{"a": value.Int(1), "b": value.Int(2)}); err != nil {
		t.Fatalf("MPut: %v", err)
	}
	vals, oks, err := s.MGet(run, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if !oks[0] || !oks[1] || oks[2] {
		t.Errorf("oks = %v, want [true true false]", oks)
	}
	if n, _ := vals[0].AsInt(); n != 1 {
		t.Errorf("vals[0] = %d, want 1", n)
	}
}

func TestKV_MDelete(t *testing.T) {
	s := newTestStore(t)
	run := key.DefaultRunID()
	s.MPut(run, map[string]value.Value{"a": value.Int(1), "b": value.Int(2)})
	if err := s.MDelete(run, []string{"a", "b"}); err != nil {
		t.Fatalf("MDelete: %v", err)
	}
	if _, err := s.Get(run, "a"); err == nil {
		t.Error("expected NotFound after MDelete")
	}
}

func TestKV_WritesRejectedOnNonActiveRun(t *testing.T) {
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

	err = s.Put(run, "a", value.Int(1))
	if _, ok := err.(*errors.ConstraintViolation); !ok {
		t.Errorf("expected *errors.ConstraintViolation, got %T", err)
	}
}
