package storage

import (
	"testing"

	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/value"
	"github.com/stratadb/strata/pkg/wal"
)

func TestDatabase_OpenWriteCloseReopenRecovers(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(Options{Dir: dir, Durability: wal.DurabilityStrict})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	txn := db.Coordinator.BeginTxn()
	txn.Put([]byte("k"), value.String("v"))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(Options{Dir: dir, Durability: wal.DurabilityStrict})
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer db2.Close()

	got, ok := db2.Store.Get([]byte("k"), db2.Store.CurrentVersion())
	if !ok {
		t.Fatal("expected key to survive close/reopen via WAL recovery")
	}
	if !value.Equal(got, value.String("v")) {
		t.Errorf("recovered value = %+v, want v", got)
	}
}

func TestDatabase_OpenSeedsDefaultRun(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Options{Dir: dir, Durability: wal.DurabilityStrict})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	runs := db.Runs.ListRuns()
	if len(runs) != 1 {
		t.Fatalf("expected exactly the default run, got %d", len(runs))
	}
}

func TestDatabase_RunLifecycleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(Options{Dir: dir, Durability: wal.DurabilityStrict})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	run, err := key.NewRunID()
	if err != nil {
		t.Fatalf("NewRunID: %v", err)
	}
	if err := db.Runs.CreateRun(run, value.String("agent-1"), RetentionPolicy{}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := db.Runs.CloseRun(run); err != nil {
		t.Fatalf("CloseRun: %v", err)
	}
	txn := db.Coordinator.BeginTxn()
	txn.Put(key.KV(run, "x").Encode(), value.Int(7))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(Options{Dir: dir, Durability: wal.DurabilityStrict})
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer db2.Close()

	info, err := db2.Runs.GetRun(run)
	if err != nil {
		t.Fatalf("GetRun after reopen: %v", err)
	}
	if info.State != RunClosed {
		t.Errorf("run state after reopen = %v, want Closed", info.State)
	}
	if info.ClosedAt == nil {
		t.Error("expected ClosedAt to survive reopen")
	}

	got, ok := db2.Store.Get(key.KV(run, "x").Encode(), db2.Store.CurrentVersion())
	if !ok {
		t.Fatal("expected the run's namespaced key to still be reachable after reopen")
	}
	if !value.Equal(got, value.Int(7)) {
		t.Errorf("recovered value = %+v, want 7", got)
	}
}

func TestDatabase_EphemeralNeverTouchesDisk(t *testing.T) {
	db, err := Open(Options{Ephemeral: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	txn := db.Coordinator.BeginTxn()
	txn.Put([]byte("k"), value.Int(1))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
