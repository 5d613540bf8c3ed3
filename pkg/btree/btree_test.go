package btree

import (
	"fmt"
	"testing"

	"github.com/stratadb/strata/pkg/types"
)

func key(s string) types.Comparable {
	return types.KeyBytes(s)
}

func TestInsertAndGet(t *testing.T) {
	tree := NewTree(3)

	if err := tree.Insert(key("b"), 2); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tree.Insert(key("a"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tree.Insert(key("c"), 3); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	for k, want := range map[string]int{"a": 1, "b": 2, "c": 3} {
		got, ok := tree.Get(key(k))
		if !ok {
			t.Fatalf("Get(%q): not found", k)
		}
		if got.(int) != want {
			t.Errorf("Get(%q) = %v, want %d", k, got, want)
		}
	}

	if _, ok := tree.Get(key("z")); ok {
		t.Errorf("Get(%q): expected not found", "z")
	}
}

func TestInsertManyCausesSplits(t *testing.T) {
	tree := NewTree(3)

	const n = 200
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%04d", i)
		if err := tree.Insert(key(k), i); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
	}

	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%04d", i)
		got, ok := tree.Get(key(k))
		if !ok {
			t.Fatalf("Get(%q): not found after %d inserts", k, n)
		}
		if got.(int) != i {
			t.Errorf("Get(%q) = %v, want %d", k, got, i)
		}
	}
}

func TestUniqueTreeRejectsDuplicates(t *testing.T) {
	tree := NewUniqueTree(3)

	if err := tree.Insert(key("a"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tree.Insert(key("a"), 2); err == nil {
		t.Fatalf("expected DuplicateKeyError on second insert")
	}

	got, ok := tree.Get(key("a"))
	if !ok || got.(int) != 1 {
		t.Errorf("duplicate insert must not overwrite existing value, got %v", got)
	}
}

func TestNonUniqueTreeOverwrites(t *testing.T) {
	tree := NewTree(3)

	if err := tree.Insert(key("a"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tree.Insert(key("a"), 2); err != nil {
		t.Fatalf("second Insert of same key should overwrite, got error: %v", err)
	}

	got, ok := tree.Get(key("a"))
	if !ok || got.(int) != 2 {
		t.Errorf("Get(%q) = %v, want 2", "a", got)
	}
}

func TestReplace(t *testing.T) {
	tree := NewUniqueTree(3)

	if err := tree.Insert(key("a"), "v1"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tree.Replace(key("a"), "v2"); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, ok := tree.Get(key("a"))
	if !ok || got.(string) != "v2" {
		t.Errorf("Get after Replace = %v, want v2", got)
	}
}

func TestUpsertCallbackSeesExistence(t *testing.T) {
	tree := NewTree(3)

	var sawExists bool
	err := tree.Upsert(key("a"), func(old any, exists bool) (any, error) {
		sawExists = exists
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if sawExists {
		t.Errorf("first upsert should see exists=false")
	}

	err = tree.Upsert(key("a"), func(old any, exists bool) (any, error) {
		sawExists = exists
		if exists {
			return old.(int) + 1, nil
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !sawExists {
		t.Errorf("second upsert should see exists=true")
	}

	got, _ := tree.Get(key("a"))
	if got.(int) != 2 {
		t.Errorf("Get = %v, want 2", got)
	}
}

func TestDelete(t *testing.T) {
	tree := NewTree(3)

	const n = 100
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%04d", i)
		if err := tree.Insert(key(k), i); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
	}

	for i := 0; i < n; i += 2 {
		k := fmt.Sprintf("key-%04d", i)
		if !tree.Delete(key(k)) {
			t.Fatalf("Delete(%q): expected true", k)
		}
	}

	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%04d", i)
		_, ok := tree.Get(key(k))
		if i%2 == 0 && ok {
			t.Errorf("Get(%q): expected deleted key to be gone", k)
		}
		if i%2 == 1 && !ok {
			t.Errorf("Get(%q): expected surviving key to remain", k)
		}
	}
}

func TestFindLeafLowerBoundOrdersScan(t *testing.T) {
	tree := NewTree(3)

	want := []string{"a", "b", "c", "d", "e", "f", "g"}
	for i, k := range want {
		if err := tree.Insert(key(k), i); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
	}

	node, idx := tree.FindLeafLowerBound(key("c"))

	var got []string
	for node != nil {
		for idx < node.N {
			got = append(got, node.Keys[idx].(types.KeyBytes).String())
			idx++
		}
		next := node.Next
		node.RUnlock()
		node = next
		idx = 0
		if node != nil {
			node.RLock()
		}
	}

	expect := []string{"c", "d", "e", "f", "g"}
	if len(got) != len(expect) {
		t.Fatalf("scan from 'c' = %v, want %v", got, expect)
	}
	for i := range expect {
		if got[i] != expect[i] {
			t.Errorf("scan[%d] = %q, want %q", i, got[i], expect[i])
		}
	}
}

func TestFindLeafLowerBoundNilKeyStartsAtBeginning(t *testing.T) {
	tree := NewTree(3)
	for i, k := range []string{"m", "a", "z"} {
		if err := tree.Insert(key(k), i); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	node, idx := tree.FindLeafLowerBound(nil)
	defer node.RUnlock()

	if node.Keys[idx].(types.KeyBytes).String() != "a" {
		t.Errorf("nil-key lower bound should land on the smallest key, got %q", node.Keys[idx])
	}
}
