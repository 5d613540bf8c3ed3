package btree

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/types"
)

// BPlusTree is a concurrent B+Tree used as the per-shard ordered index.
// Leaf payloads are `any` (version-chain pointers); structural concurrency
// is latch-crabbing: a node is locked before its parent is released.
type BPlusTree struct {
	T         int
	Root      *Node
	UniqueKey bool
	mu        sync.RWMutex // guards the Root pointer and structural root-split
}

// NewTree creates a non-unique tree: Insert of an existing key replaces its
// value instead of failing (each key still holds a single value).
func NewTree(t int) *BPlusTree {
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true),
		UniqueKey: false,
	}
}

// NewUniqueTree creates a tree that rejects duplicate keys (a unique index).
func NewUniqueTree(t int) *BPlusTree {
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true),
		UniqueKey: true,
	}
}

func (b *BPlusTree) Insert(key types.Comparable, dataPtr any) error {
	return b.insertHelper(key, dataPtr, b.UniqueKey)
}

// Replace unconditionally sets the key's value, used for in-place MVCC
// updates against a unique index.
func (b *BPlusTree) Replace(key types.Comparable, dataPtr any) error {
	return b.Upsert(key, func(oldValue any, exists bool) (any, error) {
		return dataPtr, nil
	})
}

// Upsert runs fn against the current value (if any) and stores the result.
// fn executes while the leaf latch is held, giving it an atomic
// read-modify-write.
func (b *BPlusTree) Upsert(key types.Comparable, fn func(oldValue any, exists bool) (newValue any, err error)) error {
	return b.upsertHelper(key, fn)
}

func (b *BPlusTree) insertHelper(key types.Comparable, dataPtr any, uniqueKey bool) error {
	return b.Upsert(key, func(oldValue any, exists bool) (any, error) {
		if exists && uniqueKey {
			return nil, &errors.DuplicateKeyError{Key: fmt.Sprintf("%v", key)}
		}
		return dataPtr, nil
	})
}

func (b *BPlusTree) upsertHelper(key types.Comparable, fn func(oldValue any, exists bool) (newValue any, err error)) error {

	b.mu.Lock()
	root := b.Root
	root.Lock()

	if root.IsFull() {
		newRoot := NewNode(b.T, false)
		newRoot.Children = append(newRoot.Children, root)
		newRoot.SplitChild(0)
		b.Root = newRoot
		b.mu.Unlock()

		newRoot.Lock()
		root.Unlock()

		return b.upsertTopDown(newRoot, key, fn)
	}

	b.mu.Unlock()
	return b.upsertTopDown(root, key, fn)
}

// upsertTopDown descends the tree, splitting full nodes preventively on the
// way down. curr arrives already locked by the caller.
func (b *BPlusTree) upsertTopDown(curr *Node, key types.Comparable, fn func(oldValue any, exists bool) (newValue any, err error)) error {

	defer func() {
		if curr != nil {
			curr.Unlock()
		}
	}()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}

		child := curr.Children[i]
		child.Lock()

		if child.IsFull() {
			curr.SplitChild(i)

			if key.Compare(curr.Keys[i]) >= 0 {
				child.Unlock()
				child = curr.Children[i+1]
				child.Lock()
			}
		}

		// Latch crabbing: release the parent once the child is held.
		curr.Unlock()
		curr = child
	}

	// curr is a leaf and is guaranteed non-full by preventive splitting.
	return curr.UpsertNonFull(key, fn)
}

// Search looks up a key with read-lock coupling.
func (b *BPlusTree) Search(key types.Comparable) (*Node, bool) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr, true
		}
	}
	return nil, false
}

// Get returns the value for key, thread-safe via internal latching.
func (b *BPlusTree) Get(key types.Comparable) (any, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.RLock()
	curr := b.Root
	if curr == nil {
		b.mu.RUnlock()
		return nil, false
	}
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr.DataPtrs[j], true
		}
	}
	return nil, false
}

// Delete removes a key from the tree, rebalancing via borrow/merge.
func (b *BPlusTree) Delete(key types.Comparable) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	root := b.Root
	ok := root.Remove(key)

	if !root.Leaf && root.N == 0 {
		b.Root = root.Children[0]
	}
	return ok
}

// FindLeafLowerBound finds the leaf node for a range scan, read-locked.
// The caller must RUnlock() the returned node. A nil key means "the first key".
func (b *BPlusTree) FindLeafLowerBound(key types.Comparable) (*Node, int) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		var i int
		if key == nil {
			i = 0
		} else {
			i = sort.Search(curr.N, func(i int) bool {
				return curr.Keys[i].Compare(key) >= 0
			})
		}

		child := curr.Children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	var idx int
	if key == nil {
		idx = 0
	} else {
		idx = sort.Search(curr.N, func(i int) bool {
			return curr.Keys[i].Compare(key) >= 0
		})
	}

	return curr, idx
}

// findLeafLowerBound is an internal helper for tests; returns an unlocked node.
func (b *BPlusTree) findLeafLowerBound(key types.Comparable) (*Node, int) {
	node, idx := b.FindLeafLowerBound(key)
	if node != nil {
		node.RUnlock()
	}
	return node, idx
}
