package storage

import (
	"github.com/stratadb/strata/pkg/btree"
	"github.com/stratadb/strata/pkg/types"
)

// shardBranchingFactor is the B+Tree order used for every shard's index.
// The tree only ever holds one entry per distinct key (the chain head), so
// a unique tree is the right shape.
const shardBranchingFactor = 64

// shard owns one slice of the keyspace: a unique B+Tree mapping encoded key
// bytes to that key's version chain.
type shard struct {
	tree *btree.BPlusTree
}

func newShard() *shard {
	return &shard{tree: btree.NewUniqueTree(shardBranchingFactor)}
}

// chainFor returns the version chain for key, creating an empty one on
// first use. Creation under Upsert is safe for concurrent callers; the
// chain itself is only ever written by the coordinator under commitMu.
func (s *shard) chainFor(key []byte) *versionChain {
	var result *versionChain
	_ = s.tree.Upsert(types.KeyBytes(key), func(old any, exists bool) (any, error) {
		if exists {
			result = old.(*versionChain)
			return old, nil
		}
		result = &versionChain{}
		return result, nil
	})
	return result
}

// lookup returns the version chain for key without creating one.
func (s *shard) lookup(key []byte) (*versionChain, bool) {
	v, ok := s.tree.Get(types.KeyBytes(key))
	if !ok {
		return nil, false
	}
	return v.(*versionChain), true
}

// scan walks every (key, chain) pair in the shard's natural tree order,
// starting at the first key >= from (nil means the first key), invoking fn
// for each. fn returning false stops the scan early. Mirrors the leaf-chain
// walk of the teacher's read-only Cursor, lock-coupled one leaf at a time.
func (s *shard) scan(from []byte, fn func(key []byte, chain *versionChain) bool) {
	var startKey types.Comparable
	if from != nil {
		startKey = types.KeyBytes(from)
	}
	node, idx := s.tree.FindLeafLowerBound(startKey)
	for node != nil {
		for i := idx; i < node.N; i++ {
			key := []byte(node.Keys[i].(types.KeyBytes))
			chain := node.DataPtrs[i].(*versionChain)
			if !fn(key, chain) {
				node.RUnlock()
				return
			}
		}
		next := node.Next
		if next != nil {
			next.RLock()
		}
		node.RUnlock()
		node = next
		idx = 0
	}
}
