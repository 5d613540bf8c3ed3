// Package vector implements the vector primitive (spec §4.10): named
// collections of fixed-dimension embeddings with metadata, durable in the
// substrate, indexed for k-NN search by an in-memory backend reconstructed
// from substrate state on open.
package vector

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/storage"
	"github.com/stratadb/strata/pkg/value"
)

// CollectionInfo describes one vector collection's immutable configuration.
type CollectionInfo struct {
	Name      string
	Dimension int
	Metric    Metric
}

// Store implements the vector primitive over one Database. The ANN backend
// (one flatIndex per collection) is an in-memory cache: rebuilt from
// substrate state at construction time via New, exactly the "vectors are
// replayed and re-indexed on open" contract spec §4.10 names, except
// anchored at Store construction rather than Database.Open so the ANN
// backend stays a vector-primitive concern instead of a storage-substrate
// one.
type Store struct {
	db *storage.Database

	mu      sync.RWMutex
	indexes map[string]*flatIndex // collection name -> backend
}

// New wraps db as a vector store and rebuilds every collection's in-memory
// ANN backend from the substrate's current state.
func New(db *storage.Database) *Store {
	s := &Store{db: db, indexes: make(map[string]*flatIndex)}
	s.rebuildAll()
	return s
}

// rebuildAll walks every run's configured collections and rebuilds each
// one's in-memory ANN backend from durable substrate state -- collections
// are scoped per run, so there is no single global prefix to scan; the run
// index is the only durable catalog of which runs exist at all.
func (s *Store) rebuildAll() {
	for _, info := range s.db.Runs.ListRuns() {
		cfgPrefix := key.Prefix(info.ID, key.TagVectorConfig, "")
		entries := s.db.Store.ScanPrefix(cfgPrefix, s.db.Store.CurrentVersion())
		for _, e := range entries {
			cfg, ok := decodeConfig(e.Entry.Value)
			if !ok {
				continue
			}
			s.rebuildCollection(info.ID, cfg.Name)
		}
	}
}

func (s *Store) rebuildCollection(run key.RunID, collection string) {
	idx := newFlatIndex()
	vecPrefix := key.Prefix(run, key.TagVector, collection)
	entries := s.db.Store.ScanPrefix(vecPrefix, s.db.Store.CurrentVersion())
	for _, e := range entries {
		id := string(e.Key[len(vecPrefix):])
		emb, ok := e.Entry.Value.ObjectGet("embedding")
		if !ok {
			continue
		}
		b, ok := emb.AsBytes()
		if !ok {
			continue
		}
		idx.put(id, decodeFloats(b))
	}
	s.mu.Lock()
	s.indexes[indexKey(run, collection)] = idx
	s.mu.Unlock()
}

func indexKey(run key.RunID, collection string) string {
	return run.String() + "\x00" + collection
}

func (s *Store) indexFor(run key.RunID, collection string) (*flatIndex, bool) {
	s.mu.RLock()
	idx, ok := s.indexes[indexKey(run, collection)]
	s.mu.RUnlock()
	return idx, ok
}

func (s *Store) setIndex(run key.RunID, collection string, idx *flatIndex) {
	s.mu.Lock()
	s.indexes[indexKey(run, collection)] = idx
	s.mu.Unlock()
}

func (s *Store) dropIndex(run key.RunID, collection string) {
	s.mu.Lock()
	delete(s.indexes, indexKey(run, collection))
	s.mu.Unlock()
}

func encodeFloats(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloats(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func configKey(run key.RunID, collection string) []byte {
	return key.VectorConfig(run, collection).Encode()
}

func encodeConfig(info CollectionInfo) value.Value {
	return value.Object([]value.ObjectField{
		{Key: "name", Value: value.String(info.Name)},
		{Key: "dimension", Value: value.Int(int64(info.Dimension))},
		{Key: "metric", Value: value.String(info.Metric.String())},
	})
}

func decodeConfig(v value.Value) (CollectionInfo, bool) {
	name, ok := v.ObjectGet("name")
	if !ok {
		return CollectionInfo{}, false
	}
	nameStr, _ := name.AsString()
	dimVal, _ := v.ObjectGet("dimension")
	dim, _ := dimVal.AsInt()
	metricVal, _ := v.ObjectGet("metric")
	metricStr, _ := metricVal.AsString()
	metric, _ := ParseMetric(metricStr)
	return CollectionInfo{Name: nameStr, Dimension: int(dim), Metric: metric}, true
}

// CreateCollection explicitly creates collection with an immutable
// dimension and metric.
func (s *Store) CreateCollection(run key.RunID, collection string, dimension int, metric Metric) error {
	if err := s.db.Runs.RequireActive(run); err != nil {
		return err
	}
	cfgKey := configKey(run, collection)
	txn := s.db.Coordinator.BeginTxn()
	if _, existed := txn.Get(cfgKey); existed {
		txn.Rollback()
		return &errors.ConstraintViolation{Reason: "vector collection already exists: " + collection}
	}
	info := CollectionInfo{Name: collection, Dimension: dimension, Metric: metric}
	txn.Put(cfgKey, encodeConfig(info))
	if err := txn.Commit(); err != nil {
		return err
	}
	s.setIndex(run, collection, newFlatIndex())
	return nil
}

// GetCollectionInfo returns collection's configuration.
func (s *Store) GetCollectionInfo(run key.RunID, collection string) (CollectionInfo, error) {
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()
	v, ok := txn.Get(configKey(run, collection))
	if !ok {
		return CollectionInfo{}, &errors.NotFound{Key: collection}
	}
	info, ok := decodeConfig(v)
	if !ok {
		return CollectionInfo{}, &errors.Internal{Message: "corrupt vector collection config"}
	}
	return info, nil
}

// ListCollections lists every collection configured within run.
func (s *Store) ListCollections(run key.RunID) ([]string, error) {
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()
	prefix := key.Prefix(run, key.TagVectorConfig, "")
	entries := txn.Snapshot().ScanPrefix(prefix)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		info, ok := decodeConfig(e.Entry.Value)
		if ok {
			out = append(out, info.Name)
		}
	}
	return out, nil
}

// DropCollection deletes collection's configuration, every vector row
// within it, and its in-memory index.
func (s *Store) DropCollection(run key.RunID, collection string) error {
	if err := s.db.Runs.RequireActive(run); err != nil {
		return err
	}
	cfgKey := configKey(run, collection)
	txn := s.db.Coordinator.BeginTxn()
	if _, existed := txn.Get(cfgKey); !existed {
		txn.Rollback()
		return &errors.NotFound{Key: collection}
	}

	vecPrefix := key.Prefix(run, key.TagVector, collection)
	entries := txn.Snapshot().ScanPrefix(vecPrefix)
	for _, e := range entries {
		txn.Delete(e.Key)
	}
	txn.Delete(cfgKey)
	if err := txn.Commit(); err != nil {
		return err
	}
	s.dropIndex(run, collection)
	return nil
}

// Count returns the number of vectors currently in collection.
func (s *Store) Count(run key.RunID, collection string) (int, error) {
	idx, ok := s.indexFor(run, collection)
	if !ok {
		if _, err := s.GetCollectionInfo(run, collection); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return idx.count(), nil
}

func validateVectorID(id string) error {
	if id == "" {
		return &errors.InvalidKey{Key: id, Reason: "vector id must not be empty"}
	}
	return nil
}

// Upsert writes vec and optional metadata under id, replacing any previous
// row. vec's length must equal the collection's configured dimension.
func (s *Store) Upsert(run key.RunID, collection, id string, vec []float32, metadata value.Value) error {
	if err := validateVectorID(id); err != nil {
		return err
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return err
	}
	info, err := s.GetCollectionInfo(run, collection)
	if err != nil {
		return err
	}
	if len(vec) != info.Dimension {
		return &errors.ConstraintViolation{Reason: "vector dimension mismatch"}
	}

	rowKey := key.Vector(run, collection, id).Encode()
	row := value.Object([]value.ObjectField{
		{Key: "embedding", Value: value.Bytes(encodeFloats(vec))},
		{Key: "metadata", Value: metadata},
	})

	txn := s.db.Coordinator.BeginTxn()
	txn.CompareAndSwap(rowKey, txn.ObservedVersion(rowKey), row)
	if err := txn.Commit(); err != nil {
		return err
	}

	idx, ok := s.indexFor(run, collection)
	if !ok {
		idx = newFlatIndex()
		s.setIndex(run, collection, idx)
	}
	idx.put(id, vec)
	return nil
}

// Row is one vector's full stored state.
type Row struct {
	Vector   []float32
	Metadata value.Value
	Version  uint64
}

// Get returns id's row, or ok=false if absent.
func (s *Store) Get(run key.RunID, collection, id string) (Row, bool, error) {
	if err := validateVectorID(id); err != nil {
		return Row{}, false, err
	}
	rowKey := key.Vector(run, collection, id).Encode()
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()

	v, ok := txn.Get(rowKey)
	if !ok {
		return Row{}, false, nil
	}
	emb, _ := v.ObjectGet("embedding")
	embBytes, _ := emb.AsBytes()
	metadata, _ := v.ObjectGet("metadata")
	return Row{Vector: decodeFloats(embBytes), Metadata: metadata, Version: txn.ObservedVersion(rowKey)}, true, nil
}

// Delete removes id from collection.
func (s *Store) Delete(run key.RunID, collection, id string) error {
	if err := validateVectorID(id); err != nil {
		return err
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return err
	}
	rowKey := key.Vector(run, collection, id).Encode()
	txn := s.db.Coordinator.BeginTxn()
	txn.Delete(rowKey)
	if err := txn.Commit(); err != nil {
		return err
	}
	if idx, ok := s.indexFor(run, collection); ok {
		idx.remove(id)
	}
	return nil
}

// SearchHit is one result of Search.
type SearchHit struct {
	ID       string
	Score    float64
	Vector   []float32
	Metadata value.Value
	Version  uint64
}

// Search returns the k vectors most similar to query, optionally filtered
// by metadata (applied post-ANN, as spec §4.10 specifies) and with the
// collection's configured metric overridden by metricOverride if non-nil.
func (s *Store) Search(run key.RunID, collection string, query []float32, k int, filter *Filter, metricOverride *Metric) ([]SearchHit, error) {
	info, err := s.GetCollectionInfo(run, collection)
	if err != nil {
		return nil, err
	}
	if len(query) != info.Dimension {
		return nil, &errors.ConstraintViolation{Reason: "query vector dimension mismatch"}
	}
	metric := info.Metric
	if metricOverride != nil {
		metric = *metricOverride
	}

	idx, ok := s.indexFor(run, collection)
	if !ok {
		return nil, nil
	}
	candidates := idx.search(query, metric, 0) // unbounded: filter runs before the k cutoff

	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()

	out := make([]SearchHit, 0, k)
	for _, c := range candidates {
		rowKey := key.Vector(run, collection, c.id).Encode()
		v, ok := txn.Get(rowKey)
		if !ok {
			continue
		}
		metadata, _ := v.ObjectGet("metadata")
		if filter != nil && !filter.matches(metadata) {
			continue
		}
		emb, _ := v.ObjectGet("embedding")
		embBytes, _ := emb.AsBytes()
		out = append(out, SearchHit{
			ID:       c.id,
			Score:    c.score,
			Vector:   decodeFloats(embBytes),
			Metadata: metadata,
			Version:  txn.ObservedVersion(rowKey),
		})
		if k > 0 && len(out) >= k {
			break
		}
	}
	return out, nil
}
