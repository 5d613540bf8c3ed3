// Package jsondoc implements the JSON document primitive (spec §4.7): a
// KV-like entity whose value must be an Object at the root, with path-scoped
// reads, writes, deletes, and RFC 7396 merge patches. Every mutation runs as
// one substrate transaction with a CAS on the document's observed version,
// grounded on the same read-modify-write-with-CAS shape pkg/kv's Incr uses.
package jsondoc

import (
	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/storage"
	"github.com/stratadb/strata/pkg/value"
)

// Store implements the JSON primitive over one Database.
type Store struct {
	db *storage.Database
}

// New wraps db as a JSON document store.
func New(db *storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) encode(run key.RunID, docKey string) []byte {
	return key.JSON(run, docKey).Encode()
}

func validateDocKey(k string) error {
	if k == "" {
		return &errors.InvalidKey{Key: k, Reason: "key must not be empty"}
	}
	return nil
}

// Set implements json_set. path == "$" is the whole-document replace and
// requires v to be an Object; any other path is a read-modify-write that
// auto-creates intermediate Objects/Arrays.
func (s *Store) Set(run key.RunID, docKey, path string, v value.Value) error {
	if err := validateDocKey(docKey); err != nil {
		return err
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return err
	}
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 && v.Kind() != value.KindObject {
		return &errors.ConstraintViolation{Reason: "json document root must be an Object"}
	}

	encoded := s.encode(run, docKey)
	txn := s.db.Coordinator.BeginTxn()

	doc := value.Object(nil)
	if raw, existed := txn.Get(encoded); existed {
		decoded, err := decodeDocument(raw)
		if err != nil {
			txn.Rollback()
			return err
		}
		if decoded.Kind() != value.KindObject {
			txn.Rollback()
			return &errors.Internal{Message: "stored json document root was not an Object"}
		}
		doc = decoded
	}

	next, err := set(doc, segs, v)
	if err != nil {
		txn.Rollback()
		return err
	}
	if next.Kind() != value.KindObject {
		txn.Rollback()
		return &errors.ConstraintViolation{Reason: "json document root must remain an Object"}
	}

	payload, err := encodeDocument(next)
	if err != nil {
		txn.Rollback()
		return err
	}
	txn.CompareAndSwap(encoded, txn.ObservedVersion(encoded), payload)
	return txn.Commit()
}

// Get implements json_get: returns the value at path, or ok=false if the
// document does not exist or path is absent within it.
func (s *Store) Get(run key.RunID, docKey, path string) (value.Value, bool, error) {
	if err := validateDocKey(docKey); err != nil {
		return value.Value{}, false, err
	}
	segs, err := parsePath(path)
	if err != nil {
		return value.Value{}, false, err
	}

	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()

	raw, ok := txn.Get(s.encode(run, docKey))
	if !ok {
		return value.Value{}, false, nil
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return value.Value{}, false, err
	}
	return get(doc, segs)
}

// Delete implements json_delete: removes the value at path, returning the
// count removed (0 or 1). Deleting "$" is forbidden -- use the KV-level
// delete for whole-document removal.
func (s *Store) Delete(run key.RunID, docKey, path string) (int, error) {
	if err := validateDocKey(docKey); err != nil {
		return 0, err
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return 0, err
	}
	segs, err := parsePath(path)
	if err != nil {
		return 0, err
	}
	if len(segs) == 0 {
		return 0, &errors.ConstraintViolation{Reason: "deleting the json document root ($) is forbidden; use the KV-level delete"}
	}

	encoded := s.encode(run, docKey)
	txn := s.db.Coordinator.BeginTxn()

	raw, existed := txn.Get(encoded)
	if !existed {
		txn.Rollback()
		return 0, nil
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		txn.Rollback()
		return 0, err
	}

	next, count, err := deleteAt(doc, segs)
	if err != nil {
		txn.Rollback()
		return 0, err
	}
	if count == 0 {
		txn.Rollback()
		return 0, nil
	}

	payload, err := encodeDocument(next)
	if err != nil {
		txn.Rollback()
		return 0, err
	}
	txn.CompareAndSwap(encoded, txn.ObservedVersion(encoded), payload)
	if err := txn.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// Merge implements json_merge: an RFC 7396 merge patch applied at path.
// Null fields in patch delete the corresponding target field; Objects merge
// recursively; arrays and scalars replace wholesale. The document root must
// remain an Object after the merge.
func (s *Store) Merge(run key.RunID, docKey, path string, patch value.Value) error {
	if err := validateDocKey(docKey); err != nil {
		return err
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return err
	}
	segs, err := parsePath(path)
	if err != nil {
		return err
	}

	encoded := s.encode(run, docKey)
	txn := s.db.Coordinator.BeginTxn()

	doc := value.Object(nil)
	if raw, existed := txn.Get(encoded); existed {
		decoded, err := decodeDocument(raw)
		if err != nil {
			txn.Rollback()
			return err
		}
		doc = decoded
	}

	target, ok := get(doc, segs)
	if !ok {
		target = value.Null()
	}
	merged := mergePatch(target, patch)

	next, err := set(doc, segs, merged)
	if err != nil {
		txn.Rollback()
		return err
	}
	if next.Kind() != value.KindObject {
		txn.Rollback()
		return &errors.ConstraintViolation{Reason: "json document root must remain an Object"}
	}

	payload, err := encodeDocument(next)
	if err != nil {
		txn.Rollback()
		return err
	}
	txn.CompareAndSwap(encoded, txn.ObservedVersion(encoded), payload)
	return txn.Commit()
}

// Exists reports whether docKey has a live document. Supplemented from
// original_source's JsonStore::json_exists (dropped from spec.md's own
// operation list but cheap to provide given Get already exists).
func (s *Store) Exists(run key.RunID, docKey string) (bool, error) {
	if err := validateDocKey(docKey); err != nil {
		return false, err
	}
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()
	_, ok := txn.Get(s.encode(run, docKey))
	return ok, nil
}

// GetVersion returns the document's current version, or ok=false if absent.
// Supplemented from original_source's JsonStore::json_get_version.
func (s *Store) GetVersion(run key.RunID, docKey string) (uint64, bool, error) {
	if err := validateDocKey(docKey); err != nil {
		return 0, false, err
	}
	encoded := s.encode(run, docKey)
	v := s.db.Store.CurrentVersion()
	entry, ok := s.db.Store.GetEntry(encoded, v)
	if !ok {
		return 0, false, nil
	}
	return entry.Version, true, nil
}

// History returns up to limit past versions of the whole document, newest
// first (limit <= 0 means unbounded). Supplemented from original_source's
// JsonStore::json_history, built directly on pkg/storage's existing
// per-key version chain -- no new storage mechanism needed.
func (s *Store) History(run key.RunID, docKey string, limit int) ([]storage.ScanEntry, error) {
	if err := validateDocKey(docKey); err != nil {
		return nil, err
	}
	encoded := s.encode(run, docKey)
	entries := s.db.Store.History(encoded, s.db.Store.CurrentVersion())
	out := make([]storage.ScanEntry, 0, len(entries))
	for _, e := range entries {
		entry := e
		if !e.Tombstone {
			decoded, err := decodeDocument(e.Value)
			if err != nil {
				return nil, err
			}
			entry = &storage.VersionedEntry{
				Value:           decoded,
				Version:         e.Version,
				TimestampMicros: e.TimestampMicros,
				Tombstone:       e.Tombstone,
			}
		}
		out = append(out, storage.ScanEntry{Key: encoded, Entry: entry})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
