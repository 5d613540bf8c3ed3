// Package errors defines Strata's stable error taxonomy: one Go struct per
// wire error code, each carrying the structured fields its wire `details`
// object needs.
package errors

import (
	"fmt"

	"github.com/stratadb/strata/pkg/value"
)

// NotFound reports that a key has no live (non-tombstoned) value.
type NotFound struct {
	Key string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("key not found: %s", e.Key)
}

// WrongType reports that a value was not of the type an operation expected
// (e.g. a JSON operation found the root was not an Object).
type WrongType struct {
	Expected string
	Actual   string
}

func (e *WrongType) Error() string {
	return fmt.Sprintf("wrong type: expected %s, got %s", e.Expected, e.Actual)
}

// InvalidKey reports that a key failed the substrate's syntax constraints
// (empty, or containing the key-encoding's delimiter byte).
type InvalidKey struct {
	Key    string
	Reason string
}

func (e *InvalidKey) Error() string {
	return fmt.Sprintf("invalid key %q: %s", e.Key, e.Reason)
}

// InvalidPath reports a malformed JSON path expression.
type InvalidPath struct {
	Path   string
	Reason string
}

func (e *InvalidPath) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// HistoryTrimmed reports that a requested version is older than what
// retention still keeps.
type HistoryTrimmed struct {
	Requested        uint64
	EarliestRetained uint64
}

func (e *HistoryTrimmed) Error() string {
	return fmt.Sprintf("history trimmed: requested %d, earliest retained %d", e.Requested, e.EarliestRetained)
}

// ConstraintViolation reports a structural, API-level invariant violation:
// writing to a closed run, replacing a JSON root with a non-Object,
// deleting a JSON document at "$", and similar.
type ConstraintViolation struct {
	Reason string
	Extra  *value.Value
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violation: %s", e.Reason)
}

// Conflict reports a temporal (first-committer-wins) validation failure: a
// transaction's read set or CAS set observed a version that the key no
// longer has at commit time.
type Conflict struct {
	Key      string
	Expected value.Value
	Actual   value.Value
}

func (e *Conflict) Error() string {
	return fmt.Sprintf("conflict on key %q: expected %s, found %s", e.Key, e.Expected.TypeName(), e.Actual.TypeName())
}

// Overflow reports that an incr/decr operation would wrap an int64.
type Overflow struct {
	Key string
}

func (e *Overflow) Error() string {
	return fmt.Sprintf("numeric overflow on key %q", e.Key)
}

// RunNotFound reports that a run id has no entry in the run index.
type RunNotFound struct {
	RunID string
}

func (e *RunNotFound) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// RunClosed reports that a run exists but rejects writes in its current
// lifecycle state (Closed, Failed, Cancelled, Archived).
type RunClosed struct {
	RunID string
	State string
}

func (e *RunClosed) Error() string {
	return fmt.Sprintf("run %s is %s", e.RunID, e.State)
}

// RunExists reports that run_create was called with an id already in use.
type RunExists struct {
	RunID string
}

func (e *RunExists) Error() string {
	return fmt.Sprintf("run already exists: %s", e.RunID)
}

// SerializationError reports a binary/JSON codec failure (corrupt WAL
// record, malformed wire value).
type SerializationError struct {
	Message string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error: %s", e.Message)
}

// StorageError reports a failure from the storage layer itself (I/O,
// checksum mismatch). It is never remapped to NotFound by callers -- a
// storage error must never be mistaken for "the key does not exist".
type StorageError struct {
	Message string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s", e.Message)
}

// Internal reports a bug or broken invariant. It should never surface from
// a correct program; callers treat it as non-retriable.
type Internal struct {
	Message string
}

func (e *Internal) Error() string {
	return fmt.Sprintf("internal error: %s", e.Message)
}

// DuplicateKeyError is raised by a unique btree.BPlusTree on Insert of an
// existing key. It is an internal structural-index error, not one of the
// wire codes in the error taxonomy -- no substrate operation uses a unique
// tree in a way that lets this escape to a caller (every MVCC head update
// goes through Upsert, not Insert).
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key violation: key %q already exists in unique index", e.Key)
}
