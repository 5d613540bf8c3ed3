// Package events implements the event log primitive (spec §4.8):
// append-only, per-stream sequenced entries with an optional hash chain for
// tamper-evidence. Sequence allocation and the hash-chain tail are committed
// atomically with the event itself via a CAS on the stream's bookkeeping
// record, the same "CAS on the stream head" shape spec §4.8 describes.
package events

import (
	"crypto/sha256"

	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/storage"
	"github.com/stratadb/strata/pkg/value"
)

// Sequence identifies one event's position within its stream.
type Sequence = uint64

// Store implements the event log primitive over one Database.
type Store struct {
	db *storage.Database
}

// New wraps db as an event log store.
func New(db *storage.Database) *Store {
	return &Store{db: db}
}

func validateStream(stream string) error {
	if stream == "" {
		return &errors.InvalidKey{Key: stream, Reason: "stream name must not be empty"}
	}
	return nil
}

func (s *Store) eventKey(run key.RunID, stream string, seq uint64) []byte {
	return key.Event(run, stream, seq).Encode()
}

func (s *Store) metaKey(run key.RunID, stream string) []byte {
	return key.EventMeta(run, stream).Encode()
}

type streamMeta struct {
	nextSequence uint64
	length       uint64
	lastHash     []byte // nil if the chain has never been advanced
}

func decodeMeta(v value.Value) streamMeta {
	var m streamMeta
	if n, ok := v.ObjectGet("next_sequence"); ok {
		if i, ok := n.AsInt(); ok {
			m.nextSequence = uint64(i)
		}
	}
	if n, ok := v.ObjectGet("length"); ok {
		if i, ok := n.AsInt(); ok {
			m.length = uint64(i)
		}
	}
	if h, ok := v.ObjectGet("last_hash"); ok {
		if b, ok := h.AsBytes(); ok {
			m.lastHash = b
		}
	}
	return m
}

func encodeMeta(m streamMeta) value.Value {
	fields := []value.ObjectField{
		{Key: "next_sequence", Value: value.Int(int64(m.nextSequence))},
		{Key: "length", Value: value.Int(int64(m.length))},
	}
	if m.lastHash != nil {
		fields = append(fields, value.ObjectField{Key: "last_hash", Value: value.Bytes(m.lastHash)})
	} else {
		fields = append(fields, value.ObjectField{Key: "last_hash", Value: value.Null()})
	}
	return value.Object(fields)
}

func wrapEntry(payload value.Value, hash []byte) value.Value {
	return value.Object([]value.ObjectField{
		{Key: "payload", Value: payload},
		{Key: "hash", Value: value.Bytes(hash)},
	})
}

func unwrapPayload(v value.Value) value.Value {
	p, _ := v.ObjectGet("payload")
	return p
}

func unwrapHash(v value.Value) []byte {
	h, ok := v.ObjectGet("hash")
	if !ok {
		return nil
	}
	b, _ := h.AsBytes()
	return b
}

// chainHash computes H(prev ‖ canonical(payload)) using payload's
// deterministic binary encoding as the canonical form (pkg/value's binary
// codec sorts Object fields by key and has no reflection-driven ambiguity,
// so two equal payloads always hash identically).
func chainHash(prev []byte, payload value.Value) []byte {
	h := sha256.New()
	h.Write(prev)
	h.Write(value.EncodeBinary(payload))
	return h.Sum(nil)
}

// Append adds payload to stream, returning its allocated sequence number.
// payload must be an Object.
func (s *Store) Append(run key.RunID, stream string, payload value.Value) (Sequence, error) {
	if err := validateStream(stream); err != nil {
		return 0, err
	}
	if payload.Kind() != value.KindObject {
		return 0, &errors.WrongType{Expected: "Object", Actual: payload.TypeName()}
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return 0, err
	}

	mKey := s.metaKey(run, stream)
	txn := s.db.Coordinator.BeginTxn()

	metaVal, existed := txn.Get(mKey)
	var meta streamMeta
	if existed {
		meta = decodeMeta(metaVal)
	}

	seq := meta.nextSequence
	hash := chainHash(meta.lastHash, payload)

	txn.Put(s.eventKey(run, stream, seq), wrapEntry(payload, hash))

	newMeta := streamMeta{nextSequence: seq + 1, length: meta.length + 1, lastHash: hash}
	txn.CompareAndSwap(mKey, txn.ObservedVersion(mKey), encodeMeta(newMeta))

	if err := txn.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// Range returns events in [start, end] (inclusive, either bound optional),
// ascending by sequence, capped at limit (0 meaning unbounded).
func (s *Store) Range(run key.RunID, stream string, start, end *uint64, limit int) ([]Entry, error) {
	if err := validateStream(stream); err != nil {
		return nil, err
	}
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()

	scanned := txn.Snapshot().ScanPrefix(key.Prefix(run, key.TagEvent, stream))
	out := make([]Entry, 0, len(scanned))
	for _, se := range scanned {
		seq := decodeSequence(se.Key)
		if start != nil && seq < *start {
			continue
		}
		if end != nil && seq > *end {
			continue
		}
		out = append(out, Entry{Sequence: seq, Payload: unwrapPayload(se.Entry.Value), Hash: unwrapHash(se.Entry.Value)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RevRange is Range in descending sequence order.
func (s *Store) RevRange(run key.RunID, stream string, start, end *uint64, limit int) ([]Entry, error) {
	// No reverse bound is supplied to Range itself (it always scans
	// ascending); the limit is applied after reversing so "most recent N"
	// reads correctly instead of "earliest N within the range".
	all, err := s.Range(run, stream, start, end, 0)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Entry is one event as returned by a read operation.
type Entry struct {
	Sequence uint64
	Payload  value.Value
	Hash     []byte
}

func decodeSequence(encodedKey []byte) uint64 {
	// the last 8 bytes of an Event key are always the big-endian sequence.
	n := len(encodedKey)
	b := encodedKey[n-8:]
	var seq uint64
	for _, c := range b {
		seq = seq<<8 | uint64(c)
	}
	return seq
}

// Get returns the event at sequence, or ok=false if it does not exist.
func (s *Store) Get(run key.RunID, stream string, seq uint64) (Entry, bool, error) {
	if err := validateStream(stream); err != nil {
		return Entry{}, false, err
	}
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()

	v, ok := txn.Get(s.eventKey(run, stream, seq))
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Sequence: seq, Payload: unwrapPayload(v), Hash: unwrapHash(v)}, true, nil
}

// Len returns the number of events ever appended to stream (0 if the stream
// has never been written to).
func (s *Store) Len(run key.RunID, stream string) (uint64, error) {
	if err := validateStream(stream); err != nil {
		return 0, err
	}
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()
	v, ok := txn.Get(s.metaKey(run, stream))
	if !ok {
		return 0, nil
	}
	return decodeMeta(v).length, nil
}

// LatestSequence returns the most recently allocated sequence number, and
// ok=false if the stream has never been written to.
func (s *Store) LatestSequence(run key.RunID, stream string) (uint64, bool, error) {
	if err := validateStream(stream); err != nil {
		return 0, false, err
	}
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()
	v, ok := txn.Get(s.metaKey(run, stream))
	if !ok || decodeMeta(v).nextSequence == 0 {
		return 0, false, nil
	}
	return decodeMeta(v).nextSequence - 1, true, nil
}

// Head returns the most recently appended event, or ok=false if stream is
// empty.
func (s *Store) Head(run key.RunID, stream string) (Entry, bool, error) {
	seq, ok, err := s.LatestSequence(run, stream)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	return s.Get(run, stream, seq)
}

// Streams lists every stream that has ever been appended to within run.
func (s *Store) Streams(run key.RunID) ([]string, error) {
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()

	prefix := key.Prefix(run, key.TagEventMeta, "")
	scanned := txn.Snapshot().ScanPrefix(prefix)
	out := make([]string, 0, len(scanned))
	for _, se := range scanned {
		out = append(out, string(se.Key[len(prefix):]))
	}
	return out, nil
}

// ChainVerification is verify_chain's result for one run.
type ChainVerification struct {
	IsValid      bool
	Length       uint64
	FirstInvalid *uint64 // sequence of the first stream/entry that failed, within the first invalid stream
	Error        string
}

// VerifyChain walks every stream in run and recomputes the hash chain,
// comparing each recomputed hash against the one stored with the event.
func (s *Store) VerifyChain(run key.RunID) (ChainVerification, error) {
	streams, err := s.Streams(run)
	if err != nil {
		return ChainVerification{}, err
	}

	var total uint64
	for _, stream := range streams {
		entries, err := s.Range(run, stream, nil, nil, 0)
		if err != nil {
			return ChainVerification{}, err
		}
		var prev []byte
		for _, e := range entries {
			want := chainHash(prev, e.Payload)
			total++
			if !bytesEqual(want, e.Hash) {
				seq := e.Sequence
				return ChainVerification{
					IsValid:      false,
					Length:       total,
					FirstInvalid: &seq,
					Error:        "hash chain mismatch at stream " + stream,
				}, nil
			}
			prev = e.Hash
		}
	}
	return ChainVerification{IsValid: true, Length: total}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
