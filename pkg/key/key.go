package key

import (
	"encoding/binary"
	"fmt"

	"github.com/stratadb/strata/pkg/types"
)

// TypeTag is the key model's second field: a small enumeration of which
// primitive a key belongs to.
type TypeTag uint8

const (
	TagKv TypeTag = iota + 1
	TagJson
	TagEvent
	TagState
	TagVector
	TagVectorConfig
	TagRunIndex
	TagTrace
	TagEventMeta
)

func (t TypeTag) String() string {
	switch t {
	case TagKv:
		return "Kv"
	case TagJson:
		return "Json"
	case TagEvent:
		return "Event"
	case TagState:
		return "State"
	case TagVector:
		return "Vector"
	case TagVectorConfig:
		return "VectorConfig"
	case TagRunIndex:
		return "RunIndex"
	case TagTrace:
		return "Trace"
	case TagEventMeta:
		return "EventMeta"
	default:
		return fmt.Sprintf("TypeTag(%d)", uint8(t))
	}
}

// Key is the substrate's structured key: (run_id, type_tag, user_bytes).
// Event and Vector keys additionally carry a Sub identifier (stream name,
// collection name) that is encoded between the tag and the user bytes so a
// prefix scan can be scoped to one stream or one collection without
// scanning the whole tag.
type Key struct {
	Run       RunID
	Tag       TypeTag
	Sub       string
	UserBytes []byte
}

// KV builds a Kv-tagged key from a user-supplied string key.
func KV(run RunID, userKey string) Key {
	return Key{Run: run, Tag: TagKv, UserBytes: []byte(userKey)}
}

// JSON builds a Json-tagged key. JSON documents are stored as ordinary
// keyed entities, one document per key.
func JSON(run RunID, docKey string) Key {
	return Key{Run: run, Tag: TagJson, UserBytes: []byte(docKey)}
}

// Event builds an Event-tagged key for one entry of one stream. Sequence
// numbers are encoded big-endian fixed-width so byte order matches numeric
// order within the stream.
func Event(run RunID, stream string, sequence uint64) Key {
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], sequence)
	return Key{Run: run, Tag: TagEvent, Sub: stream, UserBytes: seqBytes[:]}
}

// EventMeta builds the key a stream's bookkeeping record (next sequence,
// length, hash-chain tail) is stored under, separate from its event entries
// so "which streams exist" can be listed without scanning every event --
// the same separation RunIndexKey uses for run lifecycle records.
func EventMeta(run RunID, stream string) Key {
	return Key{Run: run, Tag: TagEventMeta, UserBytes: []byte(stream)}
}

// State builds a State-tagged key for one named cell.
func State(run RunID, cell string) Key {
	return Key{Run: run, Tag: TagState, UserBytes: []byte(cell)}
}

// Vector builds a Vector-tagged key for one vector row within a collection.
func Vector(run RunID, collection, id string) Key {
	return Key{Run: run, Tag: TagVector, Sub: collection, UserBytes: []byte(id)}
}

// VectorConfig builds the key a vector collection's metadata (dimension,
// metric, ANN backend handle) is stored under, distinct from the
// collection's per-vector rows so metadata survives independently of them.
func VectorConfig(run RunID, collection string) Key {
	return Key{Run: run, Tag: TagVectorConfig, UserBytes: []byte(collection)}
}

// RunIndexKey builds the key a run's RunInfo lifecycle record is stored
// under. The indexed run is encoded in user_bytes, not in Run, because the
// run index itself lives under the default run's namespace: it is
// metadata about runs, not data belonging to one.
func RunIndexKey(indexedRun RunID) Key {
	b := indexedRun.Bytes()
	return Key{Run: DefaultRunID(), Tag: TagRunIndex, UserBytes: b[:]}
}

// Trace builds a Trace-tagged key for one trace entry.
func Trace(run RunID, id string) Key {
	return Key{Run: run, Tag: TagTrace, UserBytes: []byte(id)}
}

// Encode renders the key as the lexicographically-sortable byte string the
// shards and the B+Tree actually index: run_id(16) ‖ type_tag(1) ‖
// [sub_len(2 BE) ‖ sub] ‖ user_bytes.
func (k Key) Encode() types.KeyBytes {
	runBytes := k.Run.Bytes()
	size := 16 + 1 + len(k.UserBytes)
	if k.Sub != "" {
		size += 2 + len(k.Sub)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, runBytes[:]...)
	buf = append(buf, byte(k.Tag))
	if k.Sub != "" {
		var subLen [2]byte
		binary.BigEndian.PutUint16(subLen[:], uint16(len(k.Sub)))
		buf = append(buf, subLen[:]...)
		buf = append(buf, k.Sub...)
	}
	buf = append(buf, k.UserBytes...)
	return types.KeyBytes(buf)
}

// Prefix returns the encoded prefix shared by every key of this Key's
// (run, tag) pair -- or, if Sub is set, every key of this Key's
// (run, tag, sub) triple. Used to scope range/prefix scans (e.g. every
// event of one stream, every vector of one collection).
func Prefix(run RunID, tag TypeTag, sub string) []byte {
	runBytes := run.Bytes()
	buf := make([]byte, 0, 16+1+2+len(sub))
	buf = append(buf, runBytes[:]...)
	buf = append(buf, byte(tag))
	if sub != "" {
		var subLen [2]byte
		binary.BigEndian.PutUint16(subLen[:], uint16(len(sub)))
		buf = append(buf, subLen[:]...)
		buf = append(buf, sub...)
	}
	return buf
}

// RunPrefix returns the encoded prefix shared by every key belonging to a
// run, across all type tags -- used by run_delete's scan-and-remove.
func RunPrefix(run RunID) []byte {
	b := run.Bytes()
	out := make([]byte, 16)
	copy(out, b[:])
	return out
}
