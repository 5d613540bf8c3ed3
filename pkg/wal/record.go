package wal

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/stratadb/strata/pkg/value"
)

// Record is the WAL's single envelope for every kind of durable operation.
// Only the fields relevant to Kind are populated; the rest stay at their
// zero value. One struct (rather than one Go type per kind) keeps the
// Encode/Decode pair simple and mirrors the way entry.go already frames one
// fixed header for every kind of entry.
type Record struct {
	Kind RecordKind

	TxnID           uint64
	RunID           [16]byte
	Key             []byte
	Value           value.Value
	Version         uint64
	TimestampMicros int64

	// Vector/collection fields.
	CollectionName string
	Dimension      uint32
	Metric         string

	// Run lifecycle fields.
	RunState string
}

// Field numbers for the protowire-framed payload. Not every field applies to
// every Kind; absent fields are simply omitted from the encoding.
const (
	recFieldKind            protowire.Number = 1
	recFieldTxnID           protowire.Number = 2
	recFieldRunID           protowire.Number = 3
	recFieldKey             protowire.Number = 4
	recFieldValue           protowire.Number = 5
	recFieldVersion         protowire.Number = 6
	recFieldTimestampMicros protowire.Number = 7
	recFieldCollectionName  protowire.Number = 8
	recFieldDimension       protowire.Number = 9
	recFieldMetric          protowire.Number = 10
	recFieldRunState        protowire.Number = 11
)

// EncodeRecord serializes a record to its payload bytes (the part that
// follows the WALHeader and is covered by its CRC32).
func EncodeRecord(r Record) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, recFieldKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Kind))

	if r.TxnID != 0 {
		buf = protowire.AppendTag(buf, recFieldTxnID, protowire.VarintType)
		buf = protowire.AppendVarint(buf, r.TxnID)
	}
	if r.RunID != ([16]byte{}) {
		buf = protowire.AppendTag(buf, recFieldRunID, protowire.BytesType)
		buf = protowire.AppendBytes(buf, r.RunID[:])
	}
	if len(r.Key) > 0 {
		buf = protowire.AppendTag(buf, recFieldKey, protowire.BytesType)
		buf = protowire.AppendBytes(buf, r.Key)
	}
	if r.Kind == KindWrite || r.Kind == KindVectorUpsert {
		buf = protowire.AppendTag(buf, recFieldValue, protowire.BytesType)
		buf = protowire.AppendBytes(buf, value.EncodeBinary(r.Value))
	}
	if r.Version != 0 {
		buf = protowire.AppendTag(buf, recFieldVersion, protowire.VarintType)
		buf = protowire.AppendVarint(buf, r.Version)
	}
	if r.TimestampMicros != 0 {
		buf = protowire.AppendTag(buf, recFieldTimestampMicros, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(r.TimestampMicros))
	}
	if r.CollectionName != "" {
		buf = protowire.AppendTag(buf, recFieldCollectionName, protowire.BytesType)
		buf = protowire.AppendString(buf, r.CollectionName)
	}
	if r.Dimension != 0 {
		buf = protowire.AppendTag(buf, recFieldDimension, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(r.Dimension))
	}
	if r.Metric != "" {
		buf = protowire.AppendTag(buf, recFieldMetric, protowire.BytesType)
		buf = protowire.AppendString(buf, r.Metric)
	}
	if r.RunState != "" {
		buf = protowire.AppendTag(buf, recFieldRunState, protowire.BytesType)
		buf = protowire.AppendString(buf, r.RunState)
	}

	return buf
}

// DecodeRecord parses a payload produced by EncodeRecord.
func DecodeRecord(buf []byte) (Record, error) {
	var r Record
	off := 0

	for off < len(buf) {
		num, typ, n := protowire.ConsumeTag(buf[off:])
		if n < 0 {
			return Record{}, fmt.Errorf("wal: bad record tag at offset %d", off)
		}
		off += n

		switch num {
		case recFieldKind:
			v, m := protowire.ConsumeVarint(buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: bad kind varint")
			}
			off += m
			r.Kind = RecordKind(v)
		case recFieldTxnID:
			v, m := protowire.ConsumeVarint(buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: bad txn_id varint")
			}
			off += m
			r.TxnID = v
		case recFieldRunID:
			v, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: bad run_id bytes")
			}
			off += m
			if len(v) != 16 {
				return Record{}, fmt.Errorf("wal: run_id field has length %d, want 16", len(v))
			}
			copy(r.RunID[:], v)
		case recFieldKey:
			v, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: bad key bytes")
			}
			off += m
			r.Key = append([]byte(nil), v...)
		case recFieldValue:
			v, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: bad value bytes")
			}
			off += m
			decoded, err := value.DecodeBinary(v)
			if err != nil {
				return Record{}, fmt.Errorf("wal: decode record value: %w", err)
			}
			r.Value = decoded
		case recFieldVersion:
			v, m := protowire.ConsumeVarint(buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: bad version varint")
			}
			off += m
			r.Version = v
		case recFieldTimestampMicros:
			v, m := protowire.ConsumeVarint(buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: bad timestamp_micros varint")
			}
			off += m
			r.TimestampMicros = int64(v)
		case recFieldCollectionName:
			v, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: bad collection_name bytes")
			}
			off += m
			r.CollectionName = string(v)
		case recFieldDimension:
			v, m := protowire.ConsumeVarint(buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: bad dimension varint")
			}
			off += m
			r.Dimension = uint32(v)
		case recFieldMetric:
			v, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: bad metric bytes")
			}
			off += m
			r.Metric = string(v)
		case recFieldRunState:
			v, m := protowire.ConsumeBytes(buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: bad run_state bytes")
			}
			off += m
			r.RunState = string(v)
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf[off:])
			if m < 0 {
				return Record{}, fmt.Errorf("wal: unknown record field %d", num)
			}
			off += m
		}
	}

	return r, nil
}
