package wal

import (
	"encoding/binary"
	"io"
	"os"
	"testing"

	"github.com/stratadb/strata/pkg/value"
)

func TestSegmentReader_ReadsEntriesInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(Options{Dir: dir, Durability: DurabilityStrict, BufferSize: 1024, SegmentSizeThreshold: 1 << 30})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if _, err := w.Append(Record{Kind: KindWrite, Key: []byte("a"), Value: value.Int(1), Version: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := w.Append(Record{Kind: KindCommitTxn, TxnID: 9}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w.Close()

	r, err := NewSegmentReader(segmentPath(dir, 1))
	if err != nil {
		t.Fatalf("NewSegmentReader: %v", err)
	}
	defer r.Close()

	e1, err := r.ReadEntry()
	if err != nil {
		t.Fatalf("ReadEntry 1: %v", err)
	}
	rec1, err := DecodeRecord(e1.Payload)
	if err != nil {
		t.Fatalf("DecodeRecord 1: %v", err)
	}
	if rec1.Kind != KindWrite || string(rec1.Key) != "a" {
		t.Errorf("unexpected first record: %+v", rec1)
	}
	ReleaseEntry(e1)

	e2, err := r.ReadEntry()
	if err != nil {
		t.Fatalf("ReadEntry 2: %v", err)
	}
	if e2.Header.EntryType != uint8(KindCommitTxn) {
		t.Errorf("EntryType = %d, want KindCommitTxn", e2.Header.EntryType)
	}
	ReleaseEntry(e2)

	if _, err := r.ReadEntry(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestSegmentReader_ChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWriter(Options{Dir: dir, Durability: DurabilityStrict, BufferSize: 1024, SegmentSizeThreshold: 1 << 30})
	w.Append(Record{Kind: KindWrite, Key: []byte("k"), Value: value.String("critical data")})
	w.Close()

	path := segmentPath(dir, 1)
	f, _ := os.OpenFile(path, os.O_RDWR, 0o644)
	f.Seek(int64(HeaderSize+2), 0)
	f.Write([]byte{0xFF})
	f.Close()

	r, _ := NewSegmentReader(path)
	defer r.Close()

	_, err := r.ReadEntry()
	if err != ErrChecksumMismatch {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestSegmentReader_TruncatedPayload(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWriter(Options{Dir: dir, Durability: DurabilityStrict, BufferSize: 1024, SegmentSizeThreshold: 1 << 30})
	w.Append(Record{Kind: KindWrite, Key: []byte("k"), Value: value.String("loooooong data")})
	w.Close()

	path := segmentPath(dir, 1)
	os.Truncate(path, int64(HeaderSize+5))

	r, _ := NewSegmentReader(path)
	defer r.Close()

	_, err := r.ReadEntry()
	if err != io.ErrUnexpectedEOF {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestSegmentReader_InvalidMagic(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/000001.wal"
	f, _ := os.Create(path)
	invalidHeader := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(invalidHeader[0:4], 0xCAFEBABE)
	f.Write(invalidHeader)
	f.Close()

	r, _ := NewSegmentReader(path)
	defer r.Close()

	_, err := r.ReadEntry()
	if err != ErrInvalidMagic {
		t.Errorf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestReadAll_AcrossMultipleSegments(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(Options{Dir: dir, Durability: DurabilityStrict, BufferSize: 64, SegmentSizeThreshold: 1})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	w.Append(Record{Kind: KindWrite, Key: []byte("first"), Value: value.Int(1)})
	w.MaybeRotate()
	w.Append(Record{Kind: KindWrite, Key: []byte("second"), Value: value.Int(2)})
	w.MaybeRotate()
	w.Append(Record{Kind: KindCommitTxn, TxnID: 1})
	w.Close()

	records, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if string(records[0].Key) != "first" {
		t.Errorf("records[0].Key = %q, want first", records[0].Key)
	}
	if string(records[1].Key) != "second" {
		t.Errorf("records[1].Key = %q, want second", records[1].Key)
	}
	if records[2].Kind != KindCommitTxn {
		t.Errorf("records[2].Kind = %v, want KindCommitTxn", records[2].Kind)
	}
}

func TestReadAll_TruncatedLastSegmentTailIsTolerated(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(Options{Dir: dir, Durability: DurabilityStrict, BufferSize: 64, SegmentSizeThreshold: 1 << 30})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Append(Record{Kind: KindWrite, Key: []byte("kept"), Value: value.Int(1)})
	w.Append(Record{Kind: KindWrite, Key: []byte("torn"), Value: value.Int(2)})
	w.Close()

	// Simulate a crash mid-write of the last record: cut off the tail.
	path := segmentPath(dir, 1)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	records, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll should tolerate a torn tail on the last segment: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (the torn second record must be dropped)", len(records))
	}
	if string(records[0].Key) != "kept" {
		t.Errorf("records[0].Key = %q, want kept", records[0].Key)
	}
}

func TestReadAll_EmptyDirReturnsNoRecords(t *testing.T) {
	dir := t.TempDir()
	records, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}
