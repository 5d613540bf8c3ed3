// Package runbundle implements the consumer side of a run bundle archive
// (spec section 6.5): a zstd-over-tar stream holding MANIFEST.json,
// RUN.json, and WAL.runlog for a single run, with per-file checksums the
// manifest must match. Strata's own storage layer never writes these --
// run bundles are an export/import format other tooling produces and
// consumes -- so this package also provides Export, a reference producer,
// to exercise the round trip and give Import something real to validate
// against.
package runbundle

import (
	"archive/tar"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/DataDog/zstd"
	"github.com/cespare/xxhash/v2"
	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/storage"
	"github.com/stratadb/strata/pkg/value"
)

// FormatVersion is the bundle format's own version, independent of the
// substrate's on-disk meta.json format version. Import rejects any other
// value with errors.Internal.
const FormatVersion = 1

const (
	manifestName = "MANIFEST.json"
	runName      = "RUN.json"
	walLogName   = "WAL.runlog"
)

// The spec names the checksum algorithm "xxh3"; the example pack's closest
// available dependency is cespare/xxhash/v2, which implements XXH64, not
// XXH3. Checksums below are XXH64 hex digests -- see DESIGN.md.

// FileChecksum is one manifest entry: a bundle member's name, size, and
// checksum.
type FileChecksum struct {
	Name string `json:"name"`
	Hash string `json:"xxh3"`
	Size int64  `json:"size"`
}

// Manifest is MANIFEST.json's parsed shape.
type Manifest struct {
	FormatVersion int            `json:"format_version"`
	Run           string         `json:"run"`
	CreatedAt     int64          `json:"created_at"`
	Files         []FileChecksum `json:"files"`
}

// RunDescriptor is RUN.json's parsed shape: the run's lifecycle record at
// export time.
type RunDescriptor struct {
	ID        string      `json:"id"`
	State     string      `json:"state"`
	CreatedAt int64       `json:"created_at"`
	ClosedAt  *int64      `json:"closed_at,omitempty"`
	Metadata  value.Value `json:"metadata"`
}

// Record is one entry in WAL.runlog: a committed key/value pair (or
// tombstone) belonging to the bundled run.
type Record struct {
	Key             []byte
	Value           value.Value
	Version         uint64
	TimestampMicros int64
	Tombstone       bool
}

// Bundle is a fully validated, decoded run bundle.
type Bundle struct {
	Manifest Manifest
	Run      RunDescriptor
	Records  []Record
}

func checksum(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// Export writes run's current substrate state as a run bundle archive to
// w: every live key under run's namespace, plus its lifecycle record.
func Export(db *storage.Database, run key.RunID, w io.Writer) error {
	info, err := db.Runs.GetRun(run)
	if err != nil {
		return err
	}

	desc := RunDescriptor{
		ID:        info.ID.String(),
		State:     info.State.String(),
		CreatedAt: info.CreatedAt,
		ClosedAt:  info.ClosedAt,
		Metadata:  info.Metadata,
	}
	runJSON, err := json.Marshal(desc)
	if err != nil {
		return &errors.SerializationError{Message: err.Error()}
	}

	version := db.Store.CurrentVersion()
	entries := db.Store.ScanPrefix(key.RunPrefix(run), version)
	var runLog bytes.Buffer
	for _, e := range entries {
		if err := encodeRecord(&runLog, Record{
			Key:             e.Key,
			Value:           e.Entry.Value,
			Version:         e.Entry.Version,
			TimestampMicros: e.Entry.TimestampMicros,
			Tombstone:       e.Entry.Tombstone,
		}); err != nil {
			return err
		}
	}

	manifest := Manifest{
		FormatVersion: FormatVersion,
		Run:           info.ID.String(),
		CreatedAt:     time.Now().UnixMicro(),
		Files: []FileChecksum{
			{Name: runName, Hash: checksum(runJSON), Size: int64(len(runJSON))},
			{Name: walLogName, Hash: checksum(runLog.Bytes()), Size: int64(runLog.Len())},
		},
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return &errors.SerializationError{Message: err.Error()}
	}

	zw := zstd.NewWriter(w)
	tw := tar.NewWriter(zw)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{manifestName, manifestJSON},
		{runName, runJSON},
		{walLogName, runLog.Bytes()},
	} {
		if err := tw.WriteHeader(&tar.Header{Name: f.name, Size: int64(len(f.data)), Mode: 0o644}); err != nil {
			return &errors.StorageError{Message: err.Error()}
		}
		if _, err := tw.Write(f.data); err != nil {
			return &errors.StorageError{Message: err.Error()}
		}
	}
	if err := tw.Close(); err != nil {
		return &errors.StorageError{Message: err.Error()}
	}
	return zw.Close()
}

// Import reads and validates a run bundle archive, checking the format
// version and every file's checksum before returning the decoded bundle.
func Import(r io.Reader) (*Bundle, error) {
	zr := zstd.NewReader(r)
	defer zr.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &errors.StorageError{Message: err.Error()}
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, &errors.StorageError{Message: err.Error()}
		}
		files[hdr.Name] = data
	}

	manifestJSON, ok := files[manifestName]
	if !ok {
		return nil, &errors.Internal{Message: "run bundle missing " + manifestName}
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return nil, &errors.SerializationError{Message: err.Error()}
	}
	if manifest.FormatVersion != FormatVersion {
		return nil, &errors.Internal{Message: fmt.Sprintf("run bundle format version %d unsupported, want %d", manifest.FormatVersion, FormatVersion)}
	}

	for _, f := range manifest.Files {
		data, ok := files[f.Name]
		if !ok {
			return nil, &errors.Internal{Message: "run bundle missing " + f.Name}
		}
		if int64(len(data)) != f.Size {
			return nil, &errors.Internal{Message: "run bundle " + f.Name + " size mismatch"}
		}
		if checksum(data) != f.Hash {
			return nil, &errors.Internal{Message: "run bundle " + f.Name + " checksum mismatch"}
		}
	}

	var desc RunDescriptor
	if err := json.Unmarshal(files[runName], &desc); err != nil {
		return nil, &errors.SerializationError{Message: err.Error()}
	}

	records, err := decodeRunLog(files[walLogName])
	if err != nil {
		return nil, err
	}

	return &Bundle{Manifest: manifest, Run: desc, Records: records}, nil
}

// encodeRecord appends one length-prefixed Record to buf: keyLen(4) ‖ key
// ‖ valueLen(4) ‖ value(binary) ‖ version(8) ‖ timestampMicros(8) ‖
// tombstone(1).
func encodeRecord(buf *bytes.Buffer, rec Record) error {
	var lenBuf [4]byte

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(rec.Key)))
	buf.Write(lenBuf[:])
	buf.Write(rec.Key)

	encoded := value.EncodeBinary(rec.Value)
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
	buf.Write(lenBuf[:])
	buf.Write(encoded)

	var u64Buf [8]byte
	binary.BigEndian.PutUint64(u64Buf[:], rec.Version)
	buf.Write(u64Buf[:])
	binary.BigEndian.PutUint64(u64Buf[:], uint64(rec.TimestampMicros))
	buf.Write(u64Buf[:])

	if rec.Tombstone {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return nil
}

func decodeRunLog(data []byte) ([]Record, error) {
	var records []Record
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, &errors.SerializationError{Message: "truncated run log: key length"}
		}
		keyLen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < keyLen {
			return nil, &errors.SerializationError{Message: "truncated run log: key"}
		}
		k := append([]byte(nil), data[:keyLen]...)
		data = data[keyLen:]

		if len(data) < 4 {
			return nil, &errors.SerializationError{Message: "truncated run log: value length"}
		}
		valLen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < valLen {
			return nil, &errors.SerializationError{Message: "truncated run log: value"}
		}
		v, err := value.DecodeBinary(data[:valLen])
		if err != nil {
			return nil, &errors.SerializationError{Message: err.Error()}
		}
		data = data[valLen:]

		if len(data) < 17 {
			return nil, &errors.SerializationError{Message: "truncated run log: trailer"}
		}
		version := binary.BigEndian.Uint64(data[:8])
		ts := int64(binary.BigEndian.Uint64(data[8:16]))
		tombstone := data[16] != 0
		data = data[17:]

		records = append(records, Record{Key: k, Value: v, Version: version, TimestampMicros: ts, Tombstone: tombstone})
	}
	return records, nil
}
