package wal

import (
	"encoding/binary"
	"io"
)

// Header layout constants.
const (
	HeaderSize = 24 // fixed header size in bytes
	WALVersion = 1

	// WALMagic is checked on every read so a corrupt or foreign file is
	// rejected fast, before the length/CRC32 fields are even trusted.
	WALMagic = 0xDEADBEEF
)

// RecordKind identifies which variant a record's payload decodes as. Stored
// in WALHeader.EntryType so a reader can dispatch without decoding the
// payload, mirroring the record kinds in the payload envelope itself.
type RecordKind uint8

const (
	KindBeginTxn RecordKind = iota + 1
	KindWrite
	KindDelete
	KindCommitTxn
	KindVectorUpsert
	KindVectorDelete
	KindCollectionCreate
	KindCollectionDrop
	KindRunCreate
	KindRunUpdate
	KindRunClose
	KindRunDelete
)

// WALHeader is the fixed 24-byte header preceding every record's payload.
type WALHeader struct {
	Magic      uint32 // 4 bytes
	Version    uint8  // 1 byte
	EntryType  uint8  // 1 byte (RecordKind)
	Reserved   uint16 // 2 bytes (alignment padding)
	LSN        uint64 // 8 bytes (log sequence number)
	PayloadLen uint32 // 4 bytes
	CRC32      uint32 // 4 bytes
}

// WALEntry is one full on-disk record: header plus its payload.
type WALEntry struct {
	Header  WALHeader
	Payload []byte
}

// Encode serializes the header into buf, which must be at least HeaderSize.
func (h *WALHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.EntryType
	binary.LittleEndian.PutUint16(buf[6:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.LSN)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC32)
}

// Decode deserializes buf (at least HeaderSize bytes) into the header.
func (h *WALHeader) Decode(buf []byte) {
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	h.EntryType = buf[5]
	h.Reserved = binary.LittleEndian.Uint16(buf[6:8])
	h.LSN = binary.LittleEndian.Uint64(buf[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	h.CRC32 = binary.LittleEndian.Uint32(buf[20:24])
}

// WriteTo writes the entry (header then payload) to w.
func (e *WALEntry) WriteTo(w io.Writer) (int64, error) {
	var headerBuf [HeaderSize]byte
	e.Header.Encode(headerBuf[:])

	n, err := w.Write(headerBuf[:])
	if err != nil {
		return int64(n), err
	}

	m, err := w.Write(e.Payload)
	return int64(n + m), err
}
