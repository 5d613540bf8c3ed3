package wal

import "hash/crc32"

// castagnoliTable is faster than IEEE on modern hardware with CRC32C
// instructions.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CalculateCRC32 checksums a record payload.
func CalculateCRC32(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// ValidateCRC32 reports whether data matches an expected checksum.
func ValidateCRC32(data []byte, expected uint32) bool {
	return CalculateCRC32(data) == expected
}
