package storage

import (
	"encoding/binary"
	"fmt"
)

// FileHeaderLen is the size in bytes of the database file header. Page 1
// always carries it as a prefix before the schema root's btree page header.
const FileHeaderLen = 100

// DefaultPageSize is used for newly created database files.
const DefaultPageSize = 4096

// FileHeader is the 100-byte header found at offset 0 of a database file.
//
// Only the fields the core cares about are modeled: PageSize governs how
// the pager carves the file into frames, everything else is opaque to a
// read-only query engine.
type FileHeader struct {
	// PageSize is read from the big-endian uint16 at offset 16.
	PageSize uint16
}

// NewFileHeader builds the header for a freshly created database file.
func NewFileHeader(pageSize uint16) FileHeader {
	return FileHeader{PageSize: pageSize}
}

// Encode renders the header to its on-disk 100-byte representation.
func (h FileHeader) Encode() []byte {
	data := make([]byte, FileHeaderLen)
	copy(data, "SQLite format 3\000")
	binary.BigEndian.PutUint16(data[16:18], h.PageSize)
	data[18] = 1 // file format write version: legacy
	data[19] = 1 // file format read version: legacy
	data[21] = 64
	data[22] = 32
	data[23] = 32
	return data
}

// ParseFileHeader decodes a FileHeader from the first 100 bytes of a
// database file.
func ParseFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < FileHeaderLen {
		return FileHeader{}, fmt.Errorf("storage: file header requires %d bytes, got %d", FileHeaderLen, len(buf))
	}
	return FileHeader{
		PageSize: binary.BigEndian.Uint16(buf[16:18]),
	}, nil
}
