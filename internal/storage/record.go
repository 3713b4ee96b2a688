package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// serial type codes, per the SQLite record format: a varint per column in
// the record header describes how the column body is encoded.
const (
	serialNull    = 0
	serialInt8    = 1
	serialInt16   = 2
	serialInt24   = 3
	serialInt32   = 4
	serialInt48   = 5
	serialInt64   = 6
	serialFloat64 = 7
	serialZero    = 8
	serialOne     = 9
	// serial >= 13 and odd encodes text: length = (serial-13)/2
	// serial >= 12 and even encodes blob: length = (serial-12)/2
	textSerialBase = 13
	blobSerialBase = 12
)

// ColumnKind tags the decoded type of one Column value.
type ColumnKind byte

const (
	ColumnNull ColumnKind = iota
	ColumnInteger
	ColumnReal
	ColumnText
	ColumnBlob
)

// Column is one decoded field of a Record.
type Column struct {
	Kind    ColumnKind
	Integer int64
	Real    float64
	Text    string
	Blob    []byte
}

// Record is the decoded form of a single B-Tree cell: a rowid plus its
// ordered column values.
type Record struct {
	RowID  int64
	Values []Column
}

// DecodeCell parses a table-leaf cell into a Record. The SQLite cell format
// for table b-trees is: payload-length varint, rowid varint, then the
// record itself (header-length varint, per-column serial-type varints,
// packed column bodies).
func DecodeCell(data []byte) (Record, error) {
	r := bytes.NewReader(data)

	payloadLen, _, err := ReadVarint(r)
	if err != nil {
		return Record{}, fmt.Errorf("storage: reading cell payload length: %w", err)
	}

	rowID, _, err := ReadVarint(r)
	if err != nil {
		return Record{}, fmt.Errorf("storage: reading cell rowid: %w", err)
	}

	payload := make([]byte, payloadLen)
	if _, err := r.Read(payload); err != nil {
		return Record{}, fmt.Errorf("storage: reading cell payload: %w", err)
	}

	values, err := decodeRecordBody(payload)
	if err != nil {
		return Record{}, err
	}

	return Record{RowID: int64(rowID), Values: values}, nil
}

func decodeRecordBody(payload []byte) ([]Column, error) {
	hr := bytes.NewReader(payload)

	headerLen, n, err := ReadVarint(hr)
	if err != nil {
		return nil, fmt.Errorf("storage: reading record header length: %w", err)
	}
	remaining := int64(headerLen) - int64(n)

	var serialTypes []uint64
	for remaining > 0 {
		st, n, err := ReadVarint(hr)
		if err != nil {
			return nil, fmt.Errorf("storage: reading column serial type: %w", err)
		}
		serialTypes = append(serialTypes, st)
		remaining -= int64(n)
	}

	bodyOffset := int(headerLen)
	values := make([]Column, 0, len(serialTypes))
	for _, st := range serialTypes {
		col, size, err := decodeColumn(st, payload[bodyOffset:])
		if err != nil {
			return nil, err
		}
		values = append(values, col)
		bodyOffset += size
	}

	return values, nil
}

func decodeColumn(serialType uint64, body []byte) (Column, int, error) {
	switch {
	case serialType == serialNull:
		return Column{Kind: ColumnNull}, 0, nil
	case serialType == serialInt8:
		if len(body) < 1 {
			return Column{}, 0, fmt.Errorf("storage: truncated int8 column")
		}
		return Column{Kind: ColumnInteger, Integer: int64(int8(body[0]))}, 1, nil
	case serialType == serialInt16:
		if len(body) < 2 {
			return Column{}, 0, fmt.Errorf("storage: truncated int16 column")
		}
		return Column{Kind: ColumnInteger, Integer: int64(int16(binary.BigEndian.Uint16(body)))}, 2, nil
	case serialType == serialInt24:
		if len(body) < 3 {
			return Column{}, 0, fmt.Errorf("storage: truncated int24 column")
		}
		v := int64(body[0])<<16 | int64(body[1])<<8 | int64(body[2])
		if body[0]&0x80 != 0 {
			v -= 1 << 24
		}
		return Column{Kind: ColumnInteger, Integer: v}, 3, nil
	case serialType == serialInt32:
		if len(body) < 4 {
			return Column{}, 0, fmt.Errorf("storage: truncated int32 column")
		}
		return Column{Kind: ColumnInteger, Integer: int64(int32(binary.BigEndian.Uint32(body)))}, 4, nil
	case serialType == serialInt48:
		if len(body) < 6 {
			return Column{}, 0, fmt.Errorf("storage: truncated int48 column")
		}
		v := int64(body[0])<<40 | int64(body[1])<<32 | int64(body[2])<<24 |
			int64(body[3])<<16 | int64(body[4])<<8 | int64(body[5])
		if body[0]&0x80 != 0 {
			v -= 1 << 48
		}
		return Column{Kind: ColumnInteger, Integer: v}, 6, nil
	case serialType == serialInt64:
		if len(body) < 8 {
			return Column{}, 0, fmt.Errorf("storage: truncated int64 column")
		}
		return Column{Kind: ColumnInteger, Integer: int64(binary.BigEndian.Uint64(body))}, 8, nil
	case serialType == serialFloat64:
		if len(body) < 8 {
			return Column{}, 0, fmt.Errorf("storage: truncated real column")
		}
		return Column{Kind: ColumnReal, Real: math.Float64frombits(binary.BigEndian.Uint64(body))}, 8, nil
	case serialType == serialZero:
		return Column{Kind: ColumnInteger, Integer: 0}, 0, nil
	case serialType == serialOne:
		return Column{Kind: ColumnInteger, Integer: 1}, 0, nil
	case serialType >= textSerialBase && serialType%2 == 1:
		size := int((serialType - textSerialBase) / 2)
		if len(body) < size {
			return Column{}, 0, fmt.Errorf("storage: truncated text column")
		}
		return Column{Kind: ColumnText, Text: string(body[:size])}, size, nil
	case serialType >= blobSerialBase && serialType%2 == 0:
		size := int((serialType - blobSerialBase) / 2)
		if len(body) < size {
			return Column{}, 0, fmt.Errorf("storage: truncated blob column")
		}
		blob := make([]byte, size)
		copy(blob, body[:size])
		return Column{Kind: ColumnBlob, Blob: blob}, size, nil
	default:
		return Column{}, 0, fmt.Errorf("storage: unsupported serial type %d", serialType)
	}
}
