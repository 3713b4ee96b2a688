package vm

import (
	"fmt"

	"github.com/joeandaverde/tinyvdbe/internal/storage"
)

// Kind tags the dynamic type held in a Value.
type Kind byte

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Value is a single register's contents. Registers are untyped in the
// bytecode: any register can hold any Kind at different points in a
// program's execution.
type Value struct {
	Kind    Kind
	Integer int64
	Real    float64
	Text    string
	Blob    []byte
}

// Null is the zero Value.
var Null = Value{Kind: KindNull}

// IntegerValue wraps an int64 as a register Value.
func IntegerValue(v int64) Value {
	return Value{Kind: KindInteger, Integer: v}
}

// TextValue wraps a string as a register Value.
func TextValue(v string) Value {
	return Value{Kind: KindText, Text: v}
}

// RealValue wraps a float64 as a register Value.
func RealValue(v float64) Value {
	return Value{Kind: KindReal, Real: v}
}

// BlobValue wraps a byte slice as a register Value.
func BlobValue(v []byte) Value {
	return Value{Kind: KindBlob, Blob: v}
}

// FromColumn converts a decoded storage column into the register
// representation the VM operates on.
func FromColumn(c storage.Column) Value {
	switch c.Kind {
	case storage.ColumnNull:
		return Null
	case storage.ColumnInteger:
		return IntegerValue(c.Integer)
	case storage.ColumnReal:
		return RealValue(c.Real)
	case storage.ColumnText:
		return TextValue(c.Text)
	case storage.ColumnBlob:
		return BlobValue(c.Blob)
	default:
		return Null
	}
}

// String renders a Value the way a result row prints it.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindInteger:
		return fmt.Sprintf("%d", v.Integer)
	case KindReal:
		return fmt.Sprintf("%v", v.Real)
	case KindText:
		return v.Text
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.Blob)
	default:
		return ""
	}
}
