// Package encoding implements the lib0 binary encoding used by update
// messages, state vectors and sync frames.
package encoding

import (
	"encoding/binary"
	"math"
	"sort"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// Tags of the self describing "any" encoding.
const (
	anyUndefined = 127
	anyNull      = 126
	anyInteger   = 125
	anyFloat32   = 124
	anyFloat64   = 123
	anyBigInt    = 122
	anyFalse     = 121
	anyTrue      = 120
	anyString    = 119
	anyObject    = 118
	anyArray     = 117
	anyBytes     = 116
)

// Integers within this magnitude are written as varints, larger ones as
// 64 bit big-endian integers.
const maxSmallInt = 1<<31 - 1

// Encoder accumulates an encoded buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) WriteUint8(b byte) {
	e.buf = append(e.buf, b)
}

func (e *Encoder) WriteVarUint(v uint64) {
	e.buf = AppendVarUint(e.buf, v)
}

func (e *Encoder) WriteVarInt(v int64) {
	e.buf = AppendVarInt(e.buf, v)
}

// WriteVarString writes a length prefixed UTF-8 string.
func (e *Encoder) WriteVarString(s string) {
	e.buf = AppendVarUint(e.buf, uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteVarBytes writes a length prefixed byte slice.
func (e *Encoder) WriteVarBytes(b []byte) {
	e.buf = AppendVarUint(e.buf, uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteRaw appends b without a length prefix.
func (e *Encoder) WriteRaw(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *Encoder) WriteFloat32(f float32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, math.Float32bits(f))
}

func (e *Encoder) WriteFloat64(f float64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(f))
}

func (e *Encoder) WriteBigInt64(v int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
}

// WriteAny writes a normalized value with its type tag. Object keys are
// written in sorted order so equal values encode identically.
func (e *Encoder) WriteAny(v any) error {
	switch x := v.(type) {
	case types.Undefined:
		e.WriteUint8(anyUndefined)
	case nil:
		e.WriteUint8(anyNull)
	case bool:
		if x {
			e.WriteUint8(anyTrue)
		} else {
			e.WriteUint8(anyFalse)
		}
	case int64:
		if x <= maxSmallInt && x >= -maxSmallInt {
			e.WriteUint8(anyInteger)
			e.WriteVarInt(x)
		} else {
			e.WriteUint8(anyBigInt)
			e.WriteBigInt64(x)
		}
	case float64:
		e.WriteUint8(anyFloat64)
		e.WriteFloat64(x)
	case string:
		e.WriteUint8(anyString)
		e.WriteVarString(x)
	case []byte:
		e.WriteUint8(anyBytes)
		e.WriteVarBytes(x)
	case []any:
		e.WriteUint8(anyArray)
		e.WriteVarUint(uint64(len(x)))
		for _, item := range x {
			if err := e.WriteAny(item); err != nil {
				return err
			}
		}
	case map[string]any:
		e.WriteUint8(anyObject)
		e.WriteVarUint(uint64(len(x)))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.WriteVarString(k)
			if err := e.WriteAny(x[k]); err != nil {
				return err
			}
		}
	default:
		return xerrors.Errorf("cannot encode %T: %w", v, types.ErrUnsupportedValue)
	}
	return nil
}
