package encoding

import (
	"encoding/binary"
	"math"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// Nesting limit for decoded "any" values.
const maxAnyDepth = 256

// Decoder reads values from an encoded buffer. Every read failure wraps
// types.ErrMalformedUpdate.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a decoder over buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// HasContent reports whether unread bytes remain.
func (d *Decoder) HasContent() bool {
	return d.pos < len(d.buf)
}

// Remaining returns the unread bytes.
func (d *Decoder) Remaining() []byte {
	return d.buf[d.pos:]
}

func (d *Decoder) ReadUint8() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, xerrors.Errorf("unexpected end of buffer: %w", types.ErrMalformedUpdate)
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) ReadVarUint() (uint64, error) {
	v, n, err := ConsumeVarUint[uint64](d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

// ReadLen reads a varuint used as a length or count. Every counted element
// takes at least one byte, so a count above the remaining input is
// malformed.
func (d *Decoder) ReadLen() (int, error) {
	v, err := d.ReadVarUint()
	if err != nil {
		return 0, err
	}
	if v > uint64(len(d.buf)-d.pos) {
		return 0, xerrors.Errorf("length %d exceeds input: %w", v, types.ErrMalformedUpdate)
	}
	return int(v), nil
}

func (d *Decoder) ReadVarInt() (int64, error) {
	v, n, err := ConsumeVarInt(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) readN(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, xerrors.Errorf("unexpected end of buffer: %w", types.ErrMalformedUpdate)
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) ReadVarString() (string, error) {
	n, err := d.ReadLen()
	if err != nil {
		return "", err
	}
	b, err := d.readN(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadVarBytes reads a length prefixed byte slice. The result is a copy.
func (d *Decoder) ReadVarBytes() ([]byte, error) {
	n, err := d.ReadLen()
	if err != nil {
		return nil, err
	}
	b, err := d.readN(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *Decoder) ReadFloat32() (float32, error) {
	b, err := d.readN(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
}

func (d *Decoder) ReadFloat64() (float64, error) {
	b, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (d *Decoder) ReadBigInt64() (int64, error) {
	b, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadAny reads a value written by Encoder.WriteAny.
func (d *Decoder) ReadAny() (any, error) {
	return d.readAny(0)
}

func (d *Decoder) readAny(depth int) (any, error) {
	if depth > maxAnyDepth {
		return nil, xerrors.Errorf("value nested too deeply: %w", types.ErrMalformedUpdate)
	}
	tag, err := d.ReadUint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case anyUndefined:
		return types.Undefined{}, nil
	case anyNull:
		return nil, nil
	case anyInteger:
		return d.ReadVarInt()
	case anyFloat32:
		f, err := d.ReadFloat32()
		return float64(f), err
	case anyFloat64:
		return d.ReadFloat64()
	case anyBigInt:
		return d.ReadBigInt64()
	case anyFalse:
		return false, nil
	case anyTrue:
		return true, nil
	case anyString:
		return d.ReadVarString()
	case anyObject:
		n, err := d.ReadLen()
		if err != nil {
			return nil, err
		}
		obj := make(map[string]any, min(n, 64))
		for i := 0; i < n; i++ {
			key, err := d.ReadVarString()
			if err != nil {
				return nil, err
			}
			val, err := d.readAny(depth + 1)
			if err != nil {
				return nil, err
			}
			obj[key] = val
		}
		return obj, nil
	case anyArray:
		n, err := d.ReadLen()
		if err != nil {
			return nil, err
		}
		arr := make([]any, 0, min(n, 64))
		for i := 0; i < n; i++ {
			val, err := d.readAny(depth + 1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		return arr, nil
	case anyBytes:
		return d.ReadVarBytes()
	}
	return nil, xerrors.Errorf("unknown value tag %d: %w", tag, types.ErrMalformedUpdate)
}
