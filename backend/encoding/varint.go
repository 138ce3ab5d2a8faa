package encoding

import (
	"ydoc-node/backend/types"

	"golang.org/x/exp/constraints"
	"golang.org/x/xerrors"
)

// AppendVarUint appends v as an unsigned LEB128 varint.
func AppendVarUint[T constraints.Unsigned](dst []byte, v T) []byte {
	x := uint64(v)
	for x >= 0x80 {
		dst = append(dst, byte(x)|0x80)
		x >>= 7
	}
	return append(dst, byte(x))
}

// VarUintLen returns the number of bytes AppendVarUint writes for v.
func VarUintLen[T constraints.Unsigned](v T) int {
	x := uint64(v)
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}

// ConsumeVarUint decodes an unsigned LEB128 varint from the front of src and
// returns the value and the number of bytes read.
func ConsumeVarUint[T constraints.Unsigned](src []byte) (T, int, error) {
	var x uint64
	var shift uint
	for i, b := range src {
		if shift >= 64 || (shift == 63 && b > 1) {
			return 0, 0, xerrors.Errorf("varint overflows 64 bits: %w", types.ErrMalformedUpdate)
		}
		x |= uint64(b&0x7f) << shift
		if b < 0x80 {
			if uint64(T(x)) != x {
				return 0, 0, xerrors.Errorf("varint %d overflows target: %w", x, types.ErrMalformedUpdate)
			}
			return T(x), i + 1, nil
		}
		shift += 7
	}
	return 0, 0, xerrors.Errorf("truncated varint: %w", types.ErrMalformedUpdate)
}

// AppendVarInt appends v as a signed varint. The first byte carries six
// bits of payload, a sign bit (0x40) and the continuation bit (0x80).
func AppendVarInt[T constraints.Signed](dst []byte, v T) []byte {
	x := int64(v)
	neg := x < 0
	var u uint64
	if neg {
		u = uint64(-x)
	} else {
		u = uint64(x)
	}
	b := byte(u & 0x3f)
	if neg {
		b |= 0x40
	}
	u >>= 6
	if u > 0 {
		b |= 0x80
	}
	dst = append(dst, b)
	for u > 0 {
		b = byte(u & 0x7f)
		u >>= 7
		if u > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

// ConsumeVarInt decodes a signed varint written by AppendVarInt.
func ConsumeVarInt(src []byte) (int64, int, error) {
	if len(src) == 0 {
		return 0, 0, xerrors.Errorf("truncated varint: %w", types.ErrMalformedUpdate)
	}
	b := src[0]
	u := uint64(b & 0x3f)
	neg := b&0x40 != 0
	shift := uint(6)
	i := 1
	for b&0x80 != 0 {
		if i >= len(src) {
			return 0, 0, xerrors.Errorf("truncated varint: %w", types.ErrMalformedUpdate)
		}
		if shift > 63 {
			return 0, 0, xerrors.Errorf("varint overflows 64 bits: %w", types.ErrMalformedUpdate)
		}
		b = src[i]
		u |= uint64(b&0x7f) << shift
		shift += 7
		i++
	}
	if neg {
		return -int64(u), i, nil
	}
	return int64(u), i, nil
}
