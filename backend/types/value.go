package types

import (
	"math"
	"sort"

	"golang.org/x/xerrors"
)

// Kind tags the variants of the value model.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindSequence
	KindMap
	KindShared
)

var kindNames = [...]string{"undefined", "null", "bool", "int", "float", "string", "bytes", "sequence", "map", "shared"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Undefined is the value stored for JavaScript's undefined. It is distinct
// from nil, which stands for null.
type Undefined struct{}

// Shared is implemented by every shared type (text, array, map, xml nodes).
// Values implementing it are stored as nested types rather than copied.
type Shared interface {
	TypeTag() TypeTag
	String() string
	ToJSON() any
}

// KindOf returns the variant of a normalized value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case Undefined:
		return KindUndefined
	case bool:
		return KindBool
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case string:
		return KindString
	case []byte:
		return KindBytes
	case []any:
		return KindSequence
	case map[string]any:
		return KindMap
	case Shared:
		return KindShared
	}
	return KindUndefined
}

// Normalize converts an arbitrary Go value into the closed set of variants
// understood by the engine: nil, Undefined, bool, int64, float64, string,
// []byte, []any, map[string]any and Shared. Integer and float widths are
// widened, slices and string keyed maps are converted recursively.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, Undefined, bool, int64, float64, string, []byte, Shared:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return normalizeUint(uint64(x))
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return normalizeUint(x)
	case float32:
		return float64(x), nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = e
		}
		return out, nil
	}
	return nil, xerrors.Errorf("%T: %w", v, ErrUnsupportedValue)
}

func normalizeUint(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, xerrors.Errorf("integer %d overflows int64: %w", u, ErrUnsupportedValue)
	}
	return int64(u), nil
}

// ToJSON converts a normalized value into plain Go data suitable for
// encoding/json. Shared values are exported through their ToJSON method.
func ToJSON(v any) any {
	switch x := v.(type) {
	case Undefined:
		return nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToJSON(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = ToJSON(e)
		}
		return out
	case Shared:
		return x.ToJSON()
	}
	return v
}

// Equal reports whether two normalized values are structurally equal.
// Shared values compare by identity.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, e := range x {
			f, ok := y[k]
			if !ok || !Equal(e, f) {
				return false
			}
		}
		return true
	case []byte:
		y, ok := b.([]byte)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
		return true
	}
	if KindOf(a) != KindOf(b) {
		return false
	}
	return a == b
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
