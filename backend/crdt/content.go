package crdt

import (
	"bytes"
	"encoding/json"
	"unicode/utf16"
	"unicode/utf8"
	"ydoc-node/backend/encoding"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// Content references as written in the info byte.
const (
	refDeleted = 1
	refJSON    = 2
	refBinary  = 3
	refString  = 4
	refEmbed   = 5
	refFormat  = 6
	refType    = 7
	refAny     = 8
	refDoc     = 9
)

// content is the payload of an Item.
type content interface {
	length() uint64
	countable() bool
	values() []any
	// splice keeps the first offset clocks and returns the rest.
	splice(offset uint64) content
	mergeWith(other content) bool
	integrate(txn *Transaction, item *Item) error
	delete(txn *Transaction)
	gc(s *store)
	write(enc *encoding.Encoder, offset uint64) error
	ref() byte
}

// -----------------------------------------------------------------------------
// contentDeleted

type contentDeleted struct {
	n uint64
}

func (c *contentDeleted) length() uint64  { return c.n }
func (c *contentDeleted) countable() bool { return false }
func (c *contentDeleted) values() []any   { return nil }
func (c *contentDeleted) ref() byte       { return refDeleted }

func (c *contentDeleted) splice(offset uint64) content {
	right := &contentDeleted{n: c.n - offset}
	c.n = offset
	return right
}

func (c *contentDeleted) mergeWith(other content) bool {
	o, ok := other.(*contentDeleted)
	if ok {
		c.n += o.n
	}
	return ok
}

func (c *contentDeleted) integrate(txn *Transaction, item *Item) error {
	txn.deleteSet.add(item.id.Client, item.id.Clock, c.n)
	item.deleted = true
	return nil
}

func (c *contentDeleted) delete(*Transaction) {}
func (c *contentDeleted) gc(*store)           {}

func (c *contentDeleted) write(enc *encoding.Encoder, offset uint64) error {
	enc.WriteVarUint(c.n - offset)
	return nil
}

// -----------------------------------------------------------------------------
// contentAny and contentJSON

// contentAny holds a run of plain values of a sequence or a map entry.
type contentAny struct {
	vals []any
	// legacy marks values decoded from the JSON content encoding.
	legacy bool
}

func (c *contentAny) length() uint64  { return uint64(len(c.vals)) }
func (c *contentAny) countable() bool { return true }
func (c *contentAny) values() []any   { return c.vals }

func (c *contentAny) ref() byte {
	if c.legacy {
		return refJSON
	}
	return refAny
}

func (c *contentAny) splice(offset uint64) content {
	right := &contentAny{vals: c.vals[offset:], legacy: c.legacy}
	c.vals = c.vals[:offset:offset]
	return right
}

func (c *contentAny) mergeWith(other content) bool {
	o, ok := other.(*contentAny)
	if !ok || o.legacy != c.legacy {
		return false
	}
	c.vals = append(c.vals, o.vals...)
	return true
}

func (c *contentAny) integrate(*Transaction, *Item) error { return nil }
func (c *contentAny) delete(*Transaction)           {}
func (c *contentAny) gc(*store)                     {}

func (c *contentAny) write(enc *encoding.Encoder, offset uint64) error {
	vals := c.vals[offset:]
	enc.WriteVarUint(uint64(len(vals)))
	for _, v := range vals {
		if c.legacy {
			if _, ok := v.(types.Undefined); ok {
				enc.WriteVarString("undefined")
				continue
			}
			b, err := marshalJSON(v)
			if err != nil {
				return err
			}
			enc.WriteVarString(string(b))
			continue
		}
		if err := enc.WriteAny(v); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// contentBinary

type contentBinary struct {
	b []byte
}

func (c *contentBinary) length() uint64                 { return 1 }
func (c *contentBinary) countable() bool                { return true }
func (c *contentBinary) values() []any                  { return []any{c.b} }
func (c *contentBinary) ref() byte                      { return refBinary }
func (c *contentBinary) splice(uint64) content          { return nil }
func (c *contentBinary) mergeWith(content) bool         { return false }
func (c *contentBinary) integrate(*Transaction, *Item) error { return nil }
func (c *contentBinary) delete(*Transaction)            {}
func (c *contentBinary) gc(*store)                      {}

func (c *contentBinary) write(enc *encoding.Encoder, _ uint64) error {
	enc.WriteVarBytes(c.b)
	return nil
}

// -----------------------------------------------------------------------------
// contentString

// contentString holds text as UTF-16 code units so clocks and lengths
// line up with other replicas.
type contentString struct {
	s []uint16
}

func newContentString(s string) *contentString {
	return &contentString{s: utf16.Encode([]rune(s))}
}

func (c *contentString) length() uint64  { return uint64(len(c.s)) }
func (c *contentString) countable() bool { return true }
func (c *contentString) ref() byte       { return refString }

func (c *contentString) String() string {
	return string(utf16.Decode(c.s))
}

func (c *contentString) values() []any {
	out := make([]any, len(c.s))
	for i := range c.s {
		out[i] = string(utf16.Decode(c.s[i : i+1]))
	}
	return out
}

func (c *contentString) splice(offset uint64) content {
	orig := c.s
	right := &contentString{s: orig[offset:]}
	c.s = orig[:offset:offset]
	// a split surrogate pair can no longer be represented
	if offset > 0 && isPairAt(orig, int(offset)-1) {
		left := append([]uint16(nil), c.s...)
		left[offset-1] = 0xfffd
		c.s = left
		r := append([]uint16(nil), right.s...)
		r[0] = 0xfffd
		right.s = r
	}
	return right
}

func (c *contentString) mergeWith(other content) bool {
	o, ok := other.(*contentString)
	if ok {
		c.s = append(c.s, o.s...)
	}
	return ok
}

func (c *contentString) integrate(*Transaction, *Item) error { return nil }
func (c *contentString) delete(*Transaction)           {}
func (c *contentString) gc(*store)                     {}

func (c *contentString) write(enc *encoding.Encoder, offset uint64) error {
	enc.WriteVarString(string(utf16.Decode(c.s[offset:])))
	return nil
}

// width returns the length of the string measured in kind.
func (c *contentString) width(kind OffsetKind) int {
	switch kind {
	case OffsetUTF16:
		return len(c.s)
	case OffsetUTF32:
		n := 0
		for i := 0; i < len(c.s); i++ {
			if isPairAt(c.s, i) {
				i++
			}
			n++
		}
		return n
	}
	n := 0
	for i := 0; i < len(c.s); i++ {
		if isPairAt(c.s, i) {
			n += 4
			i++
			continue
		}
		n += utf8.RuneLen(sanitize(rune(c.s[i])))
	}
	return n
}

// advance consumes up to want units of kind from the start of the string
// and returns the consumed kind units together with the UTF-16 units they
// span. ok is false when want ends inside a code point.
func (c *contentString) advance(kind OffsetKind, want int) (consumed int, units uint64, ok bool) {
	for i := 0; i < len(c.s) && consumed < want; i++ {
		w, u := 1, 1
		pair := isPairAt(c.s, i)
		if pair {
			u = 2
		}
		switch kind {
		case OffsetUTF16:
			w = u
		case OffsetBytes:
			if pair {
				w = 4
			} else {
				w = utf8.RuneLen(sanitize(rune(c.s[i])))
			}
		}
		if consumed+w > want {
			return consumed, units, false
		}
		consumed += w
		units += uint64(u)
		if pair {
			i++
		}
	}
	return consumed, units, true
}

func isPairAt(s []uint16, i int) bool {
	return i+1 < len(s) && utf16.IsSurrogate(rune(s[i])) && s[i] < 0xdc00 && s[i+1] >= 0xdc00 && s[i+1] <= 0xdfff
}

func sanitize(r rune) rune {
	if utf16.IsSurrogate(r) {
		return utf8.RuneError
	}
	return r
}

// -----------------------------------------------------------------------------
// contentEmbed

type contentEmbed struct {
	v any
}

func (c *contentEmbed) length() uint64                { return 1 }
func (c *contentEmbed) countable() bool               { return true }
func (c *contentEmbed) values() []any                 { return []any{c.v} }
func (c *contentEmbed) ref() byte                     { return refEmbed }
func (c *contentEmbed) splice(uint64) content         { return nil }
func (c *contentEmbed) mergeWith(content) bool        { return false }
func (c *contentEmbed) integrate(*Transaction, *Item) error { return nil }
func (c *contentEmbed) delete(*Transaction)           {}
func (c *contentEmbed) gc(*store)                     {}

func (c *contentEmbed) write(enc *encoding.Encoder, _ uint64) error {
	b, err := marshalJSON(c.v)
	if err != nil {
		return err
	}
	enc.WriteVarString(string(b))
	return nil
}

// -----------------------------------------------------------------------------
// contentFormat

// contentFormat marks the start (or, with a nil value, the end) of a
// formatting attribute inside a text.
type contentFormat struct {
	key   string
	value any
}

func (c *contentFormat) length() uint64                { return 1 }
func (c *contentFormat) countable() bool               { return false }
func (c *contentFormat) values() []any                 { return nil }
func (c *contentFormat) ref() byte                     { return refFormat }
func (c *contentFormat) splice(uint64) content         { return nil }
func (c *contentFormat) mergeWith(content) bool        { return false }
func (c *contentFormat) integrate(*Transaction, *Item) error { return nil }
func (c *contentFormat) delete(*Transaction)           {}
func (c *contentFormat) gc(*store)                     {}

func (c *contentFormat) write(enc *encoding.Encoder, _ uint64) error {
	enc.WriteVarString(c.key)
	b, err := marshalJSON(c.value)
	if err != nil {
		return err
	}
	enc.WriteVarString(string(b))
	return nil
}

// -----------------------------------------------------------------------------
// contentType

// contentType embeds a nested shared type.
type contentType struct {
	typ *branch
}

func (c *contentType) length() uint64         { return 1 }
func (c *contentType) countable() bool        { return true }
func (c *contentType) values() []any          { return []any{c.typ.wrap()} }
func (c *contentType) ref() byte              { return refType }
func (c *contentType) splice(uint64) content  { return nil }
func (c *contentType) mergeWith(content) bool { return false }

func (c *contentType) integrate(txn *Transaction, item *Item) error {
	return c.typ.integrate(txn, item)
}

func (c *contentType) delete(txn *Transaction) {
	before := func(it *Item) bool {
		return it.id.Clock < txn.beforeState[it.id.Client]
	}
	for it := c.typ.start; it != nil; it = it.right {
		if !it.deleted {
			it.delete(txn)
		} else if before(it) {
			txn.mergeStructs = append(txn.mergeStructs, it)
		}
	}
	for _, it := range c.typ.entries {
		if !it.deleted {
			it.delete(txn)
		} else if before(it) {
			txn.mergeStructs = append(txn.mergeStructs, it)
		}
	}
	txn.removeChangedType(c.typ)
}

func (c *contentType) gc(s *store) {
	for it := c.typ.start; it != nil; it = it.right {
		it.gc(s, true)
	}
	c.typ.start = nil
	for _, it := range c.typ.entries {
		for ; it != nil; it = it.left {
			it.gc(s, true)
		}
	}
	c.typ.entries = make(map[string]*Item)
}

func (c *contentType) write(enc *encoding.Encoder, _ uint64) error {
	enc.WriteVarUint(uint64(c.typ.tag))
	if c.typ.tag == types.TagXmlElement || c.typ.tag == types.TagXmlHook {
		enc.WriteVarString(c.typ.nodeName)
	}
	return nil
}

// -----------------------------------------------------------------------------
// decoding

func readContent(dec *encoding.Decoder, info byte) (content, error) {
	switch info & refMask {
	case refDeleted:
		n, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		return &contentDeleted{n: n}, nil
	case refJSON:
		n, err := dec.ReadLen()
		if err != nil {
			return nil, err
		}
		vals := make([]any, 0, min(n, maxPrealloc))
		for i := 0; i < n; i++ {
			s, err := dec.ReadVarString()
			if err != nil {
				return nil, err
			}
			if s == "undefined" {
				vals = append(vals, types.Undefined{})
				continue
			}
			v, err := unmarshalJSON(s)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return &contentAny{vals: vals, legacy: true}, nil
	case refBinary:
		b, err := dec.ReadVarBytes()
		if err != nil {
			return nil, err
		}
		return &contentBinary{b: b}, nil
	case refString:
		s, err := dec.ReadVarString()
		if err != nil {
			return nil, err
		}
		return newContentString(s), nil
	case refEmbed:
		s, err := dec.ReadVarString()
		if err != nil {
			return nil, err
		}
		v, err := unmarshalJSON(s)
		if err != nil {
			return nil, err
		}
		return &contentEmbed{v: v}, nil
	case refFormat:
		key, err := dec.ReadVarString()
		if err != nil {
			return nil, err
		}
		s, err := dec.ReadVarString()
		if err != nil {
			return nil, err
		}
		v, err := unmarshalJSON(s)
		if err != nil {
			return nil, err
		}
		return &contentFormat{key: key, value: v}, nil
	case refType:
		ref, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		tag := types.TypeTag(ref)
		if ref > uint64(types.TagXmlText) {
			return nil, xerrors.Errorf("unknown type reference %d: %w", ref, types.ErrMalformedUpdate)
		}
		b := newBranch(tag)
		if tag == types.TagXmlElement || tag == types.TagXmlHook {
			if b.nodeName, err = dec.ReadVarString(); err != nil {
				return nil, err
			}
		}
		return &contentType{typ: b}, nil
	case refAny:
		n, err := dec.ReadLen()
		if err != nil {
			return nil, err
		}
		vals := make([]any, 0, min(n, maxPrealloc))
		for i := 0; i < n; i++ {
			v, err := dec.ReadAny()
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return &contentAny{vals: vals}, nil
	case refDoc:
		return nil, xerrors.Errorf("sub-documents are not supported: %w", types.ErrMalformedUpdate)
	}
	return nil, xerrors.Errorf("unknown content reference %d: %w", info&refMask, types.ErrMalformedUpdate)
}

// -----------------------------------------------------------------------------
// JSON helpers for embeds, formatting attributes and legacy content

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(types.ToJSON(v))
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal %T: %w", v, types.ErrUnsupportedValue)
	}
	return b, nil
}

func unmarshalJSON(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, xerrors.Errorf("invalid json %q: %w", s, types.ErrMalformedUpdate)
	}
	return fromJSON(v), nil
}

// fromJSON converts decoded JSON into normalized values, keeping integers
// as int64.
func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = fromJSON(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = fromJSON(x[k])
		}
		return x
	}
	return v
}
