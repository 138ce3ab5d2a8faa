package crdt

import (
	"ydoc-node/backend/encoding"
)

// Info byte layout of an encoded block.
const (
	refMask        = 0x1f
	flagOrigin     = 0x80
	flagRightOrig  = 0x40
	flagParentSub  = 0x20
	infoGC         = 0
	infoSkip       = 10
	maxContentRefs = 9
)

// structure is a block of the store: an Item, a garbage collected range
// or, in decoded updates only, a skipped range.
type structure interface {
	ID() ID
	Length() uint64
	Deleted() bool

	mergeWith(right structure) bool
	write(enc *encoding.Encoder, offset uint64) error
	integrate(txn *Transaction, offset uint64) error
	// missing returns a client whose blocks must be integrated first.
	missing(txn *Transaction, s *store) (uint64, bool)
}

// gcBlock is a deleted range whose content and position were reclaimed.
type gcBlock struct {
	id     ID
	length uint64
}

func (g *gcBlock) ID() ID         { return g.id }
func (g *gcBlock) Length() uint64 { return g.length }
func (g *gcBlock) Deleted() bool  { return true }

func (g *gcBlock) mergeWith(right structure) bool {
	r, ok := right.(*gcBlock)
	if !ok {
		return false
	}
	g.length += r.length
	return true
}

func (g *gcBlock) write(enc *encoding.Encoder, offset uint64) error {
	enc.WriteUint8(infoGC)
	enc.WriteVarUint(g.length - offset)
	return nil
}

func (g *gcBlock) integrate(txn *Transaction, offset uint64) error {
	if offset > 0 {
		g.id.Clock += offset
		g.length -= offset
	}
	return txn.doc.store.addStruct(g)
}

func (g *gcBlock) missing(*Transaction, *store) (uint64, bool) { return 0, false }

// skipBlock marks a gap inside a merged update. It is never integrated.
type skipBlock struct {
	id     ID
	length uint64
}

func (k *skipBlock) ID() ID         { return k.id }
func (k *skipBlock) Length() uint64 { return k.length }
func (k *skipBlock) Deleted() bool  { return true }

func (k *skipBlock) mergeWith(right structure) bool {
	r, ok := right.(*skipBlock)
	if !ok {
		return false
	}
	k.length += r.length
	return true
}

func (k *skipBlock) write(enc *encoding.Encoder, offset uint64) error {
	enc.WriteUint8(infoSkip)
	enc.WriteVarUint(k.length - offset)
	return nil
}

func (k *skipBlock) integrate(*Transaction, uint64) error { return nil }

func (k *skipBlock) missing(*Transaction, *store) (uint64, bool) { return 0, false }

// Item is a run of content with a causal id and a position expressed by
// its neighbours at insertion time (origin and rightOrigin).
type Item struct {
	id     ID
	length uint64

	origin      *ID
	rightOrigin *ID
	left        *Item
	right       *Item

	// parent is set once the item is integrated. Before that, decoded items
	// reference their parent by root name or by the id of the type item.
	parent     *branch
	parentName string
	parentID   *ID
	hasName    bool

	parentSub string
	keyed     bool

	deleted bool
	content content

	// orphan marks items whose neighbours were garbage collected; they are
	// integrated as gc ranges.
	orphan bool
}

func (it *Item) ID() ID         { return it.id }
func (it *Item) Length() uint64 { return it.length }
func (it *Item) Deleted() bool  { return it.deleted }

func (it *Item) lastID() ID {
	return ID{Client: it.id.Client, Clock: it.id.Clock + it.length - 1}
}

func (it *Item) countable() bool {
	return it.content.countable()
}

// visible reports whether the item contributes to the length of its
// parent sequence.
func (it *Item) visible() bool {
	return !it.deleted && it.content.countable()
}

// originFor returns the origin used by a new item inserted right after
// left.
func originFor(left *Item) *ID {
	if left == nil {
		return nil
	}
	id := left.lastID()
	return &id
}

func rightOriginFor(right *Item) *ID {
	if right == nil {
		return nil
	}
	id := right.id
	return &id
}

func newItem(id ID, left *Item, right *Item, parent *branch, c content) *Item {
	return &Item{
		id:          id,
		length:      c.length(),
		origin:      originFor(left),
		rightOrigin: rightOriginFor(right),
		left:        left,
		right:       right,
		parent:      parent,
		content:     c,
	}
}
