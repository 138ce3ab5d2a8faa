package crdt

import (
	"ydoc-node/backend/encoding"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// missing resolves the origins and the parent of a decoded item. It
// reports the client whose blocks must be integrated first when a
// dependency is not known yet.
func (it *Item) missing(txn *Transaction, s *store) (uint64, bool) {
	if it.origin != nil && it.origin.Client != it.id.Client && it.origin.Clock >= s.state(it.origin.Client) {
		return it.origin.Client, true
	}
	if it.rightOrigin != nil && it.rightOrigin.Client != it.id.Client && it.rightOrigin.Clock >= s.state(it.rightOrigin.Client) {
		return it.rightOrigin.Client, true
	}
	if it.parentID != nil && it.parentID.Client != it.id.Client && it.parentID.Clock >= s.state(it.parentID.Client) {
		return it.parentID.Client, true
	}

	if it.origin != nil {
		switch left := s.getItemCleanEnd(txn, *it.origin).(type) {
		case *Item:
			it.left = left
			last := left.lastID()
			it.origin = &last
		default:
			it.orphan = true
		}
	}
	if it.rightOrigin != nil {
		switch right := s.getItemCleanStart(txn, *it.rightOrigin).(type) {
		case *Item:
			it.right = right
			id := right.id
			it.rightOrigin = &id
		default:
			it.orphan = true
		}
	}

	switch {
	case it.orphan:
		it.parent = nil
	case it.parentID != nil:
		if pi := s.findItem(*it.parentID); pi != nil {
			if ct, ok := pi.content.(*contentType); ok {
				it.parent = ct.typ
			}
		}
		if it.parent == nil {
			it.orphan = true
		}
	case it.hasName:
		it.parent = txn.doc.rootBranch(it.parentName)
	case it.parent == nil:
		if it.left != nil {
			it.parent, it.parentSub, it.keyed = it.left.parent, it.left.parentSub, it.left.keyed
		} else if it.right != nil {
			it.parent, it.parentSub, it.keyed = it.right.parent, it.right.parentSub, it.right.keyed
		}
	}
	it.parentID, it.hasName = nil, false
	return 0, false
}

// integrate links the item into its parent. A positive offset skips the
// first offset clocks, which the store already holds.
func (it *Item) integrate(txn *Transaction, offset uint64) error {
	s := txn.doc.store
	if offset > 0 {
		it.id.Clock += offset
		left, ok := s.getItemCleanEnd(txn, ID{Client: it.id.Client, Clock: it.id.Clock - 1}).(*Item)
		if ok {
			it.left = left
			last := left.lastID()
			it.origin = &last
		} else {
			it.orphan = true
		}
		it.content = it.content.splice(offset)
		it.length -= offset
	}
	if state := s.state(it.id.Client); state != it.id.Clock {
		return xerrors.Errorf("block %s does not extend client state %d: %w", it.id, state, types.ErrMalformedUpdate)
	}
	if it.parent == nil || it.orphan {
		return (&gcBlock{id: it.id, length: it.length}).integrate(txn, 0)
	}

	if (it.left == nil && (it.right == nil || it.right.left != nil)) || (it.left != nil && it.left.right != it.right) {
		it.resolveConflicts(s)
	}

	if it.left != nil {
		it.right = it.left.right
		it.left.right = it
	} else {
		var r *Item
		if it.keyed {
			r = it.parent.entries[it.parentSub]
			for r != nil && r.left != nil {
				r = r.left
			}
		} else {
			r = it.parent.start
			it.parent.start = it
		}
		it.right = r
	}
	if it.right != nil {
		it.right.left = it
	} else if it.keyed {
		it.parent.entries[it.parentSub] = it
		if it.left != nil {
			// the previous value of the key is overwritten
			it.left.delete(txn)
		}
	}
	if !it.keyed && it.countable() && !it.deleted {
		it.parent.length += it.length
	}
	if err := s.addStruct(it); err != nil {
		return err
	}
	if err := it.content.integrate(txn, it); err != nil {
		return err
	}
	txn.addChangedType(it.parent, it.parentSub, it.keyed)
	if (it.parent.item != nil && it.parent.item.deleted) || (it.keyed && it.right != nil) {
		it.delete(txn)
	}
	return nil
}

// resolveConflicts picks the left neighbour among concurrently inserted
// items sharing the same origin. Ties are ordered by client id.
func (it *Item) resolveConflicts(s *store) {
	left := it.left
	var o *Item
	switch {
	case left != nil:
		o = left.right
	case it.keyed:
		o = it.parent.entries[it.parentSub]
		for o != nil && o.left != nil {
			o = o.left
		}
	default:
		o = it.parent.start
	}

	conflicting := make(map[*Item]struct{})
	beforeOrigin := make(map[*Item]struct{})
	for o != nil && o != it.right {
		beforeOrigin[o] = struct{}{}
		conflicting[o] = struct{}{}
		if compareIDs(it.origin, o.origin) {
			if o.id.Client < it.id.Client {
				left = o
				clear(conflicting)
			} else if compareIDs(it.rightOrigin, o.rightOrigin) {
				break
			}
		} else if oo := originItem(s, o); oo != nil && contains(beforeOrigin, oo) {
			if !contains(conflicting, oo) {
				left = o
				clear(conflicting)
			}
		} else {
			break
		}
		o = o.right
	}
	it.left = left
}

func originItem(s *store, o *Item) *Item {
	if o.origin == nil {
		return nil
	}
	return s.findItem(*o.origin)
}

func contains(set map[*Item]struct{}, it *Item) bool {
	_, ok := set[it]
	return ok
}

// delete marks the item as deleted and records it in the transaction.
func (it *Item) delete(txn *Transaction) {
	if it.deleted {
		return
	}
	if it.countable() && !it.keyed {
		it.parent.length -= it.length
	}
	it.deleted = true
	txn.deleteSet.add(it.id.Client, it.id.Clock, it.length)
	txn.addChangedType(it.parent, it.parentSub, it.keyed)
	it.content.delete(txn)
}

// gc drops the content of a deleted item. Items of a collected parent are
// replaced by gc ranges altogether.
func (it *Item) gc(s *store, parentGCd bool) {
	it.content.gc(s)
	if parentGCd {
		s.replace(it, &gcBlock{id: it.id, length: it.length})
	} else {
		it.content = &contentDeleted{n: it.length}
	}
}

// splitItem cuts left at diff and returns the right half, already linked.
func splitItem(txn *Transaction, left *Item, diff uint64) *Item {
	client, clock := left.id.Client, left.id.Clock
	right := &Item{
		id:          ID{Client: client, Clock: clock + diff},
		length:      left.length - diff,
		origin:      idPtr(client, clock+diff-1),
		rightOrigin: left.rightOrigin,
		left:        left,
		right:       left.right,
		parent:      left.parent,
		parentName:  left.parentName,
		parentID:    left.parentID,
		hasName:     left.hasName,
		parentSub:   left.parentSub,
		keyed:       left.keyed,
		deleted:     left.deleted,
		content:     left.content.splice(diff),
	}
	left.right = right
	if right.right != nil {
		right.right.left = right
	}
	txn.mergeStructs = append(txn.mergeStructs, right)
	if right.keyed && right.right == nil && right.parent != nil {
		right.parent.entries[right.parentSub] = right
	}
	left.length = diff
	return right
}

func (it *Item) mergeWith(other structure) bool {
	right, ok := other.(*Item)
	if !ok {
		return false
	}
	last := it.lastID()
	if !compareIDs(right.origin, &last) ||
		it.right != right ||
		!compareIDs(it.rightOrigin, right.rightOrigin) ||
		it.id.Client != right.id.Client ||
		it.id.Clock+it.length != right.id.Clock ||
		it.deleted != right.deleted ||
		!it.content.mergeWith(right.content) {
		return false
	}
	it.right = right.right
	if it.right != nil {
		it.right.left = it
	}
	it.length += right.length
	return true
}

func (it *Item) write(enc *encoding.Encoder, offset uint64) error {
	origin := it.origin
	if offset > 0 {
		origin = idPtr(it.id.Client, it.id.Clock+offset-1)
	}
	info := it.content.ref() & refMask
	if origin != nil {
		info |= flagOrigin
	}
	if it.rightOrigin != nil {
		info |= flagRightOrig
	}
	if it.keyed {
		info |= flagParentSub
	}
	enc.WriteUint8(info)
	if origin != nil {
		enc.WriteVarUint(origin.Client)
		enc.WriteVarUint(origin.Clock)
	}
	if it.rightOrigin != nil {
		enc.WriteVarUint(it.rightOrigin.Client)
		enc.WriteVarUint(it.rightOrigin.Clock)
	}
	if origin == nil && it.rightOrigin == nil {
		switch {
		case it.parent != nil && it.parent.item == nil:
			enc.WriteVarUint(1)
			enc.WriteVarString(it.parent.name)
		case it.parent != nil:
			enc.WriteVarUint(0)
			enc.WriteVarUint(it.parent.item.id.Client)
			enc.WriteVarUint(it.parent.item.id.Clock)
		case it.hasName:
			enc.WriteVarUint(1)
			enc.WriteVarString(it.parentName)
		case it.parentID != nil:
			enc.WriteVarUint(0)
			enc.WriteVarUint(it.parentID.Client)
			enc.WriteVarUint(it.parentID.Clock)
		default:
			return xerrors.Errorf("item %s has no parent information: %w", it.id, types.ErrMalformedUpdate)
		}
		if it.keyed {
			enc.WriteVarString(it.parentSub)
		}
	}
	return it.content.write(enc, offset)
}
