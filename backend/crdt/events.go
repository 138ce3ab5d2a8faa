package crdt

import (
	"slices"
	"ydoc-node/backend/types"
)

// Event describes what a transaction changed in one shared type. Deltas
// and key changes are computed when the event is created, so they stay
// valid after dispatch.
type Event struct {
	target        *branch
	currentTarget *branch
	txn           *Transaction
	delta         types.Delta
	keys          map[string]types.EntryChange
	path          []types.PathSegment
}

// Target returns the shared type that changed.
func (e *Event) Target() types.Shared { return e.target.wrap() }

// CurrentTarget returns the type whose observer is being called. It
// differs from Target for deep observers.
func (e *Event) CurrentTarget() types.Shared { return e.currentTarget.wrap() }

// Transaction returns the committed transaction that produced the event.
func (e *Event) Transaction() *Transaction { return e.txn }

// Origin returns the origin the transaction was started with.
func (e *Event) Origin() any { return e.txn.origin }

// Delta returns the sequence changes: text runs for Text and XmlText,
// element runs for Array and xml children.
func (e *Event) Delta() types.Delta { return e.delta }

// Keys returns the changed map keys or xml attributes.
func (e *Event) Keys() map[string]types.EntryChange { return e.keys }

// Path returns the keys and indices leading from CurrentTarget to Target.
func (e *Event) Path() []types.PathSegment { return e.path }

func newEvent(b *branch, txn *Transaction, cs *changeSet) *Event {
	e := &Event{
		target:        b,
		currentTarget: b,
		txn:           txn,
		delta:         types.Delta{},
		keys:          make(map[string]types.EntryChange),
		path:          []types.PathSegment{},
	}
	if cs.list {
		if b.tag == types.TagText || b.tag == types.TagXmlText {
			e.delta = textDelta(b, txn)
		} else {
			e.delta = listDelta(b, txn)
		}
	}
	for key := range cs.keys {
		if change, ok := keyChange(b, txn, key); ok {
			e.keys[key] = change
		}
	}
	return e
}

func (e *Event) withCurrentTarget(b *branch) *Event {
	c := *e
	c.currentTarget = b
	c.path = pathTo(b, e.target)
	return &c
}

func pathTo(parent, child *branch) []types.PathSegment {
	path := []types.PathSegment{}
	for child.item != nil && child != parent {
		it := child.item
		if it.keyed {
			path = append(path, it.parentSub)
		} else {
			i := 0
			for c := it.parent.start; c != nil && c != it; c = c.right {
				if c.visible() {
					i += int(c.length)
				}
			}
			path = append(path, i)
		}
		child = it.parent
	}
	slices.Reverse(path)
	return path
}

func keyChange(b *branch, txn *Transaction, key string) (types.EntryChange, bool) {
	it := b.entries[key]
	if it == nil {
		return types.EntryChange{}, false
	}
	last := func(it *Item) any {
		vals := it.content.values()
		if len(vals) == 0 {
			return nil
		}
		return vals[len(vals)-1]
	}
	if txn.adds(it) {
		prev := it.left
		for prev != nil && txn.adds(prev) {
			prev = prev.left
		}
		if txn.deletes(it) {
			if prev != nil && txn.deletes(prev) {
				return types.EntryChange{Action: types.ActionDelete, OldValue: last(prev)}, true
			}
			return types.EntryChange{}, false
		}
		if prev != nil && txn.deletes(prev) {
			return types.EntryChange{Action: types.ActionUpdate, OldValue: last(prev), NewValue: last(it)}, true
		}
		return types.EntryChange{Action: types.ActionAdd, NewValue: last(it)}, true
	}
	if txn.deletes(it) {
		return types.EntryChange{Action: types.ActionDelete, OldValue: last(it)}, true
	}
	return types.EntryChange{}, false
}

// deltaBuilder collects run-length encoded operations.
type deltaBuilder struct {
	ops types.Delta
}

func (d *deltaBuilder) retain(n int) {
	if k := len(d.ops); k > 0 && d.ops[k-1].Retain > 0 && d.ops[k-1].Attributes == nil {
		d.ops[k-1].Retain += n
		return
	}
	d.ops = append(d.ops, types.DeltaOp{Retain: n})
}

func (d *deltaBuilder) delete(n int) {
	if k := len(d.ops); k > 0 && d.ops[k-1].Delete > 0 {
		d.ops[k-1].Delete += n
		return
	}
	d.ops = append(d.ops, types.DeltaOp{Delete: n})
}

func (d *deltaBuilder) insertValues(vals []any) {
	if k := len(d.ops); k > 0 {
		if prev, ok := d.ops[k-1].Insert.([]any); ok {
			d.ops[k-1].Insert = append(prev, vals...)
			return
		}
	}
	d.ops = append(d.ops, types.DeltaOp{Insert: append([]any(nil), vals...)})
}

// trimRetain drops trailing retains without attributes.
func (d *deltaBuilder) trimRetain() types.Delta {
	for len(d.ops) > 0 {
		last := d.ops[len(d.ops)-1]
		if last.Retain > 0 && last.Attributes == nil {
			d.ops = d.ops[:len(d.ops)-1]
			continue
		}
		break
	}
	if d.ops == nil {
		return types.Delta{}
	}
	return d.ops
}

// listDelta describes element changes. Elements both inserted and deleted
// by the transaction do not show up at all.
func listDelta(b *branch, txn *Transaction) types.Delta {
	var d deltaBuilder
	for it := b.start; it != nil; it = it.right {
		switch {
		case it.deleted:
			if txn.deletes(it) && !txn.adds(it) && it.countable() {
				d.delete(int(it.length))
			}
		case !it.countable():
		case txn.adds(it):
			d.insertValues(it.content.values())
		default:
			d.retain(int(it.length))
		}
	}
	return d.trimRetain()
}

// textDelta describes text changes including formatting. Lengths are
// measured in the document offset kind.
func textDelta(b *branch, txn *Transaction) types.Delta {
	kind := txn.doc.offsetKind
	var ops types.Delta
	current := map[string]any{}
	old := map[string]any{}
	attributes := map[string]any{}

	const (
		actNone = iota
		actInsert
		actRetain
		actDelete
	)
	action := actNone
	var insert any
	var text string
	retain, deleteLen := 0, 0

	flush := func() {
		switch action {
		case actDelete:
			if deleteLen > 0 {
				ops = append(ops, types.DeltaOp{Delete: deleteLen})
			}
			deleteLen = 0
		case actInsert:
			var op types.DeltaOp
			switch {
			case insert != nil:
				op.Insert = insert
			case text != "":
				op.Insert = text
			}
			if op.Insert != nil {
				for k, v := range current {
					if v != nil {
						if op.Attributes == nil {
							op.Attributes = map[string]any{}
						}
						op.Attributes[k] = v
					}
				}
				ops = append(ops, op)
			}
			insert, text = nil, ""
		case actRetain:
			if retain > 0 {
				op := types.DeltaOp{Retain: retain}
				if len(attributes) > 0 {
					op.Attributes = make(map[string]any, len(attributes))
					for k, v := range attributes {
						op.Attributes[k] = v
					}
				}
				ops = append(ops, op)
			}
			retain = 0
		}
		action = actNone
	}
	switchTo := func(a int) {
		if action != a {
			flush()
			action = a
		}
	}

	for it := b.start; it != nil; it = it.right {
		switch c := it.content.(type) {
		case *contentType, *contentEmbed:
			switch {
			case txn.adds(it):
				if !txn.deletes(it) {
					flush()
					action = actInsert
					insert = c.values()[0]
					flush()
				}
			case txn.deletes(it):
				switchTo(actDelete)
				deleteLen++
			case !it.deleted:
				switchTo(actRetain)
				retain++
			}
		case *contentString:
			switch {
			case txn.adds(it):
				if !txn.deletes(it) {
					switchTo(actInsert)
					text += c.String()
				}
			case txn.deletes(it):
				switchTo(actDelete)
				deleteLen += c.width(kind)
			case !it.deleted:
				switchTo(actRetain)
				retain += c.width(kind)
			}
		case *contentFormat:
			switch {
			case txn.adds(it):
				if !txn.deletes(it) {
					if !types.Equal(current[c.key], c.value) {
						if action == actRetain {
							flush()
						}
						if types.Equal(c.value, old[c.key]) {
							delete(attributes, c.key)
						} else {
							attributes[c.key] = c.value
						}
					}
				}
			case txn.deletes(it):
				old[c.key] = c.value
				if cur := current[c.key]; !types.Equal(cur, c.value) {
					if action == actRetain {
						flush()
					}
					attributes[c.key] = cur
				}
			case !it.deleted:
				old[c.key] = c.value
				if attr, ok := attributes[c.key]; ok && !types.Equal(attr, c.value) {
					if action == actRetain {
						flush()
					}
					if c.value == nil {
						delete(attributes, c.key)
					} else {
						attributes[c.key] = c.value
					}
				}
			}
			if !it.deleted {
				if action == actInsert {
					flush()
				}
				updateCurrentAttributes(current, c)
			}
		}
	}
	flush()

	d := deltaBuilder{ops: ops}
	return d.trimRetain()
}

func updateCurrentAttributes(attrs map[string]any, f *contentFormat) {
	if f.value == nil {
		delete(attrs, f.key)
	} else {
		attrs[f.key] = f.value
	}
}
