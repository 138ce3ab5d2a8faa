package crdt

import (
	"fmt"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// Array is a shared list of values and nested shared types.
type Array struct {
	b *branch
}

// NewArray returns a preliminary array holding values.
func NewArray(values ...any) *Array {
	b := newBranch(types.TagArray)
	for _, v := range values {
		if n, err := types.Normalize(v); err == nil {
			v = n
		}
		b.prelimList = append(b.prelimList, v)
	}
	return &Array{b: b}
}

func (a *Array) TypeTag() types.TypeTag { return types.TagArray }
func (a *Array) branchRef() *branch     { return a.b }

func (a *Array) Len() int {
	return a.b.listLen()
}

// Get returns the element at index. Negative indices count from the end.
func (a *Array) Get(index int) (any, error) {
	n := a.Len()
	i := index
	if i < 0 {
		i += n
	}
	v, ok := a.b.listGet(i)
	if !ok {
		return nil, xerrors.Errorf("index %d of %d elements: %w", index, n, types.ErrIndexOutOfRange)
	}
	return v, nil
}

// Slice returns the elements in [start, end).
func (a *Array) Slice(start, end int) ([]any, error) {
	vals := a.b.listValues()
	if start < 0 || end > len(vals) || start > end {
		return nil, xerrors.Errorf("slice [%d:%d] of %d elements: %w", start, end, len(vals), types.ErrIndexOutOfRange)
	}
	return vals[start:end], nil
}

func (a *Array) Values() []any {
	return a.b.listValues()
}

// Insert inserts values at index.
func (a *Array) Insert(txn *Transaction, index int, values ...any) error {
	if !a.b.integrated() {
		return prelimListInsert(a.b, index, values)
	}
	if err := a.b.check(txn); err != nil {
		return err
	}
	if index < 0 || index > a.Len() {
		return outOfRange(index, a.Len())
	}
	vals, err := prepareValues(values)
	if err != nil {
		return err
	}
	if len(vals) == 0 {
		return nil
	}
	return a.b.insertAt(txn, uint64(index), vals)
}

// Push appends values.
func (a *Array) Push(txn *Transaction, values ...any) error {
	if !a.b.integrated() {
		return prelimListInsert(a.b, len(a.b.prelimList), values)
	}
	if err := a.b.check(txn); err != nil {
		return err
	}
	return a.Insert(txn, a.Len(), values...)
}

// Delete removes length elements starting at index.
func (a *Array) Delete(txn *Transaction, index, length int) error {
	if !a.b.integrated() {
		return prelimListDelete(a.b, index, length)
	}
	if err := a.b.check(txn); err != nil {
		return err
	}
	return deleteChildren(txn, a.b, index, length)
}

func deleteChildren(txn *Transaction, b *branch, index, length int) error {
	n := b.listLen()
	if index < 0 || length < 0 || index > n || index+length > n {
		return xerrors.Errorf("delete [%d, %d) of %d elements: %w", index, index+length, n, types.ErrIndexOutOfRange)
	}
	if length == 0 {
		return nil
	}
	b.deleteRange(txn, uint64(index), uint64(length))
	return nil
}

// MoveTo moves the element at source in front of the element currently at
// target.
func (a *Array) MoveTo(txn *Transaction, source, target int) error {
	return a.MoveRangeTo(txn, source, source, target)
}

// MoveRangeTo moves the elements from start to end inclusive in front of
// the element currently at target. Nested shared types are moved as
// copies.
func (a *Array) MoveRangeTo(txn *Transaction, start, end, target int) error {
	if !a.b.integrated() {
		return prelimListMove(a.b, start, end, target)
	}
	if err := a.b.check(txn); err != nil {
		return err
	}
	n := a.Len()
	if start < 0 || end < 0 || target < 0 || target > n || (start <= end && end >= n) {
		return xerrors.Errorf("move [%d, %d] to %d of %d elements: %w", start, end, target, n, types.ErrIndexOutOfRange)
	}
	if start > end || (target >= start && target <= end+1) {
		return nil
	}
	vals := a.b.listValues()[start : end+1]
	moved := make([]any, len(vals))
	for i, v := range vals {
		moved[i] = copyValue(v)
	}
	a.b.deleteRange(txn, uint64(start), uint64(len(vals)))
	if target > end {
		target -= len(vals)
	}
	return a.b.insertAt(txn, uint64(target), moved)
}

func (a *Array) ToJSON() any {
	vals := a.b.listValues()
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = types.ToJSON(v)
	}
	return out
}

func (a *Array) String() string {
	return jsonString(a.ToJSON())
}

func (a *Array) Observe(fn func(*Event)) *Subscription { return a.b.observers.add(fn) }
func (a *Array) Unobserve(sub *Subscription) bool      { return a.b.observers.remove(sub) }

func (a *Array) ObserveDeep(fn func([]*Event)) *Subscription { return a.b.deepObservers.add(fn) }
func (a *Array) UnobserveDeep(sub *Subscription) bool        { return a.b.deepObservers.remove(sub) }

func jsonString(v any) string {
	b, err := marshalJSON(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// copyValue returns v with nested shared types replaced by preliminary
// copies of their current content.
func copyValue(v any) any {
	b := branchOf(v)
	if b == nil {
		return v
	}
	c := newBranch(b.tag)
	c.nodeName = b.nodeName
	switch b.tag {
	case types.TagText, types.TagXmlText:
		c.prelimText = textString(b)
	case types.TagArray, types.TagXmlElement, types.TagXmlFragment:
		for _, e := range b.listValues() {
			c.prelimList = append(c.prelimList, copyValue(e))
		}
	}
	if keys := b.mapKeys(); len(keys) > 0 {
		c.prelimEntries = make(map[string]any, len(keys))
		for _, k := range keys {
			e, _ := b.mapGet(k)
			c.prelimEntries[k] = copyValue(e)
		}
	}
	return c.wrap()
}
