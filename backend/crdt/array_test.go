package crdt

import (
	"errors"
	"testing"
	"ydoc-node/backend/types"

	"github.com/stretchr/testify/require"
)

// Test_Array_InsertGetDelete verifies the basic sequence operations.
func Test_Array_InsertGetDelete(t *testing.T) {
	d := newTestDoc(t, 1)
	arr, err := d.GetArray("a")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error {
		require.NoError(t, arr.Push(txn, 1, 2, 3))
		return arr.Insert(txn, 0, "first")
	})
	require.Equal(t, 4, arr.Len())
	require.Equal(t, []any{"first", int64(1), int64(2), int64(3)}, arr.Values())

	v, err := arr.Get(-1)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)

	_, err = arr.Get(4)
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))

	s, err := arr.Slice(1, 3)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), int64(2)}, s)

	transact(t, d, func(txn *Transaction) error { return arr.Delete(txn, 1, 2) })
	require.Equal(t, `["first",3]`, arr.String())

	err = d.Transact(func(txn *Transaction) error { return arr.Delete(txn, 1, 2) })
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))
}

// Test_Array_UnsupportedValue verifies that values outside the value model
// are rejected without changing the array.
func Test_Array_UnsupportedValue(t *testing.T) {
	d := newTestDoc(t, 1)
	arr, err := d.GetArray("a")
	require.NoError(t, err)

	err = d.Transact(func(txn *Transaction) error {
		return arr.Push(txn, 1, struct{}{})
	})
	require.True(t, errors.Is(err, types.ErrUnsupportedValue))
	require.Equal(t, 0, arr.Len())
}

// Test_Array_EventDelta verifies the delta of a transaction that deletes
// and inserts at the same position.
func Test_Array_EventDelta(t *testing.T) {
	d := newTestDoc(t, 1)
	arr, err := d.GetArray("a")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error { return arr.Push(txn, 1, 2, 3) })

	var events []*Event
	arr.Observe(func(e *Event) { events = append(events, e) })

	transact(t, d, func(txn *Transaction) error {
		require.NoError(t, arr.Delete(txn, 1, 1))
		return arr.Insert(txn, 1, "x")
	})

	require.Len(t, events, 1)
	require.Equal(t, types.Delta{
		{Retain: 1},
		{Insert: []any{"x"}},
		{Delete: 1},
	}, events[0].Delta())
	require.Empty(t, events[0].Keys())
	require.Equal(t, []any{int64(1), "x", int64(3)}, arr.Values())
}

// Test_Array_Move verifies moving single elements and ranges.
func Test_Array_Move(t *testing.T) {
	d := newTestDoc(t, 1)
	arr, err := d.GetArray("a")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error { return arr.Push(txn, "a", "b", "c", "d") })

	transact(t, d, func(txn *Transaction) error { return arr.MoveTo(txn, 0, 3) })
	require.Equal(t, []any{"b", "c", "a", "d"}, arr.Values())

	transact(t, d, func(txn *Transaction) error { return arr.MoveRangeTo(txn, 2, 3, 0) })
	require.Equal(t, []any{"a", "d", "b", "c"}, arr.Values())

	// moving in front of itself changes nothing
	transact(t, d, func(txn *Transaction) error { return arr.MoveTo(txn, 1, 2) })
	require.Equal(t, []any{"a", "d", "b", "c"}, arr.Values())

	err = d.Transact(func(txn *Transaction) error { return arr.MoveTo(txn, 4, 0) })
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))
}

// Test_Array_MoveNested verifies that moved shared types keep their
// content.
func Test_Array_MoveNested(t *testing.T) {
	d := newTestDoc(t, 1)
	arr, err := d.GetArray("a")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error {
		return arr.Push(txn, NewMap(map[string]any{"k": "v"}), NewText("txt"), "end")
	})
	transact(t, d, func(txn *Transaction) error { return arr.MoveRangeTo(txn, 0, 1, 3) })

	require.Equal(t, []any{"end", map[string]any{"k": "v"}, "txt"}, arr.ToJSON())
}

// Test_Array_Prelim verifies nested preliminary arrays.
func Test_Array_Prelim(t *testing.T) {
	inner := NewArray(1, "two")
	require.Equal(t, 2, inner.Len())

	d := newTestDoc(t, 1)
	arr, err := d.GetArray("a")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error { return arr.Push(txn, NewArray(inner)) })
	require.Equal(t, []any{[]any{[]any{int64(1), "two"}}}, arr.ToJSON())

	transact(t, d, func(txn *Transaction) error { return inner.Push(txn, 3.5) })
	require.Equal(t, []any{[]any{[]any{int64(1), "two", 3.5}}}, arr.ToJSON())
}

// Test_Array_PrelimEdits verifies that a preliminary array is edited in
// place and integrates with its edits.
func Test_Array_PrelimEdits(t *testing.T) {
	prelim := NewArray(1, 2, 3)
	require.NoError(t, prelim.Push(nil, 4))
	require.NoError(t, prelim.Insert(nil, 0, "zero"))
	require.NoError(t, prelim.Delete(nil, 1, 2))
	require.Equal(t, []any{"zero", int64(3), int64(4)}, prelim.Values())

	require.NoError(t, prelim.MoveTo(nil, 0, 3))
	require.Equal(t, []any{int64(3), int64(4), "zero"}, prelim.Values())

	err := prelim.Insert(nil, 9, 1)
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))
	err = prelim.Delete(nil, 2, 2)
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))
	err = prelim.Push(nil, prelim)
	require.True(t, errors.Is(err, types.ErrAlreadyIntegrated))

	nested := NewText("n")
	require.NoError(t, prelim.Push(nil, nested))
	require.NoError(t, nested.Push(nil, "!", nil))

	d := newTestDoc(t, 1)
	arr, err := d.GetArray("a")
	require.NoError(t, err)
	transact(t, d, func(txn *Transaction) error { return arr.Push(txn, prelim) })
	require.Equal(t, []any{[]any{int64(3), int64(4), "zero", "n!"}}, arr.ToJSON())

	transact(t, d, func(txn *Transaction) error { return prelim.Delete(txn, 0, 1) })
	require.Equal(t, []any{[]any{int64(4), "zero", "n!"}}, arr.ToJSON())
}

// Test_Array_Sync verifies that interleaved edits of two replicas
// converge.
func Test_Array_Sync(t *testing.T) {
	d1 := newTestDoc(t, 1)
	d2 := newTestDoc(t, 2)
	a1, err := d1.GetArray("a")
	require.NoError(t, err)
	a2, err := d2.GetArray("a")
	require.NoError(t, err)

	d1.ObserveUpdate(func(u []byte, _ any) { require.NoError(t, d2.ApplyUpdate(u)) })

	transact(t, d1, func(txn *Transaction) error { return a1.Push(txn, 1, 2, 3) })
	require.Equal(t, a1.Values(), a2.Values())

	transact(t, d2, func(txn *Transaction) error { return a2.Insert(txn, 1, "b") })
	transact(t, d1, func(txn *Transaction) error { return a1.Delete(txn, 0, 1) })

	u, err := d2.EncodeDiffSince(d1.EncodeStateVector())
	require.NoError(t, err)
	require.NoError(t, d1.ApplyUpdate(u))

	require.Equal(t, []any{"b", int64(2), int64(3)}, a1.Values())
	require.Equal(t, a1.Values(), a2.Values())
}
