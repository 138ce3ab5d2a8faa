package crdt

import (
	"errors"
	"testing"
	"ydoc-node/backend/types"

	"github.com/stretchr/testify/require"
)

// Test_Map_SetGetDelete verifies the basic map operations.
func Test_Map_SetGetDelete(t *testing.T) {
	d := newTestDoc(t, 1)
	m, err := d.GetMap("m")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error {
		require.NoError(t, m.Set(txn, "b", 2))
		require.NoError(t, m.Set(txn, "a", "x"))
		return m.Set(txn, "b", 3)
	})

	require.Equal(t, 2, m.Len())
	require.Equal(t, []string{"a", "b"}, m.Keys())
	require.Equal(t, []any{"x", int64(3)}, m.Values())
	require.True(t, m.Has("a"))
	require.Equal(t, "fallback", m.GetOr("c", "fallback"))
	require.Equal(t, `{"a":"x","b":3}`, m.String())

	_, err = m.Get("c")
	require.True(t, errors.Is(err, types.ErrKeyNotFound))

	var popped any
	transact(t, d, func(txn *Transaction) error {
		popped, err = m.Pop(txn, "a")
		return err
	})
	require.Equal(t, "x", popped)
	require.False(t, m.Has("a"))

	err = d.Transact(func(txn *Transaction) error { return m.Delete(txn, "a") })
	require.True(t, errors.Is(err, types.ErrKeyNotFound))

	transact(t, d, func(txn *Transaction) error {
		popped, err = m.PopOr(txn, "a", "none")
		return err
	})
	require.Equal(t, "none", popped)
}

// Test_Map_Update verifies bulk updates and their key validation.
func Test_Map_Update(t *testing.T) {
	d := newTestDoc(t, 1)
	m, err := d.GetMap("m")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error {
		return m.Update(txn, map[string]any{"x": 1, "y": []any{true}})
	})
	require.Equal(t, map[string]any{"x": int64(1), "y": []any{true}}, m.ToJSON())

	err = d.Transact(func(txn *Transaction) error {
		return m.Update(txn, map[any]any{"z": 1, 7: 2})
	})
	require.True(t, errors.Is(err, types.ErrInvalidKey))
	require.False(t, m.Has("z"))

	transact(t, d, func(txn *Transaction) error {
		return m.Update(txn, []KeyValue{{Key: "x", Value: "one"}, {Key: "z", Value: nil}})
	})
	require.Equal(t, map[string]any{"x": "one", "y": []any{true}, "z": nil}, m.ToJSON())
}

// Test_Map_KeyChanges verifies the key changes reported to observers.
func Test_Map_KeyChanges(t *testing.T) {
	d := newTestDoc(t, 1)
	m, err := d.GetMap("m")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error {
		require.NoError(t, m.Set(txn, "key1", "value1"))
		return m.Set(txn, "key2", 2)
	})

	var keys map[string]types.EntryChange
	m.Observe(func(e *Event) { keys = e.Keys() })

	transact(t, d, func(txn *Transaction) error {
		require.NoError(t, m.Delete(txn, "key1"))
		require.NoError(t, m.Set(txn, "key2", "value2"))
		require.NoError(t, m.Set(txn, "tmp", 1))
		require.NoError(t, m.Delete(txn, "tmp"))
		return m.Set(txn, "key3", "new")
	})

	require.Equal(t, map[string]types.EntryChange{
		"key1": {Action: types.ActionDelete, OldValue: "value1"},
		"key2": {Action: types.ActionUpdate, OldValue: int64(2), NewValue: "value2"},
		"key3": {Action: types.ActionAdd, NewValue: "new"},
	}, keys)
}

// Test_Map_ConcurrentSet verifies that concurrent writes to one key keep
// the value of the higher client id on both replicas.
func Test_Map_ConcurrentSet(t *testing.T) {
	d1 := newTestDoc(t, 1)
	d2 := newTestDoc(t, 2)
	m1, err := d1.GetMap("m")
	require.NoError(t, err)
	m2, err := d2.GetMap("m")
	require.NoError(t, err)

	transact(t, d1, func(txn *Transaction) error { return m1.Set(txn, "k", "from 1") })
	transact(t, d2, func(txn *Transaction) error { return m2.Set(txn, "k", "from 2") })

	u1, err := d1.EncodeDiffSince(nil)
	require.NoError(t, err)
	u2, err := d2.EncodeDiffSince(nil)
	require.NoError(t, err)
	require.NoError(t, d1.ApplyUpdate(u2))
	require.NoError(t, d2.ApplyUpdate(u1))

	require.Equal(t, m1.ToJSON(), m2.ToJSON())
	v, err := m1.Get("k")
	require.NoError(t, err)
	require.Equal(t, "from 2", v)
}

// Test_Map_PrelimEdits verifies that a preliminary map is edited in place
// and integrates with its edits.
func Test_Map_PrelimEdits(t *testing.T) {
	prelim := NewMap(map[string]any{"a": 1})
	require.NoError(t, prelim.Set(nil, "b", "two"))
	require.NoError(t, prelim.Update(nil, map[string]any{"a": 10, "c": true}))

	v, err := prelim.Pop(nil, "b")
	require.NoError(t, err)
	require.Equal(t, "two", v)

	err = prelim.Delete(nil, "missing")
	require.True(t, errors.Is(err, types.ErrKeyNotFound))
	err = prelim.Update(nil, map[any]any{1: "x"})
	require.True(t, errors.Is(err, types.ErrInvalidKey))
	require.Equal(t, []string{"a", "c"}, prelim.Keys())

	d := newTestDoc(t, 1)
	root, err := d.GetMap("m")
	require.NoError(t, err)
	transact(t, d, func(txn *Transaction) error { return root.Set(txn, "child", prelim) })
	require.Equal(t, map[string]any{"child": map[string]any{"a": int64(10), "c": true}}, root.ToJSON())

	transact(t, d, func(txn *Transaction) error { return prelim.Set(txn, "d", "after") })
	require.Equal(t, "after", prelim.GetOr("d", nil))
}
