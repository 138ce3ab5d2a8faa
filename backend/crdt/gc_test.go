package crdt

import (
	"errors"
	"testing"
	"ydoc-node/backend/types"

	"github.com/stretchr/testify/require"
)

// Test_GC_DeletedNestedType verifies that the content of a deleted nested
// type is reclaimed and that the document still encodes correctly.
func Test_GC_DeletedNestedType(t *testing.T) {
	d := newTestDoc(t, 1)
	m, err := d.GetMap("m")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error { return m.Set(txn, "child", NewArray(1, 2)) })
	transact(t, d, func(txn *Transaction) error { return m.Set(txn, "keep", "v") })
	transact(t, d, func(txn *Transaction) error { return m.Delete(txn, "child") })

	require.NoError(t, d.CollectGarbage())

	structs := d.store.clients[1]
	i := findIndex(structs, 1)
	require.GreaterOrEqual(t, i, 0)
	_, ok := structs[i].(*gcBlock)
	require.True(t, ok)

	i = findIndex(structs, 0)
	it, ok := structs[i].(*Item)
	require.True(t, ok)
	_, ok = it.content.(*contentDeleted)
	require.True(t, ok)

	u, err := d.EncodeDiffSince(nil)
	require.NoError(t, err)
	d2 := newTestDoc(t, 2)
	require.NoError(t, d2.ApplyUpdate(u))
	other, err := d2.GetMap("m")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"keep": "v"}, other.ToJSON())
	require.Equal(t, d.StateVector(), d2.StateVector())
}

// Test_GC_DeletedText verifies that deleted text keeps its length only.
func Test_GC_DeletedText(t *testing.T) {
	d := newTestDoc(t, 1)
	text, err := d.GetText("t")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error { return text.Insert(txn, 0, "hello", nil) })
	transact(t, d, func(txn *Transaction) error { return text.Delete(txn, 0, 2) })
	require.NoError(t, d.CollectGarbage())

	it, ok := d.store.clients[1][0].(*Item)
	require.True(t, ok)
	require.Equal(t, uint64(2), it.length)
	_, ok = it.content.(*contentDeleted)
	require.True(t, ok)
	require.Equal(t, "llo", text.String())

	transact(t, d, func(txn *Transaction) error { return text.Insert(txn, 0, "he", nil) })
	require.Equal(t, "hello", text.String())
}

// Test_GC_Disabled verifies that WithSkipGC keeps deleted content and that
// collection is refused during a transaction.
func Test_GC_Disabled(t *testing.T) {
	d := newTestDoc(t, 1, WithSkipGC(true))
	text, err := d.GetText("t")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error { return text.Insert(txn, 0, "abc", nil) })
	transact(t, d, func(txn *Transaction) error { return text.Delete(txn, 0, 3) })
	require.NoError(t, d.CollectGarbage())

	it := d.store.clients[1][0].(*Item)
	_, ok := it.content.(*contentString)
	require.True(t, ok)

	d2 := newTestDoc(t, 2)
	_, err = d2.BeginTransaction()
	require.NoError(t, err)
	require.True(t, errors.Is(d2.CollectGarbage(), types.ErrTransactionConflict))
}
