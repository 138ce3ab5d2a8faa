package crdt

import (
	"errors"
	"testing"
	"ydoc-node/backend/types"

	"github.com/stretchr/testify/require"
)

// Test_Text_InsertAndSync verifies that consecutive pushes sync to a fresh
// replica.
func Test_Text_InsertAndSync(t *testing.T) {
	d1 := newTestDoc(t, 1)
	text, err := d1.GetText("test")
	require.NoError(t, err)

	transact(t, d1, func(txn *Transaction) error {
		require.NoError(t, text.Push(txn, "hello", nil))
		require.NoError(t, text.Push(txn, " world", nil))
		return text.Push(txn, "!", nil)
	})
	require.Equal(t, "hello world!", text.String())
	require.Equal(t, 12, text.Len())

	update, err := d1.EncodeDiffSince(nil)
	require.NoError(t, err)

	d2 := newTestDoc(t, 2)
	other, err := d2.GetText("test")
	require.NoError(t, err)
	require.NoError(t, d2.ApplyUpdate(update))
	require.Equal(t, "hello world!", other.String())
	require.Equal(t, StateVector{1: 12}, d2.StateVector())
}

// Test_Text_ConcurrentInserts verifies that concurrent inserts at the same
// position converge in client id order on both replicas.
func Test_Text_ConcurrentInserts(t *testing.T) {
	d1 := newTestDoc(t, 1)
	d2 := newTestDoc(t, 2)
	t1, err := d1.GetText("t")
	require.NoError(t, err)
	t2, err := d2.GetText("t")
	require.NoError(t, err)

	transact(t, d1, func(txn *Transaction) error { return t1.Insert(txn, 0, "A", nil) })
	transact(t, d2, func(txn *Transaction) error { return t2.Insert(txn, 0, "B", nil) })

	u1, err := d1.EncodeDiffSince(nil)
	require.NoError(t, err)
	u2, err := d2.EncodeDiffSince(nil)
	require.NoError(t, err)

	require.NoError(t, d1.ApplyUpdate(u2))
	require.NoError(t, d2.ApplyUpdate(u1))

	require.Equal(t, "AB", t1.String())
	require.Equal(t, "AB", t2.String())
}

// Test_Text_DeleteBounds verifies index validation of deletions.
func Test_Text_DeleteBounds(t *testing.T) {
	d := newTestDoc(t, 1)
	text, err := d.GetText("t")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error { return text.Insert(txn, 0, "abc", nil) })

	err = d.Transact(func(txn *Transaction) error { return text.Delete(txn, 3, 1) })
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))

	err = d.Transact(func(txn *Transaction) error { return text.Delete(txn, -1, 1) })
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))

	err = d.Transact(func(txn *Transaction) error { return text.Insert(txn, 4, "x", nil) })
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))

	transact(t, d, func(txn *Transaction) error { return text.Delete(txn, 3, 0) })
	transact(t, d, func(txn *Transaction) error { return text.Delete(txn, 1, 1) })
	require.Equal(t, "ac", text.String())
}

// Test_Text_EventDeltaIsMinimal verifies that content inserted and deleted
// within one transaction never shows up in the event.
func Test_Text_EventDeltaIsMinimal(t *testing.T) {
	d := newTestDoc(t, 1)
	text, err := d.GetText("t")
	require.NoError(t, err)

	var deltas []types.Delta
	text.Observe(func(e *Event) { deltas = append(deltas, e.Delta()) })

	transact(t, d, func(txn *Transaction) error {
		require.NoError(t, text.Insert(txn, 0, "hello", nil))
		return text.Delete(txn, 3, 2)
	})
	require.Equal(t, []types.Delta{{{Insert: "hel"}}}, deltas)

	transact(t, d, func(txn *Transaction) error { return text.Delete(txn, 1, 1) })
	require.Equal(t, types.Delta{{Retain: 1}, {Delete: 1}}, deltas[1])
}

// Test_Text_Formatting verifies format events and the resulting delta.
func Test_Text_Formatting(t *testing.T) {
	d := newTestDoc(t, 1)
	text, err := d.GetText("t")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error { return text.Insert(txn, 0, "stylish", nil) })

	var deltas []types.Delta
	text.Observe(func(e *Event) { deltas = append(deltas, e.Delta()) })

	transact(t, d, func(txn *Transaction) error {
		return text.Format(txn, 0, 4, map[string]any{"bold": true})
	})
	transact(t, d, func(txn *Transaction) error {
		return text.Format(txn, 4, 3, map[string]any{"bold": true})
	})

	require.Len(t, deltas, 2)
	require.Equal(t, types.Delta{{Retain: 4, Attributes: map[string]any{"bold": true}}}, deltas[0])
	require.Equal(t, types.Delta{{Retain: 4}, {Retain: 3, Attributes: map[string]any{"bold": true}}}, deltas[1])

	require.Equal(t, types.Delta{
		{Insert: "stylish", Attributes: map[string]any{"bold": true}},
	}, text.ToDelta())
	require.Equal(t, "stylish", text.String())
}

// Test_Text_InheritsFormatting verifies that inserting without attributes
// continues the formatting on the left, and an empty map does not.
func Test_Text_InheritsFormatting(t *testing.T) {
	d := newTestDoc(t, 1)
	text, err := d.GetText("t")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error {
		return text.Insert(txn, 0, "hello", map[string]any{"bold": true})
	})
	transact(t, d, func(txn *Transaction) error {
		return text.Insert(txn, 5, " world", nil)
	})
	require.Equal(t, types.Delta{
		{Insert: "hello world", Attributes: map[string]any{"bold": true}},
	}, text.ToDelta())

	transact(t, d, func(txn *Transaction) error {
		return text.Push(txn, "!", map[string]any{})
	})
	require.Equal(t, types.Delta{
		{Insert: "hello world", Attributes: map[string]any{"bold": true}},
		{Insert: "!"},
	}, text.ToDelta())
}

// Test_Text_Embeds verifies embedded values in the delta of a text.
func Test_Text_Embeds(t *testing.T) {
	d := newTestDoc(t, 1)
	text, err := d.GetText("t")
	require.NoError(t, err)

	var delta types.Delta
	text.Observe(func(e *Event) { delta = e.Delta() })

	transact(t, d, func(txn *Transaction) error {
		require.NoError(t, text.Insert(txn, 0, "a", nil))
		require.NoError(t, text.InsertEmbed(txn, 1, map[string]any{"src": "img"}, map[string]any{"width": 100}))
		return text.Insert(txn, 2, "b", map[string]any{})
	})

	expected := types.Delta{
		{Insert: "a"},
		{Insert: map[string]any{"src": "img"}, Attributes: map[string]any{"width": int64(100)}},
		{Insert: "b"},
	}
	require.Equal(t, expected, delta)
	require.Equal(t, expected, text.ToDelta())
	require.Equal(t, "ab", text.String())
	require.Equal(t, 3, text.Len())
}

// Test_Text_OffsetKinds verifies that indices follow the configured unit.
func Test_Text_OffsetKinds(t *testing.T) {
	const s = "aé😀b"

	cases := map[string]struct {
		length  int
		deleted string
		index   int
		n       int
	}{
		"bytes": {length: 8, index: 3, n: 4, deleted: "aéb"},
		"utf16": {length: 5, index: 2, n: 2, deleted: "aéb"},
		"utf32": {length: 4, index: 2, n: 1, deleted: "aéb"},
	}

	for kind, c := range cases {
		d := newTestDoc(t, 1, WithOffsetKind(kind))
		text, err := d.GetText("t")
		require.NoError(t, err)

		transact(t, d, func(txn *Transaction) error { return text.Insert(txn, 0, s, nil) })
		require.Equal(t, c.length, text.Len(), kind)

		transact(t, d, func(txn *Transaction) error { return text.Delete(txn, c.index, c.n) })
		require.Equal(t, c.deleted, text.String(), kind)
	}
}

// Test_Text_SplitCharacter verifies that a byte index inside a character is
// rejected.
func Test_Text_SplitCharacter(t *testing.T) {
	d := newTestDoc(t, 1)
	text, err := d.GetText("t")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error { return text.Insert(txn, 0, "é", nil) })

	err = d.Transact(func(txn *Transaction) error { return text.Insert(txn, 1, "x", nil) })
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))
	require.Equal(t, "é", text.String())
}

// Test_Text_Prelim verifies a text that is not attached to a document:
// it is edited in place, integrates with its edits, and is then edited
// through transactions.
func Test_Text_Prelim(t *testing.T) {
	prelim := NewText("draft")
	require.Equal(t, "draft", prelim.String())
	require.Equal(t, 5, prelim.Len())
	require.Equal(t, types.Delta{{Insert: "draft"}}, prelim.ToDelta())

	require.NoError(t, prelim.Push(nil, " one", nil))
	require.NoError(t, prelim.Insert(nil, 0, "a ", nil))
	require.NoError(t, prelim.Delete(nil, 0, 2))
	require.Equal(t, "draft one", prelim.String())

	err := prelim.Format(nil, 0, 1, map[string]any{"bold": true})
	require.True(t, errors.Is(err, types.ErrPreliminary))
	err = prelim.Insert(nil, 0, "x", map[string]any{"bold": true})
	require.True(t, errors.Is(err, types.ErrPreliminary))
	err = prelim.Insert(nil, 100, "x", nil)
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))
	require.Equal(t, "draft one", prelim.String())

	d := newTestDoc(t, 1)
	arr, err := d.GetArray("a")
	require.NoError(t, err)

	transact(t, d, func(txn *Transaction) error { return arr.Push(txn, prelim) })
	require.Equal(t, []any{"draft one"}, arr.ToJSON())

	err = d.Transact(func(txn *Transaction) error { return arr.Push(txn, prelim) })
	require.True(t, errors.Is(err, types.ErrAlreadyIntegrated))

	transact(t, d, func(txn *Transaction) error { return prelim.Push(txn, "!", nil) })
	require.Equal(t, []any{"draft one!"}, arr.ToJSON())

	d2 := newTestDoc(t, 2)
	update, err := d.EncodeDiffSince(nil)
	require.NoError(t, err)
	require.NoError(t, d2.ApplyUpdate(update))
	arr2, err := d2.GetArray("a")
	require.NoError(t, err)
	require.Equal(t, []any{"draft one!"}, arr2.ToJSON())
}

// Test_Text_PrelimCharacterBoundary verifies that preliminary indices are
// bytes that must not split a character.
func Test_Text_PrelimCharacterBoundary(t *testing.T) {
	prelim := NewText("é")

	err := prelim.Insert(nil, 1, "x", nil)
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))
	err = prelim.Delete(nil, 0, 1)
	require.True(t, errors.Is(err, types.ErrIndexOutOfRange))

	require.NoError(t, prelim.Insert(nil, 2, "x", nil))
	require.Equal(t, "éx", prelim.String())
}
