package tests

import (
	"unicode/utf16"
	"unicode/utf8"
	"ydoc-node/backend/crdt"
	"ydoc-node/backend/peer"

	"golang.org/x/exp/rand"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz éà😀"

// RandomEdit inserts a random run of characters into the text root name,
// or deletes a random range from it.
func RandomEdit(r *rand.Rand, node peer.Peer, name string) error {
	return node.Update(func(doc *crdt.Doc) error {
		text, err := doc.GetText(name)
		if err != nil {
			return err
		}
		return doc.Transact(func(txn *crdt.Transaction) error {
			return RandomTextEdit(r, txn, text, doc.OffsetKind())
		})
	})
}

// RandomTextEdit applies one random insertion or deletion to text. Indices
// always fall on character boundaries.
func RandomTextEdit(r *rand.Rand, txn *crdt.Transaction, text *crdt.Text, kind crdt.OffsetKind) error {
	content := text.String()
	runes := utf8.RuneCountInString(content)

	if runes > 0 && r.Intn(3) == 0 {
		start := r.Intn(runes)
		length := 1 + r.Intn(min(runes-start, 4))
		from, to := offset(kind, content, start), offset(kind, content, start+length)
		return text.Delete(txn, from, to-from)
	}

	chars := []rune(alphabet)
	n := 1 + r.Intn(5)
	run := make([]rune, n)
	for i := range run {
		run[i] = chars[r.Intn(len(chars))]
	}
	return text.Insert(txn, offset(kind, content, r.Intn(runes+1)), string(run), nil)
}

// offset converts a rune index into an index of the given offset kind.
func offset(kind crdt.OffsetKind, content string, runeIndex int) int {
	prefix := []rune(content)[:runeIndex]
	switch kind {
	case crdt.OffsetBytes:
		return len(string(prefix))
	case crdt.OffsetUTF16:
		return len(utf16.Encode(prefix))
	}
	return len(prefix)
}
