package crdt

import (
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// branch is the state shared by every shared type: its sequence of items,
// its keyed entries and its subscribers. Preliminary branches (doc == nil)
// keep their initial content locally until they are integrated.
type branch struct {
	doc  *Doc
	item *Item
	tag  types.TypeTag

	// name is the root name, nodeName the xml tag name.
	name     string
	nodeName string

	start   *Item
	entries map[string]*Item
	// length counts visible sequence content in clock units.
	length uint64

	observers     handlers[*Event]
	deepObservers handlers[[]*Event]

	prelimList    []any
	prelimEntries map[string]any
	prelimText    string
}

func newBranch(tag types.TypeTag) *branch {
	return &branch{tag: tag, entries: make(map[string]*Item)}
}

// sharedBranch is implemented by every shared type wrapper.
type sharedBranch interface {
	types.Shared
	branchRef() *branch
}

func branchOf(v any) *branch {
	if s, ok := v.(sharedBranch); ok {
		return s.branchRef()
	}
	return nil
}

func (b *branch) wrap() types.Shared {
	switch b.tag {
	case types.TagText:
		return &Text{b: b}
	case types.TagArray:
		return &Array{b: b}
	case types.TagXmlElement:
		return &XmlElement{b: b}
	case types.TagXmlFragment:
		return &XmlFragment{b: b}
	case types.TagXmlText:
		return &XmlText{b: b}
	}
	return &Map{b: b}
}

func (b *branch) integrated() bool {
	return b.doc != nil
}

// deletedBranch reports whether the type was removed from its parent.
func (b *branch) deletedBranch() bool {
	return b.item != nil && b.item.deleted
}

// integrate attaches the branch to the document and moves preliminary
// content into the store.
func (b *branch) integrate(txn *Transaction, item *Item) error {
	b.doc = txn.doc
	b.item = item
	list, entries, text := b.prelimList, b.prelimEntries, b.prelimText
	b.prelimList, b.prelimEntries, b.prelimText = nil, nil, ""

	if text != "" {
		pos := findPosition(txn, b, 0)
		if err := insertText(txn, b, pos, newContentString(text), map[string]any{}); err != nil {
			return err
		}
	}
	if len(list) > 0 {
		if err := b.insertAfter(txn, nil, list); err != nil {
			return err
		}
	}
	for _, k := range types.SortedKeys(entries) {
		if err := b.mapSet(txn, k, entries[k]); err != nil {
			return err
		}
	}
	return nil
}

// check validates that txn may mutate the branch.
func (b *branch) check(txn *Transaction) error {
	if !b.integrated() {
		return xerrors.Errorf("%s: %w", b.tag, types.ErrPreliminary)
	}
	if txn == nil || txn.committed {
		return types.ErrTransactionClosed
	}
	if txn.doc != b.doc {
		return xerrors.Errorf("transaction belongs to another document: %w", types.ErrTransactionConflict)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sequence operations

// insertAfter inserts values right after ref, or at the front when ref is
// nil. Consecutive plain values share one item.
func (b *branch) insertAfter(txn *Transaction, ref *Item, values []any) error {
	left := ref
	right := b.start
	if ref != nil {
		right = ref.right
	}
	var run []any
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		it, err := txn.insertItem(left, right, b, nil, &contentAny{vals: run})
		if err != nil {
			return err
		}
		left, run = it, nil
		return nil
	}
	for _, v := range values {
		var c content
		switch x := v.(type) {
		case []byte:
			c = &contentBinary{b: x}
		case types.Shared:
			c = &contentType{typ: branchOf(x)}
		default:
			run = append(run, v)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		it, err := txn.insertItem(left, right, b, nil, c)
		if err != nil {
			return err
		}
		left = it
	}
	return flush()
}

// seek returns the item after which a sequence insertion at index goes,
// splitting items when index points inside one.
func (b *branch) seek(txn *Transaction, index uint64) *Item {
	if index == 0 {
		return nil
	}
	n := b.start
	for ; n != nil; n = n.right {
		if !n.visible() {
			continue
		}
		if index <= n.length {
			if index < n.length {
				txn.doc.store.getItemCleanStart(txn, ID{Client: n.id.Client, Clock: n.id.Clock + index})
			}
			break
		}
		index -= n.length
	}
	return n
}

func (b *branch) insertAt(txn *Transaction, index uint64, values []any) error {
	return b.insertAfter(txn, b.seek(txn, index), values)
}

// deleteRange removes length visible elements starting at index. Bounds
// are checked by the caller.
func (b *branch) deleteRange(txn *Transaction, index, length uint64) {
	s := txn.doc.store
	n := b.start
	for ; n != nil && index > 0; n = n.right {
		if n.visible() {
			if index < n.length {
				s.getItemCleanStart(txn, ID{Client: n.id.Client, Clock: n.id.Clock + index})
			}
			index -= n.length
		}
	}
	for ; length > 0 && n != nil; n = n.right {
		if !n.visible() {
			continue
		}
		if length < n.length {
			s.getItemCleanStart(txn, ID{Client: n.id.Client, Clock: n.id.Clock + length})
		}
		n.delete(txn)
		length -= n.length
	}
}

func (b *branch) listValues() []any {
	if !b.integrated() {
		return append([]any(nil), b.prelimList...)
	}
	out := make([]any, 0, b.length)
	for n := b.start; n != nil; n = n.right {
		if n.visible() {
			out = append(out, n.content.values()...)
		}
	}
	return out
}

func (b *branch) listLen() int {
	if !b.integrated() {
		return len(b.prelimList)
	}
	return int(b.length)
}

func (b *branch) listGet(index int) (any, bool) {
	if !b.integrated() {
		if index < 0 || index >= len(b.prelimList) {
			return nil, false
		}
		return b.prelimList[index], true
	}
	if index < 0 {
		return nil, false
	}
	i := uint64(index)
	for n := b.start; n != nil; n = n.right {
		if !n.visible() {
			continue
		}
		if i < n.length {
			return n.content.values()[i], true
		}
		i -= n.length
	}
	return nil, false
}

// -----------------------------------------------------------------------------
// Keyed operations

func (b *branch) mapSet(txn *Transaction, key string, v any) error {
	var c content
	switch x := v.(type) {
	case []byte:
		c = &contentBinary{b: x}
	case types.Shared:
		c = &contentType{typ: branchOf(x)}
	default:
		c = &contentAny{vals: []any{v}}
	}
	_, err := txn.insertItem(b.entries[key], nil, b, &key, c)
	return err
}

func (b *branch) mapGet(key string) (any, bool) {
	if !b.integrated() {
		v, ok := b.prelimEntries[key]
		return v, ok
	}
	it := b.entries[key]
	if it == nil || it.deleted {
		return nil, false
	}
	vals := it.content.values()
	return vals[len(vals)-1], true
}

func (b *branch) mapDelete(txn *Transaction, key string) {
	if it := b.entries[key]; it != nil {
		it.delete(txn)
	}
}

func (b *branch) mapKeys() []string {
	if !b.integrated() {
		return types.SortedKeys(b.prelimEntries)
	}
	live := make(map[string]struct{}, len(b.entries))
	for k, it := range b.entries {
		if !it.deleted {
			live[k] = struct{}{}
		}
	}
	return types.SortedKeys(live)
}

func (b *branch) mapEntries() map[string]any {
	out := make(map[string]any)
	for _, k := range b.mapKeys() {
		v, _ := b.mapGet(k)
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------
// Value preparation

// prepareValues normalizes values for insertion. Nested shared types must
// be preliminary and appear at most once.
func prepareValues(values []any) ([]any, error) {
	seen := make(map[*branch]struct{})
	out := make([]any, len(values))
	for i, v := range values {
		n, err := prepareValue(v, seen)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func prepareValue(v any, seen map[*branch]struct{}) (any, error) {
	n, err := types.Normalize(v)
	if err != nil {
		return nil, err
	}
	if sh, ok := n.(types.Shared); ok {
		b := branchOf(sh)
		if b == nil {
			return nil, xerrors.Errorf("%T: %w", sh, types.ErrUnsupportedValue)
		}
		if err := claimBranch(b, seen); err != nil {
			return nil, err
		}
		return n, nil
	}
	if containsShared(n) {
		return nil, xerrors.Errorf("shared types cannot be nested in plain values: %w", types.ErrUnsupportedValue)
	}
	return n, nil
}

func claimBranch(b *branch, seen map[*branch]struct{}) error {
	if b.integrated() || b.item != nil {
		return types.ErrAlreadyIntegrated
	}
	if _, dup := seen[b]; dup {
		return xerrors.Errorf("shared type inserted twice: %w", types.ErrAlreadyIntegrated)
	}
	seen[b] = struct{}{}
	for i, v := range b.prelimList {
		n, err := prepareValue(v, seen)
		if err != nil {
			return err
		}
		b.prelimList[i] = n
	}
	for k, v := range b.prelimEntries {
		n, err := prepareValue(v, seen)
		if err != nil {
			return err
		}
		b.prelimEntries[k] = n
	}
	return nil
}

func containsShared(v any) bool {
	switch x := v.(type) {
	case types.Shared:
		return true
	case []any:
		for _, e := range x {
			if containsShared(e) {
				return true
			}
		}
	case map[string]any:
		for _, e := range x {
			if containsShared(e) {
				return true
			}
		}
	}
	return false
}
