package crdt

import (
	"strings"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// Text is a shared string with formatting attributes and embeds. Indices
// and lengths are measured in the offset kind of the document.
type Text struct {
	b *branch
}

// NewText returns a preliminary text holding s.
func NewText(s string) *Text {
	b := newBranch(types.TagText)
	b.prelimText = s
	return &Text{b: b}
}

func (t *Text) TypeTag() types.TypeTag { return types.TagText }
func (t *Text) branchRef() *branch     { return t.b }

// Len returns the length of the text in the document offset kind. A
// preliminary text is measured in bytes.
func (t *Text) Len() int {
	if !t.b.integrated() {
		return len(t.b.prelimText)
	}
	return textLen(t.b)
}

func (t *Text) String() string {
	return textString(t.b)
}

func (t *Text) ToJSON() any {
	return t.String()
}

// Insert inserts s at index. With nil attrs the text takes the formatting
// active at index. A preliminary text only accepts unformatted inserts.
func (t *Text) Insert(txn *Transaction, index int, s string, attrs map[string]any) error {
	return textInsert(txn, t.b, index, s, attrs)
}

// Push appends s.
func (t *Text) Push(txn *Transaction, s string, attrs map[string]any) error {
	return textPush(txn, t.b, s, attrs)
}

// InsertEmbed inserts a single non-text element at index. It fails with
// ErrPreliminary on a preliminary text, like Format.
func (t *Text) InsertEmbed(txn *Transaction, index int, v any, attrs map[string]any) error {
	return textInsertEmbed(txn, t.b, index, v, attrs)
}

// Format sets attrs on length characters from index. A nil attribute
// value removes the attribute.
func (t *Text) Format(txn *Transaction, index, length int, attrs map[string]any) error {
	return textFormat(txn, t.b, index, length, attrs)
}

func (t *Text) Delete(txn *Transaction, index, length int) error {
	return textDelete(txn, t.b, index, length)
}

// ToDelta returns the current content as insert operations.
func (t *Text) ToDelta() types.Delta {
	return textToDelta(t.b)
}

func (t *Text) Observe(fn func(*Event)) *Subscription { return t.b.observers.add(fn) }
func (t *Text) Unobserve(sub *Subscription) bool      { return t.b.observers.remove(sub) }

func (t *Text) ObserveDeep(fn func([]*Event)) *Subscription { return t.b.deepObservers.add(fn) }
func (t *Text) UnobserveDeep(sub *Subscription) bool        { return t.b.deepObservers.remove(sub) }

// -----------------------------------------------------------------------------
// Shared by Text and XmlText

func outOfRange(index, length int) error {
	return xerrors.Errorf("index %d outside of [0, %d]: %w", index, length, types.ErrIndexOutOfRange)
}

func textLen(b *branch) int {
	kind := b.doc.offsetKind
	n := 0
	for it := b.start; it != nil; it = it.right {
		if !it.visible() {
			continue
		}
		if cs, ok := it.content.(*contentString); ok {
			n += cs.width(kind)
		} else {
			n += int(it.length)
		}
	}
	return n
}

func textString(b *branch) string {
	if !b.integrated() {
		return b.prelimText
	}
	var sb strings.Builder
	for it := b.start; it != nil; it = it.right {
		if cs, ok := it.content.(*contentString); ok && !it.deleted {
			sb.WriteString(cs.String())
		}
	}
	return sb.String()
}

// textUnits converts index into UTF-16 units from the start of b.
func textUnits(b *branch, index int) (uint64, error) {
	if index < 0 {
		return 0, outOfRange(index, textLen(b))
	}
	kind := b.doc.offsetKind
	want := index
	var units uint64
	for it := b.start; it != nil && want > 0; it = it.right {
		if !it.visible() {
			continue
		}
		if cs, ok := it.content.(*contentString); ok {
			consumed, u, ok := cs.advance(kind, want)
			if !ok {
				return 0, xerrors.Errorf("index %d splits a character: %w", index, types.ErrIndexOutOfRange)
			}
			want -= consumed
			units += u
			continue
		}
		want--
		units += it.length
	}
	if want > 0 {
		return 0, outOfRange(index, textLen(b))
	}
	return units, nil
}

// textRange converts a range into a UTF-16 start and length.
func textRange(b *branch, index, length int) (uint64, uint64, error) {
	if length < 0 {
		return 0, 0, xerrors.Errorf("negative length %d: %w", length, types.ErrIndexOutOfRange)
	}
	start, err := textUnits(b, index)
	if err != nil {
		return 0, 0, err
	}
	end, err := textUnits(b, index+length)
	if err != nil {
		return 0, 0, err
	}
	return start, end - start, nil
}

func normalizeAttrs(attrs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		n, err := types.Normalize(v)
		if err != nil {
			return nil, err
		}
		if containsShared(n) {
			return nil, xerrors.Errorf("attribute %q: %w", k, types.ErrUnsupportedValue)
		}
		out[k] = n
	}
	return out, nil
}

func textPush(txn *Transaction, b *branch, s string, attrs map[string]any) error {
	if !b.integrated() {
		return prelimTextInsert(b, len(b.prelimText), s, attrs)
	}
	if err := b.check(txn); err != nil {
		return err
	}
	return textInsert(txn, b, textLen(b), s, attrs)
}

func textInsert(txn *Transaction, b *branch, index int, s string, attrs map[string]any) error {
	if !b.integrated() {
		return prelimTextInsert(b, index, s, attrs)
	}
	if err := b.check(txn); err != nil {
		return err
	}
	units, err := textUnits(b, index)
	if err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	return insertContent(txn, b, units, newContentString(s), attrs)
}

func textInsertEmbed(txn *Transaction, b *branch, index int, v any, attrs map[string]any) error {
	if err := b.check(txn); err != nil {
		return err
	}
	units, err := textUnits(b, index)
	if err != nil {
		return err
	}
	n, err := prepareValue(v, make(map[*branch]struct{}))
	if err != nil {
		return err
	}
	var c content = &contentEmbed{v: n}
	if sh, ok := n.(types.Shared); ok {
		c = &contentType{typ: branchOf(sh)}
	}
	return insertContent(txn, b, units, c, attrs)
}

func insertContent(txn *Transaction, b *branch, units uint64, c content, attrs map[string]any) error {
	pos := findPosition(txn, b, units)
	if attrs == nil {
		attrs = make(map[string]any, len(pos.attrs))
		for k, v := range pos.attrs {
			attrs[k] = v
		}
	} else {
		var err error
		if attrs, err = normalizeAttrs(attrs); err != nil {
			return err
		}
	}
	return insertText(txn, b, pos, c, attrs)
}

func textFormat(txn *Transaction, b *branch, index, length int, attrs map[string]any) error {
	if err := b.check(txn); err != nil {
		return err
	}
	start, n, err := textRange(b, index, length)
	if err != nil {
		return err
	}
	attrs, err = normalizeAttrs(attrs)
	if err != nil {
		return err
	}
	if n == 0 || len(attrs) == 0 {
		return nil
	}
	pos := findPosition(txn, b, start)
	if pos.right == nil {
		return nil
	}
	return formatText(txn, b, pos, n, attrs)
}

func textDelete(txn *Transaction, b *branch, index, length int) error {
	if !b.integrated() {
		return prelimTextDelete(b, index, length)
	}
	if err := b.check(txn); err != nil {
		return err
	}
	start, n, err := textRange(b, index, length)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	deleteText(txn, findPosition(txn, b, start), n)
	return nil
}

func textToDelta(b *branch) types.Delta {
	if !b.integrated() {
		if b.prelimText == "" {
			return types.Delta{}
		}
		return types.Delta{{Insert: b.prelimText}}
	}
	ops := types.Delta{}
	current := map[string]any{}
	var sb strings.Builder
	snapshotAttrs := func() map[string]any {
		if len(current) == 0 {
			return nil
		}
		out := make(map[string]any, len(current))
		for k, v := range current {
			out[k] = v
		}
		return out
	}
	pack := func() {
		if sb.Len() > 0 {
			ops = append(ops, types.DeltaOp{Insert: sb.String(), Attributes: snapshotAttrs()})
			sb.Reset()
		}
	}
	for it := b.start; it != nil; it = it.right {
		if it.deleted {
			continue
		}
		switch c := it.content.(type) {
		case *contentString:
			sb.WriteString(c.String())
		case *contentEmbed, *contentType:
			pack()
			ops = append(ops, types.DeltaOp{Insert: c.values()[0], Attributes: snapshotAttrs()})
		case *contentFormat:
			pack()
			updateCurrentAttributes(current, c)
		}
	}
	pack()
	return ops
}

// -----------------------------------------------------------------------------
// Positions and formatting

// textPosition is a cursor between left and right. attrs holds the
// formatting active at the cursor.
type textPosition struct {
	left  *Item
	right *Item
	index uint64
	attrs map[string]any
}

func (p *textPosition) forward() {
	if f, ok := p.right.content.(*contentFormat); ok {
		if !p.right.deleted {
			updateCurrentAttributes(p.attrs, f)
		}
	} else if !p.right.deleted {
		p.index += p.right.length
	}
	p.left = p.right
	p.right = p.right.right
}

// findPosition moves a cursor count UTF-16 units from the start of b,
// splitting the item under the cursor.
func findPosition(txn *Transaction, b *branch, count uint64) *textPosition {
	pos := &textPosition{right: b.start, attrs: map[string]any{}}
	for pos.right != nil && count > 0 {
		if f, ok := pos.right.content.(*contentFormat); ok {
			if !pos.right.deleted {
				updateCurrentAttributes(pos.attrs, f)
			}
		} else if !pos.right.deleted {
			if count < pos.right.length {
				txn.doc.store.getItemCleanStart(txn, ID{Client: pos.right.id.Client, Clock: pos.right.id.Clock + count})
			}
			pos.index += pos.right.length
			count -= pos.right.length
		}
		pos.left = pos.right
		pos.right = pos.right.right
	}
	return pos
}

func (p *textPosition) insert(txn *Transaction, b *branch, c content) error {
	it, err := txn.insertItem(p.left, p.right, b, nil, c)
	if err != nil {
		return err
	}
	p.right = it
	p.forward()
	return nil
}

// minimizeAttributeChanges skips deleted items and formats that already
// hold the wanted value.
func minimizeAttributeChanges(pos *textPosition, attrs map[string]any) {
	for pos.right != nil {
		f, isFormat := pos.right.content.(*contentFormat)
		if !pos.right.deleted && !(isFormat && types.Equal(attrs[f.key], f.value)) {
			return
		}
		pos.forward()
	}
}

// insertAttributes writes format items for attrs that differ from the
// current formatting and returns the values to restore afterwards.
func insertAttributes(txn *Transaction, b *branch, pos *textPosition, attrs map[string]any) (map[string]any, error) {
	negated := map[string]any{}
	for _, key := range types.SortedKeys(attrs) {
		val := attrs[key]
		cur := pos.attrs[key]
		if types.Equal(cur, val) {
			continue
		}
		negated[key] = cur
		if err := pos.insert(txn, b, &contentFormat{key: key, value: val}); err != nil {
			return nil, err
		}
	}
	return negated, nil
}

// insertNegatedAttributes closes the formatting opened by insertAttributes.
func insertNegatedAttributes(txn *Transaction, b *branch, pos *textPosition, negated map[string]any) error {
	for pos.right != nil {
		if !pos.right.deleted {
			f, ok := pos.right.content.(*contentFormat)
			if !ok {
				break
			}
			v, has := negated[f.key]
			if !has || !types.Equal(v, f.value) {
				break
			}
			delete(negated, f.key)
		}
		pos.forward()
	}
	for _, key := range types.SortedKeys(negated) {
		if err := pos.insert(txn, b, &contentFormat{key: key, value: negated[key]}); err != nil {
			return err
		}
	}
	return nil
}

// insertText inserts c at pos with exactly attrs: attributes active at
// pos and missing from attrs are closed around the new content.
func insertText(txn *Transaction, b *branch, pos *textPosition, c content, attrs map[string]any) error {
	for k := range pos.attrs {
		if _, ok := attrs[k]; !ok {
			attrs[k] = nil
		}
	}
	minimizeAttributeChanges(pos, attrs)
	negated, err := insertAttributes(txn, b, pos, attrs)
	if err != nil {
		return err
	}
	if err := pos.insert(txn, b, c); err != nil {
		return err
	}
	return insertNegatedAttributes(txn, b, pos, negated)
}

func formatText(txn *Transaction, b *branch, pos *textPosition, length uint64, attrs map[string]any) error {
	minimizeAttributeChanges(pos, attrs)
	negated, err := insertAttributes(txn, b, pos, attrs)
	if err != nil {
		return err
	}
loop:
	for pos.right != nil && (length > 0 || (len(negated) > 0 && (pos.right.deleted || isFormat(pos.right)))) {
		if !pos.right.deleted {
			if f, ok := pos.right.content.(*contentFormat); ok {
				if attr, has := attrs[f.key]; has {
					if types.Equal(attr, f.value) {
						delete(negated, f.key)
					} else {
						if length == 0 {
							break loop
						}
						negated[f.key] = f.value
					}
					pos.right.delete(txn)
				} else {
					pos.attrs[f.key] = f.value
				}
			} else {
				if length < pos.right.length {
					txn.doc.store.getItemCleanStart(txn, ID{Client: pos.right.id.Client, Clock: pos.right.id.Clock + length})
				}
				length -= min(length, pos.right.length)
			}
		}
		pos.forward()
	}
	return insertNegatedAttributes(txn, b, pos, negated)
}

func isFormat(it *Item) bool {
	_, ok := it.content.(*contentFormat)
	return ok
}

func deleteText(txn *Transaction, pos *textPosition, length uint64) {
	for length > 0 && pos.right != nil {
		if !pos.right.deleted && pos.right.countable() {
			if length < pos.right.length {
				txn.doc.store.getItemCleanStart(txn, ID{Client: pos.right.id.Client, Clock: pos.right.id.Clock + length})
			}
			length -= pos.right.length
			pos.right.delete(txn)
		}
		pos.forward()
	}
}
