package crdt

import (
	"fmt"
	"iter"
	"strings"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// XmlFragment is an ordered list of xml nodes without a tag of its own.
type XmlFragment struct {
	b *branch
}

// XmlElement is an xml node with a tag name, attributes and children.
type XmlElement struct {
	b *branch
}

// XmlText is a formatted text node with attributes.
type XmlText struct {
	b *branch
}

// NewXmlElement returns a preliminary element.
func NewXmlElement(name string) *XmlElement {
	b := newBranch(types.TagXmlElement)
	b.nodeName = name
	return &XmlElement{b: b}
}

// NewXmlText returns a preliminary text node holding s.
func NewXmlText(s string) *XmlText {
	b := newBranch(types.TagXmlText)
	b.prelimText = s
	return &XmlText{b: b}
}

// -----------------------------------------------------------------------------
// children

func xmlInsertElement(txn *Transaction, b *branch, index int, name string) (*XmlElement, error) {
	el := NewXmlElement(name)
	if err := xmlInsert(txn, b, index, el); err != nil {
		return nil, err
	}
	return el, nil
}

func xmlInsertText(txn *Transaction, b *branch, index int) (*XmlText, error) {
	t := NewXmlText("")
	if err := xmlInsert(txn, b, index, t); err != nil {
		return nil, err
	}
	return t, nil
}

func xmlInsert(txn *Transaction, b *branch, index int, node types.Shared) error {
	if err := b.check(txn); err != nil {
		return err
	}
	if index < 0 || index > b.listLen() {
		return outOfRange(index, b.listLen())
	}
	return b.insertAt(txn, uint64(index), []any{node})
}

func xmlGet(b *branch, index int) (types.Shared, error) {
	v, ok := b.listGet(index)
	if !ok {
		return nil, xerrors.Errorf("child %d of %d: %w", index, b.listLen(), types.ErrIndexOutOfRange)
	}
	node, _ := v.(types.Shared)
	return node, nil
}

func firstChild(b *branch) types.Shared {
	if !b.integrated() {
		if len(b.prelimList) == 0 {
			return nil
		}
		node, _ := b.prelimList[0].(types.Shared)
		return node
	}
	for it := b.start; it != nil; it = it.right {
		if it.visible() {
			node, _ := it.content.values()[0].(types.Shared)
			return node
		}
	}
	return nil
}

func sibling(b *branch, next bool) types.Shared {
	if b.item == nil {
		return nil
	}
	it := b.item
	for {
		if next {
			it = it.right
		} else {
			it = it.left
		}
		if it == nil {
			return nil
		}
		if it.visible() {
			node, _ := it.content.values()[0].(types.Shared)
			return node
		}
	}
}

func parentOf(b *branch) types.Shared {
	if b.item == nil || b.item.parent == nil {
		return nil
	}
	return b.item.parent.wrap()
}

// treeWalk yields the descendants of b in document order.
func treeWalk(b *branch) iter.Seq[types.Shared] {
	return func(yield func(types.Shared) bool) {
		var walk func(b *branch) bool
		walk = func(b *branch) bool {
			for _, v := range b.listValues() {
				child := branchOf(v)
				if child == nil {
					continue
				}
				if !yield(v.(types.Shared)) {
					return false
				}
				if child.tag == types.TagXmlElement && !walk(child) {
					return false
				}
			}
			return true
		}
		walk(b)
	}
}

func childrenString(b *branch) string {
	var sb strings.Builder
	for _, v := range b.listValues() {
		if node, ok := v.(types.Shared); ok {
			sb.WriteString(node.String())
		}
	}
	return sb.String()
}

// -----------------------------------------------------------------------------
// attributes

func setAttribute(txn *Transaction, b *branch, name string, value any) error {
	if err := b.check(txn); err != nil {
		return err
	}
	n, err := types.Normalize(value)
	if err != nil {
		return err
	}
	if containsShared(n) {
		return xerrors.Errorf("attribute %q: %w", name, types.ErrUnsupportedValue)
	}
	return b.mapSet(txn, name, n)
}

func removeAttribute(txn *Transaction, b *branch, name string) error {
	if err := b.check(txn); err != nil {
		return err
	}
	b.mapDelete(txn, name)
	return nil
}

func attributesString(b *branch) string {
	var sb strings.Builder
	for _, k := range b.mapKeys() {
		v, _ := b.mapGet(k)
		fmt.Fprintf(&sb, " %s=\"%v\"", k, v)
	}
	return sb.String()
}

// -----------------------------------------------------------------------------
// XmlFragment

func (f *XmlFragment) TypeTag() types.TypeTag { return types.TagXmlFragment }
func (f *XmlFragment) branchRef() *branch     { return f.b }

func (f *XmlFragment) Len() int { return f.b.listLen() }

func (f *XmlFragment) InsertXmlElement(txn *Transaction, index int, name string) (*XmlElement, error) {
	return xmlInsertElement(txn, f.b, index, name)
}

func (f *XmlFragment) InsertXmlText(txn *Transaction, index int) (*XmlText, error) {
	return xmlInsertText(txn, f.b, index)
}

func (f *XmlFragment) PushXmlElement(txn *Transaction, name string) (*XmlElement, error) {
	return xmlInsertElement(txn, f.b, f.Len(), name)
}

func (f *XmlFragment) PushXmlText(txn *Transaction) (*XmlText, error) {
	return xmlInsertText(txn, f.b, f.Len())
}

func (f *XmlFragment) Delete(txn *Transaction, index, length int) error {
	if err := f.b.check(txn); err != nil {
		return err
	}
	return deleteChildren(txn, f.b, index, length)
}

func (f *XmlFragment) Get(index int) (types.Shared, error) { return xmlGet(f.b, index) }
func (f *XmlFragment) FirstChild() types.Shared           { return firstChild(f.b) }

// TreeWalker iterates over all descendant nodes in document order.
func (f *XmlFragment) TreeWalker() iter.Seq[types.Shared] { return treeWalk(f.b) }

func (f *XmlFragment) String() string { return childrenString(f.b) }
func (f *XmlFragment) ToJSON() any    { return f.String() }

func (f *XmlFragment) Observe(fn func(*Event)) *Subscription { return f.b.observers.add(fn) }
func (f *XmlFragment) Unobserve(sub *Subscription) bool      { return f.b.observers.remove(sub) }

func (f *XmlFragment) ObserveDeep(fn func([]*Event)) *Subscription {
	return f.b.deepObservers.add(fn)
}

func (f *XmlFragment) UnobserveDeep(sub *Subscription) bool { return f.b.deepObservers.remove(sub) }

// -----------------------------------------------------------------------------
// XmlElement

func (e *XmlElement) TypeTag() types.TypeTag { return types.TagXmlElement }
func (e *XmlElement) branchRef() *branch     { return e.b }

// Tag returns the tag name.
func (e *XmlElement) Tag() string { return e.b.nodeName }

func (e *XmlElement) Len() int { return e.b.listLen() }

func (e *XmlElement) InsertXmlElement(txn *Transaction, index int, name string) (*XmlElement, error) {
	return xmlInsertElement(txn, e.b, index, name)
}

func (e *XmlElement) InsertXmlText(txn *Transaction, index int) (*XmlText, error) {
	return xmlInsertText(txn, e.b, index)
}

func (e *XmlElement) PushXmlElement(txn *Transaction, name string) (*XmlElement, error) {
	return xmlInsertElement(txn, e.b, e.Len(), name)
}

func (e *XmlElement) PushXmlText(txn *Transaction) (*XmlText, error) {
	return xmlInsertText(txn, e.b, e.Len())
}

func (e *XmlElement) Delete(txn *Transaction, index, length int) error {
	if err := e.b.check(txn); err != nil {
		return err
	}
	return deleteChildren(txn, e.b, index, length)
}

func (e *XmlElement) Get(index int) (types.Shared, error) { return xmlGet(e.b, index) }
func (e *XmlElement) FirstChild() types.Shared           { return firstChild(e.b) }
func (e *XmlElement) NextSibling() types.Shared          { return sibling(e.b, true) }
func (e *XmlElement) PrevSibling() types.Shared          { return sibling(e.b, false) }
func (e *XmlElement) Parent() types.Shared               { return parentOf(e.b) }

// TreeWalker iterates over all descendant nodes in document order.
func (e *XmlElement) TreeWalker() iter.Seq[types.Shared] { return treeWalk(e.b) }

func (e *XmlElement) SetAttribute(txn *Transaction, name string, value any) error {
	return setAttribute(txn, e.b, name, value)
}

func (e *XmlElement) GetAttribute(name string) (any, bool) { return e.b.mapGet(name) }

func (e *XmlElement) RemoveAttribute(txn *Transaction, name string) error {
	return removeAttribute(txn, e.b, name)
}

func (e *XmlElement) Attributes() map[string]any { return e.b.mapEntries() }

// String renders the element as xml with attributes sorted by name.
func (e *XmlElement) String() string {
	name := e.b.nodeName
	return "<" + name + attributesString(e.b) + ">" + childrenString(e.b) + "</" + name + ">"
}

func (e *XmlElement) ToJSON() any { return e.String() }

func (e *XmlElement) Observe(fn func(*Event)) *Subscription { return e.b.observers.add(fn) }
func (e *XmlElement) Unobserve(sub *Subscription) bool      { return e.b.observers.remove(sub) }

func (e *XmlElement) ObserveDeep(fn func([]*Event)) *Subscription {
	return e.b.deepObservers.add(fn)
}

func (e *XmlElement) UnobserveDeep(sub *Subscription) bool { return e.b.deepObservers.remove(sub) }

// -----------------------------------------------------------------------------
// XmlText

func (x *XmlText) TypeTag() types.TypeTag { return types.TagXmlText }
func (x *XmlText) branchRef() *branch     { return x.b }

func (x *XmlText) Len() int {
	if !x.b.integrated() {
		return len(x.b.prelimText)
	}
	return textLen(x.b)
}

func (x *XmlText) Insert(txn *Transaction, index int, s string, attrs map[string]any) error {
	return textInsert(txn, x.b, index, s, attrs)
}

func (x *XmlText) Push(txn *Transaction, s string, attrs map[string]any) error {
	return textPush(txn, x.b, s, attrs)
}

func (x *XmlText) InsertEmbed(txn *Transaction, index int, v any, attrs map[string]any) error {
	return textInsertEmbed(txn, x.b, index, v, attrs)
}

func (x *XmlText) Format(txn *Transaction, index, length int, attrs map[string]any) error {
	return textFormat(txn, x.b, index, length, attrs)
}

func (x *XmlText) Delete(txn *Transaction, index, length int) error {
	return textDelete(txn, x.b, index, length)
}

func (x *XmlText) ToDelta() types.Delta { return textToDelta(x.b) }

func (x *XmlText) NextSibling() types.Shared { return sibling(x.b, true) }
func (x *XmlText) PrevSibling() types.Shared { return sibling(x.b, false) }
func (x *XmlText) Parent() types.Shared      { return parentOf(x.b) }

func (x *XmlText) SetAttribute(txn *Transaction, name string, value any) error {
	return setAttribute(txn, x.b, name, value)
}

func (x *XmlText) GetAttribute(name string) (any, bool) { return x.b.mapGet(name) }

func (x *XmlText) RemoveAttribute(txn *Transaction, name string) error {
	return removeAttribute(txn, x.b, name)
}

func (x *XmlText) Attributes() map[string]any { return x.b.mapEntries() }

// String renders formatted runs as nested tags: an attribute holding a map
// becomes a tag with those attributes, any other value a bare tag.
func (x *XmlText) String() string {
	var sb strings.Builder
	for _, op := range x.ToDelta() {
		names := types.SortedKeys(op.Attributes)
		for _, name := range names {
			sb.WriteString("<" + name)
			if attrs, ok := op.Attributes[name].(map[string]any); ok {
				for _, k := range types.SortedKeys(attrs) {
					fmt.Fprintf(&sb, " %s=\"%v\"", k, attrs[k])
				}
			}
			sb.WriteString(">")
		}
		if s, ok := op.Insert.(string); ok {
			sb.WriteString(s)
		} else if sh, ok := op.Insert.(types.Shared); ok {
			sb.WriteString(sh.String())
		} else {
			sb.WriteString(jsonString(types.ToJSON(op.Insert)))
		}
		for i := len(names) - 1; i >= 0; i-- {
			sb.WriteString("</" + names[i] + ">")
		}
	}
	return sb.String()
}

func (x *XmlText) ToJSON() any { return x.String() }

func (x *XmlText) Observe(fn func(*Event)) *Subscription { return x.b.observers.add(fn) }
func (x *XmlText) Unobserve(sub *Subscription) bool      { return x.b.observers.remove(sub) }

func (x *XmlText) ObserveDeep(fn func([]*Event)) *Subscription { return x.b.deepObservers.add(fn) }
func (x *XmlText) UnobserveDeep(sub *Subscription) bool        { return x.b.deepObservers.remove(sub) }
