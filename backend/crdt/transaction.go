package crdt

import (
	"sort"
	"ydoc-node/backend/encoding"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// Transaction is a single-use atomic scope over a Doc. Mutations apply to
// the live document immediately; Commit computes the delete set and the
// encoded update, then notifies observers.
type Transaction struct {
	doc    *Doc
	origin any
	local  bool

	beforeState StateVector
	afterState  StateVector
	deleteSet   DeleteSet

	changed      map[*branch]*changeSet
	changedOrder []*branch
	// mergeStructs are split blocks to re-merge after commit.
	mergeStructs []structure

	committed bool
	update    []byte
}

// changeSet records how a type changed: which keys and whether its
// sequence did.
type changeSet struct {
	keys map[string]struct{}
	list bool
}

// AfterTransactionEvent is delivered to ObserveAfterTransaction handlers.
type AfterTransactionEvent struct {
	BeforeState StateVector
	AfterState  StateVector
	DeleteSet   DeleteSet
	Update      []byte
	Origin      any
}

type updateEvent struct {
	update []byte
	origin any
}

func newTransaction(doc *Doc, origin any, local bool) *Transaction {
	return &Transaction{
		doc:         doc,
		origin:      origin,
		local:       local,
		beforeState: doc.store.stateVector(),
		deleteSet:   DeleteSet{},
		changed:     make(map[*branch]*changeSet),
	}
}

// Doc returns the document the transaction belongs to.
func (t *Transaction) Doc() *Doc { return t.doc }

// Origin returns the value the transaction was started with.
func (t *Transaction) Origin() any { return t.origin }

// Local reports whether the transaction was started by the local replica
// rather than by applying a remote update.
func (t *Transaction) Local() bool { return t.local }

// Committed reports whether Commit was called.
func (t *Transaction) Committed() bool { return t.committed }

// BeforeState returns the state vector at the start of the transaction.
func (t *Transaction) BeforeState() StateVector { return t.beforeState.clone() }

// AfterState returns the state vector at commit, empty while open.
func (t *Transaction) AfterState() StateVector { return t.afterState.clone() }

// DeleteSet returns the ranges deleted by the transaction.
func (t *Transaction) DeleteSet() DeleteSet {
	out := make(DeleteSet, len(t.deleteSet))
	for client, ranges := range t.deleteSet {
		out[client] = append([]DeleteRange(nil), ranges...)
	}
	return out
}

// Update returns the encoded update of a committed transaction. A
// transaction that changed nothing yields the empty update {0, 0}.
func (t *Transaction) Update() []byte { return t.update }

// ApplyUpdate integrates an encoded update within the transaction.
func (t *Transaction) ApplyUpdate(update []byte) error {
	if t.committed {
		return types.ErrTransactionClosed
	}
	return t.applyUpdate(update)
}

func (t *Transaction) nextID() ID {
	client := t.doc.clientID
	return ID{Client: client, Clock: t.doc.store.state(client)}
}

// insertItem creates a local item between left and right and integrates it.
func (t *Transaction) insertItem(left, right *Item, parent *branch, key *string, c content) (*Item, error) {
	it := newItem(t.nextID(), left, right, parent, c)
	if key != nil {
		it.keyed, it.parentSub = true, *key
	}
	if err := it.integrate(t, 0); err != nil {
		return nil, err
	}
	return it, nil
}

// adds reports whether it was created in this transaction.
func (t *Transaction) adds(it *Item) bool {
	return it.id.Clock >= t.beforeState[it.id.Client]
}

// deletes reports whether it was deleted in this transaction.
func (t *Transaction) deletes(it *Item) bool {
	return t.deleteSet.Contains(it.id)
}

// addChangedType records a change of b. Types created in this transaction
// or already deleted are not reported.
func (t *Transaction) addChangedType(b *branch, key string, keyed bool) {
	if it := b.item; it != nil && (it.id.Clock >= t.beforeState[it.id.Client] || it.deleted) {
		return
	}
	cs := t.changed[b]
	if cs == nil {
		cs = &changeSet{keys: make(map[string]struct{})}
		t.changed[b] = cs
		t.changedOrder = append(t.changedOrder, b)
	}
	if keyed {
		cs.keys[key] = struct{}{}
	} else {
		cs.list = true
	}
}

func (t *Transaction) removeChangedType(b *branch) {
	delete(t.changed, b)
}

func (t *Transaction) empty() bool {
	return len(t.deleteSet) == 0 && t.beforeState.Equal(t.afterState)
}

// Commit closes the transaction, dispatches observers and document
// handlers. Calling it twice fails with ErrTransactionClosed.
func (t *Transaction) Commit() error {
	if t.committed {
		return types.ErrTransactionClosed
	}
	t.committed = true
	doc := t.doc
	defer func() {
		if doc.txn == t {
			doc.txn = nil
		}
	}()

	t.deleteSet.sortAndMerge()
	t.afterState = doc.store.stateVector()

	t.dispatch(t.collectEvents())

	tryMergeDeleteSet(t.deleteSet, doc.store)
	t.mergeChangedStructs()

	enc := encoding.NewEncoder()
	if err := writeClientsStructs(enc, doc.store, t.beforeState); err != nil {
		return xerrors.Errorf("failed to encode update: %w", err)
	}
	t.deleteSet.write(enc)
	t.update = enc.Bytes()

	if !t.local && t.afterState[doc.clientID] != t.beforeState[doc.clientID] {
		old := doc.clientID
		doc.clientID = generateClientID()
		doc.log.Warn().Uint64("old", old).Uint64("new", doc.clientID).
			Msg("client id used by a remote replica, switching")
	}

	if t.empty() {
		return nil
	}
	doc.log.Debug().
		Bool("local", t.local).
		Int("bytes", len(t.update)).
		Int("changed", len(t.changed)).
		Msg("transaction committed")

	doc.afterTxn.call(&AfterTransactionEvent{
		BeforeState: t.BeforeState(),
		AfterState:  t.AfterState(),
		DeleteSet:   t.DeleteSet(),
		Update:      t.update,
		Origin:      t.origin,
	})
	doc.updates.call(updateEvent{update: t.update, origin: t.origin})
	return nil
}

// hasObservers reports whether an event for b would reach anybody.
func hasObservers(b *branch) bool {
	if b.observers.len() > 0 {
		return true
	}
	for {
		if b.deepObservers.len() > 0 {
			return true
		}
		if b.item == nil || b.item.parent == nil {
			return false
		}
		b = b.item.parent
	}
}

func (t *Transaction) collectEvents() []*Event {
	var events []*Event
	seen := make(map[*branch]struct{}, len(t.changedOrder))
	for _, b := range t.changedOrder {
		cs, ok := t.changed[b]
		if _, dup := seen[b]; dup || !ok {
			continue
		}
		seen[b] = struct{}{}
		if b.deletedBranch() || !hasObservers(b) {
			continue
		}
		events = append(events, newEvent(b, t, cs))
	}
	return events
}

// dispatch calls type observers first, then deep observers of every
// ancestor with the events of its subtree ordered by path length.
func (t *Transaction) dispatch(events []*Event) {
	var parents []*branch
	byParent := make(map[*branch][]*Event)
	for _, e := range events {
		e.target.observers.call(e)
		for b := e.target; ; b = b.item.parent {
			if _, ok := byParent[b]; !ok {
				parents = append(parents, b)
			}
			byParent[b] = append(byParent[b], e)
			if b.item == nil || b.item.parent == nil {
				break
			}
		}
	}
	for _, p := range parents {
		if p.deepObservers.len() == 0 || p.deletedBranch() {
			continue
		}
		var list []*Event
		for _, e := range byParent[p] {
			if e.target.deletedBranch() {
				continue
			}
			list = append(list, e.withCurrentTarget(p))
		}
		if len(list) == 0 {
			continue
		}
		sort.SliceStable(list, func(i, j int) bool {
			return len(list[i].path) < len(list[j].path)
		})
		p.deepObservers.call(list)
	}
}

// mergeChangedStructs merges the blocks written or split by the
// transaction with their left neighbours.
func (t *Transaction) mergeChangedStructs() {
	s := t.doc.store
	for client, clock := range t.afterState {
		before := t.beforeState[client]
		if before == clock {
			continue
		}
		structs := s.clients[client]
		first := findIndex(structs, before)
		if first < 1 {
			first = 1
		}
		for i := len(structs) - 1; i >= first; {
			i -= 1 + s.tryMergeWithLefts(client, i)
		}
	}
	for i := len(t.mergeStructs) - 1; i >= 0; i-- {
		id := t.mergeStructs[i].ID()
		structs := s.clients[id.Client]
		pos := findIndex(structs, id.Clock)
		if pos < 0 {
			continue
		}
		if pos+1 < len(structs) && s.tryMergeWithLefts(id.Client, pos+1) > 1 {
			continue
		}
		if pos > 0 {
			s.tryMergeWithLefts(id.Client, pos)
		}
	}
	t.mergeStructs = nil
}

// tryMergeDeleteSet merges deleted blocks covered by ds with their
// neighbours.
func tryMergeDeleteSet(ds DeleteSet, s *store) {
	for client, ranges := range ds {
		for di := len(ranges) - 1; di >= 0; di-- {
			r := ranges[di]
			structs := s.clients[client]
			if len(structs) == 0 {
				continue
			}
			last := findIndex(structs, r.Clock+r.Len-1)
			si := len(structs) - 1
			if last >= 0 && last+1 < si {
				si = last + 1
			}
			for si > 0 && si < len(s.clients[client]) && s.clients[client][si].ID().Clock >= r.Clock {
				si -= 1 + s.tryMergeWithLefts(client, si)
			}
		}
	}
}
