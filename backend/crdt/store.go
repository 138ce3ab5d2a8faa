package crdt

import (
	"sort"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// store holds every block known to a document, per client ordered by clock
// and contiguous from clock 0.
type store struct {
	clients map[uint64][]structure

	// pendingStructs is an encoded update holding blocks whose causal
	// dependencies are missing; pendingMissing records the lowest missing
	// clock per client that blocks them.
	pendingStructs []byte
	pendingMissing StateVector

	// pendingDeletes holds delete ranges that
	// target blocks not integrated yet.
	pendingDeletes DeleteSet
}

func newStore() *store {
	return &store{clients: make(map[uint64][]structure)}
}

// state returns the next expected clock of client.
func (s *store) state(client uint64) uint64 {
	structs := s.clients[client]
	if len(structs) == 0 {
		return 0
	}
	last := structs[len(structs)-1]
	return last.ID().Clock + last.Length()
}

func (s *store) stateVector() StateVector {
	sv := make(StateVector, len(s.clients))
	for client := range s.clients {
		sv[client] = s.state(client)
	}
	return sv
}

func (s *store) addStruct(st structure) error {
	id := st.ID()
	structs := s.clients[id.Client]
	if len(structs) > 0 {
		last := structs[len(structs)-1]
		if last.ID().Clock+last.Length() != id.Clock {
			return xerrors.Errorf("block %s does not extend client state %d: %w",
				id, last.ID().Clock+last.Length(), types.ErrMalformedUpdate)
		}
	} else if id.Clock != 0 {
		return xerrors.Errorf("block %s does not start at clock 0: %w", id, types.ErrMalformedUpdate)
	}
	s.clients[id.Client] = append(structs, st)
	return nil
}

// findIndex returns the index of the block containing clock, or -1.
func findIndex(structs []structure, clock uint64) int {
	i := sort.Search(len(structs), func(i int) bool {
		return structs[i].ID().Clock+structs[i].Length() > clock
	})
	if i < len(structs) && structs[i].ID().Clock <= clock {
		return i
	}
	return -1
}

// find returns the block containing id.
func (s *store) find(id ID) structure {
	structs := s.clients[id.Client]
	i := findIndex(structs, id.Clock)
	if i < 0 {
		return nil
	}
	return structs[i]
}

// findItem returns the item containing id, nil when the block is missing
// or garbage collected.
func (s *store) findItem(id ID) *Item {
	item, _ := s.find(id).(*Item)
	return item
}

// getItemCleanStart returns the block starting exactly at id, splitting
// the containing item when needed.
func (s *store) getItemCleanStart(txn *Transaction, id ID) structure {
	structs := s.clients[id.Client]
	i := findIndex(structs, id.Clock)
	if i < 0 {
		return nil
	}
	st := structs[i]
	if item, ok := st.(*Item); ok && item.id.Clock < id.Clock {
		right := splitItem(txn, item, id.Clock-item.id.Clock)
		s.insertAt(id.Client, i+1, right)
		return right
	}
	return st
}

// getItemCleanEnd returns the block ending exactly at id, splitting the
// containing item when needed.
func (s *store) getItemCleanEnd(txn *Transaction, id ID) structure {
	structs := s.clients[id.Client]
	i := findIndex(structs, id.Clock)
	if i < 0 {
		return nil
	}
	st := structs[i]
	if item, ok := st.(*Item); ok && id.Clock != item.id.Clock+item.length-1 {
		right := splitItem(txn, item, id.Clock-item.id.Clock+1)
		s.insertAt(id.Client, i+1, right)
	}
	return st
}

func (s *store) insertAt(client uint64, i int, st structure) {
	structs := s.clients[client]
	structs = append(structs, nil)
	copy(structs[i+1:], structs[i:])
	structs[i] = st
	s.clients[client] = structs
}

func (s *store) replace(old, st structure) {
	structs := s.clients[old.ID().Client]
	if i := findIndex(structs, old.ID().Clock); i >= 0 {
		structs[i] = st
	}
}

// tryMergeWithLefts merges the block at pos with its left neighbours as
// long as they are compatible and returns how many blocks were removed.
func (s *store) tryMergeWithLefts(client uint64, pos int) int {
	structs := s.clients[client]
	i := pos
	for ; i > 0; i-- {
		left, right := structs[i-1], structs[i]
		if left.Deleted() != right.Deleted() || !sameKind(left, right) {
			break
		}
		if !left.mergeWith(right) {
			break
		}
		if ri, ok := right.(*Item); ok && ri.keyed && ri.parent != nil && ri.parent.entries[ri.parentSub] == ri {
			ri.parent.entries[ri.parentSub] = left.(*Item)
		}
	}
	merged := pos - i
	if merged > 0 {
		structs = append(structs[:i+1], structs[pos+1:]...)
		s.clients[client] = structs
	}
	return merged
}

func sameKind(a, b structure) bool {
	switch a.(type) {
	case *Item:
		_, ok := b.(*Item)
		return ok
	case *gcBlock:
		_, ok := b.(*gcBlock)
		return ok
	}
	return false
}
