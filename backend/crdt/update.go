package crdt

import (
	"slices"
	"sort"
	"ydoc-node/backend/encoding"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// maxPrealloc caps the capacity reserved from counts read off the wire.
const maxPrealloc = 64

// readClientsStructRefs decodes the block section of an update. Items
// keep their parent as a root name or an id until they are integrated.
func readClientsStructRefs(dec *encoding.Decoder) (map[uint64][]structure, error) {
	refs := make(map[uint64][]structure)
	numClients, err := dec.ReadLen()
	if err != nil {
		return nil, err
	}
	for i := 0; i < numClients; i++ {
		numStructs, err := dec.ReadLen()
		if err != nil {
			return nil, err
		}
		client, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		clock, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		list := make([]structure, 0, min(numStructs, maxPrealloc))
		for j := 0; j < numStructs; j++ {
			st, err := readStruct(dec, ID{Client: client, Clock: clock})
			if err != nil {
				return nil, err
			}
			list = append(list, st)
			clock += st.Length()
		}
		refs[client] = append(refs[client], list...)
	}
	return refs, nil
}

func readStruct(dec *encoding.Decoder, id ID) (structure, error) {
	info, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	switch info & refMask {
	case infoGC, infoSkip:
		n, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, xerrors.Errorf("empty block %s: %w", id, types.ErrMalformedUpdate)
		}
		if info&refMask == infoGC {
			return &gcBlock{id: id, length: n}, nil
		}
		return &skipBlock{id: id, length: n}, nil
	}
	if info&refMask > maxContentRefs {
		return nil, xerrors.Errorf("unknown block info %#x: %w", info, types.ErrMalformedUpdate)
	}

	it := &Item{id: id, keyed: info&flagParentSub != 0}
	readID := func() (*ID, error) {
		client, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		clock, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		return &ID{Client: client, Clock: clock}, nil
	}
	if info&flagOrigin != 0 {
		if it.origin, err = readID(); err != nil {
			return nil, err
		}
	}
	if info&flagRightOrig != 0 {
		if it.rightOrigin, err = readID(); err != nil {
			return nil, err
		}
	}
	if info&(flagOrigin|flagRightOrig) == 0 {
		isName, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		if isName == 1 {
			if it.parentName, err = dec.ReadVarString(); err != nil {
				return nil, err
			}
			it.hasName = true
		} else if it.parentID, err = readID(); err != nil {
			return nil, err
		}
		if it.keyed {
			if it.parentSub, err = dec.ReadVarString(); err != nil {
				return nil, err
			}
		}
	}
	if it.content, err = readContent(dec, info); err != nil {
		return nil, err
	}
	it.length = it.content.length()
	if it.length == 0 {
		return nil, xerrors.Errorf("empty item %s: %w", id, types.ErrMalformedUpdate)
	}
	return it, nil
}

// writeClientsStructs writes every block the holder of sv is missing.
func writeClientsStructs(enc *encoding.Encoder, s *store, sv StateVector) error {
	sm := StateVector{}
	for client := range s.clients {
		if s.state(client) > sv[client] {
			sm[client] = sv[client]
		}
	}
	enc.WriteVarUint(uint64(len(sm)))
	for _, client := range sm.Clients() {
		structs := s.clients[client]
		clock := max(sm[client], structs[0].ID().Clock)
		start := findIndex(structs, clock)
		enc.WriteVarUint(uint64(len(structs) - start))
		enc.WriteVarUint(client)
		enc.WriteVarUint(clock)
		first := structs[start]
		if err := first.write(enc, clock-first.ID().Clock); err != nil {
			return err
		}
		for _, st := range structs[start+1:] {
			if err := st.write(enc, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeRefs writes decoded blocks, which must be contiguous per client,
// followed by ds.
func encodeRefs(refs map[uint64][]structure, ds DeleteSet) ([]byte, error) {
	enc := encoding.NewEncoder()
	clients := make([]uint64, 0, len(refs))
	for c, list := range refs {
		if len(list) > 0 {
			clients = append(clients, c)
		}
	}
	slices.Sort(clients)
	slices.Reverse(clients)
	enc.WriteVarUint(uint64(len(clients)))
	for _, c := range clients {
		list := refs[c]
		enc.WriteVarUint(uint64(len(list)))
		enc.WriteVarUint(c)
		enc.WriteVarUint(list[0].ID().Clock)
		for _, st := range list {
			if err := st.write(enc, 0); err != nil {
				return nil, err
			}
		}
	}
	ds.write(enc)
	return enc.Bytes(), nil
}

func encodeDeleteSetUpdate(ds DeleteSet) []byte {
	enc := encoding.NewEncoder()
	enc.WriteVarUint(0)
	ds.write(enc)
	return enc.Bytes()
}

// -----------------------------------------------------------------------------
// Applying updates

type refQueue struct {
	refs []structure
	i    int
}

// pendingRest holds the blocks of an update that could not be integrated
// and the clocks they wait for.
type pendingRest struct {
	missing StateVector
	update  []byte
}

func (t *Transaction) applyUpdate(update []byte) error {
	dec := encoding.NewDecoder(update)
	refs, err := readClientsStructRefs(dec)
	if err != nil {
		return xerrors.Errorf("failed to read blocks: %w", err)
	}
	ds, err := readDeleteSet(dec)
	if err != nil {
		return xerrors.Errorf("failed to read delete set: %w", err)
	}

	s := t.doc.store
	rest, err := t.integrateStructs(refs)
	if err != nil {
		return err
	}
	retry := false
	if s.pendingStructs != nil {
		for client, clock := range s.pendingMissing {
			if clock < s.state(client) {
				retry = true
				break
			}
		}
		if rest != nil {
			for client, clock := range rest.missing {
				if m, ok := s.pendingMissing[client]; !ok || m > clock {
					s.pendingMissing[client] = clock
				}
			}
			merged, err := MergeUpdates(s.pendingStructs, rest.update)
			if err != nil {
				return err
			}
			s.pendingStructs = merged
		}
	} else if rest != nil {
		s.pendingStructs, s.pendingMissing = rest.update, rest.missing
	}

	unapplied := t.applyDeleteSet(ds)
	if s.pendingDeletes != nil {
		unapplied.merge(t.applyDeleteSet(s.pendingDeletes))
	}
	unapplied.sortAndMerge()
	s.pendingDeletes = nil
	if len(unapplied) > 0 {
		s.pendingDeletes = unapplied
	}

	if retry {
		pending := s.pendingStructs
		s.pendingStructs, s.pendingMissing = nil, nil
		return t.applyUpdate(pending)
	}
	return nil
}

// integrateStructs integrates decoded blocks in causal order. Blocks whose
// dependencies are unknown are returned re-encoded.
func (t *Transaction) integrateStructs(refs map[uint64][]structure) (*pendingRest, error) {
	s := t.doc.store
	queues := make(map[uint64]*refQueue, len(refs))
	ids := make([]uint64, 0, len(refs))
	for client, list := range refs {
		queues[client] = &refQueue{refs: list}
		ids = append(ids, client)
	}
	slices.Sort(ids)

	next := func() *refQueue {
		for len(ids) > 0 {
			if q := queues[ids[len(ids)-1]]; q != nil && q.i < len(q.refs) {
				return q
			}
			ids = ids[:len(ids)-1]
		}
		return nil
	}
	cur := next()
	if cur == nil {
		return nil, nil
	}

	rest := make(map[uint64][]structure)
	missingSV := StateVector{}
	updateMissing := func(client, clock uint64) {
		if m, ok := missingSV[client]; !ok || m > clock {
			missingSV[client] = clock
		}
	}
	var stack []structure
	toRest := func() {
		for _, st := range stack {
			client := st.ID().Client
			if q := queues[client]; q != nil {
				q.i--
				rest[client] = q.refs[q.i:]
				delete(queues, client)
				q.refs, q.i = nil, 0
			} else {
				rest[client] = []structure{st}
			}
		}
		stack = stack[:0]
	}
	state := make(map[uint64]uint64)

	head := cur.refs[cur.i]
	cur.i++
	for {
		if _, skip := head.(*skipBlock); !skip {
			id := head.ID()
			local, ok := state[id.Client]
			if !ok {
				local = s.state(id.Client)
				state[id.Client] = local
			}
			if local < id.Clock {
				stack = append(stack, head)
				updateMissing(id.Client, id.Clock-1)
				toRest()
			} else if client, missing := head.missing(t, s); missing {
				stack = append(stack, head)
				q := queues[client]
				if q == nil || q.i == len(q.refs) {
					updateMissing(client, s.state(client))
					toRest()
				} else {
					head = q.refs[q.i]
					q.i++
					continue
				}
			} else if offset := local - id.Clock; offset == 0 || offset < head.Length() {
				if err := head.integrate(t, offset); err != nil {
					return nil, err
				}
				state[id.Client] = head.ID().Clock + head.Length()
			}
		}

		switch {
		case len(stack) > 0:
			head = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		case cur != nil && cur.i < len(cur.refs):
			head = cur.refs[cur.i]
			cur.i++
		default:
			if cur = next(); cur == nil {
				if len(rest) == 0 {
					return nil, nil
				}
				update, err := encodeRefs(rest, DeleteSet{})
				if err != nil {
					return nil, err
				}
				return &pendingRest{missing: missingSV, update: update}, nil
			}
			head = cur.refs[cur.i]
			cur.i++
		}
	}
}

// applyDeleteSet deletes the ranges of ds and returns the ranges that
// target blocks not integrated yet.
func (t *Transaction) applyDeleteSet(ds DeleteSet) DeleteSet {
	s := t.doc.store
	unapplied := DeleteSet{}
	for _, client := range ds.clients() {
		state := s.state(client)
		for _, r := range ds[client] {
			end := r.Clock + r.Len
			if r.Clock >= state {
				unapplied.add(client, r.Clock, r.Len)
				continue
			}
			if state < end {
				unapplied.add(client, state, end-state)
			}
			i := findIndex(s.clients[client], r.Clock)
			if it, ok := s.clients[client][i].(*Item); ok && !it.deleted && it.id.Clock < r.Clock {
				s.insertAt(client, i+1, splitItem(t, it, r.Clock-it.id.Clock))
				i++
			}
			for ; i < len(s.clients[client]); i++ {
				st := s.clients[client][i]
				if st.ID().Clock >= end {
					break
				}
				it, ok := st.(*Item)
				if !ok || it.deleted {
					continue
				}
				if end < it.id.Clock+it.length {
					s.insertAt(client, i+1, splitItem(t, it, end-it.id.Clock))
				}
				it.delete(t)
			}
		}
	}
	return unapplied
}

// -----------------------------------------------------------------------------
// Working on encoded updates

// MergeUpdates combines updates into one update that has the same effect
// as applying all of them. Overlapping blocks are written once and gaps
// are marked as skipped ranges.
func MergeUpdates(updates ...[]byte) ([]byte, error) {
	return mergeUpdates(updates, StateVector{})
}

// mergeUpdates merges updates, leaving out blocks below since.
func mergeUpdates(updates [][]byte, since StateVector) ([]byte, error) {
	all := make(map[uint64][]structure)
	ds := DeleteSet{}
	for _, u := range updates {
		dec := encoding.NewDecoder(u)
		refs, err := readClientsStructRefs(dec)
		if err != nil {
			return nil, xerrors.Errorf("failed to read blocks: %w", err)
		}
		d, err := readDeleteSet(dec)
		if err != nil {
			return nil, xerrors.Errorf("failed to read delete set: %w", err)
		}
		for client, list := range refs {
			all[client] = append(all[client], list...)
		}
		ds.merge(d)
	}
	ds.sortAndMerge()

	type slice struct {
		st     structure
		offset uint64
	}
	runs := make(map[uint64][]slice)
	for client, list := range all {
		sort.SliceStable(list, func(i, j int) bool {
			ci, cj := list[i].ID().Clock, list[j].ID().Clock
			if ci != cj {
				return ci < cj
			}
			return list[i].Length() > list[j].Length()
		})
		end := since[client]
		var run []slice
		for _, st := range list {
			if _, skip := st.(*skipBlock); skip {
				continue
			}
			clock, n := st.ID().Clock, st.Length()
			if clock+n <= end {
				continue
			}
			if len(run) > 0 && clock > end {
				run = append(run, slice{st: &skipBlock{id: ID{Client: client, Clock: end}, length: clock - end}})
			}
			var offset uint64
			if clock < end {
				offset = end - clock
			}
			run = append(run, slice{st: st, offset: offset})
			end = clock + n
		}
		if len(run) > 0 {
			runs[client] = run
		}
	}

	clients := make([]uint64, 0, len(runs))
	for c := range runs {
		clients = append(clients, c)
	}
	slices.Sort(clients)
	slices.Reverse(clients)

	enc := encoding.NewEncoder()
	enc.WriteVarUint(uint64(len(clients)))
	for _, c := range clients {
		run := runs[c]
		enc.WriteVarUint(uint64(len(run)))
		enc.WriteVarUint(c)
		enc.WriteVarUint(run[0].st.ID().Clock + run[0].offset)
		for _, sl := range run {
			if err := sl.st.write(enc, sl.offset); err != nil {
				return nil, err
			}
		}
	}
	ds.write(enc)
	return enc.Bytes(), nil
}

// StateVectorFromUpdate returns the state a document would reach by
// applying update to an empty document.
func StateVectorFromUpdate(update []byte) (StateVector, error) {
	refs, err := readClientsStructRefs(encoding.NewDecoder(update))
	if err != nil {
		return nil, xerrors.Errorf("failed to read blocks: %w", err)
	}
	sv := StateVector{}
	for client, list := range refs {
		var clock uint64
		for _, st := range list {
			if _, skip := st.(*skipBlock); skip || st.ID().Clock != clock {
				break
			}
			clock += st.Length()
		}
		if clock > 0 {
			sv[client] = clock
		}
	}
	return sv, nil
}

func countStructs(update []byte) (int, error) {
	refs, err := readClientsStructRefs(encoding.NewDecoder(update))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, list := range refs {
		for _, st := range list {
			if _, skip := st.(*skipBlock); !skip {
				n++
			}
		}
	}
	return n, nil
}
