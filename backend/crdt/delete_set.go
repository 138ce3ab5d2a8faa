package crdt

import (
	"sort"
	"ydoc-node/backend/encoding"
)

// DeleteRange is a run of deleted clocks of one client.
type DeleteRange struct {
	Clock uint64
	Len   uint64
}

// DeleteSet records deleted clock ranges per client.
type DeleteSet map[uint64][]DeleteRange

func (ds DeleteSet) add(client, clock, length uint64) {
	if length == 0 {
		return
	}
	ds[client] = append(ds[client], DeleteRange{Clock: clock, Len: length})
}

// sortAndMerge orders ranges by clock and fuses adjacent or overlapping
// ones.
func (ds DeleteSet) sortAndMerge() {
	for client, ranges := range ds {
		if len(ranges) == 0 {
			delete(ds, client)
			continue
		}
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Clock < ranges[j].Clock })
		merged := ranges[:1]
		for _, r := range ranges[1:] {
			last := &merged[len(merged)-1]
			if last.Clock+last.Len >= r.Clock {
				if end := r.Clock + r.Len; end > last.Clock+last.Len {
					last.Len = end - last.Clock
				}
			} else {
				merged = append(merged, r)
			}
		}
		ds[client] = merged
	}
}

func (ds DeleteSet) findIndex(ranges []DeleteRange, clock uint64) int {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].Clock+ranges[i].Len > clock })
	if i < len(ranges) && ranges[i].Clock <= clock {
		return i
	}
	return -1
}

// Contains reports whether id falls in a deleted range. The set must be
// sorted and merged.
func (ds DeleteSet) Contains(id ID) bool {
	ranges, ok := ds[id.Client]
	return ok && ds.findIndex(ranges, id.Clock) >= 0
}

func (ds DeleteSet) clients() []uint64 {
	clients := make([]uint64, 0, len(ds))
	for c := range ds {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })
	return clients
}

func (ds DeleteSet) merge(other DeleteSet) {
	for client, ranges := range other {
		ds[client] = append(ds[client], ranges...)
	}
}

func (ds DeleteSet) write(enc *encoding.Encoder) {
	enc.WriteVarUint(uint64(len(ds)))
	for _, client := range ds.clients() {
		ranges := ds[client]
		enc.WriteVarUint(client)
		enc.WriteVarUint(uint64(len(ranges)))
		for _, r := range ranges {
			enc.WriteVarUint(r.Clock)
			enc.WriteVarUint(r.Len)
		}
	}
}

func readDeleteSet(dec *encoding.Decoder) (DeleteSet, error) {
	ds := DeleteSet{}
	n, err := dec.ReadLen()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		client, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		count, err := dec.ReadLen()
		if err != nil {
			return nil, err
		}
		for j := 0; j < count; j++ {
			clock, err := dec.ReadVarUint()
			if err != nil {
				return nil, err
			}
			length, err := dec.ReadVarUint()
			if err != nil {
				return nil, err
			}
			ds.add(client, clock, length)
		}
	}
	return ds, nil
}

// deleteSetFromStore collects every deleted block of the store.
func deleteSetFromStore(s *store) DeleteSet {
	ds := DeleteSet{}
	for client, structs := range s.clients {
		for i := 0; i < len(structs); i++ {
			if !structs[i].Deleted() {
				continue
			}
			clock := structs[i].ID().Clock
			length := structs[i].Length()
			for i+1 < len(structs) && structs[i+1].Deleted() {
				i++
				length += structs[i].Length()
			}
			ds.add(client, clock, length)
		}
	}
	return ds
}
