package crdt

import (
	"sort"
	"ydoc-node/backend/encoding"

	"golang.org/x/xerrors"
)

// StateVector maps every known client to the next clock expected from it,
// i.e. the number of blocks (in clock units) integrated from that client.
type StateVector map[uint64]uint64

// Clients returns the client ids in descending order.
func (sv StateVector) Clients() []uint64 {
	clients := make([]uint64, 0, len(sv))
	for c := range sv {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })
	return clients
}

// Encode serializes the state vector.
func (sv StateVector) Encode() []byte {
	enc := encoding.NewEncoder()
	sv.write(enc)
	return enc.Bytes()
}

func (sv StateVector) write(enc *encoding.Encoder) {
	enc.WriteVarUint(uint64(len(sv)))
	for _, client := range sv.Clients() {
		enc.WriteVarUint(client)
		enc.WriteVarUint(sv[client])
	}
}

// DecodeStateVector parses an encoded state vector.
func DecodeStateVector(b []byte) (StateVector, error) {
	dec := encoding.NewDecoder(b)
	sv, err := readStateVector(dec)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode state vector: %w", err)
	}
	return sv, nil
}

func readStateVector(dec *encoding.Decoder) (StateVector, error) {
	n, err := dec.ReadLen()
	if err != nil {
		return nil, err
	}
	sv := make(StateVector, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		client, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		clock, err := dec.ReadVarUint()
		if err != nil {
			return nil, err
		}
		sv[client] = clock
	}
	return sv, nil
}

func (sv StateVector) clone() StateVector {
	out := make(StateVector, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}

// Equal reports whether both vectors contain the same clocks.
func (sv StateVector) Equal(other StateVector) bool {
	if len(sv) != len(other) {
		return false
	}
	for k, v := range sv {
		if o, ok := other[k]; !ok || o != v {
			return false
		}
	}
	return true
}
