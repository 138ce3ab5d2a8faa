package crdt

import "fmt"

// ID is the causal identifier of a block: the replica that created it and
// the replica local clock at creation time.
type ID struct {
	Client uint64
	Clock  uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Clock, id.Client)
}

func compareIDs(a, b *ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func idPtr(client, clock uint64) *ID {
	return &ID{Client: client, Clock: clock}
}
