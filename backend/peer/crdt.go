package peer

import (
	"context"
	"ydoc-node/backend/crdt"
)

// Document gives access to the replica of a peer. The document is not safe
// for concurrent use, so every access goes through the peer, which
// serialises it with message handling.
type Document interface {
	// Update runs fn with exclusive access to the document. Transactions
	// committed by fn are sent to every peer and persisted.
	Update(fn func(doc *crdt.Doc) error) error

	// View runs fn with exclusive access to the document. fn must not
	// change it.
	View(fn func(doc *crdt.Doc) error) error

	// StateVector returns the state vector of the document.
	StateVector() crdt.StateVector

	// Snapshot encodes the whole document as one update.
	Snapshot() ([]byte, error)

	// Synced reports whether the handshake with the peer at addr
	// completed.
	Synced(addr string) bool

	// WaitSynced blocks until the handshake with the peer at addr completed
	// or ctx is done.
	WaitSynced(ctx context.Context, addr string) error
}
