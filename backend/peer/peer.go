package peer

import (
	"time"
	"ydoc-node/backend/crdt"
	"ydoc-node/backend/protocol"
	"ydoc-node/backend/storage"
	"ydoc-node/backend/transport"
	"ydoc-node/backend/types"

	"github.com/rs/zerolog"
)

// Peer is a replica that keeps one document in sync with its peers.
type Peer interface {
	Service
	Messaging
	Document
}

// Factory creates a peer from a configuration.
type Factory func(Configuration) Peer

// Service starts and stops a peer.
type Service interface {
	// Start registers the message callbacks, loads the persisted document
	// and starts listening. It fails when the document options are invalid.
	Start() error

	// Stop stops every goroutine of the peer. The socket stays open.
	Stop() error
}

// Messaging connects a peer to other replicas.
type Messaging interface {
	// AddPeer connects to the given addresses and starts the handshake with
	// each of them. Known addresses and the own address are ignored.
	AddPeer(addr ...string)

	// GetPeers returns the addresses of the current connections, sorted.
	GetPeers() []string

	// Unicast queues msg for dest, which must be a connected peer.
	Unicast(dest string, msg types.Message) error

	// Broadcast queues msg for every connected peer except the one at
	// except.
	Broadcast(msg types.Message, except string)
}

// Configuration of a peer.
type Configuration struct {
	Socket          transport.Socket
	MessageRegistry *protocol.Registry

	// DocOptions configure the replica, see crdt.NewDoc.
	DocOptions []crdt.Option

	// Store, when set, receives every update and is loaded on Start.
	Store storage.Store
	// CompactEvery compacts the store once it holds that many updates.
	// Zero never compacts.
	CompactEvery int

	// Metrics, when set, is told about traffic and connections.
	Metrics Metrics

	// Backoff controls retries of failed sends to dialed peers.
	Backoff Backoff

	// SendTimeout bounds a single send on the socket.
	SendTimeout time.Duration

	LogLevel zerolog.Level
}

// Backoff is an exponential retry policy.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	// MaxElapsed of zero retries until the peer stops.
	MaxElapsed time.Duration
}

// Metrics observes a peer.
type Metrics interface {
	FrameReceived(kind string)
	FrameSent(kind string)
	PeerConnected()
	PeerDisconnected()
	UpdateApplied(size int)
}
