package protocol

import (
	"sync"
	"ydoc-node/backend/transport"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// Callback handles a decoded message together with the packet it came in.
type Callback func(msg types.Message, pkt transport.Packet) error

// Registry dispatches incoming frames to the callback registered for their
// message type.
type Registry struct {
	mu        sync.RWMutex
	callbacks map[string]Callback
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[string]Callback)}
}

// RegisterMessageCallback sets the callback for messages of the same type
// as m. A later registration replaces an earlier one.
func (r *Registry) RegisterMessageCallback(m types.Message, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[m.Name()] = cb
}

// MarshalMessage frames msg into a packet without a header.
func (r *Registry) MarshalMessage(msg types.Message) (transport.Packet, error) {
	frame, err := Encode(msg)
	if err != nil {
		return transport.Packet{}, err
	}
	return transport.Packet{Msg: frame}, nil
}

// ProcessPacket decodes the frame carried by pkt and runs its callback.
func (r *Registry) ProcessPacket(pkt transport.Packet) error {
	msg, err := Decode(pkt.Msg)
	if err != nil {
		return err
	}

	r.mu.RLock()
	cb, ok := r.callbacks[msg.Name()]
	r.mu.RUnlock()
	if !ok {
		return xerrors.Errorf("no callback for %s", msg.Name())
	}
	return cb(msg, pkt)
}
