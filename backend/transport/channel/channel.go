// Package channel is an in-memory transport. Every socket created from one
// Transport can reach every other one; delivery is ordered and lossless.
package channel

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"ydoc-node/backend/transport"

	"golang.org/x/xerrors"
)

// NewTransport returns a new in-memory transport.
func NewTransport() transport.Transport {
	return &Transport{
		sockets: make(map[string]*Socket),
		port:    10000,
	}
}

// Transport connects in-memory sockets.
//
// - implements transport.Transport
type Transport struct {
	mu      sync.Mutex
	sockets map[string]*Socket
	port    int
}

// CreateSocket implements transport.Transport. A ":0" port is replaced by
// a free one.
func (t *Transport) CreateSocket(address string) (transport.ClosableSocket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if strings.HasSuffix(address, ":0") {
		for {
			t.port++
			candidate := fmt.Sprintf("%s:%d", strings.TrimSuffix(address, ":0"), t.port)
			if _, taken := t.sockets[candidate]; !taken {
				address = candidate
				break
			}
		}
	}
	if _, taken := t.sockets[address]; taken {
		return nil, xerrors.Errorf("address %s already in use", address)
	}

	s := &Socket{
		t:     t,
		addr:  address,
		inbox: transport.NewQueue(),
		gone:  make(chan string, 16),
	}
	t.sockets[address] = s
	return s, nil
}

func (t *Transport) lookup(addr string) (*Socket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sockets[addr]
	return s, ok
}

func (t *Transport) remove(s *Socket) []*Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sockets, s.addr)
	others := make([]*Socket, 0, len(t.sockets))
	for _, o := range t.sockets {
		others = append(others, o)
	}
	return others
}

// Socket is an in-memory socket.
//
// - implements transport.ClosableSocket
// - implements transport.Watcher
type Socket struct {
	t     *Transport
	addr  string
	inbox *transport.Queue
	gone  chan string

	mu     sync.Mutex
	closed bool
	ins    []transport.Packet
	outs   []transport.Packet
}

// Close implements transport.ClosableSocket. Sockets that talked to this
// one are told it disappeared.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.inbox.Close()
	for _, o := range s.t.remove(s) {
		o.lost(s.addr)
	}
	return nil
}

func (s *Socket) lost(addr string) {
	select {
	case s.gone <- addr:
	default:
	}
}

// Disconnected implements transport.Watcher.
func (s *Socket) Disconnected() <-chan string {
	return s.gone
}

// Send implements transport.Socket.
func (s *Socket) Send(dest string, pkt transport.Packet, _ time.Duration) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	to, ok := s.t.lookup(dest)
	if !ok {
		return xerrors.Errorf("%s: %w", dest, transport.ErrUnreachable)
	}

	pkt = pkt.Copy()
	if pkt.Header == nil {
		h := transport.NewHeader(s.addr, dest)
		pkt.Header = &h
	}
	to.inbox.Push(pkt.Copy())

	s.mu.Lock()
	s.outs = append(s.outs, pkt)
	s.mu.Unlock()
	return nil
}

// Recv implements transport.Socket.
func (s *Socket) Recv(timeout time.Duration) (transport.Packet, error) {
	pkt, err := s.inbox.Pop(timeout)
	if err != nil {
		return transport.Packet{}, err
	}
	s.mu.Lock()
	s.ins = append(s.ins, pkt.Copy())
	s.mu.Unlock()
	return pkt, nil
}

// GetAddress implements transport.Socket.
func (s *Socket) GetAddress() string {
	return s.addr
}

// GetIns implements transport.Socket.
func (s *Socket) GetIns() []transport.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Packet(nil), s.ins...)
}

// GetOuts implements transport.Socket.
func (s *Socket) GetOuts() []transport.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Packet(nil), s.outs...)
}
