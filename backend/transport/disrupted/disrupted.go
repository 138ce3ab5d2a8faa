// Package disrupted wraps a transport with switchable connection loss, to
// test how replicas behave when peers vanish and come back.
package disrupted

import (
	"sync"
	"time"
	"ydoc-node/backend/transport"

	"golang.org/x/xerrors"
)

// NewTransport wraps inner.
func NewTransport(inner transport.Transport) *Transport {
	return &Transport{
		inner: inner,
		cut:   make(map[string]bool),
	}
}

// Transport hands out sockets whose links can be cut and healed.
//
// - implements transport.Transport
type Transport struct {
	inner transport.Transport

	mu  sync.Mutex
	cut map[string]bool
}

// CreateSocket implements transport.Transport.
func (t *Transport) CreateSocket(address string) (transport.ClosableSocket, error) {
	s, err := t.inner.CreateSocket(address)
	if err != nil {
		return nil, err
	}
	return &Socket{ClosableSocket: s, t: t}, nil
}

// Cut disconnects addr: packets from or to it are dropped until Heal.
func (t *Transport) Cut(addr string) {
	t.mu.Lock()
	t.cut[addr] = true
	t.mu.Unlock()
}

// Heal reconnects addr.
func (t *Transport) Heal(addr string) {
	t.mu.Lock()
	delete(t.cut, addr)
	t.mu.Unlock()
}

func (t *Transport) isCut(addrs ...string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range addrs {
		if t.cut[a] {
			return true
		}
	}
	return false
}

// Socket drops traffic on cut links.
//
// - implements transport.ClosableSocket
type Socket struct {
	transport.ClosableSocket
	t *Transport
}

// Send implements transport.Socket. Sending over a cut link fails like a
// refused connection would.
func (s *Socket) Send(dest string, pkt transport.Packet, timeout time.Duration) error {
	if s.t.isCut(s.GetAddress(), dest) {
		return xerrors.Errorf("link %s -> %s is cut: %w", s.GetAddress(), dest, transport.ErrUnreachable)
	}
	return s.ClosableSocket.Send(dest, pkt, timeout)
}

// Recv implements transport.Socket. Packets that were in flight when the
// link was cut are discarded.
func (s *Socket) Recv(timeout time.Duration) (transport.Packet, error) {
	deadline := time.Now().Add(timeout)
	for {
		pkt, err := s.ClosableSocket.Recv(timeout)
		if err != nil {
			return pkt, err
		}
		if pkt.Header == nil || !s.t.isCut(s.GetAddress(), pkt.Header.Source) {
			return pkt, nil
		}
		if timeout > 0 {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return transport.Packet{}, transport.TimeoutError(0)
			}
		}
	}
}

// Disconnected implements transport.Watcher when the wrapped socket does.
// Otherwise it returns a channel that never fires.
func (s *Socket) Disconnected() <-chan string {
	if w, ok := s.ClosableSocket.(transport.Watcher); ok {
		return w.Disconnected()
	}
	return nil
}

// Disconnect implements transport.Disconnector when the wrapped socket
// does. Otherwise it does nothing.
func (s *Socket) Disconnect(addr string) error {
	if d, ok := s.ClosableSocket.(transport.Disconnector); ok {
		return d.Disconnect(addr)
	}
	return nil
}
