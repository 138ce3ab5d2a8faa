// Package transport defines how replicas exchange sync frames. A socket
// sends packets to an address and receives packets from any address;
// implementations keep one ordered, reliable connection per peer.
package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/xerrors"
)

// Factory creates a transport.
type Factory func() Transport

// Transport creates sockets.
type Transport interface {
	CreateSocket(address string) (ClosableSocket, error)
}

// Socket sends and receives packets.
type Socket interface {
	// Send delivers pkt to dest. It fails with ErrUnreachable when no
	// connection to dest exists and none can be opened.
	Send(dest string, pkt Packet, timeout time.Duration) error

	// Recv blocks until a packet arrives or the timeout expires, in which
	// case it returns a TimeoutError.
	Recv(timeout time.Duration) (Packet, error)

	// GetAddress returns the address other sockets reach this one at.
	GetAddress() string

	// GetIns returns the packets received so far.
	GetIns() []Packet

	// GetOuts returns the packets sent so far.
	GetOuts() []Packet
}

// ClosableSocket is a socket that can be closed.
type ClosableSocket interface {
	Socket
	Close() error
}

// Watcher is implemented by sockets that report lost connections. The
// channel yields the address of every peer whose connection dropped.
type Watcher interface {
	Disconnected() <-chan string
}

// Disconnector is implemented by sockets that can close the connection to
// a single peer. Frames from addr that were received but not yet returned
// by Recv are discarded.
type Disconnector interface {
	Disconnect(addr string) error
}

var (
	// ErrClosed is returned by operations on a closed socket.
	ErrClosed = xerrors.New("socket closed")

	// ErrUnreachable is returned when dest cannot be reached. Retrying is
	// pointless for inbound connections, which only the remote side can
	// reopen.
	ErrUnreachable = xerrors.New("peer unreachable")
)

// TimeoutError is returned by Recv when nothing arrived in time.
type TimeoutError time.Duration

func (err TimeoutError) Error() string {
	return fmt.Sprintf("timeout reached after %s", time.Duration(err))
}

// Is makes every TimeoutError match errors.Is(err, TimeoutError(0)).
func (TimeoutError) Is(err error) bool {
	_, ok := err.(TimeoutError)
	return ok
}

// Header routes a packet.
type Header struct {
	PacketID    string
	Source      string
	Destination string
}

// NewHeader returns a header with a fresh packet id.
func NewHeader(source, dest string) Header {
	return Header{
		PacketID:    xid.New().String(),
		Source:      source,
		Destination: dest,
	}
}

// Packet is one sync frame together with its header.
type Packet struct {
	Header *Header
	Msg    []byte
}

// Copy returns a deep copy of the packet.
func (p Packet) Copy() Packet {
	var h *Header
	if p.Header != nil {
		c := *p.Header
		h = &c
	}
	return Packet{Header: h, Msg: append([]byte(nil), p.Msg...)}
}

func (p Packet) String() string {
	if p.Header == nil {
		return fmt.Sprintf("packet{%d bytes}", len(p.Msg))
	}
	return fmt.Sprintf("packet{%s -> %s, id %s, %d bytes}",
		p.Header.Source, p.Header.Destination, p.Header.PacketID, len(p.Msg))
}

// Queue is an unbounded FIFO of packets with a blocking, timed pop. It is
// the inbox of socket implementations.
type Queue struct {
	mu     sync.Mutex
	items  []Packet
	notify chan struct{}
	closed chan struct{}
	once   sync.Once
}

func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Push appends pkt. It never blocks.
func (q *Queue) Push(pkt Packet) {
	q.mu.Lock()
	q.items = append(q.items, pkt)
	q.mu.Unlock()
	q.wake()
}

// Pop waits up to timeout for a packet. A timeout of zero waits forever.
func (q *Queue) Pop(timeout time.Duration) (Packet, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			pkt := q.items[0]
			q.items[0] = Packet{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return pkt, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.closed:
			return Packet{}, ErrClosed
		case <-expired:
			return Packet{}, TimeoutError(timeout)
		}
	}
}

// Drop removes the queued packets matching fn and returns how many were
// removed.
func (q *Queue) Drop(fn func(Packet) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, pkt := range q.items {
		if !fn(pkt) {
			kept = append(kept, pkt)
		}
	}
	dropped := len(q.items) - len(kept)
	clear(q.items[len(kept):])
	q.items = kept
	return dropped
}

// Close wakes up every waiting Pop with ErrClosed.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.closed) })
}

// History keeps the last packets a socket sent or received.
type History struct {
	mu    sync.Mutex
	items []Packet
	next  int
	full  bool
}

// NewHistory returns a history holding at most size packets.
func NewHistory(size int) *History {
	return &History{items: make([]Packet, size)}
}

// Add records a copy of pkt, evicting the oldest packet when full.
func (h *History) Add(pkt Packet) {
	if len(h.items) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items[h.next] = pkt.Copy()
	h.next++
	if h.next == len(h.items) {
		h.next = 0
		h.full = true
	}
}

// Packets returns the recorded packets, oldest first.
func (h *History) Packets() []Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]Packet(nil), h.items[:h.next]...)
	}
	out := make([]Packet, 0, len(h.items))
	out = append(out, h.items[h.next:]...)
	return append(out, h.items[:h.next]...)
}
