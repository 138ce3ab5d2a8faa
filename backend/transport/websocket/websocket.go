// Package websocket carries sync frames over websocket connections. Every
// websocket message holds exactly one frame.
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"ydoc-node/backend/transport"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/xid"
	"golang.org/x/xerrors"
)

// Path is the route websocket connections are upgraded on.
const Path = "/ws"

// historySize bounds the packets kept for GetIns and GetOuts.
const historySize = 256

// NewTransport returns a websocket transport.
func NewTransport() transport.Transport {
	return &Transport{
		Dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		Upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Transport creates websocket sockets.
//
// - implements transport.Transport
type Transport struct {
	Dialer   *websocket.Dialer
	Upgrader *websocket.Upgrader
}

// CreateSocket implements transport.Transport. An empty address creates a
// socket that only dials out; any other address is listened on, and other
// routes can be added through Socket.Router.
func (t *Transport) CreateSocket(address string) (transport.ClosableSocket, error) {
	s := &Socket{
		t:     t,
		inbox: transport.NewQueue(),
		gone:  make(chan string, 64),
		done:  make(chan struct{}),
		conns: xsync.NewMapOf[string, *conn](),
		ins:   transport.NewHistory(historySize),
		outs:  transport.NewHistory(historySize),
	}

	if address == "" {
		s.addr = "client-" + xid.New().String()
		return s, nil
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, xerrors.Errorf("failed to listen on %s: %w", address, err)
	}
	s.addr = ln.Addr().String()
	s.router = mux.NewRouter()
	s.router.HandleFunc(Path, s.serveWs)
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		err := s.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.inbox.Close()
		}
	}()

	return s, nil
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex

	// readMu orders pushes to the inbox with Disconnect
	readMu  sync.Mutex
	dropped bool
}

func (c *conn) write(msg []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		err := c.ws.SetWriteDeadline(time.Now().Add(timeout))
		if err != nil {
			return xerrors.Errorf("failed to set write deadline: %w", err)
		}
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, msg)
}

// Socket is a websocket endpoint with one connection per remote address.
// Inbound connections are addressed by the remote address of the TCP
// connection.
//
// - implements transport.ClosableSocket
// - implements transport.Watcher
// - implements transport.Disconnector
type Socket struct {
	t      *Transport
	addr   string
	router *mux.Router
	srv    *http.Server

	inbox  *transport.Queue
	gone   chan string
	done   chan struct{}
	conns  *xsync.MapOf[string, *conn]
	dialMu sync.Mutex

	mu     sync.Mutex
	closed bool
	ins    *transport.History
	outs   *transport.History
}

// Router returns the HTTP router of a listening socket, nil for a dial-only
// socket.
func (s *Socket) Router() *mux.Router {
	return s.router
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Socket) serveWs(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, "closed", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.t.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}
	s.conns.Store(r.RemoteAddr, c)
	go s.readPump(r.RemoteAddr, c)
}

func (s *Socket) readPump(key string, c *conn) {
	defer func() {
		c.ws.Close()
		s.forget(key, c)
		select {
		case s.gone <- key:
		case <-s.done:
		}
	}()

	for {
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		h := transport.NewHeader(key, s.addr)
		c.readMu.Lock()
		if c.dropped {
			c.readMu.Unlock()
			return
		}
		s.inbox.Push(transport.Packet{Header: &h, Msg: msg})
		c.readMu.Unlock()
	}
}

// forget removes c from the connection table, unless key was reconnected
// in the meantime.
func (s *Socket) forget(key string, c *conn) {
	s.conns.Compute(key, func(old *conn, loaded bool) (*conn, bool) {
		return old, !loaded || old == c
	})
}

// Disconnect implements transport.Disconnector. The connection to addr is
// closed and the frames it delivered that Recv did not return yet are
// discarded.
func (s *Socket) Disconnect(addr string) error {
	c, ok := s.conns.Load(addr)
	if !ok {
		return xerrors.Errorf("no connection to %s: %w", addr, transport.ErrUnreachable)
	}

	c.readMu.Lock()
	c.dropped = true
	c.readMu.Unlock()

	s.forget(addr, c)
	s.inbox.Drop(func(pkt transport.Packet) bool {
		return pkt.Header != nil && pkt.Header.Source == addr
	})

	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseProtocolError, ""), time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}

// dialURL turns a peer address into a websocket URL. Full ws:// and wss://
// URLs are kept as they are.
func dialURL(dest string) string {
	if strings.HasPrefix(dest, "ws://") || strings.HasPrefix(dest, "wss://") {
		return dest
	}
	return "ws://" + dest + Path
}

func (s *Socket) connTo(dest string, timeout time.Duration) (*conn, error) {
	if c, ok := s.conns.Load(dest); ok {
		return c, nil
	}

	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	if c, ok := s.conns.Load(dest); ok {
		return c, nil
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ws, _, err := s.t.Dialer.DialContext(ctx, dialURL(dest), nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to dial %s: %v: %w", dest, err, transport.ErrUnreachable)
	}
	c := &conn{ws: ws}
	s.conns.Store(dest, c)
	go s.readPump(dest, c)
	return c, nil
}

// Send implements transport.Socket. A connection to dest is dialed when none
// is open. Inbound connections that are gone are dialed too, which the
// remote end normally refuses.
func (s *Socket) Send(dest string, pkt transport.Packet, timeout time.Duration) error {
	if s.isClosed() {
		return transport.ErrClosed
	}

	c, err := s.connTo(dest, timeout)
	if err != nil {
		return err
	}

	err = c.write(pkt.Msg, timeout)
	if err != nil {
		c.ws.Close()
		return xerrors.Errorf("failed to write to %s: %v: %w", dest, err, transport.ErrUnreachable)
	}

	pkt = pkt.Copy()
	if pkt.Header == nil {
		h := transport.NewHeader(s.addr, dest)
		pkt.Header = &h
	}
	s.outs.Add(pkt)
	return nil
}

// Recv implements transport.Socket.
func (s *Socket) Recv(timeout time.Duration) (transport.Packet, error) {
	pkt, err := s.inbox.Pop(timeout)
	if err != nil {
		return transport.Packet{}, err
	}
	s.ins.Add(pkt)
	return pkt, nil
}

// Disconnected implements transport.Watcher.
func (s *Socket) Disconnected() <-chan string {
	return s.gone
}

// Close implements transport.ClosableSocket. It stops the listener and
// closes every connection.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)

	var err error
	if s.srv != nil {
		err = s.srv.Close()
	}
	s.conns.Range(func(_ string, c *conn) bool {
		c.mu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.mu.Unlock()
		c.ws.Close()
		return true
	})
	s.inbox.Close()
	return err
}

// GetAddress implements transport.Socket. Listening sockets report the
// bound host:port, which resolves ":0" to the chosen port.
func (s *Socket) GetAddress() string {
	return s.addr
}

// GetIns implements transport.Socket. Only the most recent packets are
// kept.
func (s *Socket) GetIns() []transport.Packet {
	return s.ins.Packets()
}

// GetOuts implements transport.Socket. Only the most recent packets are
// kept.
func (s *Socket) GetOuts() []transport.Packet {
	return s.outs.Packets()
}
