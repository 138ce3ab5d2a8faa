package impl

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"
	"ydoc-node/backend/crdt"
	"ydoc-node/backend/peer"
	"ydoc-node/backend/protocol"
	"ydoc-node/backend/transport"
	"ydoc-node/backend/types"

	"github.com/cenkalti/backoff/v5"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

var logIO = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

const defaultSendTimeout = 5 * time.Second

// NewPeer creates a new peer. Invalid document options are reported by
// Start.
func NewPeer(conf peer.Configuration) peer.Peer {
	logger := newLogger(logIO, conf.LogLevel)
	loggerSync := newLogger(logIO, conf.LogLevel)
	loggerDoc := newLogger(logIO, conf.LogLevel)

	if conf.MessageRegistry == nil {
		conf.MessageRegistry = protocol.NewRegistry()
	}
	if conf.SendTimeout <= 0 {
		conf.SendTimeout = defaultSendTimeout
	}

	metrics := conf.Metrics
	if metrics == nil {
		metrics = noMetrics{}
	}

	opts := append([]crdt.Option{crdt.WithLogger(loggerDoc)}, conf.DocOptions...)
	doc, err := crdt.NewDoc(opts...)

	node := &node{
		conf:    conf,
		log:     logger,
		logSync: loggerSync,
		doc:     doc,
		docErr:  err,
		peers:   xsync.NewMapOf[string, *conn](),
		metrics: metrics,
	}
	if doc != nil {
		doc.ObserveUpdate(node.onUpdate)
	}

	return node
}

// Helper functions

func newLogger(io io.Writer, level zerolog.Level) zerolog.Logger {
	logger := zerolog.New(io).With().Timestamp().Logger()
	return logger.Level(level)
}

func newBackoff(conf peer.Backoff) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if conf.Initial > 0 {
		b.InitialInterval = conf.Initial
	}
	if conf.Multiplier > 0 {
		b.Multiplier = conf.Multiplier
	}
	if conf.Max > 0 {
		b.MaxInterval = conf.Max
	}
	return b
}

// node implements a peer holding one replica
//
// - implements peer.Peer
type node struct {
	peer.Peer
	conf    peer.Configuration
	ctx     context.Context    // for managing the start/stop
	cancel  context.CancelFunc // to cancel the listening goroutine
	log     zerolog.Logger
	logSync zerolog.Logger
	metrics peer.Metrics

	// mu serialises every access to doc
	mu     sync.Mutex
	doc    *crdt.Doc
	docErr error

	peers   *xsync.MapOf[string, *conn]
	writers sync.WaitGroup
}

// Start implements peer.Service
func (n *node) Start() error {
	if n.docErr != nil {
		return xerrors.Errorf("failed to create document: %w", n.docErr)
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())

	n.conf.MessageRegistry.RegisterMessageCallback(&types.SyncStep1Message{}, n.SyncStep1MessageCallback)
	n.conf.MessageRegistry.RegisterMessageCallback(&types.SyncStep2Message{}, n.SyncStep2MessageCallback)
	n.conf.MessageRegistry.RegisterMessageCallback(&types.UpdateMessage{}, n.UpdateMessageCallback)

	err := n.loadStore()
	if err != nil {
		n.cancel()
		return xerrors.Errorf("failed to load store: %w", err)
	}

	go n.Listen()

	if w, ok := n.conf.Socket.(transport.Watcher); ok {
		go n.WatchDisconnects(w)
	}

	n.log.Info().Msgf("Started replica %d on %s", n.doc.ClientID(), n.conf.Socket.GetAddress())
	return nil
}

// Stop implements peer.Service
func (n *node) Stop() error {
	if n.cancel == nil {
		return nil
	}
	n.cancel()

	n.peers.Range(func(addr string, c *conn) bool {
		n.removePeer(addr, c)
		return true
	})
	n.writers.Wait()
	return nil
}

func (n *node) Listen() {
	for {
		select {
		case <-n.ctx.Done():
			n.log.Info().Msg("Stopping listening to incoming messages")
			return
		default:
			pkt, err := n.conf.Socket.Recv(time.Second * 1)
			if errors.Is(err, transport.TimeoutError(0)) {
				continue
			}
			if errors.Is(err, transport.ErrClosed) {
				n.log.Info().Msg("Socket closed, stopping listening")
				return
			}
			if err != nil {
				n.log.Error().Err(err).Msg("Failed to receive message")
				continue
			}

			err = n.ProcessMsg(pkt)
			if errors.Is(err, protocol.ErrForeignFrame) {
				n.logSync.Debug().Msgf("Skipping frame from %s: %v", pkt.Header.Source, err)
				continue
			}
			if errors.Is(err, types.ErrMalformedUpdate) {
				n.log.Error().Err(err).Msgf("Closing connection to %s after malformed input", pkt.Header.Source)
				n.disconnect(pkt.Header.Source)
				continue
			}
			if err != nil {
				n.log.Error().Err(err).Msg("Failed to process message")
			}
		}
	}
}

// WatchDisconnects resets the handshake with dialed peers whose connection
// dropped, so that the next send reconnects and syncs again. Inbound peers
// are forgotten.
func (n *node) WatchDisconnects(w transport.Watcher) {
	for {
		select {
		case <-n.ctx.Done():
			return
		case addr := <-w.Disconnected():
			c, ok := n.peers.Load(addr)
			if !ok {
				continue
			}
			if !c.dialed {
				n.log.Info().Msgf("Peer %s disconnected", addr)
				n.removePeer(addr, c)
				continue
			}
			n.log.Info().Msgf("Connection to %s lost, reconnecting", addr)
			n.resync(c)
		}
	}
}

// disconnect forgets the peer at addr and closes its connection, so that
// nothing it sent after a malformed frame is applied.
func (n *node) disconnect(addr string) {
	if c, ok := n.peers.Load(addr); ok {
		n.removePeer(addr, c)
	}
	d, ok := n.conf.Socket.(transport.Disconnector)
	if !ok {
		return
	}
	err := d.Disconnect(addr)
	if err != nil && !errors.Is(err, transport.ErrUnreachable) {
		n.log.Warn().Err(err).Msgf("Failed to close connection to %s", addr)
	}
}

// ProcessMsg dispatches a frame to its callback.
func (n *node) ProcessMsg(pkt transport.Packet) error {
	err := n.conf.MessageRegistry.ProcessPacket(pkt)
	if err != nil {
		return xerrors.Errorf("failed to process message: %w", err)
	}
	return nil
}

// Unicast implements peer.Messaging
func (n *node) Unicast(dest string, msg types.Message) error {
	c, ok := n.peers.Load(dest)
	if !ok {
		return xerrors.Errorf("%s is not a peer", dest)
	}
	return n.SendMsg(c, msg)
}

// Broadcast implements peer.Messaging
func (n *node) Broadcast(msg types.Message, except string) {
	pkt, err := n.conf.MessageRegistry.MarshalMessage(msg)
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to marshal broadcast")
		return
	}
	n.peers.Range(func(addr string, c *conn) bool {
		if addr != except {
			c.out.Push(pkt.Copy())
			n.metrics.FrameSent(msg.Name())
		}
		return true
	})
}

// SendMsg queues a message for the connection.
func (n *node) SendMsg(c *conn, msg types.Message) error {
	pkt, err := n.conf.MessageRegistry.MarshalMessage(msg)
	if err != nil {
		return xerrors.Errorf("failed to marshal message: %v", err)
	}
	c.out.Push(pkt)
	n.metrics.FrameSent(msg.Name())
	n.logSync.Debug().Msgf("Queued %s for %s", msg, c.addr)
	return nil
}

// Writer sends the queued frames of a connection in order. Failed sends to
// dialed peers are retried with backoff, and a successful retry is
// followed by a new handshake because frames may have been lost in
// between. Inbound peers that cannot be reached are dropped.
func (n *node) Writer(c *conn) {
	defer n.writers.Done()

	for {
		pkt, err := c.out.Pop(0)
		if err != nil {
			return
		}

		recovered, err := n.sendWithRetry(c, pkt)
		if err != nil {
			if n.ctx.Err() == nil {
				n.log.Warn().Err(err).Msgf("Dropping peer %s", c.addr)
				n.removePeer(c.addr, c)
			}
			return
		}
		if recovered {
			n.log.Info().Msgf("Reconnected to %s", c.addr)
			n.resync(c)
		}
	}
}

func (n *node) sendWithRetry(c *conn, pkt transport.Packet) (bool, error) {
	failed := false
	op := func() (struct{}, error) {
		err := n.conf.Socket.Send(c.addr, pkt, n.conf.SendTimeout)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, transport.ErrClosed) || !c.dialed {
			return struct{}{}, backoff.Permanent(err)
		}
		failed = true
		return struct{}{}, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(newBackoff(n.conf.Backoff)),
		backoff.WithNotify(func(err error, next time.Duration) {
			n.log.Debug().Err(err).Msgf("Send to %s failed, retrying in %s", c.addr, next)
		}),
	}
	if n.conf.Backoff.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(n.conf.Backoff.MaxElapsed))
	}

	_, err := backoff.Retry(n.ctx, op, opts...)
	return failed && err == nil, err
}

// resync restarts the handshake with a connection.
func (n *node) resync(c *conn) {
	n.mu.Lock()
	c.session.Reset()
	step1 := c.session.Start(n.doc)
	n.mu.Unlock()

	err := n.SendMsg(c, step1)
	if err != nil {
		n.log.Error().Err(err).Msgf("Failed to queue sync step 1 for %s", c.addr)
	}
}

type noMetrics struct{}

func (noMetrics) FrameReceived(string) {}
func (noMetrics) FrameSent(string)     {}
func (noMetrics) PeerConnected()       {}
func (noMetrics) PeerDisconnected()    {}
func (noMetrics) UpdateApplied(int)    {}
