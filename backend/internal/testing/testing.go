// Package testing starts peers for tests. It is imported as z.
package testing

import (
	"time"
	"ydoc-node/backend/crdt"
	"ydoc-node/backend/peer"
	"ydoc-node/backend/protocol"
	"ydoc-node/backend/storage"
	"ydoc-node/backend/transport"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type configTemplate struct {
	docOptions   []crdt.Option
	store        storage.Store
	compactEvery int
	metrics      peer.Metrics
	backoff      peer.Backoff
	sendTimeout  time.Duration
	logLevel     zerolog.Level
	autoStart    bool
}

func newConfigTemplate() configTemplate {
	return configTemplate{
		backoff: peer.Backoff{
			Initial:    10 * time.Millisecond,
			Multiplier: 2,
			Max:        100 * time.Millisecond,
		},
		sendTimeout: time.Second,
		logLevel:    zerolog.WarnLevel,
		autoStart:   true,
	}
}

// Option changes the configuration of a test node.
type Option func(*configTemplate)

// WithDocOptions sets the options of the replica.
func WithDocOptions(opts ...crdt.Option) Option {
	return func(ct *configTemplate) {
		ct.docOptions = append(ct.docOptions, opts...)
	}
}

// WithClientID fixes the client id of the replica.
func WithClientID(id uint64) Option {
	return WithDocOptions(crdt.WithClientID(id))
}

func WithStore(store storage.Store, compactEvery int) Option {
	return func(ct *configTemplate) {
		ct.store = store
		ct.compactEvery = compactEvery
	}
}

func WithMetrics(m peer.Metrics) Option {
	return func(ct *configTemplate) {
		ct.metrics = m
	}
}

func WithBackoff(b peer.Backoff) Option {
	return func(ct *configTemplate) {
		ct.backoff = b
	}
}

func WithLogLevel(level zerolog.Level) Option {
	return func(ct *configTemplate) {
		ct.logLevel = level
	}
}

// WithAutostart controls whether NewTestNode starts the node.
func WithAutostart(start bool) Option {
	return func(ct *configTemplate) {
		ct.autoStart = start
	}
}

// TestNode is a peer together with the socket it owns.
type TestNode struct {
	peer.Peer
	socket transport.ClosableSocket
	config peer.Configuration
}

// NewTestNode creates a socket on addr and a peer using it. The socket is
// closed when the test ends.
func NewTestNode(t require.TestingT, f peer.Factory, trans transport.Transport,
	addr string, opts ...Option) TestNode {

	template := newConfigTemplate()
	for _, opt := range opts {
		opt(&template)
	}

	socket, err := trans.CreateSocket(addr)
	require.NoError(t, err)

	config := peer.Configuration{
		Socket:          socket,
		MessageRegistry: protocol.NewRegistry(),
		DocOptions:      template.docOptions,
		Store:           template.store,
		CompactEvery:    template.compactEvery,
		Metrics:         template.metrics,
		Backoff:         template.backoff,
		SendTimeout:     template.sendTimeout,
		LogLevel:        template.logLevel,
	}

	node := f(config)

	if template.autoStart {
		require.NoError(t, node.Start())
	}

	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() {
			_ = node.Stop()
			_ = socket.Close()
		})
	}

	return TestNode{
		Peer:   node,
		socket: socket,
		config: config,
	}
}

// GetAddr returns the address of the socket.
func (t TestNode) GetAddr() string {
	return t.socket.GetAddress()
}

// GetIns returns the packets received by the socket.
func (t TestNode) GetIns() []transport.Packet {
	return t.socket.GetIns()
}

// GetOuts returns the packets sent by the socket.
func (t TestNode) GetOuts() []transport.Packet {
	return t.socket.GetOuts()
}

// Close stops the node and closes its socket, as a crashing process would.
func (t TestNode) Close() error {
	err := t.Stop()
	if err != nil {
		return err
	}
	return t.socket.Close()
}

// GetConfig returns the configuration the node was created with.
func (t TestNode) GetConfig() peer.Configuration {
	return t.config
}

// Text returns the content of the root text name of the node.
func Text(t require.TestingT, node peer.Peer, name string) string {
	var out string
	err := node.View(func(doc *crdt.Doc) error {
		text, err := doc.GetText(name)
		if err != nil {
			return err
		}
		out = text.String()
		return nil
	})
	require.NoError(t, err)
	return out
}

// PushText appends s to the root text name of the node.
func PushText(t require.TestingT, node peer.Peer, name, s string) {
	err := node.Update(func(doc *crdt.Doc) error {
		text, err := doc.GetText(name)
		if err != nil {
			return err
		}
		return doc.Transact(func(txn *crdt.Transaction) error {
			return text.Push(txn, s, nil)
		})
	})
	require.NoError(t, err)
}
