package impl

import (
	"sort"
	"ydoc-node/backend/protocol"
	"ydoc-node/backend/transport"

	"github.com/rs/xid"
)

// conn is the state kept per remote replica.
type conn struct {
	addr string
	id   xid.ID
	// dialed is set for peers added with AddPeer. Only those are
	// reconnected.
	dialed  bool
	session *protocol.Session
	out     *transport.Queue
}

func newConn(addr string, dialed bool) *conn {
	return &conn{
		addr:    addr,
		id:      xid.New(),
		dialed:  dialed,
		session: protocol.NewSession(),
		out:     transport.NewQueue(),
	}
}

// addPeer registers a connection and starts its writer. It returns the
// existing connection when addr is already known.
func (n *node) addPeer(addr string, dialed bool) (*conn, bool) {
	c, loaded := n.peers.LoadOrCompute(addr, func() *conn {
		return newConn(addr, dialed)
	})
	if loaded {
		return c, false
	}

	n.writers.Add(1)
	go n.Writer(c)
	n.metrics.PeerConnected()
	n.log.Info().Str("conn", c.id.String()).Msgf("Added peer %s (dialed: %t)", addr, dialed)
	return c, true
}

// removePeer forgets the connection and stops its writer. Frames still
// queued are dropped.
func (n *node) removePeer(addr string, c *conn) {
	removed := false
	n.peers.Compute(addr, func(old *conn, loaded bool) (*conn, bool) {
		removed = loaded && old == c
		return old, !loaded || old == c
	})
	c.out.Close()
	if removed {
		n.metrics.PeerDisconnected()
		n.log.Info().Str("conn", c.id.String()).Msgf("Removed peer %s", addr)
	}
}

// AddPeer implements peer.Messaging
func (n *node) AddPeer(addr ...string) {
	for _, a := range addr {
		if a == n.conf.Socket.GetAddress() {
			n.log.Info().Msg("Ignoring adding self as peer")
			continue
		}
		c, added := n.addPeer(a, true)
		if !added {
			n.log.Info().Msgf("Peer %s already known", a)
			continue
		}

		n.mu.Lock()
		step1 := c.session.Start(n.doc)
		n.mu.Unlock()
		err := n.SendMsg(c, step1)
		if err != nil {
			n.log.Error().Err(err).Msgf("Failed to queue sync step 1 for %s", a)
		}
	}
}

// GetPeers implements peer.Messaging
func (n *node) GetPeers() []string {
	var addrs []string
	n.peers.Range(func(addr string, _ *conn) bool {
		addrs = append(addrs, addr)
		return true
	})
	sort.Strings(addrs)
	return addrs
}
