package unit

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
	"ydoc-node/backend/crdt"
	z "ydoc-node/backend/internal/testing"
	"ydoc-node/backend/protocol"
	"ydoc-node/backend/storage/bbolt"
	"ydoc-node/backend/transport"
	"ydoc-node/backend/types"

	"github.com/stretchr/testify/require"
)

// Test_Connections_MalformedInputDropsPeer verifies that a connection
// sending an undecodable update is closed and the document is untouched.
func Test_Connections_MalformedInputDropsPeer(t *testing.T) {
	transp := channelFac()

	node := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer node.Stop()
	z.PushText(t, node, "text", "safe")

	raw, err := transp.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	defer raw.Close()

	step1, err := protocol.Encode(&types.SyncStep1Message{StateVector: []byte{0}})
	require.NoError(t, err)
	require.NoError(t, raw.Send(node.GetAddr(), transport.Packet{Msg: step1}, time.Second))

	require.Eventually(t, func() bool {
		return len(node.GetPeers()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	bad, err := protocol.Encode(&types.UpdateMessage{Update: []byte{1, 2}})
	require.NoError(t, err)
	require.NoError(t, raw.Send(node.GetAddr(), transport.Packet{Msg: bad}, time.Second))

	require.Eventually(t, func() bool {
		return len(node.GetPeers()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "safe", z.Text(t, node, "text"))
}

// Test_Connections_MalformedInputClosesConnection verifies that the
// websocket of a client sending an undecodable update is closed, and that
// a valid update the client sent right behind it is never applied.
func Test_Connections_MalformedInputClosesConnection(t *testing.T) {
	transp := websocketFac()

	node := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer node.Stop()
	z.PushText(t, node, "text", "safe")

	raw, err := transp.CreateSocket("")
	require.NoError(t, err)
	defer raw.Close()

	step1, err := protocol.Encode(&types.SyncStep1Message{StateVector: []byte{0}})
	require.NoError(t, err)
	require.NoError(t, raw.Send(node.GetAddr(), transport.Packet{Msg: step1}, time.Second))

	require.Eventually(t, func() bool {
		return len(node.GetPeers()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	other, err := crdt.NewDoc(crdt.WithClientID(99))
	require.NoError(t, err)
	text, err := other.GetText("text")
	require.NoError(t, err)
	require.NoError(t, other.Transact(func(txn *crdt.Transaction) error {
		return text.Push(txn, "after-close", nil)
	}))
	diff, err := other.EncodeDiffSince(nil)
	require.NoError(t, err)

	bad, err := protocol.Encode(&types.UpdateMessage{Update: []byte{1, 2}})
	require.NoError(t, err)
	good, err := protocol.Encode(&types.UpdateMessage{Update: diff})
	require.NoError(t, err)

	require.NoError(t, raw.Send(node.GetAddr(), transport.Packet{Msg: bad}, time.Second))
	// the connection may already be closed
	_ = raw.Send(node.GetAddr(), transport.Packet{Msg: good}, time.Second)

	select {
	case addr := <-raw.(transport.Watcher).Disconnected():
		require.Equal(t, node.GetAddr(), addr)
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}

	require.Eventually(t, func() bool {
		return len(node.GetPeers()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "safe", z.Text(t, node, "text"))
}

// Test_Connections_ForeignFramesIgnored verifies that frames of other
// protocols do not affect the connection.
func Test_Connections_ForeignFramesIgnored(t *testing.T) {
	transp := channelFac()

	node := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer node.Stop()

	raw, err := transp.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	defer raw.Close()

	step1, err := protocol.Encode(&types.SyncStep1Message{StateVector: []byte{0}})
	require.NoError(t, err)
	require.NoError(t, raw.Send(node.GetAddr(), transport.Packet{Msg: []byte{1, 1, 0}}, time.Second))
	require.NoError(t, raw.Send(node.GetAddr(), transport.Packet{Msg: step1}, time.Second))

	// own SyncStep1, then the SyncStep2 answer
	for i := 0; i < 2; i++ {
		pkt, err := raw.Recv(2 * time.Second)
		require.NoError(t, err)
		_, err = protocol.Decode(pkt.Msg)
		require.NoError(t, err)
	}
	require.Equal(t, []string{raw.GetAddress()}, node.GetPeers())
}

// Test_Connections_Reconnect verifies that a dialed peer that went away is
// resynced once a replica is back at its address.
func Test_Connections_Reconnect(t *testing.T) {
	transp := channelFac()

	node1 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0", z.WithClientID(1))
	defer node1.Stop()

	node2 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0", z.WithClientID(2))
	addr2 := node2.GetAddr()

	node1.AddPeer(addr2)
	waitSynced(t, node1, addr2)

	z.PushText(t, node1, "text", "before ")
	require.Eventually(t, func() bool {
		return z.Text(t, node2, "text") == "before "
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, node2.Close())
	z.PushText(t, node1, "text", "during")

	restarted := z.NewTestNode(t, peerFac, transp, addr2, z.WithClientID(3))
	defer restarted.Stop()

	require.Eventually(t, func() bool {
		return z.Text(t, restarted, "text") == "before during"
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return node1.Synced(addr2)
	}, 5*time.Second, 20*time.Millisecond)
}

// Test_Connections_Store verifies that a node persists its updates and
// loads them on the next start, compacting the log on the way.
func Test_Connections_Store(t *testing.T) {
	transp := channelFac()

	store, err := bbolt.Open(filepath.Join(t.TempDir(), "doc.db"))
	require.NoError(t, err)
	defer store.Close()

	node := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0", z.WithStore(store, 3))
	for _, s := range []string{"a", "b", "c", "d"} {
		z.PushText(t, node, "text", s)
	}
	require.NoError(t, node.Close())

	n, err := store.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	reloaded := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0", z.WithStore(store, 3))
	defer reloaded.Stop()
	require.Equal(t, "abcd", z.Text(t, reloaded, "text"))

	n, err = store.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

type fakeMetrics struct {
	sync.Mutex
	received map[string]int
	sent     map[string]int
	peers    int
	bytes    int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{received: map[string]int{}, sent: map[string]int{}}
}

func (m *fakeMetrics) FrameReceived(kind string) { m.Lock(); m.received[kind]++; m.Unlock() }
func (m *fakeMetrics) FrameSent(kind string)     { m.Lock(); m.sent[kind]++; m.Unlock() }
func (m *fakeMetrics) PeerConnected()            { m.Lock(); m.peers++; m.Unlock() }
func (m *fakeMetrics) PeerDisconnected()         { m.Lock(); m.peers--; m.Unlock() }
func (m *fakeMetrics) UpdateApplied(size int)    { m.Lock(); m.bytes += size; m.Unlock() }

// Test_Connections_Metrics verifies that traffic is reported.
func Test_Connections_Metrics(t *testing.T) {
	transp := channelFac()
	metrics := newFakeMetrics()

	node1 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0", z.WithMetrics(metrics))
	defer node1.Stop()

	node2 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer node2.Stop()

	node1.AddPeer(node2.GetAddr())
	waitSynced(t, node1, node2.GetAddr())

	metrics.Lock()
	require.Equal(t, 1, metrics.peers)
	require.Equal(t, 1, metrics.sent["syncstep1"])
	require.Equal(t, 1, metrics.received["syncstep2"])
	metrics.Unlock()

	require.NoError(t, node1.Stop())
	metrics.Lock()
	require.Equal(t, 0, metrics.peers)
	metrics.Unlock()
}
