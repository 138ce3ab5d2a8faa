package unit

import (
	"testing"
	"time"
	z "ydoc-node/backend/internal/testing"
	"ydoc-node/backend/protocol"
	"ydoc-node/backend/transport"
	"ydoc-node/backend/types"

	"github.com/stretchr/testify/require"
)

// countUpdates counts the Update frames among pkts sent to dest.
func countUpdates(t *testing.T, pkts []transport.Packet, dest string) int {
	n := 0
	for _, pkt := range pkts {
		if pkt.Header.Destination != dest {
			continue
		}
		msg, err := protocol.Decode(pkt.Msg)
		require.NoError(t, err)
		if _, ok := msg.(*types.UpdateMessage); ok {
			n++
		}
	}
	return n
}

// Test_Transactions_SingleCommit verifies that one local transaction is
// sent as one Update frame.
func Test_Transactions_SingleCommit(t *testing.T) {
	transp := channelFac()

	node := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer node.Stop()

	peer := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer peer.Stop()

	node.AddPeer(peer.GetAddr())
	waitSynced(t, node, peer.GetAddr())

	z.PushText(t, node, "text", "Hello, World!")

	require.Eventually(t, func() bool {
		return z.Text(t, peer, "text") == "Hello, World!"
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, countUpdates(t, node.GetOuts(), peer.GetAddr()))
}

// Test_Transactions_NoEcho verifies that an update is relayed to the other
// peers but never sent back to the replica it came from.
func Test_Transactions_NoEcho(t *testing.T) {
	transp := channelFac()

	hub := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer hub.Stop()

	node1 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer node1.Stop()

	node2 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer node2.Stop()

	node1.AddPeer(hub.GetAddr())
	node2.AddPeer(hub.GetAddr())
	waitSynced(t, node1, hub.GetAddr())
	waitSynced(t, node2, hub.GetAddr())

	z.PushText(t, node1, "text", "one")

	require.Eventually(t, func() bool {
		return z.Text(t, node2, "text") == "one"
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "one", z.Text(t, hub, "text"))

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, countUpdates(t, hub.GetOuts(), node2.GetAddr()))
	require.Equal(t, 0, countUpdates(t, hub.GetOuts(), node1.GetAddr()))
}

// Test_Transactions_EmptyCommit verifies that a transaction without
// changes sends nothing.
func Test_Transactions_EmptyCommit(t *testing.T) {
	transp := channelFac()

	node := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer node.Stop()

	peer := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer peer.Stop()

	node.AddPeer(peer.GetAddr())
	waitSynced(t, node, peer.GetAddr())

	z.PushText(t, node, "text", "")

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, countUpdates(t, node.GetOuts(), peer.GetAddr()))
}

// Test_Transactions_Unicast verifies that Unicast only reaches known peers.
func Test_Transactions_Unicast(t *testing.T) {
	transp := channelFac()

	node := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer node.Stop()

	peer := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer peer.Stop()

	err := node.Unicast(peer.GetAddr(), &types.UpdateMessage{Update: []byte{0, 0}})
	require.Error(t, err)

	node.AddPeer(peer.GetAddr())
	err = node.Unicast(peer.GetAddr(), &types.UpdateMessage{Update: []byte{0, 0}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return countUpdates(t, node.GetOuts(), peer.GetAddr()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
