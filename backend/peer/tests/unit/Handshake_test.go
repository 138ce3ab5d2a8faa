package unit

import (
	"context"
	"testing"
	"time"
	"ydoc-node/backend/crdt"
	z "ydoc-node/backend/internal/testing"
	"ydoc-node/backend/protocol"
	"ydoc-node/backend/types"

	"github.com/stretchr/testify/require"
)

func waitSynced(t *testing.T, node z.TestNode, addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, node.WaitSynced(ctx, addr))
}

// Test_Handshake_FirstFrame verifies that adding a peer sends SyncStep1
// with the state vector before anything else.
func Test_Handshake_FirstFrame(t *testing.T) {
	transp := channelFac()

	node1 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0", z.WithClientID(1))
	defer node1.Stop()

	node2 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0", z.WithClientID(2))
	defer node2.Stop()

	z.PushText(t, node1, "text", "abc")
	node1.AddPeer(node2.GetAddr())
	waitSynced(t, node1, node2.GetAddr())

	outs := node1.GetOuts()
	require.NotEmpty(t, outs)
	msg, err := protocol.Decode(outs[0].Msg)
	require.NoError(t, err)
	require.Equal(t, &types.SyncStep1Message{StateVector: []byte{1, 1, 3}}, msg)
	require.Equal(t, node2.GetAddr(), outs[0].Header.Destination)
}

// Test_Handshake_Converges verifies that two replicas with diverging
// content converge, and that both report the other as synced.
func Test_Handshake_Converges(t *testing.T) {
	transp := channelFac()

	node1 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0", z.WithClientID(1))
	defer node1.Stop()

	node2 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0", z.WithClientID(2))
	defer node2.Stop()

	z.PushText(t, node1, "text", "left")
	z.PushText(t, node2, "text", "right")

	node1.AddPeer(node2.GetAddr())

	waitSynced(t, node1, node2.GetAddr())
	require.Eventually(t, func() bool {
		return node2.Synced(node1.GetAddr())
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, z.Text(t, node1, "text"), z.Text(t, node2, "text"))
	require.Equal(t, node1.StateVector(), node2.StateVector())
	require.Equal(t, []string{node2.GetAddr()}, node1.GetPeers())
	require.Equal(t, []string{node1.GetAddr()}, node2.GetPeers())
}

// Test_Handshake_IgnoresSelfAndDuplicates verifies AddPeer bookkeeping.
func Test_Handshake_IgnoresSelfAndDuplicates(t *testing.T) {
	transp := channelFac()

	node1 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer node1.Stop()

	node2 := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0")
	defer node2.Stop()

	node1.AddPeer(node1.GetAddr(), node2.GetAddr(), node2.GetAddr())
	require.Equal(t, []string{node2.GetAddr()}, node1.GetPeers())

	waitSynced(t, node1, node2.GetAddr())
	require.False(t, node1.Synced("127.0.0.1:1"))
	require.Error(t, node1.WaitSynced(context.Background(), "127.0.0.1:1"))
}

// Test_Handshake_InvalidOptions verifies that Start reports invalid
// document options.
func Test_Handshake_InvalidOptions(t *testing.T) {
	transp := channelFac()

	node := z.NewTestNode(t, peerFac, transp, "127.0.0.1:0",
		z.WithDocOptions(crdt.WithOffsetKind("utf-7")), z.WithAutostart(false))

	err := node.Start()
	require.ErrorIs(t, err, types.ErrConfig)
}
