package disrupted

import (
	"errors"
	"testing"
	"time"
	"ydoc-node/backend/transport"
	"ydoc-node/backend/transport/channel"

	"github.com/stretchr/testify/require"
)

// Test_Disrupted_CutAndHeal verifies that a cut link refuses sends and
// drops packets in flight, and that healing restores it.
func Test_Disrupted_CutAndHeal(t *testing.T) {
	tr := NewTransport(channel.NewTransport())
	a, err := tr.CreateSocket("a")
	require.NoError(t, err)
	b, err := tr.CreateSocket("b")
	require.NoError(t, err)

	require.NoError(t, a.Send("b", transport.Packet{Msg: []byte{1}}, 0))
	tr.Cut("a")

	err = a.Send("b", transport.Packet{Msg: []byte{2}}, 0)
	require.ErrorIs(t, err, transport.ErrUnreachable)

	_, err = b.Recv(20 * time.Millisecond)
	require.True(t, errors.Is(err, transport.TimeoutError(0)))

	tr.Heal("a")
	require.NoError(t, a.Send("b", transport.Packet{Msg: []byte{3}}, 0))
	pkt, err := b.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte{3}, pkt.Msg)
}

// Test_Disrupted_Watcher verifies that disconnect notifications of the
// wrapped socket are passed through.
func Test_Disrupted_Watcher(t *testing.T) {
	tr := NewTransport(channel.NewTransport())
	a, err := tr.CreateSocket("a")
	require.NoError(t, err)
	b, err := tr.CreateSocket("b")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	select {
	case addr := <-a.(transport.Watcher).Disconnected():
		require.Equal(t, "b", addr)
	case <-time.After(time.Second):
		t.Fatal("no disconnect notification")
	}
}
