package channel

import (
	"errors"
	"testing"
	"time"
	"ydoc-node/backend/transport"

	"github.com/stretchr/testify/require"
)

// Test_Channel_SendRecv verifies delivery, header filling and the in/out
// logs.
func Test_Channel_SendRecv(t *testing.T) {
	tr := NewTransport()
	a, err := tr.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	b, err := tr.CreateSocket("127.0.0.1:0")
	require.NoError(t, err)
	require.NotEqual(t, a.GetAddress(), b.GetAddress())

	err = a.Send(b.GetAddress(), transport.Packet{Msg: []byte{0, 2, 1, 7}}, time.Second)
	require.NoError(t, err)

	pkt, err := b.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 2, 1, 7}, pkt.Msg)
	require.Equal(t, a.GetAddress(), pkt.Header.Source)
	require.Equal(t, b.GetAddress(), pkt.Header.Destination)

	require.Len(t, a.GetOuts(), 1)
	require.Len(t, b.GetIns(), 1)
	require.Empty(t, a.GetIns())
}

// Test_Channel_AddressInUse verifies that an address can only be bound once.
func Test_Channel_AddressInUse(t *testing.T) {
	tr := NewTransport()
	_, err := tr.CreateSocket("node-a")
	require.NoError(t, err)
	_, err = tr.CreateSocket("node-a")
	require.Error(t, err)
}

// Test_Channel_Unreachable verifies that sending to an unknown or closed
// socket fails with ErrUnreachable, and that peers learn about the close.
func Test_Channel_Unreachable(t *testing.T) {
	tr := NewTransport()
	a, err := tr.CreateSocket("a")
	require.NoError(t, err)
	b, err := tr.CreateSocket("b")
	require.NoError(t, err)

	err = a.Send("nowhere", transport.Packet{}, 0)
	require.ErrorIs(t, err, transport.ErrUnreachable)

	require.NoError(t, b.Close())
	require.ErrorIs(t, b.Close(), transport.ErrClosed)

	err = a.Send("b", transport.Packet{}, 0)
	require.ErrorIs(t, err, transport.ErrUnreachable)

	select {
	case addr := <-a.(transport.Watcher).Disconnected():
		require.Equal(t, "b", addr)
	case <-time.After(time.Second):
		t.Fatal("no disconnect notification")
	}

	_, err = b.Recv(10 * time.Millisecond)
	require.ErrorIs(t, err, transport.ErrClosed)
}

// Test_Channel_RecvTimeout verifies that Recv returns a TimeoutError.
func Test_Channel_RecvTimeout(t *testing.T) {
	a, err := NewTransport().CreateSocket("a")
	require.NoError(t, err)
	_, err = a.Recv(10 * time.Millisecond)
	require.True(t, errors.Is(err, transport.TimeoutError(0)))
}
