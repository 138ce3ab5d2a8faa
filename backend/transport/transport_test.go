package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Test_Queue_FIFO verifies that packets are popped in push order.
func Test_Queue_FIFO(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		q.Push(Packet{Msg: []byte{byte(i)}})
	}
	for i := 0; i < 5; i++ {
		pkt, err := q.Pop(time.Second)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, pkt.Msg)
	}
}

// Test_Queue_Timeout verifies that an empty queue times out with a
// TimeoutError.
func Test_Queue_Timeout(t *testing.T) {
	q := NewQueue()
	_, err := q.Pop(10 * time.Millisecond)
	require.True(t, errors.Is(err, TimeoutError(0)))
}

// Test_Queue_Close verifies that closing wakes up a blocked Pop.
func Test_Queue_Close(t *testing.T) {
	q := NewQueue()
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(0)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("pop did not return")
	}
}

// Test_Packet_Copy verifies that a copy does not share its buffers.
func Test_Packet_Copy(t *testing.T) {
	h := NewHeader("a", "b")
	pkt := Packet{Header: &h, Msg: []byte{1, 2}}
	c := pkt.Copy()
	c.Msg[0] = 9
	c.Header.Source = "z"

	require.Equal(t, byte(1), pkt.Msg[0])
	require.Equal(t, "a", pkt.Header.Source)
	require.NotEmpty(t, h.PacketID)
}

// Test_Queue_Drop verifies that dropped packets are never popped and the
// others keep their order.
func Test_Queue_Drop(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 6; i++ {
		src := "a"
		if i%2 == 1 {
			src = "b"
		}
		q.Push(Packet{Header: &Header{Source: src}, Msg: []byte{byte(i)}})
	}

	n := q.Drop(func(pkt Packet) bool { return pkt.Header.Source == "b" })
	require.Equal(t, 3, n)

	for _, want := range []byte{0, 2, 4} {
		pkt, err := q.Pop(time.Second)
		require.NoError(t, err)
		require.Equal(t, []byte{want}, pkt.Msg)
	}
	_, err := q.Pop(10 * time.Millisecond)
	require.True(t, errors.Is(err, TimeoutError(0)))
}

// Test_History_Bounded verifies that a history only keeps the newest
// packets, oldest first.
func Test_History_Bounded(t *testing.T) {
	h := NewHistory(3)
	h.Add(Packet{Msg: []byte{0}})
	require.Len(t, h.Packets(), 1)

	for i := 1; i < 5; i++ {
		h.Add(Packet{Msg: []byte{byte(i)}})
	}

	pkts := h.Packets()
	require.Len(t, pkts, 3)
	for i, pkt := range pkts {
		require.Equal(t, []byte{byte(i + 2)}, pkt.Msg)
	}
}
