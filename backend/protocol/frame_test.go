package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"ydoc-node/backend/transport"
	"ydoc-node/backend/types"

	"github.com/stretchr/testify/require"
)

// Test_Frame_Layout verifies the byte layout of the three frame types.
func Test_Frame_Layout(t *testing.T) {
	frame, err := Encode(&types.SyncStep1Message{StateVector: []byte{0}})
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 1, 0}, frame)

	frame, err = Encode(types.SyncStep2Message{Update: []byte{0, 0}})
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 2, 0, 0}, frame)

	frame, err = Encode(&types.UpdateMessage{Update: make([]byte, 200)})
	require.NoError(t, err)
	require.Equal(t, []byte{0, 2, 0xc8, 0x01}, frame[:4])
	require.Len(t, frame, 204)

	msg, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, &types.UpdateMessage{Update: make([]byte, 200)}, msg)
}

// Test_Frame_Invalid verifies that broken frames are malformed and that
// other protocols are recognised as such.
func Test_Frame_Invalid(t *testing.T) {
	for _, frame := range [][]byte{
		{},
		{0},
		{0, 7, 0},
		{0, 2, 5, 1},
		{0, 2, 1, 1, 1},
	} {
		_, err := Decode(frame)
		require.ErrorIs(t, err, types.ErrMalformedUpdate, "%v", frame)
	}

	_, err := Decode([]byte{1, 1, 0})
	require.ErrorIs(t, err, ErrForeignFrame)
	require.False(t, errors.Is(err, types.ErrMalformedUpdate))
}

// Test_Reader_Stream verifies that a stream of frames is read in order,
// that foreign frames are skipped and that a cut frame is malformed.
func Test_Reader_Stream(t *testing.T) {
	var buf bytes.Buffer
	for _, m := range []types.Message{
		&types.SyncStep1Message{StateVector: []byte{0}},
		&types.UpdateMessage{Update: []byte{0, 0}},
	} {
		frame, err := Encode(m)
		require.NoError(t, err)
		buf.Write(frame)
		buf.Write([]byte{1, 2, 9, 9})
	}
	buf.Write([]byte{0, 1, 4, 0})

	r := NewReader(&buf)

	msg, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, &types.SyncStep1Message{StateVector: []byte{0}}, msg)

	msg, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, &types.UpdateMessage{Update: []byte{0, 0}}, msg)

	_, err = r.Next()
	require.ErrorIs(t, err, types.ErrMalformedUpdate)

	_, err = NewReader(bytes.NewReader(nil)).Next()
	require.ErrorIs(t, err, io.EOF)
}

// Test_Registry_Dispatch verifies that packets reach the callback of their
// message type.
func Test_Registry_Dispatch(t *testing.T) {
	r := NewRegistry()
	var got []types.Message
	r.RegisterMessageCallback(types.UpdateMessage{}, func(msg types.Message, pkt transport.Packet) error {
		got = append(got, msg)
		return nil
	})

	pkt, err := r.MarshalMessage(&types.UpdateMessage{Update: []byte{0, 0}})
	require.NoError(t, err)
	require.NoError(t, r.ProcessPacket(pkt))
	require.Equal(t, []types.Message{&types.UpdateMessage{Update: []byte{0, 0}}}, got)

	pkt, err = r.MarshalMessage(&types.SyncStep1Message{StateVector: []byte{0}})
	require.NoError(t, err)
	require.Error(t, r.ProcessPacket(pkt))

	require.ErrorIs(t, r.ProcessPacket(transport.Packet{Msg: []byte{0, 9, 0}}), types.ErrMalformedUpdate)
}
