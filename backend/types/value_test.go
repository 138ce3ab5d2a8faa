package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Value_Normalize(t *testing.T) {
	v, err := Normalize(map[string]any{
		"int":   7,
		"float": float32(1.5),
		"list":  []any{uint8(1), "x"},
		"tags":  []string{"a"},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"int":   int64(7),
		"float": 1.5,
		"list":  []any{int64(1), "x"},
		"tags":  []any{"a"},
	}, v)

	_, err = Normalize(struct{}{})
	require.True(t, errors.Is(err, ErrUnsupportedValue))

	_, err = Normalize(uint64(1) << 63)
	require.True(t, errors.Is(err, ErrUnsupportedValue))
}

func Test_Value_Kinds(t *testing.T) {
	require.Equal(t, KindNull, KindOf(nil))
	require.Equal(t, KindUndefined, KindOf(Undefined{}))
	require.Equal(t, KindInt, KindOf(int64(1)))
	require.Equal(t, KindSequence, KindOf([]any{}))
	require.Equal(t, "map", KindOf(map[string]any{}).String())
}

func Test_Value_Equal(t *testing.T) {
	require.True(t, Equal(map[string]any{"a": []any{int64(1)}}, map[string]any{"a": []any{int64(1)}}))
	require.False(t, Equal(int64(1), 1.0))
	require.False(t, Equal(nil, Undefined{}))
	require.True(t, Equal([]byte{1}, []byte{1}))
}

func Test_Value_Messages(t *testing.T) {
	var msg Message = SyncStep1Message{StateVector: []byte{0}}
	require.Equal(t, "syncstep1", msg.Name())
	require.Equal(t, "syncstep1{1 bytes}", msg.String())
	require.IsType(t, &SyncStep2Message{}, SyncStep2Message{}.NewEmpty())
	require.Equal(t, "update", UpdateMessage{}.Name())
}

func Test_Value_DeltaString(t *testing.T) {
	d := Delta{{Retain: 1}, {Delete: 2}, {Insert: "e"}}
	require.Equal(t, "[retain:1 delete:2 insert:e]", d.String())
}
