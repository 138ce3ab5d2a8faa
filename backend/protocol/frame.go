// Package protocol implements the sync protocol spoken between replicas:
// frame encoding, message dispatch and the SyncStep1/SyncStep2 handshake.
//
// A frame is [tag][type][varuint length][payload]. Frames whose tag is not
// SyncTag belong to other protocols sharing the connection (awareness,
// auth) and are skipped.
package protocol

import (
	"ydoc-node/backend/encoding"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// SyncTag is the first byte of every sync frame.
const SyncTag byte = 0

// Message types of sync frames.
const (
	TypeSyncStep1 byte = 0
	TypeSyncStep2 byte = 1
	TypeUpdate    byte = 2
)

// ErrForeignFrame is returned when decoding a frame of another protocol.
var ErrForeignFrame = xerrors.New("not a sync frame")

// Encode frames msg.
func Encode(msg types.Message) ([]byte, error) {
	var kind byte
	var payload []byte

	switch m := msg.(type) {
	case *types.SyncStep1Message:
		kind, payload = TypeSyncStep1, m.StateVector
	case types.SyncStep1Message:
		kind, payload = TypeSyncStep1, m.StateVector
	case *types.SyncStep2Message:
		kind, payload = TypeSyncStep2, m.Update
	case types.SyncStep2Message:
		kind, payload = TypeSyncStep2, m.Update
	case *types.UpdateMessage:
		kind, payload = TypeUpdate, m.Update
	case types.UpdateMessage:
		kind, payload = TypeUpdate, m.Update
	default:
		return nil, xerrors.Errorf("no frame type for %T", msg)
	}

	enc := encoding.NewEncoder()
	enc.WriteUint8(SyncTag)
	enc.WriteUint8(kind)
	enc.WriteVarBytes(payload)
	return enc.Bytes(), nil
}

// Decode parses a single frame. Frames of other protocols fail with
// ErrForeignFrame, anything unreadable with types.ErrMalformedUpdate.
func Decode(frame []byte) (types.Message, error) {
	dec := encoding.NewDecoder(frame)
	tag, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	if tag != SyncTag {
		return nil, xerrors.Errorf("tag %d: %w", tag, ErrForeignFrame)
	}
	kind, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	payload, err := dec.ReadVarBytes()
	if err != nil {
		return nil, err
	}
	if dec.HasContent() {
		return nil, xerrors.Errorf("%d trailing bytes after frame: %w", len(dec.Remaining()), types.ErrMalformedUpdate)
	}
	return newMessage(kind, payload)
}

func newMessage(kind byte, payload []byte) (types.Message, error) {
	switch kind {
	case TypeSyncStep1:
		return &types.SyncStep1Message{StateVector: payload}, nil
	case TypeSyncStep2:
		return &types.SyncStep2Message{Update: payload}, nil
	case TypeUpdate:
		return &types.UpdateMessage{Update: payload}, nil
	}
	return nil, xerrors.Errorf("unknown message type %d: %w", kind, types.ErrMalformedUpdate)
}
