package protocol

import (
	"bufio"
	"errors"
	"io"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// MaxFrameSize bounds the payload a Reader accepts.
const MaxFrameSize = 64 << 20

// Reader reads consecutive frames from a byte stream. A frame is returned
// only once it was read completely.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next sync message, skipping frames of other protocols.
// It returns io.EOF at a clean end of stream and types.ErrMalformedUpdate
// when the stream ends inside a frame.
func (r *Reader) Next() (types.Message, error) {
	for {
		tag, err := r.r.ReadByte()
		if err != nil {
			return nil, err
		}

		var kind byte
		if tag == SyncTag {
			kind, err = r.r.ReadByte()
			if err != nil {
				return nil, truncated(err)
			}
		}

		payload, err := r.readPayload()
		if err != nil {
			return nil, err
		}
		if tag != SyncTag {
			continue
		}
		return newMessage(kind, payload)
	}
}

func (r *Reader) readPayload() ([]byte, error) {
	var n uint64
	for shift := uint(0); ; shift += 7 {
		if shift > 63 {
			return nil, xerrors.Errorf("length overflows: %w", types.ErrMalformedUpdate)
		}
		b, err := r.r.ReadByte()
		if err != nil {
			return nil, truncated(err)
		}
		n |= uint64(b&0x7f) << shift
		if b < 0x80 {
			break
		}
	}
	if n > MaxFrameSize {
		return nil, xerrors.Errorf("frame of %d bytes exceeds %d: %w", n, MaxFrameSize, types.ErrMalformedUpdate)
	}

	payload := make([]byte, n)
	_, err := io.ReadFull(r.r, payload)
	if err != nil {
		return nil, truncated(err)
	}
	return payload, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return xerrors.Errorf("stream ends inside a frame: %w", types.ErrMalformedUpdate)
	}
	return err
}
