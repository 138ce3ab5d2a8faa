package protocol

import (
	"context"
	"sync"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// Document is the part of a replica the handshake needs.
type Document interface {
	EncodeStateVector() []byte
	EncodeDiffSince(sv []byte) ([]byte, error)
	ApplyUpdateWithOrigin(update []byte, origin any) error
}

// Session tracks the handshake with one remote replica. The session is
// synced once it sent its SyncStep1 and received a SyncStep2.
type Session struct {
	mu        sync.Mutex
	sentStep1 bool
	gotStep2  bool
	synced    chan struct{}
}

func NewSession() *Session {
	return &Session{synced: make(chan struct{})}
}

// Start marks the session as started and returns the SyncStep1 carrying
// the state vector of doc.
func (s *Session) Start(doc Document) types.Message {
	msg := &types.SyncStep1Message{StateVector: doc.EncodeStateVector()}
	s.mu.Lock()
	s.sentStep1 = true
	s.check()
	s.mu.Unlock()
	return msg
}

// Handle applies msg to doc. A SyncStep1 yields the SyncStep2 to send back,
// every other message yields nil. Updates are applied with origin.
func (s *Session) Handle(doc Document, msg types.Message, origin any) (types.Message, error) {
	switch m := msg.(type) {
	case *types.SyncStep1Message:
		diff, err := doc.EncodeDiffSince(m.StateVector)
		if err != nil {
			return nil, xerrors.Errorf("failed to compute diff: %w", err)
		}
		return &types.SyncStep2Message{Update: diff}, nil

	case *types.SyncStep2Message:
		err := doc.ApplyUpdateWithOrigin(m.Update, origin)
		if err != nil {
			return nil, xerrors.Errorf("failed to apply sync step 2: %w", err)
		}
		s.mu.Lock()
		s.gotStep2 = true
		s.check()
		s.mu.Unlock()
		return nil, nil

	case *types.UpdateMessage:
		err := doc.ApplyUpdateWithOrigin(m.Update, origin)
		if err != nil {
			return nil, xerrors.Errorf("failed to apply update: %w", err)
		}
		return nil, nil
	}
	return nil, xerrors.Errorf("unexpected message %T", msg)
}

func (s *Session) check() {
	if s.sentStep1 && s.gotStep2 {
		select {
		case <-s.synced:
		default:
			close(s.synced)
		}
	}
}

// Synced reports whether the handshake completed.
func (s *Session) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentStep1 && s.gotStep2
}

// Wait blocks until the handshake completed or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	ch := s.synced
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset forgets the handshake, for a connection that has to run it again.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentStep1 = false
	s.gotStep2 = false
	s.synced = make(chan struct{})
}
