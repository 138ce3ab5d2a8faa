package impl

import (
	"ydoc-node/backend/protocol"
	"ydoc-node/backend/transport"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// SyncStep1MessageCallback answers the state vector of a peer with the
// diff it is missing. A SyncStep1 from an unknown address opens an inbound
// connection, which gets our own SyncStep1 first.
func (n *node) SyncStep1MessageCallback(msg types.Message, pkt transport.Packet) error {
	step1, ok := msg.(*types.SyncStep1Message)
	if !ok {
		return xerrors.Errorf("message is not a SyncStep1Message")
	}
	src := pkt.Header.Source
	n.metrics.FrameReceived(msg.Name())
	n.logSync.Debug().Msgf("Received %s from %s", step1, src)

	c, added := n.addPeer(src, false)

	n.mu.Lock()
	var own types.Message
	if added {
		own = c.session.Start(n.doc)
	}
	reply, err := c.session.Handle(n.doc, step1, src)
	n.mu.Unlock()
	if err != nil {
		return xerrors.Errorf("failed to answer %s: %w", src, err)
	}

	if own != nil {
		err = n.SendMsg(c, own)
		if err != nil {
			return err
		}
	}
	return n.SendMsg(c, reply)
}

// SyncStep2MessageCallback applies the diff a peer sent in reply to our
// SyncStep1, which completes the handshake.
func (n *node) SyncStep2MessageCallback(msg types.Message, pkt transport.Packet) error {
	step2, ok := msg.(*types.SyncStep2Message)
	if !ok {
		return xerrors.Errorf("message is not a SyncStep2Message")
	}
	n.metrics.FrameReceived(msg.Name())
	n.logSync.Debug().Msgf("Received %s from %s", step2, pkt.Header.Source)

	err := n.apply(step2, pkt.Header.Source, len(step2.Update))
	if err != nil {
		return err
	}
	if n.Synced(pkt.Header.Source) {
		n.log.Info().Msgf("Synced with %s", pkt.Header.Source)
	}
	return nil
}

// UpdateMessageCallback applies an incremental update. The document
// observer forwards it to every other peer.
func (n *node) UpdateMessageCallback(msg types.Message, pkt transport.Packet) error {
	update, ok := msg.(*types.UpdateMessage)
	if !ok {
		return xerrors.Errorf("message is not an UpdateMessage")
	}
	n.metrics.FrameReceived(msg.Name())
	n.logSync.Debug().Msgf("Received %s from %s", update, pkt.Header.Source)

	return n.apply(update, pkt.Header.Source, len(update.Update))
}

func (n *node) apply(msg types.Message, src string, size int) error {
	session := protocol.NewSession()
	if c, ok := n.peers.Load(src); ok {
		session = c.session
	}

	n.mu.Lock()
	_, err := session.Handle(n.doc, msg, src)
	pending := n.doc.PendingCount()
	n.mu.Unlock()
	if err != nil {
		return xerrors.Errorf("failed to apply %s from %s: %w", msg.Name(), src, err)
	}

	n.metrics.UpdateApplied(size)
	if pending > 0 {
		n.logSync.Debug().Msgf("%d blocks wait for missing updates", pending)
	}
	return nil
}
