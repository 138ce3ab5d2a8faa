package impl

import (
	"context"
	"ydoc-node/backend/crdt"
	"ydoc-node/backend/types"

	"golang.org/x/xerrors"
)

// storeOrigin marks updates loaded from the store, which are neither
// persisted again nor broadcast.
type storeOrigin struct{}

// Update implements peer.Document
func (n *node) Update(fn func(doc *crdt.Doc) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn(n.doc)
}

// View implements peer.Document
func (n *node) View(fn func(doc *crdt.Doc) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn(n.doc)
}

// StateVector implements peer.Document
func (n *node) StateVector() crdt.StateVector {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.doc.StateVector()
}

// Snapshot implements peer.Document
func (n *node) Snapshot() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.doc.EncodeDiffSince(nil)
}

// Synced implements peer.Document
func (n *node) Synced(addr string) bool {
	c, ok := n.peers.Load(addr)
	return ok && c.session.Synced()
}

// WaitSynced implements peer.Document
func (n *node) WaitSynced(ctx context.Context, addr string) error {
	c, ok := n.peers.Load(addr)
	if !ok {
		return xerrors.Errorf("%s is not a peer", addr)
	}
	return c.session.Wait(ctx)
}

// onUpdate runs inside every commit that changed the document, with n.mu
// held. It persists the update and sends it to every peer but the one it
// came from.
func (n *node) onUpdate(update []byte, origin any) {
	if _, ok := origin.(storeOrigin); ok {
		return
	}
	n.persist(update)

	except, _ := origin.(string)
	n.Broadcast(&types.UpdateMessage{Update: update}, except)
}

func (n *node) persist(update []byte) {
	store := n.conf.Store
	if store == nil {
		return
	}
	err := store.Append(update)
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to persist update")
		return
	}
	if n.conf.CompactEvery <= 0 {
		return
	}

	count, err := store.Len()
	if err != nil || count < n.conf.CompactEvery {
		return
	}
	snapshot, err := n.doc.EncodeDiffSince(nil)
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to encode snapshot")
		return
	}
	err = store.Compact(snapshot)
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to compact store")
		return
	}
	n.log.Info().Msgf("Compacted %d updates into a %d bytes snapshot", count, len(snapshot))
}

// loadStore applies every persisted update as one merged update.
func (n *node) loadStore() error {
	if n.conf.Store == nil {
		return nil
	}
	updates, err := n.conf.Store.Load()
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	merged, err := crdt.MergeUpdates(updates...)
	if err != nil {
		return xerrors.Errorf("failed to merge %d updates: %w", len(updates), err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.doc.ApplyUpdateWithOrigin(merged, storeOrigin{})
	if err != nil {
		return err
	}
	n.log.Info().Msgf("Loaded %d persisted updates", len(updates))
	return nil
}
