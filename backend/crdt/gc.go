package crdt

import (
	"ydoc-node/backend/types"
)

// CollectGarbage drops the content of deleted items, keeping only their
// length, and replaces the children of deleted nested types by gc ranges.
// It does nothing when the document was created with WithSkipGC.
func (d *Doc) CollectGarbage() error {
	if d.skipGC {
		return nil
	}
	if d.txn != nil {
		return types.ErrTransactionConflict
	}
	ds := deleteSetFromStore(d.store)
	collected := 0
	for client, ranges := range ds {
		for _, r := range ranges {
			structs := d.store.clients[client]
			end := r.Clock + r.Len
			for i := findIndex(structs, r.Clock); i >= 0 && i < len(structs); i++ {
				it, ok := structs[i].(*Item)
				if !ok {
					if structs[i].ID().Clock >= end {
						break
					}
					continue
				}
				if it.id.Clock >= end {
					break
				}
				if _, done := it.content.(*contentDeleted); it.deleted && !done {
					it.gc(d.store, false)
					collected++
				}
			}
		}
	}
	tryMergeDeleteSet(ds, d.store)
	d.log.Debug().Int("items", collected).Msg("garbage collected")
	return nil
}
