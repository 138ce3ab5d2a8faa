// Package storage defines the persistence of a replica. A store keeps the
// encoded updates of a document in commit order, plus an optional
// snapshot that replaces every update appended before it.
package storage

// Store is an append-only log of encoded updates.
type Store interface {
	// Append adds an update at the end of the log.
	Append(update []byte) error

	// Load returns the snapshot, if any, followed by every update appended
	// since.
	Load() ([][]byte, error)

	// Compact replaces the whole log with snapshot.
	Compact(snapshot []byte) error

	// Len returns the number of updates appended since the last Compact.
	Len() (int, error)

	Close() error
}
