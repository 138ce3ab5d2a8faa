// Package bbolt stores the update log of a replica in a bbolt database.
package bbolt

import (
	"encoding/binary"
	"time"
	"ydoc-node/backend/storage"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var (
	bucketUpdates = []byte("updates")
	bucketMeta    = []byte("meta")
	keySnapshot   = []byte("snapshot")
)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("failed to open %s: %v", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketUpdates, bucketMeta} {
			_, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("failed to create buckets: %v", err)
	}

	return &Store{db: db}, nil
}

// Store keeps updates under big endian sequence numbers so a cursor walks
// them in append order.
//
// - implements storage.Store
type Store struct {
	db *bolt.DB
}

var _ storage.Store = (*Store)(nil)

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Append implements storage.Store.
func (s *Store) Append(update []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUpdates)
		seq, err := b.NextSequence()
		if err != nil {
			return xerrors.Errorf("failed to get sequence: %v", err)
		}
		return b.Put(itob(seq), update)
	})
}

// Load implements storage.Store.
func (s *Store) Load() ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if snap := tx.Bucket(bucketMeta).Get(keySnapshot); snap != nil {
			out = append(out, append([]byte(nil), snap...))
		}
		return tx.Bucket(bucketUpdates).ForEach(func(_, v []byte) error {
			out = append(out, append([]byte(nil), v...))
			return nil
		})
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to load updates: %v", err)
	}
	return out, nil
}

// Compact implements storage.Store.
func (s *Store) Compact(snapshot []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketMeta).Put(keySnapshot, snapshot)
		if err != nil {
			return err
		}
		err = tx.DeleteBucket(bucketUpdates)
		if err != nil {
			return err
		}
		_, err = tx.CreateBucket(bucketUpdates)
		return err
	})
}

// Len implements storage.Store.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketUpdates).Stats().KeyN
		return nil
	})
	return n, err
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
