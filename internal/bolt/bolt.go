// Package bolt stores package records in a local Bolt database. Bolt has no
// native expiry, so records carry their deadline, reads ignore stale records and
// Reap deletes them.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/uhthomas/parcel/pkg/parcel"
)

var (
	recordBucket = []byte("records")
	// keys are big endian deadline + token, so a cursor walks them in expiry order
	ttlBucket = []byte("ttl")
)

type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// New opens or creates the database at path.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{recordBucket, ttlBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func ttlKey(deadline []byte, key string) []byte {
	return append(append(make([]byte, 0, 8+len(key)), deadline...), key...)
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var deadline [8]byte
	binary.BigEndian.PutUint64(deadline[:], uint64(s.now().Add(ttl).UnixNano()))
	return s.db.Update(func(tx *bolt.Tx) error {
		records, index := tx.Bucket(recordBucket), tx.Bucket(ttlBucket)
		if old := records.Get([]byte(key)); len(old) >= 8 {
			if err := index.Delete(ttlKey(old[:8], key)); err != nil {
				return err
			}
		}
		v := append(append(make([]byte, 0, 8+len(value)), deadline[:]...), value...)
		if err := records.Put([]byte(key), v); err != nil {
			return err
		}
		return index.Put(ttlKey(deadline[:], key), nil)
	})
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	now := uint64(s.now().UnixNano())
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordBucket).Get([]byte(key))
		if len(v) < 8 || binary.BigEndian.Uint64(v[:8]) <= now {
			return parcel.ErrNotFound
		}
		value = string(v[8:])
		return nil
	})
	return value, err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordBucket)
		v := records.Get([]byte(key))
		if v == nil {
			return nil
		}
		if len(v) >= 8 {
			if err := tx.Bucket(ttlBucket).Delete(ttlKey(v[:8], key)); err != nil {
				return err
			}
		}
		return records.Delete([]byte(key))
	})
}

// Reap deletes every record whose deadline has passed and returns how many
// were removed.
func (s *Store) Reap(ctx context.Context) (int, error) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(s.now().UnixNano()))

	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		records, index := tx.Bucket(recordBucket), tx.Bucket(ttlBucket)

		// collect first, deleting under a live cursor skips keys
		var expired [][]byte
		c := index.Cursor()
		for k, _ := c.First(); k != nil && len(k) >= 8 && bytes.Compare(k[:8], b[:]) <= 0; k, _ = c.Next() {
			expired = append(expired, append([]byte(nil), k...))
		}
		for _, k := range expired {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := index.Delete(k); err != nil {
				return err
			}
			if err := records.Delete(k[8:]); err != nil {
				return err
			}
		}
		n = len(expired)
		return nil
	})
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
