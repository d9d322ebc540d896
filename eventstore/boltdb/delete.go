package boltdb

import (
	"fiatjaf.com/nostrpool"
	"github.com/mailru/easyjson"
	"go.etcd.io/bbolt"
)

func (b *BoltBackend) Remove(id nostr.ID) error {
	return b.DB.Update(func(txn *bbolt.Tx) error {
		rawBucket := txn.Bucket(rawEventStore)
		raw := rawBucket.Get(id[:])
		if raw == nil {
			// we don't have this event
			return nil
		}

		var evt nostr.Event
		if err := easyjson.Unmarshal(raw, &evt); err != nil {
			return err
		}
		if err := txn.Bucket(indexCreatedAt).Delete(createdAtKey(evt)); err != nil {
			return err
		}
		return rawBucket.Delete(id[:])
	})
}

func (b *BoltBackend) RemoveAll() error {
	return b.DB.Update(func(txn *bbolt.Tx) error {
		for _, name := range [][]byte{rawEventStore, indexCreatedAt} {
			if err := txn.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
		}
		return createBuckets(txn)
	})
}
