package boltdb

import (
	"fmt"

	"fiatjaf.com/nostrpool"
	"fiatjaf.com/nostrpool/eventstore"
	"github.com/mailru/easyjson"
	"go.etcd.io/bbolt"
)

func (b *BoltBackend) Put(evt nostr.Event) error {
	return b.DB.Update(func(txn *bbolt.Tx) error {
		rawBucket := txn.Bucket(rawEventStore)

		// check if we already have this id
		if rawBucket.Get(evt.ID[:]) != nil {
			return eventstore.ErrDupEvent
		}

		j, err := easyjson.Marshal(evt)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", evt.ID, err)
		}
		if err := rawBucket.Put(evt.ID[:], j); err != nil {
			return err
		}
		return txn.Bucket(indexCreatedAt).Put(createdAtKey(evt), nil)
	})
}
