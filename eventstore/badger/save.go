package badger

import (
	"errors"
	"fmt"

	"fiatjaf.com/nostrpool"
	"fiatjaf.com/nostrpool/eventstore"
	"github.com/dgraph-io/badger/v4"
	"github.com/mailru/easyjson"
)

func (b *BadgerBackend) Put(evt nostr.Event) error {
	return b.Update(func(txn *badger.Txn) error {
		// query event by id to ensure we don't save duplicates
		if _, err := txn.Get(rawKey(evt.ID)); err == nil {
			return eventstore.ErrDupEvent
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		j, err := easyjson.Marshal(evt)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", evt.ID, err)
		}
		if err := txn.Set(rawKey(evt.ID), j); err != nil {
			return err
		}
		return txn.Set(createdAtKey(evt), nil)
	})
}
