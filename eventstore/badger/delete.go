package badger

import (
	"errors"

	"fiatjaf.com/nostrpool"
	"github.com/dgraph-io/badger/v4"
	"github.com/mailru/easyjson"
)

func (b *BadgerBackend) Remove(id nostr.ID) error {
	return b.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(rawKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			// we don't have this event
			return nil
		} else if err != nil {
			return err
		}

		var evt nostr.Event
		if err := item.Value(func(val []byte) error { return easyjson.Unmarshal(val, &evt) }); err != nil {
			return err
		}
		if err := txn.Delete(createdAtKey(evt)); err != nil {
			return err
		}
		return txn.Delete(rawKey(id))
	})
}

func (b *BadgerBackend) RemoveAll() error {
	return b.DropAll()
}
