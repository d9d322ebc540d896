package badger

import (
	"context"
	"errors"
	"fmt"

	"fiatjaf.com/nostrpool"
	"github.com/dgraph-io/badger/v4"
	"github.com/mailru/easyjson"
)

func (b *BadgerBackend) Get(id nostr.ID) (evt nostr.Event, found bool, err error) {
	err = b.View(func(txn *badger.Txn) error {
		item, err := txn.Get(rawKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return easyjson.Unmarshal(val, &evt)
		})
	})
	return evt, found, err
}

func (b *BadgerBackend) Scan(ctx context.Context, yield func(nostr.Event) bool) error {
	return b.View(func(txn *badger.Txn) error {
		// iterate only through index keys and in reverse order
		it := txn.NewIterator(badger.IteratorOptions{
			Reverse:        true,
			PrefetchValues: false,
			Prefix:         []byte{indexCreatedAtPrefix},
		})
		defer it.Close()

		for it.Seek([]byte{indexCreatedAtPrefix, 0xff}); it.ValidForPrefix([]byte{indexCreatedAtPrefix}); it.Next() {
			if err := ctx.Err(); err != nil {
				return context.Cause(ctx)
			}

			key := it.Item().Key()
			var id nostr.ID
			copy(id[:], key[9:])

			item, err := txn.Get(rawKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				b.Logger.Warn().Str("event", id.Hex()).Msg("index entry without event")
				continue
			} else if err != nil {
				return err
			}

			var evt nostr.Event
			if err := item.Value(func(val []byte) error { return easyjson.Unmarshal(val, &evt) }); err != nil {
				return fmt.Errorf("failed to decode event %s: %w", id, err)
			}
			if !yield(evt) {
				return nil
			}
		}
		return nil
	})
}
