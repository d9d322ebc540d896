package boltdb

import (
	"bytes"
	"context"
	"fmt"

	"fiatjaf.com/nostrpool"
	"github.com/mailru/easyjson"
	"go.etcd.io/bbolt"
)

const scanPageSize = 200

func (b *BoltBackend) Get(id nostr.ID) (evt nostr.Event, found bool, err error) {
	err = b.DB.View(func(txn *bbolt.Tx) error {
		raw := txn.Bucket(rawEventStore).Get(id[:])
		if raw == nil {
			return nil
		}
		found = true
		return easyjson.Unmarshal(raw, &evt)
	})
	return evt, found, err
}

// Scan reads pages of events in short transactions so the caller is free to write to the
// database while iterating.
func (b *BoltBackend) Scan(ctx context.Context, yield func(nostr.Event) bool) error {
	var lastKey []byte

	for {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}

		page := make([]nostr.Event, 0, scanPageSize)
		err := b.DB.View(func(txn *bbolt.Tx) error {
			rawBucket := txn.Bucket(rawEventStore)
			c := txn.Bucket(indexCreatedAt).Cursor()

			var k []byte
			if lastKey == nil {
				k, _ = c.Last()
			} else {
				k, _ = c.Seek(lastKey)
				if k != nil && bytes.Equal(k, lastKey) {
					k, _ = c.Prev()
				} else if k == nil {
					k, _ = c.Last()
				} else {
					// seek landed after the key, which was deleted in the meantime
					k, _ = c.Prev()
				}
			}

			for ; k != nil && len(page) < scanPageSize; k, _ = c.Prev() {
				lastKey = bytes.Clone(k)
				raw := rawBucket.Get(k[8:])
				if raw == nil {
					b.Logger.Warn().Hex("event", k[8:]).Msg("index entry without event")
					continue
				}
				var evt nostr.Event
				if err := easyjson.Unmarshal(raw, &evt); err != nil {
					return fmt.Errorf("failed to decode event %x: %w", k[8:], err)
				}
				page = append(page, evt)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, evt := range page {
			if !yield(evt) {
				return nil
			}
		}
		if len(page) < scanPageSize {
			return nil
		}
	}
}
