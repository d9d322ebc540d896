package boltdb

import (
	"encoding/binary"

	"fiatjaf.com/nostrpool"
)

// index keys are created_at (8 bytes, big-endian) followed by the id, so byte order is time order.
func createdAtKey(evt nostr.Event) []byte {
	k := make([]byte, 8+32)
	binary.BigEndian.PutUint64(k[0:8], uint64(evt.CreatedAt))
	copy(k[8:], evt.ID[:])
	return k
}
