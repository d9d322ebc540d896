package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/mailru/easyjson"
)

// Event is a signed nostr event, the only thing relays store and hand out.
type Event struct {
	ID        ID
	PubKey    PubKey
	CreatedAt Timestamp
	Kind      Kind
	Tags      Tags
	Content   string
	Sig       [64]byte
}

// GetID is the sha256 of the canonical serialization.
func (evt Event) GetID() ID { return sha256.Sum256(evt.Serialize()) }

// CheckID tells if evt.ID was computed from the event contents.
func (evt Event) CheckID() bool { return evt.GetID() == evt.ID }

func (evt Event) String() string {
	j, _ := easyjson.Marshal(evt)
	return string(j)
}

// Serialize outputs a byte array that can be hashed to produce the canonical event "id".
func (evt Event) Serialize() []byte {
	// the serialization process is just putting everything into a JSON array
	// so the order is kept. See NIP-01
	dst := make([]byte, 4+64, 100+len(evt.Content)+len(evt.Tags)*80)

	// [0,"pubkey",created_at,kind,[
	copy(dst, `[0,"`)
	hex.Encode(dst[4:4+64], evt.PubKey[:])
	dst = append(dst, `",`...)
	dst = strconv.AppendInt(dst, int64(evt.CreatedAt), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(evt.Kind), 10)
	dst = append(dst, ',')

	// tags
	dst = append(dst, '[')
	for i, tag := range evt.Tags {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '[')
		for i, s := range tag {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = escapeString(dst, s)
		}
		dst = append(dst, ']')
	}
	dst = append(dst, "],"...)

	// content needs to be escaped in general as it is user generated.
	dst = escapeString(dst, evt.Content)
	dst = append(dst, ']')

	return dst
}

// Size returns the length of the JSON representation of the event, used when checking limits.
func (evt Event) Size() int {
	j, _ := easyjson.Marshal(evt)
	return len(j)
}
