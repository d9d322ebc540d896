package nip19

import (
	"testing"

	"fiatjaf.com/nostrpool"
	"github.com/stretchr/testify/require"
)

func TestDecodeKeys(t *testing.T) {
	prefix, value, err := Decode("npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6")
	require.NoError(t, err)
	require.Equal(t, "npub", prefix)
	require.Equal(t, nostr.MustPubKeyFromHex("3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"), value)

	sk := nostr.GeneratePrivateKey()
	prefix, value, err = Decode(EncodeNsec(sk))
	require.NoError(t, err)
	require.Equal(t, "nsec", prefix)
	require.Equal(t, sk, value)

	id := nostr.MustIDFromHex("abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789")
	prefix, value, err = Decode(EncodeNote(id))
	require.NoError(t, err)
	require.Equal(t, "note", prefix)
	require.Equal(t, id, value)
}

func TestPointers(t *testing.T) {
	pk := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	relays := []string{"wss://one.example.com", "wss://two.example.com"}

	_, value, err := Decode(EncodeNprofile(pk, relays))
	require.NoError(t, err)
	require.Equal(t, ProfilePointer{PublicKey: pk, Relays: relays}, value)

	id := nostr.MustIDFromHex("abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789")
	_, value, err = Decode(EncodeNevent(id, relays[0:1], pk))
	require.NoError(t, err)
	require.Equal(t, EventPointer{ID: id, Relays: relays[0:1], Author: pk}, value)

	_, value, err = Decode(EncodeNevent(id, nil, nostr.ZeroPK))
	require.NoError(t, err)
	require.Equal(t, EventPointer{ID: id}, value)
}

func TestDecodeInvalid(t *testing.T) {
	_, _, err := Decode("npub1invalid")
	require.Error(t, err)

	_, _, err = Decode(EncodeNprofile(nostr.ZeroPK, nil))
	require.Error(t, err)
}
