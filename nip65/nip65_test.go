package nip65

import (
	"testing"

	"fiatjaf.com/nostrpool"
	"github.com/stretchr/testify/require"
)

func TestParseRelayList(t *testing.T) {
	evt := nostr.Event{
		Kind: nostr.KindRelayListMetadata,
		Tags: nostr.Tags{
			{"r", "wss://both.example.com/"},
			{"r", "wss://read.example.com", "read"},
			{"r", "write.example.com", "write"},
			{"r", "wss://both.example.com"},
			{"r", "not a url"},
			{"r"},
			{"p", "wss://ignored.example.com"},
		},
	}

	read, write := ParseRelayList(evt)
	require.Equal(t, []string{"wss://both.example.com", "wss://read.example.com"}, read)
	require.Equal(t, []string{"wss://both.example.com", "wss://write.example.com"}, write)

	evt.Kind = nostr.KindFollowList
	read, write = ParseRelayList(evt)
	require.Empty(t, read)
	require.Empty(t, write)
}
