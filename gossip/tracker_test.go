package gossip

import (
	"context"
	"testing"

	"fiatjaf.com/nostrpool"
	"github.com/stretchr/testify/require"
)

func relayList(t *testing.T, sk [32]byte, createdAt nostr.Timestamp, tags nostr.Tags) nostr.Event {
	evt := nostr.Event{Kind: nostr.KindRelayListMetadata, CreatedAt: createdAt, Tags: tags}
	require.NoError(t, evt.Sign(sk))
	return evt
}

func TestTrackerMarksRelays(t *testing.T) {
	ctx := context.Background()
	pool := nostr.NewPool(nostr.PoolOptions{})
	defer pool.Shutdown()

	tracker := NewTracker(pool)
	sk := nostr.GeneratePrivateKey()
	pk := nostr.GetPublicKey(sk)

	require.NoError(t, tracker.Track(ctx, relayList(t, sk, 100, nostr.Tags{
		{"r", "wss://outbox.example.com", "write"},
		{"r", "wss://inbox.example.com", "read"},
	})))

	require.Equal(t, []string{"wss://inbox.example.com", "wss://outbox.example.com"}, pool.RelaysWith(nostr.CapGossip))
	require.Equal(t, []string{"wss://outbox.example.com"}, pool.RelaysWith(nostr.CapRead))
	require.Equal(t, []string{"wss://inbox.example.com"}, pool.RelaysWith(nostr.CapWrite))

	read, write := tracker.RelaysFor(pk)
	require.Equal(t, []string{"wss://inbox.example.com"}, read)
	require.Equal(t, []string{"wss://outbox.example.com"}, write)

	// an older list is ignored
	require.NoError(t, tracker.Track(ctx, relayList(t, sk, 50, nostr.Tags{{"r", "wss://old.example.com"}})))
	_, err := pool.Relay("wss://old.example.com")
	require.ErrorIs(t, err, nostr.ErrRelayNotFound)

	// wrong kind
	require.Error(t, tracker.Track(ctx, nostr.Event{Kind: 1}))
}

func TestGossipRelayRemoval(t *testing.T) {
	ctx := context.Background()
	pool := nostr.NewPool(nostr.PoolOptions{})
	defer pool.Shutdown()

	tracker := NewTracker(pool)
	sk := nostr.GeneratePrivateKey()
	require.NoError(t, tracker.Track(ctx, relayList(t, sk, 100, nostr.Tags{{"r", "wss://gossip.example.com"}})))

	// still needed, so it stays
	require.NoError(t, pool.RemoveRelay(ctx, "wss://gossip.example.com"))
	relay, err := pool.Relay("wss://gossip.example.com")
	require.NoError(t, err)
	require.True(t, relay.Capabilities().Has(nostr.CapGossip))
	require.False(t, relay.Capabilities().HasAny(nostr.CapReadWrite))

	// forcing always works
	require.NoError(t, pool.ForceRemoveRelay(ctx, "wss://gossip.example.com"))
	_, err = pool.Relay("wss://gossip.example.com")
	require.ErrorIs(t, err, nostr.ErrRelayNotFound)

	// once nobody needs it a normal removal works too
	require.NoError(t, tracker.Track(ctx, relayList(t, sk, 200, nostr.Tags{{"r", "wss://other.example.com"}})))
	require.True(t, mustRelay(t, pool, "wss://other.example.com").Capabilities().Has(nostr.CapGossip))
	tracker.Untrack(nostr.GetPublicKey(sk))
	require.False(t, mustRelay(t, pool, "wss://other.example.com").Capabilities().Has(nostr.CapGossip))
	require.NoError(t, pool.RemoveRelay(ctx, "wss://other.example.com"))
	require.Empty(t, pool.Relays())
}

func mustRelay(t *testing.T, pool *nostr.Pool, url string) *nostr.Relay {
	relay, err := pool.Relay(url)
	require.NoError(t, err)
	return relay
}
