package nostr

import (
	"encoding/binary"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// refusedURL points to a port nobody listens on anymore.
func refusedURL(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(nil)
	url := NormalizeURL(server.URL)
	server.Close()
	return url
}

func TestPoolOneRelayDown(t *testing.T) {
	sk, _ := makeKeyPair(t)
	a := newFakeRelay(t)
	b := refusedURL(t)

	pool := NewPool(PoolOptions{})
	defer pool.Shutdown()

	added, err := pool.AddRelay(a.URL, CapRead|CapWrite)
	require.NoError(t, err)
	require.True(t, added)
	added, err = pool.AddRelay(b, CapRead|CapWrite)
	require.NoError(t, err)
	require.True(t, added)

	out, err := pool.Connect(t.Context(), time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{a.URL}, out.SuccessList())
	require.Equal(t, []string{b}, out.FailedList())

	note := makeEvent(t, sk, KindTextNote, Now(), "hello")
	sent, err := pool.SendEvent(t.Context(), note, SendOptions{Timeout: time.Second})
	require.NoError(t, err)
	require.Equal(t, note.ID, sent.Val)
	require.True(t, sent.Succeeded(a.URL))
	require.Contains(t, sent.Failed, b)
	require.Len(t, a.Events(), 1)

	for url := range sent.Success {
		require.NotContains(t, sent.Failed, url)
	}

	fetched, err := pool.FetchEvents(t.Context(), []Filter{{Kinds: []Kind{KindTextNote}}}, time.Second)
	require.NoError(t, err)
	require.Len(t, fetched.Val, 1)
	require.Equal(t, note.ID, fetched.Val[0].ID)
	require.Equal(t, []string{a.URL}, fetched.SuccessList())
}

func TestPoolFetchDeduplicates(t *testing.T) {
	sk, _ := makeKeyPair(t)
	shared := makeEvent(t, sk, KindTextNote, 3000, "shared")
	onlyA := makeEvent(t, sk, KindTextNote, 1000, "a")
	onlyB := makeEvent(t, sk, KindTextNote, 2000, "b")

	a := newFakeRelay(t, shared, onlyA)
	b := newFakeRelay(t, shared, onlyB)

	pool := NewPool(PoolOptions{})
	defer pool.Shutdown()
	pool.AddRelay(a.URL, CapRead)
	pool.AddRelay(b.URL, CapRead)
	_, err := pool.Connect(t.Context(), time.Second)
	require.NoError(t, err)

	out, err := pool.FetchEvents(t.Context(), []Filter{{Kinds: []Kind{KindTextNote}}}, time.Second)
	require.NoError(t, err)
	require.Len(t, out.Val, 3)
	require.Equal(t, []ID{shared.ID, onlyB.ID, onlyA.ID}, []ID{out.Val[0].ID, out.Val[1].ID, out.Val[2].ID})

	require.ElementsMatch(t, []string{a.URL, b.URL}, pool.SeenOn(shared.ID))
	require.Equal(t, []string{a.URL}, pool.SeenOn(onlyA.ID))

	count, err := pool.CountFrom(t.Context(), []string{a.URL, b.URL}, []Filter{{Kinds: []Kind{KindTextNote}}})
	require.NoError(t, err)
	require.Equal(t, uint32(2), count.Val)

	var streamed []ID
	events, err := pool.StreamEventsFrom(t.Context(), []string{a.URL, b.URL}, []Filter{{Kinds: []Kind{KindTextNote}}})
	require.NoError(t, err)
	for ie := range events {
		streamed = append(streamed, ie.ID)
	}
	require.ElementsMatch(t, []ID{shared.ID, onlyA.ID, onlyB.ID}, streamed)
}

func TestPoolSubscriptionNotifications(t *testing.T) {
	sk, _ := makeKeyPair(t)
	shared := makeEvent(t, sk, KindTextNote, 3000, "shared")
	a := newFakeRelay(t, shared)
	b := newFakeRelay(t, shared)

	pool := NewPool(PoolOptions{})
	defer pool.Shutdown()

	notifications := pool.Notifications(t.Context())

	pool.AddRelay(a.URL, CapRead)
	pool.AddRelay(b.URL, CapRead)
	_, err := pool.Connect(t.Context(), time.Second)
	require.NoError(t, err)

	out, err := pool.Subscribe(t.Context(), []Filter{{Kinds: []Kind{KindTextNote}}}, SubscribeOptions{Label: "live"})
	require.NoError(t, err)
	require.Len(t, out.SuccessList(), 2)
	subID := out.Val

	var events, eoses int
	connected := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for eoses < 2 {
		select {
		case n := <-notifications:
			switch n := n.(type) {
			case EventNotification:
				require.Equal(t, shared.ID, n.Event.ID)
				require.Equal(t, subID, n.SubscriptionID)
				events++
			case MessageNotification:
				if _, ok := n.Message.(*EOSEEnvelope); ok {
					eoses++
				}
			case RelayStatusNotification:
				if n.New == StatusConnected {
					connected[n.Relay] = true
				}
			}
		case <-timeout:
			t.Fatal("timed out waiting for notifications")
		}
	}

	// the same event from two relays is only announced once
	require.Equal(t, 1, events)
	require.Equal(t, map[string]bool{a.URL: true, b.URL: true}, connected)

	for _, relay := range pool.Relays() {
		_, ok := relay.Subscriptions.Load(subID)
		require.True(t, ok)
	}
	require.NoError(t, pool.Unsubscribe(t.Context(), subID))
	for _, relay := range pool.Relays() {
		_, ok := relay.Subscriptions.Load(subID)
		require.False(t, ok)
	}
}

func TestPoolShutdown(t *testing.T) {
	a := newFakeRelay(t)

	pool := NewPool(PoolOptions{})
	notifications := pool.Notifications(t.Context())

	pool.AddRelay(a.URL, CapRead|CapWrite)
	require.NoError(t, pool.ConnectRelay(t.Context(), a.URL, time.Second))
	relay, err := pool.Relay(a.URL)
	require.NoError(t, err)

	pool.Shutdown()
	pool.Shutdown()
	require.True(t, pool.IsShutdown())

	shutdowns := 0
	for n := range notifications {
		if _, ok := n.(ShutdownNotification); ok {
			shutdowns++
		}
	}
	require.Equal(t, 1, shutdowns)

	require.False(t, relay.IsConnected())
	require.ErrorIs(t, relay.Connect(t.Context()), ErrShutdown)

	_, err = pool.AddRelay(a.URL, CapRead)
	require.ErrorIs(t, err, ErrShutdown)
	_, err = pool.Relay(a.URL)
	require.ErrorIs(t, err, ErrShutdown)
	_, err = pool.SendEventTo(t.Context(), []string{a.URL}, Event{}, SendOptions{})
	require.ErrorIs(t, err, ErrShutdown)
	_, err = pool.Sync(t.Context(), Filter{}, SyncOptions{DryRun: true})
	require.ErrorIs(t, err, ErrShutdown)
	require.ErrorIs(t, pool.Disconnect(), ErrShutdown)

	// listeners that come late get a closed channel
	_, open := <-pool.Notifications(t.Context())
	require.False(t, open)
}

func TestPoolRelayManagement(t *testing.T) {
	pool := NewPool(PoolOptions{})
	defer pool.Shutdown()

	_, err := pool.AddRelay("not a url at all", CapRead)
	require.Error(t, err)

	added, err := pool.AddRelay("wss://one.example.com/", CapRead)
	require.NoError(t, err)
	require.True(t, added)
	added, err = pool.AddRelay("WSS://one.example.com", CapWrite)
	require.NoError(t, err)
	require.False(t, added)
	pool.AddRelay("wss://two.example.com", CapWrite|CapGossip)

	relay, err := pool.Relay("wss://one.example.com")
	require.NoError(t, err)
	require.Equal(t, CapRead|CapWrite, relay.Capabilities())

	require.Equal(t, []string{"wss://one.example.com", "wss://two.example.com"}, pool.RelaysWith(CapWrite))
	require.Equal(t, []string{"wss://one.example.com"}, pool.RelaysWith(CapRead))

	_, err = pool.Relay("wss://three.example.com")
	require.ErrorIs(t, err, ErrRelayNotFound)

	// still needed for gossip, only loses read and write
	require.NoError(t, pool.RemoveRelay(t.Context(), "wss://two.example.com"))
	two, err := pool.Relay("wss://two.example.com")
	require.NoError(t, err)
	require.Equal(t, CapGossip, two.Capabilities())
	require.Equal(t, []string{"wss://one.example.com"}, pool.RelaysWith(CapWrite|CapRead))

	require.NoError(t, pool.ForceRemoveRelay(t.Context(), "wss://two.example.com"))
	_, err = pool.Relay("wss://two.example.com")
	require.ErrorIs(t, err, ErrRelayNotFound)

	require.NoError(t, pool.BanRelay("wss://one.example.com"))
	require.Equal(t, StatusBanned, relay.Status())
	out, err := pool.ConnectTo(t.Context(), []string{"wss://one.example.com"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, ErrBanned.Error(), out.Failed["wss://one.example.com"])

	require.NoError(t, pool.RemoveAllRelays(t.Context(), true))
	require.Empty(t, pool.Relays())

	_, err = pool.SendEvent(t.Context(), Event{}, SendOptions{})
	require.ErrorIs(t, err, ErrNoRelays)
}

func TestPoolSharedFiltering(t *testing.T) {
	sk1, pk1 := makeKeyPair(t)
	sk2, _ := makeKeyPair(t)
	fromMuted := makeEvent(t, sk1, KindTextNote, 1000, "muted")
	fromOther := makeEvent(t, sk2, KindTextNote, 1001, "fine")
	a := newFakeRelay(t, fromMuted, fromOther)

	pool := NewPool(PoolOptions{})
	defer pool.Shutdown()
	pool.Blacklist.AddPublicKeys(pk1)

	pool.AddRelay(a.URL, CapRead)
	_, err := pool.Connect(t.Context(), time.Second)
	require.NoError(t, err)

	out, err := pool.FetchEvents(t.Context(), []Filter{{}}, time.Second)
	require.NoError(t, err)
	require.Len(t, out.Val, 1)
	require.Equal(t, fromOther.ID, out.Val[0].ID)

	pool.Filtering.SetMode(FilteringWhitelist)
	out, err = pool.FetchEvents(t.Context(), []Filter{{}}, time.Second)
	require.NoError(t, err)
	require.Empty(t, out.Val)
}

func TestPoolReconnects(t *testing.T) {
	sk, _ := makeKeyPair(t)
	note := makeEvent(t, sk, KindTextNote, 3000, "still here")
	fr := newFakeRelay(t, note)

	pool := NewPool(PoolOptions{
		RelayOptions: RelayOptions{
			Reconnect:        true,
			ReconnectBackoff: 50 * time.Millisecond,
		},
	})
	defer pool.Shutdown()

	notifications := pool.Notifications(t.Context())

	pool.AddRelay(fr.URL, CapRead)
	_, err := pool.Connect(t.Context(), time.Second)
	require.NoError(t, err)

	out, err := pool.Subscribe(t.Context(), []Filter{{Kinds: []Kind{KindTextNote}}}, SubscribeOptions{Label: "reconnect"})
	require.NoError(t, err)
	require.Len(t, out.SuccessList(), 1)
	require.Eventually(t, func() bool { return fr.Received("REQ") == 1 }, time.Second, 10*time.Millisecond)

	fr.DropConnections()

	var statuses []RelayStatus
	timeout := time.After(3 * time.Second)
	for len(statuses) < 7 {
		select {
		case n := <-notifications:
			if n, ok := n.(RelayStatusNotification); ok {
				statuses = append(statuses, n.New)
			}
		case <-timeout:
			t.Fatalf("relay didn't reconnect, got %v", statuses)
		}
	}

	require.Equal(t, []RelayStatus{
		StatusPending, StatusConnecting, StatusConnected,
		StatusDisconnected, StatusPending, StatusConnecting, StatusConnected,
	}, statuses)

	// the open subscription is sent again on the new connection
	require.Eventually(t, func() bool { return fr.Received("REQ") == 2 }, time.Second, 10*time.Millisecond)
	require.Equal(t, 2, fr.Connections())

	relay, err := pool.Relay(fr.URL)
	require.NoError(t, err)
	sub, ok := relay.Subscriptions.Load(out.Val)
	require.True(t, ok)
	require.True(t, sub.IsLive())
}

func TestPoolSeenCacheFull(t *testing.T) {
	pool := NewPool(PoolOptions{SeenCacheSize: 2})
	defer pool.Shutdown()

	// once the cache is full most new ids are refused by its admission policy,
	// they must still count as seen right after
	for i := range 300 {
		var id ID
		binary.BigEndian.PutUint64(id[24:], uint64(i+1))

		require.True(t, pool.markSeen(id, "wss://a.example.com"), i)
		require.False(t, pool.markSeen(id, "wss://a.example.com"), i)
		require.Equal(t, []string{"wss://a.example.com"}, pool.SeenOn(id), i)

		require.False(t, pool.markSeen(id, "wss://b.example.com"), i)
		require.Equal(t, []string{"wss://a.example.com", "wss://b.example.com"}, pool.SeenOn(id), i)
	}
	require.LessOrEqual(t, pool.rejected.Size(), maxRejectedSeen)
}

func TestPoolDroppedNotifications(t *testing.T) {
	fr := newFakeRelay(t)
	pool := NewPool(PoolOptions{NotificationBufferSize: 1})
	defer pool.Shutdown()

	// nobody reads from this one
	notifications := pool.Notifications(t.Context())

	pool.AddRelay(fr.URL, CapRead)
	_, err := pool.Connect(t.Context(), time.Second)
	require.NoError(t, err)

	// pending, connecting and connected only fit one at a time
	require.GreaterOrEqual(t, pool.DroppedNotifications(), int64(2))
	n := <-notifications
	require.Equal(t, RelayStatusNotification{Relay: fr.URL, Old: StatusConnecting, New: StatusConnected}, n)
}
