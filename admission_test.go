package nostr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRelayStatus(t *testing.T) {
	for _, status := range []RelayStatus{StatusInitialized, StatusTerminated} {
		require.True(t, status.CanConnect(), status.String())
	}
	for _, status := range []RelayStatus{StatusPending, StatusConnecting, StatusConnected, StatusDisconnected, StatusBanned} {
		require.False(t, status.CanConnect(), status.String())
	}

	require.True(t, StatusDisconnected.IsDisconnected())
	require.True(t, StatusBanned.IsDisconnected())
	require.False(t, StatusConnected.IsDisconnected())
	require.True(t, StatusConnected.IsConnected())
	require.Equal(t, "unknown", RelayStatus(99).String())
}

func TestBanFromAnywhere(t *testing.T) {
	rl := NewRelay(t.Context(), "wss://nowhere.example.com", RelayOptions{})
	require.Equal(t, StatusInitialized, rl.Status())

	require.True(t, rl.setStatus(StatusPending))
	require.False(t, rl.compareAndSetStatus(StatusConnected, StatusDisconnected))
	require.Equal(t, StatusPending, rl.Status())

	rl.Ban()
	for _, status := range []RelayStatus{StatusInitialized, StatusConnecting, StatusConnected, StatusTerminated} {
		require.False(t, rl.setStatus(status))
		require.Equal(t, StatusBanned, rl.Status())
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Now()

	rl := NewRateLimiter(3)
	require.Equal(t, RateLimitAllowed, rl.Check(now))
	require.Equal(t, RateLimitAllowed, rl.Check(now))
	require.Equal(t, RateLimitLimited, rl.Check(now))
	require.Equal(t, RateLimitLimited, rl.Check(now.Add(time.Second)))

	// a full minute refills everything
	require.Equal(t, RateLimitAllowed, rl.Check(now.Add(time.Minute)))

	unlimited := NewRateLimiter(0)
	for range 1000 {
		require.Equal(t, RateLimitAllowed, unlimited.Check(now))
	}
}

func TestAuthChallenges(t *testing.T) {
	sk, pk := makeKeyPair(t)

	t.Run("at most once", func(t *testing.T) {
		session := NewAuthSession()
		challenge := session.GenerateChallenge()
		require.Equal(t, 1, session.OutstandingChallenges())

		evt := CreateUnsignedAuthEvent(challenge, pk, "wss://relay.example.com")
		require.NoError(t, evt.Sign(sk))

		require.NoError(t, session.CheckChallenge(evt))
		require.True(t, session.IsAuthenticated())
		authed, ok := session.PublicKey()
		require.True(t, ok)
		require.Equal(t, pk, authed)

		require.ErrorIs(t, session.CheckChallenge(evt), ErrChallengeNotFound)
		require.Zero(t, session.OutstandingChallenges())
	})

	t.Run("unknown challenge", func(t *testing.T) {
		session := NewAuthSession()
		session.GenerateChallenge()

		evt := CreateUnsignedAuthEvent("something else", pk, "wss://relay.example.com")
		require.NoError(t, evt.Sign(sk))
		require.ErrorIs(t, session.CheckChallenge(evt), ErrChallengeNotFound)
		require.False(t, session.IsAuthenticated())
	})

	t.Run("too old", func(t *testing.T) {
		session := NewAuthSession()
		challenge := session.GenerateChallenge()

		evt := CreateUnsignedAuthEvent(challenge, pk, "wss://relay.example.com")
		evt.CreatedAt = Now() - 200
		require.NoError(t, evt.Sign(sk))

		require.ErrorIs(t, session.CheckChallenge(evt), ErrChallengeTooOld)
		require.False(t, session.IsAuthenticated())
		// consumed anyway
		require.Zero(t, session.OutstandingChallenges())
	})

	t.Run("bad signature", func(t *testing.T) {
		session := NewAuthSession()
		challenge := session.GenerateChallenge()

		evt := CreateUnsignedAuthEvent(challenge, pk, "wss://relay.example.com")
		require.NoError(t, evt.Sign(sk))
		evt.Sig[0] ^= 0xff

		require.Error(t, session.CheckChallenge(evt))
		require.False(t, session.IsAuthenticated())
	})

	t.Run("too many outstanding", func(t *testing.T) {
		session := NewAuthSession()
		for range maxOutstandingChallenges + 5 {
			session.GenerateChallenge()
		}
		require.LessOrEqual(t, session.OutstandingChallenges(), maxOutstandingChallenges+1)
	})
}

func TestBlacklistAndFiltering(t *testing.T) {
	sk1, pk1 := makeKeyPair(t)
	sk2, pk2 := makeKeyPair(t)
	evt1 := makeEvent(t, sk1, KindTextNote, 1, "a")
	evt2 := makeEvent(t, sk2, KindTextNote, 2, "b")

	bl := NewBlacklist()
	require.False(t, bl.IsBlacklisted(evt1))
	bl.AddPublicKeys(pk1)
	require.True(t, bl.IsBlacklisted(evt1))
	bl.AddIDs(evt2.ID)
	require.True(t, bl.IsBlacklisted(evt2))
	bl.Clear()
	require.False(t, bl.IsBlacklisted(evt1))
	require.False(t, bl.IsBlacklisted(evt2))

	f := NewFiltering(FilteringBlacklist)
	f.AddIDs(evt1.ID)
	require.True(t, f.HasID(evt1.ID))
	require.False(t, f.CheckEvent(evt1))
	require.True(t, f.CheckEvent(evt2))

	f.SetMode(FilteringWhitelist)
	require.False(t, f.HasID(evt1.ID), "ids are ignored when whitelisting")
	require.False(t, f.CheckEvent(evt2))
	f.OverwritePublicKeys(pk2)
	require.True(t, f.HasPublicKey(pk2))
	require.False(t, f.HasPublicKey(pk1))
	require.True(t, f.CheckEvent(evt2))
	require.False(t, f.CheckEvent(evt1))
}

func TestAdmitFuncs(t *testing.T) {
	var policy AdmitFuncs
	require.True(t, admitConnection(t.Context(), policy, "wss://a.com").IsSuccess())
	require.True(t, admitAuth(t.Context(), policy, "wss://a.com").IsSuccess())
	require.True(t, admitEvent(t.Context(), nil, "wss://a.com", "sub", Event{}).IsSuccess())

	policy.Event = func(ctx context.Context, url string, subscriptionID string, evt Event) AdmitStatus {
		if evt.Kind == KindReaction {
			return AdmitRejected("no reactions")
		}
		return AdmitSuccess()
	}
	st := admitEvent(t.Context(), policy, "wss://a.com", "sub", Event{Kind: KindReaction})
	require.False(t, st.IsSuccess())
	require.Equal(t, "no reactions", st.Reason)
}

func TestRelayLimits(t *testing.T) {
	limits := DefaultRelayLimits()

	big := Event{Kind: KindTextNote, Content: string(make([]byte, 80_000))}
	require.ErrorIs(t, limits.checkEvent(big), ErrEventTooLarge)

	// follow lists are allowed to be bigger
	big.Kind = KindFollowList
	require.NoError(t, limits.checkEvent(big))

	tags := make(Tags, 201)
	for i := range tags {
		tags[i] = Tag{"r", "wss://relay.example.com"}
	}
	require.ErrorIs(t, limits.checkEvent(Event{Kind: KindRelayListMetadata, Tags: tags}), ErrTooManyTags)

	require.NoError(t, NoRelayLimits().checkEvent(Event{Tags: tags, Content: string(make([]byte, 1_000_000))}))
	require.ErrorIs(t, RelayLimits{MaxMessageSize: 10}.checkMessage(`["NOTICE","hello world"]`), ErrEventTooLarge)
}
