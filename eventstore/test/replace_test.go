package test

import (
	"testing"

	"fiatjaf.com/nostrpool"
	"github.com/stretchr/testify/require"
)

func replaceableTest(t *testing.T, db nostr.Database) {
	pk3 := nostr.GetPublicKey(sk3)

	profile1 := signed(t, sk3, nostr.Event{CreatedAt: 1000, Kind: 0, Content: `{"name":"one"}`})
	profile2 := signed(t, sk3, nostr.Event{CreatedAt: 2000, Kind: 0, Content: `{"name":"two"}`})
	profile0 := signed(t, sk3, nostr.Event{CreatedAt: 500, Kind: 0, Content: `{"name":"zero"}`})

	require.True(t, save(t, db, profile1).Success)
	require.True(t, save(t, db, profile2).Success)

	st := save(t, db, profile0)
	require.False(t, st.Success)
	require.Contains(t, st.Reason, "replaced")

	results := query(t, db, nostr.Filter{Kinds: []nostr.Kind{0}, Authors: []nostr.PubKey{pk3}})
	require.Len(t, results, 1)
	require.Equal(t, profile2.ID, results[0].ID)

	// addressable events are replaced per "d" tag
	a1 := signed(t, sk3, nostr.Event{CreatedAt: 1000, Kind: 30023, Tags: nostr.Tags{{"d", "a"}}, Content: "a1"})
	b1 := signed(t, sk3, nostr.Event{CreatedAt: 1000, Kind: 30023, Tags: nostr.Tags{{"d", "b"}}, Content: "b1"})
	a2 := signed(t, sk3, nostr.Event{CreatedAt: 1001, Kind: 30023, Tags: nostr.Tags{{"d", "a"}}, Content: "a2"})
	require.True(t, save(t, db, a1).Success)
	require.True(t, save(t, db, b1).Success)
	require.True(t, save(t, db, a2).Success)

	results = query(t, db, nostr.Filter{Kinds: []nostr.Kind{30023}})
	require.Len(t, results, 2)
	require.ElementsMatch(t, []nostr.ID{a2.ID, b1.ID}, []nostr.ID{results[0].ID, results[1].ID})
}
