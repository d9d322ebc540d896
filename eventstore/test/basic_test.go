package test

import (
	"slices"
	"testing"

	"fiatjaf.com/nostrpool"
	"github.com/stretchr/testify/require"
)

func basicTest(t *testing.T, db nostr.Database) {
	pk3 := nostr.GetPublicKey(sk3)
	pk4 := nostr.GetPublicKey(sk4)

	events := []nostr.Event{
		signed(t, sk3, nostr.Event{
			CreatedAt: 100,
			Content:   "event with e tag",
			Tags:      nostr.Tags{{"e", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}},
			Kind:      1,
		}),
		signed(t, sk3, nostr.Event{
			CreatedAt: 101,
			Content:   "event with q tag",
			Tags:      nostr.Tags{{"q", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}},
			Kind:      1,
		}),
		signed(t, sk3, nostr.Event{
			CreatedAt: 102,
			Content:   "event with p tag kind 7",
			Tags:      nostr.Tags{{"p", pk4.Hex()}},
			Kind:      7,
		}),
		signed(t, sk3, nostr.Event{
			CreatedAt: 104,
			Content:   "event from pk3 kind 1",
			Tags:      nostr.Tags{},
			Kind:      1,
		}),
		signed(t, sk4, nostr.Event{
			CreatedAt: 105,
			Content:   "event from pk4 kind 1",
			Tags:      nostr.Tags{},
			Kind:      1,
		}),
	}

	for _, evt := range events {
		require.True(t, save(t, db, evt).Success)
	}

	// duplicates are rejected without an error
	st := save(t, db, events[0])
	require.False(t, st.Success)
	require.Contains(t, st.Reason, "duplicate")

	// ephemeral events are never stored
	require.False(t, save(t, db, signed(t, sk3, nostr.Event{CreatedAt: 110, Kind: 20001})).Success)

	all := query(t, db, nostr.Filter{})
	require.Len(t, all, 5)
	require.True(t, slices.IsSortedFunc(all, nostr.CompareEventReverse), "newest first")

	results := query(t, db, nostr.Filter{Tags: nostr.TagMap{"e": []string{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}}})
	require.Len(t, results, 1)
	require.Equal(t, events[0].ID, results[0].ID)

	results = query(t, db, nostr.Filter{Tags: nostr.TagMap{"p": []string{pk4.Hex()}}, Kinds: []nostr.Kind{7}})
	require.Len(t, results, 1)
	require.Equal(t, events[2].ID, results[0].ID)

	results = query(t, db, nostr.Filter{Authors: []nostr.PubKey{pk3}, Kinds: []nostr.Kind{1}})
	require.Len(t, results, 3)

	results = query(t, db, nostr.Filter{Kinds: []nostr.Kind{1}, Limit: 2})
	require.Equal(t, []nostr.ID{events[4].ID, events[3].ID}, []nostr.ID{results[0].ID, results[1].ID})

	results = query(t, db, nostr.Filter{Since: 102, Until: 104})
	require.Len(t, results, 2)

	require.Empty(t, query(t, db, nostr.Filter{LimitZero: true}))

	results = query(t, db, nostr.Filter{IDs: []nostr.ID{events[1].ID, events[3].ID}})
	require.Equal(t, []nostr.ID{events[3].ID, events[1].ID}, []nostr.ID{results[0].ID, results[1].ID})

	evt, found, err := db.EventByID(ctx, events[2].ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, events[2], evt)

	count, err := db.Count(ctx, nostr.Filter{Authors: []nostr.PubKey{pk3}})
	require.NoError(t, err)
	require.Equal(t, 4, count)

	require.NoError(t, db.Delete(ctx, nostr.Filter{Authors: []nostr.PubKey{pk3}}))
	_, found, err = db.EventByID(ctx, events[2].ID)
	require.NoError(t, err)
	require.False(t, found)
	require.Len(t, query(t, db, nostr.Filter{}), 1)

	require.NoError(t, db.Wipe(ctx))
	require.Empty(t, query(t, db, nostr.Filter{}))

	// still usable after a wipe
	require.True(t, save(t, db, events[0]).Success)
}
