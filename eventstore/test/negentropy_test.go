package test

import (
	"fmt"
	"testing"

	"fiatjaf.com/nostrpool"
	"github.com/stretchr/testify/require"
)

func negentropyItemsTest(t *testing.T, db nostr.Database) {
	expected := make(map[nostr.ID]nostr.Timestamp)
	for i := 0; i < 30; i++ {
		evt := signed(t, sk4, nostr.Event{CreatedAt: nostr.Timestamp(1000 + i), Kind: 1, Content: fmt.Sprintf("n%d", i)})
		require.True(t, save(t, db, evt).Success)
		if i >= 10 {
			expected[evt.ID] = evt.CreatedAt
		}
	}

	items, err := db.NegentropyItems(ctx, nostr.Filter{Since: 1010})
	require.NoError(t, err)
	require.Len(t, items, 20)
	for _, item := range items {
		require.Equal(t, expected[item.ID], item.Timestamp)
	}
}

func manyEventsTest(t *testing.T, db nostr.Database) {
	// more than a single page of the bolt scanner
	for i := 0; i < 700; i++ {
		sk := sk3
		if i%3 == 0 {
			sk = sk4
		}
		evt := signed(t, sk, nostr.Event{CreatedAt: nostr.Timestamp(10 * i), Kind: nostr.Kind(1000 + i%10), Content: fmt.Sprintf("hello %d", i)})
		require.True(t, save(t, db, evt).Success)
	}

	count, err := db.Count(ctx, nostr.Filter{})
	require.NoError(t, err)
	require.Equal(t, 700, count)

	count, err = db.Count(ctx, nostr.Filter{Authors: []nostr.PubKey{nostr.GetPublicKey(sk4)}})
	require.NoError(t, err)
	require.Equal(t, 234, count)

	results := query(t, db, nostr.Filter{Kinds: []nostr.Kind{1001}, Limit: 5})
	require.Len(t, results, 5)
	require.Equal(t, nostr.Timestamp(6910), results[0].CreatedAt)

	// default limit
	require.Len(t, query(t, db, nostr.Filter{}), 500)
}
