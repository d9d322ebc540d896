package test

import (
	"context"
	"path/filepath"
	"testing"

	"fiatjaf.com/nostrpool"
	"fiatjaf.com/nostrpool/eventstore/badger"
	"fiatjaf.com/nostrpool/eventstore/boltdb"
	"fiatjaf.com/nostrpool/eventstore/slicestore"
	"github.com/stretchr/testify/require"
)

var (
	sk3 = nostr.MustSecretKeyFromHex("0000000000000000000000000000000000000000000000000000000000000003")
	sk4 = nostr.MustSecretKeyFromHex("0000000000000000000000000000000000000000000000000000000000000004")
)

var ctx = context.Background()

var tests = []struct {
	name string
	run  func(*testing.T, nostr.Database)
}{
	{"basic", basicTest},
	{"replaceable", replaceableTest},
	{"negentropy items", negentropyItemsTest},
	{"many events", manyEventsTest},
}

func TestSliceStore(t *testing.T) {
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			db := slicestore.New()
			defer db.Close()
			test.run(t, db)
		})
	}
}

func TestBoltDB(t *testing.T) {
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			db, err := boltdb.New(filepath.Join(t.TempDir(), "bolt"))
			require.NoError(t, err)
			defer db.Close()
			test.run(t, db)
		})
	}
}

func TestBadger(t *testing.T) {
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			db, err := badger.New("")
			require.NoError(t, err)
			defer db.Close()
			test.run(t, db)
		})
	}
}

func signed(t *testing.T, sk [32]byte, evt nostr.Event) nostr.Event {
	t.Helper()
	require.NoError(t, evt.Sign(sk))
	return evt
}

func query(t *testing.T, db nostr.Database, filter nostr.Filter) []nostr.Event {
	t.Helper()
	results := make([]nostr.Event, 0, 10)
	for evt, err := range db.Query(ctx, filter) {
		require.NoError(t, err)
		results = append(results, evt)
	}
	return results
}

func save(t *testing.T, db nostr.Database, evt nostr.Event) nostr.SaveStatus {
	t.Helper()
	st, err := db.SaveEvent(ctx, evt)
	require.NoError(t, err)
	return st
}
