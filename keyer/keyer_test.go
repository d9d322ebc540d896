package keyer

import (
	"context"
	"testing"

	"fiatjaf.com/nostrpool"
	"github.com/stretchr/testify/require"
)

func TestKeySigner(t *testing.T) {
	ctx := context.Background()

	_, err := NewPlainKeySigner([32]byte{})
	require.Error(t, err)

	_, err = FromHex("not hex")
	require.Error(t, err)

	ks, err := FromHex("0000000000000000000000000000000000000000000000000000000000000003")
	require.NoError(t, err)

	pk, err := ks.GetPublicKey(ctx)
	require.NoError(t, err)

	evt := nostr.Event{Kind: 1, CreatedAt: 1700000000, Content: "hello"}
	require.NoError(t, ks.SignEvent(ctx, &evt))
	require.Equal(t, pk, evt.PubKey)
	require.NoError(t, evt.Verify())
}

func TestReadOnlySigner(t *testing.T) {
	ctx := context.Background()
	pk := nostr.GetPublicKey(nostr.GeneratePrivateKey())

	ros := NewReadOnlySigner(pk)
	got, err := ros.GetPublicKey(ctx)
	require.NoError(t, err)
	require.Equal(t, pk, got)

	evt := nostr.Event{Kind: 1}
	require.ErrorIs(t, ros.SignEvent(ctx, &evt), ErrReadOnly)
}

func TestManualSigner(t *testing.T) {
	ctx := context.Background()
	ks, err := NewPlainKeySigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	calls := 0
	ms := ManualSigner{
		ManualGetPublicKey: ks.GetPublicKey,
		ManualSignEvent: func(ctx context.Context, evt *nostr.Event) error {
			calls++
			return ks.SignEvent(ctx, evt)
		},
	}

	evt := nostr.Event{Kind: 1, Content: "manual"}
	require.NoError(t, ms.SignEvent(ctx, &evt))
	require.Equal(t, 1, calls)
	require.NoError(t, evt.Verify())
}
