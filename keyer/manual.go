package keyer

import (
	"context"

	"fiatjaf.com/nostrpool"
)

var _ nostr.Signer = (*ManualSigner)(nil)

// ManualSigner is a signer that delegates all operations to user-provided functions.
// It can be used when the key lives somewhere else, like a hardware device or a remote service.
type ManualSigner struct {
	// ManualGetPublicKey is called when the public key is needed
	ManualGetPublicKey func(context.Context) (nostr.PubKey, error)

	// ManualSignEvent is called when an event needs to be signed
	ManualSignEvent func(context.Context, *nostr.Event) error
}

func (ms ManualSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	return ms.ManualSignEvent(ctx, evt)
}

func (ms ManualSigner) GetPublicKey(ctx context.Context) (nostr.PubKey, error) {
	return ms.ManualGetPublicKey(ctx)
}
