package keyer

import (
	"context"
	"errors"

	"fiatjaf.com/nostrpool"
)

var _ nostr.Signer = (*ReadOnlySigner)(nil)

var ErrReadOnly = errors.New("read-only, we don't have the secret key, cannot sign")

// ReadOnlySigner knows a public key but can't sign anything.
type ReadOnlySigner struct {
	pk nostr.PubKey
}

func NewReadOnlySigner(pk nostr.PubKey) ReadOnlySigner {
	return ReadOnlySigner{pk}
}

// SignEvent returns ErrReadOnly.
func (ros ReadOnlySigner) SignEvent(context.Context, *nostr.Event) error {
	return ErrReadOnly
}

func (ros ReadOnlySigner) GetPublicKey(context.Context) (nostr.PubKey, error) {
	return ros.pk, nil
}
