package keyer

import (
	"context"
	"errors"

	"fiatjaf.com/nostrpool"
)

var _ nostr.Signer = (*KeySigner)(nil)

// KeySigner is a signer that holds the private key in memory
type KeySigner struct {
	sk [32]byte
	pk nostr.PubKey
}

// NewPlainKeySigner creates a new KeySigner from a private key.
// Returns an error if the private key is invalid.
func NewPlainKeySigner(sec [32]byte) (KeySigner, error) {
	if sec == [32]byte{} {
		return KeySigner{}, errors.New("invalid secret key: all zeroes")
	}
	return KeySigner{sec, nostr.GetPublicKey(sec)}, nil
}

// FromHex creates a KeySigner from a hex-encoded private key.
func FromHex(skh string) (KeySigner, error) {
	sk, err := nostr.SecretKeyFromHex(skh)
	if err != nil {
		return KeySigner{}, err
	}
	return NewPlainKeySigner(sk)
}

// SignEvent signs the provided event with the signer's private key.
// It sets the event's ID, PubKey, and Sig fields.
func (ks KeySigner) SignEvent(ctx context.Context, evt *nostr.Event) error { return evt.Sign(ks.sk) }

// GetPublicKey returns the public key associated with this signer.
func (ks KeySigner) GetPublicKey(ctx context.Context) (nostr.PubKey, error) { return ks.pk, nil }
