package nostr

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var (
	ErrInvalidID        = errors.New("event id doesn't match its contents")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Verify checks the event id and signature, returning a descriptive error when any of them fail.
func (evt Event) Verify() error {
	// read and check pubkey
	pubkey, err := schnorr.ParsePubKey(evt.PubKey[:])
	if err != nil {
		return fmt.Errorf("invalid pubkey %s: %w", evt.PubKey.Hex(), err)
	}

	// read signature
	sig, err := schnorr.ParseSignature(evt.Sig[:])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	hash := sha256.Sum256(evt.Serialize())
	if hash != evt.ID {
		return ErrInvalidID
	}

	if !sig.Verify(hash[:], pubkey) {
		return ErrInvalidSignature
	}

	return nil
}

// VerifySignature checks if the event signature is valid for the given event.
// It won't look at the ID field, instead it will recompute the id from the entire event body.
func (evt Event) VerifySignature() bool {
	pubkey, err := schnorr.ParsePubKey(evt.PubKey[:])
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(evt.Sig[:])
	if err != nil {
		return false
	}

	hash := sha256.Sum256(evt.Serialize())
	return sig.Verify(hash[:], pubkey)
}

// Sign signs an event with a given privateKey.
//
// It sets the event's ID, PubKey, and Sig fields.
//
// Returns an error if the private key is invalid or if signing fails.
func (evt *Event) Sign(secretKey [32]byte) error {
	if evt.Tags == nil {
		evt.Tags = make(Tags, 0)
	}

	sk, pk := btcec.PrivKeyFromBytes(secretKey[:])
	pkBytes := pk.SerializeCompressed()[1:]
	evt.PubKey = [32]byte(pkBytes)

	h := sha256.Sum256(evt.Serialize())
	sig, err := schnorr.Sign(sk, h[:], schnorr.FastSign())
	if err != nil {
		return err
	}

	evt.ID = h
	evt.Sig = [64]byte(sig.Serialize())

	return nil
}
