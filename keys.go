package nostr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

func GeneratePrivateKey() [32]byte {
	var sk [32]byte
	if _, err := io.ReadFull(rand.Reader, sk[:]); err != nil {
		panic(fmt.Errorf("failed to read random bytes when generating private key"))
	}
	return sk
}

func SecretKeyFromHex(skh string) ([32]byte, error) {
	var sk [32]byte
	if len(skh) != 64 {
		return sk, fmt.Errorf("secret key should be 64-char hex, got %d chars", len(skh))
	}
	if _, err := hex.Decode(sk[:], []byte(skh)); err != nil {
		return sk, fmt.Errorf("invalid secret key hex: %w", err)
	}
	return sk, nil
}

func MustSecretKeyFromHex(skh string) [32]byte {
	sk, err := SecretKeyFromHex(skh)
	if err != nil {
		panic(err)
	}
	return sk
}

func GetPublicKey(sk [32]byte) PubKey {
	_, pk := btcec.PrivKeyFromBytes(sk[:])
	return [32]byte(pk.SerializeCompressed()[1:])
}

func IsValidPublicKey(pk [32]byte) bool {
	_, err := schnorr.ParsePubKey(pk[:])
	return err == nil
}
