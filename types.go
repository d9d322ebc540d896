package nostr

import (
	"encoding/hex"
	"fmt"
	"time"
	"unsafe"
)

var (
	ZeroID = ID{}
	ZeroPK = PubKey{}
)

// RelayEvent represents an event received from a specific relay.
type RelayEvent struct {
	Event
	Relay *Relay
}

func (ie RelayEvent) String() string { return fmt.Sprintf("[%s] >> %s", ie.Relay.URL, ie.Event) }

type PubKey [32]byte

func (pk PubKey) String() string { return "pk::" + pk.Hex() }
func (pk PubKey) Hex() string    { return hex.EncodeToString(pk[:]) }

func (pk PubKey) MarshalJSON() ([]byte, error) {
	res := make([]byte, 66)
	res[0] = '"'
	hex.Encode(res[1:65], pk[:])
	res[65] = '"'
	return res, nil
}

func (pk *PubKey) UnmarshalJSON(buf []byte) error {
	if len(buf) != 66 || buf[0] != '"' || buf[65] != '"' {
		return fmt.Errorf("must be a hex string of 64 characters")
	}
	if _, err := hex.Decode(pk[:], buf[1:65]); err != nil {
		return fmt.Errorf("invalid pubkey hex: %w", err)
	}
	return nil
}

func PubKeyFromHex(pkh string) (PubKey, error) {
	pk, err := PubKeyFromHexCheap(pkh)
	if err != nil {
		return pk, err
	}

	if !IsValidPublicKey(pk) {
		return pk, fmt.Errorf("'%s' is not a valid pubkey", pkh)
	}

	return pk, nil
}

func PubKeyFromHexCheap(pkh string) (PubKey, error) {
	pk := PubKey{}
	if len(pkh) != 64 {
		return pk, fmt.Errorf("pubkey should be 64-char hex, got '%s'", pkh)
	}
	if _, err := hex.Decode(pk[:], unsafe.Slice(unsafe.StringData(pkh), 64)); err != nil {
		return pk, fmt.Errorf("'%s' is not valid hex: %w", pkh, err)
	}

	return pk, nil
}

func MustPubKeyFromHex(pkh string) PubKey {
	pk, err := PubKeyFromHexCheap(pkh)
	if err != nil {
		panic(err)
	}
	return pk
}

type ID [32]byte

func (id ID) String() string { return "id::" + id.Hex() }
func (id ID) Hex() string    { return hex.EncodeToString(id[:]) }

func (id ID) MarshalJSON() ([]byte, error) {
	res := make([]byte, 66)
	res[0] = '"'
	hex.Encode(res[1:65], id[:])
	res[65] = '"'
	return res, nil
}

func (id *ID) UnmarshalJSON(buf []byte) error {
	if len(buf) != 66 || buf[0] != '"' || buf[65] != '"' {
		return fmt.Errorf("must be a hex string of 64 characters")
	}
	if _, err := hex.Decode(id[:], buf[1:65]); err != nil {
		return fmt.Errorf("invalid id hex: %w", err)
	}
	return nil
}

func IDFromHex(idh string) (ID, error) {
	id := ID{}

	if len(idh) != 64 {
		return id, fmt.Errorf("id should be 64-char hex, got '%s'", idh)
	}
	if _, err := hex.Decode(id[:], unsafe.Slice(unsafe.StringData(idh), 64)); err != nil {
		return id, fmt.Errorf("'%s' is not valid hex: %w", idh, err)
	}

	return id, nil
}

func MustIDFromHex(idh string) ID {
	id, err := IDFromHex(idh)
	if err != nil {
		panic(err)
	}
	return id
}

// Timestamp is a unix timestamp in seconds.
type Timestamp int64

func Now() Timestamp { return Timestamp(time.Now().Unix()) }

func (t Timestamp) Time() time.Time { return time.Unix(int64(t), 0) }
