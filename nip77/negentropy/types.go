package negentropy

import (
	"bytes"
	"cmp"
	"fmt"
	"iter"
	"math"
)

const FingerprintSize = 16

type Mode uint8

const (
	SkipMode        Mode = 0
	FingerprintMode Mode = 1
	IdListMode      Mode = 2
)

func (v Mode) String() string {
	switch v {
	case SkipMode:
		return "SKIP"
	case FingerprintMode:
		return "FINGERPRINT"
	case IdListMode:
		return "IDLIST"
	default:
		return "<UNKNOWN-ERROR>"
	}
}

// Item is an event reduced to what the protocol cares about.
type Item struct {
	Timestamp uint64
	ID        [32]byte
}

func (i Item) String() string { return fmt.Sprintf("Item<%d:%x>", i.Timestamp, i.ID[:]) }

// ItemCompare orders items by timestamp, then by id.
func ItemCompare(a, b Item) int {
	if a.Timestamp == b.Timestamp {
		return bytes.Compare(a.ID[:], b.ID[:])
	}
	return cmp.Compare(a.Timestamp, b.Timestamp)
}

type Bound struct {
	Timestamp uint64
	IDPrefix  []byte
}

var InfiniteBound = Bound{Timestamp: math.MaxUint64}

func (b Bound) String() string {
	if b.Timestamp == InfiniteBound.Timestamp {
		return "Bound<infinite>"
	}
	return fmt.Sprintf("Bound<%d:%x>", b.Timestamp, b.IDPrefix)
}

// Below tells if an item sorts before the bound.
func (b Bound) Below(item Item) bool {
	if item.Timestamp != b.Timestamp {
		return item.Timestamp < b.Timestamp
	}
	return bytes.Compare(item.ID[:], b.IDPrefix) < 0
}

// Storage is a sealed, sorted set of items.
type Storage interface {
	Size() int
	Range(begin, end int) iter.Seq2[int, Item]
	FindLowerBound(begin, end int, bound Bound) int
	Fingerprint(begin, end int) [FingerprintSize]byte
}
