package negentropy

import (
	"bytes"
	"fmt"
	"math"
)

func (n *Negentropy) readTimestamp(reader *bytes.Reader) (uint64, error) {
	delta, err := readVarInt(reader)
	if err != nil {
		return 0, err
	}

	if delta == 0 {
		// zeroes are infinite
		n.lastTimestampIn = math.MaxUint64
		return math.MaxUint64, nil
	}

	// remove 1 as we always add 1 when encoding
	timestamp := n.lastTimestampIn + uint64(delta-1)
	n.lastTimestampIn = timestamp
	return timestamp, nil
}

func (n *Negentropy) readBound(reader *bytes.Reader) (Bound, error) {
	timestamp, err := n.readTimestamp(reader)
	if err != nil {
		return Bound{}, fmt.Errorf("failed to decode bound timestamp: %w", err)
	}

	length, err := readVarInt(reader)
	if err != nil {
		return Bound{}, fmt.Errorf("failed to decode bound length: %w", err)
	}
	if length > 32 {
		return Bound{}, fmt.Errorf("bound prefix too long: %d", length)
	}

	pfb := make([]byte, length)
	if _, err := readFull(reader, pfb); err != nil {
		return Bound{}, fmt.Errorf("failed to read bound id: %w", err)
	}

	return Bound{timestamp, pfb}, nil
}

func (n *Negentropy) writeTimestamp(w *bytes.Buffer, timestamp uint64) {
	if timestamp == math.MaxUint64 {
		n.lastTimestampOut = math.MaxUint64
		writeVarInt(w, 0)
		return
	}

	// only the difference to the previous timestamp is encoded, plus 1 so it is never read as infinite
	delta := timestamp - n.lastTimestampOut
	n.lastTimestampOut = timestamp
	writeVarInt(w, int(delta+1))
}

func (n *Negentropy) writeBound(w *bytes.Buffer, bound Bound) {
	n.writeTimestamp(w, bound.Timestamp)
	writeVarInt(w, len(bound.IDPrefix))
	w.Write(bound.IDPrefix)
}

func getMinimalBound(prev, curr Item) Bound {
	if curr.Timestamp != prev.Timestamp {
		return Bound{curr.Timestamp, nil}
	}

	sharedPrefixBytes := 0
	for i := 0; i < 31; i++ {
		if curr.ID[i] != prev.ID[i] {
			break
		}
		sharedPrefixBytes++
	}

	// include the first differing byte
	return Bound{curr.Timestamp, curr.ID[:sharedPrefixBytes+1]}
}

func readFull(reader *bytes.Reader, b []byte) (int, error) {
	if reader.Len() < len(b) {
		return 0, fmt.Errorf("unexpected end of message, wanted %d bytes, have %d", len(b), reader.Len())
	}
	return reader.Read(b)
}

func readVarInt(reader *bytes.Reader) (int, error) {
	var res int

	for i := 0; ; i++ {
		if i > 8 {
			return 0, fmt.Errorf("varint too long")
		}
		b, err := reader.ReadByte()
		if err != nil {
			return 0, err
		}

		res = (res << 7) | (int(b) & 127)
		if (b & 128) == 0 {
			break
		}
	}

	return res, nil
}

func writeVarInt(w *bytes.Buffer, n int) {
	w.Write(EncodeVarInt(n))
}

// EncodeVarInt encodes n as base-128 big-endian with the high bit set on all bytes but the last.
func EncodeVarInt(n int) []byte {
	if n == 0 {
		return []byte{0}
	}

	result := make([]byte, 10)
	idx := 9

	for n != 0 {
		result[idx] = byte(n & 0x7F)
		n >>= 7
		idx--
	}

	result = result[idx+1:]
	for i := 0; i < len(result)-1; i++ {
		result[i] |= 0x80
	}

	return result
}
