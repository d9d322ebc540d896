package negentropy

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"
)

// Accumulator sums ids modulo 2^256, reading them as little-endian numbers.
type Accumulator struct {
	buf [32]byte
}

func (acc *Accumulator) Reset() { acc.buf = [32]byte{} }

func (acc *Accumulator) Add(id [32]byte) {
	var carry uint64
	for i := 0; i < 32; i += 8 {
		a := binary.LittleEndian.Uint64(acc.buf[i:])
		b := binary.LittleEndian.Uint64(id[i:])
		var sum uint64
		sum, carry = bits.Add64(a, b, carry)
		binary.LittleEndian.PutUint64(acc.buf[i:], sum)
	}
}

// Fingerprint is sha256(sum || varint(count)) truncated.
func (acc *Accumulator) Fingerprint(count int) [FingerprintSize]byte {
	input := make([]byte, 0, 32+8)
	input = append(input, acc.buf[:]...)
	input = append(input, EncodeVarInt(count)...)

	hash := sha256.Sum256(input)

	var fp [FingerprintSize]byte
	copy(fp[:], hash[:FingerprintSize])
	return fp
}
