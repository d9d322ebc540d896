package nip19

import (
	"bytes"
	"iter"
)

// tlvEntries stops at the first truncated entry.
func tlvEntries(data []byte) iter.Seq2[uint8, []byte] {
	return func(yield func(uint8, []byte) bool) {
		for len(data) >= 2 {
			t, length := data[0], int(data[1])
			if len(data) < 2+length {
				return
			}
			if !yield(t, data[2:2+length]) {
				return
			}
			data = data[2+length:]
		}
	}
}

func writeTLVEntry(buf *bytes.Buffer, t uint8, v []byte) {
	buf.WriteByte(t)
	buf.WriteByte(uint8(len(v)))
	buf.Write(v)
}
