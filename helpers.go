package nostr

import (
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
)

func similar[E comparable](as, bs []E) bool {
	if len(as) != len(bs) {
		return false
	}

	for _, a := range as {
		for _, b := range bs {
			if b == a {
				goto next
			}
		}
		// didn't find a B that corresponded to the current A
		return false

	next:
		continue
	}

	return true
}

// Escaping strings for JSON encoding according to RFC8259.
// Also encloses result in quotation marks "".
func escapeString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			// quotation mark
			dst = append(dst, []byte{'\\', '"'}...)
		case c == '\\':
			// reverse solidus
			dst = append(dst, []byte{'\\', '\\'}...)
		case c >= 0x20:
			// default, rest below are control chars
			dst = append(dst, c)
		case c == 0x08:
			dst = append(dst, []byte{'\\', 'b'}...)
		case c < 0x09:
			dst = append(dst, []byte{'\\', 'u', '0', '0', '0', '0' + c}...)
		case c == 0x09:
			dst = append(dst, []byte{'\\', 't'}...)
		case c == 0x0a:
			dst = append(dst, []byte{'\\', 'n'}...)
		case c == 0x0c:
			dst = append(dst, []byte{'\\', 'f'}...)
		case c == 0x0d:
			dst = append(dst, []byte{'\\', 'r'}...)
		case c < 0x10:
			dst = append(dst, []byte{'\\', 'u', '0', '0', '0', 0x57 + c}...)
		case c < 0x1a:
			dst = append(dst, []byte{'\\', 'u', '0', '0', '1', 0x20 + c}...)
		case c < 0x20:
			dst = append(dst, []byte{'\\', 'u', '0', '0', '1', 0x47 + c}...)
		}
	}
	dst = append(dst, '"')
	return dst
}

var subIdPool = sync.Pool{
	New: func() any { return make([]byte, 0, 15) },
}

func makeSubscriptionID(serial int64, label string) string {
	buf := subIdPool.Get().([]byte)[:0]
	buf = strconv.AppendInt(buf, serial, 10)
	buf = append(buf, ':')
	buf = append(buf, label...)
	id := string(buf)
	subIdPool.Put(buf)
	return id
}

// extractSubID gets the subscription id of an "EVENT" message without parsing it.
func extractSubID(jsonStr string) string {
	start := strings.Index(jsonStr, `"EVENT"`)
	if start == -1 {
		return ""
	}

	// move to the next quote
	offset := strings.Index(jsonStr[start+7:], `"`)
	if offset == -1 {
		return ""
	}

	start += 7 + offset + 1

	end := strings.Index(jsonStr[start:], `"`)
	if end == -1 {
		return ""
	}

	return jsonStr[start : start+end]
}

// extractEventID gets the first "id" field found, returning false if it is not valid hex.
func extractEventID(jsonStr string) (ID, bool) {
	start := strings.Index(jsonStr, `"id"`)
	if start == -1 {
		return ZeroID, false
	}

	offset := strings.IndexByte(jsonStr[start+4:], '"')
	if offset == -1 {
		return ZeroID, false
	}
	start += 4 + offset + 1

	if len(jsonStr) < start+64 {
		return ZeroID, false
	}

	var id ID
	if _, err := hex.Decode(id[:], []byte(jsonStr[start:start+64])); err != nil {
		return ZeroID, false
	}
	return id, true
}
