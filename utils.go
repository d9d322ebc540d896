package nostr

import (
	"bytes"
	"cmp"
	"net/url"
	"strings"
)

// NormalizeURL lowercases scheme and host, adds "wss://" when no scheme is given, converts
// http(s) into ws(s), drops default ports and trailing slashes. Invalid URLs become "".
func NormalizeURL(u string) string {
	if u == "" {
		return ""
	}

	u = strings.TrimSpace(u)
	if !strings.Contains(u, "://") {
		if strings.HasPrefix(u, "localhost") || strings.HasPrefix(u, "127.0.0.1") {
			u = "ws://" + u
		} else {
			u = "wss://" + u
		}
	}

	p, err := url.Parse(u)
	if err != nil || p.Host == "" {
		return ""
	}

	switch strings.ToLower(p.Scheme) {
	case "http":
		p.Scheme = "ws"
	case "https":
		p.Scheme = "wss"
	case "ws", "wss":
		p.Scheme = strings.ToLower(p.Scheme)
	default:
		return ""
	}

	p.Host = strings.ToLower(p.Host)
	if (p.Scheme == "wss" && p.Port() == "443") || (p.Scheme == "ws" && p.Port() == "80") {
		p.Host = p.Hostname()
	}
	p.Path = strings.TrimRight(p.Path, "/")
	p.Fragment = ""

	return p.String()
}

// IsValidRelayURL checks if a URL is a valid relay URL (ws:// or wss://).
func IsValidRelayURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	if parsed.Scheme != "wss" && parsed.Scheme != "ws" {
		return false
	}
	return parsed.Host != ""
}

// CompareEvent is meant to to be used with slices.Sort
func CompareEvent(a, b Event) int {
	if a.CreatedAt == b.CreatedAt {
		return bytes.Compare(a.ID[:], b.ID[:])
	}
	return cmp.Compare(a.CreatedAt, b.CreatedAt)
}

// CompareEventReverse is meant to to be used with slices.Sort, it puts the newest first
func CompareEventReverse(b, a Event) int {
	if a.CreatedAt == b.CreatedAt {
		return bytes.Compare(a.ID[:], b.ID[:])
	}
	return cmp.Compare(a.CreatedAt, b.CreatedAt)
}
