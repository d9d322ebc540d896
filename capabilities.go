package nostr

import "strings"

// RelayCapabilities is a bitmask saying what a relay is used for inside a pool.
type RelayCapabilities uint8

const (
	CapRead RelayCapabilities = 1 << iota
	CapWrite
	CapPing
	// CapGossip marks relays that are needed to follow some author's relay list,
	// these can't be removed from a pool without forcing.
	CapGossip
	CapDiscovery

	CapNone      RelayCapabilities = 0
	CapReadWrite                   = CapRead | CapWrite
)

func (c RelayCapabilities) Has(other RelayCapabilities) bool { return c&other == other }

// HasAny is true when at least one of the given flags is set.
func (c RelayCapabilities) HasAny(other RelayCapabilities) bool { return c&other != 0 }

func (c RelayCapabilities) String() string {
	if c == CapNone {
		return "none"
	}
	names := make([]string, 0, 5)
	for _, flag := range []struct {
		cap  RelayCapabilities
		name string
	}{
		{CapRead, "read"},
		{CapWrite, "write"},
		{CapPing, "ping"},
		{CapGossip, "gossip"},
		{CapDiscovery, "discovery"},
	} {
		if c.Has(flag.cap) {
			names = append(names, flag.name)
		}
	}
	return strings.Join(names, "|")
}
