package nip65

import (
	"slices"

	"fiatjaf.com/nostrpool"
)

// ParseRelayList parses a NIP-65 relay list event (kind 10002) and returns
// separate lists of read and write relays based on the "r" tags.
func ParseRelayList(event nostr.Event) (readRelays []string, writeRelays []string) {
	if event.Kind != nostr.KindRelayListMetadata {
		return nil, nil
	}

	for tag := range event.Tags.FindAll("r") {
		if len(tag) < 2 {
			continue
		}

		normalizedURL := nostr.NormalizeURL(tag[1])
		if !nostr.IsValidRelayURL(normalizedURL) {
			continue
		}

		var marker string
		if len(tag) > 2 {
			marker = tag[2]
		}

		if (marker == "" || marker == "read") && !slices.Contains(readRelays, normalizedURL) {
			readRelays = append(readRelays, normalizedURL)
		}
		if (marker == "" || marker == "write") && !slices.Contains(writeRelays, normalizedURL) {
			writeRelays = append(writeRelays, normalizedURL)
		}
	}

	return readRelays, writeRelays
}
