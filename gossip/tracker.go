// Package gossip keeps track of the relays authors say they use (NIP-65) and makes sure the pool
// has them, marked as required by gossip so they aren't removed by accident.
package gossip

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"fiatjaf.com/nostrpool"
	"fiatjaf.com/nostrpool/nip65"
)

type authorRelays struct {
	createdAt nostr.Timestamp
	read      []string
	write     []string
}

type Tracker struct {
	Pool *nostr.Pool

	mu      sync.Mutex
	authors map[nostr.PubKey]authorRelays
}

func NewTracker(pool *nostr.Pool) *Tracker {
	return &Tracker{
		Pool:    pool,
		authors: make(map[nostr.PubKey]authorRelays),
	}
}

// Track takes a relay list event and adds the relays in it to the pool. The relays where the
// author writes are the ones we read from and vice-versa.
// Relay lists older than the one we have are ignored.
func (t *Tracker) Track(ctx context.Context, evt nostr.Event) error {
	if evt.Kind != nostr.KindRelayListMetadata {
		return fmt.Errorf("expected kind %d, got %d", nostr.KindRelayListMetadata, evt.Kind)
	}

	read, write := nip65.ParseRelayList(evt)

	t.mu.Lock()
	defer t.mu.Unlock()

	if previous, ok := t.authors[evt.PubKey]; ok && previous.createdAt >= evt.CreatedAt {
		return nil
	}
	t.authors[evt.PubKey] = authorRelays{createdAt: evt.CreatedAt, read: read, write: write}

	for _, url := range write {
		if _, err := t.Pool.AddRelay(url, nostr.CapGossip|nostr.CapRead); err != nil {
			return err
		}
	}
	for _, url := range read {
		if _, err := t.Pool.AddRelay(url, nostr.CapGossip|nostr.CapWrite); err != nil {
			return err
		}
	}

	t.recompute()
	return nil
}

// Untrack forgets an author. Relays no other tracked author needs stop being required by gossip.
func (t *Tracker) Untrack(pubkey nostr.PubKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.authors, pubkey)
	t.recompute()
}

// RelaysFor returns the relays an author reads from and writes to, as far as we know.
func (t *Tracker) RelaysFor(pubkey nostr.PubKey) (read []string, write []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ar := t.authors[pubkey]
	return slices.Clone(ar.read), slices.Clone(ar.write)
}

func (t *Tracker) recompute() {
	needed := make(map[string]struct{})
	for _, ar := range t.authors {
		for _, url := range ar.read {
			needed[url] = struct{}{}
		}
		for _, url := range ar.write {
			needed[url] = struct{}{}
		}
	}

	for url, relay := range t.Pool.Relays() {
		if _, ok := needed[url]; !ok && relay.Capabilities().Has(nostr.CapGossip) {
			relay.RemoveCapabilities(nostr.CapGossip)
		}
	}
}
