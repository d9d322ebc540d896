package nostr

import "sync"

// Blacklist holds event ids and public keys whose events are silently dropped.
// It is safe for concurrent use and is usually shared by all relays in a pool.
type Blacklist struct {
	mu      sync.RWMutex
	ids     map[ID]struct{}
	pubkeys map[PubKey]struct{}
}

func NewBlacklist() *Blacklist {
	return &Blacklist{
		ids:     make(map[ID]struct{}),
		pubkeys: make(map[PubKey]struct{}),
	}
}

func (b *Blacklist) AddIDs(ids ...ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.ids[id] = struct{}{}
	}
}

func (b *Blacklist) RemoveID(id ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ids, id)
}

func (b *Blacklist) HasID(id ID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.ids[id]
	return ok
}

func (b *Blacklist) ClearIDs() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.ids)
}

func (b *Blacklist) AddPublicKeys(pks ...PubKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pk := range pks {
		b.pubkeys[pk] = struct{}{}
	}
}

func (b *Blacklist) RemovePublicKey(pk PubKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pubkeys, pk)
}

func (b *Blacklist) HasPublicKey(pk PubKey) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.pubkeys[pk]
	return ok
}

func (b *Blacklist) ClearPublicKeys() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.pubkeys)
}

func (b *Blacklist) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.ids)
	clear(b.pubkeys)
}

// IsBlacklisted is true if either the event id or its author is in the list.
func (b *Blacklist) IsBlacklisted(evt Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.ids[evt.ID]; ok {
		return true
	}
	_, ok := b.pubkeys[evt.PubKey]
	return ok
}
