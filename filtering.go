package nostr

import "sync"

type FilteringMode uint8

const (
	// FilteringBlacklist drops events whose id or author is in the sets.
	FilteringBlacklist FilteringMode = iota
	// FilteringWhitelist only lets through events from the authors in the public key set.
	// The id set is ignored in this mode.
	FilteringWhitelist
)

func (m FilteringMode) String() string {
	if m == FilteringWhitelist {
		return "whitelist"
	}
	return "blacklist"
}

// Filtering is an allow/deny list applied to every event received, after the Blacklist.
type Filtering struct {
	mu      sync.RWMutex
	mode    FilteringMode
	ids     map[ID]struct{}
	pubkeys map[PubKey]struct{}
}

func NewFiltering(mode FilteringMode) *Filtering {
	return &Filtering{
		mode:    mode,
		ids:     make(map[ID]struct{}),
		pubkeys: make(map[PubKey]struct{}),
	}
}

func (f *Filtering) Mode() FilteringMode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode
}

func (f *Filtering) SetMode(mode FilteringMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
}

func (f *Filtering) AddIDs(ids ...ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.ids[id] = struct{}{}
	}
}

func (f *Filtering) RemoveID(id ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids, id)
}

// HasID is always false in whitelist mode.
func (f *Filtering) HasID(id ID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.mode == FilteringWhitelist {
		return false
	}
	_, ok := f.ids[id]
	return ok
}

func (f *Filtering) ClearIDs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.ids)
}

func (f *Filtering) AddPublicKeys(pks ...PubKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pk := range pks {
		f.pubkeys[pk] = struct{}{}
	}
}

func (f *Filtering) RemovePublicKey(pk PubKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pubkeys, pk)
}

func (f *Filtering) HasPublicKey(pk PubKey) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.pubkeys[pk]
	return ok
}

// OverwritePublicKeys replaces the whole public key set at once.
func (f *Filtering) OverwritePublicKeys(pks ...PubKey) {
	next := make(map[PubKey]struct{}, len(pks))
	for _, pk := range pks {
		next[pk] = struct{}{}
	}

	f.mu.Lock()
	f.pubkeys = next
	f.mu.Unlock()
}

func (f *Filtering) ClearPublicKeys() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.pubkeys)
}

func (f *Filtering) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.ids)
	clear(f.pubkeys)
}

// CheckEvent returns true if the event is allowed to go through.
func (f *Filtering) CheckEvent(evt Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	switch f.mode {
	case FilteringWhitelist:
		_, ok := f.pubkeys[evt.PubKey]
		return ok
	default:
		if _, ok := f.ids[evt.ID]; ok {
			return false
		}
		_, ok := f.pubkeys[evt.PubKey]
		return !ok
	}
}
