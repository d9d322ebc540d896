package slicestore

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"

	"fiatjaf.com/nostrpool"
	"fiatjaf.com/nostrpool/eventstore"
)

var _ eventstore.Backend = (*SliceStore)(nil)

// SliceStore keeps events in memory, sorted newest first.
type SliceStore struct {
	sync.RWMutex
	internal []nostr.Event
}

// New returns a ready to use in-memory database.
func New() *eventstore.Store {
	return eventstore.New(&SliceStore{internal: make([]nostr.Event, 0, 5000)})
}

func (b *SliceStore) Put(evt nostr.Event) error {
	b.Lock()
	defer b.Unlock()

	if slices.ContainsFunc(b.internal, func(e nostr.Event) bool { return e.ID == evt.ID }) {
		return eventstore.ErrDupEvent
	}

	// insert at the correct place
	idx, _ := slices.BinarySearchFunc(b.internal, evt, eventComparator)
	b.internal = slices.Insert(b.internal, idx, evt)
	return nil
}

func (b *SliceStore) Get(id nostr.ID) (nostr.Event, bool, error) {
	b.RLock()
	defer b.RUnlock()

	for _, evt := range b.internal {
		if evt.ID == id {
			return evt, true, nil
		}
	}
	return nostr.Event{}, false, nil
}

func (b *SliceStore) Scan(ctx context.Context, yield func(nostr.Event) bool) error {
	b.RLock()
	snapshot := slices.Clone(b.internal)
	b.RUnlock()

	for _, evt := range snapshot {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if !yield(evt) {
			return nil
		}
	}
	return nil
}

func (b *SliceStore) Remove(id nostr.ID) error {
	b.Lock()
	defer b.Unlock()

	b.internal = slices.DeleteFunc(b.internal, func(e nostr.Event) bool { return e.ID == id })
	return nil
}

func (b *SliceStore) RemoveAll() error {
	b.Lock()
	defer b.Unlock()
	b.internal = b.internal[:0]
	return nil
}

func (b *SliceStore) Close() error { return nil }

// newest first, then by id descending
func eventComparator(a nostr.Event, b nostr.Event) int {
	c := cmp.Compare(b.CreatedAt, a.CreatedAt)
	if c != 0 {
		return c
	}
	return bytes.Compare(b.ID[:], a.ID[:])
}
