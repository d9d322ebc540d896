package eventstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"fiatjaf.com/nostrpool"
)

var ErrDupEvent = errors.New("duplicate: event already exists")

// Backend is the raw storage behind a Store. It knows nothing about nostr semantics.
type Backend interface {
	// Put fails with ErrDupEvent when the id is already there.
	Put(evt nostr.Event) error
	Get(id nostr.ID) (nostr.Event, bool, error)

	// Scan yields every event, newest first, until yield returns false.
	Scan(ctx context.Context, yield func(nostr.Event) bool) error

	Remove(id nostr.ID) error
	RemoveAll() error
	Close() error
}

var _ nostr.Database = (*Store)(nil)

// Store turns a Backend into a nostr.Database: duplicates, ephemeral events and replaceable
// events older than what we have are rejected, and newer replaceable events replace older ones.
type Store struct {
	Backend Backend

	// MaxLimit is used when a filter has no limit. Defaults to 500.
	MaxLimit int

	mu sync.Mutex
}

func New(backend Backend) *Store {
	return &Store{Backend: backend, MaxLimit: 500}
}

// IsOlder tells if previous should be replaced by next.
func IsOlder(previous, next nostr.Event) bool {
	return previous.CreatedAt < next.CreatedAt ||
		(previous.CreatedAt == next.CreatedAt && bytes.Compare(previous.ID[:], next.ID[:]) == 1)
}

// ReplacementFilter returns the filter that matches what evt would replace, if it is replaceable.
func ReplacementFilter(evt nostr.Event) (nostr.Filter, bool) {
	switch {
	case evt.Kind.IsReplaceable():
		return nostr.Filter{Kinds: []nostr.Kind{evt.Kind}, Authors: []nostr.PubKey{evt.PubKey}}, true
	case evt.Kind.IsAddressable():
		return nostr.Filter{
			Kinds:   []nostr.Kind{evt.Kind},
			Authors: []nostr.PubKey{evt.PubKey},
			Tags:    nostr.TagMap{"d": []string{evt.Tags.GetD()}},
		}, true
	default:
		return nostr.Filter{}, false
	}
}

func (s *Store) SaveEvent(ctx context.Context, evt nostr.Event) (nostr.SaveStatus, error) {
	if evt.Kind.IsEphemeral() {
		return nostr.SaveRejected("ephemeral: not storing"), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if filter, replaceable := ReplacementFilter(evt); replaceable {
		var older []nostr.ID
		for previous, err := range s.query(ctx, filter, -1) {
			if err != nil {
				return nostr.SaveStatus{}, err
			}
			if previous.ID == evt.ID {
				return nostr.SaveRejected(ErrDupEvent.Error()), nil
			}
			if !IsOlder(previous, evt) {
				return nostr.SaveRejected("replaced: have a newer version"), nil
			}
			older = append(older, previous.ID)
		}
		for _, id := range older {
			if err := s.Backend.Remove(id); err != nil {
				return nostr.SaveStatus{}, fmt.Errorf("failed to delete event for replacing: %w", err)
			}
		}
	}

	if err := s.Backend.Put(evt); err != nil {
		if errors.Is(err, ErrDupEvent) {
			return nostr.SaveRejected(err.Error()), nil
		}
		return nostr.SaveStatus{}, err
	}
	return nostr.SaveSuccess(), nil
}

func (s *Store) EventByID(ctx context.Context, id nostr.ID) (nostr.Event, bool, error) {
	return s.Backend.Get(id)
}

func (s *Store) Query(ctx context.Context, filter nostr.Filter) iter.Seq2[nostr.Event, error] {
	limit := filter.Limit
	if filter.LimitZero {
		limit = 0
	} else if limit <= 0 || limit > s.MaxLimit {
		limit = s.MaxLimit
	}
	return s.query(ctx, filter, limit)
}

// query yields matching events newest first, a negative limit means no limit.
func (s *Store) query(ctx context.Context, filter nostr.Filter, limit int) iter.Seq2[nostr.Event, error] {
	return func(yield func(nostr.Event, error) bool) {
		if limit == 0 {
			return
		}

		if len(filter.IDs) > 0 {
			// no need to scan
			events := make([]nostr.Event, 0, len(filter.IDs))
			for _, id := range filter.IDs {
				evt, found, err := s.Backend.Get(id)
				if err != nil {
					yield(nostr.Event{}, err)
					return
				}
				if found && filter.Matches(evt) {
					events = append(events, evt)
				}
			}
			slices.SortFunc(events, nostr.CompareEventReverse)
			for i, evt := range events {
				if i == limit || !yield(evt, nil) {
					return
				}
			}
			return
		}

		count := 0
		stopped := false
		err := s.Backend.Scan(ctx, func(evt nostr.Event) bool {
			if filter.Since != 0 && evt.CreatedAt < filter.Since {
				// everything after this is older
				return false
			}
			if !filter.Matches(evt) {
				return true
			}
			if !yield(evt, nil) {
				stopped = true
				return false
			}
			count++
			return count != limit
		})
		if err != nil && !stopped {
			yield(nostr.Event{}, err)
		}
	}
}

func (s *Store) Count(ctx context.Context, filter nostr.Filter) (int, error) {
	count := 0
	for _, err := range s.query(ctx, filter, -1) {
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Store) NegentropyItems(ctx context.Context, filter nostr.Filter) ([]nostr.NegentropyItem, error) {
	items := make([]nostr.NegentropyItem, 0, 64)
	for evt, err := range s.query(ctx, filter, -1) {
		if err != nil {
			return nil, err
		}
		items = append(items, nostr.NegentropyItem{ID: evt.ID, Timestamp: evt.CreatedAt})
	}
	return items, nil
}

func (s *Store) Delete(ctx context.Context, filter nostr.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []nostr.ID
	for evt, err := range s.query(ctx, filter, -1) {
		if err != nil {
			return err
		}
		ids = append(ids, evt.ID)
	}
	for _, id := range ids {
		if err := s.Backend.Remove(id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Backend.RemoveAll()
}

func (s *Store) Close() error { return s.Backend.Close() }
