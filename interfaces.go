package nostr

import (
	"context"
	"iter"
)

// SaveStatus is what a Database says about an event it was asked to store.
type SaveStatus struct {
	Success bool
	Reason  string
}

func SaveSuccess() SaveStatus { return SaveStatus{Success: true} }

func SaveRejected(reason string) SaveStatus { return SaveStatus{Reason: reason} }

// NegentropyItem is the (id, timestamp) pair compared during set reconciliation.
type NegentropyItem struct {
	ID        ID
	Timestamp Timestamp
}

// Database is the storage used by relays to persist what they receive and by the
// reconciliation engine to know what we have.
type Database interface {
	// SaveEvent must reject duplicates and replaceable events older than what is stored.
	SaveEvent(ctx context.Context, evt Event) (SaveStatus, error)
	EventByID(ctx context.Context, id ID) (Event, bool, error)
	Count(ctx context.Context, filter Filter) (int, error)
	// Query yields events newest first, honoring the filter limit.
	Query(ctx context.Context, filter Filter) iter.Seq2[Event, error]
	NegentropyItems(ctx context.Context, filter Filter) ([]NegentropyItem, error)
	Delete(ctx context.Context, filter Filter) error
	Wipe(ctx context.Context) error
	Close() error
}

// Signer is only used to sign AUTH events and, from the command line, events being published.
type Signer interface {
	GetPublicKey(ctx context.Context) (PubKey, error)
	SignEvent(ctx context.Context, evt *Event) error
}
