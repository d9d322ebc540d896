package nostr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"fiatjaf.com/nostrpool/nip77/negentropy"
	"fiatjaf.com/nostrpool/nip77/negentropy/storage/vector"
)

const (
	defaultSyncTimeout  = 30 * time.Second
	syncFetchBatchSize  = 500
	defaultNegFrameSize = 60_000
)

// ReconciliationProtocol creates sessions of a set-reconciliation protocol.
type ReconciliationProtocol interface {
	NewSession(items []NegentropyItem, frameSizeLimit int) (ReconciliationSession, error)
}

// ReconciliationSession is the client side of one reconciliation.
type ReconciliationSession interface {
	Initiate() (string, error)

	// Reconcile returns the next message to send (empty when finished), the ids only we have
	// and the ids only the relay has.
	Reconcile(msg string) (next string, have []ID, need []ID, err error)
}

// NegentropyProtocol is NIP-77 negentropy, version 1.
type NegentropyProtocol struct{}

func (NegentropyProtocol) NewSession(items []NegentropyItem, frameSizeLimit int) (ReconciliationSession, error) {
	vec := vector.New()
	for _, item := range items {
		vec.Insert(uint64(item.Timestamp), item.ID)
	}
	vec.Seal()

	neg, err := negentropy.New(vec, frameSizeLimit)
	if err != nil {
		return nil, err
	}
	return negentropySession{neg}, nil
}

type negentropySession struct {
	neg *negentropy.Negentropy
}

func (s negentropySession) Initiate() (string, error) { return s.neg.Initiate() }

func (s negentropySession) Reconcile(msg string) (string, []ID, []ID, error) {
	next, have, need, err := s.neg.Reconcile(msg)
	if err != nil {
		return "", nil, nil, err
	}
	return next, toIDs(have), toIDs(need), nil
}

func toIDs(list [][32]byte) []ID {
	ids := make([]ID, len(list))
	for i, id := range list {
		ids[i] = ID(id)
	}
	return ids
}

type SyncDirection uint8

const (
	// SyncBoth sends what the relay lacks and fetches what we lack.
	SyncBoth SyncDirection = iota
	// SyncUp only sends.
	SyncUp
	// SyncDown only fetches.
	SyncDown
)

func (d SyncDirection) String() string {
	switch d {
	case SyncUp:
		return "up"
	case SyncDown:
		return "down"
	default:
		return "both"
	}
}

func (d SyncDirection) up() bool   { return d == SyncBoth || d == SyncUp }
func (d SyncDirection) down() bool { return d == SyncBoth || d == SyncDown }

type SyncOptions struct {
	Direction SyncDirection

	// DryRun only computes the differences.
	DryRun bool

	// Timeout bounds each round trip. Defaults to 30 seconds.
	Timeout time.Duration

	// FrameSizeLimit caps the size of each reconciliation message.
	FrameSizeLimit int

	// Protocol defaults to NegentropyProtocol.
	Protocol ReconciliationProtocol
}

func (opts SyncOptions) timeout() time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return defaultSyncTimeout
}

// Reconciliation is the outcome of syncing with one or more relays.
type Reconciliation struct {
	// Local are ids we have and the relay doesn't.
	Local []ID
	// Remote are ids the relay has and we don't.
	Remote []ID

	Sent         []ID
	Received     []ID
	SendFailures map[ID]string
}

func (rec Reconciliation) IsEmpty() bool { return len(rec.Local) == 0 && len(rec.Remote) == 0 }

func (rec Reconciliation) String() string {
	return fmt.Sprintf("Reconciliation{local=%d remote=%d sent=%d received=%d failures=%d}",
		len(rec.Local), len(rec.Remote), len(rec.Sent), len(rec.Received), len(rec.SendFailures))
}

func (rec *Reconciliation) merge(other Reconciliation) {
	rec.Local = appendUnique(rec.Local, other.Local)
	rec.Remote = appendUnique(rec.Remote, other.Remote)
	rec.Sent = appendUnique(rec.Sent, other.Sent)
	rec.Received = appendUnique(rec.Received, other.Received)
	for id, reason := range other.SendFailures {
		if rec.SendFailures == nil {
			rec.SendFailures = make(map[ID]string)
		}
		rec.SendFailures[id] = reason
	}
}

func appendUnique(dst []ID, src []ID) []ID {
	for _, id := range src {
		if !slices.Contains(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}

// Sync reconciles the events matching filter with the relay. items are what we have locally,
// when nil they are taken from the database.
func (r *Relay) Sync(ctx context.Context, filter Filter, items []NegentropyItem, opts SyncOptions) (Reconciliation, error) {
	db := r.opts.Database
	if items == nil && db != nil {
		var err error
		if items, err = db.NegentropyItems(ctx, filter); err != nil {
			return Reconciliation{}, fmt.Errorf("failed to load local items: %w", err)
		}
	}

	rec, err := r.reconcile(ctx, filter, items, opts)
	if err != nil || opts.DryRun {
		return rec, err
	}

	if opts.Direction.up() && len(rec.Local) > 0 {
		if db == nil {
			return rec, fmt.Errorf("can't send events: %w", ErrNoDatabase)
		}
		r.syncUp(ctx, &rec, db, opts)
	}

	if opts.Direction.down() && len(rec.Remote) > 0 {
		if err := r.syncDown(ctx, &rec, opts); err != nil {
			return rec, err
		}
	}

	return rec, nil
}

func (r *Relay) reconcile(ctx context.Context, filter Filter, items []NegentropyItem, opts SyncOptions) (Reconciliation, error) {
	rec := Reconciliation{}

	conn, err := r.readyConnection(ctx, false)
	if err != nil {
		return rec, err
	}

	protocol := opts.Protocol
	if protocol == nil {
		protocol = NegentropyProtocol{}
	}
	frameSizeLimit := opts.FrameSizeLimit
	if frameSizeLimit == 0 {
		frameSizeLimit = defaultNegFrameSize
	}
	session, err := protocol.NewSession(items, frameSizeLimit)
	if err != nil {
		return rec, err
	}

	id := makeSubscriptionID(subscriptionIDCounter.Add(1), "neg")
	ch := make(chan Envelope, 4)
	r.negSessions.Store(id, ch)
	defer r.negSessions.Delete(id)

	msg, err := session.Initiate()
	if err != nil {
		return rec, err
	}

	send := func(env Envelope) error {
		b, err := env.MarshalJSON()
		if err != nil {
			return err
		}
		wctx, cancel := context.WithTimeoutCause(ctx, opts.timeout(), ErrTimeout)
		defer cancel()
		return conn.write(wctx, b)
	}

	if err := send(&NegOpenEnvelope{SubscriptionID: id, Filter: filter, Message: msg}); err != nil {
		return rec, err
	}
	closed := false
	defer func() {
		if !closed {
			send(&NegCloseEnvelope{SubscriptionID: id})
		}
	}()

	for round := 1; ; round++ {
		timer := time.NewTimer(opts.timeout())
		var env Envelope
		select {
		case env = <-ch:
			timer.Stop()
		case <-timer.C:
			return rec, fmt.Errorf("%w: waiting for negentropy round %d from %s", ErrTimeout, round, r.URL)
		case <-ctx.Done():
			timer.Stop()
			return rec, context.Cause(ctx)
		case <-conn.closedNotify:
			timer.Stop()
			return rec, fmt.Errorf("relay: %w", ErrDisconnected)
		}

		switch env := env.(type) {
		case *NegErrorEnvelope:
			closed = true // the relay already dropped it
			return rec, RelayMessageError{Message: env.Reason}
		case *NegMessageEnvelope:
			next, have, need, err := session.Reconcile(env.Message)
			if err != nil {
				return rec, fmt.Errorf("failed to reconcile: %w", err)
			}
			rec.Local = appendUnique(rec.Local, have)
			rec.Remote = appendUnique(rec.Remote, need)

			if next == "" {
				debugLogf("{%s} negentropy done after %d rounds: %s", r.URL, round, rec)
				return rec, nil
			}
			if err := send(&NegMessageEnvelope{SubscriptionID: id, Message: next}); err != nil {
				return rec, err
			}
		}
	}
}

func (r *Relay) syncUp(ctx context.Context, rec *Reconciliation, db Database, opts SyncOptions) {
	for _, id := range rec.Local {
		evt, found, err := db.EventByID(ctx, id)
		if err == nil && !found {
			err = errors.New("not found in local database")
		}
		if err == nil {
			err = r.publishEvent(ctx, evt, SendOptions{Timeout: opts.Timeout})
		}

		if err != nil {
			if rec.SendFailures == nil {
				rec.SendFailures = make(map[ID]string)
			}
			rec.SendFailures[id] = err.Error()
			continue
		}
		rec.Sent = append(rec.Sent, id)
	}
}

func (r *Relay) syncDown(ctx context.Context, rec *Reconciliation, opts SyncOptions) error {
	for batch := range slices.Chunk(rec.Remote, syncFetchBatchSize) {
		events, err := r.FetchEvents(ctx, []Filter{{IDs: batch}}, opts.timeout())
		for _, evt := range events {
			rec.Received = append(rec.Received, evt.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to fetch missing events: %w", err)
		}
	}
	return nil
}

// Sync reconciles with every read or write relay.
func (pool *Pool) Sync(ctx context.Context, filter Filter, opts SyncOptions) (Output[Reconciliation], error) {
	return pool.SyncWith(ctx, pool.RelaysWith(CapRead|CapWrite), filter, opts)
}

func (pool *Pool) SyncWith(ctx context.Context, urls []string, filter Filter, opts SyncOptions) (Output[Reconciliation], error) {
	if pool.shutdown.Load() {
		return Output[Reconciliation]{}, ErrShutdown
	}

	if opts.Protocol == nil {
		opts.Protocol = pool.reconciliation
	}

	// items are computed once and shared
	items := []NegentropyItem{}
	if db := pool.relayOptions.Database; db != nil {
		var err error
		if items, err = db.NegentropyItems(ctx, filter); err != nil {
			return Output[Reconciliation]{}, fmt.Errorf("failed to load local items: %w", err)
		}
	} else if !opts.DryRun {
		return Output[Reconciliation]{}, ErrNoDatabase
	}

	return fanOut(pool, ctx, urls, func(ctx context.Context, relay *Relay, c *outputCollector[Reconciliation]) error {
		rec, err := relay.Sync(ctx, filter, items, opts)
		if err != nil {
			return err
		}
		c.update(func(val *Reconciliation) { val.merge(rec) })
		return nil
	})
}
