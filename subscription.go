package nostr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var subscriptionIDCounter atomic.Int64

type autoCloseMode uint8

const (
	autoCloseOnEOSE autoCloseMode = iota + 1
	autoCloseAfterEvents
	autoCloseAfterDuration
)

// AutoClosePolicy decides when a subscription closes itself after the relay signals the end of
// stored events. A nil policy means the subscription stays open until unsubscribed.
type AutoClosePolicy struct {
	mode     autoCloseMode
	events   int
	duration time.Duration
}

// ExitOnEOSE closes the subscription as soon as "EOSE" is received.
func ExitOnEOSE() *AutoClosePolicy { return &AutoClosePolicy{mode: autoCloseOnEOSE} }

// WaitForEventsAfterEOSE keeps the subscription open until n more events arrive after "EOSE".
func WaitForEventsAfterEOSE(n int) *AutoClosePolicy {
	return &AutoClosePolicy{mode: autoCloseAfterEvents, events: n}
}

// WaitDurationAfterEOSE keeps the subscription open for d after "EOSE".
func WaitDurationAfterEOSE(d time.Duration) *AutoClosePolicy {
	return &AutoClosePolicy{mode: autoCloseAfterDuration, duration: d}
}

type SubscribeOptions struct {
	// ID overrides the generated subscription id.
	ID string

	// Label is appended to the generated subscription id, for debugging.
	Label string

	AutoClose *AutoClosePolicy

	// Timeout bounds the time spent waiting to send the "REQ".
	Timeout time.Duration

	// SkipDisconnected makes the call fail immediately when the relay is not connected instead of
	// waiting for it to (re)connect.
	SkipDisconnected bool

	// events are only reported through pool notifications
	notifyOnly bool
}

// Subscription represents a "REQ" sent to one relay.
type Subscription struct {
	id      string
	Relay   *Relay
	Filters []Filter

	// Events is written to, in the order the relay sent them, with every event that passes all checks.
	// It is closed when the subscription ends.
	Events chan Event

	// EndOfStoredEvents receives a single value when "EOSE" arrives.
	EndOfStoredEvents chan struct{}

	// ClosedReason receives the message of a "CLOSED" sent by the relay.
	ClosedReason chan string

	// Context is canceled when the subscription ends, its cause tells why.
	Context context.Context
	cancel  context.CancelCauseFunc

	autoClose       *AutoClosePolicy
	notifyOnly      bool
	live            atomic.Bool
	eosed           atomic.Bool
	closed          atomic.Bool
	authRetried     atomic.Bool
	eventsAfterEose atomic.Int64

	eventsMu     sync.Mutex
	eventsClosed bool

	countResult chan uint32
}

func (sub *Subscription) ID() string { return sub.id }

// IsLive tells if the "REQ" was sent and the subscription is not closed yet.
func (sub *Subscription) IsLive() bool { return sub.live.Load() && !sub.closed.Load() }

func (sub *Subscription) match(evt Event) bool {
	for _, filter := range sub.Filters {
		if filter.Matches(evt) {
			return true
		}
	}
	return false
}

func (sub *Subscription) dispatchEvent(evt Event) {
	if !sub.notifyOnly {
		sub.eventsMu.Lock()
		if !sub.eventsClosed {
			select {
			case sub.Events <- evt:
			case <-sub.Context.Done():
			}
		}
		sub.eventsMu.Unlock()
	}

	if sub.eosed.Load() && sub.autoClose != nil && sub.autoClose.mode == autoCloseAfterEvents {
		if sub.eventsAfterEose.Add(1) >= int64(sub.autoClose.events) {
			go sub.unsub(errors.New("received enough events after eose"))
		}
	}
}

func (sub *Subscription) dispatchEose() {
	if !sub.eosed.CompareAndSwap(false, true) {
		return
	}

	select {
	case sub.EndOfStoredEvents <- struct{}{}:
	default:
	}

	if sub.autoClose == nil {
		return
	}
	switch sub.autoClose.mode {
	case autoCloseOnEOSE:
		go sub.unsub(errors.New("eose"))
	case autoCloseAfterEvents:
		if sub.autoClose.events <= 0 {
			go sub.unsub(errors.New("eose"))
		}
	case autoCloseAfterDuration:
		time.AfterFunc(sub.autoClose.duration, func() {
			sub.unsub(errors.New("waited enough after eose"))
		})
	}
}

func (sub *Subscription) handleClosed(reason string) {
	r := sub.Relay
	if err := (RelayMessageError{Message: reason}); errors.Is(err, ErrAuthenticationFailed) &&
		r.opts.AutomaticAuthentication && r.opts.Signer != nil && sub.authRetried.CompareAndSwap(false, true) {
		// authenticate and send the same "REQ" again, only once
		sub.live.Store(false)
		go func() {
			ctx, cancel := context.WithTimeout(sub.Context, r.publishTimeout())
			defer cancel()
			if err := r.Auth(ctx, r.opts.Signer); err != nil {
				sub.closeWithReason(reason)
				return
			}
			if err := sub.fire(ctx); err != nil {
				sub.closeWithReason(reason)
			}
		}()
		return
	}

	sub.closeWithReason(reason)
}

func (sub *Subscription) closeWithReason(reason string) {
	select {
	case sub.ClosedReason <- reason:
	default:
	}
	sub.live.Store(false) // the relay already forgot it, no need to send a "CLOSE"
	sub.unsub(RelayMessageError{Message: reason})
}

// Unsub closes the subscription, sending a "CLOSE" to the relay if needed.
func (sub *Subscription) Unsub() {
	sub.unsub(errors.New("Unsub() called"))
}

func (sub *Subscription) unsub(err error) {
	if !sub.closed.CompareAndSwap(false, true) {
		return
	}

	sub.cancel(err)

	if sub.live.Swap(false) {
		if conn := sub.Relay.currentConnection(); conn != nil && !conn.isClosed() {
			closeMsg, _ := CloseEnvelope(sub.id).MarshalJSON()
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := conn.write(ctx, closeMsg); err != nil {
				debugLogf("{%s} failed to send CLOSE for %s: %s", sub.Relay.URL, sub.id, err)
			}
			cancel()
		}
	}

	sub.Relay.Subscriptions.Delete(sub.id)

	sub.eventsMu.Lock()
	if !sub.eventsClosed {
		sub.eventsClosed = true
		close(sub.Events)
	}
	sub.eventsMu.Unlock()
}

// fire sends the "REQ" (or "COUNT") for this subscription.
func (sub *Subscription) fire(ctx context.Context) error {
	var msg []byte
	if sub.countResult != nil {
		msg, _ = CountEnvelope{SubscriptionID: sub.id, Filters: sub.Filters}.MarshalJSON()
	} else {
		msg, _ = ReqEnvelope{SubscriptionID: sub.id, Filters: sub.Filters}.MarshalJSON()
	}

	conn := sub.Relay.currentConnection()
	if conn == nil {
		return ErrNotConnected
	}

	sub.live.Store(true)
	if err := conn.write(ctx, msg); err != nil {
		sub.live.Store(false)
		return fmt.Errorf("failed to send subscription: %w", err)
	}

	return nil
}
