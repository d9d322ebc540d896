package nostr

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Notification is anything sent through Pool.Notifications().
type Notification interface {
	isNotification()
}

// EventNotification is emitted the first time the pool sees an event, whatever relay it came from.
// Seen ids live in a bounded cache, an id evicted from it is announced again if it shows up later.
type EventNotification struct {
	Relay          string
	SubscriptionID string
	Event          Event
}

// MessageNotification is emitted for every message received from every relay.
type MessageNotification struct {
	Relay   string
	Message Envelope
}

type RelayStatusNotification struct {
	Relay string
	Old   RelayStatus
	New   RelayStatus
}

// ShutdownNotification is the last notification ever emitted by a pool.
type ShutdownNotification struct{}

func (EventNotification) isNotification()       {}
func (MessageNotification) isNotification()     {}
func (RelayStatusNotification) isNotification() {}
func (ShutdownNotification) isNotification()    {}

// notificationBus delivers every notification to all current listeners.
// There is no replay, and when a listener is full the oldest pending notification
// is dropped so producers (the relay read loops) never block.
type notificationBus struct {
	mu         sync.RWMutex
	listeners  map[*listener]struct{}
	bufferSize int
	closed     bool
	done       chan struct{}
	dropped    *xsync.Counter
}

type listener struct {
	mu     sync.Mutex
	ch     chan Notification
	closed bool
}

func newNotificationBus(bufferSize int) *notificationBus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &notificationBus{
		listeners:  make(map[*listener]struct{}),
		bufferSize: bufferSize,
		done:       make(chan struct{}),
		dropped:    xsync.NewCounter(),
	}
}

func (b *notificationBus) subscribe(ctx context.Context) <-chan Notification {
	l := &listener{ch: make(chan Notification, b.bufferSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(l.ch)
		return l.ch
	}
	b.listeners[l] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}
		b.mu.Lock()
		delete(b.listeners, l)
		b.mu.Unlock()
		l.close()
	}()

	return l.ch
}

func (b *notificationBus) publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		if l.push(n) {
			b.dropped.Inc()
		}
	}
}

// close removes all listeners, closing their channels.
func (b *notificationBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for l := range b.listeners {
		l.close()
		delete(b.listeners, l)
	}
}

// push returns true if something had to be dropped.
func (l *listener) push(n Notification) (dropped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	for {
		select {
		case l.ch <- n:
			return dropped
		default:
			select {
			case <-l.ch:
				dropped = true
			default:
			}
		}
	}
}

func (l *listener) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
}
