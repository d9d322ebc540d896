package nostr

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// Pool manages connections to multiple relays and runs operations on many of them at once.
type Pool struct {
	mu     sync.RWMutex
	relays map[string]*Relay

	Context context.Context
	cancel  context.CancelCauseFunc

	// Blacklist and Filtering are shared by every relay in the pool.
	Blacklist *Blacklist
	Filtering *Filtering

	relayOptions   RelayOptions
	maxConcurrency int
	reconciliation ReconciliationProtocol

	shutdown *atomic.Bool
	bus      *notificationBus

	seenMu sync.Mutex
	seen   *ristretto.Cache[uint64, []string]
	// ids the cache refused to admit, so they are still known as seen
	rejected *xsync.MapOf[uint64, []string]
}

type PoolOptions struct {
	// RelayOptions are any options that should be passed to Relays instantiated by this pool.
	// Blacklist and Filtering are replaced by the pool's own.
	RelayOptions RelayOptions

	// FilteringMode is the initial mode of Pool.Filtering.
	FilteringMode FilteringMode

	// NotificationBufferSize is the size of each listener buffer, after which the oldest
	// notifications start being dropped. Defaults to 1024.
	NotificationBufferSize int

	// MaxConcurrency limits how many relays are handled at the same time in operations that
	// target many relays. Zero means no limit.
	MaxConcurrency int

	// SeenCacheSize is how many event ids are remembered for SeenOn() and for deciding which
	// events are new. Defaults to 100000.
	SeenCacheSize int64

	// Reconciliation defaults to NIP-77 negentropy.
	Reconciliation ReconciliationProtocol
}

// NewPool creates a new Pool with the given options.
func NewPool(opts PoolOptions) *Pool {
	ctx, cancel := context.WithCancelCause(context.Background())

	seenCacheSize := opts.SeenCacheSize
	if seenCacheSize <= 0 {
		seenCacheSize = 100_000
	}
	seen, err := ristretto.NewCache(&ristretto.Config[uint64, []string]{
		NumCounters: seenCacheSize * 10,
		MaxCost:     seenCacheSize,
		BufferItems: 64,
		KeyToHash:   func(key uint64) (uint64, uint64) { return key, 0 },
	})
	if err != nil {
		panic(fmt.Errorf("failed to create seen cache: %w", err))
	}

	reconciliation := opts.Reconciliation
	if reconciliation == nil {
		reconciliation = NegentropyProtocol{}
	}

	return &Pool{
		relays:         make(map[string]*Relay),
		Context:        ctx,
		cancel:         cancel,
		Blacklist:      NewBlacklist(),
		Filtering:      NewFiltering(opts.FilteringMode),
		relayOptions:   opts.RelayOptions,
		maxConcurrency: opts.MaxConcurrency,
		reconciliation: reconciliation,
		shutdown:       &atomic.Bool{},
		bus:            newNotificationBus(opts.NotificationBufferSize),
		seen:           seen,
		rejected:       xsync.NewMapOf[uint64, []string](),
	}
}

func (pool *Pool) IsShutdown() bool { return pool.shutdown.Load() }

// DroppedNotifications counts notifications thrown away because some listener wasn't reading.
func (pool *Pool) DroppedNotifications() int64 { return pool.bus.dropped.Value() }

// Notifications returns a channel that gets everything that happens in the pool from now on,
// until ctx is canceled or the pool is shut down. Slow readers lose the oldest notifications.
func (pool *Pool) Notifications(ctx context.Context) <-chan Notification {
	return pool.bus.subscribe(ctx)
}

// AddRelay adds a relay with the pool's default options. If the relay is already there it just
// gets the given capabilities added and false is returned.
func (pool *Pool) AddRelay(url string, caps RelayCapabilities) (bool, error) {
	return pool.AddRelayWithOptions(url, caps, pool.relayOptions)
}

func (pool *Pool) AddRelayWithOptions(url string, caps RelayCapabilities, opts RelayOptions) (bool, error) {
	if pool.shutdown.Load() {
		return false, ErrShutdown
	}

	nm := NormalizeURL(url)
	if !IsValidRelayURL(nm) {
		return false, fmt.Errorf("invalid relay URL '%s'", url)
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	if relay, ok := pool.relays[nm]; ok {
		relay.AddCapabilities(caps)
		return false, nil
	}

	opts.Blacklist = pool.Blacklist
	opts.Filtering = pool.Filtering
	opts.Capabilities = caps

	relay := NewRelay(pool.Context, nm, opts)
	relay.shutdown = pool.shutdown
	relay.hooks = relayHooks{
		onStatus: func(r *Relay, old, new RelayStatus) {
			pool.bus.publish(RelayStatusNotification{Relay: r.URL, Old: old, New: new})
		},
		onMessage: func(r *Relay, env Envelope) {
			pool.bus.publish(MessageNotification{Relay: r.URL, Message: env})
		},
		onEvent: func(r *Relay, subID string, evt Event) {
			if pool.markSeen(evt.ID, r.URL) {
				pool.bus.publish(EventNotification{Relay: r.URL, SubscriptionID: subID, Event: evt})
			}
		},
	}
	pool.relays[nm] = relay

	return true, nil
}

// Relay gets a relay from the pool.
func (pool *Pool) Relay(url string) (*Relay, error) {
	if pool.shutdown.Load() {
		return nil, ErrShutdown
	}

	pool.mu.RLock()
	defer pool.mu.RUnlock()
	relay, ok := pool.relays[NormalizeURL(url)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRelayNotFound, url)
	}
	return relay, nil
}

// Relays returns a copy of the relay map.
func (pool *Pool) Relays() map[string]*Relay {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	return maps.Clone(pool.relays)
}

// RelaysWith returns the URLs of the relays that have any of the given capabilities, sorted.
func (pool *Pool) RelaysWith(caps RelayCapabilities) []string {
	pool.mu.RLock()
	defer pool.mu.RUnlock()

	urls := make([]string, 0, len(pool.relays))
	for url, relay := range pool.relays {
		if relay.Capabilities().HasAny(caps) {
			urls = append(urls, url)
		}
	}
	slices.Sort(urls)
	return urls
}

// RemoveRelay disconnects and removes a relay, except when it is still required for gossip:
// in that case it stays but stops being used for reading and writing.
func (pool *Pool) RemoveRelay(ctx context.Context, url string) error {
	return pool.removeRelay(ctx, url, false)
}

// ForceRemoveRelay removes a relay no matter what.
func (pool *Pool) ForceRemoveRelay(ctx context.Context, url string) error {
	return pool.removeRelay(ctx, url, true)
}

func (pool *Pool) removeRelay(ctx context.Context, url string, force bool) error {
	if pool.shutdown.Load() {
		return ErrShutdown
	}

	nm := NormalizeURL(url)

	pool.mu.Lock()
	relay, ok := pool.relays[nm]
	if !ok {
		pool.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRelayNotFound, url)
	}
	if !force && relay.Capabilities().Has(CapGossip) {
		pool.mu.Unlock()
		relay.RemoveCapabilities(CapRead | CapWrite)
		Logger.Debug().Str("relay", nm).Msg("relay needed for gossip, not removing")
		return nil
	}
	delete(pool.relays, nm)
	pool.mu.Unlock()

	return relay.close(errors.New("removed from pool"))
}

func (pool *Pool) RemoveAllRelays(ctx context.Context, force bool) error {
	if pool.shutdown.Load() {
		return ErrShutdown
	}
	for _, url := range slices.Collect(maps.Keys(pool.Relays())) {
		if err := pool.removeRelay(ctx, url, force); err != nil && !errors.Is(err, ErrRelayNotFound) {
			return err
		}
	}
	return nil
}

// Connect connects to all relays that aren't connected yet, each one bounded by timeout.
func (pool *Pool) Connect(ctx context.Context, timeout time.Duration) (Output[struct{}], error) {
	return pool.ConnectTo(ctx, slices.Collect(maps.Keys(pool.Relays())), timeout)
}

func (pool *Pool) ConnectTo(ctx context.Context, urls []string, timeout time.Duration) (Output[struct{}], error) {
	return fanOut(pool, ctx, urls, func(ctx context.Context, relay *Relay, _ *outputCollector[struct{}]) error {
		return relay.TryConnect(ctx, timeout)
	})
}

func (pool *Pool) ConnectRelay(ctx context.Context, url string, timeout time.Duration) error {
	relay, err := pool.Relay(url)
	if err != nil {
		return err
	}
	return relay.TryConnect(ctx, timeout)
}

// Disconnect disconnects every relay but keeps them in the pool.
func (pool *Pool) Disconnect() error {
	if pool.shutdown.Load() {
		return ErrShutdown
	}
	for _, relay := range pool.Relays() {
		relay.Disconnect()
	}
	return nil
}

func (pool *Pool) DisconnectRelay(url string) error {
	relay, err := pool.Relay(url)
	if err != nil {
		return err
	}
	return relay.Disconnect()
}

func (pool *Pool) BanRelay(url string) error {
	relay, err := pool.Relay(url)
	if err != nil {
		return err
	}
	relay.Ban()
	return nil
}

// Shutdown removes every relay and stops the pool for good. Only the first call does anything.
func (pool *Pool) Shutdown() {
	if !pool.shutdown.CompareAndSwap(false, true) {
		return
	}

	pool.mu.Lock()
	relays := pool.relays
	pool.relays = make(map[string]*Relay)
	pool.mu.Unlock()

	for _, relay := range relays {
		relay.close(ErrShutdown)
	}

	pool.bus.publish(ShutdownNotification{})
	pool.bus.close()
	pool.cancel(ErrShutdown)
	pool.seen.Close()
}

// markSeen records that an event came from a relay and says if it was the first time we saw it.
func (pool *Pool) markSeen(id ID, url string) (first bool) {
	if pool.shutdown.Load() {
		return false
	}

	key := binary.BigEndian.Uint64(id[32-8:])

	pool.seenMu.Lock()
	defer pool.seenMu.Unlock()

	relays, ok := pool.lookupSeen(key)
	if ok && slices.Contains(relays, url) {
		return false
	}
	relays = append(slices.Clone(relays), url)
	pool.seen.Set(key, relays, 1)
	pool.seen.Wait()

	if _, stored := pool.seen.Get(key); stored {
		pool.rejected.Delete(key)
	} else {
		if pool.rejected.Size() >= maxRejectedSeen {
			pool.rejected.Clear()
		}
		pool.rejected.Store(key, relays)
	}
	return !ok
}

// maxRejectedSeen bounds the fallback for ids the seen cache didn't admit.
const maxRejectedSeen = 4096

func (pool *Pool) lookupSeen(key uint64) ([]string, bool) {
	if relays, ok := pool.seen.Get(key); ok {
		return relays, true
	}
	return pool.rejected.Load(key)
}

// SeenOn returns the relays an event was received from, as far as the pool remembers.
func (pool *Pool) SeenOn(id ID) []string {
	if pool.shutdown.Load() {
		return nil
	}
	relays, _ := pool.lookupSeen(binary.BigEndian.Uint64(id[32-8:]))
	return slices.Clone(relays)
}

// fanOut runs fn on every relay at the same time and collects the results, one relay's failure
// never affects the others.
func fanOut[T any](
	pool *Pool,
	ctx context.Context,
	urls []string,
	fn func(ctx context.Context, relay *Relay, c *outputCollector[T]) error,
) (Output[T], error) {
	if pool.shutdown.Load() {
		return Output[T]{}, ErrShutdown
	}

	targets := make([]string, 0, len(urls))
	for _, url := range urls {
		nm := NormalizeURL(url)
		if nm == "" {
			nm = url
		}
		if !slices.Contains(targets, nm) {
			targets = append(targets, nm)
		}
	}
	if len(targets) == 0 {
		return Output[T]{Success: map[string]struct{}{}, Failed: map[string]string{}}, ErrNoRelays
	}

	c := newOutputCollector[T](targets)
	g := errgroup.Group{}
	if pool.maxConcurrency > 0 {
		g.SetLimit(pool.maxConcurrency)
	}

	for _, url := range targets {
		g.Go(func() error {
			relay, err := pool.Relay(url)
			if err != nil {
				c.failure(url, err)
				return nil
			}
			if err := fn(ctx, relay, c); err != nil {
				debugLogf("[pool] %s failed: %s", url, err)
				c.failure(url, err)
			} else {
				c.success(url)
			}
			return nil
		})
	}
	g.Wait()

	return c.result(), nil
}

// SendEvent publishes an event to every write relay.
func (pool *Pool) SendEvent(ctx context.Context, evt Event, opts SendOptions) (Output[ID], error) {
	return pool.SendEventTo(ctx, pool.RelaysWith(CapWrite), evt, opts)
}

func (pool *Pool) SendEventTo(ctx context.Context, urls []string, evt Event, opts SendOptions) (Output[ID], error) {
	out, err := fanOut(pool, ctx, urls, func(ctx context.Context, relay *Relay, _ *outputCollector[ID]) error {
		return relay.publishEvent(ctx, evt, opts)
	})
	out.Val = evt.ID
	return out, err
}

func (pool *Pool) SendMsgTo(ctx context.Context, urls []string, env Envelope, opts SendOptions) (Output[struct{}], error) {
	return fanOut(pool, ctx, urls, func(ctx context.Context, relay *Relay, _ *outputCollector[struct{}]) error {
		return relay.SendMsg(ctx, env, opts)
	})
}

// Subscribe opens the same subscription on every read relay. Events are delivered through
// Notifications() as EventNotification.
func (pool *Pool) Subscribe(ctx context.Context, filters []Filter, opts SubscribeOptions) (Output[string], error) {
	return pool.SubscribeTo(ctx, pool.RelaysWith(CapRead), filters, opts)
}

func (pool *Pool) SubscribeTo(ctx context.Context, urls []string, filters []Filter, opts SubscribeOptions) (Output[string], error) {
	if opts.ID == "" {
		opts.ID = makeSubscriptionID(subscriptionIDCounter.Add(1), opts.Label)
	}
	opts.notifyOnly = true

	out, err := fanOut(pool, ctx, urls, func(ctx context.Context, relay *Relay, _ *outputCollector[string]) error {
		_, err := relay.Subscribe(ctx, filters, opts)
		return err
	})
	out.Val = opts.ID
	return out, err
}

// Unsubscribe closes the subscription with the given id on every relay that has it.
func (pool *Pool) Unsubscribe(ctx context.Context, id string) error {
	if pool.shutdown.Load() {
		return ErrShutdown
	}
	for _, relay := range pool.Relays() {
		if sub, ok := relay.Subscriptions.Load(id); ok {
			sub.unsub(errors.New("unsubscribed"))
		}
	}
	return nil
}

func (pool *Pool) UnsubscribeAll(ctx context.Context) error {
	if pool.shutdown.Load() {
		return ErrShutdown
	}
	for _, relay := range pool.Relays() {
		relay.UnsubscribeAll()
	}
	return nil
}

// FetchEvents queries every read relay until "EOSE" and returns the events, deduplicated and newest first.
func (pool *Pool) FetchEvents(ctx context.Context, filters []Filter, timeout time.Duration) (Output[[]Event], error) {
	return pool.FetchEventsFrom(ctx, pool.RelaysWith(CapRead), filters, timeout)
}

func (pool *Pool) FetchEventsFrom(ctx context.Context, urls []string, filters []Filter, timeout time.Duration) (Output[[]Event], error) {
	seenAlready := xsync.NewMapOf[ID, struct{}]()

	out, err := fanOut(pool, ctx, urls, func(ctx context.Context, relay *Relay, c *outputCollector[[]Event]) error {
		events, err := relay.FetchEvents(ctx, filters, timeout)
		if err != nil {
			return err
		}
		c.update(func(val *[]Event) {
			for _, evt := range events {
				if _, loaded := seenAlready.LoadOrStore(evt.ID, struct{}{}); !loaded {
					*val = append(*val, evt)
				}
			}
		})
		return nil
	})

	slices.SortFunc(out.Val, CompareEventReverse)
	return out, err
}

// StreamEventsFrom is like FetchEventsFrom, but returns events as they arrive. The channel is
// closed when all relays have sent "EOSE" (or failed) or when ctx is canceled.
func (pool *Pool) StreamEventsFrom(ctx context.Context, urls []string, filters []Filter) (chan RelayEvent, error) {
	if pool.shutdown.Load() {
		return nil, ErrShutdown
	}

	ctx, cancel := context.WithCancelCause(ctx)
	seenAlready := xsync.NewMapOf[ID, struct{}]()
	events := make(chan RelayEvent)
	wg := sync.WaitGroup{}

	for _, url := range urls {
		relay, err := pool.Relay(url)
		if err != nil {
			debugLogf("[pool] can't stream from %s: %s", url, err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			sub, err := relay.Subscribe(ctx, filters, SubscribeOptions{Label: "stream", AutoClose: ExitOnEOSE()})
			if err != nil {
				debugLogf("[pool] error subscribing to %s with %v: %s", relay, filters, err)
				return
			}
			defer sub.Unsub()

			for {
				select {
				case <-ctx.Done():
					return
				case evt, more := <-sub.Events:
					if !more {
						return
					}
					if _, loaded := seenAlready.LoadOrStore(evt.ID, struct{}{}); loaded {
						continue
					}
					select {
					case events <- RelayEvent{Event: evt, Relay: relay}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	go func() {
		// this will happen when all subscriptions get an eose (or when they die)
		wg.Wait()
		cancel(errors.New("all subscriptions ended"))
		close(events)
	}()

	return events, nil
}

// CountFrom asks every relay for a count. Val is the highest count reported.
func (pool *Pool) CountFrom(ctx context.Context, urls []string, filters []Filter) (Output[uint32], error) {
	return fanOut(pool, ctx, urls, func(ctx context.Context, relay *Relay, c *outputCollector[uint32]) error {
		count, err := relay.Count(ctx, filters, SubscribeOptions{})
		if err != nil {
			return err
		}
		c.update(func(val *uint32) { *val = max(*val, count) })
		return nil
	})
}
