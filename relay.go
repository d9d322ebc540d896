package nostr

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	defaultConnectTimeout = 7 * time.Second
	defaultPublishTimeout = 7 * time.Second
	reconnectBaseBackoff  = 3 * time.Second
	reconnectMaxBackoff   = 10 * time.Minute
)

// Relay represents a connection to a Nostr relay.
type Relay struct {
	URL string

	opts   RelayOptions
	limits RelayLimits

	status        atomic.Uint32
	statusMu      sync.Mutex
	statusChanged chan struct{}
	connectMu     sync.Mutex
	capabilities  atomic.Uint32
	stats         relayStats

	connMu sync.RWMutex
	conn   *connection

	// lifetime of the relay object, canceled by Close()
	ctx    context.Context
	cancel context.CancelCauseFunc

	Subscriptions *xsync.MapOf[string, *Subscription]
	okCallbacks   *xsync.MapOf[ID, func(bool, string)]
	negSessions   *xsync.MapOf[string, chan Envelope]

	authSession *AuthSession

	shutdown     *atomic.Bool
	reconnecting atomic.Bool
	hooks        relayHooks
}

// relayHooks let a pool observe what happens inside its relays.
type relayHooks struct {
	onStatus  func(r *Relay, old, new RelayStatus)
	onMessage func(r *Relay, env Envelope)
	onEvent   func(r *Relay, subID string, evt Event)
}

type RelayOptions struct {
	// NoticeHandler just takes notices and is expected to do something with them.
	// When not given defaults to logging the notices.
	NoticeHandler func(notice string)

	// CustomHandler, if given, must be a function that handles any relay message
	// that couldn't be parsed as a standard envelope.
	CustomHandler func(data string)

	// RequestHeader sets the HTTP request header of the websocket preflight request
	RequestHeader http.Header
	TLSConfig     *tls.Config

	// Limits defaults to DefaultRelayLimits().
	Limits *RelayLimits

	Admit     AdmitPolicy
	Blacklist *Blacklist
	Filtering *Filtering

	// Database, if given, receives every accepted event.
	Database Database

	// Signer is used to answer AUTH challenges.
	Signer Signer

	// AutomaticAuthentication answers AUTH challenges as soon as they arrive and retries
	// publishes and subscriptions refused with "auth-required:" once.
	AutomaticAuthentication bool

	// MaxMessagesPerMinute limits inbound messages, zero means no limit.
	MaxMessagesPerMinute uint64

	// AssumeValid will skip verifying signatures for events received from this relay.
	AssumeValid bool

	// Reconnect keeps trying to connect again after the connection drops.
	Reconnect bool

	// ReconnectBackoff is the wait before the first reconnection attempt, it grows by 1.7 after
	// every failure up to 10 minutes. Defaults to 3 seconds.
	ReconnectBackoff time.Duration

	Capabilities RelayCapabilities

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	PingInterval   time.Duration
}

type relayStats struct {
	attempts          atomic.Uint64
	success           atomic.Uint64
	bytesSent         atomic.Uint64
	bytesReceived     atomic.Uint64
	connectedAt       atomic.Int64
	firstConnectionAt atomic.Int64
}

// RelayStats is a snapshot of the connection statistics of a relay.
type RelayStats struct {
	Attempts          uint64
	Success           uint64
	BytesSent         uint64
	BytesReceived     uint64
	ConnectedAt       Timestamp
	FirstConnectionAt Timestamp
}

// NewRelay returns a new relay. It takes a context that, when canceled, will close the relay connection.
func NewRelay(ctx context.Context, url string, opts RelayOptions) *Relay {
	ctx, cancel := context.WithCancelCause(ctx)
	r := &Relay{
		URL:           NormalizeURL(url),
		opts:          opts,
		ctx:           ctx,
		cancel:        cancel,
		statusChanged: make(chan struct{}),
		Subscriptions: xsync.NewMapOf[string, *Subscription](),
		okCallbacks:   xsync.NewMapOf[ID, func(bool, string)](),
		negSessions:   xsync.NewMapOf[string, chan Envelope](),
		authSession:   NewAuthSession(),
		shutdown:      &atomic.Bool{},
	}

	if opts.Limits != nil {
		r.limits = *opts.Limits
	} else {
		r.limits = DefaultRelayLimits()
	}
	r.capabilities.Store(uint32(opts.Capabilities))

	return r
}

// RelayConnect returns a relay object connected to url.
//
// The ongoing relay connection uses a background context. To close the connection, call r.Close().
func RelayConnect(ctx context.Context, url string, opts RelayOptions) (*Relay, error) {
	r := NewRelay(context.Background(), url, opts)
	err := r.Connect(ctx)
	return r, err
}

// String just returns the relay URL.
func (r *Relay) String() string { return r.URL }

// Context is canceled when the relay is closed for good.
func (r *Relay) Context() context.Context { return r.ctx }

func (r *Relay) Status() RelayStatus { return RelayStatus(r.status.Load()) }

func (r *Relay) IsConnected() bool {
	conn := r.currentConnection()
	return r.Status() == StatusConnected && conn != nil && !conn.isClosed()
}

func (r *Relay) Stats() RelayStats {
	return RelayStats{
		Attempts:          r.stats.attempts.Load(),
		Success:           r.stats.success.Load(),
		BytesSent:         r.stats.bytesSent.Load(),
		BytesReceived:     r.stats.bytesReceived.Load(),
		ConnectedAt:       Timestamp(r.stats.connectedAt.Load()),
		FirstConnectionAt: Timestamp(r.stats.firstConnectionAt.Load()),
	}
}

func (r *Relay) Limits() RelayLimits { return r.limits }

func (r *Relay) AuthSession() *AuthSession { return r.authSession }

func (r *Relay) Capabilities() RelayCapabilities {
	return RelayCapabilities(r.capabilities.Load())
}

func (r *Relay) SetCapabilities(caps RelayCapabilities) {
	r.capabilities.Store(uint32(caps))
}

func (r *Relay) AddCapabilities(caps RelayCapabilities) {
	for {
		old := r.capabilities.Load()
		if r.capabilities.CompareAndSwap(old, old|uint32(caps)) {
			return
		}
	}
}

func (r *Relay) RemoveCapabilities(caps RelayCapabilities) {
	for {
		old := r.capabilities.Load()
		if r.capabilities.CompareAndSwap(old, old&^uint32(caps)) {
			return
		}
	}
}

func (r *Relay) currentConnection() *connection {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	return r.conn
}

func (r *Relay) publishTimeout() time.Duration {
	if r.opts.PublishTimeout > 0 {
		return r.opts.PublishTimeout
	}
	return defaultPublishTimeout
}

// setStatus moves to a new status, unless the relay is banned.
func (r *Relay) setStatus(status RelayStatus) bool {
	return r.transition(func(RelayStatus) bool { return true }, status)
}

// compareAndSetStatus only moves to status if the relay is currently in from.
func (r *Relay) compareAndSetStatus(from, to RelayStatus) bool {
	return r.transition(func(current RelayStatus) bool { return current == from }, to)
}

func (r *Relay) transition(allowed func(current RelayStatus) bool, status RelayStatus) bool {
	r.statusMu.Lock()
	old := RelayStatus(r.status.Load())
	if !allowed(old) {
		r.statusMu.Unlock()
		return false
	}
	if old == StatusBanned || old == status {
		r.statusMu.Unlock()
		return old == status
	}
	r.status.Store(uint32(status))
	close(r.statusChanged)
	r.statusChanged = make(chan struct{})
	r.statusMu.Unlock()

	Logger.Debug().Str("relay", r.URL).Stringer("from", old).Stringer("to", status).Msg("status changed")
	if r.hooks.onStatus != nil {
		r.hooks.onStatus(r, old, status)
	}
	return true
}

func (r *Relay) statusChangedNotify() <-chan struct{} {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.statusChanged
}

// waitConnected blocks until the relay is connected, it is banned or terminated, or ctx ends.
func (r *Relay) waitConnected(ctx context.Context) error {
	for {
		changed := r.statusChangedNotify()
		switch r.Status() {
		case StatusConnected:
			return nil
		case StatusBanned:
			return ErrBanned
		case StatusInitialized, StatusTerminated:
			return ErrNotConnected
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotConnected, context.Cause(ctx))
		}
	}
}

// Connect tries to establish a websocket connection to r.URL.
// If the context expires before the connection is complete, an error is returned.
// Once successfully connected, context expiration has no effect: call r.Close
// to close the connection.
func (r *Relay) Connect(ctx context.Context) error {
	return r.TryConnect(ctx, 0)
}

// TryConnect connects if the relay status allows it (initialized or terminated), otherwise it does
// nothing and returns nil. A zero timeout means the default of 7 seconds unless ctx has a deadline.
func (r *Relay) TryConnect(ctx context.Context, timeout time.Duration) error {
	if r.shutdown.Load() {
		return ErrShutdown
	}

	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	status := r.Status()
	if status == StatusBanned {
		return ErrBanned
	}
	if !status.CanConnect() {
		return nil
	}

	return r.connect(ctx, timeout, StatusTerminated)
}

func (r *Relay) connect(ctx context.Context, timeout time.Duration, failStatus RelayStatus) error {
	if r.URL == "" {
		return fmt.Errorf("invalid relay URL")
	}

	if !r.setStatus(StatusPending) {
		return ErrBanned
	}

	if st := admitConnection(ctx, r.opts.Admit, r.URL); st.Rejected {
		r.compareAndSetStatus(StatusPending, failStatus)
		Logger.Info().Str("relay", r.URL).Str("reason", st.Reason).Msg("connection rejected by policy")
		return ConnectionRejectedError{Reason: st.Reason}
	}

	if r.shutdown.Load() {
		r.compareAndSetStatus(StatusPending, failStatus)
		return ErrShutdown
	}

	// Disconnect, Ban or Close may have happened while the policy was deciding
	if !r.compareAndSetStatus(StatusPending, StatusConnecting) {
		return r.abortedError()
	}
	r.stats.attempts.Add(1)

	if timeout == 0 {
		timeout = r.opts.ConnectTimeout
	}
	dialCtx := ctx
	if _, ok := dialCtx.Deadline(); !ok || timeout > 0 {
		if timeout <= 0 {
			timeout = defaultConnectTimeout
		}
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeoutCause(ctx, timeout, ErrTimeout)
		defer cancel()
	}

	// messages above MaxMessageSize are dropped by us, the websocket limit is only a last resort
	readLimit := int64(0)
	if r.limits.MaxMessageSize > 2<<24 {
		readLimit = int64(r.limits.MaxMessageSize) + 1
	}

	// each connection gets a fresh bucket, only ever used by its own read loop
	limiter := NewRateLimiter(r.opts.MaxMessagesPerMinute)
	handle := func(message string) {
		if limiter.Check(time.Now()) == RateLimitLimited {
			Logger.Warn().Str("relay", r.URL).Msg("rate limited, dropping message")
			return
		}
		r.handleMessage(message)
	}

	connCtx, connCancel := context.WithCancelCause(r.ctx)
	conn, err := newConnection(
		connCtx,
		dialCtx,
		r.URL,
		connectionOptions{
			requestHeader: r.opts.RequestHeader,
			tlsConfig:     r.opts.TLSConfig,
			readLimit:     readLimit,
			pingInterval:  r.opts.PingInterval,
		},
		handle,
		&r.stats,
		func(reason error) {
			connCancel(reason)
			r.handleConnectionClosed(reason)
		},
	)
	if err != nil {
		connCancel(err)
		r.compareAndSetStatus(StatusConnecting, failStatus)
		if errors.Is(context.Cause(dialCtx), ErrTimeout) {
			return fmt.Errorf("%w connecting to %s: %w", ErrTimeout, r.URL, err)
		}
		return fmt.Errorf("error opening websocket to '%s': %w", r.URL, err)
	}

	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()

	now := int64(Now())
	r.stats.success.Add(1)
	r.stats.connectedAt.Store(now)
	r.stats.firstConnectionAt.CompareAndSwap(0, now)

	if r.shutdown.Load() {
		conn.close()
		r.compareAndSetStatus(StatusConnecting, failStatus)
		return ErrShutdown
	}
	if !r.compareAndSetStatus(StatusConnecting, StatusConnected) {
		conn.close()
		return r.abortedError()
	}
	if conn.isClosed() {
		// the remote side hung up before we got here, onClose saw us still connecting
		r.handleConnectionClosed(ErrDisconnected)
		return fmt.Errorf("connection to %s closed right away: %w", r.URL, ErrDisconnected)
	}

	// after a reconnection subscriptions that were open must be sent again
	for _, sub := range r.Subscriptions.Range {
		if !sub.closed.Load() && !sub.live.Load() {
			if err := sub.fire(ctx); err != nil {
				Logger.Warn().Str("relay", r.URL).Str("sub", sub.id).Err(err).Msg("failed to resubscribe")
			}
		}
	}

	return nil
}

// abortedError explains why a connection attempt was overtaken by another status change.
func (r *Relay) abortedError() error {
	if r.Status() == StatusBanned {
		return ErrBanned
	}
	if r.shutdown.Load() {
		return ErrShutdown
	}
	return fmt.Errorf("connection to %s aborted: %w", r.URL, ErrNotConnected)
}

func (r *Relay) handleConnectionClosed(reason error) {
	for _, sub := range r.Subscriptions.Range {
		sub.live.Store(false)
	}

	if !r.compareAndSetStatus(StatusConnected, StatusDisconnected) {
		// this was caused by us (Disconnect, Ban or a failed connection attempt)
		return
	}
	Logger.Info().Str("relay", r.URL).AnErr("reason", reason).Msg("connection closed")
	r.authSession.reset()

	if r.opts.Reconnect && !r.shutdown.Load() && r.ctx.Err() == nil {
		if r.reconnecting.CompareAndSwap(false, true) {
			go r.reconnectLoop()
		}
		return
	}

	r.closeSubscriptions(fmt.Errorf("connection closed: %w", reason))
	r.compareAndSetStatus(StatusDisconnected, StatusTerminated)
}

// reconnectLoop waits 3s, then 3s*1.7, and so on up to 10 minutes between attempts.
func (r *Relay) reconnectLoop() {
	defer r.reconnecting.Store(false)

	backoff := reconnectBaseBackoff
	if r.opts.ReconnectBackoff > 0 {
		backoff = r.opts.ReconnectBackoff
	}
	for {
		select {
		case <-time.After(backoff):
		case <-r.ctx.Done():
			return
		}

		if r.shutdown.Load() || r.Status() != StatusDisconnected {
			return
		}

		r.connectMu.Lock()
		err := r.connect(r.ctx, r.opts.ConnectTimeout, StatusDisconnected)
		r.connectMu.Unlock()
		if err == nil {
			return
		}

		var rejected ConnectionRejectedError
		if errors.As(err, &rejected) || errors.Is(err, ErrShutdown) || errors.Is(err, ErrBanned) {
			r.closeSubscriptions(err)
			r.compareAndSetStatus(StatusDisconnected, StatusTerminated)
			return
		}

		Logger.Debug().Str("relay", r.URL).Err(err).Dur("backoff", backoff).Msg("reconnection failed")
		backoff = min(backoff*17/10, reconnectMaxBackoff)
	}
}

func (r *Relay) closeSubscriptions(reason error) {
	for _, sub := range r.Subscriptions.Range {
		sub.live.Store(false)
		sub.unsub(reason)
	}
}

// Disconnect closes the connection and all subscriptions. The relay can be connected again later.
func (r *Relay) Disconnect() error {
	r.setStatus(StatusTerminated)
	r.closeSubscriptions(errors.New("Disconnect() called"))

	r.connMu.Lock()
	conn := r.conn
	r.connMu.Unlock()
	if conn != nil {
		conn.close()
	}
	return nil
}

// Ban disconnects and prevents any future connection to this relay.
func (r *Relay) Ban() {
	r.setStatus(StatusBanned)
	r.closeSubscriptions(ErrBanned)
	if conn := r.currentConnection(); conn != nil {
		conn.close()
	}
}

// Close disconnects and releases the relay for good.
func (r *Relay) Close() error {
	return r.close(errors.New("Close() called"))
}

func (r *Relay) close(reason error) error {
	if r.Status() != StatusBanned {
		r.setStatus(StatusTerminated)
	}
	r.closeSubscriptions(reason)
	r.cancel(reason)
	if conn := r.currentConnection(); conn != nil {
		conn.close()
	}
	return nil
}

func (r *Relay) handleMessage(message string) {
	if err := r.limits.checkMessage(message); err != nil {
		Logger.Info().Str("relay", r.URL).Err(err).Msg("dropping message")
		return
	}

	// if this is an "EVENT" we can skip parsing it when we don't have the subscription anymore
	var sub *Subscription
	if strings.HasPrefix(message, `["EVENT"`) {
		var ok bool
		if sub, ok = r.Subscriptions.Load(extractSubID(message)); !ok {
			debugLogf("{%s} event for unknown subscription: %s", r.URL, extractSubID(message))
			return
		}
		if id, ok := extractEventID(message); ok && r.opts.Blacklist != nil && r.opts.Blacklist.HasID(id) {
			return
		}
	}

	envelope, err := ParseMessage(message)
	if envelope == nil {
		if r.opts.CustomHandler != nil && errors.Is(err, ErrUnknownLabel) {
			r.opts.CustomHandler(message)
		} else {
			Logger.Info().Str("relay", r.URL).Err(err).Msg("failed to parse message")
		}
		return
	}

	if r.hooks.onMessage != nil {
		r.hooks.onMessage(r, envelope)
	}

	switch env := envelope.(type) {
	case *NoticeEnvelope:
		if r.opts.NoticeHandler != nil {
			r.opts.NoticeHandler(string(*env))
		} else {
			Logger.Info().Str("relay", r.URL).Str("notice", string(*env)).Msg("NOTICE")
		}
	case *AuthEnvelope:
		if env.Challenge == nil {
			return
		}
		r.authSession.setLastChallenge(*env.Challenge)
		if r.opts.AutomaticAuthentication && r.opts.Signer != nil {
			go func() {
				ctx, cancel := context.WithTimeout(r.ctx, r.publishTimeout())
				defer cancel()
				if err := r.Auth(ctx, r.opts.Signer); err != nil {
					Logger.Warn().Str("relay", r.URL).Err(err).Msg("automatic authentication failed")
				}
			}()
		}
	case *EventEnvelope:
		if sub == nil {
			if env.SubscriptionID == nil {
				return
			}
			var ok bool
			if sub, ok = r.Subscriptions.Load(*env.SubscriptionID); !ok {
				return
			}
		}
		r.handleEvent(sub, env.Event)
	case *EOSEEnvelope:
		if sub, ok := r.Subscriptions.Load(string(*env)); ok {
			sub.dispatchEose()
		}
	case *ClosedEnvelope:
		if sub, ok := r.Subscriptions.Load(env.SubscriptionID); ok {
			sub.handleClosed(env.Reason)
		}
	case *CountEnvelope:
		if sub, ok := r.Subscriptions.Load(env.SubscriptionID); ok && env.Count != nil && sub.countResult != nil {
			select {
			case sub.countResult <- *env.Count:
			default:
			}
		}
	case *OKEnvelope:
		if okCallback, exist := r.okCallbacks.Load(env.EventID); exist {
			okCallback(env.OK, env.Reason)
		} else {
			debugLogf("{%s} got an unexpected OK message for event %s", r.URL, env.EventID)
		}
	case *NegMessageEnvelope:
		r.dispatchNeg(env.SubscriptionID, env)
	case *NegErrorEnvelope:
		r.dispatchNeg(env.SubscriptionID, env)
	}
}

func (r *Relay) dispatchNeg(id string, env Envelope) {
	if ch, ok := r.negSessions.Load(id); ok {
		select {
		case ch <- env:
		default:
			Logger.Warn().Str("relay", r.URL).Str("sub", id).Msg("negentropy session is not reading")
		}
	}
}

// handleEvent runs every check on an event received for a subscription before delivering it.
func (r *Relay) handleEvent(sub *Subscription, evt Event) {
	log := Logger.Info().Str("relay", r.URL).Str("sub", sub.id).Str("event", evt.ID.Hex())

	if err := r.limits.checkEvent(evt); err != nil {
		log.Err(err).Msg("event rejected")
		return
	}

	if r.opts.Blacklist != nil && r.opts.Blacklist.IsBlacklisted(evt) {
		return
	}

	if r.opts.Filtering != nil && !r.opts.Filtering.CheckEvent(evt) {
		return
	}

	if st := admitEvent(sub.Context, r.opts.Admit, r.URL, sub.id, evt); st.Rejected {
		log.Str("reason", st.Reason).Msg("event rejected by policy")
		return
	}

	if !sub.match(evt) {
		log.Msg("filter does not match")
		return
	}

	// check signature, ignore invalid, except from trusted (AssumeValid) relays
	if !r.opts.AssumeValid {
		if err := evt.Verify(); err != nil {
			log.Err(err).Msg("invalid event")
			return
		}
	}

	if r.opts.Database != nil {
		if status, err := r.opts.Database.SaveEvent(sub.Context, evt); err != nil {
			Logger.Warn().Str("relay", r.URL).Str("event", evt.ID.Hex()).Err(err).Msg("failed to save event")
		} else if !status.Success {
			debugLogf("{%s} not saving %s: %s", r.URL, evt.ID, status.Reason)
		}
	}

	sub.dispatchEvent(evt)

	if r.hooks.onEvent != nil {
		r.hooks.onEvent(r, sub.id, evt)
	}
}

type SendOptions struct {
	// Timeout bounds the whole operation, including waiting for an OK. Zero means 7 seconds.
	Timeout time.Duration

	// SkipDisconnected fails immediately when the relay is not connected instead of waiting for it to reconnect.
	SkipDisconnected bool

	// WaitForOK makes SendMsg wait for the OK of an EVENT or AUTH envelope.
	WaitForOK bool
}

func (opts SendOptions) timeout() time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return defaultPublishTimeout
}

// readyConnection gets the current connection, waiting for one unless skipDisconnected is set.
func (r *Relay) readyConnection(ctx context.Context, skipDisconnected bool) (*connection, error) {
	if r.shutdown.Load() {
		return nil, ErrShutdown
	}
	if r.Status() == StatusBanned {
		return nil, ErrBanned
	}
	if !r.IsConnected() {
		if skipDisconnected {
			return nil, ErrNotConnected
		}
		if err := r.waitConnected(ctx); err != nil {
			return nil, err
		}
	}
	conn := r.currentConnection()
	if conn == nil || conn.isClosed() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// SendMsg writes any envelope to the relay.
func (r *Relay) SendMsg(ctx context.Context, env Envelope, opts SendOptions) error {
	ctx, cancel := context.WithTimeoutCause(ctx, opts.timeout(), ErrTimeout)
	defer cancel()

	if opts.WaitForOK {
		switch e := env.(type) {
		case *EventEnvelope:
			return r.publishEvent(ctx, e.Event, opts)
		case *AuthEnvelope:
			return r.publish(ctx, e.Event.ID, e, opts.SkipDisconnected)
		}
	}

	conn, err := r.readyConnection(ctx, opts.SkipDisconnected)
	if err != nil {
		return err
	}

	msg, err := env.MarshalJSON()
	if err != nil {
		return err
	}
	return conn.write(ctx, msg)
}

// Publish sends an "EVENT" command to the relay r as in NIP-01 and waits for an OK response.
// When the relay requires authentication and we can do it automatically we authenticate and try once more.
func (r *Relay) Publish(ctx context.Context, event Event) error {
	return r.publishEvent(ctx, event, SendOptions{})
}

func (r *Relay) publishEvent(ctx context.Context, event Event, opts SendOptions) error {
	if _, ok := ctx.Deadline(); !ok || opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, opts.timeout(), ErrTimeout)
		defer cancel()
	}

	err := r.publish(ctx, event.ID, &EventEnvelope{Event: event}, opts.SkipDisconnected)
	if err != nil && errors.Is(err, ErrAuthenticationFailed) && r.opts.AutomaticAuthentication && r.opts.Signer != nil {
		if authErr := r.Auth(ctx, r.opts.Signer); authErr == nil {
			err = r.publish(ctx, event.ID, &EventEnvelope{Event: event}, opts.SkipDisconnected)
		}
	}
	return err
}

// Auth sends an "AUTH" command client->relay as in NIP-42 and waits for an OK response.
func (r *Relay) Auth(ctx context.Context, signer Signer) error {
	challenge := r.authSession.LastChallenge()
	if challenge == "" {
		return fmt.Errorf("%w: no challenge received from %s", ErrAuthenticationFailed, r.URL)
	}

	if st := admitAuth(ctx, r.opts.Admit, r.URL); st.Rejected {
		return ConnectionRejectedError{Reason: st.Reason}
	}

	pk, err := signer.GetPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to get public key: %w", err)
	}

	authEvent := CreateUnsignedAuthEvent(challenge, pk, r.URL)
	if err := signer.SignEvent(ctx, &authEvent); err != nil {
		return fmt.Errorf("error signing auth event: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.publishTimeout(), ErrTimeout)
		defer cancel()
	}

	if err := r.publish(ctx, authEvent.ID, &AuthEnvelope{Event: authEvent}, false); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	r.authSession.SetAuthenticated(pk)
	return nil
}

// publish can be used both for EVENT and for AUTH
func (r *Relay) publish(ctx context.Context, id ID, env Envelope, skipDisconnected bool) error {
	conn, err := r.readyConnection(ctx, skipDisconnected)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// listen for an OK callback
	var gotOk atomic.Bool
	var okErr error
	r.okCallbacks.Store(id, func(ok bool, reason string) {
		if !ok {
			okErr = RelayMessageError{Message: reason}
		}
		gotOk.Store(true)
		cancel()
	})
	defer r.okCallbacks.Delete(id)

	envb, err := env.MarshalJSON()
	if err != nil {
		return err
	}
	if err := conn.write(ctx, envb); err != nil {
		if gotOk.Load() {
			return okErr
		}
		return err
	}

	select {
	case <-ctx.Done():
		// this will be called when we get an OK or when the context has been canceled
		if gotOk.Load() {
			return okErr
		}
		if errors.Is(context.Cause(ctx), ErrTimeout) {
			return fmt.Errorf("%w: given up waiting for an OK", ErrTimeout)
		}
		return fmt.Errorf("publish: %w", context.Cause(ctx))
	case <-conn.closedNotify:
		// this is caused when we lose connectivity
		return fmt.Errorf("relay: %w", ErrDisconnected)
	}
}

// Subscribe sends a "REQ" command to the relay r as in NIP-01.
// Events are returned through the channel sub.Events.
//
// Remember to cancel subscriptions, either by calling `.Unsub()` on them or by giving them an AutoClosePolicy.
func (r *Relay) Subscribe(ctx context.Context, filters []Filter, opts SubscribeOptions) (*Subscription, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, opts.Timeout, ErrTimeout)
		defer cancel()
	}

	if _, err := r.readyConnection(ctx, opts.SkipDisconnected); err != nil {
		return nil, err
	}

	sub := r.PrepareSubscription(filters, opts)
	if err := sub.fire(ctx); err != nil {
		sub.unsub(err)
		return nil, fmt.Errorf("couldn't subscribe to %v at %s: %w", filters, r.URL, err)
	}

	return sub, nil
}

// PrepareSubscription creates a subscription, but doesn't fire it.
// Its context is tied to the relay, not to the context used for sending the "REQ".
func (r *Relay) PrepareSubscription(filters []Filter, opts SubscribeOptions) *Subscription {
	ctx, cancel := context.WithCancelCause(r.ctx)

	id := opts.ID
	if id == "" {
		id = makeSubscriptionID(subscriptionIDCounter.Add(1), opts.Label)
	}

	sub := &Subscription{
		id:                id,
		Relay:             r,
		Context:           ctx,
		cancel:            cancel,
		Events:            make(chan Event),
		EndOfStoredEvents: make(chan struct{}, 1),
		ClosedReason:      make(chan string, 1),
		Filters:           filters,
		autoClose:         opts.AutoClose,
		notifyOnly:        opts.notifyOnly,
	}

	// a previous subscription with the same id is replaced, as the relay would do
	if previous, loaded := r.Subscriptions.LoadAndStore(id, sub); loaded {
		previous.live.Store(false)
		previous.cancel(errors.New("replaced"))
		previous.closed.Store(true)
		previous.eventsMu.Lock()
		if !previous.eventsClosed {
			previous.eventsClosed = true
			close(previous.Events)
		}
		previous.eventsMu.Unlock()
	}

	return sub
}

// Unsubscribe closes the subscription with the given id.
func (r *Relay) Unsubscribe(ctx context.Context, id string, opts SendOptions) error {
	sub, ok := r.Subscriptions.Load(id)
	if !ok {
		return fmt.Errorf("subscription %s not found on %s", id, r.URL)
	}
	if !sub.live.Load() {
		sub.unsub(errors.New("unsubscribed"))
		return nil
	}
	if _, err := r.readyConnection(ctx, opts.SkipDisconnected); err != nil {
		return err
	}
	sub.unsub(errors.New("unsubscribed"))
	return nil
}

func (r *Relay) UnsubscribeAll() {
	r.closeSubscriptions(errors.New("unsubscribed"))
}

// FetchEvents subscribes, collects everything until "EOSE" and closes the subscription.
// When the timeout is hit before "EOSE" the events received so far are returned with ErrTimeout.
func (r *Relay) FetchEvents(ctx context.Context, filters []Filter, timeout time.Duration) ([]Event, error) {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	defer cancel()

	sub, err := r.Subscribe(ctx, filters, SubscribeOptions{Label: "fetch", AutoClose: ExitOnEOSE()})
	if err != nil {
		return nil, err
	}
	defer sub.Unsub()

	events := make([]Event, 0, 32)
	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				// closed after eose or by the relay
				select {
				case reason := <-sub.ClosedReason:
					return events, RelayMessageError{Message: reason}
				default:
				}
				if sub.eosed.Load() {
					return events, nil
				}
				return events, context.Cause(sub.Context)
			}
			events = append(events, evt)
		case <-sub.EndOfStoredEvents:
			// keep draining until the subscription closes itself
		case <-ctx.Done():
			if sub.eosed.Load() {
				return events, nil
			}
			return events, fmt.Errorf("%w: fetching from %s", ErrTimeout, r.URL)
		}
	}
}

// Count sends a "COUNT" command to the relay and returns the count of events matching the filters.
func (r *Relay) Count(ctx context.Context, filters []Filter, opts SubscribeOptions) (uint32, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, defaultPublishTimeout, ErrTimeout)
		defer cancel()
	}

	if _, err := r.readyConnection(ctx, opts.SkipDisconnected); err != nil {
		return 0, err
	}

	if opts.Label == "" {
		opts.Label = "count"
	}
	sub := r.PrepareSubscription(filters, opts)
	sub.countResult = make(chan uint32, 1)
	defer sub.unsub(errors.New("count ended"))

	if err := sub.fire(ctx); err != nil {
		return 0, err
	}

	select {
	case count := <-sub.countResult:
		sub.live.Store(false) // relays close COUNT subscriptions on their own
		return count, nil
	case reason := <-sub.ClosedReason:
		return 0, RelayMessageError{Message: reason}
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: counting on %s", ErrTimeout, r.URL)
	}
}
