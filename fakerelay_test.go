package nostr

import (
	"context"
	stdjson "encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"fiatjaf.com/nostrpool/nip77/negentropy"
	"fiatjaf.com/nostrpool/nip77/negentropy/storage/vector"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

// fakeRelay is a tiny in-memory relay speaking enough of the protocol for the tests:
// EVENT, REQ, COUNT, CLOSE, AUTH and NEG-*.
type fakeRelay struct {
	server *httptest.Server
	URL    string

	// requireAuth makes the relay send a challenge on connection and refuse events
	// until the client authenticates.
	requireAuth bool

	// onMessage runs before the default handling, returning true skips the default handling.
	onMessage func(send func(Envelope), env Envelope) bool

	mu       sync.Mutex
	events   []Event
	received []string
	conns    int
	active   map[*websocket.Conn]struct{}
}

func newFakeRelay(t *testing.T, events ...Event) *fakeRelay {
	t.Helper()

	fr := &fakeRelay{events: events, active: make(map[*websocket.Conn]struct{})}
	fr.server = newWebsocketServer(fr.handle)
	fr.URL = NormalizeURL(fr.server.URL)
	t.Cleanup(fr.server.Close)
	return fr
}

func (fr *fakeRelay) Events() []Event {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return slices.Clone(fr.events)
}

func (fr *fakeRelay) Received(label string) int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	n := 0
	for _, msg := range fr.received {
		if strings.HasPrefix(msg, `["`+label+`"`) {
			n++
		}
	}
	return n
}

func (fr *fakeRelay) Connections() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.conns
}

// DropConnections hangs up on every client currently connected.
func (fr *fakeRelay) DropConnections() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	for conn := range fr.active {
		conn.Close()
	}
}

func (fr *fakeRelay) matching(filter Filter) []Event {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	res := make([]Event, 0, len(fr.events))
	for _, evt := range fr.events {
		if filter.Matches(evt) {
			res = append(res, evt)
		}
	}
	return res
}

func (fr *fakeRelay) handle(conn *websocket.Conn) {
	fr.mu.Lock()
	fr.conns++
	fr.active[conn] = struct{}{}
	fr.mu.Unlock()
	defer func() {
		fr.mu.Lock()
		delete(fr.active, conn)
		fr.mu.Unlock()
	}()

	send := func(env Envelope) {
		b, err := env.MarshalJSON()
		if err != nil {
			panic(err)
		}
		websocket.Message.Send(conn, string(b))
	}

	session := NewAuthSession()
	if fr.requireAuth {
		challenge := session.GenerateChallenge()
		send(&AuthEnvelope{Challenge: &challenge})
	}

	negSessions := make(map[string]*negentropy.Negentropy)

	for {
		var msg string
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			return
		}
		fr.mu.Lock()
		fr.received = append(fr.received, msg)
		fr.mu.Unlock()

		env, err := ParseMessage(msg)
		if err != nil {
			notice := NoticeEnvelope("could not parse: " + err.Error())
			send(&notice)
			continue
		}
		if fr.onMessage != nil && fr.onMessage(send, env) {
			continue
		}

		switch env := env.(type) {
		case *AuthEnvelope:
			if err := session.CheckChallenge(env.Event); err != nil {
				send(&OKEnvelope{EventID: env.Event.ID, OK: false, Reason: "auth-required: " + err.Error()})
			} else {
				send(&OKEnvelope{EventID: env.Event.ID, OK: true})
			}
		case *EventEnvelope:
			if fr.requireAuth && !session.IsAuthenticated() {
				send(&OKEnvelope{EventID: env.ID, OK: false, Reason: "auth-required: we only accept events from authenticated users"})
				continue
			}
			fr.mu.Lock()
			duplicate := slices.ContainsFunc(fr.events, func(evt Event) bool { return evt.ID == env.ID })
			if !duplicate {
				fr.events = append(fr.events, env.Event)
			}
			fr.mu.Unlock()
			if duplicate {
				send(&OKEnvelope{EventID: env.ID, OK: true, Reason: "duplicate: already have this event"})
			} else {
				send(&OKEnvelope{EventID: env.ID, OK: true})
			}
		case *ReqEnvelope:
			id := env.SubscriptionID
			for _, filter := range env.Filters {
				for _, evt := range fr.matching(filter) {
					send(&EventEnvelope{SubscriptionID: &id, Event: evt})
				}
			}
			eose := EOSEEnvelope(id)
			send(&eose)
		case *CountEnvelope:
			var count uint32
			for _, filter := range env.Filters {
				count += uint32(len(fr.matching(filter)))
			}
			send(&CountEnvelope{SubscriptionID: env.SubscriptionID, Count: &count})
		case *NegOpenEnvelope:
			vec := vector.New()
			for _, evt := range fr.matching(env.Filter) {
				vec.Insert(uint64(evt.CreatedAt), evt.ID)
			}
			vec.Seal()
			neg, _ := negentropy.New(vec, 0)
			negSessions[env.SubscriptionID] = neg
			fr.negReply(send, neg, env.SubscriptionID, env.Message)
		case *NegMessageEnvelope:
			neg, ok := negSessions[env.SubscriptionID]
			if !ok {
				send(&NegErrorEnvelope{SubscriptionID: env.SubscriptionID, Reason: "closed: unknown session"})
				continue
			}
			fr.negReply(send, neg, env.SubscriptionID, env.Message)
		case *NegCloseEnvelope:
			delete(negSessions, env.SubscriptionID)
		}
	}
}

func (fr *fakeRelay) negReply(send func(Envelope), neg *negentropy.Negentropy, id string, msg string) {
	next, _, _, err := neg.Reconcile(msg)
	if err != nil {
		send(&NegErrorEnvelope{SubscriptionID: id, Reason: "error: " + err.Error()})
		return
	}
	send(&NegMessageEnvelope{SubscriptionID: id, Message: next})
}

func newWebsocketServer(handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(&websocket.Server{
		Handshake: anyOriginHandshake,
		Handler:   handler,
	})
}

// anyOriginHandshake is an alternative to default in golang.org/x/net/websocket
// which checks for origin. nostr client sends no origin and it makes no difference
// for the tests here anyway.
var anyOriginHandshake = func(conf *websocket.Config, r *http.Request) error {
	return nil
}

func makeKeyPair(t *testing.T) (priv [32]byte, pub PubKey) {
	t.Helper()

	privkey := GeneratePrivateKey()
	return privkey, GetPublicKey(privkey)
}

func makeEvent(t *testing.T, sk [32]byte, kind Kind, createdAt Timestamp, content string) Event {
	t.Helper()

	evt := Event{Kind: kind, CreatedAt: createdAt, Content: content, Tags: Tags{}}
	require.NoError(t, evt.Sign(sk))
	return evt
}

func mustRelayConnect(t *testing.T, url string) *Relay {
	t.Helper()

	rl, err := RelayConnect(t.Context(), url, RelayOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { rl.Close() })

	return rl
}

type testSigner struct{ sk [32]byte }

func (s testSigner) GetPublicKey(context.Context) (PubKey, error) { return GetPublicKey(s.sk), nil }

func (s testSigner) SignEvent(_ context.Context, evt *Event) error { return evt.Sign(s.sk) }

// memoryDB is the smallest Database the sync and storage paths need.
type memoryDB struct {
	mu     sync.Mutex
	events []Event
}

func (db *memoryDB) SaveEvent(_ context.Context, evt Event) (SaveStatus, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if slices.ContainsFunc(db.events, func(e Event) bool { return e.ID == evt.ID }) {
		return SaveRejected("duplicate"), nil
	}
	db.events = append(db.events, evt)
	return SaveSuccess(), nil
}

func (db *memoryDB) EventByID(_ context.Context, id ID) (Event, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, evt := range db.events {
		if evt.ID == id {
			return evt, true, nil
		}
	}
	return Event{}, false, nil
}

func (db *memoryDB) Count(ctx context.Context, filter Filter) (int, error) {
	n := 0
	for range db.Query(ctx, filter) {
		n++
	}
	return n, nil
}

func (db *memoryDB) Query(_ context.Context, filter Filter) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		db.mu.Lock()
		events := slices.Clone(db.events)
		db.mu.Unlock()
		slices.SortFunc(events, CompareEventReverse)
		for _, evt := range events {
			if filter.Matches(evt) && !yield(evt, nil) {
				return
			}
		}
	}
}

func (db *memoryDB) NegentropyItems(ctx context.Context, filter Filter) ([]NegentropyItem, error) {
	var items []NegentropyItem
	for evt := range db.Query(ctx, filter) {
		items = append(items, NegentropyItem{ID: evt.ID, Timestamp: evt.CreatedAt})
	}
	return items, nil
}

func (db *memoryDB) Delete(context.Context, Filter) error { return nil }

func (db *memoryDB) Wipe(context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.events = nil
	return nil
}

func (db *memoryDB) Close() error { return nil }

func parseEventMessage(t *testing.T, raw []stdjson.RawMessage) Event {
	t.Helper()

	require.GreaterOrEqual(t, len(raw), 2)

	var typ string
	require.NoError(t, stdjson.Unmarshal(raw[0], &typ))
	require.Equal(t, "EVENT", typ)

	var event Event
	require.NoError(t, stdjson.Unmarshal(raw[1], &event))

	return event
}
