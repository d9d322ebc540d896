package nostr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const (
	maxOutstandingChallenges = 20
	maxChallengeAge          = 120 * time.Second
)

// AuthSession keeps the NIP-42 state of one relay connection: challenges we issued that were
// not answered yet, and the public key we ended up authenticated as.
type AuthSession struct {
	mu         sync.Mutex
	challenges map[string]struct{}
	pubkey     *PubKey

	// lastChallenge is the last challenge a remote relay sent us.
	lastChallenge string
}

func NewAuthSession() *AuthSession {
	return &AuthSession{challenges: make(map[string]struct{}, 4)}
}

// GenerateChallenge mints a new random challenge and records it.
// When too many challenges are pending they are all forgotten first.
func (s *AuthSession) GenerateChallenge() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Errorf("failed to read random bytes for challenge: %w", err))
	}
	challenge := hex.EncodeToString(b[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.challenges) > maxOutstandingChallenges {
		clear(s.challenges)
	}
	s.challenges[challenge] = struct{}{}
	return challenge
}

// CheckChallenge validates an AUTH event against the recorded challenges.
// A challenge is consumed as soon as it is matched, even if the event is later found to be invalid.
func (s *AuthSession) CheckChallenge(evt Event) error {
	s.mu.Lock()
	found := false
	for tag := range evt.Tags.FindAll("challenge") {
		if _, ok := s.challenges[tag[1]]; ok {
			delete(s.challenges, tag[1])
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return ErrChallengeNotFound
	}

	if age := time.Since(evt.CreatedAt.Time()).Abs(); age > maxChallengeAge {
		return fmt.Errorf("%w: created %s away from now", ErrChallengeTooOld, age.Truncate(time.Second))
	}

	if err := evt.Verify(); err != nil {
		return err
	}

	s.SetAuthenticated(evt.PubKey)
	return nil
}

func (s *AuthSession) SetAuthenticated(pk PubKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pubkey = &pk
}

func (s *AuthSession) PublicKey() (PubKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubkey == nil {
		return ZeroPK, false
	}
	return *s.pubkey, true
}

func (s *AuthSession) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pubkey != nil
}

// OutstandingChallenges is the number of challenges issued and not yet consumed.
func (s *AuthSession) OutstandingChallenges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

func (s *AuthSession) setLastChallenge(challenge string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastChallenge = challenge
}

// LastChallenge is the last challenge received from the remote relay, if any.
func (s *AuthSession) LastChallenge() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChallenge
}

func (s *AuthSession) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pubkey = nil
	s.lastChallenge = ""
}

// CreateUnsignedAuthEvent creates an event which should be sent via an "AUTH" command.
// If the authentication succeeds, the user will be authenticated as pubkey.
func CreateUnsignedAuthEvent(challenge string, pubkey PubKey, relayURL string) Event {
	return Event{
		PubKey:    pubkey,
		CreatedAt: Now(),
		Kind:      KindClientAuthentication,
		Tags: Tags{
			Tag{"relay", relayURL},
			Tag{"challenge", challenge},
		},
		Content: "",
	}
}
