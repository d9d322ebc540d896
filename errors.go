package nostr

import (
	"errors"
	"strings"
)

var (
	ErrShutdown             = errors.New("pool has been shut down")
	ErrBanned               = errors.New("relay is banned")
	ErrTimeout              = errors.New("timeout")
	ErrRelayNotFound        = errors.New("relay not found")
	ErrNotConnected         = errors.New("relay not connected")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNoRelays             = errors.New("no relays")
	ErrChallengeNotFound    = errors.New("challenge not found or already used")
	ErrChallengeTooOld      = errors.New("challenge too old")
	ErrNoDatabase           = errors.New("no database configured")
	ErrEventTooLarge        = errors.New("event too large")
	ErrTooManyTags          = errors.New("too many tags")
	ErrDisconnected         = errors.New("<disconnected>")
)

// TransportError wraps failures coming from the websocket layer (dial, handshake, read, write).
type TransportError struct {
	URL string
	Err error
}

func (e TransportError) Error() string {
	return "transport error on " + e.URL + ": " + e.Err.Error()
}

func (e TransportError) Unwrap() error { return e.Err }

// ConnectionRejectedError is returned when the AdmitPolicy vetoes a connection or authentication.
type ConnectionRejectedError struct {
	Reason string
}

func (e ConnectionRejectedError) Error() string {
	if e.Reason == "" {
		return "connection rejected"
	}
	return "connection rejected: " + e.Reason
}

// RelayMessageError carries the text a relay sent us in a NOTICE, CLOSED, OK or NEG-ERR.
type RelayMessageError struct {
	Message string
}

func (e RelayMessageError) Error() string { return "msg: " + e.Message }

// Prefix returns the machine-readable prefix of the message, like "auth-required" or "blocked".
func (e RelayMessageError) Prefix() string {
	if idx := strings.Index(e.Message, ":"); idx != -1 {
		return e.Message[0:idx]
	}
	return ""
}

// Is lets errors.Is(err, ErrAuthenticationFailed) match "auth-required" and "restricted" messages.
func (e RelayMessageError) Is(target error) bool {
	if target == ErrAuthenticationFailed {
		prefix := e.Prefix()
		return prefix == "auth-required" || prefix == "restricted"
	}
	return false
}
