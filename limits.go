package nostr

import "fmt"

// EventLimits restricts what we accept from relays, a zero means unlimited.
type EventLimits struct {
	MaxSize    int
	MaxNumTags int
}

// RelayLimits are enforced on everything a relay sends us. Oversized messages and events are
// dropped and logged, they never cause the connection to close.
type RelayLimits struct {
	// MaxMessageSize is checked against every raw message, before parsing.
	MaxMessageSize int

	Events EventLimits

	// PerKind overrides Events for specific kinds.
	PerKind map[Kind]EventLimits
}

// DefaultRelayLimits are used when RelayOptions.Limits is nil.
func DefaultRelayLimits() RelayLimits {
	return RelayLimits{
		MaxMessageSize: 5_000_000,
		Events: EventLimits{
			MaxSize:    70_000,
			MaxNumTags: 2_000,
		},
		PerKind: map[Kind]EventLimits{
			KindFollowList:        {MaxSize: 1_000_000, MaxNumTags: 10_000},
			KindRelayListMetadata: {MaxSize: 10_000, MaxNumTags: 200},
		},
	}
}

// NoRelayLimits disables every check.
func NoRelayLimits() RelayLimits { return RelayLimits{} }

func (l RelayLimits) checkMessage(message string) error {
	if l.MaxMessageSize > 0 && len(message) > l.MaxMessageSize {
		return fmt.Errorf("%w: message has %d bytes, max is %d", ErrEventTooLarge, len(message), l.MaxMessageSize)
	}
	return nil
}

func (l RelayLimits) checkEvent(evt Event) error {
	limits := l.Events
	if perKind, ok := l.PerKind[evt.Kind]; ok {
		limits = perKind
	}

	if limits.MaxNumTags > 0 && len(evt.Tags) > limits.MaxNumTags {
		return fmt.Errorf("%w: %d tags, max is %d", ErrTooManyTags, len(evt.Tags), limits.MaxNumTags)
	}

	if limits.MaxSize > 0 {
		if size := evt.Size(); size > limits.MaxSize {
			return fmt.Errorf("%w: %d bytes, max is %d", ErrEventTooLarge, size, limits.MaxSize)
		}
	}

	return nil
}
