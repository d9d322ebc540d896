package nostr

import "time"

type RateLimitResult uint8

const (
	RateLimitAllowed RateLimitResult = iota
	RateLimitLimited
)

func (r RateLimitResult) String() string {
	if r == RateLimitLimited {
		return "limited"
	}
	return "allowed"
}

// RateLimiter is a token bucket refilled continuously up to maxPerMinute tokens.
// It is owned by a single relay session and is not safe for concurrent use.
type RateLimiter struct {
	maxPerMinute uint64
	count        uint64
	lastRefill   time.Time
}

// NewRateLimiter creates a full bucket. A maxPerMinute of zero disables limiting.
func NewRateLimiter(maxPerMinute uint64) *RateLimiter {
	return &RateLimiter{
		maxPerMinute: maxPerMinute,
		count:        maxPerMinute,
	}
}

// Check consumes one token for a message arriving at now.
func (rl *RateLimiter) Check(now time.Time) RateLimitResult {
	if rl.maxPerMinute == 0 {
		return RateLimitAllowed
	}

	var elapsed time.Duration
	if !rl.lastRefill.IsZero() {
		elapsed = min(now.Sub(rl.lastRefill), time.Minute)
		if elapsed < 0 {
			elapsed = 0
		}
	}

	refill := uint64(elapsed.Seconds() / 60 * float64(rl.maxPerMinute))

	count := rl.count + refill
	if count > 0 {
		count--
	}
	count = min(rl.maxPerMinute-1, count)
	rl.count = count

	if count == 0 {
		return RateLimitLimited
	}

	rl.lastRefill = now
	return RateLimitAllowed
}

// Tokens is the number of tokens currently left.
func (rl *RateLimiter) Tokens() uint64 { return rl.count }
