package subscription

import (
	rand "math/rand/v2"
	"time"
)

// jitterBackoff implements decorrelated jitter backoff with a cap.
// See: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
//
// Given previous delay (prev), computes next delay as:
//
//	next = min(cap, base + rand.Int64N(prev*multiplier - base)) with guards
//
// Behavior:
//   - If prev <= 0, start from base
//   - Multiplier < 1.0 falls back to 1.0 (no growth)
//   - Cap < base returns cap
func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	window := time.Duration(float64(prev)*mult) - base
	if window <= 0 {
		window = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(window))
	} else {
		jitter = rand.Int64N(int64(window)) //nolint:gosec // non-crypto backoff jitter
	}
	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// newRetryRNG returns a deterministic RNG only when a non-zero seed is provided.
// When seed == 0 it returns nil so callers can use the package-level PRNG instead.
//
//nolint:gosec
func newRetryRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}

// fetchBackoff tracks the delay between consecutive failed fetches.
// It is owned by a single fetch loop and not safe for concurrent use.
type fetchBackoff struct {
	base time.Duration
	cap  time.Duration
	rng  *rand.Rand
	prev time.Duration
}

func newFetchBackoff(base, capDur time.Duration, seed int64) *fetchBackoff {
	return &fetchBackoff{base: base, cap: capDur, rng: newRetryRNG(seed)}
}

// Next returns the delay before the next attempt and remembers it.
func (b *fetchBackoff) Next() time.Duration {
	b.prev = jitterBackoff(b.prev, b.base, errorBackoffMultiplier, b.cap, b.rng)
	return b.prev
}

// Reset restarts the sequence after a successful fetch.
func (b *fetchBackoff) Reset() {
	b.prev = 0
}
