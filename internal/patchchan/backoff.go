package patchchan

import "time"

// Backoff produces the capped-exponential reconnect delay schedule: the nth
// consecutive retry waits min(Cap, Base*2^(n-1)). Not safe for concurrent use;
// each channel owns one.
type Backoff struct {
	Base    time.Duration
	Cap     time.Duration
	attempt int
}

// NewBackoff returns a Backoff with the given base and cap. Non-positive
// values fall back to 1s/8s.
func NewBackoff(base, cap time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if cap <= 0 {
		cap = 8 * time.Second
	}
	return &Backoff{Base: base, Cap: cap}
}

// Next returns the delay before the next attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	d := b.Base
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	b.attempt++
	return d
}

// Reset clears the attempt counter after a successful open.
func (b *Backoff) Reset() {
	b.attempt = 0
}
