package transport

import (
	"math/rand/v2"
	"time"

	"github.com/omnillm/omnillm/llmerr"
)

// RetryPolicy controls the retry loop for one provider call.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// Timeout bounds the whole call including backoff sleeps.
	Timeout time.Duration

	// BackoffBase and BackoffMax shape the exponential backoff. Zero values
	// take the defaults below.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second

	// maxRetryAfter caps vendor Retry-After hints so a hostile header cannot
	// park the call.
	maxRetryAfter = 60 * time.Second
)

// backoff computes the sleep before retry `attempt` (1-based). A Retry-After
// hint from the previous failure wins over computed backoff, capped.
func (p RetryPolicy) backoff(attempt int, lastErr error) time.Duration {
	if te, ok := llmerr.AsTransportError(lastErr); ok && te.RetryAfter > 0 {
		if te.RetryAfter > maxRetryAfter {
			return maxRetryAfter
		}
		return te.RetryAfter
	}

	base := p.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	max := p.BackoffMax
	if max <= 0 {
		max = defaultBackoffMax
	}

	d := base << (attempt - 1)
	if d > max || d <= 0 {
		d = max
	}
	// Full jitter in [d/2, d) to decorrelate concurrent retriers.
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}
