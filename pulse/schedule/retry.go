package schedule

import (
	"math/rand/v2"
	"time"

	"github.com/teranos/qntx-task/pulse/taskconf"
)

// DefaultRetryDelay is the wait between attempts when backoff is off.
const DefaultRetryDelay = 180 * time.Second

// RetryPolicy decides whether and when a failed firing is re-attempted.
type RetryPolicy struct {
	MaxRetries int
	Backoff    bool
	BackoffMax time.Duration
	Delay      time.Duration // fixed wait when Backoff is false
}

// PolicyFrom reads the retry settings from r.
func PolicyFrom(r *taskconf.Resolver) RetryPolicy {
	return RetryPolicy{
		MaxRetries: r.MaxRetries(),
		Backoff:    r.RetryBackoff(),
		BackoffMax: r.RetryBackoffMax(),
		Delay:      DefaultRetryDelay,
	}
}

// ShouldRetry reports whether another attempt follows the given number of
// retries already made.
func (p RetryPolicy) ShouldRetry(retries int) bool {
	return retries < p.MaxRetries
}

// Wait returns the delay before retry number retries+1. With backoff it is
// drawn uniformly from [0, min(2^retries s, BackoffMax)].
func (p RetryPolicy) Wait(retries int) time.Duration {
	if !p.Backoff {
		return p.Delay
	}
	ceiling := p.BackoffMax
	if retries < 32 {
		if exp := time.Duration(1<<retries) * time.Second; exp < ceiling {
			ceiling = exp
		}
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}
