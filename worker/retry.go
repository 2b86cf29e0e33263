package worker

import (
	"math/rand/v2"
	"time"

	"omip-curator/apperr"
)

// RetryPolicy decides whether and when a failed job is tried again.
type RetryPolicy struct {
	// MaxAttempts is the number of automatic retries after the first try.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// ShouldRetry reports whether a failure of class on the given attempt
// (0 for the first try) gets another try.
func (p RetryPolicy) ShouldRetry(class apperr.Class, attempt int) bool {
	return class == apperr.Transient && attempt < p.MaxAttempts
}

// Delay is min(base * 2^attempt + jitter, max), jitter drawn from [0, Jitter).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
	}
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
