package engine

import (
	"math/rand"
	"time"
)

const maxBackoffShift = 32

// Backoff computes retry delays: base doubled per attempt, capped, plus a
// random jitter so a burst of failures does not produce a synchronized retry
// storm.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the given attempt number (1 = first retry).
// The deterministic part is min(Base * 2^(attempt-1), Cap); the jitter adds
// up to half of it on top.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	delay := b.Base << shift
	if delay <= 0 || (b.Cap > 0 && delay > b.Cap) {
		delay = b.Cap
	}

	return delay + jitter(delay/2)
}

// NextAttemptAt returns the eligibility time for the given attempt, measured
// from now. Always after now, so next-eligible-time never precedes the
// failed attempt that produced it.
func (b Backoff) NextAttemptAt(now time.Time, attempt int) time.Time {
	return now.Add(b.Delay(attempt))
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
