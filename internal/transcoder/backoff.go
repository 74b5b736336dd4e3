package transcoder

import (
	"math/rand"
	"time"
)

// backoff tracks the exponential, jittered retry delay for one transcoder
// unit: double on failure, cap at max, reset after a stable run.
type backoff struct {
	min, max time.Duration
	mult     float64
	current  time.Duration
}

func newBackoff(min, max time.Duration, mult float64) *backoff {
	return &backoff{min: min, max: max, mult: mult, current: min}
}

func (b *backoff) next() time.Duration {
	d := b.current
	b.current = time.Duration(float64(b.current) * b.mult)
	if b.current > b.max {
		b.current = b.max
	}
	return jitter(d)
}

func (b *backoff) reset() {
	b.current = b.min
}

// jitter adds up to ±25% noise, avoiding thundering-herd reconnects when many
// units fail together.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	quarter := int64(d) / 4
	if quarter <= 0 {
		return d
	}
	delta := rand.Int63n(quarter*2) - quarter
	return d + time.Duration(delta)
}
