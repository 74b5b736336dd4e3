package voicechat

import (
	"math/rand"
	"time"
)

// backoff mirrors internal/transcoder's reconnect-delay shape (a bounded
// doubling interval with jitter), duplicated here rather than exported from
// transcoder so voicechat has no dependency on it.
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
