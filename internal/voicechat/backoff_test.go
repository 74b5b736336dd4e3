package voicechat

import (
	"testing"
	"time"
)

func TestBackoffGrowsThenCapsAtMax(t *testing.T) {
	b := newBackoff(10*time.Millisecond, 40*time.Millisecond, 2)
	var last time.Duration
	for i := 0; i < 10; i++ {
		d := b.next()
		if d < 0 {
			t.Fatalf("backoff produced negative delay: %v", d)
		}
		last = d
	}
	if last > 50*time.Millisecond {
		t.Fatalf("expected backoff to stay near max, got %v", last)
	}
}

func TestBackoffResetReturnsToMin(t *testing.T) {
	b := newBackoff(5*time.Millisecond, 100*time.Millisecond, 3)
	b.next()
	b.next()
	b.reset()
	if b.current != 5*time.Millisecond {
		t.Fatalf("expected reset to restore min, got %v", b.current)
	}
}
