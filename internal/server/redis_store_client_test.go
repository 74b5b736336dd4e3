package server

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"relaycast/internal/testsupport/redisstub"
)

// The hook throttle speaks RESP directly; this test cross-checks the stub
// (and therefore the wire behavior the throttle depends on) against a real
// Redis client, so a protocol drift in either shows up here first.
func TestRedisStubCompatibleWithRealClient(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	client := redis.NewClient(&redis.Options{
		Addr:        srv.Addr(),
		Password:    "secret",
		DialTimeout: time.Second,
		ReadTimeout: time.Second,
	})
	t.Cleanup(func() {
		_ = client.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := "relaycast:login:198.51.100.7"
	for want := int64(1); want <= 3; want++ {
		got, err := client.Incr(ctx, key).Result()
		if err != nil {
			t.Fatalf("INCR: %v", err)
		}
		if got != want {
			t.Fatalf("INCR = %d, want %d", got, want)
		}
	}

	if err := client.Expire(ctx, key, time.Minute).Err(); err != nil {
		t.Fatalf("EXPIRE: %v", err)
	}
	ttl, err := client.TTL(ctx, key).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("TTL = %v, want (0, 1m]", ttl)
	}
}

// The same window counting the real client observed must be what the
// throttle's own RESP path sees.
func TestRedisStoreAgreesWithRealClient(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	store, err := newRedisStore(redisStoreConfig{Addr: srv.Addr(), Password: "secret", Timeout: time.Second})
	if err != nil {
		t.Fatalf("newRedisStore: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), Password: "secret", DialTimeout: time.Second})
	t.Cleanup(func() {
		_ = client.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := "relaycast:login:203.0.113.9"
	allowed, _, err := store.Allow(key, 2, time.Minute)
	if err != nil || !allowed {
		t.Fatalf("first Allow = %v, %v", allowed, err)
	}

	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		t.Fatalf("INCR after Allow: %v", err)
	}
	if count != 2 {
		t.Fatalf("counter = %d after one Allow plus one INCR, want 2", count)
	}
}
