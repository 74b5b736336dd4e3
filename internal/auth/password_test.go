package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHashAndVerifyRoundTrip(t *testing.T) {
	hash, err := Hash("correct horse battery staple", DefaultParams)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := Verify(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := Verify(hash, "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestHashProducesDistinctSalts(t *testing.T) {
	h1, err := Hash("same-password", DefaultParams)
	if err != nil {
		t.Fatalf("hash 1: %v", err)
	}
	h2, err := Hash("same-password", DefaultParams)
	if err != nil {
		t.Fatalf("hash 2: %v", err)
	}
	if h1 == h2 {
		t.Fatal("expected distinct salts to produce distinct encoded hashes")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	if err := Verify("not-a-real-hash", "anything"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}

func TestHashAsyncRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	if _, err := HashAsync(ctx, "password", DefaultParams); err == nil {
		t.Fatal("expected context error")
	}
}
