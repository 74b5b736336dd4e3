package reconcile

import (
	"testing"
	"time"

	"relaycast/internal/models"
)

func TestFailoverStateElectsFirstOnlineChild(t *testing.T) {
	fs := newFailoverState(10 * time.Second)
	groups := map[string][]failoverChild{
		"r1": {
			{key: UnitKey{RestreamID: "r1", InputPath: "primary", Role: rolePull}, status: models.StatusUnstable},
			{key: UnitKey{RestreamID: "r1", InputPath: "b1", Role: rolePull}, status: models.StatusOnline},
		},
	}
	active := fs.resolve(groups, time.Now())
	if active["r1"].InputPath != "b1" {
		t.Fatalf("expected failover to backup b1, got %v", active["r1"])
	}
}

func TestFailoverStatePreemptsAfterStabilityWindow(t *testing.T) {
	fs := newFailoverState(10 * time.Second)
	now := time.Now()

	// Primary down, backup takes over.
	groups := map[string][]failoverChild{
		"r1": {
			{key: UnitKey{RestreamID: "r1", InputPath: "primary", Role: rolePull}, status: models.StatusOffline},
			{key: UnitKey{RestreamID: "r1", InputPath: "b1", Role: rolePull}, status: models.StatusOnline},
		},
	}
	active := fs.resolve(groups, now)
	if active["r1"].InputPath != "b1" {
		t.Fatalf("expected backup active, got %v", active["r1"])
	}

	// Primary recovers but stability window hasn't elapsed: stay on backup.
	groups["r1"][0].status = models.StatusOnline
	active = fs.resolve(groups, now.Add(2*time.Second))
	if active["r1"].InputPath != "b1" {
		t.Fatalf("expected to remain on backup before stability window elapses, got %v", active["r1"])
	}

	// Stability window elapses (primary Online since +2s, so +12s is 10s of
	// stable Online): preempt back to primary.
	active = fs.resolve(groups, now.Add(12*time.Second))
	if active["r1"].InputPath != "primary" {
		t.Fatalf("expected preemption back to primary after stability window, got %v", active["r1"])
	}
}

func TestFailoverStateNoChurnWhenActiveChildStaysOnline(t *testing.T) {
	fs := newFailoverState(10 * time.Second)
	now := time.Now()
	groups := map[string][]failoverChild{
		"r1": {
			{key: UnitKey{RestreamID: "r1", InputPath: "primary", Role: rolePull}, status: models.StatusOnline},
			{key: UnitKey{RestreamID: "r1", InputPath: "b1", Role: rolePull}, status: models.StatusOnline},
		},
	}
	for i := 0; i < 5; i++ {
		active := fs.resolve(groups, now.Add(time.Duration(i)*time.Second))
		if active["r1"].InputPath != "primary" {
			t.Fatalf("expected to stay on primary, got %v", active["r1"])
		}
	}
}
