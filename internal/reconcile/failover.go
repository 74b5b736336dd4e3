package reconcile

import (
	"time"

	"relaycast/internal/models"
)

// failoverChild is one candidate Pull source within a Failover Input, in
// priority order (index 0 is the primary).
type failoverChild struct {
	key    UnitKey
	status models.Status // the child's own RTMP endpoint status, read from the snapshot
}

// failoverGroups collects, for every Restream whose Input is a Failover, the
// ordered list of Pull candidates. Restreams with a plain Push or Pull Input
// are absent: their single pull unit (if any) is never subject to
// preemption.
func failoverGroups(doc models.Document) map[string][]failoverChild {
	groups := make(map[string][]failoverChild)
	for _, r := range doc.Restreams {
		if r.Input.Source.Kind != models.InputSourceFailover {
			continue
		}
		var children []failoverChild
		for _, child := range r.Input.Source.Children {
			if child.Source.Kind != models.InputSourcePull {
				continue
			}
			ep, ok := child.PrimaryEndpoint()
			status := models.StatusOffline
			if ok {
				status = ep.Status
			}
			children = append(children, failoverChild{
				key:    UnitKey{RestreamID: r.ID, Role: rolePull, InputPath: child.Key},
				status: status,
			})
		}
		if len(children) > 0 {
			groups[r.ID] = children
		}
	}
	return groups
}

// failoverState tracks, per Restream, which child is currently the active
// pull unit and how long each child has been continuously observed Online.
// A recovered earlier-priority child must stay Online for the configured
// stability window before the reconciler preempts the serving backup.
type failoverState struct {
	stability time.Duration

	active      map[string]int               // restreamID -> active child index
	onlineSince map[string]map[int]time.Time // restreamID -> child index -> became-Online time
}

func newFailoverState(stability time.Duration) *failoverState {
	return &failoverState{
		stability:   stability,
		active:      make(map[string]int),
		onlineSince: make(map[string]map[int]time.Time),
	}
}

// resolve updates the active index for every failover group and returns the
// UnitKey that should be running for each Restream. now is injected for
// testability.
func (fs *failoverState) resolve(groups map[string][]failoverChild, now time.Time) map[string]UnitKey {
	result := make(map[string]UnitKey, len(groups))
	seen := make(map[string]bool, len(groups))

	for restreamID, children := range groups {
		seen[restreamID] = true
		since, ok := fs.onlineSince[restreamID]
		if !ok {
			since = make(map[int]time.Time)
			fs.onlineSince[restreamID] = since
		}
		for i, c := range children {
			if c.status == models.StatusOnline {
				if _, tracked := since[i]; !tracked {
					since[i] = now
				}
			} else {
				delete(since, i)
			}
		}

		active, ok := fs.active[restreamID]
		if !ok || active >= len(children) {
			active = 0
		}

		if children[active].status != models.StatusOnline {
			// Current child is down: fail over to the first child observed
			// Online, preferring the highest-priority one.
			for i, c := range children {
				if c.status == models.StatusOnline {
					active = i
					break
				}
			}
		} else {
			// Current child is healthy: preempt back to any earlier, higher
			// priority child that has been stably Online long enough.
			for i := 0; i < active; i++ {
				startedAt, tracked := since[i]
				if tracked && now.Sub(startedAt) >= fs.stability {
					active = i
					break
				}
			}
		}

		fs.active[restreamID] = active
		result[restreamID] = children[active].key
	}

	// Drop bookkeeping for Restreams no longer present.
	for id := range fs.active {
		if !seen[id] {
			delete(fs.active, id)
			delete(fs.onlineSince, id)
		}
	}

	return result
}
