// Package lock provides per-key mutual exclusion so that a lead is only
// executed by one worker at a time.
package lock

import (
	"context"
	"time"
)

// ReleaseFunc releases a previously acquired lock. Calling it more than once
// is a no-op.
type ReleaseFunc func(ctx context.Context)

// Locker hands out advisory locks keyed by an arbitrary string. Acquire
// returns ok=false when another holder currently owns the key; callers are
// expected to skip the unit of work rather than block.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release ReleaseFunc, ok bool, err error)
	Close() error
}

// LeadKey builds the lock key guarding a single lead's execution.
func LeadKey(campaignID, leadID string) string {
	return "dripflow:lead:" + campaignID + ":" + leadID
}
