package trinity

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Per-tier concurrency caps, fixed at startup. They protect the model
// backend from load spikes; callers queue on acquire, bounded by the
// request's watchdog.
var admissionCaps = map[Tier]int64{
	TierSimple:   8,
	TierComplex:  4,
	TierCritical: 2,
}

// Admission gates concurrent pipeline executions per tier.
type Admission struct {
	slots map[Tier]*semaphore.Weighted
}

// NewAdmission creates the per-tier gates with the standard caps.
func NewAdmission() *Admission {
	return NewAdmissionWithCaps(admissionCaps)
}

// NewAdmissionWithCaps creates gates with explicit caps (used by tests).
func NewAdmissionWithCaps(caps map[Tier]int64) *Admission {
	slots := make(map[Tier]*semaphore.Weighted, len(caps))
	for tier, cap := range caps {
		slots[tier] = semaphore.NewWeighted(cap)
	}
	return &Admission{slots: slots}
}

// ReleaseFunc releases an admission slot. Safe to call more than once; only
// the first call releases. It must fire on every exit path, including
// escalation hand-off.
type ReleaseFunc func()

// Acquire blocks until a slot for the tier is available or ctx is cancelled.
// A request escalating to a higher tier must release its current slot before
// acquiring the next tier's slot to prevent deadlock under load.
func (a *Admission) Acquire(ctx context.Context, tier Tier) (ReleaseFunc, error) {
	sem, ok := a.slots[tier]
	if !ok {
		// Unknown tier: admit without gating rather than deadlock.
		return func() {}, nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

// TryAcquire reports whether a slot is immediately available, taking it if so.
func (a *Admission) TryAcquire(tier Tier) (ReleaseFunc, bool) {
	sem, ok := a.slots[tier]
	if !ok {
		return func() {}, true
	}
	if !sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, true
}
