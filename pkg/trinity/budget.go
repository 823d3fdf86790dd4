package trinity

import (
	"fmt"
	"sync"
	"time"
)

// Per-tier invocation caps. The simple pipeline makes three model calls
// (intake, reasoning, final); reflection adds a fourth on critical. The CLEAR
// audit is advisory and runs outside the budget.
var invocationCaps = map[Tier]int{
	TierSimple:   3,
	TierComplex:  4,
	TierCritical: 6,
}

// Per-tier watchdog deadlines.
var watchdogLimits = map[Tier]time.Duration{
	TierSimple:   30 * time.Second,
	TierComplex:  60 * time.Second,
	TierCritical: 120 * time.Second,
}

// escalationDeadlineFactor extends the deadline for escalated requests.
const escalationDeadlineFactor = 1.5

// InvocationBudget is a bounded counter of model calls for one request.
// Increment precedes every model call; exceeding the cap fails the request.
type InvocationBudget struct {
	mu    sync.Mutex
	used  int
	limit int
}

// NewInvocationBudget creates a budget with the given cap.
func NewInvocationBudget(limit int) *InvocationBudget {
	return &InvocationBudget{limit: limit}
}

// BudgetForTier creates the budget for a tier using the standard caps.
func BudgetForTier(tier Tier) *InvocationBudget {
	return NewInvocationBudget(invocationCaps[tier])
}

// Increment consumes one invocation. It fails with ErrBudgetExhausted if the
// cap would be exceeded; the counter never passes the limit.
func (b *InvocationBudget) Increment() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.limit {
		return fmt.Errorf("%w: %d/%d invocations", ErrBudgetExhausted, b.used, b.limit)
	}
	b.used++
	return nil
}

// Used returns the number of invocations consumed so far.
func (b *InvocationBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Limit returns the invocation cap.
func (b *InvocationBudget) Limit() int { return b.limit }

// Watchdog enforces a wall-clock deadline for one request. It is consulted at
// every suspension point.
type Watchdog struct {
	start time.Time
	limit time.Duration
	now   func() time.Time
}

// NewWatchdog creates a watchdog with an explicit limit.
func NewWatchdog(limit time.Duration) *Watchdog {
	return &Watchdog{start: time.Now(), limit: limit, now: time.Now}
}

// WatchdogForTier creates the watchdog for a tier. An escalated request gets
// 1.5x its original tier's deadline, not the new tier's; escalatedFrom is the
// zero Tier for fresh requests.
func WatchdogForTier(tier Tier, escalatedFrom Tier) *Watchdog {
	limit := watchdogLimits[tier]
	if escalatedFrom != "" {
		limit = time.Duration(float64(watchdogLimits[escalatedFrom]) * escalationDeadlineFactor)
	}
	return NewWatchdog(limit)
}

// Check fails with ErrDeadlineExceeded once the deadline has passed.
func (w *Watchdog) Check() error {
	if elapsed := w.now().Sub(w.start); elapsed >= w.limit {
		return fmt.Errorf("%w: elapsed %s of %s", ErrDeadlineExceeded, elapsed.Round(time.Millisecond), w.limit)
	}
	return nil
}

// Elapsed returns the time spent since the watchdog started.
func (w *Watchdog) Elapsed() time.Duration { return w.now().Sub(w.start) }

// Limit returns the deadline duration.
func (w *Watchdog) Limit() time.Duration { return w.limit }

// Remaining returns the time left before the deadline (zero when expired).
func (w *Watchdog) Remaining() time.Duration {
	rem := w.limit - w.Elapsed()
	if rem < 0 {
		return 0
	}
	return rem
}
