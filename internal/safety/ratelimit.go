package safety

import (
	"context"
	"sync"
	"time"
)

// intervalLimiter enforces a minimum spacing between operations by reserving
// the next start slot under the lock and sleeping outside it. Concurrent
// callers each get their own slot, so N waiters spread out over N intervals
// instead of stampeding when the first one wakes.
type intervalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func newIntervalLimiter(interval time.Duration) *intervalLimiter {
	return &intervalLimiter{interval: interval}
}

// wait blocks until this caller's reserved slot arrives or ctx is done.
// The lock is never held across the sleep.
func (l *intervalLimiter) wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	start := l.next
	if start.Before(now) {
		start = now
	}
	l.next = start.Add(l.interval)
	l.mu.Unlock()

	delay := time.Until(start)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *intervalLimiter) setInterval(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interval = d
}
