package gateway

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow is a sliding-window rate limiter over call timestamps. It
// supports both a blocking Wait, used inside the gateway, and a non-blocking
// Allow with a retry-after hint, used at the HTTP surface.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu    sync.Mutex
	calls []time.Time
	now   func() time.Time
}

// NewSlidingWindow creates a limiter allowing limit calls per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// prune drops timestamps older than the window. Caller holds the lock.
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for i < len(sw.calls) && !sw.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.calls = append(sw.calls[:0], sw.calls[i:]...)
	}
}

// Allow records a call if capacity remains. When the window is full it
// returns false and how long until the oldest call expires.
func (sw *SlidingWindow) Allow() (bool, time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.prune(now)

	if len(sw.calls) < sw.limit {
		sw.calls = append(sw.calls, now)
		return true, 0
	}

	retryAfter := sw.calls[0].Add(sw.window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

// Wait blocks until a slot opens or the context is done, recording the call
// on success.
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		ok, retryAfter := sw.Allow()
		if ok {
			return nil
		}
		if retryAfter <= 0 {
			retryAfter = 10 * time.Millisecond
		}
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Pending returns the number of calls currently inside the window.
func (sw *SlidingWindow) Pending() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(sw.now())
	return len(sw.calls)
}
