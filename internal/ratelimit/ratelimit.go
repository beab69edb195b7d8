// ABOUTME: Per-user sliding-window rate limiter for inbound messages
// ABOUTME: Mutex-guarded, with an injectable clock and a disabled mode

package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits at most maxPerWindow requests per user within a sliding
// window. A nil *Limiter admits everything, so callers can treat rate
// limiting as optional.
type Limiter struct {
	maxPerWindow int
	window       time.Duration

	mu      sync.Mutex
	history map[string][]time.Time

	nowFunc func() time.Time
}

// New creates a limiter. maxPerWindow <= 0 disables limiting entirely.
func New(maxPerWindow int, window time.Duration) *Limiter {
	if maxPerWindow <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		maxPerWindow: maxPerWindow,
		window:       window,
		history:      make(map[string][]time.Time),
		nowFunc:      time.Now,
	}
}

// Allow reports whether userID may proceed, recording the request when it
// does. Denied requests are not recorded, so a user cannot extend their own
// lockout by retrying.
func (l *Limiter) Allow(userID string) bool {
	if l == nil {
		return true
	}

	now := l.nowFunc()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.history[userID][:0]
	for _, t := range l.history[userID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.maxPerWindow {
		l.history[userID] = kept
		return false
	}

	l.history[userID] = append(kept, now)
	return true
}

// Remaining reports how many requests userID has left in the current window.
func (l *Limiter) Remaining(userID string) int {
	if l == nil {
		return 1
	}

	cutoff := l.nowFunc().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	used := 0
	for _, t := range l.history[userID] {
		if t.After(cutoff) {
			used++
		}
	}
	if used >= l.maxPerWindow {
		return 0
	}
	return l.maxPerWindow - used
}

// Reset forgets a user's request history.
func (l *Limiter) Reset(userID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, userID)
}
