package httpapi

import (
	"sync"
	"time"
)

// loginLimiter is a sliding-window counter of login attempts per key. Keys are
// the client IP and the login name, so both spraying and guessing are capped.
type loginLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string][]time.Time
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{
		window:  5 * time.Minute,
		max:     10,
		entries: make(map[string][]time.Time),
	}
}

func (l *loginLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.recent(key, now)
	if len(ts) >= l.max {
		l.entries[key] = ts
		return false
	}
	l.entries[key] = append(ts, now)
	l.prune(now)
	return true
}

// Reset forgets the attempts recorded for key after a successful login.
func (l *loginLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

func (l *loginLimiter) recent(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	ts := l.entries[key]
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// prune drops keys whose newest attempt has left the window.
func (l *loginLimiter) prune(now time.Time) {
	if len(l.entries) < 1024 {
		return
	}
	cutoff := now.Add(-l.window)
	for k, ts := range l.entries {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(l.entries, k)
		}
	}
}
