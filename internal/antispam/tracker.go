// Package antispam holds the ephemeral moderation state: per-user rate windows,
// media album de-duplication and temporary reward penalties.
package antispam

import (
	"context"
	"sync"
	"time"
)

// Tracker decides whether a user exceeded limit messages within window.
type Tracker interface {
	RecordAndCheck(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
}

// MemoryTracker is a process-local sliding window tracker. State is lost on restart.
type MemoryTracker struct {
	mu      sync.Mutex
	windows map[int64][]time.Time
	now     func() time.Time
}

// NewMemoryTracker constructs a tracker. now may be nil to use time.Now.
func NewMemoryTracker(now func() time.Time) *MemoryTracker {
	if now == nil {
		now = time.Now
	}
	return &MemoryTracker{windows: make(map[int64][]time.Time), now: now}
}

// RecordAndCheck appends the current time to the user's window, drops entries older than
// window and reports a violation when more than limit remain. A violation clears the window.
func (t *MemoryTracker) RecordAndCheck(_ context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.windows[userID][:0]
	for _, ts := range t.windows[userID] {
		if now.Sub(ts) <= window {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)

	if len(kept) > limit {
		delete(t.windows, userID)
		return true, nil
	}
	t.windows[userID] = kept
	return false, nil
}

// Prune forgets users whose newest entry is older than maxAge.
func (t *MemoryTracker) Prune(maxAge time.Duration) int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, ts := range t.windows {
		if len(ts) == 0 || now.Sub(ts[len(ts)-1]) > maxAge {
			delete(t.windows, id)
			removed++
		}
	}
	return removed
}
