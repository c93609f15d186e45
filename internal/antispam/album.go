package antispam

import (
	"sync"
	"time"
)

// AlbumFilter remembers media group ids so an album counts as one message.
type AlbumFilter struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewAlbumFilter constructs a filter remembering groups for ttl.
func NewAlbumFilter(ttl time.Duration, now func() time.Time) *AlbumFilter {
	if now == nil {
		now = time.Now
	}
	return &AlbumFilter{seen: make(map[string]time.Time), ttl: ttl, now: now}
}

// Duplicate reports whether groupID was already seen within ttl. The first call for a
// group returns false and records it. Empty ids are never duplicates.
func (f *AlbumFilter) Duplicate(groupID string) bool {
	if groupID == "" {
		return false
	}
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	if first, ok := f.seen[groupID]; ok && now.Sub(first) <= f.ttl {
		return true
	}
	f.seen[groupID] = now
	return false
}

// Prune drops expired groups.
func (f *AlbumFilter) Prune() int {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for id, first := range f.seen {
		if now.Sub(first) > f.ttl {
			delete(f.seen, id)
			removed++
		}
	}
	return removed
}
