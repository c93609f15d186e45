package antispam

import (
	"sync"
	"time"
)

// Penalties tracks users barred from earning activity rewards until an expiry.
type Penalties struct {
	mu      sync.Mutex
	expires map[int64]time.Time
	now     func() time.Time
}

// NewPenalties constructs an empty registry.
func NewPenalties(now func() time.Time) *Penalties {
	if now == nil {
		now = time.Now
	}
	return &Penalties{expires: make(map[int64]time.Time), now: now}
}

// Add penalizes userID for d. A longer existing penalty is kept.
func (p *Penalties) Add(userID int64, d time.Duration) {
	until := p.now().Add(d)

	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.expires[userID]; ok && cur.After(until) {
		return
	}
	p.expires[userID] = until
}

// IsPenalized reports whether userID is still penalized, removing expired entries.
func (p *Penalties) IsPenalized(userID int64) bool {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	until, ok := p.expires[userID]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(p.expires, userID)
		return false
	}
	return true
}

// Prune removes every expired penalty.
func (p *Penalties) Prune() int {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id, until := range p.expires {
		if !now.Before(until) {
			delete(p.expires, id)
			removed++
		}
	}
	return removed
}
