package antispam

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"groupkeeper/internal/cache"
	"groupkeeper/internal/logging"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func runBurst(t *testing.T, tr Tracker, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()
	// Five messages within two seconds: the fifth violates limit 4 / window 3s.
	for i := 1; i <= 5; i++ {
		violated, err := tr.RecordAndCheck(ctx, 1, 4, 3*time.Second)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if violated != (i == 5) {
			t.Fatalf("message %d: violated=%v", i, violated)
		}
		clock.Advance(500 * time.Millisecond)
	}
}

func runSpaced(t *testing.T, tr Tracker, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		violated, err := tr.RecordAndCheck(ctx, 2, 4, 3*time.Second)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if violated {
			t.Fatalf("message %d spaced one second apart must not violate", i+1)
		}
		clock.Advance(time.Second)
	}
}

func TestMemoryTrackerBurstViolates(t *testing.T) {
	clock := newClock()
	runBurst(t, NewMemoryTracker(clock.Now), clock)
}

func TestMemoryTrackerSpacedMessagesPass(t *testing.T) {
	clock := newClock()
	runSpaced(t, NewMemoryTracker(clock.Now), clock)
}

func TestMemoryTrackerClearsWindowOnViolation(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tr := NewMemoryTracker(clock.Now)

	for i := 0; i < 3; i++ {
		tr.RecordAndCheck(ctx, 1, 2, time.Minute)
	}
	violated, _ := tr.RecordAndCheck(ctx, 1, 2, time.Minute)
	if violated {
		t.Fatalf("first message after a violation starts a fresh window")
	}
}

func TestMemoryTrackerPrune(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tr := NewMemoryTracker(clock.Now)
	tr.RecordAndCheck(ctx, 1, 4, time.Second)
	clock.Advance(time.Hour)
	if n := tr.Prune(time.Minute); n != 1 {
		t.Fatalf("expected 1 pruned window, got %d", n)
	}
}

func TestRedisTrackerMatchesMemorySemantics(t *testing.T) {
	srv := miniredis.RunT(t)
	r := cache.New(cache.Config{Addr: srv.Addr()}, logging.Discard())
	t.Cleanup(func() { r.Close() })

	clock := newClock()
	tr := NewRedisTracker(r, clock.Now)
	runBurst(t, tr, clock)
	runSpaced(t, tr, clock)

	if srv.Exists(windowKeyPrefix + "1") {
		t.Fatalf("violation must clear the redis window")
	}
}

func TestAlbumFilterCountsAlbumOnce(t *testing.T) {
	clock := newClock()
	f := NewAlbumFilter(time.Minute, clock.Now)

	if f.Duplicate("g1") {
		t.Fatalf("first message of an album is processed")
	}
	if !f.Duplicate("g1") {
		t.Fatalf("second message of the album is ignored")
	}
	if f.Duplicate("") {
		t.Fatalf("messages without a group are never duplicates")
	}
	clock.Advance(2 * time.Minute)
	if n := f.Prune(); n != 1 {
		t.Fatalf("expected 1 pruned group, got %d", n)
	}
	if f.Duplicate("g1") {
		t.Fatalf("expired group is treated as new")
	}
}

func TestPenaltiesExpireLazily(t *testing.T) {
	clock := newClock()
	p := NewPenalties(clock.Now)

	p.Add(7, 3*time.Minute)
	if !p.IsPenalized(7) {
		t.Fatalf("expected penalty")
	}
	if p.IsPenalized(8) {
		t.Fatalf("unrelated user is not penalized")
	}

	p.Add(7, time.Minute)
	clock.Advance(2 * time.Minute)
	if !p.IsPenalized(7) {
		t.Fatalf("shorter penalty must not shorten an existing one")
	}

	clock.Advance(2 * time.Minute)
	if p.IsPenalized(7) {
		t.Fatalf("penalty must expire")
	}
	if n := p.Prune(); n != 0 {
		t.Fatalf("expired entry was already removed on read, pruned %d", n)
	}
}
