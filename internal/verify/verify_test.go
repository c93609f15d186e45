package verify

import (
	"math/rand/v2"
	"testing"
	"time"

	"groupkeeper/internal/logging"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return NewStore(rand.New(rand.NewPCG(1, 2)), clock.Now), clock
}

func TestArithmeticOptions(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	for i := 0; i < 200; i++ {
		_, answer, options := newArithmetic(rng)
		if len(options) != optionCount {
			t.Fatalf("expected %d options, got %v", optionCount, options)
		}
		if answer < 20 || answer > 198 {
			t.Fatalf("answer %d outside two-digit sum range", answer)
		}
		seen := map[int]bool{}
		for _, o := range options {
			if o <= 0 || seen[o] {
				t.Fatalf("options must be distinct and positive: %v", options)
			}
			seen[o] = true
		}
		if !seen[answer] {
			t.Fatalf("answer %d missing from %v", answer, options)
		}
	}
}

func TestFastCorrectAnswerIsBot(t *testing.T) {
	s, clock := newTestStore()
	c := s.Issue(10, -100)

	clock.Advance(500 * time.Millisecond)
	res, _ := s.Submit(10, 10, c.Answer)
	if res != ResultBot {
		t.Fatalf("expected bot, got %v", res)
	}
	if !res.Kick() {
		t.Fatalf("bot result kicks")
	}
	if _, ok := s.Get(10); ok {
		t.Fatalf("challenge must be removed")
	}
}

func TestCorrectAnswerAfterTwoSecondsVerifies(t *testing.T) {
	s, clock := newTestStore()
	c := s.Issue(10, -100)

	clock.Advance(2 * time.Second)
	res, got := s.Submit(10, 10, c.Answer)
	if res != ResultVerified {
		t.Fatalf("expected verified, got %v", res)
	}
	if got.ChatID != -100 {
		t.Fatalf("unexpected challenge %+v", got)
	}
	if res, _ := s.Submit(10, 10, c.Answer); res != ResultNoChallenge {
		t.Fatalf("second submit must find nothing, got %v", res)
	}
}

func TestWrongAnswerFails(t *testing.T) {
	s, clock := newTestStore()
	c := s.Issue(10, -100)
	clock.Advance(3 * time.Second)
	if res, _ := s.Submit(10, 10, c.Answer+1); res != ResultWrong {
		t.Fatalf("expected wrong, got %v", res)
	}
}

func TestOtherUserCannotConsumeChallenge(t *testing.T) {
	s, clock := newTestStore()
	c := s.Issue(10, -100)
	clock.Advance(3 * time.Second)

	if res, _ := s.Submit(11, 10, c.Answer); res != ResultNotForYou {
		t.Fatalf("expected not_for_you, got %v", res)
	}
	if _, ok := s.Get(10); !ok {
		t.Fatalf("challenge must stay pending")
	}
}

func TestExpireIsNoOpAfterResolution(t *testing.T) {
	s, clock := newTestStore()
	c := s.Issue(10, -100)
	clock.Advance(2 * time.Second)
	s.Submit(10, 10, c.Answer)

	if _, ok := s.Expire(10, c.Seq); ok {
		t.Fatalf("expire after verification must be a no-op")
	}

	old := s.Issue(20, -100)
	fresh := s.Issue(20, -100)
	if _, ok := s.Expire(20, old.Seq); ok {
		t.Fatalf("stale timer must not expire a re-issued challenge")
	}
	if _, ok := s.Expire(20, fresh.Seq); !ok {
		t.Fatalf("expected fresh challenge to expire")
	}
}

func TestServiceTimeoutFiresOnce(t *testing.T) {
	expired := make(chan Challenge, 2)
	svc := NewService(NewStore(nil, nil), 20*time.Millisecond, func(c Challenge) { expired <- c }, logging.Discard())
	defer svc.Stop()

	svc.Begin(5, -1)
	select {
	case c := <-expired:
		if c.UserID != 5 {
			t.Fatalf("unexpected expiry %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout did not fire")
	}
	if svc.Pending() != 0 {
		t.Fatalf("expired challenge must be removed")
	}
	if n := svc.Sweep(); n != 0 {
		t.Fatalf("nothing left to sweep, got %d", n)
	}
}

func TestServiceResolvedChallengeDoesNotExpire(t *testing.T) {
	expired := make(chan Challenge, 1)
	svc := NewService(NewStore(nil, nil), 50*time.Millisecond, func(c Challenge) { expired <- c }, logging.Discard())
	defer svc.Stop()

	c := svc.Begin(5, -1)
	if res, _ := svc.Submit(5, 5, c.Answer); res != ResultBot {
		t.Fatalf("immediate answer is bot-like, got %v", res)
	}

	select {
	case c := <-expired:
		t.Fatalf("resolved challenge expired: %+v", c)
	case <-time.After(150 * time.Millisecond):
	}
}
