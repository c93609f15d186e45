package verify

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Result is the outcome of submitting an answer.
type Result int

const (
	// ResultNoChallenge means nothing is pending for the target (already resolved or expired).
	ResultNoChallenge Result = iota
	// ResultNotForYou means someone other than the target answered. The challenge stays pending.
	ResultNotForYou
	// ResultBot means the answer came faster than a human could read the question.
	ResultBot
	// ResultWrong means the answer did not match.
	ResultWrong
	// ResultVerified means the target answered correctly.
	ResultVerified
)

func (r Result) String() string {
	switch r {
	case ResultNotForYou:
		return "not_for_you"
	case ResultBot:
		return "bot"
	case ResultWrong:
		return "wrong"
	case ResultVerified:
		return "verified"
	default:
		return "no_challenge"
	}
}

// Kick reports whether the result removes the user from the chat.
func (r Result) Kick() bool {
	return r == ResultBot || r == ResultWrong
}

// MinAnswerDelay is the fastest plausible human answer.
const MinAnswerDelay = time.Second

// Challenge is one pending verification.
type Challenge struct {
	Seq       uint64
	UserID    int64
	ChatID    int64
	Question  string
	Options   []int
	Answer    int
	IssuedAt  time.Time
	MessageID int
}

// Store holds at most one pending challenge per user.
// Every transition out of pending removes the entry, so a late timer finds nothing to do.
type Store struct {
	mu      sync.Mutex
	pending map[int64]*Challenge
	seq     uint64
	rng     *rand.Rand
	now     func() time.Time
}

// NewStore constructs an empty store. rng and now may be nil.
func NewStore(rng *rand.Rand, now func() time.Time) *Store {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if now == nil {
		now = time.Now
	}
	return &Store{pending: make(map[int64]*Challenge), rng: rng, now: now}
}

// Issue creates a challenge for userID, replacing any pending one.
func (s *Store) Issue(userID, chatID int64) Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()

	question, answer, options := newArithmetic(s.rng)
	s.seq++
	c := &Challenge{
		Seq:      s.seq,
		UserID:   userID,
		ChatID:   chatID,
		Question: question,
		Options:  options,
		Answer:   answer,
		IssuedAt: s.now(),
	}
	s.pending[userID] = c
	return *c
}

// Submit judges answer from submitterID for targetID's challenge.
// The returned challenge is set for every result except ResultNoChallenge.
func (s *Store) Submit(submitterID, targetID int64, answer int) (Result, Challenge) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.pending[targetID]
	if submitterID != targetID {
		if !ok {
			return ResultNotForYou, Challenge{}
		}
		return ResultNotForYou, *c
	}
	if !ok {
		return ResultNoChallenge, Challenge{}
	}
	delete(s.pending, targetID)

	switch {
	case now.Sub(c.IssuedAt) < MinAnswerDelay:
		return ResultBot, *c
	case answer == c.Answer:
		return ResultVerified, *c
	default:
		return ResultWrong, *c
	}
}

// Expire removes the challenge issued as seq if it is still pending.
// It reports false when the challenge was already resolved or replaced.
func (s *Store) Expire(userID int64, seq uint64) (Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.pending[userID]
	if !ok || c.Seq != seq {
		return Challenge{}, false
	}
	delete(s.pending, userID)
	return *c, true
}

// SetMessageID attaches the platform message presenting challenge seq.
func (s *Store) SetMessageID(userID int64, seq uint64, messageID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.pending[userID]; ok && c.Seq == seq {
		c.MessageID = messageID
	}
}

// Get returns the pending challenge for userID.
func (s *Store) Get(userID int64) (Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.pending[userID]
	if !ok {
		return Challenge{}, false
	}
	return *c, true
}

// Len returns the number of pending challenges.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Prune drops challenges older than maxAge and returns them. It backs up the
// per-challenge timers after a missed fire.
func (s *Store) Prune(maxAge time.Duration) []Challenge {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Challenge
	for id, c := range s.pending {
		if now.Sub(c.IssuedAt) > maxAge {
			removed = append(removed, *c)
			delete(s.pending, id)
		}
	}
	return removed
}
