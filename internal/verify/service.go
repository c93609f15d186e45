package verify

import (
	"log/slog"
	"sync"
	"time"
)

// ExpireFunc is called once for every challenge that timed out while pending.
type ExpireFunc func(Challenge)

// Service couples the Store with one timeout timer per challenge.
type Service struct {
	store    *Store
	timeout  time.Duration
	onExpire ExpireFunc
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[int64]pendingTimer
}

type pendingTimer struct {
	seq   uint64
	timer *time.Timer
}

// NewService constructs a service. onExpire runs on the timer goroutine.
func NewService(store *Store, timeout time.Duration, onExpire ExpireFunc, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		timeout:  timeout,
		onExpire: onExpire,
		logger:   logger.With("component", "verify"),
		timers:   make(map[int64]pendingTimer),
	}
}

// Timeout returns the configured challenge lifetime.
func (s *Service) Timeout() time.Duration {
	return s.timeout
}

// Begin issues a challenge for userID and schedules its expiry.
func (s *Service) Begin(userID, chatID int64) Challenge {
	c := s.store.Issue(userID, chatID)

	t := time.AfterFunc(s.timeout, func() { s.expire(userID, c.Seq) })

	s.mu.Lock()
	if old, ok := s.timers[userID]; ok {
		old.timer.Stop()
	}
	s.timers[userID] = pendingTimer{seq: c.Seq, timer: t}
	s.mu.Unlock()

	s.logger.Debug("challenge issued", "user_id", userID, "chat_id", chatID)
	return c
}

// AttachMessage records the message that presents challenge c.
func (s *Service) AttachMessage(c Challenge, messageID int) {
	s.store.SetMessageID(c.UserID, c.Seq, messageID)
}

// Submit judges an answer and cancels the timer when the challenge resolves.
func (s *Service) Submit(submitterID, targetID int64, answer int) (Result, Challenge) {
	res, c := s.store.Submit(submitterID, targetID, answer)
	if res != ResultNotForYou && res != ResultNoChallenge {
		s.clearTimer(targetID, c.Seq)
	}
	return res, c
}

// Stop cancels every pending timer.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of pending challenges.
func (s *Service) Pending() int {
	return s.store.Len()
}

func (s *Service) expire(userID int64, seq uint64) {
	s.clearTimer(userID, seq)
	c, ok := s.store.Expire(userID, seq)
	if !ok {
		return
	}
	s.logger.Info("challenge expired", "user_id", userID, "chat_id", c.ChatID)
	if s.onExpire != nil {
		s.onExpire(c)
	}
}

// Sweep expires challenges whose timer was lost; it is safe to run alongside the timers.
func (s *Service) Sweep() int {
	removed := s.store.Prune(s.timeout)
	for _, c := range removed {
		s.clearTimer(c.UserID, c.Seq)
		if s.onExpire != nil {
			s.onExpire(c)
		}
	}
	return len(removed)
}

func (s *Service) clearTimer(userID int64, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[userID]; ok && t.seq == seq {
		t.timer.Stop()
		delete(s.timers, userID)
	}
}
