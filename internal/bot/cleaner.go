package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"groupkeeper/internal/chat"
)

type messageKey struct {
	chatID    int64
	messageID int
}

// MediaCleaner deletes media messages after a delay.
type MediaCleaner struct {
	messenger chat.Messenger
	logger    *slog.Logger
	// unit scales the configured delay; seconds outside tests.
	unit time.Duration

	mu      sync.Mutex
	timers  map[messageKey]*time.Timer
	stopped bool
}

// NewMediaCleaner constructs a cleaner.
func NewMediaCleaner(m chat.Messenger, logger *slog.Logger) *MediaCleaner {
	return &MediaCleaner{
		messenger: m,
		logger:    logger.With("component", "media_cleaner"),
		unit:      time.Second,
		timers:    make(map[messageKey]*time.Timer),
	}
}

// Schedule deletes the message after delay units. A non-positive delay does nothing.
func (c *MediaCleaner) Schedule(chatID int64, messageID int, delay int) {
	if delay <= 0 {
		return
	}
	key := messageKey{chatID: chatID, messageID: messageID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if _, ok := c.timers[key]; ok {
		return
	}
	c.timers[key] = time.AfterFunc(time.Duration(delay)*c.unit, func() { c.fire(key) })
}

func (c *MediaCleaner) fire(key messageKey) {
	c.mu.Lock()
	delete(c.timers, key)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.messenger.DeleteMessage(ctx, key.chatID, key.messageID); err != nil {
		c.logger.Warn("media delete failed", "chat_id", key.chatID, "message_id", key.messageID, "error", err)
	}
}

// Pending returns the number of scheduled deletions.
func (c *MediaCleaner) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Stop cancels every scheduled deletion.
func (c *MediaCleaner) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for k, t := range c.timers {
		t.Stop()
		delete(c.timers, k)
	}
}
