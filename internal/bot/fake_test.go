package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"groupkeeper/internal/antispam"
	"groupkeeper/internal/chat"
	"groupkeeper/internal/economy"
	"groupkeeper/internal/logging"
	"groupkeeper/internal/repo"
	"groupkeeper/internal/repo/repotest"
	"groupkeeper/internal/settings"
	"groupkeeper/internal/verify"
)

const groupID int64 = -1001

type call struct {
	method string
	chatID int64
	userID int64
	text   string
	rows   [][]chat.Button
	alert  bool
}

type fakeMessenger struct {
	mu     sync.Mutex
	calls  []call
	nextID int
	admins map[int64][]int64
	links  int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 100, admins: make(map[int64][]int64)}
}

func (f *fakeMessenger) record(c call) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.calls = append(f.calls, c)
	return f.nextID
}

func (f *fakeMessenger) SendText(_ context.Context, chatID int64, text string) (int, error) {
	return f.record(call{method: "send", chatID: chatID, text: text}), nil
}

func (f *fakeMessenger) SendKeyboard(_ context.Context, chatID int64, text string, rows [][]chat.Button) (int, error) {
	return f.record(call{method: "keyboard", chatID: chatID, text: text, rows: rows}), nil
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, _ string, text string, alert bool) error {
	f.record(call{method: "answer", text: text, alert: alert})
	return nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	f.record(call{method: "delete", chatID: chatID, text: fmt.Sprint(messageID)})
	return nil
}

func (f *fakeMessenger) Restrict(_ context.Context, chatID, userID int64, _ time.Time) error {
	f.record(call{method: "restrict", chatID: chatID, userID: userID})
	return nil
}

func (f *fakeMessenger) Unrestrict(_ context.Context, chatID, userID int64) error {
	f.record(call{method: "unrestrict", chatID: chatID, userID: userID})
	return nil
}

func (f *fakeMessenger) Kick(_ context.Context, chatID, userID int64) error {
	f.record(call{method: "kick", chatID: chatID, userID: userID})
	return nil
}

func (f *fakeMessenger) CreateInviteLink(_ context.Context, chatID int64, name string) (string, error) {
	f.mu.Lock()
	f.links++
	f.mu.Unlock()
	return "https://t.me/+" + name, nil
}

func (f *fakeMessenger) ChatAdministrators(_ context.Context, chatID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[chatID], nil
}

func (f *fakeMessenger) count(method string, userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method && (userID == 0 || c.userID == userID) {
			n++
		}
	}
	return n
}

func (f *fakeMessenger) last(method string) (call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method {
			return f.calls[i], true
		}
	}
	return call{}, false
}

func (f *fakeMessenger) sentContaining(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if (c.method == "send" || c.method == "keyboard" || c.method == "answer") && strings.Contains(c.text, substr) {
			return true
		}
	}
	return false
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

const operatorID int64 = 900

type harness struct {
	engine     *Engine
	messenger  *fakeMessenger
	clock      *fakeClock
	repo       *repo.SQLiteRepository
	settings   *settings.Store
	ledger     *economy.Ledger
	rewards    *economy.Engine
	referrals  *economy.Referrals
	challenges *verify.Store
	penalties  *antispam.Penalties
	seq        int
}

// newHarness builds an engine whose activity reward draw is fixed to draw.
func newHarness(t *testing.T, draw float64) *harness {
	t.Helper()
	r := repotest.SQLite(t)
	log := logging.Discard()
	clock := &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	m := newFakeMessenger()
	st := settings.New(r, log)
	h := &harness{
		messenger:  m,
		clock:      clock,
		repo:       r,
		settings:   st,
		ledger:     economy.NewLedger(r, st, nil, log, clock.Now),
		rewards:    economy.NewEngine(r, st, nil, log, func() float64 { return 0 }),
		referrals:  economy.NewReferrals(r, st, nil, log),
		challenges: verify.NewStore(nil, clock.Now),
		penalties:  antispam.NewPenalties(clock.Now),
	}
	h.engine = New(Deps{
		Messenger:  m,
		Ledger:     h.ledger,
		Rewards:    h.rewards,
		Referrals:  h.referrals,
		Settings:   st,
		Tracker:    antispam.NewMemoryTracker(clock.Now),
		Albums:     antispam.NewAlbumFilter(time.Minute, clock.Now),
		Penalties:  h.penalties,
		Challenges: h.challenges,
		Admins:     NewAdminCache(m, nil, time.Minute, log, clock.Now),
		Logger:     log,
	}, Config{
		Operators:           []int64{operatorID},
		VerificationTimeout: time.Hour,
		Now:                 clock.Now,
		Draw:                func() float64 { return draw },
	})
	t.Cleanup(h.engine.Stop)
	return h
}

func user(id int64) chat.User {
	return chat.User{ID: id, Username: fmt.Sprintf("u%d", id), FirstName: "User"}
}

// say sends text one second after the previous message, below the default flood rate.
func (h *harness) say(id int64, text string) {
	h.clock.Advance(time.Second)
	h.send(id, text)
}

// burst sends n messages at the same instant.
func (h *harness) burst(id int64, n int, text string) {
	for i := 0; i < n; i++ {
		h.send(id, text)
	}
}

func (h *harness) send(id int64, text string) {
	h.seq++
	msg := chat.Message{ID: h.seq, ChatID: groupID, From: user(id), Text: text}
	if cmd, ok := strings.CutPrefix(text, "/"); ok {
		name, args, _ := strings.Cut(cmd, " ")
		msg.Command, msg.Args = name, args
	}
	h.engine.HandleMessage(context.Background(), msg)
}

func (h *harness) press(id int64, data string) {
	h.engine.HandleCallback(context.Background(), chat.Callback{ID: "cb", From: user(id), ChatID: groupID, MessageID: 1, Data: data})
}

func (h *harness) account(t *testing.T, id int64) *repo.Account {
	t.Helper()
	a, err := h.ledger.Account(context.Background(), id)
	if err != nil {
		t.Fatalf("account %d: %v", id, err)
	}
	return a
}
