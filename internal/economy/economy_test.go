package economy

import (
	"context"
	"testing"
	"time"

	"groupkeeper/internal/logging"
	"groupkeeper/internal/repo"
	"groupkeeper/internal/repo/repotest"
	"groupkeeper/internal/settings"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	repo      *repo.SQLiteRepository
	settings  *settings.Store
	ledger    *Ledger
	clock     *fakeClock
	referrals *Referrals
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := repotest.SQLite(t)
	st := settings.New(r, logging.Discard())
	clock := &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	return &fixture{
		repo:      r,
		settings:  st,
		ledger:    NewLedger(r, st, nil, logging.Discard(), clock.Now),
		clock:     clock,
		referrals: NewReferrals(r, st, nil, logging.Discard()),
	}
}

func (f *fixture) engine(draw float64) *Engine {
	return NewEngine(f.repo, f.settings, nil, logging.Discard(), func() float64 { return draw })
}

func (f *fixture) account(t *testing.T, id int64, points float64, vouchers int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.ledger.Touch(ctx, repo.AccountProfile{ID: id, Username: "user"}); err != nil {
		t.Fatalf("touch %d: %v", id, err)
	}
	if points > 0 {
		if err := f.ledger.CreditPoints(ctx, id, points); err != nil {
			t.Fatalf("credit points: %v", err)
		}
	}
	if vouchers > 0 {
		if err := f.ledger.CreditVouchers(ctx, id, vouchers); err != nil {
			t.Fatalf("credit vouchers: %v", err)
		}
	}
}

func (f *fixture) balance(t *testing.T, id int64) *repo.Account {
	t.Helper()
	a, err := f.ledger.Account(context.Background(), id)
	if err != nil {
		t.Fatalf("get account %d: %v", id, err)
	}
	return a
}
