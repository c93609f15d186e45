package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"groupkeeper/internal/cache"
	"groupkeeper/internal/logging"
	"groupkeeper/internal/repo/repotest"
)

func TestGetCreatesDefaults(t *testing.T) {
	ctx := context.Background()
	r := repotest.SQLite(t)
	s := New(r, logging.Discard())

	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := Defaults()
	if got.CheckInPoints != want.CheckInPoints || got.SpamLimit != want.SpamLimit || got.VoucherCost != want.VoucherCost {
		t.Fatalf("expected defaults, got %+v", got)
	}

	stored, err := r.GetSettings(ctx)
	if err != nil {
		t.Fatalf("defaults must be persisted: %v", err)
	}
	if stored.InviteRewardPoints != want.InviteRewardPoints {
		t.Fatalf("unexpected stored row %+v", stored)
	}
}

func TestUpdateInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	s := New(repotest.SQLite(t), logging.Discard())

	if _, err := s.Get(ctx); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	updated, err := s.Update(ctx, map[string]string{"check_in_points": "25", "voucher_buy_enabled": "off"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CheckInPoints != 25 || updated.VoucherBuyEnabled {
		t.Fatalf("unexpected update result %+v", updated)
	}

	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CheckInPoints != 25 || got.VoucherBuyEnabled {
		t.Fatalf("cache served stale settings: %+v", got)
	}
}

func TestUpdateRejectsUnknownField(t *testing.T) {
	ctx := context.Background()
	s := New(repotest.SQLite(t), logging.Discard())

	_, err := s.Update(ctx, map[string]string{"spam_limit": "9", "free_money": "1"})
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	got, _ := s.Get(ctx)
	if got.SpamLimit != Defaults().SpamLimit {
		t.Fatalf("rejected update must not write, spam_limit=%d", got.SpamLimit)
	}
}

func TestUpdateRejectsInvalidValues(t *testing.T) {
	ctx := context.Background()
	s := New(repotest.SQLite(t), logging.Discard())

	cases := []map[string]string{
		{"spam_limit": "0"},
		{"activity_reward_chance": "1.5"},
		{"check_in_limit": "many"},
		{"spam_window_seconds": "NaN"},
	}
	for _, c := range cases {
		if _, err := s.Update(ctx, c); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%v: expected ErrInvalid, got %v", c, err)
		}
	}
}

func TestConcurrentGet(t *testing.T) {
	ctx := context.Background()
	s := New(repotest.SQLite(t), logging.Discard())

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Get(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent get: %v", err)
	}
}

func TestFieldsListsEveryTunable(t *testing.T) {
	fields := Fields()
	if len(fields) != 14 {
		t.Fatalf("expected 14 fields, got %d: %v", len(fields), fields)
	}
}

func TestUpdateInvalidatesOtherInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := miniredis.RunT(t)
	r := repotest.SQLite(t)
	a := New(r, logging.Discard())
	b := New(r, logging.Discard())
	for _, s := range []*Store{a, b} {
		rc := cache.New(cache.Config{Addr: srv.Addr()}, logging.Discard())
		t.Cleanup(func() { rc.Close() })
		if err := s.Watch(ctx, rc); err != nil {
			t.Fatalf("watch: %v", err)
		}
	}

	if _, err := b.Get(ctx); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := a.Update(ctx, map[string]string{"spam_limit": "9"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := b.Get(ctx)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.SpamLimit == 9 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("other instance still serves spam_limit=%d", got.SpamLimit)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
