package economy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"groupkeeper/internal/repo"
)

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 100, 0)

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.ledger.DebitPoints(ctx, 1, 7)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientFunds):
			default:
				t.Errorf("debit: %v", err)
			}
		}()
	}
	wg.Wait()

	a := f.balance(t, 1)
	if a.Points < 0 {
		t.Fatalf("balance went negative: %v", a.Points)
	}
	if got := 100 - a.Points; got != float64(succeeded.Load()*7) {
		t.Fatalf("debited %v but %d debits succeeded", got, succeeded.Load())
	}
	if succeeded.Load() != 14 {
		t.Fatalf("expected 14 successful debits, got %d", succeeded.Load())
	}
}

func TestDebitRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 5, 0)

	if err := f.ledger.DebitPoints(ctx, 1, -3); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := f.ledger.DebitPoints(ctx, 1, 6); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := f.ledger.DebitVouchers(ctx, 1, 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds for vouchers, got %v", err)
	}
	if err := f.ledger.DebitPoints(ctx, 404, 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("missing account has no funds, got %v", err)
	}
	if err := f.ledger.CreditPoints(ctx, 404, 1); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("credit to missing account must fail, got %v", err)
	}
	if a := f.balance(t, 1); a.Points != 5 {
		t.Fatalf("rejected debits must not change the balance, got %v", a.Points)
	}
}

func TestCheckInOncePerDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.settings.Update(ctx, map[string]string{"check_in_points": "10", "check_in_limit": "1"}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	f.account(t, 1, 0, 0)

	res, err := f.ledger.CheckIn(ctx, 1)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if !res.OK || res.Awarded != 10 || res.Count != 1 {
		t.Fatalf("unexpected first check-in %+v", res)
	}
	if a := f.balance(t, 1); a.Points != 10 || a.DailyCheckIns != 1 {
		t.Fatalf("unexpected account after check-in %+v", a)
	}

	f.clock.Advance(time.Hour)
	res, err = f.ledger.CheckIn(ctx, 1)
	if err != nil {
		t.Fatalf("second check in: %v", err)
	}
	if res.OK || res.Awarded != 0 {
		t.Fatalf("second check-in same day must be rejected, got %+v", res)
	}
	if a := f.balance(t, 1); a.Points != 10 {
		t.Fatalf("rejected check-in changed balance to %v", a.Points)
	}

	f.clock.Advance(24 * time.Hour)
	res, err = f.ledger.CheckIn(ctx, 1)
	if err != nil || !res.OK {
		t.Fatalf("next day check-in: res=%+v err=%v", res, err)
	}
	if a := f.balance(t, 1); a.Points != 20 || a.DailyCheckIns != 1 {
		t.Fatalf("counter must reset on a new day, got %+v", a)
	}
}

func TestConcurrentCheckInSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 0, 0)

	var wg sync.WaitGroup
	var ok atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.CheckIn(ctx, 1)
			if err != nil {
				t.Errorf("check in: %v", err)
				return
			}
			if res.OK {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 {
		t.Fatalf("expected exactly one successful check-in, got %d", ok.Load())
	}
}

func TestAwardCappedPoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 0, 0)

	for i, want := range []bool{true, true, false} {
		got, err := f.ledger.AwardCappedPoints(ctx, 1, 1, 2)
		if err != nil {
			t.Fatalf("award %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("award %d: expected %v, got %v", i, want, got)
		}
	}
	a := f.balance(t, 1)
	if a.Points != 2 || a.PointsEarnedDaily != 2 {
		t.Fatalf("unexpected balances %+v", a)
	}

	if _, err := f.ledger.ResetDaily(ctx); err != nil {
		t.Fatalf("reset daily: %v", err)
	}
	if got, _ := f.ledger.AwardCappedPoints(ctx, 1, 1, 2); !got {
		t.Fatalf("daily reset must reopen the cap")
	}
}

func TestBuyVoucher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 499, 0)

	if _, err := f.ledger.BuyVoucher(ctx, 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	f.ledger.CreditPoints(ctx, 1, 1)
	a, err := f.ledger.BuyVoucher(ctx, 1)
	if err != nil {
		t.Fatalf("buy voucher: %v", err)
	}
	if a.Points != 0 || a.Vouchers != 1 {
		t.Fatalf("unexpected balances %+v", a)
	}

	if _, err := f.settings.Update(ctx, map[string]string{"voucher_buy_enabled": "false"}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if _, err := f.ledger.BuyVoucher(ctx, 1); !errors.Is(err, ErrVoucherExchangeDisabled) {
		t.Fatalf("expected ErrVoucherExchangeDisabled, got %v", err)
	}
}

func TestAdminGrantAndRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.ledger.GrantPoints(ctx, 9, 30); err != nil {
		t.Fatalf("grant creates the account: %v", err)
	}
	if err := f.ledger.GrantVouchers(ctx, 9, 2); err != nil {
		t.Fatalf("grant vouchers: %v", err)
	}
	if err := f.ledger.RevokePoints(ctx, 9, 100); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := f.ledger.RevokeVouchers(ctx, 9, 1); err != nil {
		t.Fatalf("revoke vouchers: %v", err)
	}
	a := f.balance(t, 9)
	if a.Points != 0 || a.Vouchers != 1 {
		t.Fatalf("unexpected balances %+v", a)
	}
	if err := f.ledger.RevokePoints(ctx, 404, 1); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLeaderboardAndReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 5, 0)
	f.account(t, 2, 50, 0)
	f.account(t, 3, 20, 0)

	page, err := f.ledger.Leaderboard(ctx, repo.SortPoints, 2, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if page.Total != 3 || len(page.Accounts) != 2 || page.Accounts[0].ID != 2 || page.Accounts[1].ID != 3 {
		t.Fatalf("unexpected page %+v", page)
	}

	n, err := f.ledger.ResetAllPoints(ctx)
	if err != nil || n != 3 {
		t.Fatalf("reset all: n=%d err=%v", n, err)
	}
	if a := f.balance(t, 2); a.Points != 0 {
		t.Fatalf("expected 0 after reset, got %v", a.Points)
	}
}

func TestRecordActivity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 0, 0)

	for i := int64(1); i <= 3; i++ {
		total, err := f.ledger.RecordActivity(ctx, 1)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if total != i {
			t.Fatalf("expected total %d, got %d", i, total)
		}
	}
	a := f.balance(t, 1)
	if a.MsgCountDaily != 3 || a.LastMsgAt == nil {
		t.Fatalf("unexpected activity %+v", a)
	}
}
