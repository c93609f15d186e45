package economy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type countingCreator struct {
	calls atomic.Int64
}

func (c *countingCreator) CreateInviteLink(_ context.Context, chatID int64, name string) (string, error) {
	c.calls.Add(1)
	return " https://t.me/+" + name + " ", nil
}

func TestRegisterRejectsSelfReferral(t *testing.T) {
	f := newFixture(t)
	if _, err := f.referrals.Register(context.Background(), 5, 5); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
}

func TestReferralRewardExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 0, 0)

	if ok, err := f.referrals.Register(ctx, 1, 2); err != nil || !ok {
		t.Fatalf("register: ok=%v err=%v", ok, err)
	}
	if ok, _ := f.referrals.Register(ctx, 1, 2); ok {
		t.Fatalf("duplicate registration must be a no-op")
	}

	var wg sync.WaitGroup
	var payouts atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.referrals.RewardIfEligible(ctx, 2)
			if err != nil {
				t.Errorf("reward: %v", err)
				return
			}
			if p != nil {
				payouts.Add(1)
			}
		}()
	}
	wg.Wait()

	if payouts.Load() != 1 {
		t.Fatalf("expected exactly one payout, got %d", payouts.Load())
	}
	if a := f.balance(t, 1); a.Points != 20 {
		t.Fatalf("inviter must be credited once with 20, got %v", a.Points)
	}
}

func TestInviteeRewardedOnceAcrossInviters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 0, 0)
	f.account(t, 3, 0, 0)

	f.referrals.Register(ctx, 1, 2)
	f.referrals.Register(ctx, 3, 2)

	p, err := f.referrals.RewardIfEligible(ctx, 2)
	if err != nil || p == nil || p.InviterID != 1 {
		t.Fatalf("first inviter is rewarded, got %+v err=%v", p, err)
	}
	p, err = f.referrals.RewardIfEligible(ctx, 2)
	if err != nil || p != nil {
		t.Fatalf("second inviter must not be rewarded, got %+v err=%v", p, err)
	}
	if a := f.balance(t, 3); a.Points != 0 {
		t.Fatalf("second inviter got %v points", a.Points)
	}
}

func TestUnpaidReferralIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.referrals.Register(ctx, 1, 2)
	p, err := f.referrals.RewardIfEligible(ctx, 2)
	if err == nil || p == nil {
		t.Fatalf("payout to a missing inviter must be deferred, got %+v err=%v", p, err)
	}

	f.account(t, 1, 0, 0)
	paid, err := f.referrals.RetryUnpaid(ctx, 10)
	if err != nil || paid != 1 {
		t.Fatalf("retry: paid=%d err=%v", paid, err)
	}
	paid, err = f.referrals.RetryUnpaid(ctx, 10)
	if err != nil || paid != 0 {
		t.Fatalf("second retry must pay nothing: paid=%d err=%v", paid, err)
	}
	if a := f.balance(t, 1); a.Points != 20 {
		t.Fatalf("expected 20 points, got %v", a.Points)
	}
}

func TestReferralThresholdPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 0, 0)
	if _, err := f.settings.Update(ctx, map[string]string{"referral_min_messages": "3"}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	f.referrals.Register(ctx, 1, 2)

	if p, _ := f.referrals.OnVerified(ctx, 2); p != nil {
		t.Fatalf("threshold policy must not pay at verification")
	}
	if p, _ := f.referrals.OnActivity(ctx, 2, 2); p != nil {
		t.Fatalf("below threshold must not pay")
	}
	p, err := f.referrals.OnActivity(ctx, 2, 3)
	if err != nil || p == nil {
		t.Fatalf("threshold reached must pay: %+v err=%v", p, err)
	}
}

func TestLoweredThresholdStillPays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 0, 0)
	if _, err := f.settings.Update(ctx, map[string]string{"referral_min_messages": "10"}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	f.referrals.Register(ctx, 1, 2)
	if p, _ := f.referrals.OnActivity(ctx, 2, 5); p != nil {
		t.Fatalf("below threshold must not pay")
	}

	if _, err := f.settings.Update(ctx, map[string]string{"referral_min_messages": "3"}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	p, err := f.referrals.OnActivity(ctx, 2, 6)
	if err != nil || p == nil {
		t.Fatalf("count above the lowered threshold must pay: %+v err=%v", p, err)
	}
	if p, _ := f.referrals.OnActivity(ctx, 2, 7); p != nil {
		t.Fatalf("referral must pay once, got second payout %+v", p)
	}
}

func TestThresholdSwitchedOffAfterVerification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, 1, 0, 0)
	if _, err := f.settings.Update(ctx, map[string]string{"referral_min_messages": "5"}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	f.referrals.Register(ctx, 1, 2)
	if p, _ := f.referrals.OnVerified(ctx, 2); p != nil {
		t.Fatalf("threshold policy must not pay at verification")
	}

	if _, err := f.settings.Update(ctx, map[string]string{"referral_min_messages": "0"}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	f.account(t, 2, 0, 0)
	if p, _ := f.referrals.OnActivity(ctx, 2, 1); p != nil {
		t.Fatalf("unverified invitee must not pay without a threshold")
	}
	if err := f.ledger.MarkVerified(ctx, 2); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	p, err := f.referrals.OnActivity(ctx, 2, 2)
	if err != nil || p == nil {
		t.Fatalf("pending referral must pay on the next message: %+v err=%v", p, err)
	}
	if got := f.balance(t, 1).Points; got != p.Amount {
		t.Fatalf("inviter points = %v, want %v", got, p.Amount)
	}
}

func TestInviteLinkIsReused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	creator := &countingCreator{}

	first, err := f.referrals.InviteLink(ctx, creator, 7, -100)
	if err != nil {
		t.Fatalf("invite link: %v", err)
	}
	second, err := f.referrals.InviteLink(ctx, creator, 7, -100)
	if err != nil {
		t.Fatalf("invite link: %v", err)
	}
	if first != second || creator.calls.Load() != 1 {
		t.Fatalf("expected one created link reused, got %q %q calls=%d", first, second, creator.calls.Load())
	}

	owner, err := f.referrals.ResolveInviteLink(ctx, "  "+first+"\n")
	if err != nil || owner == nil || owner.CreatorID != 7 {
		t.Fatalf("resolve: %+v err=%v", owner, err)
	}
	if owner, _ := f.referrals.ResolveInviteLink(ctx, "https://t.me/+unknown"); owner != nil {
		t.Fatalf("unknown link resolves to nil")
	}
}
