package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"groupkeeper/internal/metrics"
	"groupkeeper/internal/repo"
	"groupkeeper/internal/settings"
)

// LinkCreator creates a named invite link for a chat on the messaging platform.
type LinkCreator interface {
	CreateInviteLink(ctx context.Context, chatID int64, name string) (string, error)
}

// Payout reports a referral reward that was claimed for an inviter.
type Payout struct {
	ReferralID int64
	InviterID  int64
	InviteeID  int64
	Amount     float64
}

// Referrals manages invite links and inviter rewards.
//
// A reward is claimed by flipping reward_issued in its own statement, then paid in a
// separate transaction that flips reward_paid and credits the inviter together. A crash
// between the two leaves a claimed-but-unpaid row that RetryUnpaid settles exactly once.
type Referrals struct {
	repo     repo.Repository
	settings *settings.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewReferrals constructs the referral ledger.
func NewReferrals(r repo.Repository, st *settings.Store, m *metrics.Metrics, logger *slog.Logger) *Referrals {
	return &Referrals{
		repo:     r,
		settings: st,
		metrics:  m,
		logger:   logger.With("component", "referrals"),
	}
}

// Register records inviterID -> inviteeID. It reports false when the pair already exists.
func (r *Referrals) Register(ctx context.Context, inviterID, inviteeID int64) (bool, error) {
	if inviterID == inviteeID {
		return false, ErrSelfReferral
	}
	inserted, err := r.repo.InsertReferral(ctx, inviterID, inviteeID)
	if err != nil {
		return false, err
	}
	if inserted {
		r.logger.Info("referral registered", "inviter_id", inviterID, "invitee_id", inviteeID)
	}
	return inserted, nil
}

// RewardIfEligible claims the invitee's pending referral and pays the inviter.
// It returns nil when nothing was claimable. When the claim succeeds but the payout
// fails, the payout and the error are both returned; the claim stays for RetryUnpaid.
func (r *Referrals) RewardIfEligible(ctx context.Context, inviteeID int64) (*Payout, error) {
	cfg, err := r.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	ref, err := r.repo.ClaimReferralReward(ctx, inviteeID, cfg.InviteRewardPoints)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p := &Payout{ReferralID: ref.ID, InviterID: ref.InviterID, InviteeID: ref.InviteeID, Amount: ref.RewardAmount}
	if _, err := r.pay(ctx, *ref); err != nil {
		r.metrics.Ledger("referral_payout", "deferred")
		return p, fmt.Errorf("pay referral %d: %w", ref.ID, err)
	}
	r.metrics.Ledger("referral_payout", "ok")
	return p, nil
}

// OnVerified rewards the inviter when referrals pay out at verification time.
func (r *Referrals) OnVerified(ctx context.Context, inviteeID int64) (*Payout, error) {
	cfg, err := r.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.ReferralMinMessages > 0 {
		return nil, nil
	}
	return r.RewardIfEligible(ctx, inviteeID)
}

// OnActivity rewards the inviter once the invitee's message count is at or above the
// threshold. With no threshold it claims only for verified invitees, which picks up a
// referral left pending when the threshold was switched off.
func (r *Referrals) OnActivity(ctx context.Context, inviteeID, totalMessages int64) (*Payout, error) {
	cfg, err := r.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if totalMessages < cfg.ReferralMinMessages {
		return nil, nil
	}
	if cfg.ReferralMinMessages <= 0 {
		a, err := r.repo.GetAccount(ctx, inviteeID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !a.IsVerified {
			return nil, nil
		}
	}
	return r.RewardIfEligible(ctx, inviteeID)
}

// RetryUnpaid pays claimed referrals whose payout did not commit. It returns how many were paid.
func (r *Referrals) RetryUnpaid(ctx context.Context, limit int) (int, error) {
	refs, err := r.repo.ListUnpaidReferrals(ctx, limit)
	if err != nil {
		return 0, err
	}
	paid := 0
	for _, ref := range refs {
		ok, err := r.pay(ctx, ref)
		if err != nil {
			r.logger.Warn("referral payout retry failed", "referral_id", ref.ID, "inviter_id", ref.InviterID, "error", err)
			continue
		}
		if ok {
			paid++
		}
	}
	return paid, nil
}

func (r *Referrals) pay(ctx context.Context, ref repo.Referral) (bool, error) {
	var paid bool
	err := r.repo.WithTx(ctx, func(tx repo.Tx) error {
		paid = false
		marked, err := tx.MarkReferralPaid(ctx, ref.ID)
		if err != nil {
			return err
		}
		if !marked {
			return nil
		}
		if ref.RewardAmount > 0 {
			credited, err := tx.AddPoints(ctx, ref.InviterID, ref.RewardAmount)
			if err != nil {
				return err
			}
			if !credited {
				return fmt.Errorf("inviter %d: %w", ref.InviterID, repo.ErrNotFound)
			}
		}
		paid = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if paid {
		r.logger.Info("referral reward paid", "inviter_id", ref.InviterID, "invitee_id", ref.InviteeID, "amount", ref.RewardAmount)
	}
	return paid, nil
}

// InviteLink returns the caller's link for chatID, creating and storing one on first use.
func (r *Referrals) InviteLink(ctx context.Context, creator LinkCreator, creatorID, chatID int64) (string, error) {
	existing, err := r.repo.FindInviteLink(ctx, creatorID, chatID)
	if err == nil {
		return existing.Link, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}

	link, err := creator.CreateInviteLink(ctx, chatID, fmt.Sprintf("ref-%d", creatorID))
	if err != nil {
		return "", fmt.Errorf("create invite link: %w", err)
	}
	link = strings.TrimSpace(link)
	if err := r.repo.SaveInviteLink(ctx, repo.InviteLink{Link: link, CreatorID: creatorID, ChatID: chatID}); err != nil {
		return "", err
	}
	return link, nil
}

// ResolveInviteLink returns the stored owner of link, or nil when the link is unknown.
func (r *Referrals) ResolveInviteLink(ctx context.Context, link string) (*repo.InviteLink, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, nil
	}
	l, err := r.repo.GetInviteLink(ctx, link)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}
