package jobs

import (
	"context"
	"log/slog"
	"time"

	"groupkeeper/internal/antispam"
	"groupkeeper/internal/bot"
	"groupkeeper/internal/economy"
	"groupkeeper/internal/verify"
)

// Job names.
const (
	DailyResetJob      = "daily_reset"
	PruneCachesJob     = "prune_caches"
	ReferralPayoutsJob = "referral_payouts"
)

// DailyReset zeroes daily message and activity earning counters. Check-in limits reset
// by date in economy.Ledger.CheckIn, not here.
func DailyReset(l *economy.Ledger, schedule string, logger *slog.Logger) Job {
	return Job{
		Name:     DailyResetJob,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			n, err := l.ResetDaily(ctx)
			if err != nil {
				return err
			}
			logger.Info("daily counters reset", "accounts", n)
			return nil
		},
	}
}

// Caches are the in-memory stores pruned periodically. Nil fields are skipped.
type Caches struct {
	Tracker   *antispam.MemoryTracker
	MaxWindow time.Duration
	Albums    *antispam.AlbumFilter
	Penalties *antispam.Penalties
	Verify    *verify.Service
	Admins    *bot.AdminCache
}

// PruneCaches drops expired entries from the in-memory stores and expires lost challenges.
func PruneCaches(c Caches, logger *slog.Logger) Job {
	return Job{
		Name:     PruneCachesJob,
		Schedule: "@every 1m",
		Run: func(ctx context.Context) error {
			var windows, albums, penalties, challenges, admins int
			if c.Tracker != nil {
				windows = c.Tracker.Prune(c.MaxWindow)
			}
			if c.Albums != nil {
				albums = c.Albums.Prune()
			}
			if c.Penalties != nil {
				penalties = c.Penalties.Prune()
			}
			if c.Verify != nil {
				challenges = c.Verify.Sweep()
			}
			if c.Admins != nil {
				admins = c.Admins.Prune()
			}
			logger.Debug("caches pruned",
				"windows", windows, "albums", albums, "penalties", penalties,
				"challenges", challenges, "admin_lists", admins)
			return nil
		},
	}
}

// ReferralPayouts pays claimed referrals whose payout did not commit.
func ReferralPayouts(r *economy.Referrals, logger *slog.Logger) Job {
	return Job{
		Name:     ReferralPayoutsJob,
		Schedule: "@every 5m",
		Run: func(ctx context.Context) error {
			n, err := r.RetryUnpaid(ctx, 100)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("referral payouts settled", "paid", n)
			}
			return nil
		},
	}
}
