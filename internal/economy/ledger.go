package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"groupkeeper/internal/metrics"
	"groupkeeper/internal/repo"
	"groupkeeper/internal/settings"
)

// Ledger performs balance and activity operations on accounts.
// Every read-modify-write runs inside repo.WithTx on a locked account row,
// or as a single conditional UPDATE.
type Ledger struct {
	repo     repo.Repository
	settings *settings.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewLedger constructs a ledger. now may be nil to use time.Now.
func NewLedger(r repo.Repository, st *settings.Store, m *metrics.Metrics, logger *slog.Logger, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		repo:     r,
		settings: st,
		metrics:  m,
		logger:   logger.With("component", "ledger"),
		now:      now,
	}
}

// CheckInResult is the outcome of a daily check-in.
type CheckInResult struct {
	OK      bool
	Message string
	Awarded float64
	Count   int
	Limit   int
}

// LeaderboardPage is one page of the leaderboard plus the total account count.
type LeaderboardPage struct {
	Accounts []repo.Account
	Total    int64
}

// Touch creates the account on first sight and refreshes its profile.
func (l *Ledger) Touch(ctx context.Context, profile repo.AccountProfile) (*repo.Account, error) {
	return l.repo.UpsertAccount(ctx, profile)
}

// Account returns the stored account.
func (l *Ledger) Account(ctx context.Context, id int64) (*repo.Account, error) {
	return l.repo.GetAccount(ctx, id)
}

// MarkVerified records that the account passed join verification.
func (l *Ledger) MarkVerified(ctx context.Context, id int64) error {
	if err := l.repo.SetVerified(ctx, id, true); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// CreditPoints adds amount points.
func (l *Ledger) CreditPoints(ctx context.Context, id int64, amount float64) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	ok, err := l.repo.AddPoints(ctx, id, amount)
	if err != nil {
		l.metrics.Ledger("credit_points", "error")
		return err
	}
	if !ok {
		l.metrics.Ledger("credit_points", "not_found")
		return fmt.Errorf("credit points to %d: %w", id, repo.ErrNotFound)
	}
	l.metrics.Ledger("credit_points", "ok")
	return nil
}

// DebitPoints removes amount points or fails with ErrInsufficientFunds. A missing
// account has nothing to spend and also fails with ErrInsufficientFunds.
func (l *Ledger) DebitPoints(ctx context.Context, id int64, amount float64) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	ok, err := l.repo.AddPoints(ctx, id, -amount)
	if err != nil {
		l.metrics.Ledger("debit_points", "error")
		return err
	}
	if !ok {
		l.metrics.Ledger("debit_points", "insufficient")
		return ErrInsufficientFunds
	}
	l.metrics.Ledger("debit_points", "ok")
	return nil
}

// CreditVouchers adds amount vouchers.
func (l *Ledger) CreditVouchers(ctx context.Context, id int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	ok, err := l.repo.AddVouchers(ctx, id, amount)
	if err != nil {
		l.metrics.Ledger("credit_vouchers", "error")
		return err
	}
	if !ok {
		l.metrics.Ledger("credit_vouchers", "not_found")
		return fmt.Errorf("credit vouchers to %d: %w", id, repo.ErrNotFound)
	}
	l.metrics.Ledger("credit_vouchers", "ok")
	return nil
}

// DebitVouchers removes amount vouchers or fails with ErrInsufficientFunds.
func (l *Ledger) DebitVouchers(ctx context.Context, id int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	ok, err := l.repo.AddVouchers(ctx, id, -amount)
	if err != nil {
		l.metrics.Ledger("debit_vouchers", "error")
		return err
	}
	if !ok {
		l.metrics.Ledger("debit_vouchers", "insufficient")
		return ErrInsufficientFunds
	}
	l.metrics.Ledger("debit_vouchers", "ok")
	return nil
}

// RecordActivity bumps message counters and returns the new total message count.
func (l *Ledger) RecordActivity(ctx context.Context, id int64) (int64, error) {
	return l.repo.IncrementActivity(ctx, id, l.now().UTC())
}

// AwardCappedPoints credits amount only when today's activity earnings stay within dailyCap.
// It never credits partially.
func (l *Ledger) AwardCappedPoints(ctx context.Context, id int64, amount, dailyCap float64) (bool, error) {
	if !validAmount(amount) {
		return false, ErrInvalidAmount
	}
	var awarded bool
	err := l.repo.WithTx(ctx, func(tx repo.Tx) error {
		awarded = false
		a, err := tx.LockAccount(ctx, id)
		if err != nil {
			return err
		}
		if a.PointsEarnedDaily+amount > dailyCap {
			return nil
		}
		a.Points += amount
		a.PointsEarnedDaily += amount
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		awarded = true
		return nil
	})
	if err != nil {
		l.metrics.Ledger("award_capped", "error")
		return false, fmt.Errorf("award capped points: %w", err)
	}
	if awarded {
		l.metrics.Ledger("award_capped", "ok")
	} else {
		l.metrics.Ledger("award_capped", "capped")
	}
	return awarded, nil
}

// CheckIn credits the configured daily reward while the per-day limit allows.
// The counter resets when the last check-in happened before today (UTC).
func (l *Ledger) CheckIn(ctx context.Context, id int64) (CheckInResult, error) {
	cfg, err := l.settings.Get(ctx)
	if err != nil {
		return CheckInResult{}, err
	}

	now := l.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var res CheckInResult
	err = l.repo.WithTx(ctx, func(tx repo.Tx) error {
		res = CheckInResult{Limit: cfg.CheckInLimit}
		a, err := tx.LockAccount(ctx, id)
		if err != nil {
			return err
		}
		if a.LastCheckInAt == nil || a.LastCheckInAt.UTC().Before(today) {
			a.DailyCheckIns = 0
		}
		if a.DailyCheckIns >= cfg.CheckInLimit {
			res.Count = a.DailyCheckIns
			res.Message = fmt.Sprintf("You already checked in %d/%d times today. Come back tomorrow.", a.DailyCheckIns, cfg.CheckInLimit)
			return nil
		}

		a.Points += cfg.CheckInPoints
		a.DailyCheckIns++
		a.LastCheckInAt = &now
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		res.OK = true
		res.Awarded = cfg.CheckInPoints
		res.Count = a.DailyCheckIns
		res.Message = fmt.Sprintf("Check-in successful: +%s points (%d/%d today).", FormatPoints(cfg.CheckInPoints), a.DailyCheckIns, cfg.CheckInLimit)
		return nil
	})
	if err != nil {
		l.metrics.Ledger("check_in", "error")
		return CheckInResult{}, fmt.Errorf("check in: %w", err)
	}
	if res.OK {
		l.metrics.Ledger("check_in", "ok")
	} else {
		l.metrics.Ledger("check_in", "limit")
	}
	return res, nil
}

// BuyVoucher exchanges voucher_cost points for one voucher.
func (l *Ledger) BuyVoucher(ctx context.Context, id int64) (*repo.Account, error) {
	cfg, err := l.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.VoucherBuyEnabled {
		return nil, ErrVoucherExchangeDisabled
	}
	cost := float64(cfg.VoucherCost)

	var after *repo.Account
	err = l.repo.WithTx(ctx, func(tx repo.Tx) error {
		a, err := tx.LockAccount(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInsufficientFunds
		}
		if err != nil {
			return err
		}
		if a.Points < cost {
			return ErrInsufficientFunds
		}
		a.Points -= cost
		a.Vouchers++
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		after = a
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			l.metrics.Ledger("buy_voucher", "insufficient")
			return nil, err
		}
		l.metrics.Ledger("buy_voucher", "error")
		return nil, fmt.Errorf("buy voucher: %w", err)
	}
	l.metrics.Ledger("buy_voucher", "ok")
	return after, nil
}

// GrantPoints is the admin credit; it creates the account when missing.
func (l *Ledger) GrantPoints(ctx context.Context, id int64, amount float64) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	if _, err := l.repo.UpsertAccount(ctx, repo.AccountProfile{ID: id}); err != nil {
		return err
	}
	return l.CreditPoints(ctx, id, amount)
}

// GrantVouchers is the admin voucher credit; it creates the account when missing.
func (l *Ledger) GrantVouchers(ctx context.Context, id int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if _, err := l.repo.UpsertAccount(ctx, repo.AccountProfile{ID: id}); err != nil {
		return err
	}
	return l.CreditVouchers(ctx, id, amount)
}

// RevokePoints is the admin correction; the balance is clamped at zero.
func (l *Ledger) RevokePoints(ctx context.Context, id int64, amount float64) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	ok, err := l.repo.RevokePoints(ctx, id, amount)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("revoke points from %d: %w", id, repo.ErrNotFound)
	}
	l.logger.Info("points revoked", "user_id", id, "amount", amount)
	return nil
}

// RevokeVouchers is the admin voucher correction, clamped at zero.
func (l *Ledger) RevokeVouchers(ctx context.Context, id int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	ok, err := l.repo.RevokeVouchers(ctx, id, amount)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("revoke vouchers from %d: %w", id, repo.ErrNotFound)
	}
	l.logger.Info("vouchers revoked", "user_id", id, "amount", amount)
	return nil
}

// ResetAllPoints zeroes every point balance and returns the number of accounts touched.
func (l *Ledger) ResetAllPoints(ctx context.Context) (int64, error) {
	n, err := l.repo.ResetAllPoints(ctx)
	if err != nil {
		return 0, err
	}
	l.logger.Warn("all points reset", "accounts", n)
	return n, nil
}

// ResetDaily zeroes daily message counts and daily activity earnings.
func (l *Ledger) ResetDaily(ctx context.Context) (int64, error) {
	return l.repo.ResetDailyCounters(ctx)
}

// Leaderboard returns one page of accounts ordered by sort.
func (l *Ledger) Leaderboard(ctx context.Context, sort repo.LeaderboardSort, limit, offset int) (LeaderboardPage, error) {
	accounts, err := l.repo.Leaderboard(ctx, sort, limit, offset)
	if err != nil {
		return LeaderboardPage{}, err
	}
	total, err := l.repo.CountAccounts(ctx)
	if err != nil {
		return LeaderboardPage{}, err
	}
	return LeaderboardPage{Accounts: accounts, Total: total}, nil
}

// FormatPoints renders a point amount without trailing zeros.
func FormatPoints(v float64) string {
	return fmt.Sprintf("%g", v)
}
