package repo

import (
	"context"
	"fmt"
	"time"
)

// UpsertAccount creates the account or refreshes its display fields.
func (r *PostgresRepository) UpsertAccount(ctx context.Context, profile AccountProfile) (*Account, error) {
	const q = `
INSERT INTO accounts (id, username, full_name)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET
    username = COALESCE(NULLIF(EXCLUDED.username, ''), accounts.username),
    full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), accounts.full_name),
    updated_at = NOW()
RETURNING ` + accountColumns + `;`
	a, err := scanAccount(r.pool.QueryRow(ctx, q, profile.ID, profile.Username, profile.FullName))
	if err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	return a, nil
}

// GetAccount returns the account by platform user id.
func (r *PostgresRepository) GetAccount(ctx context.Context, id int64) (*Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get account: %w", pgNotFound(err))
	}
	return a, nil
}

// SetVerified flips the verified flag.
func (r *PostgresRepository) SetVerified(ctx context.Context, id int64, verified bool) error {
	ct, err := r.pool.Exec(ctx, `UPDATE accounts SET is_verified = $2, updated_at = NOW() WHERE id = $1`, id, verified)
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("set verified %d: %w", id, ErrNotFound)
	}
	return nil
}

// IncrementActivity bumps message counters and returns the new total.
func (r *PostgresRepository) IncrementActivity(ctx context.Context, id int64, at time.Time) (int64, error) {
	const q = `
UPDATE accounts
SET msg_count_total = msg_count_total + 1,
    msg_count_daily = msg_count_daily + 1,
    last_msg_at = $2,
    updated_at = NOW()
WHERE id = $1
RETURNING msg_count_total;
`
	var total int64
	if err := r.pool.QueryRow(ctx, q, id, at).Scan(&total); err != nil {
		return 0, fmt.Errorf("increment activity: %w", pgNotFound(err))
	}
	return total, nil
}

// ResetDailyCounters zeroes the daily message count and the daily activity earnings.
func (r *PostgresRepository) ResetDailyCounters(ctx context.Context) (int64, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE accounts SET msg_count_daily = 0, points_earned_daily = 0 WHERE msg_count_daily <> 0 OR points_earned_daily <> 0`)
	if err != nil {
		return 0, fmt.Errorf("reset daily counters: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ResetAllPoints wipes every point balance.
func (r *PostgresRepository) ResetAllPoints(ctx context.Context) (int64, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE accounts SET points = 0, updated_at = NOW() WHERE points <> 0`)
	if err != nil {
		return 0, fmt.Errorf("reset all points: %w", err)
	}
	return ct.RowsAffected(), nil
}

// Leaderboard returns accounts ordered by the requested column.
func (r *PostgresRepository) Leaderboard(ctx context.Context, sort LeaderboardSort, limit, offset int) ([]Account, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT ` + accountColumns + ` FROM accounts ORDER BY ` + leaderboardOrder(sort) + ` LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var res []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		res = append(res, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return res, nil
}

// CountAccounts returns the number of known accounts.
func (r *PostgresRepository) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// AddPoints applies delta when the balance stays non-negative.
func (r *PostgresRepository) AddPoints(ctx context.Context, id int64, delta float64) (bool, error) {
	return pgAddPoints(ctx, r.pool, id, delta)
}

// AddVouchers applies delta when the balance stays non-negative.
func (r *PostgresRepository) AddVouchers(ctx context.Context, id int64, delta int64) (bool, error) {
	const q = `UPDATE accounts SET vouchers = vouchers + $2, updated_at = NOW() WHERE id = $1 AND vouchers + $2 >= 0`
	ct, err := r.pool.Exec(ctx, q, id, delta)
	if err != nil {
		return false, fmt.Errorf("add vouchers: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// RevokePoints subtracts amount, clamping at zero.
func (r *PostgresRepository) RevokePoints(ctx context.Context, id int64, amount float64) (bool, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE accounts SET points = GREATEST(points - $2, 0), updated_at = NOW() WHERE id = $1`, id, amount)
	if err != nil {
		return false, fmt.Errorf("revoke points: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// RevokeVouchers subtracts amount, clamping at zero.
func (r *PostgresRepository) RevokeVouchers(ctx context.Context, id int64, amount int64) (bool, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE accounts SET vouchers = GREATEST(vouchers - $2, 0), updated_at = NOW() WHERE id = $1`, id, amount)
	if err != nil {
		return false, fmt.Errorf("revoke vouchers: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func pgAddPoints(ctx context.Context, q querier, id int64, delta float64) (bool, error) {
	const stmt = `UPDATE accounts SET points = points + $2, updated_at = NOW() WHERE id = $1 AND points + $2 >= 0`
	ct, err := q.Exec(ctx, stmt, id, delta)
	if err != nil {
		return false, fmt.Errorf("add points: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}
