package repo

import (
	"context"
	"fmt"
)

// GetSettings loads the singleton settings row.
func (r *PostgresRepository) GetSettings(ctx context.Context) (*Settings, error) {
	s, err := scanSettings(r.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM settings WHERE id = 1`))
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", pgNotFound(err))
	}
	return s, nil
}

// InsertSettingsIfMissing creates the singleton row with defaults unless it exists.
func (r *PostgresRepository) InsertSettingsIfMissing(ctx context.Context, defaults Settings) error {
	const q = `
INSERT INTO settings (id, check_in_points, check_in_limit, invite_reward_points, max_daily_points,
    activity_reward_chance, activity_reward_points, spam_limit, spam_window_seconds,
    voucher_cost, voucher_buy_enabled, spin_cost, media_delete_seconds, admin_media_exempt,
    referral_min_messages)
VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING;
`
	if _, err := r.pool.Exec(ctx, q, settingsArgs(defaults)...); err != nil {
		return fmt.Errorf("insert default settings: %w", err)
	}
	return nil
}
