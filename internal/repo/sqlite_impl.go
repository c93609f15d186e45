package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// sqlExecer is satisfied by both *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// -- Accounts --

// UpsertAccount re-reads the row after writing; declared column types, which drive
// time parsing in the driver, are not reported for RETURNING columns.
func (r *SQLiteRepository) UpsertAccount(ctx context.Context, profile AccountProfile) (*Account, error) {
	const q = `
INSERT INTO accounts (id, username, full_name)
VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    username = COALESCE(NULLIF(excluded.username, ''), accounts.username),
    full_name = COALESCE(NULLIF(excluded.full_name, ''), accounts.full_name),
    updated_at = CURRENT_TIMESTAMP;
`
	if _, err := r.db.ExecContext(ctx, q, profile.ID, profile.Username, profile.FullName); err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	return sqliteGetAccount(ctx, r.db, profile.ID)
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (*Account, error) {
	return sqliteGetAccount(ctx, r.db, id)
}

func sqliteGetAccount(ctx context.Context, q sqlExecer, id int64) (*Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get account: %w", sqliteNotFound(err))
	}
	return a, nil
}

func (r *SQLiteRepository) SetVerified(ctx context.Context, id int64, verified bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET is_verified = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, verified, id)
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("set verified %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) IncrementActivity(ctx context.Context, id int64, at time.Time) (int64, error) {
	const q = `
UPDATE accounts
SET msg_count_total = msg_count_total + 1,
    msg_count_daily = msg_count_daily + 1,
    last_msg_at = ?,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?
RETURNING msg_count_total;
`
	var total int64
	if err := r.db.QueryRowContext(ctx, q, at.UTC(), id).Scan(&total); err != nil {
		return 0, fmt.Errorf("increment activity: %w", sqliteNotFound(err))
	}
	return total, nil
}

func (r *SQLiteRepository) ResetDailyCounters(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET msg_count_daily = 0, points_earned_daily = 0 WHERE msg_count_daily <> 0 OR points_earned_daily <> 0`)
	if err != nil {
		return 0, fmt.Errorf("reset daily counters: %w", err)
	}
	return affected(res)
}

func (r *SQLiteRepository) ResetAllPoints(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET points = 0, updated_at = CURRENT_TIMESTAMP WHERE points <> 0`)
	if err != nil {
		return 0, fmt.Errorf("reset all points: %w", err)
	}
	return affected(res)
}

func (r *SQLiteRepository) Leaderboard(ctx context.Context, sort LeaderboardSort, limit, offset int) ([]Account, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT ` + accountColumns + ` FROM accounts ORDER BY ` + leaderboardOrder(sort) + ` LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, limit, offset)
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

func (r *SQLiteRepository) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// -- Balances --

func (r *SQLiteRepository) AddPoints(ctx context.Context, id int64, delta float64) (bool, error) {
	return sqliteAddPoints(ctx, r.db, id, delta)
}

func sqliteAddPoints(ctx context.Context, q sqlExecer, id int64, delta float64) (bool, error) {
	const stmt = `UPDATE accounts SET points = points + ?2, updated_at = CURRENT_TIMESTAMP WHERE id = ?1 AND points + ?2 >= 0`
	res, err := q.ExecContext(ctx, stmt, id, delta)
	if err != nil {
		return false, fmt.Errorf("add points: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

func (r *SQLiteRepository) AddVouchers(ctx context.Context, id int64, delta int64) (bool, error) {
	const q = `UPDATE accounts SET vouchers = vouchers + ?2, updated_at = CURRENT_TIMESTAMP WHERE id = ?1 AND vouchers + ?2 >= 0`
	res, err := r.db.ExecContext(ctx, q, id, delta)
	if err != nil {
		return false, fmt.Errorf("add vouchers: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

func (r *SQLiteRepository) RevokePoints(ctx context.Context, id int64, amount float64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET points = MAX(points - ?, 0), updated_at = CURRENT_TIMESTAMP WHERE id = ?`, amount, id)
	if err != nil {
		return false, fmt.Errorf("revoke points: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

func (r *SQLiteRepository) RevokeVouchers(ctx context.Context, id int64, amount int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET vouchers = MAX(vouchers - ?, 0), updated_at = CURRENT_TIMESTAMP WHERE id = ?`, amount, id)
	if err != nil {
		return false, fmt.Errorf("revoke vouchers: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

// -- Settings --

func (r *SQLiteRepository) GetSettings(ctx context.Context) (*Settings, error) {
	s, err := scanSettings(r.db.QueryRowContext(ctx, `SELECT `+settingsColumns+` FROM settings WHERE id = 1`))
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", sqliteNotFound(err))
	}
	return s, nil
}

func (r *SQLiteRepository) InsertSettingsIfMissing(ctx context.Context, defaults Settings) error {
	const q = `
INSERT INTO settings (id, check_in_points, check_in_limit, invite_reward_points, max_daily_points,
    activity_reward_chance, activity_reward_points, spam_limit, spam_window_seconds,
    voucher_cost, voucher_buy_enabled, spin_cost, media_delete_seconds, admin_media_exempt,
    referral_min_messages)
VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING;
`
	if _, err := r.db.ExecContext(ctx, q, settingsArgs(defaults)...); err != nil {
		return fmt.Errorf("insert default settings: %w", err)
	}
	return nil
}

// -- Catalog --

func (r *SQLiteRepository) CreateCatalogEntry(ctx context.Context, e CatalogEntry) (*CatalogEntry, error) {
	const q = `
INSERT INTO catalog_entries (name, kind, cost, chance, stock, is_active)
VALUES (?, ?, ?, ?, ?, ?);
`
	res, err := r.db.ExecContext(ctx, q, e.Name, string(e.Kind), e.Cost, e.Chance, e.Stock, e.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create catalog entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create catalog entry: %w", err)
	}
	return r.GetCatalogEntry(ctx, id)
}

func (r *SQLiteRepository) GetCatalogEntry(ctx context.Context, id int64) (*CatalogEntry, error) {
	e, err := scanCatalogEntry(r.db.QueryRowContext(ctx, `SELECT `+catalogColumns+` FROM catalog_entries WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get catalog entry: %w", sqliteNotFound(err))
	}
	return e, nil
}

func (r *SQLiteRepository) ListCatalog(ctx context.Context, kind CatalogKind, offeredOnly bool) ([]CatalogEntry, error) {
	const q = `SELECT ` + catalogColumns + `
FROM catalog_entries
WHERE (?1 = '' OR kind = ?1)
  AND (?2 = 0 OR (is_active AND stock > 0))
ORDER BY id;`
	rows, err := r.db.QueryContext(ctx, q, string(kind), offeredOnly)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	return collectSQLiteCatalog(rows)
}

func (r *SQLiteRepository) DeactivateCatalogEntry(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE catalog_entries SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate catalog entry: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("deactivate catalog entry %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCatalogEntry(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM catalog_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete catalog entry: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete catalog entry %d: %w", id, ErrNotFound)
	}
	return nil
}

func collectSQLiteCatalog(rows *sql.Rows) ([]CatalogEntry, error) {
	defer rows.Close()
	var res []CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		res = append(res, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog entries: %w", err)
	}
	return res, nil
}

// -- Referrals --

func (r *SQLiteRepository) InsertReferral(ctx context.Context, inviterID, inviteeID int64) (bool, error) {
	if inviterID == inviteeID {
		return false, nil
	}
	const q = `
INSERT INTO referrals (inviter_id, invitee_id)
VALUES (?, ?)
ON CONFLICT (inviter_id, invitee_id) DO NOTHING;
`
	res, err := r.db.ExecContext(ctx, q, inviterID, inviteeID)
	if err != nil {
		return false, fmt.Errorf("insert referral: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

func (r *SQLiteRepository) ClaimReferralReward(ctx context.Context, inviteeID int64, amount float64) (*Referral, error) {
	const q = `
UPDATE referrals
SET reward_issued = 1, reward_amount = ?2
WHERE id = (
    SELECT id FROM referrals
    WHERE invitee_id = ?1 AND NOT reward_issued
      AND NOT EXISTS (SELECT 1 FROM referrals done WHERE done.invitee_id = ?1 AND done.reward_issued)
    ORDER BY created_at, id
    LIMIT 1
) AND NOT reward_issued
RETURNING id;`
	var id int64
	if err := r.db.QueryRowContext(ctx, q, inviteeID, amount).Scan(&id); err != nil {
		return nil, fmt.Errorf("claim referral reward: %w", sqliteNotFound(err))
	}
	ref, err := scanReferral(r.db.QueryRowContext(ctx, `SELECT `+referralColumns+` FROM referrals WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("load claimed referral: %w", err)
	}
	return ref, nil
}

func (r *SQLiteRepository) ListUnpaidReferrals(ctx context.Context, limit int) ([]Referral, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + referralColumns + `
FROM referrals
WHERE reward_issued AND NOT reward_paid
ORDER BY id
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpaid referrals: %w", err)
	}
	defer rows.Close()

	var res []Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		res = append(res, *ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referrals: %w", err)
	}
	return res, nil
}

// -- Invite links --

func (r *SQLiteRepository) SaveInviteLink(ctx context.Context, link InviteLink) error {
	const q = `
INSERT INTO invite_links (link, creator_id, chat_id)
VALUES (?, ?, ?)
ON CONFLICT (link) DO NOTHING;
`
	if _, err := r.db.ExecContext(ctx, q, strings.TrimSpace(link.Link), link.CreatorID, link.ChatID); err != nil {
		return fmt.Errorf("save invite link: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetInviteLink(ctx context.Context, link string) (*InviteLink, error) {
	l, err := scanInviteLink(r.db.QueryRowContext(ctx, `SELECT `+inviteLinkColumns+` FROM invite_links WHERE link = ?`, strings.TrimSpace(link)))
	if err != nil {
		return nil, fmt.Errorf("get invite link: %w", sqliteNotFound(err))
	}
	return l, nil
}

func (r *SQLiteRepository) FindInviteLink(ctx context.Context, creatorID, chatID int64) (*InviteLink, error) {
	const q = `SELECT ` + inviteLinkColumns + `
FROM invite_links
WHERE creator_id = ? AND chat_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT 1;`
	l, err := scanInviteLink(r.db.QueryRowContext(ctx, q, creatorID, chatID))
	if err != nil {
		return nil, fmt.Errorf("find invite link: %w", sqliteNotFound(err))
	}
	return l, nil
}

// -- Transactions --

// sqliteTx implements Tx. BEGIN IMMEDIATE already holds the database write lock,
// so Lock* are plain reads.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) LockAccount(ctx context.Context, id int64) (*Account, error) {
	a, err := sqliteGetAccount(ctx, t.tx, id)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return a, nil
}

func (t *sqliteTx) SaveAccount(ctx context.Context, a *Account) error {
	const q = `
UPDATE accounts
SET points = ?, vouchers = ?, points_earned_daily = ?, daily_check_in_count = ?,
    last_check_in_at = ?, is_verified = ?, is_muted = ?, warnings = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?;
`
	var lastCheckIn any
	if a.LastCheckInAt != nil {
		lastCheckIn = a.LastCheckInAt.UTC()
	}
	res, err := t.tx.ExecContext(ctx, q, a.Points, a.Vouchers, a.PointsEarnedDaily, a.DailyCheckIns,
		lastCheckIn, a.IsVerified, a.IsMuted, a.Warnings, a.ID)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("save account %d: %w", a.ID, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) AddPoints(ctx context.Context, id int64, delta float64) (bool, error) {
	return sqliteAddPoints(ctx, t.tx, id, delta)
}

func (t *sqliteTx) LockCatalogEntry(ctx context.Context, id int64) (*CatalogEntry, error) {
	e, err := scanCatalogEntry(t.tx.QueryRowContext(ctx, `SELECT `+catalogColumns+` FROM catalog_entries WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("lock catalog entry: %w", sqliteNotFound(err))
	}
	return e, nil
}

func (t *sqliteTx) LockOfferedCatalog(ctx context.Context, kind CatalogKind) ([]CatalogEntry, error) {
	const q = `SELECT ` + catalogColumns + `
FROM catalog_entries
WHERE kind = ? AND is_active AND stock > 0
ORDER BY id;`
	rows, err := t.tx.QueryContext(ctx, q, string(kind))
	if err != nil {
		return nil, fmt.Errorf("lock offered catalog: %w", err)
	}
	return collectSQLiteCatalog(rows)
}

func (t *sqliteTx) SaveCatalogEntry(ctx context.Context, e *CatalogEntry) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE catalog_entries SET stock = ?, is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, e.Stock, e.IsActive, e.ID)
	if err != nil {
		return fmt.Errorf("save catalog entry: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("save catalog entry %d: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) InsertRedemption(ctx context.Context, red Redemption) error {
	const q = `
INSERT INTO redemptions (id, account_id, entry_id, kind, currency, cost, outcome)
VALUES (?, ?, ?, ?, ?, ?, ?);
`
	var entryID any
	if red.EntryID != nil {
		entryID = *red.EntryID
	}
	if _, err := t.tx.ExecContext(ctx, q, red.ID, red.AccountID, entryID, string(red.Kind), string(red.Currency), red.Cost, red.Outcome); err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

func (t *sqliteTx) LockSettings(ctx context.Context) (*Settings, error) {
	s, err := scanSettings(t.tx.QueryRowContext(ctx, `SELECT `+settingsColumns+` FROM settings WHERE id = 1`))
	if err != nil {
		return nil, fmt.Errorf("lock settings: %w", sqliteNotFound(err))
	}
	return s, nil
}

func (t *sqliteTx) SaveSettings(ctx context.Context, s Settings) error {
	const q = `
UPDATE settings
SET check_in_points = ?, check_in_limit = ?, invite_reward_points = ?, max_daily_points = ?,
    activity_reward_chance = ?, activity_reward_points = ?, spam_limit = ?, spam_window_seconds = ?,
    voucher_cost = ?, voucher_buy_enabled = ?, spin_cost = ?, media_delete_seconds = ?,
    admin_media_exempt = ?, referral_min_messages = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = 1;
`
	res, err := t.tx.ExecContext(ctx, q, settingsArgs(s)...)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("save settings: %w", ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) MarkReferralPaid(ctx context.Context, referralID int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE referrals SET reward_paid = 1 WHERE id = ? AND reward_issued AND NOT reward_paid`, referralID)
	if err != nil {
		return false, fmt.Errorf("mark referral paid: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}
