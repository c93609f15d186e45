package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxTxAttempts = 3

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository provides typed access to Postgres resources.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

var _ Repository = (*PostgresRepository)(nil)

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	sub, err := fs.Sub(filesystem, "postgres")
	if err != nil {
		return fmt.Errorf("open postgres migrations: %w", err)
	}
	return ApplyMigrations(ctx, r.pool, sub)
}

// WithTx executes fn within a database transaction. Serialization failures and
// deadlocks are retried, so fn must not keep state across invocations.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			return fn(&pgTx{q: tx})
		})
		if !isRetryable(err) {
			return err
		}
		r.logger.Warn("retrying transaction", "attempt", attempt, "error", err)
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func pgNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// pgTx implements Tx on top of a pgx transaction. Lock* use SELECT ... FOR UPDATE.
type pgTx struct {
	q pgx.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, id int64) (*Account, error) {
	row := t.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", pgNotFound(err))
	}
	return a, nil
}

func (t *pgTx) SaveAccount(ctx context.Context, a *Account) error {
	const q = `
UPDATE accounts
SET points = $2, vouchers = $3, points_earned_daily = $4, daily_check_in_count = $5,
    last_check_in_at = $6, is_verified = $7, is_muted = $8, warnings = $9, updated_at = NOW()
WHERE id = $1;
`
	ct, err := t.q.Exec(ctx, q, a.ID, a.Points, a.Vouchers, a.PointsEarnedDaily, a.DailyCheckIns,
		a.LastCheckInAt, a.IsVerified, a.IsMuted, a.Warnings)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("save account %d: %w", a.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) AddPoints(ctx context.Context, id int64, delta float64) (bool, error) {
	return pgAddPoints(ctx, t.q, id, delta)
}

func (t *pgTx) LockCatalogEntry(ctx context.Context, id int64) (*CatalogEntry, error) {
	row := t.q.QueryRow(ctx, `SELECT `+catalogColumns+` FROM catalog_entries WHERE id = $1 FOR UPDATE`, id)
	e, err := scanCatalogEntry(row)
	if err != nil {
		return nil, fmt.Errorf("lock catalog entry: %w", pgNotFound(err))
	}
	return e, nil
}

func (t *pgTx) LockOfferedCatalog(ctx context.Context, kind CatalogKind) ([]CatalogEntry, error) {
	const q = `SELECT ` + catalogColumns + `
FROM catalog_entries
WHERE kind = $1 AND is_active AND stock > 0
ORDER BY id
FOR UPDATE;`
	rows, err := t.q.Query(ctx, q, string(kind))
	if err != nil {
		return nil, fmt.Errorf("lock offered catalog: %w", err)
	}
	return collectCatalog(rows)
}

func (t *pgTx) SaveCatalogEntry(ctx context.Context, e *CatalogEntry) error {
	const q = `UPDATE catalog_entries SET stock = $2, is_active = $3, updated_at = NOW() WHERE id = $1`
	ct, err := t.q.Exec(ctx, q, e.ID, e.Stock, e.IsActive)
	if err != nil {
		return fmt.Errorf("save catalog entry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("save catalog entry %d: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertRedemption(ctx context.Context, red Redemption) error {
	const q = `
INSERT INTO redemptions (id, account_id, entry_id, kind, currency, cost, outcome)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	if _, err := t.q.Exec(ctx, q, red.ID, red.AccountID, red.EntryID, string(red.Kind), string(red.Currency), red.Cost, red.Outcome); err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

func (t *pgTx) LockSettings(ctx context.Context) (*Settings, error) {
	row := t.q.QueryRow(ctx, `SELECT `+settingsColumns+` FROM settings WHERE id = 1 FOR UPDATE`)
	s, err := scanSettings(row)
	if err != nil {
		return nil, fmt.Errorf("lock settings: %w", pgNotFound(err))
	}
	return s, nil
}

func (t *pgTx) SaveSettings(ctx context.Context, s Settings) error {
	const q = `
UPDATE settings
SET check_in_points = $1, check_in_limit = $2, invite_reward_points = $3, max_daily_points = $4,
    activity_reward_chance = $5, activity_reward_points = $6, spam_limit = $7, spam_window_seconds = $8,
    voucher_cost = $9, voucher_buy_enabled = $10, spin_cost = $11, media_delete_seconds = $12,
    admin_media_exempt = $13, referral_min_messages = $14, updated_at = NOW()
WHERE id = 1;
`
	ct, err := t.q.Exec(ctx, q, settingsArgs(s)...)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("save settings: %w", ErrNotFound)
	}
	return nil
}

func (t *pgTx) MarkReferralPaid(ctx context.Context, referralID int64) (bool, error) {
	const q = `UPDATE referrals SET reward_paid = TRUE WHERE id = $1 AND reward_issued AND NOT reward_paid`
	ct, err := t.q.Exec(ctx, q, referralID)
	if err != nil {
		return false, fmt.Errorf("mark referral paid: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func collectCatalog(rows pgx.Rows) ([]CatalogEntry, error) {
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
