package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for data persistence.
// Single-statement operations are atomic on their own; multi-step read-modify-write
// sequences go through WithTx, which locks the rows it reads.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Accounts
	UpsertAccount(ctx context.Context, profile AccountProfile) (*Account, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	SetVerified(ctx context.Context, id int64, verified bool) error
	IncrementActivity(ctx context.Context, id int64, at time.Time) (int64, error)
	ResetDailyCounters(ctx context.Context) (int64, error)
	ResetAllPoints(ctx context.Context) (int64, error)
	Leaderboard(ctx context.Context, sort LeaderboardSort, limit, offset int) ([]Account, error)
	CountAccounts(ctx context.Context) (int64, error)

	// Balances. AddPoints/AddVouchers apply delta only when the result stays non-negative
	// and report whether the row changed. Revoke* clamp at zero and are for admin corrections.
	AddPoints(ctx context.Context, id int64, delta float64) (bool, error)
	AddVouchers(ctx context.Context, id int64, delta int64) (bool, error)
	RevokePoints(ctx context.Context, id int64, amount float64) (bool, error)
	RevokeVouchers(ctx context.Context, id int64, amount int64) (bool, error)

	// Settings
	GetSettings(ctx context.Context) (*Settings, error)
	InsertSettingsIfMissing(ctx context.Context, defaults Settings) error

	// Catalog
	CreateCatalogEntry(ctx context.Context, entry CatalogEntry) (*CatalogEntry, error)
	GetCatalogEntry(ctx context.Context, id int64) (*CatalogEntry, error)
	ListCatalog(ctx context.Context, kind CatalogKind, offeredOnly bool) ([]CatalogEntry, error)
	DeactivateCatalogEntry(ctx context.Context, id int64) error
	DeleteCatalogEntry(ctx context.Context, id int64) error

	// Referrals
	InsertReferral(ctx context.Context, inviterID, inviteeID int64) (bool, error)
	ClaimReferralReward(ctx context.Context, inviteeID int64, amount float64) (*Referral, error)
	ListUnpaidReferrals(ctx context.Context, limit int) ([]Referral, error)

	// Invite links
	SaveInviteLink(ctx context.Context, link InviteLink) error
	GetInviteLink(ctx context.Context, link string) (*InviteLink, error)
	FindInviteLink(ctx context.Context, creatorID, chatID int64) (*InviteLink, error)
}

// Tx is the unit of work handed to WithTx callbacks. Lock* methods hold row locks
// until the transaction ends. Callers lock accounts before catalog rows.
type Tx interface {
	LockAccount(ctx context.Context, id int64) (*Account, error)
	SaveAccount(ctx context.Context, account *Account) error
	AddPoints(ctx context.Context, id int64, delta float64) (bool, error)

	LockCatalogEntry(ctx context.Context, id int64) (*CatalogEntry, error)
	LockOfferedCatalog(ctx context.Context, kind CatalogKind) ([]CatalogEntry, error)
	SaveCatalogEntry(ctx context.Context, entry *CatalogEntry) error
	InsertRedemption(ctx context.Context, redemption Redemption) error

	LockSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, settings Settings) error

	MarkReferralPaid(ctx context.Context, referralID int64) (bool, error)
}
