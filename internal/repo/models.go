package repo

import "time"

// Account represents the accounts table row. One per platform user id.
type Account struct {
	ID                int64
	Username          string
	FullName          string
	Points            float64
	Vouchers          int64
	PointsEarnedDaily float64
	MsgCountTotal     int64
	MsgCountDaily     int64
	LastMsgAt         *time.Time
	DailyCheckIns     int
	LastCheckInAt     *time.Time
	IsVerified        bool
	IsMuted           bool
	Warnings          int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AccountProfile carries data used to upsert an account.
type AccountProfile struct {
	ID       int64
	Username string
	FullName string
}

// Settings is the singleton row of admin-editable tunables.
// The json tags are the field names accepted by partial updates.
type Settings struct {
	CheckInPoints        float64   `json:"check_in_points" validate:"gte=0"`
	CheckInLimit         int       `json:"check_in_limit" validate:"gte=0"`
	InviteRewardPoints   float64   `json:"invite_reward_points" validate:"gte=0"`
	MaxDailyPoints       float64   `json:"max_daily_points" validate:"gte=0"`
	ActivityRewardChance float64   `json:"activity_reward_chance" validate:"gte=0,lte=1"`
	ActivityRewardPoints float64   `json:"activity_reward_points" validate:"gte=0"`
	SpamLimit            int       `json:"spam_limit" validate:"gte=1"`
	SpamWindowSeconds    float64   `json:"spam_window_seconds" validate:"gt=0"`
	VoucherCost          int64     `json:"voucher_cost" validate:"gte=1"`
	VoucherBuyEnabled    bool      `json:"voucher_buy_enabled"`
	SpinCost             int64     `json:"spin_cost" validate:"gte=0"`
	MediaDeleteSeconds   int       `json:"media_delete_seconds" validate:"gte=0"`
	AdminMediaExempt     bool      `json:"admin_media_exempt"`
	ReferralMinMessages  int64     `json:"referral_min_messages" validate:"gte=0"`
	UpdatedAt            time.Time `json:"-"`
}

// CatalogKind discriminates how an entry is paid for and whether it can lose.
type CatalogKind string

const (
	// KindShop is a guaranteed item paid with points.
	KindShop CatalogKind = "shop"
	// KindScratcher is a probabilistic item paid with points.
	KindScratcher CatalogKind = "scratcher"
	// KindLottery is a probabilistic item paid with vouchers. Lottery entries also make up the spin wheel.
	KindLottery CatalogKind = "lottery"
)

// Valid reports whether k is a known kind.
func (k CatalogKind) Valid() bool {
	switch k {
	case KindShop, KindScratcher, KindLottery:
		return true
	}
	return false
}

// Currency is the balance an entry is paid from.
type Currency string

const (
	CurrencyPoints   Currency = "points"
	CurrencyVouchers Currency = "vouchers"
)

// Currency returns the balance entries of this kind are paid from.
func (k CatalogKind) Currency() Currency {
	if k == KindLottery {
		return CurrencyVouchers
	}
	return CurrencyPoints
}

// CatalogEntry represents a redeemable reward item.
type CatalogEntry struct {
	ID        int64
	Name      string
	Kind      CatalogKind
	Cost      float64
	Chance    float64
	Stock     int64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Offered reports whether the entry may be shown or redeemed.
func (e CatalogEntry) Offered() bool {
	return e.IsActive && e.Stock > 0
}

// Referral represents one inviter -> invitee record.
type Referral struct {
	ID           int64
	InviterID    int64
	InviteeID    int64
	RewardIssued bool
	RewardPaid   bool
	RewardAmount float64
	CreatedAt    time.Time
}

// InviteLink maps a platform invite link to its creator.
type InviteLink struct {
	Link      string
	CreatorID int64
	ChatID    int64
	CreatedAt time.Time
}

// Redemption is an audit row for one redeem or spin attempt that reached the debit step.
type Redemption struct {
	ID        string
	AccountID int64
	EntryID   *int64
	Kind      CatalogKind
	Currency  Currency
	Cost      float64
	Outcome   string
	CreatedAt time.Time
}

// LeaderboardSort selects the ordering column of the leaderboard.
type LeaderboardSort string

const (
	SortPoints    LeaderboardSort = "points"
	SortDailyMsgs LeaderboardSort = "daily_msg"
)
