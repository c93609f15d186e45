package repo

// Column lists shared by both backends. Order must match the scan helpers below.
const (
	accountColumns = `id, username, full_name, points, vouchers, points_earned_daily,
       msg_count_total, msg_count_daily, last_msg_at, daily_check_in_count, last_check_in_at,
       is_verified, is_muted, warnings, created_at, updated_at`

	settingsColumns = `check_in_points, check_in_limit, invite_reward_points, max_daily_points,
       activity_reward_chance, activity_reward_points, spam_limit, spam_window_seconds,
       voucher_cost, voucher_buy_enabled, spin_cost, media_delete_seconds, admin_media_exempt,
       referral_min_messages, updated_at`

	catalogColumns = `id, name, kind, cost, chance, stock, is_active, created_at, updated_at`

	referralColumns = `id, inviter_id, invitee_id, reward_issued, reward_paid, reward_amount, created_at`

	inviteLinkColumns = `link, creator_id, chat_id, created_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	if err := row.Scan(
		&a.ID, &a.Username, &a.FullName, &a.Points, &a.Vouchers, &a.PointsEarnedDaily,
		&a.MsgCountTotal, &a.MsgCountDaily, &a.LastMsgAt, &a.DailyCheckIns, &a.LastCheckInAt,
		&a.IsVerified, &a.IsMuted, &a.Warnings, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanSettings(row rowScanner) (*Settings, error) {
	var s Settings
	if err := row.Scan(
		&s.CheckInPoints, &s.CheckInLimit, &s.InviteRewardPoints, &s.MaxDailyPoints,
		&s.ActivityRewardChance, &s.ActivityRewardPoints, &s.SpamLimit, &s.SpamWindowSeconds,
		&s.VoucherCost, &s.VoucherBuyEnabled, &s.SpinCost, &s.MediaDeleteSeconds, &s.AdminMediaExempt,
		&s.ReferralMinMessages, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanCatalogEntry(row rowScanner) (*CatalogEntry, error) {
	var e CatalogEntry
	var kind string
	if err := row.Scan(&e.ID, &e.Name, &kind, &e.Cost, &e.Chance, &e.Stock, &e.IsActive, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Kind = CatalogKind(kind)
	return &e, nil
}

func scanReferral(row rowScanner) (*Referral, error) {
	var r Referral
	if err := row.Scan(&r.ID, &r.InviterID, &r.InviteeID, &r.RewardIssued, &r.RewardPaid, &r.RewardAmount, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanInviteLink(row rowScanner) (*InviteLink, error) {
	var l InviteLink
	if err := row.Scan(&l.Link, &l.CreatorID, &l.ChatID, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func settingsArgs(s Settings) []any {
	return []any{
		s.CheckInPoints, s.CheckInLimit, s.InviteRewardPoints, s.MaxDailyPoints,
		s.ActivityRewardChance, s.ActivityRewardPoints, s.SpamLimit, s.SpamWindowSeconds,
		s.VoucherCost, s.VoucherBuyEnabled, s.SpinCost, s.MediaDeleteSeconds, s.AdminMediaExempt,
		s.ReferralMinMessages,
	}
}

func leaderboardOrder(sort LeaderboardSort) string {
	if sort == SortDailyMsgs {
		return "msg_count_daily DESC, id ASC"
	}
	return "points DESC, id ASC"
}
