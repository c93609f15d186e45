package repo

import (
	"context"
	"fmt"
	"strings"
)

// InsertReferral records inviter -> invitee once. Returns false when the pair exists
// or the ids are equal.
func (r *PostgresRepository) InsertReferral(ctx context.Context, inviterID, inviteeID int64) (bool, error) {
	if inviterID == inviteeID {
		return false, nil
	}
	const q = `
INSERT INTO referrals (inviter_id, invitee_id)
VALUES ($1, $2)
ON CONFLICT (inviter_id, invitee_id) DO NOTHING;
`
	ct, err := r.pool.Exec(ctx, q, inviterID, inviteeID)
	if err != nil {
		return false, fmt.Errorf("insert referral: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// ClaimReferralReward flips reward_issued on the oldest unrewarded referral of the
// invitee, provided no referral of that invitee was rewarded before. A concurrent claim
// on another of the invitee's rows loses on idx_referrals_rewarded_invitee and reports ErrNotFound.
func (r *PostgresRepository) ClaimReferralReward(ctx context.Context, inviteeID int64, amount float64) (*Referral, error) {
	const q = `
UPDATE referrals
SET reward_issued = TRUE, reward_amount = $2
WHERE id = (
    SELECT id FROM referrals
    WHERE invitee_id = $1 AND NOT reward_issued
      AND NOT EXISTS (SELECT 1 FROM referrals done WHERE done.invitee_id = $1 AND done.reward_issued)
    ORDER BY created_at, id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
) AND NOT reward_issued
RETURNING ` + referralColumns + `;`
	ref, err := scanReferral(r.pool.QueryRow(ctx, q, inviteeID, amount))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("claim referral reward: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("claim referral reward: %w", pgNotFound(err))
	}
	return ref, nil
}

// ListUnpaidReferrals returns claimed referrals whose payout has not committed.
func (r *PostgresRepository) ListUnpaidReferrals(ctx context.Context, limit int) ([]Referral, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + referralColumns + `
FROM referrals
WHERE reward_issued AND NOT reward_paid
ORDER BY id
LIMIT $1;`
	rows, err := r.pool.Query(ctx, q, limit)
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

// SaveInviteLink stores the mapping; an existing link keeps its first owner.
func (r *PostgresRepository) SaveInviteLink(ctx context.Context, link InviteLink) error {
	const q = `
INSERT INTO invite_links (link, creator_id, chat_id)
VALUES ($1, $2, $3)
ON CONFLICT (link) DO NOTHING;
`
	if _, err := r.pool.Exec(ctx, q, strings.TrimSpace(link.Link), link.CreatorID, link.ChatID); err != nil {
		return fmt.Errorf("save invite link: %w", err)
	}
	return nil
}

// GetInviteLink looks up a link by exact (trimmed) string.
func (r *PostgresRepository) GetInviteLink(ctx context.Context, link string) (*InviteLink, error) {
	l, err := scanInviteLink(r.pool.QueryRow(ctx, `SELECT `+inviteLinkColumns+` FROM invite_links WHERE link = $1`, strings.TrimSpace(link)))
	if err != nil {
		return nil, fmt.Errorf("get invite link: %w", pgNotFound(err))
	}
	return l, nil
}

// FindInviteLink returns the newest link a user created for a chat.
func (r *PostgresRepository) FindInviteLink(ctx context.Context, creatorID, chatID int64) (*InviteLink, error) {
	const q = `SELECT ` + inviteLinkColumns + `
FROM invite_links
WHERE creator_id = $1 AND chat_id = $2
ORDER BY created_at DESC
LIMIT 1;`
	l, err := scanInviteLink(r.pool.QueryRow(ctx, q, creatorID, chatID))
	if err != nil {
		return nil, fmt.Errorf("find invite link: %w", pgNotFound(err))
	}
	return l, nil
}
