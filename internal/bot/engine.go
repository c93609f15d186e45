// Package bot turns chat events into moderation actions and economy operations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"groupkeeper/internal/antispam"
	"groupkeeper/internal/chat"
	"groupkeeper/internal/economy"
	"groupkeeper/internal/metrics"
	"groupkeeper/internal/repo"
	"groupkeeper/internal/settings"
	"groupkeeper/internal/verify"
)

// Deps are the collaborators of the Engine. Admins may be nil; then only operators count as admins.
type Deps struct {
	Messenger  chat.Messenger
	Ledger     *economy.Ledger
	Rewards    *economy.Engine
	Referrals  *economy.Referrals
	Settings   *settings.Store
	Tracker    antispam.Tracker
	Albums     *antispam.AlbumFilter
	Penalties  *antispam.Penalties
	Challenges *verify.Store
	Admins     *AdminCache
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Config tunes the Engine. Zero durations fall back to three minutes.
type Config struct {
	// Operators may run admin commands in every chat.
	Operators            []int64
	VerificationTimeout  time.Duration
	SpamMuteDuration     time.Duration
	AdminPenaltyDuration time.Duration
	WebAppURL            string
	Now                  func() time.Time
	// Draw returns a uniform value in [0,1) for activity rewards.
	Draw func() float64
}

// Engine processes chat events. It implements chat.Handler.
type Engine struct {
	messenger  chat.Messenger
	ledger     *economy.Ledger
	rewards    *economy.Engine
	referrals  *economy.Referrals
	settings   *settings.Store
	tracker    antispam.Tracker
	albums     *antispam.AlbumFilter
	penalties  *antispam.Penalties
	challenges *verify.Store
	verify     *verify.Service
	admins     *AdminCache
	cleaner    *MediaCleaner
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config

	joinMu sync.Mutex
}

var _ chat.Handler = (*Engine)(nil)

// New wires an Engine and its verification timers.
func New(d Deps, cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Draw == nil {
		cfg.Draw = rand.Float64
	}
	for _, dur := range []*time.Duration{&cfg.VerificationTimeout, &cfg.SpamMuteDuration, &cfg.AdminPenaltyDuration} {
		if *dur <= 0 {
			*dur = 3 * time.Minute
		}
	}
	e := &Engine{
		messenger:  d.Messenger,
		ledger:     d.Ledger,
		rewards:    d.Rewards,
		referrals:  d.Referrals,
		settings:   d.Settings,
		tracker:    d.Tracker,
		albums:     d.Albums,
		penalties:  d.Penalties,
		challenges: d.Challenges,
		admins:     d.Admins,
		metrics:    d.Metrics,
		logger:     d.Logger.With("component", "bot"),
		cfg:        cfg,
	}
	e.verify = verify.NewService(d.Challenges, cfg.VerificationTimeout, e.challengeExpired, d.Logger)
	e.cleaner = NewMediaCleaner(d.Messenger, d.Logger)
	return e
}

// Verification exposes the challenge service for periodic sweeps.
func (e *Engine) Verification() *verify.Service {
	return e.verify
}

// Stop cancels pending verification timers and media deletions.
func (e *Engine) Stop() {
	e.verify.Stop()
	e.cleaner.Stop()
}

// HandleMessage runs the moderation pipeline, then commands or activity accounting.
func (e *Engine) HandleMessage(ctx context.Context, msg chat.Message) {
	if msg.From.IsBot || msg.From.ID == 0 {
		return
	}
	if len(msg.NewMembers) > 0 {
		for _, u := range msg.NewMembers {
			if !u.IsBot {
				e.admit(ctx, msg.ChatID, u)
			}
		}
		return
	}

	cfg, err := e.settings.Get(ctx)
	if err != nil {
		e.logger.Error("load settings", "error", err)
		e.metrics.Error("bot")
		return
	}
	isAdmin := e.isChatAdmin(ctx, msg.ChatID, msg.From.ID)

	if msg.HasMedia && !(cfg.AdminMediaExempt && isAdmin) {
		e.cleaner.Schedule(msg.ChatID, msg.ID, cfg.MediaDeleteSeconds)
	}
	// Album items after the first are cleaned up but not counted.
	if e.albums != nil && e.albums.Duplicate(msg.MediaGroupID) {
		return
	}

	window := time.Duration(cfg.SpamWindowSeconds * float64(time.Second))
	violating, err := e.tracker.RecordAndCheck(ctx, msg.From.ID, cfg.SpamLimit, window)
	if err != nil {
		e.logger.Warn("rate window check failed", "user_id", msg.From.ID, "error", err)
		e.metrics.Error("antispam")
	}
	if violating {
		e.punish(ctx, msg, isAdmin)
		return
	}

	if _, err := e.ledger.Touch(ctx, profile(msg.From)); err != nil {
		e.logger.Error("touch account", "user_id", msg.From.ID, "error", err)
		e.metrics.Error("bot")
		return
	}
	if e.dispatchCommand(ctx, msg) {
		return
	}
	e.recordActivity(ctx, msg, cfg)
}

func (e *Engine) punish(ctx context.Context, msg chat.Message, isAdmin bool) {
	if isAdmin {
		e.penalties.Add(msg.From.ID, e.cfg.AdminPenaltyDuration)
		e.metrics.Moderation("penalty")
		e.logger.Info("admin penalised for flooding", "chat_id", msg.ChatID, "user_id", msg.From.ID)
		e.reply(ctx, msg.ChatID, fmt.Sprintf("%s is sending messages too fast and earns no points for %s.",
			msg.From.Mention(), e.cfg.AdminPenaltyDuration))
		return
	}

	until := e.cfg.Now().Add(e.cfg.SpamMuteDuration)
	if err := e.messenger.Restrict(ctx, msg.ChatID, msg.From.ID, until); err != nil {
		e.logger.Warn("mute flooder failed", "chat_id", msg.ChatID, "user_id", msg.From.ID, "error", err)
		return
	}
	e.logger.Info("flooder muted", "chat_id", msg.ChatID, "user_id", msg.From.ID, "until", until)
	e.reply(ctx, msg.ChatID, fmt.Sprintf("%s was muted for %s for flooding.", msg.From.Mention(), e.cfg.SpamMuteDuration))
}

func (e *Engine) recordActivity(ctx context.Context, msg chat.Message, cfg repo.Settings) {
	id := msg.From.ID
	total, err := e.ledger.RecordActivity(ctx, id)
	if err != nil {
		e.logger.Error("record activity", "user_id", id, "error", err)
		return
	}

	p, err := e.referrals.OnActivity(ctx, id, total)
	if err != nil {
		e.logger.Warn("referral reward on activity", "invitee_id", id, "error", err)
	} else if p != nil {
		e.announcePayout(ctx, msg.ChatID, p)
	}

	if e.penalties.IsPenalized(id) {
		return
	}
	if cfg.ActivityRewardPoints <= 0 || e.cfg.Draw() >= cfg.ActivityRewardChance {
		return
	}
	if _, err := e.ledger.AwardCappedPoints(ctx, id, cfg.ActivityRewardPoints, cfg.MaxDailyPoints); err != nil {
		e.logger.Warn("activity reward", "user_id", id, "error", err)
	}
}

// HandleMemberUpdate attributes referrals and starts verification for real joins.
func (e *Engine) HandleMemberUpdate(ctx context.Context, upd chat.MemberUpdate) {
	if upd.User.IsBot || !upd.Joined() {
		return
	}
	if upd.InviteLink != "" {
		e.attributeReferral(ctx, upd)
	}
	e.admit(ctx, upd.ChatID, upd.User)
}

func (e *Engine) attributeReferral(ctx context.Context, upd chat.MemberUpdate) {
	owner, err := e.referrals.ResolveInviteLink(ctx, upd.InviteLink)
	if err != nil {
		e.logger.Warn("resolve invite link", "error", err)
		return
	}
	if owner == nil || owner.ChatID != upd.ChatID {
		return
	}
	if _, err := e.referrals.Register(ctx, owner.CreatorID, upd.User.ID); err != nil && !errors.Is(err, economy.ErrSelfReferral) {
		e.logger.Warn("register referral", "inviter_id", owner.CreatorID, "invitee_id", upd.User.ID, "error", err)
	}
}

// admit challenges a newcomer unless they are verified or already have a pending challenge.
func (e *Engine) admit(ctx context.Context, chatID int64, u chat.User) {
	account, err := e.ledger.Touch(ctx, profile(u))
	if err != nil {
		e.logger.Error("touch account", "user_id", u.ID, "error", err)
		return
	}
	if account.IsVerified {
		return
	}

	e.joinMu.Lock()
	if _, pending := e.challenges.Get(u.ID); pending {
		e.joinMu.Unlock()
		return
	}
	c := e.verify.Begin(u.ID, chatID)
	e.joinMu.Unlock()
	e.metrics.Verification("issued")

	if err := e.messenger.Restrict(ctx, chatID, u.ID, time.Time{}); err != nil {
		e.logger.Warn("restrict newcomer failed", "chat_id", chatID, "user_id", u.ID, "error", err)
	}

	buttons := make([]chat.Button, 0, len(c.Options))
	for _, opt := range c.Options {
		buttons = append(buttons, chat.Button{Text: fmt.Sprint(opt), Data: fmt.Sprintf("verify_%d_%d", u.ID, opt)})
	}
	rows := [][]chat.Button{buttons}
	if len(buttons) > 2 {
		rows = [][]chat.Button{buttons[:2], buttons[2:]}
	}
	text := fmt.Sprintf("Welcome %s! Answer within %d seconds to start chatting:\n%s",
		u.Mention(), int(e.verify.Timeout().Seconds()), c.Question)
	msgID, err := e.messenger.SendKeyboard(ctx, chatID, text, rows)
	if err != nil {
		e.logger.Warn("send challenge failed", "chat_id", chatID, "user_id", u.ID, "error", err)
		return
	}
	e.verify.AttachMessage(c, msgID)
}

// challengeExpired runs on the timer goroutine once a challenge times out unanswered.
func (e *Engine) challengeExpired(c verify.Challenge) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	e.metrics.Verification("expired")
	e.dropChallengeMessage(ctx, c)
	if err := e.messenger.Kick(ctx, c.ChatID, c.UserID); err != nil {
		e.logger.Warn("kick unverified member failed", "chat_id", c.ChatID, "user_id", c.UserID, "error", err)
	}
}

func (e *Engine) onVerified(ctx context.Context, c verify.Challenge) {
	e.dropChallengeMessage(ctx, c)
	if err := e.messenger.Unrestrict(ctx, c.ChatID, c.UserID); err != nil {
		e.logger.Warn("unrestrict verified member failed", "chat_id", c.ChatID, "user_id", c.UserID, "error", err)
	}
	if err := e.ledger.MarkVerified(ctx, c.UserID); err != nil {
		e.logger.Error("mark verified", "user_id", c.UserID, "error", err)
	}

	p, err := e.referrals.OnVerified(ctx, c.UserID)
	if err != nil {
		e.logger.Warn("referral reward on verification", "invitee_id", c.UserID, "error", err)
		return
	}
	if p != nil {
		e.announcePayout(ctx, c.ChatID, p)
	}
}

func (e *Engine) dropChallengeMessage(ctx context.Context, c verify.Challenge) {
	if c.MessageID == 0 {
		return
	}
	if err := e.messenger.DeleteMessage(ctx, c.ChatID, c.MessageID); err != nil {
		e.logger.Warn("delete challenge message failed", "chat_id", c.ChatID, "error", err)
	}
}

func (e *Engine) announcePayout(ctx context.Context, chatID int64, p *economy.Payout) {
	e.reply(ctx, chatID, fmt.Sprintf("A friend invited by user %d is now an active member: +%s points to the inviter.",
		p.InviterID, economy.FormatPoints(p.Amount)))
}

func (e *Engine) isOperator(userID int64) bool {
	return slices.Contains(e.cfg.Operators, userID)
}

// isChatAdmin covers operators and the chat's administrators. Private chats have no administrators.
func (e *Engine) isChatAdmin(ctx context.Context, chatID, userID int64) bool {
	if e.isOperator(userID) {
		return true
	}
	if e.admins == nil || chatID == userID {
		return false
	}
	return e.admins.IsAdmin(ctx, chatID, userID)
}

func (e *Engine) reply(ctx context.Context, chatID int64, text string) {
	if _, err := e.messenger.SendText(ctx, chatID, text); err != nil {
		e.logger.Warn("send message failed", "chat_id", chatID, "error", err)
	}
}

func (e *Engine) answer(ctx context.Context, cb chat.Callback, text string, alert bool) {
	if err := e.messenger.AnswerCallback(ctx, cb.ID, text, alert); err != nil {
		e.logger.Warn("answer callback failed", "error", err)
	}
}

func profile(u chat.User) repo.AccountProfile {
	return repo.AccountProfile{ID: u.ID, Username: u.Username, FullName: u.FullName()}
}
