package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"groupkeeper/internal/chat"
	"groupkeeper/internal/economy"
	"groupkeeper/internal/repo"
	"groupkeeper/internal/verify"
)

// Callback data prefixes of catalog buttons by entry kind.
var redeemPrefixes = map[repo.CatalogKind]string{
	repo.KindShop:      "shop_buy_",
	repo.KindScratcher: "scratcher_play_",
	repo.KindLottery:   "lottery_draw_",
}

const helpText = `Commands:
/checkin - daily check-in (or send 签到)
/balance - your points and vouchers
/shop, /scratch, /lottery - browse rewards
/voucher - exchange points for a voucher
/spin - spin the prize wheel
/invite - your personal invite link
/rank [daily] - leaderboard`

// dispatchCommand runs msg as a command and reports whether it was one.
func (e *Engine) dispatchCommand(ctx context.Context, msg chat.Message) bool {
	cmd := strings.ToLower(msg.Command)
	if cmd == "" {
		if strings.TrimSpace(msg.Text) != "签到" {
			return false
		}
		cmd = "checkin"
	}

	switch cmd {
	case "start", "help":
		e.reply(ctx, msg.ChatID, helpText)
	case "checkin":
		e.cmdCheckIn(ctx, msg)
	case "balance", "me", "points":
		e.cmdBalance(ctx, msg)
	case "shop":
		e.cmdCatalog(ctx, msg, repo.KindShop)
	case "scratch", "scratcher":
		e.cmdCatalog(ctx, msg, repo.KindScratcher)
	case "lottery":
		e.cmdCatalog(ctx, msg, repo.KindLottery)
	case "voucher", "buyvoucher":
		e.cmdBuyVoucher(ctx, msg)
	case "spin":
		e.cmdSpin(ctx, msg)
	case "invite":
		e.cmdInvite(ctx, msg)
	case "rank", "top":
		e.cmdRank(ctx, msg)
	default:
		e.adminCommand(ctx, msg, cmd)
	}
	return true
}

func (e *Engine) cmdCheckIn(ctx context.Context, msg chat.Message) {
	res, err := e.ledger.CheckIn(ctx, msg.From.ID)
	if err != nil {
		e.logger.Error("check in", "user_id", msg.From.ID, "error", err)
		e.reply(ctx, msg.ChatID, "Check-in is unavailable right now, try again later.")
		return
	}
	e.reply(ctx, msg.ChatID, fmt.Sprintf("%s: %s", msg.From.Mention(), res.Message))
}

func (e *Engine) cmdBalance(ctx context.Context, msg chat.Message) {
	a, err := e.ledger.Account(ctx, msg.From.ID)
	if err != nil {
		e.logger.Error("load account", "user_id", msg.From.ID, "error", err)
		return
	}
	e.reply(ctx, msg.ChatID, fmt.Sprintf("%s: %s points, %d vouchers.", msg.From.Mention(), economy.FormatPoints(a.Points), a.Vouchers))
}

func (e *Engine) cmdCatalog(ctx context.Context, msg chat.Message, kind repo.CatalogKind) {
	entries, err := e.rewards.Entries(ctx, kind, true)
	if err != nil {
		e.logger.Error("list catalog", "kind", kind, "error", err)
		return
	}
	if len(entries) == 0 {
		e.reply(ctx, msg.ChatID, "Nothing is available right now.")
		return
	}

	var b strings.Builder
	rows := make([][]chat.Button, 0, len(entries))
	for _, en := range entries {
		fmt.Fprintf(&b, "#%d %s: %s %s", en.ID, en.Name, economy.FormatPoints(en.Cost), kind.Currency())
		if kind != repo.KindShop {
			fmt.Fprintf(&b, ", %g%% chance", en.Chance*100)
		}
		fmt.Fprintf(&b, ", %d left\n", en.Stock)
		rows = append(rows, []chat.Button{{
			Text: en.Name,
			Data: redeemPrefixes[kind] + strconv.FormatInt(en.ID, 10),
		}})
	}
	if _, err := e.messenger.SendKeyboard(ctx, msg.ChatID, strings.TrimRight(b.String(), "\n"), rows); err != nil {
		e.logger.Warn("send catalog failed", "chat_id", msg.ChatID, "error", err)
	}
}

func (e *Engine) cmdBuyVoucher(ctx context.Context, msg chat.Message) {
	a, err := e.ledger.BuyVoucher(ctx, msg.From.ID)
	switch {
	case errors.Is(err, economy.ErrVoucherExchangeDisabled):
		e.reply(ctx, msg.ChatID, "Voucher exchange is closed.")
	case errors.Is(err, economy.ErrInsufficientFunds):
		cfg, err := e.settings.Get(ctx)
		if err != nil {
			e.logger.Warn("load voucher cost", "error", err)
			e.reply(ctx, msg.ChatID, fmt.Sprintf("%s: not enough points for a voucher.", msg.From.Mention()))
			return
		}
		e.reply(ctx, msg.ChatID, fmt.Sprintf("%s: a voucher costs %d points.", msg.From.Mention(), cfg.VoucherCost))
	case err != nil:
		e.logger.Error("buy voucher", "user_id", msg.From.ID, "error", err)
	default:
		e.reply(ctx, msg.ChatID, fmt.Sprintf("%s: voucher bought. You now have %s points and %d vouchers.",
			msg.From.Mention(), economy.FormatPoints(a.Points), a.Vouchers))
	}
}

func (e *Engine) cmdSpin(ctx context.Context, msg chat.Message) {
	res, err := e.rewards.Spin(ctx, msg.From.ID)
	if err != nil {
		e.logger.Error("spin", "user_id", msg.From.ID, "error", err)
		return
	}
	var text string
	switch res.Outcome {
	case economy.OutcomeWin:
		text = fmt.Sprintf("%s spun the wheel and won %s!", msg.From.Mention(), res.Name)
	case economy.OutcomeLose:
		text = fmt.Sprintf("%s spun the wheel: no win this time.", msg.From.Mention())
	case economy.OutcomeInsufficientFunds:
		text = fmt.Sprintf("%s: a spin costs %d vouchers.", msg.From.Mention(), res.Cost)
	default:
		text = "The wheel has no prizes right now."
	}
	if e.cfg.WebAppURL == "" || res.Outcome == economy.OutcomeOutOfStock {
		e.reply(ctx, msg.ChatID, text)
		return
	}
	rows := [][]chat.Button{{{Text: "Open the wheel", URL: e.cfg.WebAppURL}}}
	if _, err := e.messenger.SendKeyboard(ctx, msg.ChatID, text, rows); err != nil {
		e.logger.Warn("send spin result failed", "chat_id", msg.ChatID, "error", err)
	}
}

func (e *Engine) cmdInvite(ctx context.Context, msg chat.Message) {
	if msg.ChatID == msg.From.ID {
		e.reply(ctx, msg.ChatID, "Use /invite in the group you want to invite friends to.")
		return
	}
	link, err := e.referrals.InviteLink(ctx, e.messenger, msg.From.ID, msg.ChatID)
	if err != nil {
		e.logger.Warn("invite link", "user_id", msg.From.ID, "chat_id", msg.ChatID, "error", err)
		e.reply(ctx, msg.ChatID, "Could not create an invite link. Is the bot an admin here?")
		return
	}
	e.reply(ctx, msg.ChatID, fmt.Sprintf("%s, your invite link: %s", msg.From.Mention(), link))
}

func (e *Engine) cmdRank(ctx context.Context, msg chat.Message) {
	sort, title := repo.SortPoints, "Top points"
	if strings.EqualFold(strings.TrimSpace(msg.Args), "daily") {
		sort, title = repo.SortDailyMsgs, "Most active today"
	}
	page, err := e.ledger.Leaderboard(ctx, sort, 10, 0)
	if err != nil {
		e.logger.Error("leaderboard", "error", err)
		return
	}
	if len(page.Accounts) == 0 {
		e.reply(ctx, msg.ChatID, "Nobody is ranked yet.")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d members):\n", title, page.Total)
	for i, a := range page.Accounts {
		name := a.FullName
		if a.Username != "" {
			name = "@" + a.Username
		}
		if sort == repo.SortDailyMsgs {
			fmt.Fprintf(&b, "%d. %s: %d messages\n", i+1, name, a.MsgCountDaily)
		} else {
			fmt.Fprintf(&b, "%d. %s: %s points\n", i+1, name, economy.FormatPoints(a.Points))
		}
	}
	e.reply(ctx, msg.ChatID, strings.TrimRight(b.String(), "\n"))
}

// HandleCallback routes inline button presses.
func (e *Engine) HandleCallback(ctx context.Context, cb chat.Callback) {
	if strings.HasPrefix(cb.Data, "verify_") {
		e.onVerifyAnswer(ctx, cb)
		return
	}
	for _, prefix := range redeemPrefixes {
		if rest, ok := strings.CutPrefix(cb.Data, prefix); ok {
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				e.answer(ctx, cb, "Unknown item.", false)
				return
			}
			e.onRedeem(ctx, cb, id)
			return
		}
	}
	e.answer(ctx, cb, "Unknown action.", false)
}

func (e *Engine) onVerifyAnswer(ctx context.Context, cb chat.Callback) {
	parts := strings.Split(strings.TrimPrefix(cb.Data, "verify_"), "_")
	if len(parts) != 2 {
		e.answer(ctx, cb, "Malformed answer.", false)
		return
	}
	target, err1 := strconv.ParseInt(parts[0], 10, 64)
	choice, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		e.answer(ctx, cb, "Malformed answer.", false)
		return
	}

	res, c := e.verify.Submit(cb.From.ID, target, choice)
	e.metrics.Verification(res.String())
	switch res {
	case verify.ResultNoChallenge:
		e.answer(ctx, cb, "This challenge is no longer active.", false)
	case verify.ResultNotForYou:
		e.answer(ctx, cb, "This question is not for you.", true)
	case verify.ResultVerified:
		e.answer(ctx, cb, "Verified. Welcome!", false)
		e.onVerified(ctx, c)
	default:
		e.answer(ctx, cb, "Verification failed. You can rejoin and try again.", true)
		e.dropChallengeMessage(ctx, c)
		if err := e.messenger.Kick(ctx, c.ChatID, c.UserID); err != nil {
			e.logger.Warn("kick failed member", "chat_id", c.ChatID, "user_id", c.UserID, "error", err)
		}
		e.logger.Info("verification failed", "chat_id", c.ChatID, "user_id", c.UserID, "result", res.String())
	}
}

func (e *Engine) onRedeem(ctx context.Context, cb chat.Callback, entryID int64) {
	if _, err := e.ledger.Touch(ctx, profile(cb.From)); err != nil {
		e.logger.Error("touch account", "user_id", cb.From.ID, "error", err)
		e.answer(ctx, cb, "Try again later.", false)
		return
	}
	res, err := e.rewards.Redeem(ctx, cb.From.ID, entryID)
	if err != nil {
		e.logger.Error("redeem", "user_id", cb.From.ID, "entry_id", entryID, "error", err)
		e.answer(ctx, cb, "Try again later.", false)
		return
	}

	cost := fmt.Sprintf("%s %s", economy.FormatPoints(res.Cost), res.Currency)
	switch res.Outcome {
	case economy.OutcomeWin:
		e.answer(ctx, cb, fmt.Sprintf("You got %s for %s!", res.Entry.Name, cost), true)
		verb := "won"
		if res.Entry.Kind == repo.KindShop {
			verb = "bought"
		}
		e.reply(ctx, cb.ChatID, fmt.Sprintf("%s %s %s!", cb.From.Mention(), verb, res.Entry.Name))
	case economy.OutcomeLose:
		e.answer(ctx, cb, fmt.Sprintf("No luck this time (-%s).", cost), true)
	case economy.OutcomeInsufficientFunds:
		e.answer(ctx, cb, fmt.Sprintf("Not enough %s.", res.Entry.Kind.Currency()), true)
	default:
		e.answer(ctx, cb, "This item is sold out.", true)
	}
}
