package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"groupkeeper/internal/chat"
	"groupkeeper/internal/economy"
	"groupkeeper/internal/repo"
	"groupkeeper/internal/settings"
)

const adminHelpText = `Admin commands:
/give <user_id> <amount> [vouchers]
/take <user_id> <amount> [vouchers]
/set <field> <value>
/settings
/additem <shop|scratcher|lottery> <cost> <chance> <stock> <name>
/items
/delitem <id> [hard]
/resetpoints confirm`

// adminCommand runs operator-only commands. Unknown commands are ignored.
func (e *Engine) adminCommand(ctx context.Context, msg chat.Message, cmd string) {
	switch cmd {
	case "give", "take", "set", "settings", "additem", "items", "delitem", "resetpoints", "adminhelp":
	default:
		return
	}
	if !e.isOperator(msg.From.ID) {
		e.reply(ctx, msg.ChatID, "Only bot operators can use this command.")
		return
	}
	e.logger.Info("admin command", "user_id", msg.From.ID, "command", cmd, "args", msg.Args)

	args := strings.Fields(msg.Args)
	var text string
	switch cmd {
	case "give":
		text = e.adminBalance(ctx, args, true)
	case "take":
		text = e.adminBalance(ctx, args, false)
	case "set":
		text = e.adminSet(ctx, args)
	case "settings":
		text = e.adminShowSettings(ctx)
	case "additem":
		text = e.adminAddItem(ctx, args)
	case "items":
		text = e.adminItems(ctx)
	case "delitem":
		text = e.adminDeleteItem(ctx, args)
	case "resetpoints":
		text = e.adminResetPoints(ctx, args)
	default:
		text = adminHelpText
	}
	e.reply(ctx, msg.ChatID, text)
}

func (e *Engine) adminBalance(ctx context.Context, args []string, grant bool) string {
	usage := "Usage: /give <user_id> <amount> [vouchers]"
	if !grant {
		usage = "Usage: /take <user_id> <amount> [vouchers]"
	}
	if len(args) < 2 || len(args) > 3 {
		return usage
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return usage
	}
	vouchers := len(args) == 3 && strings.HasPrefix(strings.ToLower(args[2]), "v")

	if vouchers {
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return usage
		}
		if grant {
			err = e.ledger.GrantVouchers(ctx, userID, n)
		} else {
			err = e.ledger.RevokeVouchers(ctx, userID, n)
		}
		if err != nil {
			return balanceError(err)
		}
		return fmt.Sprintf("Done: %s %d vouchers for user %d.", verbFor(grant), n, userID)
	}

	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return usage
	}
	if grant {
		err = e.ledger.GrantPoints(ctx, userID, amount)
	} else {
		err = e.ledger.RevokePoints(ctx, userID, amount)
	}
	if err != nil {
		return balanceError(err)
	}
	return fmt.Sprintf("Done: %s %s points for user %d.", verbFor(grant), economy.FormatPoints(amount), userID)
}

func verbFor(grant bool) string {
	if grant {
		return "granted"
	}
	return "revoked"
}

func balanceError(err error) string {
	switch {
	case errors.Is(err, economy.ErrInvalidAmount):
		return "The amount must be positive."
	case errors.Is(err, repo.ErrNotFound):
		return "Unknown user."
	}
	return "Failed: " + err.Error()
}

func (e *Engine) adminSet(ctx context.Context, args []string) string {
	if len(args) != 2 {
		return "Usage: /set <field> <value>\nFields: " + strings.Join(settings.Fields(), ", ")
	}
	updated, err := e.settings.Update(ctx, map[string]string{args[0]: args[1]})
	switch {
	case errors.Is(err, settings.ErrUnknownField):
		return "Unknown field. Fields: " + strings.Join(settings.Fields(), ", ")
	case errors.Is(err, settings.ErrInvalid):
		return err.Error()
	case err != nil:
		e.logger.Error("update settings", "error", err)
		return "Failed to save settings."
	}
	return "Saved.\n" + formatSettings(updated)
}

func (e *Engine) adminShowSettings(ctx context.Context) string {
	cfg, err := e.settings.Get(ctx)
	if err != nil {
		return "Failed to load settings."
	}
	return formatSettings(cfg)
}

func formatSettings(cfg repo.Settings) string {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", cfg)
	}
	return string(data)
}

func (e *Engine) adminAddItem(ctx context.Context, args []string) string {
	const usage = "Usage: /additem <shop|scratcher|lottery> <cost> <chance> <stock> <name>"
	if len(args) < 5 {
		return usage
	}
	cost, err1 := strconv.ParseFloat(args[1], 64)
	chance, err2 := strconv.ParseFloat(args[2], 64)
	stock, err3 := strconv.ParseInt(args[3], 10, 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return usage
	}
	entry, err := e.rewards.CreateEntry(ctx, economy.EntryInput{
		Name:   strings.Join(args[4:], " "),
		Kind:   repo.CatalogKind(strings.ToLower(args[0])),
		Cost:   cost,
		Chance: chance,
		Stock:  stock,
	})
	if errors.Is(err, economy.ErrInvalidEntry) {
		return err.Error()
	}
	if err != nil {
		e.logger.Error("create catalog entry", "error", err)
		return "Failed to create the item."
	}
	return fmt.Sprintf("Created #%d %s (%s).", entry.ID, entry.Name, entry.Kind)
}

func (e *Engine) adminItems(ctx context.Context) string {
	entries, err := e.rewards.Entries(ctx, "", false)
	if err != nil {
		return "Failed to list items."
	}
	if len(entries) == 0 {
		return "The catalog is empty."
	}
	var b strings.Builder
	for _, en := range entries {
		state := "active"
		if !en.Offered() {
			state = "hidden"
		}
		fmt.Fprintf(&b, "#%d [%s] %s cost=%s chance=%g stock=%d %s\n",
			en.ID, en.Kind, en.Name, economy.FormatPoints(en.Cost), en.Chance, en.Stock, state)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) adminDeleteItem(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "Usage: /delitem <id> [hard]"
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		return "Usage: /delitem <id> [hard]"
	}
	hard := len(args) > 1 && strings.EqualFold(args[1], "hard")
	if hard {
		err = e.rewards.DeleteEntry(ctx, id)
	} else {
		err = e.rewards.DeactivateEntry(ctx, id)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return "No such item."
	}
	if err != nil {
		e.logger.Error("remove catalog entry", "entry_id", id, "error", err)
		return "Failed to remove the item."
	}
	if hard {
		return fmt.Sprintf("Deleted #%d.", id)
	}
	return fmt.Sprintf("Deactivated #%d.", id)
}

func (e *Engine) adminResetPoints(ctx context.Context, args []string) string {
	if len(args) != 1 || args[0] != "confirm" {
		return "This sets every balance to zero. Run /resetpoints confirm to proceed."
	}
	n, err := e.ledger.ResetAllPoints(ctx)
	if err != nil {
		e.logger.Error("reset points", "error", err)
		return "Failed to reset points."
	}
	return fmt.Sprintf("Points reset for %d accounts.", n)
}
