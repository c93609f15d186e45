package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"groupkeeper/internal/chat"
	"groupkeeper/internal/metrics"
)

// Config holds configuration to initialise the Telegram client.
type Config struct {
	Token       string
	PollTimeout int
	Debug       bool
	Metrics     *metrics.Metrics
}

// Client wraps the Bot API client, pumps updates into a chat.Handler and implements chat.Messenger.
type Client struct {
	api     *tgbotapi.BotAPI
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout int
	handler chat.Handler
	wg      sync.WaitGroup
}

var _ chat.Messenger = (*Client)(nil)

// New authorises the bot token and returns a client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("authorise bot: %w", err)
	}
	api.Debug = cfg.Debug

	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 60
	}
	c := &Client{
		api:     api,
		logger:  logger.With("component", "telegram"),
		metrics: cfg.Metrics,
		timeout: timeout,
	}
	c.logger.Info("bot authorised", "username", api.Self.UserName)
	return c, nil
}

// SetHandler registers the update handler.
func (c *Client) SetHandler(h chat.Handler) {
	c.handler = h
}

// Username returns the bot's own username.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// Start long-polls updates until ctx is cancelled, then waits for in-flight handlers.
func (c *Client) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.timeout
	u.AllowedUpdates = []string{"message", "callback_query", "chat_member"}

	updates := c.api.GetUpdatesChan(u)
	c.logger.Info("receiving updates")
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			c.dispatch(ctx, upd)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, upd tgbotapi.Update) {
	if c.handler == nil {
		return
	}
	switch {
	case upd.Message != nil:
		msg, ok := convertMessage(upd.Message)
		if !ok {
			return
		}
		c.metrics.Incoming("message")
		c.run(func() { c.handler.HandleMessage(ctx, msg) })
	case upd.CallbackQuery != nil:
		cb, ok := convertCallback(upd.CallbackQuery)
		if !ok {
			return
		}
		c.metrics.Incoming("callback")
		c.run(func() { c.handler.HandleCallback(ctx, cb) })
	case upd.ChatMember != nil:
		c.metrics.Incoming("chat_member")
		mu := convertMemberUpdate(upd.ChatMember)
		c.run(func() { c.handler.HandleMemberUpdate(ctx, mu) })
	}
}

func (c *Client) run(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("update handler panicked", "panic", r)
				c.metrics.Error("telegram_handler")
			}
		}()
		fn()
	}()
}

// call runs one Bot API request and records its outcome.
func (c *Client) call(method string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.PlatformCall(method, status, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// SendText sends a plain text message and returns its id.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	var sent tgbotapi.Message
	err := c.call("sendMessage", func() error {
		var err error
		sent, err = c.api.Send(tgbotapi.NewMessage(chatID, text))
		return err
	})
	if err != nil {
		return 0, err
	}
	c.metrics.Outgoing("text")
	return sent.MessageID, nil
}

// SendKeyboard sends text with an inline keyboard and returns the message id.
func (c *Client) SendKeyboard(ctx context.Context, chatID int64, text string, rows [][]chat.Button) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard(rows)
	var sent tgbotapi.Message
	err := c.call("sendMessage", func() error {
		var err error
		sent, err = c.api.Send(msg)
		return err
	})
	if err != nil {
		return 0, err
	}
	c.metrics.Outgoing("keyboard")
	return sent.MessageID, nil
}

// AnswerCallback acknowledges a button press, optionally as an alert popup.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	cfg.ShowAlert = alert
	return c.request("answerCallbackQuery", cfg)
}

// DeleteMessage removes a message from a chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return c.request("deleteMessage", tgbotapi.NewDeleteMessage(chatID, messageID))
}

// Restrict silences userID in chatID until the given time; a zero time restricts until lifted.
func (c *Client) Restrict(ctx context.Context, chatID, userID int64, until time.Time) error {
	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		Permissions:      &tgbotapi.ChatPermissions{},
	}
	if !until.IsZero() {
		cfg.UntilDate = until.Unix()
	}
	if err := c.request("restrictChatMember", cfg); err != nil {
		return err
	}
	c.metrics.Moderation("restrict")
	return nil
}

// Unrestrict gives userID the default member permissions back.
func (c *Client) Unrestrict(ctx context.Context, chatID, userID int64) error {
	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		Permissions: &tgbotapi.ChatPermissions{
			CanSendMessages:       true,
			CanSendMediaMessages:  true,
			CanSendPolls:          true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
			CanInviteUsers:        true,
		},
	}
	if err := c.request("restrictChatMember", cfg); err != nil {
		return err
	}
	c.metrics.Moderation("unrestrict")
	return nil
}

// Kick removes userID from chatID by banning and immediately unbanning, so they may rejoin.
func (c *Client) Kick(ctx context.Context, chatID, userID int64) error {
	member := tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID}
	if err := c.request("banChatMember", tgbotapi.BanChatMemberConfig{ChatMemberConfig: member}); err != nil {
		return err
	}
	if err := c.request("unbanChatMember", tgbotapi.UnbanChatMemberConfig{ChatMemberConfig: member, OnlyIfBanned: true}); err != nil {
		return err
	}
	c.metrics.Moderation("kick")
	return nil
}

// CreateInviteLink creates a named invite link for chatID.
func (c *Client) CreateInviteLink(ctx context.Context, chatID int64, name string) (string, error) {
	cfg := tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		Name:       name,
	}
	var resp *tgbotapi.APIResponse
	err := c.call("createChatInviteLink", func() error {
		var err error
		resp, err = c.api.Request(cfg)
		return err
	})
	if err != nil {
		return "", err
	}
	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("decode invite link: %w", err)
	}
	return link.InviteLink, nil
}

// ChatAdministrators returns the user ids of chatID's administrators.
func (c *Client) ChatAdministrators(ctx context.Context, chatID int64) ([]int64, error) {
	var members []tgbotapi.ChatMember
	err := c.call("getChatAdministrators", func() error {
		var err error
		members, err = c.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
			ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if m.User != nil {
			ids = append(ids, m.User.ID)
		}
	}
	return ids, nil
}

func (c *Client) request(method string, cfg tgbotapi.Chattable) error {
	return c.call(method, func() error {
		_, err := c.api.Request(cfg)
		return err
	})
}
