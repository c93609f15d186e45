package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"groupkeeper/internal/chat"
)

func convertUser(u *tgbotapi.User) chat.User {
	if u == nil {
		return chat.User{}
	}
	return chat.User{
		ID:        u.ID,
		Username:  u.UserName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsBot:     u.IsBot,
	}
}

// convertMessage drops messages without a sender or chat, such as channel posts.
func convertMessage(m *tgbotapi.Message) (chat.Message, bool) {
	if m == nil || m.From == nil || m.Chat == nil {
		return chat.Message{}, false
	}
	msg := chat.Message{
		ID:           m.MessageID,
		ChatID:       m.Chat.ID,
		From:         convertUser(m.From),
		Text:         m.Text,
		MediaGroupID: m.MediaGroupID,
		HasMedia:     hasMedia(m),
		Date:         m.Time(),
	}
	if msg.Text == "" {
		msg.Text = m.Caption
	}
	if m.IsCommand() {
		msg.Command = m.Command()
		msg.Args = m.CommandArguments()
	}
	for i := range m.NewChatMembers {
		msg.NewMembers = append(msg.NewMembers, convertUser(&m.NewChatMembers[i]))
	}
	return msg, true
}

func hasMedia(m *tgbotapi.Message) bool {
	return len(m.Photo) > 0 ||
		m.Video != nil ||
		m.Animation != nil ||
		m.Document != nil ||
		m.Audio != nil ||
		m.Voice != nil ||
		m.VideoNote != nil ||
		m.Sticker != nil
}

func convertCallback(q *tgbotapi.CallbackQuery) (chat.Callback, bool) {
	if q == nil || q.From == nil {
		return chat.Callback{}, false
	}
	cb := chat.Callback{
		ID:   q.ID,
		From: convertUser(q.From),
		Data: q.Data,
	}
	if q.Message != nil && q.Message.Chat != nil {
		cb.ChatID = q.Message.Chat.ID
		cb.MessageID = q.Message.MessageID
	}
	return cb, true
}

func convertMemberUpdate(u *tgbotapi.ChatMemberUpdated) chat.MemberUpdate {
	upd := chat.MemberUpdate{
		ChatID:      u.Chat.ID,
		User:        convertUser(u.NewChatMember.User),
		OldStatus:   u.OldChatMember.Status,
		OldIsMember: u.OldChatMember.IsMember,
		NewStatus:   u.NewChatMember.Status,
		IsMember:    u.NewChatMember.IsMember,
	}
	if u.InviteLink != nil {
		upd.InviteLink = u.InviteLink.InviteLink
	}
	return upd
}

func keyboard(rows [][]chat.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}
