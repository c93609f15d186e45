package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"groupkeeper/internal/chat"
)

func TestConvertCommandMessage(t *testing.T) {
	m := &tgbotapi.Message{
		MessageID: 42,
		From:      &tgbotapi.User{ID: 7, UserName: "neo", FirstName: "Thomas"},
		Chat:      &tgbotapi.Chat{ID: -100},
		Date:      1_700_000_000,
		Text:      "/give@keeper_bot 7 10",
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 16}},
	}
	msg, ok := convertMessage(m)
	if !ok {
		t.Fatalf("message dropped")
	}
	if msg.Command != "give" || msg.Args != "7 10" {
		t.Fatalf("unexpected command %q args %q", msg.Command, msg.Args)
	}
	if msg.ChatID != -100 || msg.From.ID != 7 || msg.ID != 42 || msg.HasMedia {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Date.Unix() != 1_700_000_000 {
		t.Fatalf("unexpected date %v", msg.Date)
	}
}

func TestConvertMediaAlbumMessage(t *testing.T) {
	m := &tgbotapi.Message{
		MessageID:    3,
		From:         &tgbotapi.User{ID: 1},
		Chat:         &tgbotapi.Chat{ID: -5},
		Photo:        []tgbotapi.PhotoSize{{FileID: "x"}},
		Caption:      "look",
		MediaGroupID: "album-1",
	}
	msg, ok := convertMessage(m)
	if !ok || !msg.HasMedia || msg.MediaGroupID != "album-1" || msg.Text != "look" {
		t.Fatalf("unexpected media message %+v ok=%v", msg, ok)
	}
}

func TestConvertDropsChannelPosts(t *testing.T) {
	if _, ok := convertMessage(&tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}}); ok {
		t.Fatalf("message without sender must be dropped")
	}
}

func TestConvertMemberUpdate(t *testing.T) {
	u := &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: -100},
		OldChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 9}, Status: chat.StatusLeft},
		NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 9, FirstName: "Ann"}, Status: chat.StatusMember},
		InviteLink:    &tgbotapi.ChatInviteLink{InviteLink: "https://t.me/+abc"},
	}
	upd := convertMemberUpdate(u)
	if !upd.Joined() || upd.User.ID != 9 || upd.InviteLink != "https://t.me/+abc" {
		t.Fatalf("unexpected member update %+v", upd)
	}
}

func TestKeyboardButtons(t *testing.T) {
	kb := keyboard([][]chat.Button{
		{{Text: "12", Data: "verify_1_12"}, {Text: "13", Data: "verify_1_13"}},
		{{Text: "Open", URL: "https://example.com/wheel"}},
	})
	if len(kb.InlineKeyboard) != 2 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected layout %+v", kb.InlineKeyboard)
	}
	if d := kb.InlineKeyboard[0][1].CallbackData; d == nil || *d != "verify_1_13" {
		t.Fatalf("unexpected callback data %v", d)
	}
	if u := kb.InlineKeyboard[1][0].URL; u == nil || *u != "https://example.com/wheel" {
		t.Fatalf("unexpected url %v", u)
	}
}
