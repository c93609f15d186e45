// Package chat holds the platform-neutral view of a group chat: inbound events,
// inline buttons and the Messenger the bot drives.
package chat

import (
	"context"
	"strings"
	"time"
)

// Member statuses as reported by the platform.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
	StatusRestricted    = "restricted"
	StatusLeft          = "left"
	StatusKicked        = "kicked"
)

// User identifies a chat participant.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	IsBot     bool
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Mention returns a display handle for messages.
func (u User) Mention() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if name := u.FullName(); name != "" {
		return name
	}
	return "user"
}

// Message is an inbound group message.
type Message struct {
	ID           int
	ChatID       int64
	From         User
	Text         string
	Command      string
	Args         string
	MediaGroupID string
	HasMedia     bool
	NewMembers   []User
	Date         time.Time
}

// IsCommand reports whether the message is a bot command.
func (m Message) IsCommand() bool {
	return m.Command != ""
}

// Callback is a press on an inline button.
type Callback struct {
	ID        string
	From      User
	ChatID    int64
	MessageID int
	Data      string
}

// MemberUpdate reports a change of a member's status in a chat. The IsMember flags
// only matter for the restricted status.
type MemberUpdate struct {
	ChatID      int64
	User        User
	OldStatus   string
	OldIsMember bool
	NewStatus   string
	IsMember    bool
	InviteLink  string
}

// Joined reports whether the update is a real entry into the chat: the user was absent
// before and is present now. Status changes of members who never left return false.
func (u MemberUpdate) Joined() bool {
	return !present(u.OldStatus, u.OldIsMember) && present(u.NewStatus, u.IsMember)
}

func present(status string, isMember bool) bool {
	switch status {
	case StatusCreator, StatusAdministrator, StatusMember:
		return true
	case StatusRestricted:
		return isMember
	}
	return false
}

// Button is an inline keyboard button. Exactly one of Data and URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Messenger is the set of platform side effects the bot uses.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	SendKeyboard(ctx context.Context, chatID int64, text string, rows [][]Button) (int, error)
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// Restrict mutes a member; a zero until means until lifted.
	Restrict(ctx context.Context, chatID, userID int64, until time.Time) error
	Unrestrict(ctx context.Context, chatID, userID int64) error
	// Kick removes a member without banning them for good.
	Kick(ctx context.Context, chatID, userID int64) error
	CreateInviteLink(ctx context.Context, chatID int64, name string) (string, error)
	ChatAdministrators(ctx context.Context, chatID int64) ([]int64, error)
}

// Handler receives inbound events.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message)
	HandleCallback(ctx context.Context, cb Callback)
	HandleMemberUpdate(ctx context.Context, upd MemberUpdate)
}
