// Package event fans Telegram updates and bot lifecycle signals out to plugin
// listeners in priority order.
package event

import (
	"context"
	"errors"
	"time"

	"github.com/go-telegram/bot/models"
)

// Name identifies an event.
type Name string

// Lifecycle events; listeners on these never carry filters.
const (
	Load    Name = "load"
	Start   Name = "start"
	Started Name = "started"
	Stop    Name = "stop"
	Stopped Name = "stopped"
)

// Update and internal events.
const (
	Message          Name = "message"
	EditedMessage    Name = "edited_message"
	ChatAction       Name = "chat_action"
	ChatMigrate      Name = "chat_migrate"
	CallbackQuery    Name = "callback_query"
	InlineQuery      Name = "inline_query"
	ChatMemberUpdate Name = "chat_member_update"
	Command          Name = "command"
	Stat             Name = "stat"
)

// IsLifecycle reports whether n is one of the lifecycle events.
func (n Name) IsLifecycle() bool {
	switch n {
	case Load, Start, Started, Stop, Stopped:
		return true
	default:
		return false
	}
}

// DefaultPriority is used when a listener leaves Priority at zero.
const DefaultPriority = 100

// ErrStopPropagation ends a dispatch after the returning listener.
var ErrStopPropagation = errors.New("stop propagation")

// Invocation describes a finished command run.
type Invocation struct {
	Command string
	Plugin  string
	Invoker string
	ChatID  int64
	UserID  int64
	Input   string
	Err     error
}

// StatValue is a counter delta reported through the stat event.
type StatValue struct {
	Key   string
	Value int64
}

// Event is the payload handed to listeners. Only the fields relevant to Name are set.
type Event struct {
	Name          Name
	Update        *models.Update
	Message       *models.Message
	CallbackQuery *models.CallbackQuery
	InlineQuery   *models.InlineQuery
	ChatMember    *models.ChatMemberUpdated
	Invocation    *Invocation
	Stat          *StatValue
	Time          time.Time

	// Matches holds the submatches of the listener's Regex filter.
	Matches []string
}

// ChatID returns the chat the event happened in, zero when unknown.
func (e *Event) ChatID() int64 {
	switch {
	case e.Message != nil:
		return e.Message.Chat.ID
	case e.CallbackQuery != nil && e.CallbackQuery.Message.Message != nil:
		return e.CallbackQuery.Message.Message.Chat.ID
	case e.CallbackQuery != nil && e.CallbackQuery.Message.InaccessibleMessage != nil:
		return e.CallbackQuery.Message.InaccessibleMessage.Chat.ID
	case e.ChatMember != nil:
		return e.ChatMember.Chat.ID
	case e.Invocation != nil:
		return e.Invocation.ChatID
	default:
		return 0
	}
}

// HandlerFunc reacts to an event.
type HandlerFunc func(ctx context.Context, ev *Event) error

// FilterFunc decides whether a listener sees an event.
type FilterFunc func(ctx context.Context, ev *Event) (bool, error)

// Listener binds a handler to an event name.
type Listener struct {
	Event    Name
	Plugin   string
	Priority int
	Filter   FilterFunc
	Handler  HandlerFunc
}
