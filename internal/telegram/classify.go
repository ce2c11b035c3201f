package telegram

import (
	"github.com/go-telegram/bot/models"

	"riakmaw/internal/event"
)

// Classify maps an update to the event it is dispatched as. The service
// message a group receives when it becomes a supergroup is dropped; the
// supergroup's own migrate_from message carries the same information.
func Classify(update *models.Update) (event.Name, bool) {
	switch {
	case update == nil:
		return "", false
	case update.Message != nil:
		msg := update.Message
		switch {
		case msg.MigrateToChatID != 0:
			return "", false
		case msg.MigrateFromChatID != 0:
			return event.ChatMigrate, true
		case len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil:
			return event.ChatAction, true
		default:
			return event.Message, true
		}
	case update.EditedMessage != nil:
		return event.EditedMessage, true
	case update.CallbackQuery != nil:
		return event.CallbackQuery, true
	case update.InlineQuery != nil:
		return event.InlineQuery, true
	case update.MyChatMember != nil, update.ChatMember != nil:
		return event.ChatMemberUpdate, true
	default:
		return "", false
	}
}

// NewEvent builds the event payload for update.
func NewEvent(name event.Name, update *models.Update) *event.Event {
	ev := &event.Event{Name: name, Update: update}

	switch {
	case update.Message != nil:
		ev.Message = update.Message
	case update.EditedMessage != nil:
		ev.Message = update.EditedMessage
	case update.CallbackQuery != nil:
		ev.CallbackQuery = update.CallbackQuery
		ev.Message = update.CallbackQuery.Message.Message
	case update.InlineQuery != nil:
		ev.InlineQuery = update.InlineQuery
	case update.MyChatMember != nil:
		ev.ChatMember = update.MyChatMember
	case update.ChatMember != nil:
		ev.ChatMember = update.ChatMember
	}

	return ev
}
