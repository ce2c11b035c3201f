// Package filters provides reusable command filters: chat type, staff roles
// and chat administrator privileges.
package filters

import (
	"context"

	"github.com/go-telegram/bot/models"

	"riakmaw/internal/command"
)

// Roles answers staff questions about a user.
type Roles interface {
	IsOwner(userID int64) bool
	IsDev(userID int64) bool
	IsStaff(userID int64) bool
}

// Members looks up chat membership.
type Members interface {
	ChatMember(ctx context.Context, chatID, userID int64) (*models.ChatMember, error)
}

// Private passes messages sent in a private chat.
func Private() command.FilterFunc {
	return func(_ context.Context, msg *models.Message) (bool, error) {
		return msg.Chat.Type == models.ChatTypePrivate, nil
	}
}

// Group passes messages sent in groups and supergroups.
func Group() command.FilterFunc {
	return func(_ context.Context, msg *models.Message) (bool, error) {
		return msg.Chat.Type == models.ChatTypeGroup || msg.Chat.Type == models.ChatTypeSupergroup, nil
	}
}

// OwnerOnly passes messages from the bot owner.
func OwnerOnly(roles Roles) command.FilterFunc {
	return senderRole(roles.IsOwner)
}

// DevOnly passes messages from developers and the owner.
func DevOnly(roles Roles) command.FilterFunc {
	return senderRole(roles.IsDev)
}

// StaffOnly passes messages from any staff member, developers and the owner included.
func StaffOnly(roles Roles) command.FilterFunc {
	return senderRole(roles.IsStaff)
}

func senderRole(check func(int64) bool) command.FilterFunc {
	return func(_ context.Context, msg *models.Message) (bool, error) {
		if msg.From == nil {
			return false, nil
		}
		return check(msg.From.ID), nil
	}
}

// And passes when every filter passes. It stops at the first rejection.
func And(filters ...command.FilterFunc) command.FilterFunc {
	return func(ctx context.Context, msg *models.Message) (bool, error) {
		for _, f := range filters {
			ok, err := f(ctx, msg)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Or passes when any filter passes.
func Or(filters ...command.FilterFunc) command.FilterFunc {
	return func(ctx context.Context, msg *models.Message) (bool, error) {
		for _, f := range filters {
			ok, err := f(ctx, msg)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Not inverts f. Errors from f are passed through.
func Not(f command.FilterFunc) command.FilterFunc {
	return func(ctx context.Context, msg *models.Message) (bool, error) {
		ok, err := f(ctx, msg)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}
