package filters

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot/models"

	"riakmaw/internal/command"
)

// Privilege checks a single administrator right.
type Privilege func(admin *models.ChatMemberAdministrator) bool

var (
	ChangeInfo      Privilege = func(a *models.ChatMemberAdministrator) bool { return a.CanChangeInfo }
	PinMessages     Privilege = func(a *models.ChatMemberAdministrator) bool { return a.CanPinMessages }
	DeleteMessages  Privilege = func(a *models.ChatMemberAdministrator) bool { return a.CanDeleteMessages }
	RestrictMembers Privilege = func(a *models.ChatMemberAdministrator) bool { return a.CanRestrictMembers }
)

// Admin passes messages from chat administrators, including anonymous ones.
func Admin(members Members) command.FilterFunc {
	return HasPrivilege(members, nil)
}

// CanChangeInfo passes administrators allowed to edit the chat info.
func CanChangeInfo(members Members) command.FilterFunc {
	return HasPrivilege(members, ChangeInfo)
}

// CanPin passes administrators allowed to pin messages.
func CanPin(members Members) command.FilterFunc {
	return HasPrivilege(members, PinMessages)
}

// HasPrivilege passes the chat creator and administrators holding privilege.
// A nil privilege only requires administrator status. Messages sent on behalf
// of the group itself come from an anonymous administrator and pass.
func HasPrivilege(members Members, privilege Privilege) command.FilterFunc {
	return func(ctx context.Context, msg *models.Message) (bool, error) {
		if msg.Chat.Type == models.ChatTypePrivate {
			return false, nil
		}
		if msg.SenderChat != nil && msg.SenderChat.ID == msg.Chat.ID {
			return true, nil
		}
		if msg.From == nil {
			return false, nil
		}

		return MemberHas(ctx, members, msg.Chat.ID, msg.From.ID, privilege)
	}
}

// MemberHas reports whether userID is the creator of chatID or an
// administrator holding privilege.
func MemberHas(ctx context.Context, members Members, chatID, userID int64, privilege Privilege) (bool, error) {
	member, err := members.ChatMember(ctx, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("check privilege of %d in %d: %w", userID, chatID, err)
	}

	switch {
	case member == nil:
		return false, nil
	case member.Type == models.ChatMemberTypeOwner:
		return true, nil
	case member.Type == models.ChatMemberTypeAdministrator && member.Administrator != nil:
		return privilege == nil || privilege(member.Administrator), nil
	default:
		return false, nil
	}
}
