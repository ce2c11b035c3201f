// Package users records the users and chats the bot meets and shows what it
// knows about a user.
package users

import (
	"context"
	"errors"
	"html"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"riakmaw/internal/command"
	"riakmaw/internal/domain"
	"riakmaw/internal/event"
	"riakmaw/internal/i18n"
	"riakmaw/internal/logging"
	"riakmaw/internal/telegram"
)

// Name is the plugin name.
const Name = "users"

// trackPriority runs the tracker ahead of default listeners.
const trackPriority = 50

type userFinder interface {
	GetByID(ctx context.Context, userID int64) (domain.User, error)
}

type selfProvider interface {
	Self(ctx context.Context) (*models.User, error)
}

// Plugin tracks users and chats.
type Plugin struct {
	registrar *Registrar
	finder    userFinder
	self      selfProvider
	tr        i18n.Translator
	logger    *logrus.Entry
}

// New builds the users plugin.
func New(registrar *Registrar, finder userFinder, self selfProvider, tr i18n.Translator, logger *logrus.Entry) *Plugin {
	return &Plugin{
		registrar: registrar,
		finder:    finder,
		self:      self,
		tr:        tr,
		logger:    logging.ForPlugin(logger, Name),
	}
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Help describes the commands of the plugin.
func (p *Plugin) Help() string { return p.tr.Text(0, "users-help") }

// Commands returns the user and chat tracking commands.
func (p *Plugin) Commands() []*command.Command {
	return []*command.Command{{
		Name:        "info",
		Description: "Show what the bot knows about a user",
		Params:      []command.Param{{Name: "user_id", Kind: command.KindInt, Optional: true}},
		Handler:     p.info,
	}}
}

// Listeners returns the event listeners of the plugin.
func (p *Plugin) Listeners() []event.Listener {
	return []event.Listener{
		{Event: event.Message, Priority: trackPriority, Handler: p.onMessage},
		{Event: event.CallbackQuery, Priority: trackPriority, Handler: p.onCallback},
		{Event: event.ChatAction, Handler: p.onChatAction},
		{Event: event.ChatMigrate, Handler: p.onMigrate},
	}
}

func (p *Plugin) onMessage(ctx context.Context, ev *event.Event) error {
	msg := ev.Message
	group := isGroup(msg.Chat)

	var userID int64
	if msg.From != nil && !msg.From.IsBot {
		var groupID int64
		if group {
			groupID = msg.Chat.ID
		}
		if _, err := p.registrar.EnsureUser(ctx, msg.From, groupID); err != nil {
			return err
		}
		userID = msg.From.ID
	}

	if group {
		if _, err := p.registrar.EnsureChat(ctx, msg.Chat, userID); err != nil {
			return err
		}
	}

	return nil
}

func (p *Plugin) onCallback(ctx context.Context, ev *event.Event) error {
	from := ev.CallbackQuery.From
	if from.ID == 0 || from.IsBot {
		return nil
	}

	_, err := p.registrar.EnsureUser(ctx, &from, 0)
	return err
}

func (p *Plugin) onChatAction(ctx context.Context, ev *event.Event) error {
	msg := ev.Message
	if !isGroup(msg.Chat) {
		return nil
	}

	if left := msg.LeftChatMember; left != nil {
		me, err := p.self.Self(ctx)
		if err != nil {
			return err
		}
		if left.ID == me.ID {
			return p.registrar.ForgetChat(ctx, msg.Chat.ID)
		}
		return p.registrar.RemoveMember(ctx, msg.Chat.ID, left.ID)
	}

	for i := range msg.NewChatMembers {
		member := &msg.NewChatMembers[i]
		if member.IsBot {
			continue
		}
		if _, err := p.registrar.EnsureUser(ctx, member, msg.Chat.ID); err != nil {
			return err
		}
		if _, err := p.registrar.EnsureChat(ctx, msg.Chat, member.ID); err != nil {
			return err
		}
	}

	return nil
}

func (p *Plugin) onMigrate(ctx context.Context, ev *event.Event) error {
	return p.registrar.Migrate(ctx, ev.Message.MigrateFromChatID, ev.Message.Chat.ID)
}

func (p *Plugin) info(ctx context.Context, c *command.Context) (string, error) {
	chatID := c.Chat().ID

	userID := c.Int("user_id")
	if userID == 0 {
		switch {
		case c.Message.ReplyToMessage != nil && c.Message.ReplyToMessage.From != nil:
			userID = c.Message.ReplyToMessage.From.ID
		case c.Author() != nil:
			userID = c.Author().ID
		default:
			return p.tr.Text(chatID, "info-not-found"), nil
		}
	}

	user, err := p.finder.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return p.tr.Text(chatID, "info-not-found"), nil
	}
	if err != nil {
		return "", err
	}

	username := "-"
	if user.Username != "" {
		username = "@" + user.Username
	}

	text := p.tr.Text(chatID, "info-user",
		user.UserID,
		html.EscapeString(user.Name),
		html.EscapeString(username),
		len(user.Chats),
		lastSeen(user.LastSeenAt),
	)

	_, err = c.Respond(ctx, text, telegram.WithHTML())
	return "", err
}

func lastSeen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func isGroup(chat models.Chat) bool {
	return chat.Type == models.ChatTypeGroup || chat.Type == models.ChatTypeSupergroup
}
