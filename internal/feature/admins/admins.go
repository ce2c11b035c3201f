// Package admins provides chat administration commands and the bot staff
// listing and management command.
package admins

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"riakmaw/internal/command"
	"riakmaw/internal/domain"
	"riakmaw/internal/event"
	"riakmaw/internal/filters"
	"riakmaw/internal/i18n"
	"riakmaw/internal/logging"
	"riakmaw/internal/staff"
	"riakmaw/internal/telegram"
)

// Name is the plugin name.
const Name = "admins"

// AdminListTTL is how long a chat's administrator list is reused.
const AdminListTTL = time.Minute

type chatAdmin interface {
	filters.Members
	ChatAdministrators(ctx context.Context, chatID int64) ([]models.ChatMember, error)
	Pin(ctx context.Context, chatID int64, messageID int, silent bool) error
	Unpin(ctx context.Context, chatID int64, messageID int) error
	UnpinAll(ctx context.Context, chatID int64) error
}

type staffRoles interface {
	filters.Roles
	Owner() int64
	Set(userID int64, role string)
	Snapshot() staff.Snapshot
}

type roleWriter interface {
	SetRole(ctx context.Context, userID int64, role string) error
}

// Plugin implements the admin commands.
type Plugin struct {
	api    chatAdmin
	roles  staffRoles
	writer roleWriter
	tr     i18n.Translator
	logger *logrus.Entry
	admins *gocache.Cache
}

// New builds the admins plugin.
func New(api chatAdmin, roles staffRoles, writer roleWriter, tr i18n.Translator, logger *logrus.Entry) *Plugin {
	return &Plugin{
		api:    api,
		roles:  roles,
		writer: writer,
		tr:     tr,
		logger: logging.ForPlugin(logger, Name),
		admins: gocache.New(AdminListTTL, 2*AdminListTTL),
	}
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Help describes the commands of the plugin.
func (p *Plugin) Help() string { return p.tr.Text(0, "admins-help") }

// Commands returns the chat administration commands.
func (p *Plugin) Commands() []*command.Command {
	pinners := filters.And(filters.Group(), filters.CanPin(p.api))

	return []*command.Command{
		{
			Name:        "adminlist",
			Aliases:     []string{"admins"},
			Description: "List the chat administrators",
			Filter:      filters.Group(),
			Handler:     p.adminList,
		},
		{
			Name:        "pin",
			Description: "Pin the replied message",
			Params:      []command.Param{{Name: "mode", Optional: true}},
			Filter:      pinners,
			Handler:     p.pin,
		},
		{
			Name:        "unpin",
			Description: "Unpin the latest or every pinned message",
			Params:      []command.Param{{Name: "scope", Optional: true}},
			Filter:      pinners,
			Handler:     p.unpin,
		},
		{
			Name:        "staff",
			Description: "Show or change the bot staff",
			Params: []command.Param{
				{Name: "action", Optional: true},
				{Name: "user_id", Kind: command.KindInt, Optional: true},
			},
			Filter:  filters.And(filters.StaffOnly(p.roles), filters.Not(filters.Group())),
			Handler: p.staff,
		},
	}
}

// Listeners returns the event listeners of the plugin.
func (p *Plugin) Listeners() []event.Listener {
	return []event.Listener{
		{Event: event.ChatMemberUpdate, Handler: p.onMemberUpdate},
	}
}

// Administrators returns the administrators of chatID, cached for AdminListTTL.
func (p *Plugin) Administrators(ctx context.Context, chatID int64) ([]models.ChatMember, error) {
	key := strconv.FormatInt(chatID, 10)
	if cached, ok := p.admins.Get(key); ok {
		return cached.([]models.ChatMember), nil
	}

	admins, err := p.api.ChatAdministrators(ctx, chatID)
	if err != nil {
		return nil, err
	}

	p.admins.SetDefault(key, admins)
	return admins, nil
}

func (p *Plugin) onMemberUpdate(_ context.Context, ev *event.Event) error {
	if ev.ChatMember == nil {
		return nil
	}

	p.admins.Delete(strconv.FormatInt(ev.ChatMember.Chat.ID, 10))
	return nil
}

func (p *Plugin) adminList(ctx context.Context, c *command.Context) (string, error) {
	chat := c.Chat()

	admins, err := p.Administrators(ctx, chat.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(p.tr.Text(chat.ID, "adminlist-header", html.EscapeString(chat.Title)))

	for _, member := range admins {
		user, anonymous, owner := adminInfo(member)
		if user == nil {
			continue
		}

		b.WriteString("\n• ")
		if anonymous {
			b.WriteString("<i>" + p.tr.Text(chat.ID, "adminlist-anonymous") + "</i>")
		} else {
			fmt.Fprintf(&b, `<a href="tg://user?id=%d">%s</a>`, user.ID, html.EscapeString(fullName(user)))
		}
		if owner {
			b.WriteString(" (" + p.tr.Text(chat.ID, "adminlist-owner") + ")")
		}
	}

	_, err = c.Respond(ctx, b.String(), telegram.WithHTML())
	return "", err
}

func (p *Plugin) pin(ctx context.Context, c *command.Context) (string, error) {
	chatID := c.Chat().ID

	reply := c.Message.ReplyToMessage
	if reply == nil {
		return p.tr.Text(chatID, "pin-need-reply"), nil
	}

	mode := strings.ToLower(c.String("mode"))
	silent := mode != "notify" && mode != "loud"

	if err := p.api.Pin(ctx, chatID, reply.ID, silent); err != nil {
		return "", err
	}

	return p.tr.Text(chatID, "pin-done"), nil
}

func (p *Plugin) unpin(ctx context.Context, c *command.Context) (string, error) {
	chatID := c.Chat().ID

	if strings.EqualFold(c.String("scope"), "all") {
		if err := p.api.UnpinAll(ctx, chatID); err != nil {
			return "", err
		}
		return p.tr.Text(chatID, "unpin-all-done"), nil
	}

	var messageID int
	if reply := c.Message.ReplyToMessage; reply != nil {
		messageID = reply.ID
	}
	if err := p.api.Unpin(ctx, chatID, messageID); err != nil {
		return "", err
	}

	return p.tr.Text(chatID, "unpin-done"), nil
}

var staffActions = map[string]string{
	"dev":    domain.RoleDev,
	"staff":  domain.RoleStaff,
	"remove": domain.RoleUser,
}

func (p *Plugin) staff(ctx context.Context, c *command.Context) (string, error) {
	chatID := c.Chat().ID

	action := strings.ToLower(c.String("action"))
	if action == "" {
		_, err := c.Respond(ctx, p.staffReport(chatID), telegram.WithHTML())
		return "", err
	}

	if author := c.Author(); author == nil || !p.roles.IsOwner(author.ID) {
		return p.tr.Text(chatID, "staff-owner-only"), nil
	}

	role, ok := staffActions[action]
	userID := c.Int("user_id")
	if !ok || userID == 0 {
		_, err := c.Respond(ctx, p.tr.Text(chatID, "staff-usage"), telegram.WithHTML())
		return "", err
	}
	if userID == p.roles.Owner() {
		return p.tr.Text(chatID, "staff-owner-locked"), nil
	}

	if err := p.writer.SetRole(ctx, userID, role); err != nil {
		return "", err
	}
	p.roles.Set(userID, role)

	_, err := c.Respond(ctx, p.tr.Text(chatID, "staff-updated", userID, role), telegram.WithHTML())
	return "", err
}

func (p *Plugin) staffReport(chatID int64) string {
	snap := p.roles.Snapshot()

	lines := []string{
		p.tr.Text(chatID, "staff-header"),
		p.tr.Text(chatID, "staff-owner", idList(chatID, p.tr, []int64{snap.Owner})),
		p.tr.Text(chatID, "staff-devs", idList(chatID, p.tr, snap.Devs)),
		p.tr.Text(chatID, "staff-members", idList(chatID, p.tr, snap.Staff)),
	}
	return strings.Join(lines, "\n")
}

func idList(chatID int64, tr i18n.Translator, ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			parts = append(parts, fmt.Sprintf("<code>%d</code>", id))
		}
	}
	if len(parts) == 0 {
		return tr.Text(chatID, "staff-none")
	}
	return strings.Join(parts, ", ")
}

func adminInfo(member models.ChatMember) (user *models.User, anonymous, owner bool) {
	switch {
	case member.Owner != nil:
		return member.Owner.User, member.Owner.IsAnonymous, true
	case member.Administrator != nil:
		return &member.Administrator.User, member.Administrator.IsAnonymous, false
	default:
		return nil, false, false
	}
}

func fullName(user *models.User) string {
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}
