// Package core provides the always-on commands: /start, /help and /ping.
package core

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"riakmaw/internal/command"
	"riakmaw/internal/i18n"
	"riakmaw/internal/plugin"
	"riakmaw/internal/telegram"
)

// Name is the plugin name.
const Name = "core"

type pluginLister interface {
	Plugins() []plugin.Plugin
	Get(name string) (plugin.Plugin, bool)
}

type selfProvider interface {
	Self(ctx context.Context) (*models.User, error)
}

// Plugin implements the core commands.
type Plugin struct {
	plugins pluginLister
	self    selfProvider
	tr      i18n.Translator
	now     func() time.Time
}

// New builds the core plugin.
func New(plugins pluginLister, self selfProvider, tr i18n.Translator) *Plugin {
	return &Plugin{
		plugins: plugins,
		self:    self,
		tr:      tr,
		now:     time.Now,
	}
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Commands returns the start, help and ping commands.
func (p *Plugin) Commands() []*command.Command {
	return []*command.Command{
		{
			Name:        "start",
			Description: "Greet the bot",
			Handler:     p.start,
		},
		{
			Name:        "help",
			Description: "List modules or show the help of one",
			Params:      []command.Param{{Name: "module", Optional: true}},
			Handler:     p.help,
		},
		{
			Name:        "ping",
			Description: "Measure the response time",
			Handler:     p.ping,
		},
	}
}

func (p *Plugin) start(ctx context.Context, c *command.Context) (string, error) {
	chatID := c.Chat().ID
	if c.Chat().Type != models.ChatTypePrivate {
		return p.tr.Text(chatID, "start-group"), nil
	}

	me, err := p.self.Self(ctx)
	if err != nil {
		return "", err
	}

	name := "there"
	if author := c.Author(); author != nil {
		name = author.FirstName
	}
	return p.tr.Text(chatID, "start-private", name, me.FirstName), nil
}

func (p *Plugin) help(ctx context.Context, c *command.Context) (string, error) {
	chatID := c.Chat().ID

	if module := strings.ToLower(c.String("module")); module != "" {
		found, ok := p.plugins.Get(module)
		if !ok {
			_, err := c.Respond(ctx, p.tr.Text(chatID, "help-unknown", html.EscapeString(module)), telegram.WithHTML())
			return "", err
		}

		helper, ok := found.(plugin.Helper)
		if !ok || strings.TrimSpace(helper.Help()) == "" {
			_, err := c.Respond(ctx, p.tr.Text(chatID, "help-none", html.EscapeString(module)), telegram.WithHTML())
			return "", err
		}

		return helper.Help(), nil
	}

	var names []string
	for _, pl := range p.plugins.Plugins() {
		if _, ok := pl.(plugin.Helper); ok {
			names = append(names, pl.Name())
		}
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(p.tr.Text(chatID, "help-header"))
	b.WriteString("\n")
	for _, name := range names {
		fmt.Fprintf(&b, "\n• <code>%s</code>", html.EscapeString(name))
	}

	_, err := c.Respond(ctx, b.String(), telegram.WithHTML())
	return "", err
}

func (p *Plugin) ping(ctx context.Context, c *command.Context) (string, error) {
	chatID := c.Chat().ID
	started := p.now()

	if _, err := c.Respond(ctx, p.tr.Text(chatID, "ping-pinging")); err != nil {
		return "", err
	}

	elapsed := p.now().Sub(started).Milliseconds()
	_, err := c.Respond(ctx, p.tr.Text(chatID, "ping-pong", elapsed), telegram.WithHTML())
	return "", err
}
