// Package bot is the composition root: it owns the dispatchers, the plugin
// manager and the alert notifier, routes Telegram updates and runs the
// lifecycle.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"riakmaw/internal/alert"
	"riakmaw/internal/command"
	"riakmaw/internal/config"
	"riakmaw/internal/event"
	"riakmaw/internal/logging"
	"riakmaw/internal/plugin"
	"riakmaw/internal/ratelimit"
	"riakmaw/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

// Sender is the outgoing Telegram surface the bot itself needs.
type Sender interface {
	command.Responder
	Self(ctx context.Context) (*models.User, error)
	Send(ctx context.Context, chatID int64, text string, opts ...telegram.SendOption) (*models.Message, error)
}

// Poller delivers updates until its context ends. Start returns once every
// delivered update was handled, so plugins stop after the last handler.
type Poller interface {
	Handle(h telegram.UpdateHandler)
	Start(ctx context.Context)
}

// StaffLoader refreshes the staff roles on startup.
type StaffLoader interface {
	Load(ctx context.Context) error
}

// Deps are the collaborators built by main.
type Deps struct {
	Config config.Config
	Logger *logrus.Entry
	Sender Sender
	Poller Poller
	Staff  StaffLoader
}

// Bot wires commands, events and plugins together.
type Bot struct {
	cfg    config.Config
	logger *logrus.Entry
	sender Sender
	poller Poller
	staff  StaffLoader

	alerts   *alert.Notifier
	events   *event.Dispatcher
	commands *command.Dispatcher
	plugins  *plugin.Manager

	mu        sync.RWMutex
	startedAt time.Time
}

// New builds the dispatchers and the plugin manager around deps.
func New(deps Deps) (*Bot, error) {
	if deps.Sender == nil {
		return nil, errors.New("telegram sender is required")
	}
	if deps.Poller == nil {
		return nil, errors.New("telegram poller is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Logger()
	}

	b := &Bot{
		cfg:    deps.Config,
		logger: deps.Logger,
		sender: deps.Sender,
		poller: deps.Poller,
		staff:  deps.Staff,
	}

	chatID, threadID, _ := deps.Config.AlertTarget()
	b.alerts = alert.NewNotifier(deps.Sender, chatID, threadID, deps.Config.Secrets(), deps.Logger)
	b.events = event.NewDispatcher(deps.Logger, b.alerts)

	rateTTL, rateMax := deps.Config.CommandRateTTL, deps.Config.CommandRateMax
	if rateTTL <= 0 {
		rateTTL = config.DefaultCommandRateTTL
	}
	if rateMax <= 0 {
		rateMax = config.DefaultCommandRateMax
	}

	commands, err := command.NewDispatcher(command.Options{
		Limiter:   ratelimit.New(rateTTL, rateMax),
		Responder: deps.Sender,
		Alerts:    b.alerts,
		Events:    b.events,
		Logger:    deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init command dispatcher: %w", err)
	}
	b.commands = commands

	b.plugins = plugin.NewManager(b.commands, b.events, deps.Logger)

	return b, nil
}

// LoadPlugins loads plugins in order, skipping the ones disabled through
// PLUGIN_FLAG, then dispatches the load event. A name collision aborts
// loading; any other plugin failure is logged, alerted and skipped.
func (b *Bot) LoadPlugins(ctx context.Context, plugins ...plugin.Plugin) error {
	for _, p := range plugins {
		name := p.Name()
		logger := logging.ForPlugin(b.logger, name)

		if b.cfg.PluginDisabled(name) {
			logger.WithField("event", "plugin_disabled").Info("plugin disabled by flag")
			continue
		}

		if err := b.plugins.Load(ctx, p); err != nil {
			if errors.Is(err, plugin.ErrPluginExists) || errors.Is(err, command.ErrCommandExists) {
				return err
			}

			logger.WithField("event", "plugin_load_error").WithError(err).Error("plugin failed to load")
			b.alerts.Notify(ctx, name+" (load)", err)
		}
	}

	return b.events.Dispatch(ctx, &event.Event{Name: event.Load, Time: time.Now()})
}

// HandleUpdate runs the command pipeline for plain messages and then always
// dispatches the update's event.
func (b *Bot) HandleUpdate(ctx context.Context, update *models.Update) {
	name, ok := telegram.Classify(update)
	if !ok {
		return
	}

	if name == event.Message {
		if m, matched := b.commands.Match(ctx, update.Message); matched {
			b.commands.Invoke(ctx, m)
		}
	}

	if err := b.events.Dispatch(ctx, telegram.NewEvent(name, update)); err != nil {
		b.logger.WithFields(logging.Fields{
			"event":      "update_dispatch_error",
			"event_name": string(name),
		}).WithError(err).Debug("update dispatch interrupted")
	}
}

// LogStat reports a counter delta to the stat listeners.
func (b *Bot) LogStat(ctx context.Context, key string, value int64) {
	if err := b.events.Dispatch(ctx, &event.Event{
		Name: event.Stat,
		Stat: &event.StatValue{Key: key, Value: value},
		Time: time.Now(),
	}); err != nil {
		b.logger.WithField("event", "stat_dispatch_error").WithError(err).Debug("stat dispatch interrupted")
	}
}

// Run starts the plugins, polls Telegram until ctx is done and then stops
// everything again.
func (b *Bot) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	me, err := b.sender.Self(ctx)
	if err != nil {
		return fmt.Errorf("identify bot: %w", err)
	}
	b.commands.SetUsername(me.Username)

	if b.staff != nil {
		if err := b.staff.Load(ctx); err != nil {
			b.logger.WithField("event", "staff_load_error").WithError(err).Warn("staff roles not loaded, only the owner is known")
		}
	}

	startedAt := time.Now()
	b.mu.Lock()
	b.startedAt = startedAt
	b.mu.Unlock()

	if err := b.plugins.StartAll(ctx, startedAt); err != nil {
		b.logger.WithField("event", "plugin_start_error").WithError(err).Error("some plugins failed to start")
		b.alerts.Notify(ctx, "plugin startup", err)
	}

	b.dispatchLifecycle(ctx, event.Start, startedAt)
	b.dispatchLifecycle(ctx, event.Started, startedAt)

	b.logger.WithFields(logging.Fields{
		"event":    "bot_started",
		"username": me.Username,
		"plugins":  len(b.plugins.Plugins()),
		"commands": b.commands.Len(),
	}).Info("bot started")

	b.poller.Handle(b)
	b.poller.Start(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	b.dispatchLifecycle(stopCtx, event.Stop, time.Now())
	if err := b.plugins.StopAll(stopCtx); err != nil {
		b.logger.WithField("event", "plugin_stop_error").WithError(err).Error("some plugins failed to stop")
	}
	b.dispatchLifecycle(stopCtx, event.Stopped, time.Now())

	b.logger.WithField("event", "bot_stopped").Info("bot stopped")
	return nil
}

func (b *Bot) dispatchLifecycle(ctx context.Context, name event.Name, at time.Time) {
	if err := b.events.Dispatch(ctx, &event.Event{Name: name, Time: at}); err != nil {
		b.logger.WithFields(logging.Fields{
			"event":      "lifecycle_dispatch_error",
			"event_name": string(name),
		}).WithError(err).Warn("lifecycle event interrupted")
	}
}

// Commands returns the command dispatcher.
func (b *Bot) Commands() *command.Dispatcher { return b.commands }

// Events returns the event dispatcher.
func (b *Bot) Events() *event.Dispatcher { return b.events }

// Plugins returns the plugin manager.
func (b *Bot) Plugins() *plugin.Manager { return b.plugins }

// Alerts returns the alert notifier.
func (b *Bot) Alerts() *alert.Notifier { return b.alerts }

// StartedAt returns when Run started the plugins, zero before that.
func (b *Bot) StartedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.startedAt
}

// PluginCount and CommandCount feed the health endpoint.
func (b *Bot) PluginCount() int { return len(b.plugins.Plugins()) }

// CommandCount reports how many distinct commands are registered.
func (b *Bot) CommandCount() int { return b.commands.Len() }
