package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"riakmaw/internal/config"
	"riakmaw/internal/event"
	"riakmaw/internal/logging"
	"riakmaw/internal/ratelimit"
)

// Alerter reports command failures to the operators.
type Alerter interface {
	Notify(ctx context.Context, invoker string, err error) string
}

// Emitter receives the command event after every invocation.
type Emitter interface {
	Dispatch(ctx context.Context, ev *event.Event) error
}

// Options configures a Dispatcher. Only Responder is mandatory.
type Options struct {
	Limiter   *ratelimit.Limiter
	Responder Responder
	Alerts    Alerter
	Events    Emitter
	Logger    *logrus.Entry
}

// Dispatcher owns the command map and runs matched commands.
type Dispatcher struct {
	mu       sync.RWMutex
	commands map[string]*Command
	username string

	limiter   *ratelimit.Limiter
	responder Responder
	alerts    Alerter
	events    Emitter
	logger    *logrus.Entry
}

// NewDispatcher builds a dispatcher with an empty command map.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Responder == nil {
		return nil, errors.New("command responder is required")
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(config.DefaultCommandRateTTL, config.DefaultCommandRateMax)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger()
	}

	return &Dispatcher{
		commands:  make(map[string]*Command),
		limiter:   opts.Limiter,
		responder: opts.Responder,
		alerts:    opts.Alerts,
		events:    opts.Events,
		logger:    opts.Logger,
	}, nil
}

// SetUsername sets the bot username accepted after the command token.
func (d *Dispatcher) SetUsername(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.username = strings.TrimPrefix(strings.TrimSpace(username), "@")
}

// Username returns the bot username used for matching.
func (d *Dispatcher) Username() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.username
}

// Register adds cmd under its name and aliases. Nothing is added when any key
// is taken.
func (d *Dispatcher) Register(cmd *Command) error {
	if cmd == nil {
		return errors.New("command is required")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %q has no handler", cmd.Name)
	}
	if err := validateParams(cmd.Params); err != nil {
		return fmt.Errorf("command %q: %w", cmd.Name, err)
	}

	keys := cmd.Keys()
	for _, key := range keys {
		if key == "" || strings.IndexFunc(key, unicode.IsSpace) >= 0 {
			return fmt.Errorf("invalid command name %q", key)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if _, taken := d.commands[key]; taken || seen[key] {
			return fmt.Errorf("%w: %s", ErrCommandExists, key)
		}
		seen[key] = true
	}

	for _, key := range keys {
		d.commands[key] = cmd
	}

	return nil
}

// RegisterPlugin registers every command of plugin. When one fails, the
// commands registered by this call are removed again.
func (d *Dispatcher) RegisterPlugin(plugin string, cmds []*Command) error {
	added := make([]*Command, 0, len(cmds))

	for _, cmd := range cmds {
		if cmd != nil {
			cmd.Plugin = plugin
		}

		if err := d.Register(cmd); err != nil {
			for _, c := range added {
				d.remove(c)
			}
			return fmt.Errorf("register commands of %s: %w", plugin, err)
		}

		added = append(added, cmd)
	}

	return nil
}

// Unregister removes the command owning key together with all its aliases.
func (d *Dispatcher) Unregister(key string) bool {
	d.mu.RLock()
	cmd, ok := d.commands[key]
	d.mu.RUnlock()

	if !ok {
		return false
	}

	d.remove(cmd)
	return true
}

// UnregisterPlugin removes every command of plugin and returns how many went away.
func (d *Dispatcher) UnregisterPlugin(plugin string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := make(map[*Command]bool)
	for key, cmd := range d.commands {
		if cmd.Plugin == plugin {
			delete(d.commands, key)
			removed[cmd] = true
		}
	}

	return len(removed)
}

func (d *Dispatcher) remove(cmd *Command) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, c := range d.commands {
		if c == cmd {
			delete(d.commands, key)
		}
	}
}

// Lookup resolves a name or alias.
func (d *Dispatcher) Lookup(key string) (*Command, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cmd, ok := d.commands[key]
	return cmd, ok
}

// Commands returns each registered command once, sorted by name.
func (d *Dispatcher) Commands() []*Command {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[*Command]bool, len(d.commands))
	out := make([]*Command, 0, len(d.commands))
	for _, cmd := range d.commands {
		if !seen[cmd] {
			seen[cmd] = true
			out = append(out, cmd)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Keys returns every registered name and alias, sorted.
func (d *Dispatcher) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.commands))
	for key := range d.commands {
		keys = append(keys, key)
	}

	sort.Strings(keys)
	return keys
}

// Len returns the number of distinct commands.
func (d *Dispatcher) Len() int {
	return len(d.Commands())
}

// Match is an accepted command message ready to be invoked.
type Match struct {
	Command  *Command
	Message  *models.Message
	Invoker  string
	Segments []string
	Text     string
}

// Match runs the command predicate against msg:
//
//   - messages relayed through inline bots, posted in channels or echoed from a
//     linked channel are ignored;
//   - the message text must start with Prefix, captions never do;
//   - senders over the rate limit are ignored silently, every other prefixed
//     message counts against the limit whether it matches or not;
//   - the first word minus the prefix and an optional @username must exactly
//     equal a registered name or alias;
//   - the command filter, if any, must pass.
func (d *Dispatcher) Match(ctx context.Context, msg *models.Message) (*Match, bool) {
	if msg == nil || isRelayed(msg) {
		return nil, false
	}

	text := msg.Text
	if !strings.HasPrefix(text, Prefix) {
		return nil, false
	}

	sender := senderKey(msg)
	if !d.limiter.Allow(sender) {
		d.logger.WithFields(logging.Fields{
			"event":   "command_rate_limited",
			"user_id": sender,
			"chat_id": msg.Chat.ID,
		}).Debug("command ignored, sender over rate limit")
		return nil, false
	}

	segments := strings.Fields(text)
	token := strings.TrimPrefix(segments[0], Prefix)
	if username := d.Username(); username != "" {
		token = strings.TrimSuffix(token, "@"+username)
	}

	cmd, ok := d.Lookup(token)
	if !ok {
		return nil, false
	}

	if cmd.Filter != nil {
		passed, err := cmd.Filter(ctx, msg)
		if err != nil {
			d.logger.WithFields(logging.Fields{
				"event":   "command_filter_error",
				"command": cmd.Name,
				"plugin":  cmd.Plugin,
				"chat_id": msg.Chat.ID,
			}).WithError(err).Warn("command filter failed")
			return nil, false
		}
		if !passed {
			return nil, false
		}
	}

	return &Match{
		Command:  cmd,
		Message:  msg,
		Invoker:  token,
		Segments: segments,
		Text:     text,
	}, true
}

func isRelayed(msg *models.Message) bool {
	if msg.ViaBot != nil {
		return true
	}
	if msg.Chat.Type == models.ChatTypeChannel {
		return true
	}
	if msg.SenderChat != nil && msg.ForwardOrigin != nil && msg.ForwardOrigin.MessageOriginChannel != nil {
		return msg.ForwardOrigin.MessageOriginChannel.Chat.ID == msg.SenderChat.ID
	}
	return false
}

func senderKey(msg *models.Message) int64 {
	switch {
	case msg.From != nil:
		return msg.From.ID
	case msg.SenderChat != nil:
		return msg.SenderChat.ID
	default:
		return msg.Chat.ID
	}
}
