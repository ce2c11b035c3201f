package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"riakmaw/internal/command"
	"riakmaw/internal/event"
	"riakmaw/internal/logging"
)

// ErrPluginExists is returned when a plugin name is loaded twice.
var ErrPluginExists = errors.New("plugin already loaded")

// ErrPluginNotFound is returned for names that were never loaded.
var ErrPluginNotFound = errors.New("plugin not found")

type commandRegistry interface {
	RegisterPlugin(plugin string, cmds []*command.Command) error
	UnregisterPlugin(plugin string) int
}

type listenerRegistry interface {
	RegisterPlugin(plugin string, listeners []event.Listener) error
	UnregisterPlugin(plugin string) int
}

type entry struct {
	plugin Plugin
	state  State
}

// Manager loads plugins into the command and event dispatchers and drives
// their start and stop hooks.
type Manager struct {
	commands  commandRegistry
	listeners listenerRegistry
	logger    *logrus.Entry

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
}

// NewManager builds a manager over the given registries.
func NewManager(commands commandRegistry, listeners listenerRegistry, logger *logrus.Entry) *Manager {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Manager{
		commands:  commands,
		listeners: listeners,
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

// Load registers p's listeners and commands, then runs its Load hook. Any
// failure removes whatever was registered for p.
func (m *Manager) Load(ctx context.Context, p Plugin) error {
	if p == nil {
		return errors.New("plugin is required")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	name := p.Name()
	if name == "" {
		return errors.New("plugin name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[name]; ok && e.state != StateUnloaded {
		return fmt.Errorf("%w: %s", ErrPluginExists, name)
	}

	logger := logging.ForPlugin(m.logger, name)

	if lp, ok := p.(ListenerProvider); ok {
		if err := m.listeners.RegisterPlugin(name, lp.Listeners()); err != nil {
			return fmt.Errorf("load plugin %s: %w", name, err)
		}
	}

	if cp, ok := p.(CommandProvider); ok {
		if err := m.commands.RegisterPlugin(name, cp.Commands()); err != nil {
			m.listeners.UnregisterPlugin(name)
			return fmt.Errorf("load plugin %s: %w", name, err)
		}
	}

	if l, ok := p.(Loader); ok {
		if err := l.Load(ctx); err != nil {
			m.unregister(name)
			return fmt.Errorf("load plugin %s: %w", name, err)
		}
	}

	if _, seen := m.entries[name]; !seen {
		m.order = append(m.order, name)
	}
	m.entries[name] = &entry{plugin: p, state: StateLoaded}

	logger.WithField("event", "plugin_loaded").Info("plugin loaded")
	return nil
}

// Unload stops a started plugin and removes its commands and listeners.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok || e.state == StateUnloaded {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}

	var stopErr error
	if e.state == StateStarted {
		stopErr = m.stop(ctx, name, e)
	}

	m.unregister(name)
	e.state = StateUnloaded

	logging.ForPlugin(m.logger, name).WithField("event", "plugin_unloaded").Info("plugin unloaded")
	return stopErr
}

// StartAll starts every loaded or stopped plugin in load order. Started
// plugins are skipped. Every plugin is attempted; the errors are joined.
func (m *Manager) StartAll(ctx context.Context, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, name := range m.order {
		e := m.entries[name]
		if e.state != StateLoaded && e.state != StateStopped {
			continue
		}

		if s, ok := e.plugin.(Starter); ok {
			if err := s.Start(ctx, startedAt); err != nil {
				errs = append(errs, fmt.Errorf("start plugin %s: %w", name, err))
				continue
			}
		}

		e.state = StateStarted
		logging.ForPlugin(m.logger, name).WithField("event", "plugin_started").Debug("plugin started")
	}

	return errors.Join(errs...)
}

// StopAll stops started plugins in reverse load order.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		e := m.entries[name]
		if e.state != StateStarted {
			continue
		}

		if err := m.stop(ctx, name, e); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m *Manager) stop(ctx context.Context, name string, e *entry) error {
	e.state = StateStopped

	if s, ok := e.plugin.(Stopper); ok {
		if err := s.Stop(ctx); err != nil {
			return fmt.Errorf("stop plugin %s: %w", name, err)
		}
	}

	logging.ForPlugin(m.logger, name).WithField("event", "plugin_stopped").Debug("plugin stopped")
	return nil
}

func (m *Manager) unregister(name string) {
	m.commands.UnregisterPlugin(name)
	m.listeners.UnregisterPlugin(name)
}

// Get returns a loaded plugin.
func (m *Manager) Get(name string) (Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok || e.state == StateUnloaded {
		return nil, false
	}
	return e.plugin, true
}

// Plugins returns the loaded plugins in load order.
func (m *Manager) Plugins() []Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Plugin, 0, len(m.order))
	for _, name := range m.order {
		if e := m.entries[name]; e.state != StateUnloaded {
			out = append(out, e.plugin)
		}
	}
	return out
}

// State reports the lifecycle state of name.
func (m *Manager) State(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[name]; ok {
		return e.state
	}
	return StateUnregistered
}
