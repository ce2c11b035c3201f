package event

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"riakmaw/internal/logging"
)

// Alerter reports listener failures to the operators.
type Alerter interface {
	Notify(ctx context.Context, invoker string, err error) string
}

// Dispatcher keeps listeners per event name ordered by ascending priority.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[Name][]*Listener
	alerts    Alerter
	logger    *logrus.Entry
}

// NewDispatcher builds an empty dispatcher. alerts may be nil.
func NewDispatcher(logger *logrus.Entry, alerts Alerter) *Dispatcher {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Dispatcher{
		listeners: make(map[Name][]*Listener),
		alerts:    alerts,
		logger:    logger,
	}
}

// Register adds a listener after every listener of lower or equal priority.
func (d *Dispatcher) Register(l Listener) (*Listener, error) {
	if l.Event == "" {
		return nil, errors.New("listener event is required")
	}
	if l.Handler == nil {
		return nil, fmt.Errorf("listener %s of %s has no handler", l.Event, l.Plugin)
	}
	if l.Priority == 0 {
		l.Priority = DefaultPriority
	}
	if l.Event.IsLifecycle() && l.Filter != nil {
		d.logger.WithFields(logging.Fields{
			"event":    "listener_filter_ignored",
			"plugin":   l.Plugin,
			"listener": string(l.Event),
		}).Warn("lifecycle listeners cannot have filters, ignoring filter")
		l.Filter = nil
	}

	registered := &l

	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.listeners[l.Event]
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].Priority > l.Priority
	})
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = registered
	d.listeners[l.Event] = list

	return registered, nil
}

// RegisterPlugin registers all listeners of a plugin; on failure none stay registered.
func (d *Dispatcher) RegisterPlugin(plugin string, listeners []Listener) error {
	added := make([]*Listener, 0, len(listeners))

	for _, l := range listeners {
		l.Plugin = plugin

		registered, err := d.Register(l)
		if err != nil {
			for _, r := range added {
				d.Unregister(r)
			}
			return fmt.Errorf("register listeners of %s: %w", plugin, err)
		}

		added = append(added, registered)
	}

	return nil
}

// Unregister removes one listener previously returned by Register.
func (d *Dispatcher) Unregister(l *Listener) bool {
	if l == nil {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.listeners[l.Event]
	for i, candidate := range list {
		if candidate == l {
			d.setListeners(l.Event, append(list[:i:i], list[i+1:]...))
			return true
		}
	}

	return false
}

// UnregisterPlugin removes every listener owned by plugin and returns how many went away.
func (d *Dispatcher) UnregisterPlugin(plugin string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for name, list := range d.listeners {
		kept := make([]*Listener, 0, len(list))
		for _, l := range list {
			if l.Plugin == plugin {
				removed++
				continue
			}
			kept = append(kept, l)
		}
		d.setListeners(name, kept)
	}

	return removed
}

func (d *Dispatcher) setListeners(name Name, list []*Listener) {
	if len(list) == 0 {
		delete(d.listeners, name)
		return
	}
	d.listeners[name] = list
}

// Listeners returns a snapshot of the listeners for name in dispatch order.
func (d *Dispatcher) Listeners(name Name) []Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := d.listeners[name]
	out := make([]Listener, 0, len(list))
	for _, l := range list {
		out = append(out, *l)
	}

	return out
}

// Has reports whether anything listens to name.
func (d *Dispatcher) Has(name Name) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.listeners[name]) > 0
}

// Dispatch runs the listeners of ev.Name in priority order. A failing listener
// is logged and alerted and the remaining listeners still run; a listener
// returning ErrStopPropagation ends the dispatch. Only context cancellation is
// reported back to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if ev == nil {
		return errors.New("event is required")
	}

	d.mu.RLock()
	list := append([]*Listener(nil), d.listeners[ev.Name]...)
	d.mu.RUnlock()

	for _, l := range list {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev.Matches = nil

		if l.Filter != nil {
			ok, err := l.Filter(ctx, ev)
			if err != nil {
				d.logger.WithFields(logging.Fields{
					"event":    "listener_filter_error",
					"plugin":   l.Plugin,
					"listener": string(l.Event),
				}).WithError(err).Warn("listener filter failed")
				continue
			}
			if !ok {
				continue
			}
		}

		err := d.call(ctx, l, ev)
		if errors.Is(err, ErrStopPropagation) {
			break
		}
		if err != nil {
			d.report(ctx, l, ev, err)
		}
	}

	return nil
}

func (d *Dispatcher) call(ctx context.Context, l *Listener, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()

	return l.Handler(ctx, ev)
}

func (d *Dispatcher) report(ctx context.Context, l *Listener, ev *Event, err error) {
	fields := logging.Fields{
		"event":    "listener_error",
		"plugin":   l.Plugin,
		"listener": string(l.Event),
	}
	if chatID := ev.ChatID(); chatID != 0 {
		fields["chat_id"] = chatID
	}

	d.logger.WithFields(fields).WithError(err).Error("listener failed")

	if d.alerts != nil {
		d.alerts.Notify(ctx, fmt.Sprintf("%s (%s listener)", l.Plugin, l.Event), err)
	}
}
