// Package plugin defines the plugin contract and the manager driving the
// plugin lifecycle: unregistered, loaded, started, stopped and unloaded.
package plugin

import (
	"context"
	"time"

	"riakmaw/internal/command"
	"riakmaw/internal/event"
)

// Plugin is the only interface every plugin implements. The optional hooks
// below are detected with type assertions.
type Plugin interface {
	Name() string
}

// Loader runs once after the plugin's commands and listeners are registered.
type Loader interface {
	Load(ctx context.Context) error
}

// Starter runs when the bot starts. Background work must stop when Stop is called.
type Starter interface {
	Start(ctx context.Context, startedAt time.Time) error
}

// Stopper runs when the bot stops or the plugin is unloaded.
type Stopper interface {
	Stop(ctx context.Context) error
}

// CommandProvider contributes commands.
type CommandProvider interface {
	Commands() []*command.Command
}

// ListenerProvider contributes event listeners.
type ListenerProvider interface {
	Listeners() []event.Listener
}

// Helper contributes the text shown by /help <plugin>.
type Helper interface {
	Help() string
}

// State is where a plugin is in its lifecycle.
type State int

const (
	StateUnregistered State = iota
	StateLoaded
	StateStarted
	StateStopped
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unregistered"
	}
}
