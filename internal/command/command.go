// Package command matches "/command" messages to plugin handlers, converts
// their arguments and runs them.
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot/models"
)

// Prefix starts every command.
const Prefix = "/"

// ErrCommandExists is returned when a name or alias is already taken.
var ErrCommandExists = errors.New("command already exists")

// HandlerFunc runs a command. A non-empty result is sent back as the response.
type HandlerFunc func(ctx context.Context, c *Context) (string, error)

// FilterFunc decides whether a matched message may run the command.
type FilterFunc func(ctx context.Context, msg *models.Message) (bool, error)

// Command binds a name and its aliases to a plugin handler.
type Command struct {
	Name        string
	Plugin      string
	Description string
	Aliases     []string
	Params      []Param
	Filter      FilterFunc
	Handler     HandlerFunc
}

// Keys returns the name followed by the aliases.
func (c *Command) Keys() []string {
	keys := make([]string, 0, 1+len(c.Aliases))
	keys = append(keys, c.Name)
	return append(keys, c.Aliases...)
}

// InvokeError wraps a handler failure with the invocation details.
type InvokeError struct {
	Command   string
	Plugin    string
	ChatID    int64
	ChatTitle string
	UserID    int64
	UserName  string
	Input     string
	Err       error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("command /%s (%s) in chat %d by user %d with input %q: %v",
		e.Command, e.Plugin, e.ChatID, e.UserID, e.Input, e.Err)
}

func (e *InvokeError) Unwrap() error {
	return e.Err
}
