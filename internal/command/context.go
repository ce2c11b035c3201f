package command

import (
	"context"
	"strings"
	"unicode"

	"github.com/go-telegram/bot/models"

	"riakmaw/internal/telegram"
)

// Responder sends and edits messages on behalf of a command.
type Responder interface {
	Reply(ctx context.Context, msg *models.Message, text string, opts ...telegram.SendOption) (*models.Message, error)
	Edit(ctx context.Context, msg *models.Message, text string, opts ...telegram.SendOption) (*models.Message, error)
}

// Context is the per-invocation state handed to a handler.
type Context struct {
	Message *models.Message
	Command *Command
	// Invoker is the command token as typed, without prefix or bot username.
	Invoker string
	// Segments are the whitespace separated words of the message text.
	Segments []string
	// Input is the text following the command token.
	Input string

	values    map[string]any
	responder Responder
	response  *models.Message
}

func newContext(m *Match, responder Responder) *Context {
	return &Context{
		Message:   m.Message,
		Command:   m.Command,
		Invoker:   m.Invoker,
		Segments:  m.Segments,
		Input:     inputAfterCommand(m.Text),
		values:    map[string]any{},
		responder: responder,
	}
}

// Args returns the words after the command token.
func (c *Context) Args() []string {
	if len(c.Segments) < 2 {
		return nil
	}
	return c.Segments[1:]
}

// Chat returns the chat the command was sent in.
func (c *Context) Chat() *models.Chat {
	return &c.Message.Chat
}

// Author returns the sending user, nil for anonymous admins and channels.
func (c *Context) Author() *models.User {
	return c.Message.From
}

// Response returns the message produced by Respond, if any.
func (c *Context) Response() *models.Message {
	return c.response
}

// Respond replies to the command on the first call and edits that reply afterwards.
func (c *Context) Respond(ctx context.Context, text string, opts ...telegram.SendOption) (*models.Message, error) {
	if c.response == nil {
		return c.Reply(ctx, text, opts...)
	}

	msg, err := c.responder.Edit(ctx, c.response, text, opts...)
	if err != nil {
		return nil, err
	}

	c.response = msg
	return msg, nil
}

// Reply always sends a new reply and remembers it as the response.
func (c *Context) Reply(ctx context.Context, text string, opts ...telegram.SendOption) (*models.Message, error) {
	msg, err := c.responder.Reply(ctx, c.Message, text, opts...)
	if err != nil {
		return nil, err
	}

	c.response = msg
	return msg, nil
}

// Value returns the converted parameter name.
func (c *Context) Value(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// String returns a KindString or KindRest parameter.
func (c *Context) String(name string) string {
	v, _ := c.values[name].(string)
	return v
}

// Int returns a KindInt parameter.
func (c *Context) Int(name string) int64 {
	v, _ := c.values[name].(int64)
	return v
}

// Float returns a KindFloat parameter.
func (c *Context) Float(name string) float64 {
	v, _ := c.values[name].(float64)
	return v
}

// Bool returns a KindBool parameter.
func (c *Context) Bool(name string) bool {
	v, _ := c.values[name].(bool)
	return v
}

func inputAfterCommand(text string) string {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	end := strings.IndexFunc(text, unicode.IsSpace)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(text[end:])
}
