package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"riakmaw/internal/event"
	"riakmaw/internal/logging"
	"riakmaw/internal/telegram"
)

// Invoke runs a matched command. Argument errors are shown to the user,
// handler failures are logged and alerted, and the command event is emitted
// in every case. Invoke never stops update propagation.
func (d *Dispatcher) Invoke(ctx context.Context, m *Match) {
	if m == nil || m.Command == nil || m.Message == nil {
		return
	}

	cctx := newContext(m, d.responder)
	started := time.Now()

	err := d.run(ctx, cctx)

	fields := logging.Fields{
		"event":       "command",
		"command":     m.Command.Name,
		"plugin":      m.Command.Plugin,
		"chat_id":     m.Message.Chat.ID,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if author := cctx.Author(); author != nil {
		fields["user_id"] = author.ID
	}

	var argErr *ArgumentError
	switch {
	case err == nil:
		d.logger.WithFields(fields).Debug("command handled")
	case errors.As(err, &argErr):
		fields["event"] = "command_bad_argument"
		d.logger.WithFields(fields).WithError(err).Info("command rejected argument")
		if _, replyErr := cctx.Respond(ctx, argErr.Error()); replyErr != nil {
			d.logger.WithFields(fields).WithError(replyErr).Warn("failed to report argument error")
		}
	case telegram.IsNotModified(err):
		fields["event"] = "command_not_modified"
		d.logger.WithFields(fields).WithError(err).Warn("command response unchanged")
	default:
		err = d.wrap(cctx, err)
		fields["event"] = "command_error"
		d.logger.WithFields(fields).WithError(err).Error("command failed")
		if d.alerts != nil {
			d.alerts.Notify(ctx, fmt.Sprintf("/%s in %s", m.Invoker, chatLabel(cctx)), err)
		}
	}

	if d.events == nil {
		return
	}

	inv := &event.Invocation{
		Command: m.Command.Name,
		Plugin:  m.Command.Plugin,
		Invoker: m.Invoker,
		ChatID:  m.Message.Chat.ID,
		Input:   cctx.Input,
		Err:     err,
	}
	if author := cctx.Author(); author != nil {
		inv.UserID = author.ID
	}

	if dispatchErr := d.events.Dispatch(ctx, &event.Event{
		Name:       event.Command,
		Message:    m.Message,
		Invocation: inv,
		Time:       time.Now(),
	}); dispatchErr != nil {
		d.logger.WithField("event", "command_event_error").WithError(dispatchErr).Warn("command event not dispatched")
	}
}

func (d *Dispatcher) run(ctx context.Context, c *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	values, err := convertArgs(c.Command.Params, c.Args(), c.Input)
	if err != nil {
		return err
	}
	c.values = values

	out, err := c.Command.Handler(ctx, c)
	if err != nil {
		return err
	}

	if out != "" {
		if _, err := c.Respond(ctx, out); err != nil {
			return fmt.Errorf("send response: %w", err)
		}
	}

	return nil
}

func (d *Dispatcher) wrap(c *Context, err error) error {
	ie := &InvokeError{
		Command: c.Command.Name,
		Plugin:  c.Command.Plugin,
		ChatID:  c.Message.Chat.ID,
		Input:   c.Input,
		Err:     err,
	}
	if ie.ChatTitle = c.Message.Chat.Title; ie.ChatTitle == "" {
		ie.ChatTitle = c.Message.Chat.Username
	}
	if author := c.Author(); author != nil {
		ie.UserID = author.ID
		ie.UserName = author.Username
		if ie.UserName == "" {
			ie.UserName = author.FirstName
		}
	}
	return ie
}

func chatLabel(c *Context) string {
	chat := c.Chat()
	switch {
	case chat.Title != "":
		return chat.Title
	case chat.Username != "":
		return "@" + chat.Username
	default:
		return fmt.Sprintf("chat %d", chat.ID)
	}
}
