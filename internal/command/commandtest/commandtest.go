// Package commandtest runs commands end to end against a recording responder.
package commandtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"riakmaw/internal/command"
	"riakmaw/internal/event"
	"riakmaw/internal/ratelimit"
	"riakmaw/internal/telegram"
)

// Recorder is a command.Responder remembering every reply and edit.
type Recorder struct {
	mu      sync.Mutex
	Replies []string
	Edits   []string
}

// Reply records text as a new response.
func (r *Recorder) Reply(_ context.Context, msg *models.Message, text string, _ ...telegram.SendOption) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Replies = append(r.Replies, text)
	return &models.Message{ID: msg.ID + len(r.Replies), Chat: msg.Chat, Text: text}, nil
}

// Edit records text as an edit of an earlier response.
func (r *Recorder) Edit(_ context.Context, msg *models.Message, text string, _ ...telegram.SendOption) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Edits = append(r.Edits, text)
	edited := *msg
	edited.Text = text
	return &edited, nil
}

// Last returns the latest text shown to the user, edits included.
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Edits) > 0 {
		return r.Edits[len(r.Edits)-1]
	}
	if len(r.Replies) > 0 {
		return r.Replies[len(r.Replies)-1]
	}
	return ""
}

type invocations struct {
	mu   sync.Mutex
	list []*event.Invocation
}

func (i *invocations) Dispatch(_ context.Context, ev *event.Event) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.list = append(i.list, ev.Invocation)
	return nil
}

// Harness owns a dispatcher with no rate limit worth hitting.
type Harness struct {
	Dispatcher *command.Dispatcher
	Recorder   *Recorder
	Logs       *logtest.Hook

	events *invocations
}

// New registers cmds under plugin in a fresh dispatcher.
func New(t *testing.T, plugin string, cmds []*command.Command) *Harness {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	recorder := &Recorder{}
	events := &invocations{}

	d, err := command.NewDispatcher(command.Options{
		Limiter:   ratelimit.New(time.Minute, 1000),
		Responder: recorder,
		Events:    events,
		Logger:    logrus.NewEntry(logger),
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	d.SetUsername("riakmaw_bot")

	if err := d.RegisterPlugin(plugin, cmds); err != nil {
		t.Fatalf("register commands: %v", err)
	}

	return &Harness{Dispatcher: d, Recorder: recorder, Logs: hook, events: events}
}

// Run matches and invokes msg. It reports whether the command matched and
// returns the error the invocation ended with.
func (h *Harness) Run(t *testing.T, msg *models.Message) (bool, error) {
	t.Helper()

	m, ok := h.Dispatcher.Match(context.Background(), msg)
	if !ok {
		return false, nil
	}

	h.Dispatcher.Invoke(context.Background(), m)

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	if len(h.events.list) == 0 {
		t.Fatalf("command event was not emitted")
	}
	return true, h.events.list[len(h.events.list)-1].Err
}

// Message builds a text message from userID in chat.
func Message(chat models.Chat, userID int64, text string) *models.Message {
	return &models.Message{
		ID:   10,
		From: &models.User{ID: userID, FirstName: "Alice", Username: "alice"},
		Chat: chat,
		Text: text,
	}
}

// Private and Group are ready-made chats.
var (
	Private = models.Chat{ID: 42, Type: models.ChatTypePrivate, FirstName: "Alice"}
	Group   = models.Chat{ID: -1001, Type: models.ChatTypeSupergroup, Title: "Test Group"}
)
