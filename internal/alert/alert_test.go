package alert

import (
	"context"
	"errors"
	"html"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riakmaw/internal/telegram"
)

type sentAlert struct {
	chatID int64
	text   string
	opts   int
}

type fakeSender struct {
	sent []sentAlert
	err  error
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string, opts ...telegram.SendOption) (*models.Message, error) {
	f.sent = append(f.sent, sentAlert{chatID: chatID, text: text, opts: len(opts)})
	return &models.Message{}, f.err
}

func TestNotifyPostsFormattedAlert(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, -100, 12, nil, nil)
	n.now = func() time.Time { return time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC) }

	id := n.Notify(context.Background(), "ping <Main>", errors.New("db <down>"))

	_, err := uuid.Parse(id)
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	got := sender.sent[0]
	assert.Equal(t, int64(-100), got.chatID)
	assert.Equal(t, 2, got.opts, "html and thread options")
	assert.Contains(t, got.text, "ERROR ALERT")
	assert.Contains(t, got.text, "ping &lt;Main&gt;")
	assert.Contains(t, got.text, "2024-05-01 10:30:00")
	assert.Contains(t, got.text, id)
	assert.Contains(t, got.text, "<pre>db &lt;down&gt;</pre>")
}

func TestNotifyWithoutChannelOnlyLogs(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	sender := &fakeSender{}
	n := NewNotifier(sender, 0, 0, nil, logrus.NewEntry(logger))

	id := n.Notify(context.Background(), "stats", errors.New("boom"))

	assert.Empty(t, sender.sent)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "alert", entry.Data["event"])
	assert.Equal(t, id, entry.Data["alert_id"])
}

func TestNotifyLogsDeliveryFailure(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	n := NewNotifier(&fakeSender{err: errors.New("forbidden")}, -1, 0, nil, logrus.NewEntry(logger))

	n.Notify(context.Background(), "x", errors.New("boom"))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "failed to deliver alert", entry.Message)
}

func TestNotifyKeepsLongReasonsWellFormed(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, -100, 0, nil, nil)

	reason := strings.Repeat("a<b ", 1500)
	n.Notify(context.Background(), "stats", errors.New(reason))

	require.Len(t, sender.sent, 1)
	text := sender.sent[0].text
	assert.Equal(t, text, telegram.Truncate(text, telegram.MaxMessageLength), "alert must fit without truncation")
	assert.True(t, strings.HasSuffix(text, "...</pre>"), "cut reason keeps the closing tag")

	body := text[strings.LastIndex(text, "<pre>")+len("<pre>") : len(text)-len("...</pre>")]
	assert.Equal(t, body, html.EscapeString(html.UnescapeString(body)), "entities are never split")
}

func TestNotifyRedactsSecretsBeforeEscaping(t *testing.T) {
	uri := "mongodb://u:p@h/db?retryWrites=true&w=majority"
	sender := &fakeSender{}
	n := NewNotifier(sender, -100, 0, []string{uri}, nil)

	n.Notify(context.Background(), "stats", errors.New("connect "+uri))

	require.Len(t, sender.sent, 1)
	text := sender.sent[0].text
	assert.Contains(t, text, "<pre>connect [REDACTED]</pre>")
	assert.NotContains(t, text, "u:p@h")
}
