// Package alert posts failure reports to the operator chat configured in ALERT_LOG.
package alert

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"riakmaw/internal/logging"
	"riakmaw/internal/telegram"
)

const (
	preOpen  = "<pre>"
	preClose = "</pre>"
	cutMark  = "..."
	redacted = "[REDACTED]"
)

type messageSender interface {
	Send(ctx context.Context, chatID int64, text string, opts ...telegram.SendOption) (*models.Message, error)
}

// Notifier formats and delivers alerts. A zero chat id only logs.
type Notifier struct {
	sender   messageSender
	chatID   int64
	threadID int
	secrets  []string
	logger   *logrus.Entry
	now      func() time.Time
}

// NewNotifier builds a Notifier posting to chatID (and threadID when non-zero).
// Secrets are masked in the alert before it is rendered as HTML.
func NewNotifier(sender messageSender, chatID int64, threadID int, secrets []string, logger *logrus.Entry) *Notifier {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Notifier{
		sender:   sender,
		chatID:   chatID,
		threadID: threadID,
		secrets:  secrets,
		logger:   logger,
		now:      time.Now,
	}
}

// Notify reports err raised on behalf of invoker and returns the alert id.
func (n *Notifier) Notify(ctx context.Context, invoker string, err error) string {
	id := uuid.NewString()
	if n == nil {
		return id
	}

	fields := logging.Fields{
		"event":    "alert",
		"alert_id": id,
		"invoker":  invoker,
	}

	if n.sender == nil || n.chatID == 0 {
		n.logger.WithFields(fields).WithError(err).Warn("alert channel not configured")
		return id
	}

	opts := []telegram.SendOption{telegram.WithHTML()}
	if n.threadID != 0 {
		opts = append(opts, telegram.WithThread(n.threadID))
	}

	if _, sendErr := n.sender.Send(ctx, n.chatID, n.format(id, invoker, err), opts...); sendErr != nil {
		n.logger.WithFields(fields).WithError(sendErr).Error("failed to deliver alert")
	}

	return id
}

func (n *Notifier) format(id, invoker string, err error) string {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}

	var b strings.Builder
	b.WriteString("🔴 <b>ERROR ALERT</b>\n\n")
	fmt.Fprintf(&b, "- <b>Alert by:</b> %s\n", html.EscapeString(n.redact(invoker)))
	fmt.Fprintf(&b, "- <b>Time (UTC):</b> %s\n", n.now().UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- <b>Error ID:</b> <code>%s</code>\n\n", id)
	b.WriteString("<b>ERROR</b>\n")

	room := telegram.MaxMessageLength - utf8.RuneCountInString(b.String()) - len(preOpen) - len(preClose)
	b.WriteString(preOpen)
	b.WriteString(escapeWithin(n.redact(reason), room))
	b.WriteString(preClose)

	return b.String()
}

func (n *Notifier) redact(text string) string {
	for _, secret := range n.secrets {
		if secret != "" {
			text = strings.ReplaceAll(text, secret, redacted)
		}
	}
	return text
}

// escapeWithin HTML-escapes text, cutting it so the escaped result fits in
// limit runes. Entities are never split.
func escapeWithin(text string, limit int) string {
	escaped := html.EscapeString(text)
	if utf8.RuneCountInString(escaped) <= limit {
		return escaped
	}

	budget := limit - len(cutMark)
	if budget < 0 {
		budget = 0
	}

	var b strings.Builder
	used := 0
	for _, r := range text {
		piece := html.EscapeString(string(r))
		size := utf8.RuneCountInString(piece)
		if used+size > budget {
			break
		}
		b.WriteString(piece)
		used += size
	}
	b.WriteString(cutMark)

	return b.String()
}
