package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"riakmaw/internal/logging"
)

// MaxMessageLength is the Telegram limit for message text.
const MaxMessageLength = 4096

const (
	truncatedSuffix = "... (truncated)"
	redactedText    = "[REDACTED]"
)

type messenger interface {
	GetMe(ctx context.Context) (*models.User, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
	GetChatAdministrators(ctx context.Context, params *bot.GetChatAdministratorsParams) ([]models.ChatMember, error)
	PinChatMessage(ctx context.Context, params *bot.PinChatMessageParams) (bool, error)
	UnpinChatMessage(ctx context.Context, params *bot.UnpinChatMessageParams) (bool, error)
	UnpinAllChatMessages(ctx context.Context, params *bot.UnpinAllChatMessagesParams) (bool, error)
}

// SendOption tweaks an outgoing or edited message.
type SendOption func(*sendOptions)

type sendOptions struct {
	parseMode models.ParseMode
	markup    models.ReplyMarkup
	threadID  int
	silent    bool
}

// WithHTML renders the text as Telegram HTML.
func WithHTML() SendOption {
	return func(o *sendOptions) { o.parseMode = models.ParseModeHTML }
}

// WithMarkup attaches a reply markup such as an inline keyboard.
func WithMarkup(markup models.ReplyMarkup) SendOption {
	return func(o *sendOptions) { o.markup = markup }
}

// WithThread posts into a forum topic.
func WithThread(threadID int) SendOption {
	return func(o *sendOptions) { o.threadID = threadID }
}

// WithSilent disables the notification sound.
func WithSilent() SendOption {
	return func(o *sendOptions) { o.silent = true }
}

// Sender wraps the Bot API calls used by plugins. Outgoing text never carries
// configured secrets and is cut to MaxMessageLength.
type Sender struct {
	api     messenger
	secrets []string
	logger  *logrus.Entry

	selfMu sync.Mutex
	self   *models.User
}

// NewSender builds a Sender over api.
func NewSender(api messenger, secrets []string, logger *logrus.Entry) *Sender {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Sender{
		api:     api,
		secrets: secrets,
		logger:  logger,
	}
}

// Self returns the bot account, cached after the first successful call.
func (s *Sender) Self(ctx context.Context) (*models.User, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	s.selfMu.Lock()
	defer s.selfMu.Unlock()

	if s.self != nil {
		return s.self, nil
	}

	me, err := s.api.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}

	s.self = me
	return me, nil
}

// Send posts text to chatID.
func (s *Sender) Send(ctx context.Context, chatID int64, text string, opts ...SendOption) (*models.Message, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	o := applyOptions(opts)

	msg, err := s.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:              chatID,
		MessageThreadID:     o.threadID,
		Text:                s.Sanitize(text),
		ParseMode:           o.parseMode,
		LinkPreviewOptions:  &models.LinkPreviewOptions{IsDisabled: bot.True()},
		DisableNotification: o.silent,
		ReplyMarkup:         o.markup,
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	return msg, nil
}

// Reply answers msg in its chat and topic.
func (s *Sender) Reply(ctx context.Context, msg *models.Message, text string, opts ...SendOption) (*models.Message, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errors.New("reply target is required")
	}

	o := applyOptions(opts)

	params := &bot.SendMessageParams{
		ChatID:             msg.Chat.ID,
		Text:               s.Sanitize(text),
		ParseMode:          o.parseMode,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
		ReplyParameters: &models.ReplyParameters{
			MessageID:                msg.ID,
			AllowSendingWithoutReply: true,
		},
		ReplyMarkup: o.markup,
	}
	if msg.IsTopicMessage {
		params.MessageThreadID = msg.MessageThreadID
	}

	reply, err := s.api.SendMessage(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("reply message: %w", err)
	}

	return reply, nil
}

// Edit replaces the text of a message the bot sent earlier.
func (s *Sender) Edit(ctx context.Context, msg *models.Message, text string, opts ...SendOption) (*models.Message, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errors.New("edit target is required")
	}

	o := applyOptions(opts)

	edited, err := s.api.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:             msg.Chat.ID,
		MessageID:          msg.ID,
		Text:               s.Sanitize(text),
		ParseMode:          o.parseMode,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
		ReplyMarkup:        o.markup,
	})
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}

	return edited, nil
}

// Delete removes a message.
func (s *Sender) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	if _, err := s.api.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: messageID}); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

// AnswerCallback acknowledges a callback query, optionally as an alert popup.
func (s *Sender) AnswerCallback(ctx context.Context, queryID, text string, alert bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	_, err := s.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            s.Sanitize(text),
		ShowAlert:       alert,
	})
	if err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}

	return nil
}

// ChatMember fetches the membership of userID in chatID.
func (s *Sender) ChatMember(ctx context.Context, chatID, userID int64) (*models.ChatMember, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	member, err := s.api.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("get chat member: %w", err)
	}

	return member, nil
}

// ChatAdministrators lists the administrators of chatID.
func (s *Sender) ChatAdministrators(ctx context.Context, chatID int64) ([]models.ChatMember, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	admins, err := s.api.GetChatAdministrators(ctx, &bot.GetChatAdministratorsParams{ChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("get chat administrators: %w", err)
	}

	return admins, nil
}

// Pin pins messageID in chatID.
func (s *Sender) Pin(ctx context.Context, chatID int64, messageID int, silent bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	_, err := s.api.PinChatMessage(ctx, &bot.PinChatMessageParams{
		ChatID:              chatID,
		MessageID:           messageID,
		DisableNotification: silent,
	})
	if err != nil {
		return fmt.Errorf("pin message: %w", err)
	}

	return nil
}

// Unpin unpins messageID, or the most recent pin when messageID is 0.
func (s *Sender) Unpin(ctx context.Context, chatID int64, messageID int) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	if _, err := s.api.UnpinChatMessage(ctx, &bot.UnpinChatMessageParams{ChatID: chatID, MessageID: messageID}); err != nil {
		return fmt.Errorf("unpin message: %w", err)
	}

	return nil
}

// UnpinAll clears every pinned message of chatID.
func (s *Sender) UnpinAll(ctx context.Context, chatID int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	if _, err := s.api.UnpinAllChatMessages(ctx, &bot.UnpinAllChatMessagesParams{ChatID: chatID}); err != nil {
		return fmt.Errorf("unpin all messages: %w", err)
	}

	return nil
}

// Sanitize masks configured secrets and truncates text to MaxMessageLength.
func (s *Sender) Sanitize(text string) string {
	for _, secret := range s.secrets {
		if secret != "" {
			text = strings.ReplaceAll(text, secret, redactedText)
		}
	}

	return Truncate(text, MaxMessageLength)
}

func (s *Sender) ready(ctx context.Context) error {
	if s == nil || s.api == nil {
		return errors.New("telegram sender is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

// Truncate cuts text to limit runes, marking the cut.
func Truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	keep := limit - utf8.RuneCountInString(truncatedSuffix)
	if keep < 0 {
		keep = 0
	}

	runes := []rune(text)
	return string(runes[:keep]) + truncatedSuffix
}

// IsNotModified reports the Bot API error returned when an edit changes nothing.
func IsNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func applyOptions(opts []SendOption) sendOptions {
	var o sendOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
