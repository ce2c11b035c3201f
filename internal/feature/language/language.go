// Package language stores the language of every chat, keeps an in-memory
// copy synchronised through a MongoDB change stream and translates plugin
// strings for a chat.
package language

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"riakmaw/internal/command"
	"riakmaw/internal/domain"
	"riakmaw/internal/event"
	"riakmaw/internal/filters"
	"riakmaw/internal/i18n"
	"riakmaw/internal/logging"
	"riakmaw/internal/telegram"
)

// Name is the plugin name.
const Name = "language"

const (
	callbackPrefix = "set_lang_"
	retryDelay     = 5 * time.Second
)

type languageCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (*mongo.ChangeStream, error)
}

// changeStream is the part of *mongo.ChangeStream the watcher reads.
type changeStream interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

type messenger interface {
	filters.Members
	AnswerCallback(ctx context.Context, queryID, text string, alert bool) error
	Edit(ctx context.Context, msg *models.Message, text string, opts ...telegram.SendOption) (*models.Message, error)
}

// Plugin owns the chat language cache.
type Plugin struct {
	db      languageCollection
	sender  messenger
	catalog *i18n.Catalog
	logger  *logrus.Entry

	watch      func(ctx context.Context) (changeStream, error)
	retryDelay time.Duration

	mu    sync.RWMutex
	langs map[int64]string

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the language plugin.
func New(db languageCollection, sender messenger, catalog *i18n.Catalog, logger *logrus.Entry) *Plugin {
	p := &Plugin{
		db:         db,
		sender:     sender,
		catalog:    catalog,
		logger:     logging.ForPlugin(logger, Name),
		retryDelay: retryDelay,
		langs:      make(map[int64]string),
	}
	p.watch = p.openStream

	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Help describes the commands of the plugin.
func (p *Plugin) Help() string {
	return p.catalog.Text(i18n.DefaultLanguage, "lang-help")
}

// Commands returns the chat language commands.
func (p *Plugin) Commands() []*command.Command {
	return []*command.Command{{
		Name:        "setlang",
		Aliases:     []string{"lang", "language"},
		Description: "Show or change the chat language",
		Params:      []command.Param{{Name: "code", Optional: true}},
		Handler:     p.setLang,
	}}
}

// Listeners returns the event listeners of the plugin.
func (p *Plugin) Listeners() []event.Listener {
	return []event.Listener{
		{Event: event.CallbackQuery, Filter: event.Regex("^" + callbackPrefix + "(.*)$"), Handler: p.onCallback},
		{Event: event.ChatMigrate, Handler: p.onMigrate},
	}
}

// Load fills the cache from the languages collection.
func (p *Plugin) Load(ctx context.Context) error {
	cursor, err := p.db.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("find languages: %w", err)
	}

	var docs []domain.ChatLanguage
	if err := cursor.All(ctx, &docs); err != nil {
		return fmt.Errorf("decode languages: %w", err)
	}

	p.mu.Lock()
	for _, d := range docs {
		p.langs[d.ChatID] = d.Language
	}
	p.mu.Unlock()

	p.logger.WithFields(logging.Fields{"event": "languages_loaded", "chats": len(docs)}).Debug("chat languages cached")
	return nil
}

// Start launches the change stream watcher. Calling it again while running
// does nothing.
func (p *Plugin) Start(ctx context.Context, _ time.Time) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.cancel != nil {
		return nil
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.watchLoop(watchCtx, p.done)
	return nil
}

// Stop cancels the watcher and waits for it to exit.
func (p *Plugin) Stop(ctx context.Context) error {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Plugin) watchLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := p.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		p.logger.WithField("event", "language_stream_error").WithError(err).Error("language change stream failed, restarting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.retryDelay):
		}
	}
}

func (p *Plugin) consume(ctx context.Context) error {
	stream, err := p.watch(ctx)
	if err != nil {
		return fmt.Errorf("watch languages: %w", err)
	}
	defer stream.Close(context.WithoutCancel(ctx))

	for stream.Next(ctx) {
		var change struct {
			FullDocument *domain.ChatLanguage `bson:"fullDocument"`
		}
		if err := stream.Decode(&change); err != nil {
			return fmt.Errorf("decode language change: %w", err)
		}
		if change.FullDocument != nil {
			p.set(change.FullDocument.ChatID, change.FullDocument.Language)
		}
	}

	if err := stream.Err(); err != nil {
		return err
	}
	return errors.New("language change stream closed")
}

func (p *Plugin) openStream(ctx context.Context) (changeStream, error) {
	return p.db.Watch(ctx, mongo.Pipeline{}, options.ChangeStream().SetFullDocument(options.UpdateLookup))
}

// Language returns the language of chatID, the default when unset.
func (p *Plugin) Language(chatID int64) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if lang, ok := p.langs[chatID]; ok && lang != "" {
		return lang
	}
	return i18n.DefaultLanguage
}

// Text translates key for chatID.
func (p *Plugin) Text(chatID int64, key string, args ...any) string {
	return p.catalog.Text(p.Language(chatID), key, args...)
}

func (p *Plugin) set(chatID int64, lang string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.langs[chatID] = lang
}

// Switch stores lang for chatID.
func (p *Plugin) Switch(ctx context.Context, chatID int64, lang string) error {
	if !p.catalog.Has(lang) {
		return fmt.Errorf("unknown language %q", lang)
	}

	if _, err := p.db.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		bson.M{"$set": bson.M{"chat_id": chatID, "language": lang}},
		options.Update().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("save language of %d: %w", chatID, err)
	}

	p.set(chatID, lang)
	return nil
}

func (p *Plugin) label(lang string) (string, string) {
	return p.catalog.Flag(lang), p.catalog.Name(lang)
}

func (p *Plugin) setLang(ctx context.Context, c *command.Context) (string, error) {
	msg := c.Message
	chatID := msg.Chat.ID

	allowed, err := p.mayChange(ctx, msg.Chat, msg.From, msg.SenderChat)
	if err != nil {
		return "", err
	}
	if !allowed {
		return p.Text(chatID, "lang-admin-only"), nil
	}

	code := strings.ToLower(c.String("code"))
	if code == "" {
		flag, name := p.label(p.Language(chatID))
		_, err := c.Respond(ctx, p.Text(chatID, "lang-current", flag, name), telegram.WithMarkup(p.keyboard()))
		return "", err
	}

	if !p.catalog.Has(code) {
		_, err := c.Respond(ctx, p.unknown(chatID, code), telegram.WithHTML())
		return "", err
	}

	if err := p.Switch(ctx, chatID, code); err != nil {
		return "", err
	}

	flag, name := p.label(code)
	return p.Text(chatID, "lang-set", flag, name), nil
}

func (p *Plugin) unknown(chatID int64, code string) string {
	return p.Text(chatID, "lang-unknown", html.EscapeString(code), strings.Join(p.catalog.Languages(), ", "))
}

func (p *Plugin) keyboard() *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton
	var row []models.InlineKeyboardButton

	for _, code := range p.catalog.Languages() {
		flag, name := p.label(code)
		row = append(row, models.InlineKeyboardButton{
			Text:         strings.TrimSpace(flag + " " + name),
			CallbackData: callbackPrefix + code,
		})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (p *Plugin) onCallback(ctx context.Context, ev *event.Event) error {
	query := ev.CallbackQuery
	msg := query.Message.Message
	if msg == nil {
		return p.sender.AnswerCallback(ctx, query.ID, "", false)
	}
	chatID := msg.Chat.ID

	allowed, err := p.mayChange(ctx, msg.Chat, &query.From, nil)
	if err != nil {
		return err
	}
	if !allowed {
		return p.sender.AnswerCallback(ctx, query.ID, p.Text(chatID, "lang-admin-only"), true)
	}

	code := ev.Matches[1]
	if !p.catalog.Has(code) {
		if err := p.sender.AnswerCallback(ctx, query.ID, "", false); err != nil {
			return err
		}
		_, err := p.sender.Edit(ctx, msg, p.unknown(chatID, code), telegram.WithHTML())
		return err
	}

	if err := p.Switch(ctx, chatID, code); err != nil {
		return err
	}

	flag, name := p.label(code)
	text := p.Text(chatID, "lang-set", flag, name)

	if _, err := p.sender.Edit(ctx, msg, text); err != nil {
		if telegram.IsNotModified(err) {
			return p.sender.AnswerCallback(ctx, query.ID, text, true)
		}
		return err
	}
	return p.sender.AnswerCallback(ctx, query.ID, "", false)
}

func (p *Plugin) mayChange(ctx context.Context, chat models.Chat, user *models.User, senderChat *models.Chat) (bool, error) {
	if chat.Type == models.ChatTypePrivate {
		return true, nil
	}
	if senderChat != nil && senderChat.ID == chat.ID {
		return true, nil
	}
	if user == nil {
		return false, nil
	}
	return filters.MemberHas(ctx, p.sender, chat.ID, user.ID, filters.ChangeInfo)
}

func (p *Plugin) onMigrate(ctx context.Context, ev *event.Event) error {
	from, to := ev.Message.MigrateFromChatID, ev.Message.Chat.ID

	if _, err := p.db.UpdateOne(ctx, bson.M{"chat_id": from}, bson.M{"$set": bson.M{"chat_id": to}}); err != nil {
		return fmt.Errorf("migrate language %d -> %d: %w", from, to, err)
	}

	p.mu.Lock()
	if lang, ok := p.langs[from]; ok {
		p.langs[to] = lang
		delete(p.langs, from)
	}
	p.mu.Unlock()

	return nil
}
