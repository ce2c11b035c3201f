package users

import (
	"context"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riakmaw/internal/command/commandtest"
	"riakmaw/internal/domain"
	"riakmaw/internal/event"
	"riakmaw/internal/i18n"
)

type stubFinder map[int64]domain.User

func (s stubFinder) GetByID(_ context.Context, userID int64) (domain.User, error) {
	user, ok := s[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

type stubSelf struct{}

func (stubSelf) Self(context.Context) (*models.User, error) {
	return &models.User{ID: 999, IsBot: true, Username: "riakmaw_bot"}, nil
}

func newTestPlugin(t *testing.T, finder stubFinder) (*Plugin, *fakeCollection, *fakeCollection) {
	t.Helper()

	reg, users, chats := newTestRegistrar(t)
	tr := i18n.Fixed{Catalog: i18n.MustLoad(), Lang: i18n.DefaultLanguage}
	return New(reg, finder, stubSelf{}, tr, reg.logger), users, chats
}

func TestMessageInGroupTracksUserAndChat(t *testing.T) {
	p, users, chats := newTestPlugin(t, nil)

	msg := commandtest.Message(commandtest.Group, 5, "hello")
	require.NoError(t, p.onMessage(context.Background(), &event.Event{Name: event.Message, Message: msg}))

	assert.Equal(t, []int64{commandtest.Group.ID}, ids(users.docFor(t, 5)["chats"]))
	assert.Equal(t, []int64{5}, ids(chats.docFor(t, commandtest.Group.ID)["members"]))
}

func TestMessageInPrivateTracksUserOnly(t *testing.T) {
	p, users, chats := newTestPlugin(t, nil)

	msg := commandtest.Message(commandtest.Private, 42, "hello")
	require.NoError(t, p.onMessage(context.Background(), &event.Event{Name: event.Message, Message: msg}))

	assert.Empty(t, ids(users.docFor(t, 42)["chats"]))
	assert.Empty(t, chats.docs)
}

func TestAnonymousMessageTracksChatOnly(t *testing.T) {
	p, users, chats := newTestPlugin(t, nil)

	msg := commandtest.Message(commandtest.Group, 0, "hello")
	msg.From = nil
	require.NoError(t, p.onMessage(context.Background(), &event.Event{Name: event.Message, Message: msg}))

	assert.Empty(t, users.docs)
	assert.Contains(t, chats.docs, commandtest.Group.ID)
}

func TestCallbackRefreshesName(t *testing.T) {
	p, users, _ := newTestPlugin(t, nil)

	ev := &event.Event{Name: event.CallbackQuery, CallbackQuery: &models.CallbackQuery{
		ID:   "q",
		From: models.User{ID: 8, FirstName: "Carol", Username: "carol"},
	}}
	require.NoError(t, p.onCallback(context.Background(), ev))

	assert.Equal(t, "Carol", users.docFor(t, 8)["name"])
	assert.Equal(t, "carol", users.docFor(t, 8)["username"])
}

func TestChatActionJoinAndLeave(t *testing.T) {
	p, users, chats := newTestPlugin(t, nil)
	ctx := context.Background()

	joined := &models.Message{Chat: commandtest.Group, NewChatMembers: []models.User{
		{ID: 1, FirstName: "A"},
		{ID: 2, FirstName: "B"},
		{ID: 77, FirstName: "Other bot", IsBot: true},
	}}
	require.NoError(t, p.onChatAction(ctx, &event.Event{Name: event.ChatAction, Message: joined}))
	assert.Equal(t, []int64{1, 2}, ids(chats.docFor(t, commandtest.Group.ID)["members"]))
	assert.NotContains(t, users.docs, int64(77))

	left := &models.Message{Chat: commandtest.Group, LeftChatMember: &models.User{ID: 1}}
	require.NoError(t, p.onChatAction(ctx, &event.Event{Name: event.ChatAction, Message: left}))
	assert.Equal(t, []int64{2}, ids(chats.docFor(t, commandtest.Group.ID)["members"]))
	assert.Empty(t, ids(users.docFor(t, 1)["chats"]))

	kicked := &models.Message{Chat: commandtest.Group, LeftChatMember: &models.User{ID: 999, IsBot: true}}
	require.NoError(t, p.onChatAction(ctx, &event.Event{Name: event.ChatAction, Message: kicked}))
	assert.NotContains(t, chats.docs, commandtest.Group.ID)
	assert.Empty(t, ids(users.docFor(t, 2)["chats"]))
}

func TestChatMigrateMovesIDs(t *testing.T) {
	p, users, chats := newTestPlugin(t, nil)
	seedMembership(t, p.registrar, -5, 3)

	msg := &models.Message{
		Chat:              models.Chat{ID: -1005, Type: models.ChatTypeSupergroup},
		MigrateFromChatID: -5,
	}
	require.NoError(t, p.onMigrate(context.Background(), &event.Event{Name: event.ChatMigrate, Message: msg}))

	assert.Contains(t, chats.docs, int64(-1005))
	assert.Equal(t, []int64{-1005}, ids(users.docFor(t, 3)["chats"]))
}

func TestInfoCommand(t *testing.T) {
	seen := time.Date(2024, 7, 1, 12, 30, 0, 0, time.UTC)
	finder := stubFinder{
		5: {UserID: 5, Name: "Eve <3", Username: "eve", Chats: []int64{-1, -2}, LastSeenAt: seen},
		6: {UserID: 6, Name: "Frank"},
	}

	tests := []struct {
		name     string
		msg      func() *models.Message
		contains []string
	}{
		{
			name:     "self",
			msg:      func() *models.Message { return commandtest.Message(commandtest.Group, 5, "/info") },
			contains: []string{"ID: <code>5</code>", "Name: Eve &lt;3", "Username: @eve", "Groups seen: 2", "Last seen: 2024-07-01 12:30 UTC"},
		},
		{
			name:     "by id",
			msg:      func() *models.Message { return commandtest.Message(commandtest.Group, 5, "/info 6") },
			contains: []string{"ID: <code>6</code>", "Username: -", "Last seen: -"},
		},
		{
			name: "by reply",
			msg: func() *models.Message {
				msg := commandtest.Message(commandtest.Group, 5, "/info")
				msg.ReplyToMessage = &models.Message{From: &models.User{ID: 6}}
				return msg
			},
			contains: []string{"Name: Frank"},
		},
		{
			name:     "unknown",
			msg:      func() *models.Message { return commandtest.Message(commandtest.Group, 5, "/info 404") },
			contains: []string{"I have never seen that user."},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newTestPlugin(t, finder)
			h := commandtest.New(t, Name, p.Commands())

			matched, err := h.Run(t, tt.msg())
			require.True(t, matched)
			require.NoError(t, err)

			for _, want := range tt.contains {
				assert.Contains(t, h.Recorder.Last(), want)
			}
		})
	}
}

func TestTrackerRunsEarly(t *testing.T) {
	p, _, _ := newTestPlugin(t, nil)

	listeners := p.Listeners()
	require.NotEmpty(t, listeners)
	assert.Equal(t, event.Message, listeners[0].Event)
	assert.Less(t, listeners[0].Priority, event.DefaultPriority)
}
