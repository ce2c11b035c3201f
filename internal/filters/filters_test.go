package filters

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riakmaw/internal/command"
)

type stubRoles map[int64]string

func (s stubRoles) IsOwner(id int64) bool { return s[id] == "owner" }
func (s stubRoles) IsDev(id int64) bool   { return s[id] == "owner" || s[id] == "dev" }
func (s stubRoles) IsStaff(id int64) bool { return s[id] != "" }

type stubMembers struct {
	members map[int64]*models.ChatMember
	err     error
	calls   int
}

func (s *stubMembers) ChatMember(_ context.Context, _ int64, userID int64) (*models.ChatMember, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.members[userID], nil
}

func groupMessage(userID int64) *models.Message {
	return &models.Message{
		From: &models.User{ID: userID},
		Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
	}
}

func privateMessage(userID int64) *models.Message {
	return &models.Message{
		From: &models.User{ID: userID},
		Chat: models.Chat{ID: userID, Type: models.ChatTypePrivate},
	}
}

func run(t *testing.T, f command.FilterFunc, msg *models.Message) bool {
	t.Helper()
	ok, err := f(context.Background(), msg)
	require.NoError(t, err)
	return ok
}

func TestChatTypeFilters(t *testing.T) {
	assert.True(t, run(t, Private(), privateMessage(1)))
	assert.False(t, run(t, Private(), groupMessage(1)))
	assert.True(t, run(t, Group(), groupMessage(1)))
	assert.False(t, run(t, Group(), privateMessage(1)))
}

func TestRoleFilters(t *testing.T) {
	roles := stubRoles{1: "owner", 2: "dev", 3: "staff"}

	tests := []struct {
		name   string
		filter command.FilterFunc
		pass   []int64
		reject []int64
	}{
		{"owner", OwnerOnly(roles), []int64{1}, []int64{2, 3, 4}},
		{"dev", DevOnly(roles), []int64{1, 2}, []int64{3, 4}},
		{"staff", StaffOnly(roles), []int64{1, 2, 3}, []int64{4}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			for _, id := range tt.pass {
				assert.True(t, run(t, tt.filter, groupMessage(id)), "user %d", id)
			}
			for _, id := range tt.reject {
				assert.False(t, run(t, tt.filter, groupMessage(id)), "user %d", id)
			}
		})
	}

	anonymous := groupMessage(0)
	anonymous.From = nil
	assert.False(t, run(t, StaffOnly(roles), anonymous))
}

func TestPrivilegeFilters(t *testing.T) {
	members := &stubMembers{members: map[int64]*models.ChatMember{
		1: {Type: models.ChatMemberTypeOwner, Owner: &models.ChatMemberOwner{}},
		2: {Type: models.ChatMemberTypeAdministrator, Administrator: &models.ChatMemberAdministrator{CanChangeInfo: true}},
		3: {Type: models.ChatMemberTypeAdministrator, Administrator: &models.ChatMemberAdministrator{CanPinMessages: true}},
		4: {Type: models.ChatMemberTypeMember, Member: &models.ChatMemberMember{}},
	}}

	assert.True(t, run(t, Admin(members), groupMessage(1)))
	assert.True(t, run(t, Admin(members), groupMessage(3)))
	assert.False(t, run(t, Admin(members), groupMessage(4)))

	assert.True(t, run(t, CanChangeInfo(members), groupMessage(1)))
	assert.True(t, run(t, CanChangeInfo(members), groupMessage(2)))
	assert.False(t, run(t, CanChangeInfo(members), groupMessage(3)))

	assert.True(t, run(t, CanPin(members), groupMessage(3)))
	assert.False(t, run(t, CanPin(members), groupMessage(2)))
	assert.False(t, run(t, CanPin(members), groupMessage(5)), "unknown members are rejected")
}

func TestPrivilegeFiltersShortCircuit(t *testing.T) {
	members := &stubMembers{}

	assert.False(t, run(t, Admin(members), privateMessage(1)))

	anonymousAdmin := groupMessage(0)
	anonymousAdmin.From = &models.User{ID: 1087968824, IsBot: true}
	anonymousAdmin.SenderChat = &models.Chat{ID: -100, Type: models.ChatTypeSupergroup}
	assert.True(t, run(t, CanPin(members), anonymousAdmin))

	assert.Zero(t, members.calls)
}

func TestPrivilegeFilterPropagatesLookupErrors(t *testing.T) {
	members := &stubMembers{err: errors.New("chat not found")}

	ok, err := Admin(members)(context.Background(), groupMessage(1))
	assert.False(t, ok)
	assert.ErrorContains(t, err, "chat not found")
}

func TestCombinators(t *testing.T) {
	yes := func(context.Context, *models.Message) (bool, error) { return true, nil }
	no := func(context.Context, *models.Message) (bool, error) { return false, nil }
	boom := func(context.Context, *models.Message) (bool, error) { return true, errors.New("boom") }
	msg := groupMessage(1)

	assert.True(t, run(t, And(yes, yes), msg))
	assert.False(t, run(t, And(yes, no), msg))
	assert.True(t, run(t, Or(no, yes), msg))
	assert.False(t, run(t, Or(no, no), msg))
	assert.True(t, run(t, Not(no), msg))
	assert.False(t, run(t, Not(yes), msg))

	_, err := And(yes, boom)(context.Background(), msg)
	assert.Error(t, err)
	_, err = Or(no, boom)(context.Background(), msg)
	assert.Error(t, err)

	ok, err := And(no, boom)(context.Background(), msg)
	assert.False(t, ok)
	assert.NoError(t, err, "And stops before later filters")
}
