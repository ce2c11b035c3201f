package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestUserRepositoryGetByID(t *testing.T) {
	seen := time.Now().UTC().Truncate(time.Millisecond)
	coll := newFakeFindCollection(t)
	coll.put(t, "user_id", User{
		UserID:     12345,
		Username:   "alice",
		Name:       "Alice",
		Chats:      []int64{-1001, -1002},
		LastSeenAt: seen,
	})

	repo := NewUserRepository(coll)

	found, err := repo.GetByID(context.Background(), 12345)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}

	if found.UserID != 12345 || found.Username != "alice" || found.Name != "Alice" {
		t.Fatalf("unexpected user: %+v", found)
	}
	if len(found.Chats) != 2 || found.Chats[1] != -1002 {
		t.Fatalf("expected chats to decode, got %v", found.Chats)
	}
	if !found.LastSeenAt.Equal(seen) {
		t.Fatalf("expected last_seen_at %v, got %v", seen, found.LastSeenAt)
	}
}

func TestUserRepositoryReportsNotFound(t *testing.T) {
	repo := NewUserRepository(newFakeFindCollection(t))

	_, err := repo.GetByID(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepositoryValidatesInput(t *testing.T) {
	repo := NewUserRepository(newFakeFindCollection(t))

	if _, err := repo.GetByID(nil, 1); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if _, err := repo.GetByID(context.Background(), 0); err == nil {
		t.Fatalf("expected error for missing user_id")
	}

	var nilRepo *UserRepository
	if _, err := nilRepo.GetByID(context.Background(), 1); err == nil {
		t.Fatalf("expected error for nil repository")
	}
}

func TestChatRepositoryGetByChatID(t *testing.T) {
	coll := newFakeFindCollection(t)
	coll.put(t, "chat_id", Chat{
		ChatID:  -100200300,
		Title:   "Example Group",
		Type:    "supergroup",
		Members: []int64{1, 2, 3},
	})

	repo := NewChatRepository(coll)

	found, err := repo.GetByChatID(context.Background(), -100200300)
	if err != nil {
		t.Fatalf("GetByChatID returned error: %v", err)
	}

	if found.Title != "Example Group" || found.Type != "supergroup" {
		t.Fatalf("unexpected chat: %+v", found)
	}
	if len(found.Members) != 3 {
		t.Fatalf("expected 3 members, got %v", found.Members)
	}

	if _, err := repo.GetByChatID(context.Background(), -1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown chat, got %v", err)
	}
}

func TestStaffRepositoryList(t *testing.T) {
	coll := &fakeStaffCollection{docs: []interface{}{
		StaffMember{UserID: 1, Role: RoleOwner},
		StaffMember{UserID: 2, Role: RoleDev},
	}}

	members, err := NewStaffRepository(coll).List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}

	if len(members) != 2 || members[0].Role != RoleOwner || members[1].UserID != 2 {
		t.Fatalf("unexpected members: %+v", members)
	}

	sort, ok := coll.lastOpts.Sort.(bson.D)
	if !ok || len(sort) != 1 || sort[0].Key != "user_id" {
		t.Fatalf("expected sort on user_id, got %v", coll.lastOpts.Sort)
	}
}

func TestStaffRepositoryPropagatesErrors(t *testing.T) {
	expected := errors.New("find failed")
	_, err := NewStaffRepository(&fakeStaffCollection{err: expected}).List(context.Background())
	if !errors.Is(err, expected) {
		t.Fatalf("expected wrapped find error, got %v", err)
	}
}

func TestRolePriority(t *testing.T) {
	tests := []struct {
		role     string
		expected int
	}{
		{RoleOwner, RolePriorityOwner},
		{RoleDev, RolePriorityDev},
		{RoleStaff, RolePriorityStaff},
		{RoleUser, RolePriorityUser},
		{"unknown", 0},
	}

	for _, tt := range tests {
		if got := RolePriority(tt.role); got != tt.expected {
			t.Fatalf("RolePriority(%s) = %d, want %d", tt.role, got, tt.expected)
		}
	}

	if RolePriority(RoleOwner) <= RolePriority(RoleDev) || RolePriority(RoleDev) <= RolePriority(RoleStaff) {
		t.Fatalf("expected owner > dev > staff")
	}
}

type fakeFindCollection struct {
	docs map[string]bson.M
}

func newFakeFindCollection(t *testing.T) *fakeFindCollection {
	t.Helper()
	return &fakeFindCollection{docs: make(map[string]bson.M)}
}

func (f *fakeFindCollection) put(t *testing.T, idKey string, document interface{}) {
	t.Helper()

	raw, err := bson.Marshal(document)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	f.docs[f.key(idKey, doc[idKey])] = doc
}

func (f *fakeFindCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	filterDoc, ok := filter.(bson.M)
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.M{}, fmt.Errorf("unexpected filter type %T", filter), nil)
	}

	for _, idKey := range []string{"user_id", "chat_id"} {
		if val, ok := filterDoc[idKey]; ok {
			doc, found := f.docs[f.key(idKey, val)]
			if !found {
				return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
			}

			return mongo.NewSingleResultFromDocument(doc, nil, nil)
		}
	}

	return mongo.NewSingleResultFromDocument(bson.M{}, fmt.Errorf("missing id filter in %v", filterDoc), nil)
}

func (f *fakeFindCollection) key(field string, value interface{}) string {
	return fmt.Sprintf("%s:%v", field, value)
}

type fakeStaffCollection struct {
	docs     []interface{}
	err      error
	lastOpts *options.FindOptions
}

func (f *fakeStaffCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	if len(opts) > 0 {
		f.lastOpts = opts[0]
	}
	if f.err != nil {
		return nil, f.err
	}
	return mongo.NewCursorFromDocuments(f.docs, nil, nil)
}
