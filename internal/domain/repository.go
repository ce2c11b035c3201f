package domain

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type findOneCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

type findCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("not found")

// UserRepository retrieves tracked users from MongoDB.
type UserRepository struct {
	collection findOneCollection
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(collection findOneCollection) *UserRepository {
	return &UserRepository{collection: collection}
}

// GetByID fetches a user by Telegram user_id.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (User, error) {
	if r == nil || r.collection == nil {
		return User{}, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return User{}, errors.New("context is required")
	}
	if userID == 0 {
		return User{}, errors.New("user_id is required")
	}

	var user User
	if err := findOne(ctx, r.collection, bson.M{"user_id": userID}, &user); err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}

	return user, nil
}

// ChatRepository retrieves tracked chats from MongoDB.
type ChatRepository struct {
	collection findOneCollection
}

// NewChatRepository constructs a ChatRepository.
func NewChatRepository(collection findOneCollection) *ChatRepository {
	return &ChatRepository{collection: collection}
}

// GetByChatID fetches a chat by chat_id.
func (r *ChatRepository) GetByChatID(ctx context.Context, chatID int64) (Chat, error) {
	if r == nil || r.collection == nil {
		return Chat{}, errors.New("chat repository is not initialized")
	}
	if ctx == nil {
		return Chat{}, errors.New("context is required")
	}
	if chatID == 0 {
		return Chat{}, errors.New("chat_id is required")
	}

	var chat Chat
	if err := findOne(ctx, r.collection, bson.M{"chat_id": chatID}, &chat); err != nil {
		return Chat{}, fmt.Errorf("find chat: %w", err)
	}

	return chat, nil
}

// StaffRepository lists bot staff members.
type StaffRepository struct {
	collection findCollection
}

// NewStaffRepository constructs a StaffRepository.
func NewStaffRepository(collection findCollection) *StaffRepository {
	return &StaffRepository{collection: collection}
}

// List returns every staff member ordered by user_id.
func (r *StaffRepository) List(ctx context.Context) ([]StaffMember, error) {
	if r == nil || r.collection == nil {
		return nil, errors.New("staff repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find staff: %w", err)
	}

	members := make([]StaffMember, 0)
	if err := cursor.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("decode staff: %w", err)
	}

	return members, nil
}

func findOne(ctx context.Context, coll findOneCollection, filter bson.M, out interface{}) error {
	result := coll.FindOne(ctx, filter)
	if result == nil {
		return errors.New("find returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}

	if err := result.Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	return nil
}
