package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"riakmaw/internal/logging"
)

type collection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Registrar keeps the users and chats collections in step with what the bot
// sees: who talks where, who left and which groups were upgraded.
type Registrar struct {
	users  collection
	chats  collection
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar over the users and chats collections.
func NewRegistrar(users, chats collection, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		chats:  chats,
		logger: logger,
	}
}

// EnsureUser upserts user, refreshing its names and last_seen_at. A non-zero
// groupID is added to the chats the user was seen in.
func (r *Registrar) EnsureUser(ctx context.Context, user *models.User, groupID int64) (bool, error) {
	if err := r.ready(ctx); err != nil {
		return false, err
	}
	if user == nil || user.ID == 0 {
		return false, errors.New("user id is required")
	}

	ts := now()
	set := bson.M{
		"name":         displayName(user),
		"updated_at":   ts,
		"last_seen_at": ts,
	}
	if user.Username != "" {
		set["username"] = user.Username
	}

	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"user_id":    user.ID,
			"created_at": ts,
		},
	}
	if groupID != 0 {
		update["$addToSet"] = bson.M{"chats": groupID}
	} else {
		update["$setOnInsert"].(bson.M)["chats"] = bson.A{}
	}

	result, err := r.users.UpdateOne(ctx, bson.M{"user_id": user.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("ensure user: %w", err)
	}

	created := result != nil && result.UpsertedCount > 0
	if created {
		r.logger.WithFields(logging.Fields{
			"event":   "user_registered",
			"user_id": user.ID,
		}).Info("registered new user")
		return true, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_seen",
		"user_id": user.ID,
	}).Debug("updated user last seen")

	return false, nil
}

// EnsureChat upserts a group chat, refreshing title and type. A non-zero
// memberID is added to its members.
func (r *Registrar) EnsureChat(ctx context.Context, chat models.Chat, memberID int64) (bool, error) {
	if err := r.ready(ctx); err != nil {
		return false, err
	}
	if chat.ID == 0 {
		return false, errors.New("chat id is required")
	}

	ts := now()
	set := bson.M{
		"type":         string(chat.Type),
		"last_seen_at": ts,
	}
	if title := strings.TrimSpace(chat.Title); title != "" {
		set["title"] = title
	}

	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"chat_id":   chat.ID,
			"joined_at": ts,
		},
	}
	if memberID != 0 {
		update["$addToSet"] = bson.M{"members": memberID}
	} else {
		update["$setOnInsert"].(bson.M)["members"] = bson.A{}
	}

	result, err := r.chats.UpdateOne(ctx, bson.M{"chat_id": chat.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("ensure chat: %w", err)
	}

	created := result != nil && result.UpsertedCount > 0
	if created {
		r.logger.WithFields(logging.Fields{
			"event":   "chat_registered",
			"chat_id": chat.ID,
			"title":   chat.Title,
		}).Info("registered new chat")
		return true, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "chat_seen",
		"chat_id": chat.ID,
	}).Debug("updated chat last seen")

	return false, nil
}

// RemoveMember drops the link between userID and chatID on both sides.
func (r *Registrar) RemoveMember(ctx context.Context, chatID, userID int64) error {
	if err := r.ready(ctx); err != nil {
		return err
	}

	if _, err := r.chats.UpdateOne(ctx, bson.M{"chat_id": chatID}, bson.M{"$pull": bson.M{"members": userID}}); err != nil {
		return fmt.Errorf("remove member %d from chat %d: %w", userID, chatID, err)
	}
	if _, err := r.users.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$pull": bson.M{"chats": chatID}}); err != nil {
		return fmt.Errorf("remove chat %d from user %d: %w", chatID, userID, err)
	}

	return nil
}

// ForgetChat deletes chatID and unlinks it from every user.
func (r *Registrar) ForgetChat(ctx context.Context, chatID int64) error {
	if err := r.ready(ctx); err != nil {
		return err
	}

	if _, err := r.chats.DeleteOne(ctx, bson.M{"chat_id": chatID}); err != nil {
		return fmt.Errorf("delete chat %d: %w", chatID, err)
	}
	if _, err := r.users.UpdateMany(ctx, bson.M{"chats": chatID}, bson.M{"$pull": bson.M{"chats": chatID}}); err != nil {
		return fmt.Errorf("unlink chat %d: %w", chatID, err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "chat_forgotten",
		"chat_id": chatID,
	}).Info("bot left chat")

	return nil
}

// Migrate moves a group that was upgraded to a supergroup to its new id.
func (r *Registrar) Migrate(ctx context.Context, from, to int64) error {
	if err := r.ready(ctx); err != nil {
		return err
	}

	if _, err := r.chats.UpdateOne(ctx, bson.M{"chat_id": from}, bson.M{"$set": bson.M{"chat_id": to}}); err != nil {
		return fmt.Errorf("migrate chat %d: %w", from, err)
	}
	if _, err := r.users.UpdateMany(ctx, bson.M{"chats": from}, bson.M{"$set": bson.M{"chats.$": to}}); err != nil {
		return fmt.Errorf("migrate user chats %d: %w", from, err)
	}

	r.logger.WithFields(logging.Fields{
		"event": "chat_migrated",
		"from":  from,
		"to":    to,
	}).Info("chat migrated to supergroup")

	return nil
}

func (r *Registrar) ready(ctx context.Context) error {
	if r == nil || r.users == nil || r.chats == nil {
		return errors.New("users registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func displayName(user *models.User) string {
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}
