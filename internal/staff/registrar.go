package staff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"riakmaw/internal/domain"
	"riakmaw/internal/logging"
)

type staffCollection interface {
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Registrar writes staff roles to the staff collection.
type Registrar struct {
	staff  staffCollection
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar for the staff collection.
func NewRegistrar(staff staffCollection, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		staff:  staff,
		logger: logger,
	}
}

// EnsureOwner upserts ownerID with role=owner and demotes any previous owners
// to dev.
func (r *Registrar) EnsureOwner(ctx context.Context, ownerID int64) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	if ownerID == 0 {
		return errors.New("owner id is required")
	}

	now := time.Now().UTC()

	demoteResult, err := r.staff.UpdateMany(ctx,
		bson.M{"role": domain.RoleOwner, "user_id": bson.M{"$ne": ownerID}},
		bson.M{"$set": bson.M{
			"role":       domain.RoleDev,
			"updated_at": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("demote previous owners: %w", err)
	}

	upsertResult, err := r.upsertRole(ctx, ownerID, domain.RoleOwner, now)
	if err != nil {
		return fmt.Errorf("ensure owner: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":          "owner_bootstrap",
		"owner_id":       ownerID,
		"demoted_owners": modifiedCount(demoteResult),
		"upserted_owner": upsertedCount(upsertResult),
	}).Info("ensured bot owner")

	return nil
}

// SetRole grants role to userID. RoleUser removes the user from staff.
// The owner role is only assigned through EnsureOwner.
func (r *Registrar) SetRole(ctx context.Context, userID int64, role string) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	if userID == 0 {
		return errors.New("user id is required")
	}

	switch role {
	case domain.RoleUser:
		if _, err := r.staff.DeleteOne(ctx, bson.M{"user_id": userID, "role": bson.M{"$ne": domain.RoleOwner}}); err != nil {
			return fmt.Errorf("remove staff %d: %w", userID, err)
		}
	case domain.RoleDev, domain.RoleStaff:
		if _, err := r.upsertRole(ctx, userID, role, time.Now().UTC()); err != nil {
			return fmt.Errorf("set role of %d: %w", userID, err)
		}
	default:
		return fmt.Errorf("role %q cannot be assigned", role)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "staff_role_changed",
		"user_id": userID,
		"role":    role,
	}).Info("staff role changed")

	return nil
}

func (r *Registrar) upsertRole(ctx context.Context, userID int64, role string, now time.Time) (*mongo.UpdateResult, error) {
	return r.staff.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$set": bson.M{
				"user_id":    userID,
				"role":       role,
				"updated_at": now,
			},
			"$setOnInsert": bson.M{
				"created_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
}

func (r *Registrar) ready(ctx context.Context) error {
	if r == nil || r.staff == nil {
		return errors.New("staff registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func modifiedCount(result *mongo.UpdateResult) int64 {
	if result == nil {
		return 0
	}
	return result.ModifiedCount
}

func upsertedCount(result *mongo.UpdateResult) int64 {
	if result == nil {
		return 0
	}
	return result.UpsertedCount
}
