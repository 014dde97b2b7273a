package userstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/respondentpro/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is the name of the users collection.
const Collection = "users"

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(Collection)}
}

var (
	// ErrDuplicateUser is returned when creating a user whose id or legacy id is taken.
	ErrDuplicateUser = errors.New("a user with this id already exists")
	errEmptyID       = errors.New("user id is required")
)

// GetByID loads a user by canonical id. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByLegacyUID loads the user record whose legacy_uid field equals
// legacyUID. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByLegacyUID(ctx context.Context, legacyUID string) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"legacy_uid": legacyUID}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user record.
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	if u.ID == "" {
		return models.User{}, errEmptyID
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, ErrDuplicateUser
		}
		return models.User{}, err
	}
	return u, nil
}

// IncrementProcessed adds n to the user's projects_processed_count.
// Returns mongo.ErrNoDocuments when no record is keyed by id; the counter
// is never created on its own, since a record under a new key would shadow
// the user's migrated record.
func (s *Store) IncrementProcessed(ctx context.Context, id string, n int64) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"projects_processed_count": n},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("increment processed for %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// ListIDs returns the canonical ids of all user records.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cur.Err()
}
