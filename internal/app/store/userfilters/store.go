package userfilters

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/respondentpro/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is the name of the per-user filter collection.
const Collection = "user_filters"

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(Collection)}
}

// Get returns the user's filters. A user without stored filters gets an
// empty value with UserID set; that is not an error.
func (s *Store) Get(ctx context.Context, userID string) (models.UserFilters, error) {
	var f models.UserFilters
	err := s.c.FindOne(ctx, bson.M{"_id": userID}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.UserFilters{UserID: userID}, nil
	}
	if err != nil {
		return models.UserFilters{}, err
	}
	return f, nil
}

// Save replaces the user's filters.
func (s *Store) Save(ctx context.Context, f models.UserFilters) error {
	f.UpdatedAt = time.Now().UTC()
	_, err := s.c.ReplaceOne(ctx, bson.M{"_id": f.UserID}, f, options.Replace().SetUpsert(true))
	return err
}
