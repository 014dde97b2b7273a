// Package projectdetails caches full upstream project details documents,
// shared by all users.
package projectdetails

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/respondentpro/internal/domain/models"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Collection is the name of the details collection.
const Collection = "project_details"

type Store struct {
	c     *mongo.Collection
	clock clockwork.Clock
	log   *zap.Logger
}

func New(db *mongo.Database, clock clockwork.Clock, logger *zap.Logger) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{c: db.Collection(Collection), clock: clock, log: logger}
}

// Get returns the cached details for projectID when they were written less
// than maxAge ago. A maxAge of zero or less accepts any age.
func (s *Store) Get(ctx context.Context, projectID string, maxAge time.Duration) (models.Project, bool) {
	var d models.ProjectDetails
	if err := s.c.FindOne(ctx, bson.M{"_id": projectID}).Decode(&d); err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			s.log.Error("read project details", zap.String("project_id", projectID), zap.Error(err))
		}
		return nil, false
	}
	if maxAge > 0 && s.clock.Now().UTC().Sub(d.LastUpdated.UTC()) >= maxAge {
		return nil, false
	}
	return d.Details.Normalized(), true
}

// Put stores details for projectID. cached_at is kept from the first write.
func (s *Store) Put(ctx context.Context, projectID string, details models.Project) bool {
	now := s.clock.Now().UTC()
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": projectID},
		bson.M{
			"$set":         bson.M{"details": details, "last_updated": now},
			"$setOnInsert": bson.M{"cached_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		s.log.Error("write project details", zap.String("project_id", projectID), zap.Error(err))
		return false
	}
	return true
}
