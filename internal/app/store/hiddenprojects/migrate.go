package hiddenprojects

import (
	"context"

	"github.com/dalemusser/respondentpro/internal/app/system/batch"
	"github.com/dalemusser/respondentpro/internal/app/system/identity"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// migrate rewrites the user_id of every row stored under the legacy id to
// the canonical id, in chunks of batch.MaxOps. A legacy row whose project is
// already recorded under the canonical id is deleted instead, keeping one
// row per pair. It returns the number of rows moved.
//
// The rewrite is not atomic. A failure leaves the remaining rows under the
// legacy id, and the next read that finds them migrates them again.
func (s *Store) migrate(ctx context.Context, id identity.Identity) int64 {
	if !id.HasLegacy() {
		return 0
	}
	log := s.log.With(zap.String("user_id", id.Canonical), zap.String("legacy_id", id.Legacy))

	legacy, err := s.projectKeys(ctx, id.Legacy)
	if err != nil {
		log.Error("list legacy ledger rows", zap.Error(err))
		return 0
	}
	if len(legacy) == 0 {
		return 0
	}
	current, err := s.projectKeys(ctx, id.Canonical)
	if err != nil {
		log.Error("list canonical ledger rows", zap.Error(err))
		return 0
	}
	have := make(map[string]struct{}, len(current))
	for _, r := range current {
		have[r.ProjectID] = struct{}{}
	}

	now := s.now()
	writes := make([]mongo.WriteModel, 0, len(legacy))
	var moved, dropped int64
	for _, r := range legacy {
		if _, dup := have[r.ProjectID]; dup {
			writes = append(writes, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": r.ID}))
			dropped++
			continue
		}
		have[r.ProjectID] = struct{}{}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": r.ID, "user_id": id.Legacy}).
			SetUpdate(bson.M{"$set": bson.M{"user_id": id.Canonical, "updated_at": now}}))
		moved++
	}

	res, err := batch.Write(ctx, s.c, writes)
	if err != nil {
		log.Error("migrate legacy ledger rows",
			zap.Int("chunks_written", res.Chunks),
			zap.Int64("modified", res.Modified),
			zap.Error(err),
		)
		return res.Modified
	}
	log.Info("migrated legacy ledger rows",
		zap.Int64("moved", moved),
		zap.Int64("dropped_duplicates", dropped),
		zap.Int("chunks", res.Chunks),
	)
	return res.Modified
}

type projectKey struct {
	ID        primitive.ObjectID `bson:"_id"`
	ProjectID string             `bson:"project_id"`
}

func (s *Store) projectKeys(ctx context.Context, uid string) ([]projectKey, error) {
	cur, err := s.c.Find(ctx,
		bson.M{"user_id": uid},
		options.Find().SetProjection(bson.M{"_id": 1, "project_id": 1}),
	)
	if err != nil {
		return nil, err
	}
	var rows []projectKey
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
