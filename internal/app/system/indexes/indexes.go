// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup. Each collection's set is reconciled
idempotently. Errors are aggregated so every problem is visible and startup
can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	for _, set := range collectionSets() {
		if err := ensureIndexSet(ctx, db.Collection(set.collection), set.models); err != nil {
			problems = append(problems, set.collection+": "+err.Error())
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

type indexSet struct {
	collection string
	models     []mongo.IndexModel
}

func collectionSets() []indexSet {
	return []indexSet{
		{"users", []mongo.IndexModel{
			// identity resolution by cross-reference
			{
				Keys:    bson.D{{Key: "legacy_uid", Value: 1}},
				Options: options.Index().SetName("idx_users_legacy_uid"),
			},
		}},
		{"projects_cache", []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "cached_at", Value: 1}},
				Options: options.Index().SetName("idx_projects_cache_cached_at"),
			},
		}},
		{"projects_cache_items", []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetName("idx_projects_cache_items_user"),
			},
		}},
		{"hidden_projects_log", []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "project_id", Value: 1}},
				Options: options.Index().SetName("uniq_hidden_projects_user_project").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "hidden_at", Value: -1}},
				Options: options.Index().SetName("idx_hidden_projects_user_hidden_at"),
			},
		}},
		{"project_details", []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "cached_at", Value: 1}},
				Options: options.Index().SetName("idx_project_details_cached_at"),
			},
		}},
	}
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique *bool  `bson:"unique,omitempty"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func sameBoolPtr(a, b *bool) bool {
	av := false
	bv := false
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}

// Best-effort duplicate-detector (works cross-vendors)
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "E11000") || strings.Contains(strings.ToLower(s), "duplicate key")
}

// Mongo/DocDB sometimes returns IndexOptionsConflict when an index with the
// same keys already exists under a different name (or options differ).
func isOptionsConflictErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "IndexOptionsConflict")
}

// duplicateHint points operators at the rows blocking a unique index.
func duplicateHint(coll, sig string) string {
	if coll == "hidden_projects_log" && strings.Contains(sig, "project_id:1") {
		return " (duplicates exist on hidden_projects_log user_id+project_id. Example finder:\n" +
			`db.hidden_projects_log.aggregate([{ $group: { _id: { u: "$user_id", p: "$project_id" }, n: { $sum: 1 } } }, { $match: { n: { $gt: 1 } } }])` + ")"
	}
	return ""
}

func listIndexes(ctx context.Context, coll *mongo.Collection) map[string]existingIndex {
	existing := map[string]existingIndex{} // sig -> index
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return existing
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()),
				zap.Error(err))
			continue
		}
		existing[keySig(idx.Key)] = idx
	}
	return existing
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	var errs []string

	for _, m := range models {
		if err := ensureIndex(ctx, coll, m); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func ensureIndex(ctx context.Context, coll *mongo.Collection, m mongo.IndexModel) error {
	var desiredName string
	var desiredUnique *bool
	if m.Options != nil {
		if m.Options.Name != nil {
			desiredName = *m.Options.Name
		}
		desiredUnique = m.Options.Unique
	}
	unique := desiredUnique != nil && *desiredUnique
	desiredSig := keySig(m.Keys.(bson.D))
	log := zap.L().With(
		zap.String("collection", coll.Name()),
		zap.String("name", desiredName),
		zap.String("keys", desiredSig),
		zap.Bool("unique", unique),
	)

	start := time.Now()
	log.Info("ensuring index")

	ex, found := listIndexes(ctx, coll)[desiredSig]
	if found && sameBoolPtr(desiredUnique, ex.Unique) && (desiredName == "" || ex.Name == desiredName) {
		log.Info("reusing existing index", zap.String("took", time.Since(start).String()))
		return nil
	}

	if found {
		// Name or options differ (e.g., upgrading to unique). Drop & recreate.
		log.Info("recreating index to align name and options", zap.String("existing", ex.Name))
		if _, err := coll.Indexes().DropOne(ctx, ex.Name); err != nil {
			log.Warn("drop existing index failed", zap.String("existing", ex.Name), zap.Error(err))
			return fmt.Errorf("%s(%s): drop failed: %v", coll.Name(), desiredName, err)
		}
	}

	created, err := coll.Indexes().CreateOne(ctx, m)
	if err != nil && isOptionsConflictErr(err) && !found {
		// Same keys under another name appeared between List and CreateOne.
		if ex, ok := listIndexes(ctx, coll)[desiredSig]; ok {
			if sameBoolPtr(desiredUnique, ex.Unique) {
				log.Info("reusing existing index (post-conflict)", zap.String("existing", ex.Name))
				return nil
			}
			if _, dropErr := coll.Indexes().DropOne(ctx, ex.Name); dropErr != nil {
				log.Warn("failed to drop conflicting index", zap.String("existing", ex.Name), zap.Error(dropErr))
			}
			created, err = coll.Indexes().CreateOne(ctx, m)
		}
	}
	if err != nil {
		log.Warn("index ensure failed", zap.String("took", time.Since(start).String()), zap.Error(err))
		if isDuplicateKeyErr(err) && unique {
			return fmt.Errorf("%s(%s): cannot create unique index (duplicates present)%s",
				coll.Name(), desiredName, duplicateHint(coll.Name(), desiredSig))
		}
		return fmt.Errorf("%s(%s): %v", coll.Name(), desiredName, err)
	}

	log.Info("index ensured",
		zap.String("created_name", created),
		zap.String("took", time.Since(start).String()))
	return nil
}
