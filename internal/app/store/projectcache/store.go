// internal/app/store/projectcache/store.go
package projectcache

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/system/batch"
	"github.com/dalemusser/respondentpro/internal/app/system/identity"
	"github.com/dalemusser/respondentpro/internal/app/system/timeouts"
	"github.com/dalemusser/respondentpro/internal/domain/models"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Collection names.
const (
	EntriesCollection = "projects_cache"
	ItemsCollection   = "projects_cache_items"
)

// Resolver maps a caller-supplied user id to its canonical identity.
type Resolver interface {
	Resolve(ctx context.Context, userID string) identity.Identity
}

// Snapshot is what GetProjects returns for a user.
type Snapshot struct {
	Projects []models.Project
	CachedAt time.Time
	// TotalCount is the live number of cached projects.
	TotalCount int
}

// Stats describes a user's cache entry for observability.
type Stats struct {
	Exists      bool       `json:"exists"`
	CachedAt    *time.Time `json:"cached_at,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	TotalCount  int        `json:"total_count"`
}

// Store keeps one CacheEntry per user in projects_cache and the user's
// projects as CachedProject documents in projects_cache_items.
//
// Mutations return false on backend failure after logging; they never
// return the error itself.
type Store struct {
	entries *mongo.Collection
	items   *mongo.Collection
	ids     Resolver
	clock   clockwork.Clock
	log     *zap.Logger
}

// New creates a project cache store. A nil clock means the wall clock.
func New(db *mongo.Database, ids Resolver, clock clockwork.Clock, logger *zap.Logger) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries: db.Collection(EntriesCollection),
		items:   db.Collection(ItemsCollection),
		ids:     ids,
		clock:   clock,
		log:     logger,
	}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Store) canonical(ctx context.Context, userID string) string {
	return s.ids.Resolve(ctx, userID).Canonical
}

// entry loads the cache entry for a canonical id. ok is false when the
// entry does not exist or could not be read.
func (s *Store) entry(ctx context.Context, uid string) (models.CacheEntry, bool) {
	var e models.CacheEntry
	err := s.entries.FindOne(ctx, bson.M{"_id": uid}).Decode(&e)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			s.log.Error("read cache entry", zap.String("user_id", uid), zap.Error(err))
		}
		return models.CacheEntry{}, false
	}
	return e, true
}

// IsFresh reports whether the user's cache was written less than maxAge ago.
// A missing entry or an unset timestamp is never fresh.
func (s *Store) IsFresh(ctx context.Context, userID string, maxAge time.Duration) bool {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "cache freshness check")
	defer cancel()

	uid := s.canonical(ctx, userID)
	e, ok := s.entry(ctx, uid)
	if !ok || e.CachedAt.IsZero() {
		return false
	}
	return s.now().Sub(e.CachedAt.UTC()) < maxAge
}

// GetProjects returns the user's cached projects. TotalCount is the live
// child count; when it differs from the stored estimate the stored value is
// corrected.
func (s *Store) GetProjects(ctx context.Context, userID string) (*Snapshot, bool) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Batch(), s.log, "cache read")
	defer cancel()

	uid := s.canonical(ctx, userID)
	e, ok := s.entry(ctx, uid)
	if !ok {
		return nil, false
	}

	cur, err := s.items.Find(ctx, bson.M{"user_id": uid})
	if err != nil {
		s.log.Error("read cached projects", zap.String("user_id", uid), zap.Error(err))
		return nil, false
	}
	defer cur.Close(ctx)

	projects := make([]models.Project, 0, e.TotalCount)
	for cur.Next(ctx) {
		var cp models.CachedProject
		if err := cur.Decode(&cp); err != nil {
			s.log.Warn("skip undecodable cached project", zap.String("user_id", uid), zap.Error(err))
			continue
		}
		if cp.Data == nil {
			cp.Data = models.Project{"id": cp.ProjectID}
		}
		projects = append(projects, cp.Data.Normalized())
	}
	if err := cur.Err(); err != nil {
		s.log.Error("iterate cached projects", zap.String("user_id", uid), zap.Error(err))
		return nil, false
	}

	if len(projects) != e.TotalCount {
		s.reconcileCount(ctx, uid, e.TotalCount, len(projects))
	}
	return &Snapshot{
		Projects:   projects,
		CachedAt:   e.CachedAt.UTC(),
		TotalCount: len(projects),
	}, true
}

// reconcileCount writes the live count back over a drifted estimate.
// Failure is logged only.
func (s *Store) reconcileCount(ctx context.Context, uid string, stored, live int) {
	_, err := s.entries.UpdateOne(ctx,
		bson.M{"_id": uid},
		bson.M{"$set": bson.M{"total_count": live}},
	)
	if err != nil {
		s.log.Warn("reconcile cache count", zap.String("user_id", uid), zap.Error(err))
		return
	}
	s.log.Debug("reconciled cache count",
		zap.String("user_id", uid),
		zap.Int("stored", stored),
		zap.Int("live", live),
	)
}

// ReplaceAll overwrites the user's cached projects with projects and sets
// the entry's timestamps and total count. Existing children are deleted
// before the new set is written, both in chunks of batch.MaxOps, so a
// concurrent reader can observe an empty or partial set.
//
// Projects without an id are skipped. A negative totalCount means "use the
// number of projects written".
func (s *Store) ReplaceAll(ctx context.Context, userID string, projects []models.Project, totalCount int) bool {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Batch(), s.log, "cache replace")
	defer cancel()

	uid := s.canonical(ctx, userID)
	log := s.log.With(zap.String("user_id", uid))

	if err := s.deleteChildren(ctx, uid); err != nil {
		log.Error("clear cached projects", zap.Error(err))
		return false
	}

	writes := make([]mongo.WriteModel, 0, len(projects))
	seen := make(map[string]struct{}, len(projects))
	for _, p := range projects {
		pid := p.ID()
		if pid == "" {
			log.Warn("skip project without id")
			continue
		}
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}

		doc := models.CachedProject{
			ID:        models.CachedProjectID(uid, pid),
			UserID:    uid,
			ProjectID: pid,
			Data:      p,
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if len(writes) > 0 {
		if _, err := batch.Write(ctx, s.items, writes); err != nil {
			log.Error("write cached projects", zap.Int("projects", len(writes)), zap.Error(err))
			return false
		}
	}

	if totalCount < 0 {
		totalCount = len(writes)
	}
	now := s.now()
	_, err := s.entries.UpdateOne(ctx,
		bson.M{"_id": uid},
		bson.M{"$set": bson.M{
			"user_id":      uid,
			"cached_at":    now,
			"last_updated": now,
			"total_count":  totalCount,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		log.Error("write cache entry", zap.Error(err))
		return false
	}
	log.Debug("cache replaced", zap.Int("projects", len(writes)), zap.Int("total_count", totalCount))
	return true
}

func (s *Store) deleteChildren(ctx context.Context, uid string) error {
	cur, err := s.items.Find(ctx, bson.M{"user_id": uid}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return err
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	deletes := make([]mongo.WriteModel, 0, len(rows))
	for _, r := range rows {
		deletes = append(deletes, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": r.ID}))
	}
	_, err = batch.Write(ctx, s.items, deletes)
	return err
}

// DeleteSet removes the given projects from the user's cache and lowers the
// stored total by len(projectIDs), never below zero. The new total is an
// estimate: ids that were already absent, or repeated, still count.
//
// An empty id list succeeds without writing. A user with no cache entry
// returns false.
func (s *Store) DeleteSet(ctx context.Context, userID string, projectIDs []string) bool {
	if len(projectIDs) == 0 {
		return true
	}
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Batch(), s.log, "cache delete set")
	defer cancel()

	uid := s.canonical(ctx, userID)
	log := s.log.With(zap.String("user_id", uid))

	if _, ok := s.entry(ctx, uid); !ok {
		log.Debug("delete set on missing cache entry")
		return false
	}

	deletes := make([]mongo.WriteModel, 0, len(projectIDs))
	for _, pid := range projectIDs {
		deletes = append(deletes, mongo.NewDeleteOneModel().
			SetFilter(bson.M{"_id": models.CachedProjectID(uid, pid)}))
	}
	res, err := batch.Write(ctx, s.items, deletes)
	if err != nil {
		log.Error("delete cached projects", zap.Int("requested", len(projectIDs)), zap.Error(err))
		return false
	}

	update := bson.A{
		bson.M{"$set": bson.M{
			"total_count": bson.M{"$max": bson.A{
				0,
				bson.M{"$subtract": bson.A{bson.M{"$ifNull": bson.A{"$total_count", 0}}, len(projectIDs)}},
			}},
			"last_updated": s.now(),
		}},
	}
	if _, err := s.entries.UpdateOne(ctx, bson.M{"_id": uid}, update); err != nil {
		log.Error("update cache count after delete", zap.Error(err))
		return false
	}
	log.Debug("cache delete set",
		zap.Int("requested", len(projectIDs)),
		zap.Int64("deleted", res.Deleted),
	)
	return true
}

// Stats reports the user's cache entry with an exact recount of children.
func (s *Store) Stats(ctx context.Context, userID string) Stats {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "cache stats")
	defer cancel()

	uid := s.canonical(ctx, userID)
	e, ok := s.entry(ctx, uid)
	if !ok {
		return Stats{}
	}

	live, err := s.items.CountDocuments(ctx, bson.M{"user_id": uid})
	if err != nil {
		s.log.Error("count cached projects", zap.String("user_id", uid), zap.Error(err))
		live = int64(e.TotalCount)
	} else if int(live) != e.TotalCount {
		s.reconcileCount(ctx, uid, e.TotalCount, int(live))
	}

	st := Stats{Exists: true, TotalCount: int(live)}
	if !e.CachedAt.IsZero() {
		t := e.CachedAt.UTC()
		st.CachedAt = &t
	}
	if !e.LastUpdated.IsZero() {
		t := e.LastUpdated.UTC()
		st.LastUpdated = &t
	}
	return st
}

// Delete removes the user's cache entry and all of its projects.
func (s *Store) Delete(ctx context.Context, userID string) bool {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Batch(), s.log, "cache delete")
	defer cancel()

	uid := s.canonical(ctx, userID)
	if err := s.deleteChildren(ctx, uid); err != nil {
		s.log.Error("delete cached projects", zap.String("user_id", uid), zap.Error(err))
		return false
	}
	if _, err := s.entries.DeleteOne(ctx, bson.M{"_id": uid}); err != nil {
		s.log.Error("delete cache entry", zap.String("user_id", uid), zap.Error(err))
		return false
	}
	return true
}

// ListUserIDs returns the owners of all cache entries.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "cache list owners")
	defer cancel()

	vals, err := s.entries.Distinct(ctx, "_id", bson.M{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(vals))
	for _, v := range vals {
		if id, ok := v.(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
