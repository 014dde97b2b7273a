// internal/app/store/hiddenprojects/store.go
package hiddenprojects

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/system/htmlsanitize"
	"github.com/dalemusser/respondentpro/internal/app/system/identity"
	"github.com/dalemusser/respondentpro/internal/app/system/timeouts"
	"github.com/dalemusser/respondentpro/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Collection is the name of the ledger collection.
const Collection = "hidden_projects_log"

// MaxFeedbackLen bounds stored feedback text, in runes.
const MaxFeedbackLen = 2000

// Resolver maps a caller-supplied user id to its canonical identity.
type Resolver interface {
	Resolve(ctx context.Context, userID string) identity.Identity
}

// ProcessedCounter maintains the denormalized per-user ledger counter.
type ProcessedCounter interface {
	IncrementProcessed(ctx context.Context, id string, n int64) error
}

// Store is the hidden-projects ledger. There is at most one row per
// (user_id, project_id); recording a hide again updates that row.
type Store struct {
	c     *mongo.Collection
	ids   Resolver
	users ProcessedCounter
	clock clockwork.Clock
	log   *zap.Logger
}

// New creates a ledger store. users may be nil to skip the denormalized
// counter. A nil clock means the wall clock.
func New(db *mongo.Database, ids Resolver, users ProcessedCounter, clock clockwork.Clock, logger *zap.Logger) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		c:     db.Collection(Collection),
		ids:   ids,
		users: users,
		clock: clock,
		log:   logger,
	}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// Record logs that userID hid projectID. The first call for a pair inserts
// a row and bumps the user's processed counter; later calls update
// hidden_at, hidden_method and the optional fields in place.
func (s *Store) Record(ctx context.Context, userID, projectID string, method models.HiddenMethod, feedback, category string) bool {
	if userID == "" || projectID == "" {
		return false
	}
	if !method.Valid() {
		s.log.Warn("record hidden project: unknown method",
			zap.String("user_id", userID),
			zap.String("method", string(method)),
		)
		return false
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "ledger record")
	defer cancel()

	id := s.ids.Resolve(ctx, userID)
	uid := id.Canonical
	log := s.log.With(zap.String("user_id", uid), zap.String("project_id", projectID))

	// Move legacy rows first so the upsert below finds an existing row for
	// this pair instead of adding a second one.
	if id.HasLegacy() {
		s.migrate(ctx, id)
	}

	now := s.now()
	set := bson.M{
		"hidden_at":     now,
		"hidden_method": method,
		"updated_at":    now,
	}
	if fb := htmlsanitize.Truncate(htmlsanitize.PlainText(feedback), MaxFeedbackLen); fb != "" {
		set["feedback_text"] = fb
	}
	if category != "" {
		set["category_name"] = category
	}
	filter := bson.M{"user_id": uid, "project_id": projectID}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.Update().SetUpsert(true)

	res, err := s.c.UpdateOne(ctx, filter, update, opts)
	if err != nil && wafflemongo.IsDup(err) {
		// Two upserts raced on the unique index; the row exists now.
		res, err = s.c.UpdateOne(ctx, filter, update, opts)
	}
	if err != nil {
		log.Error("record hidden project", zap.Error(err))
		return false
	}

	if res.UpsertedCount > 0 {
		s.bumpProcessed(ctx, id, log)
	}
	return true
}

// bumpProcessed increments the counter on the user's own record, which for
// a migrated account is still keyed by the legacy id. Failure is logged only.
func (s *Store) bumpProcessed(ctx context.Context, id identity.Identity, log *zap.Logger) {
	if s.users == nil {
		return
	}
	key := id.Canonical
	if id.HasLegacy() {
		key = id.Legacy
	}
	err := s.users.IncrementProcessed(ctx, key, 1)
	switch {
	case err == nil:
	case errors.Is(err, mongo.ErrNoDocuments):
		log.Debug("no user record for processed counter")
	default:
		log.Warn("increment processed counter", zap.Error(err))
	}
}

// Count returns how many projects the user has hidden. When nothing is
// stored under the canonical id but rows exist under the legacy id, those
// rows are migrated first.
func (s *Store) Count(ctx context.Context, userID string) int64 {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Batch(), s.log, "ledger count")
	defer cancel()

	id := s.ids.Resolve(ctx, userID)
	n, err := s.c.CountDocuments(ctx, bson.M{"user_id": id.Canonical})
	if err != nil {
		s.log.Error("count hidden projects", zap.String("user_id", id.Canonical), zap.Error(err))
		return 0
	}
	if n > 0 || !id.HasLegacy() {
		return n
	}

	if s.migrate(ctx, id) == 0 {
		return 0
	}
	n, err = s.c.CountDocuments(ctx, bson.M{"user_id": id.Canonical})
	if err != nil {
		s.log.Error("count hidden projects", zap.String("user_id", id.Canonical), zap.Error(err))
		return 0
	}
	return n
}

// IsHidden reports whether the user has hidden projectID. A row found only
// under the legacy id counts, and triggers migration of the user's rows.
func (s *Store) IsHidden(ctx context.Context, userID, projectID string) bool {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "ledger lookup")
	defer cancel()

	id := s.ids.Resolve(ctx, userID)
	if s.exists(ctx, id.Canonical, projectID) {
		return true
	}
	if !id.HasLegacy() || !s.exists(ctx, id.Legacy, projectID) {
		return false
	}
	s.migrate(ctx, id)
	return true
}

func (s *Store) exists(ctx context.Context, uid, projectID string) bool {
	err := s.c.FindOne(ctx,
		bson.M{"user_id": uid, "project_id": projectID},
		options.FindOne().SetProjection(bson.M{"_id": 1}),
	).Err()
	if err == nil {
		return true
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		s.log.Error("lookup hidden project",
			zap.String("user_id", uid),
			zap.String("project_id", projectID),
			zap.Error(err),
		)
	}
	return false
}

// ownerFilter matches rows of the user under either id, for read-only
// aggregates that must not miss rows still awaiting migration.
func ownerFilter(id identity.Identity) bson.M {
	if id.HasLegacy() {
		return bson.M{"user_id": bson.M{"$in": bson.A{id.Canonical, id.Legacy}}}
	}
	return bson.M{"user_id": id.Canonical}
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.HiddenProjectRecord, error) {
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var rows []models.HiddenProjectRecord
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
