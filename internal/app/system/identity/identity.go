// Package identity maps a caller-supplied user id to the canonical id and,
// for migrated accounts, the legacy id that older documents still carry.
//
// Resolution never fails. A caller id is confirmed as canonical when a user
// record exists under it, paired with a legacy id when some user record
// names it as legacy_uid, and otherwise passed through unchanged.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/system/timeouts"
	"github.com/dalemusser/respondentpro/internal/domain/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Default memo sizing.
const (
	DefaultCacheSize = 10000
	DefaultCacheTTL  = time.Hour
)

// Identity is the result of resolving a user id.
type Identity struct {
	Canonical string
	Legacy    string // empty when the account was never migrated
}

// HasLegacy reports whether a legacy id is known for the user.
func (i Identity) HasLegacy() bool {
	return i.Legacy != "" && i.Legacy != i.Canonical
}

// UserLookup is the subset of the users store the resolver reads.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByLegacyUID(ctx context.Context, legacyUID string) (*models.User, error)
}

// Resolver resolves user ids. It is safe for concurrent use.
type Resolver struct {
	users UserLookup
	log   *zap.Logger
	memo  *expirable.LRU[string, Identity] // nil when memoization is off
}

// NewResolver creates a resolver. A size below 1 disables memoization.
func NewResolver(users UserLookup, size int, ttl time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{users: users, log: logger}
	if size > 0 {
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		r.memo = expirable.NewLRU[string, Identity](size, nil, ttl)
	}
	return r
}

// Resolve returns the identity for userID. Lookup errors are logged and
// treated as "not found".
func (r *Resolver) Resolve(ctx context.Context, userID string) Identity {
	if userID == "" {
		return Identity{}
	}
	if id, ok := r.cached(userID); ok {
		return id
	}

	if r.exists(ctx, userID) {
		id := Identity{Canonical: userID}
		r.remember(userID, id)
		return id
	}

	if legacy := r.legacyFor(ctx, userID); legacy != "" {
		id := Identity{Canonical: userID, Legacy: legacy}
		r.remember(userID, id)
		return id
	}

	// Misses are not memoized; the record may be created later.
	return Identity{Canonical: userID}
}

func (r *Resolver) exists(ctx context.Context, userID string) bool {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), r.log, "identity lookup by id")
	defer cancel()

	_, err := r.users.GetByID(ctx, userID)
	if err == nil {
		return true
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		r.log.Warn("identity lookup by id failed", zap.String("user_id", userID), zap.Error(err))
	}
	return false
}

func (r *Resolver) legacyFor(ctx context.Context, userID string) string {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), r.log, "identity lookup by legacy uid")
	defer cancel()

	u, err := r.users.GetByLegacyUID(ctx, userID)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			r.log.Warn("identity lookup by legacy uid failed", zap.String("user_id", userID), zap.Error(err))
		}
		return ""
	}
	if u == nil || u.ID == userID {
		return ""
	}
	return u.ID
}

func (r *Resolver) cached(userID string) (Identity, bool) {
	if r.memo == nil {
		return Identity{}, false
	}
	return r.memo.Get(userID)
}

func (r *Resolver) remember(userID string, id Identity) {
	if r.memo == nil {
		return
	}
	r.memo.Add(userID, id)
}

// Forget drops any memoized result for userID.
func (r *Resolver) Forget(userID string) {
	if r.memo == nil {
		return
	}
	r.memo.Remove(userID)
}
