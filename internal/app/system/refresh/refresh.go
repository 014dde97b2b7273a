// Package refresh re-fetches stale per-user project caches from the
// upstream API, applies the hide policy and rewrites the cache.
//
// A sweep lists candidate users and runs each one as an independent unit
// on a bounded worker pool. Per-user failures are logged and counted; they
// never stop the sweep, and a sweep never returns an error to its caller.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/store/credentials"
	"github.com/dalemusser/respondentpro/internal/app/system/identity"
	"github.com/dalemusser/respondentpro/internal/app/system/respondent"
	"github.com/dalemusser/respondentpro/internal/domain/models"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxAge is the cache age past which a user is refreshed.
const DefaultMaxAge = 24 * time.Hour

// MaxAgeHoursLimit bounds a caller-supplied max age in hours. Ten years is
// far past any useful staleness threshold and well inside time.Duration.
const MaxAgeHoursLimit = 24 * 365 * 10

// Status is the terminal state of one user in a sweep.
type Status string

const (
	StatusRefreshed        Status = "refreshed"
	StatusError            Status = "error"
	StatusSkippedFresh     Status = "skipped_fresh"
	StatusSkippedNoSession Status = "skipped_no_session"
	StatusSkippedInvalid   Status = "skipped_invalid_session"
	StatusSkippedNoID      Status = "skipped_no_id"
)

// Outcome is the result of refreshing one user.
type Outcome struct {
	UserID   string `json:"user_id"`
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Projects int    `json:"projects"`
	Hidden   int    `json:"hidden"`
}

// Identities resolves caller ids to canonical identities.
type Identities interface {
	Resolve(ctx context.Context, userID string) identity.Identity
}

// Cache is the project cache as the refresh sees it.
type Cache interface {
	IsFresh(ctx context.Context, userID string, maxAge time.Duration) bool
	ReplaceAll(ctx context.Context, userID string, projects []models.Project, totalCount int) bool
	DeleteSet(ctx context.Context, userID string, projectIDs []string) bool
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Ledger records hides.
type Ledger interface {
	Record(ctx context.Context, userID, projectID string, method models.HiddenMethod, feedback, category string) bool
}

// Credentials loads and updates stored upstream sessions.
type Credentials interface {
	Get(ctx context.Context, userID string) (models.SessionCredentials, error)
	MarkValidity(ctx context.Context, userID string, v credentials.Validity) error
}

// Filters loads the user's hide-policy inputs.
type Filters interface {
	Get(ctx context.Context, userID string) (models.UserFilters, error)
}

// Users lists every user record.
type Users interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Deps are the collaborators of a Refresher. All are required.
type Deps struct {
	Identities  Identities
	Cache       Cache
	Ledger      Ledger
	Credentials Credentials
	Filters     Filters
	Users       Users

	Fetcher  respondent.Fetcher
	Hider    respondent.HideAPI
	Verifier respondent.Verifier
	Policy   respondent.HidePolicy
}

// Refresher runs refresh sweeps.
type Refresher struct {
	deps     Deps
	poolSize int
	clock    clockwork.Clock
	log      *zap.Logger

	// collapses concurrent refreshes of the same canonical id
	flight singleflight.Group

	mu      sync.Mutex
	running map[string]bool // sweep kind -> in progress
	wg      sync.WaitGroup
}

// New creates a Refresher. poolSize bounds concurrent users per sweep.
func New(deps Deps, poolSize int, clock clockwork.Clock, logger *zap.Logger) *Refresher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		deps:     deps,
		poolSize: poolSize,
		clock:    clock,
		log:      logger,
		running:  map[string]bool{},
	}
}
