package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dalemusser/respondentpro/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
)

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser inserts a user record under the canonical id.
func (f *Fixtures) CreateUser(ctx context.Context, id string) models.User {
	f.t.Helper()
	return f.insertUser(ctx, models.User{ID: id})
}

// CreateMigratedUser inserts a user record still keyed by its pre-migration
// id that cross-references the canonical id the account now uses.
func (f *Fixtures) CreateMigratedUser(ctx context.Context, legacyKey, canonicalID string) models.User {
	f.t.Helper()
	return f.insertUser(ctx, models.User{ID: legacyKey, LegacyUID: canonicalID})
}

func (f *Fixtures) insertUser(ctx context.Context, u models.User) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	if _, err := f.db.Collection("users").InsertOne(ctx, u); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

// InsertHiddenRecords writes ledger rows directly, bypassing identity
// resolution. Use it to seed rows that still carry a legacy user id.
func (f *Fixtures) InsertHiddenRecords(ctx context.Context, userID string, projectIDs ...string) {
	f.t.Helper()

	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(projectIDs))
	for i, pid := range projectIDs {
		at := now.Add(-time.Duration(i) * time.Minute)
		docs = append(docs, models.HiddenProjectRecord{
			UserID:       userID,
			ProjectID:    pid,
			HiddenAt:     at,
			HiddenMethod: models.HiddenManual,
			CreatedAt:    at,
			UpdatedAt:    at,
		})
	}
	if len(docs) == 0 {
		return
	}
	if _, err := f.db.Collection("hidden_projects_log").InsertMany(ctx, docs); err != nil {
		f.t.Fatalf("failed to insert hidden records: %v", err)
	}
}

// Projects builds n upstream projects with ids "<prefix>-0" .. "<prefix>-(n-1)".
func Projects(prefix string, n int) []models.Project {
	out := make([]models.Project, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Project{
			"id":          fmt.Sprintf("%s-%d", prefix, i),
			"name":        fmt.Sprintf("Project %d", i),
			"description": "A paid research study",
		})
	}
	return out
}
