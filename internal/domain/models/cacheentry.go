// internal/domain/models/cacheentry.go
package models

import "time"

// CacheEntry holds the cache metadata for one user (projects_cache).
// It owns the CachedProject documents in projects_cache_items that carry
// the same UserID.
type CacheEntry struct {
	UserID      string    `bson:"_id" json:"user_id"`
	CachedAt    time.Time `bson:"cached_at" json:"cached_at"`
	LastUpdated time.Time `bson:"last_updated" json:"last_updated"`

	// TotalCount equals the number of children right after ReplaceAll.
	// DeleteSet lowers it by an estimate, so it may under-count until the
	// next live recount.
	TotalCount int `bson:"total_count" json:"total_count"`
}

// CachedProject is one child record of a CacheEntry.
// ID is "<user_id>/<project_id>".
type CachedProject struct {
	ID        string  `bson:"_id" json:"-"`
	UserID    string  `bson:"user_id" json:"user_id"`
	ProjectID string  `bson:"project_id" json:"project_id"`
	Data      Project `bson:"data" json:"data"`
}

// CachedProjectID builds the child document key for a user's project.
func CachedProjectID(userID, projectID string) string {
	return userID + "/" + projectID
}

// ProjectDetails caches the full upstream details document of a project.
type ProjectDetails struct {
	ProjectID   string    `bson:"_id" json:"project_id"`
	Details     Project   `bson:"details" json:"details"`
	CachedAt    time.Time `bson:"cached_at" json:"cached_at"`
	LastUpdated time.Time `bson:"last_updated" json:"last_updated"`
}
