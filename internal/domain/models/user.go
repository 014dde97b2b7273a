// internal/domain/models/user.go
package models

import "time"

// User is an account record in the users collection.
//
// ID is the document key. For accounts created under the current identity
// scheme it is the canonical user id. Accounts carried over from the
// previous scheme keep their old key as ID and record the canonical id they
// are now known by in LegacyUID (the uid from the legacy migration). Data
// written before the migration still carries the old key in its user_id
// field.
type User struct {
	ID        string `bson:"_id" json:"id"`
	LegacyUID string `bson:"legacy_uid,omitempty" json:"legacy_uid,omitempty"`
	Email     string `bson:"email,omitempty" json:"email,omitempty"`

	// Denormalized number of hidden-project ledger rows created for this
	// user. Best-effort; the ledger itself is authoritative.
	ProjectsProcessedCount int64 `bson:"projects_processed_count" json:"projects_processed_count"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
