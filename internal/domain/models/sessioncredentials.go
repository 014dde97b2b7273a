// internal/domain/models/sessioncredentials.go
package models

import "time"

// SessionCredentials are the upstream session cookies stored for a user
// (session_keys). Cookies are sealed at rest; the store fills Cookies on
// read and never persists it directly.
type SessionCredentials struct {
	UserID        string            `bson:"_id" json:"user_id"`
	SealedCookies string            `bson:"cookies" json:"-"`
	Cookies       map[string]string `bson:"-" json:"-"`
	ProfileID     string            `bson:"profile_id,omitempty" json:"profile_id,omitempty"`

	// IsValid is nil until the session has been verified once.
	IsValid        *bool      `bson:"is_valid,omitempty" json:"is_valid,omitempty"`
	LastVerifiedAt *time.Time `bson:"last_verified_at,omitempty" json:"last_verified_at,omitempty"`
	LastMessage    string     `bson:"last_message,omitempty" json:"last_message,omitempty"`

	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// MarkedInvalid reports whether the session was explicitly marked invalid.
func (c SessionCredentials) MarkedInvalid() bool {
	return c.IsValid != nil && !*c.IsValid
}

// UserFilters are the per-user inputs to the hide policy (user_filters).
type UserFilters struct {
	UserID       string    `bson:"_id" json:"user_id"`
	Keywords     []string  `bson:"keywords,omitempty" json:"keywords,omitempty"`
	Categories   []string  `bson:"categories,omitempty" json:"categories,omitempty"`
	MinIncentive float64   `bson:"min_incentive,omitempty" json:"min_incentive,omitempty"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}
