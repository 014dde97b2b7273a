// internal/domain/models/hiddenproject.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// HiddenMethod records how a project came to be hidden.
type HiddenMethod string

const (
	HiddenManual        HiddenMethod = "manual"
	HiddenAutoSimilar   HiddenMethod = "auto_similar"
	HiddenCategory      HiddenMethod = "category"
	HiddenFeedbackBased HiddenMethod = "feedback_based"
	HiddenAIAuto        HiddenMethod = "ai_auto"
)

// Valid reports whether m is one of the known methods.
func (m HiddenMethod) Valid() bool {
	switch m {
	case HiddenManual, HiddenAutoSimilar, HiddenCategory, HiddenFeedbackBased, HiddenAIAuto:
		return true
	}
	return false
}

// HiddenProjectRecord is one row of the hidden-projects ledger.
// There is at most one record per (UserID, ProjectID).
type HiddenProjectRecord struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"user_id" json:"user_id"`
	ProjectID    string             `bson:"project_id" json:"project_id"`
	HiddenAt     time.Time          `bson:"hidden_at" json:"hidden_at"`
	HiddenMethod HiddenMethod       `bson:"hidden_method" json:"hidden_method"`
	FeedbackText string             `bson:"feedback_text,omitempty" json:"feedback_text,omitempty"`
	CategoryName string             `bson:"category_name,omitempty" json:"category_name,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
