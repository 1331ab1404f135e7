// internal/domain/models/notification.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Notification severities, matching the toast levels the dashboard renders.
const (
	SeveritySuccess = "success"
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Notification kinds.
const (
	NotifyTransition         = "transition"
	NotifyRetirementWarning  = "retirement_warning"
	NotifyRetirementComplete = "retirement_complete"
)

// Notification is one message addressed to one recipient.
// RecipientID is a user ObjectID in hex, or an operator alias such as "admins".
type Notification struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RecipientID string             `bson:"recipient_id" json:"recipient_id"`
	CohortID    primitive.ObjectID `bson:"cohort_id,omitempty" json:"cohort_id,omitempty"`
	Kind        string             `bson:"kind" json:"kind"`
	Severity    string             `bson:"severity" json:"severity"`
	Title       string             `bson:"title" json:"title"`
	Message     string             `bson:"message" json:"message"`
	Read        bool               `bson:"read" json:"read"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`

	// DedupeKey, when set, is unique across notifications; a second delivery
	// with the same key is dropped.
	DedupeKey string `bson:"dedupe_key,omitempty" json:"-"`
}
