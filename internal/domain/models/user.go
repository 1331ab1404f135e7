// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents admins, leaders (instructors), and members (students).
//
// NOTE:
//   - CohortID is the back-reference to the cohort the user leads or
//     belongs to. Retiring a cohort clears it only while it still points
//     at that cohort.
type User struct {
	ID         primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	FullName   string              `bson:"full_name" json:"full_name"`
	FullNameCI string              `bson:"full_name_ci" json:"full_name_ci"` // lowercase, diacritics-stripped
	Email      string              `bson:"email" json:"email"`
	Role       string              `bson:"role" json:"role"` // admin | leader | member
	Status     string              `bson:"status,omitempty" json:"status,omitempty"`
	CohortID   *primitive.ObjectID `bson:"cohort_id,omitempty" json:"cohort_id,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
