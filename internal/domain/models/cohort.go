// internal/domain/models/cohort.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CohortStatus is the lifecycle state of a cohort.
type CohortStatus string

const (
	CohortUpcoming  CohortStatus = "upcoming"
	CohortOngoing   CohortStatus = "ongoing"
	CohortCompleted CohortStatus = "completed"
	CohortCancelled CohortStatus = "cancelled"
)

// IsTerminal reports whether no automatic transition can leave s.
func (s CohortStatus) IsTerminal() bool {
	return s == CohortCompleted || s == CohortCancelled
}

// Valid reports whether s is one of the four known states.
func (s CohortStatus) Valid() bool {
	switch s {
	case CohortUpcoming, CohortOngoing, CohortCompleted, CohortCancelled:
		return true
	}
	return false
}

// Cohort kinds. Both share one lifecycle; the kind only changes wording.
const (
	KindBatch      = "batch"
	KindDepartment = "department"
)

// Cohort is a time-boxed group of members with an optional leader and course.
//
// NOTE:
//   - StartDate/EndDate are calendar dates stored at UTC midnight.
//   - StatusUpdatedAt must change in the same write as Status; retirement
//     age is measured from it.
//   - Deleted cohorts are already retired and never swept again.
type Cohort struct {
	ID       primitive.ObjectID  `bson:"_id" json:"id"`
	Kind     string              `bson:"kind" json:"kind"`
	Name     string              `bson:"name" json:"name"`
	NameCI   string              `bson:"name_ci" json:"name_ci"`
	CourseID *primitive.ObjectID `bson:"course_id,omitempty" json:"course_id,omitempty"`

	LeaderID  *primitive.ObjectID  `bson:"leader_id,omitempty" json:"leader_id,omitempty"`
	MemberIDs []primitive.ObjectID `bson:"member_ids" json:"member_ids"`
	Capacity  *int                 `bson:"capacity,omitempty" json:"capacity,omitempty"`

	StartDate *time.Time `bson:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate   *time.Time `bson:"end_date,omitempty" json:"end_date,omitempty"`

	Status          CohortStatus `bson:"status" json:"status"`
	StatusUpdatedAt time.Time    `bson:"status_updated_at" json:"status_updated_at"`
	Deleted         bool         `bson:"deleted" json:"deleted"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// KindOrDefault returns the cohort kind, falling back to "batch".
func (c Cohort) KindOrDefault() string {
	if c.Kind == "" {
		return KindBatch
	}
	return c.Kind
}
