package lifecycle

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrUnknownSweepKind is returned for a sweep kind other than status,
	// warning or retirement.
	ErrUnknownSweepKind = errors.New("unknown sweep kind")

	// ErrAlreadyDelivered is returned by a Sink for a notification whose
	// DedupeKey was delivered before.
	ErrAlreadyDelivered = errors.New("notification already delivered")
)

// RepositoryError wraps a failure reading or writing cohorts.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// CascadeUnlinkError records a back-reference that could not be cleared
// while retiring a cohort. The cohort itself is still deleted.
type CascadeUnlinkError struct {
	CohortID primitive.ObjectID
	UserID   primitive.ObjectID
	Role     string // "leader" | "member"
	Err      error
}

func (e *CascadeUnlinkError) Error() string {
	return fmt.Sprintf("unlink %s %s from cohort %s: %v", e.Role, e.UserID.Hex(), e.CohortID.Hex(), e.Err)
}

func (e *CascadeUnlinkError) Unwrap() error { return e.Err }

// NotificationError records a message that could not be delivered.
type NotificationError struct {
	Recipient string
	Err       error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Recipient, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
