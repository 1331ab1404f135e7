package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dalemusser/stratacohort/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson/primitive"
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

// CreateUser creates a test user with the given role and optional cohort link.
func (f *Fixtures) CreateUser(ctx context.Context, fullName, email, role string, cohortID *primitive.ObjectID) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	user := models.User{
		ID:         primitive.NewObjectID(),
		FullName:   fullName,
		FullNameCI: text.Fold(fullName),
		Email:      email,
		Role:       role,
		Status:     "active",
		CohortID:   cohortID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := f.db.Collection("users").InsertOne(ctx, user); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateLeader creates a leader linked to cohortID.
func (f *Fixtures) CreateLeader(ctx context.Context, fullName, email string, cohortID primitive.ObjectID) models.User {
	f.t.Helper()
	return f.CreateUser(ctx, fullName, email, "leader", &cohortID)
}

// CreateMember creates a member linked to cohortID.
func (f *Fixtures) CreateMember(ctx context.Context, fullName, email string, cohortID primitive.ObjectID) models.User {
	f.t.Helper()
	return f.CreateUser(ctx, fullName, email, "member", &cohortID)
}

// CreateCohort inserts c as-is, filling ID, NameCI and timestamps when unset.
func (f *Fixtures) CreateCohort(ctx context.Context, c models.Cohort) models.Cohort {
	f.t.Helper()

	now := time.Now().UTC()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.Kind == "" {
		c.Kind = models.KindBatch
	}
	if c.Status == "" {
		c.Status = models.CohortUpcoming
	}
	if c.StatusUpdatedAt.IsZero() {
		c.StatusUpdatedAt = now
	}
	if c.MemberIDs == nil {
		c.MemberIDs = []primitive.ObjectID{}
	}
	c.NameCI = text.Fold(c.Name)
	c.CreatedAt = now
	c.UpdatedAt = now

	if _, err := f.db.Collection("cohorts").InsertOne(ctx, c); err != nil {
		f.t.Fatalf("failed to create test cohort: %v", err)
	}
	return c
}

// Date returns a calendar date at UTC midnight, offset by days from today.
func Date(days int) *time.Time {
	y, m, d := time.Now().UTC().Date()
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
	return &t
}
