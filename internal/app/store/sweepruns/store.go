// internal/app/store/sweepruns/store.go
package sweepruns

import (
	"context"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Triggers
const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"
)

// Run is the persisted record of one sweep run.
type Run struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RunID      string             `bson:"run_id" json:"run_id"`
	Kind       string             `bson:"kind" json:"kind"`
	Trigger    string             `bson:"trigger" json:"trigger"`
	Outcome    string             `bson:"outcome" json:"outcome"`
	StartedAt  time.Time          `bson:"started_at" json:"started_at"`
	FinishedAt time.Time          `bson:"finished_at" json:"finished_at"`

	Processed      int `bson:"processed" json:"processed"`
	Updated        int `bson:"updated" json:"updated"`
	NotifyFailures int `bson:"notify_failures" json:"notify_failures"`

	// CohortIDs lists the cohorts transitioned, warned or purged.
	CohortIDs []primitive.ObjectID `bson:"cohort_ids,omitempty" json:"cohort_ids,omitempty"`
	Errors    []string             `bson:"errors,omitempty" json:"errors,omitempty"`
	Error     string               `bson:"error,omitempty" json:"error,omitempty"`
}

// FromResult builds a Run from a sweep result. runErr is an error from the
// run itself (timeout, panic) as opposed to one recorded in res.
func FromResult(res lifecycle.SweepResult, trigger, outcome string, runErr error) Run {
	r := Run{
		RunID:          res.RunID,
		Kind:           string(res.Kind),
		Trigger:        trigger,
		Outcome:        outcome,
		StartedAt:      res.StartedAt,
		FinishedAt:     res.FinishedAt,
		Processed:      res.TotalProcessed,
		Updated:        res.UpdatedCount,
		NotifyFailures: res.NotifyFailures,
		Errors:         res.Errors,
		Error:          res.Error,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	for _, t := range res.Transitions {
		r.CohortIDs = append(r.CohortIDs, t.CohortID)
	}
	switch res.Kind {
	case lifecycle.SweepWarning:
		for _, c := range res.Candidates {
			r.CohortIDs = append(r.CohortIDs, c.CohortID)
		}
	case lifecycle.SweepRetirement:
		for _, c := range res.Purged {
			r.CohortIDs = append(r.CohortIDs, c.CohortID)
		}
	}
	return r
}

// QueryFilter narrows Query. Zero fields are ignored.
type QueryFilter struct {
	Kind     string
	Outcome  string
	CohortID *primitive.ObjectID
	Since    *time.Time
	Until    *time.Time
	Limit    int64
	Offset   int64
}

// Store manages sweep run records.
type Store struct {
	c *mongo.Collection
}

// New creates a new sweep run Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("sweep_runs")}
}

// Record inserts a run.
func (s *Store) Record(ctx context.Context, r Run) error {
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, r)
	return err
}

func buildQuery(f QueryFilter) bson.M {
	query := bson.M{}
	if f.Kind != "" {
		query["kind"] = f.Kind
	}
	if f.Outcome != "" {
		query["outcome"] = f.Outcome
	}
	if f.CohortID != nil {
		query["cohort_ids"] = *f.CohortID
	}
	if f.Since != nil || f.Until != nil {
		timeQuery := bson.M{}
		if f.Since != nil {
			timeQuery["$gte"] = *f.Since
		}
		if f.Until != nil {
			timeQuery["$lte"] = *f.Until
		}
		query["started_at"] = timeQuery
	}
	return query
}

// Query returns runs matching the filter, newest first.
func (s *Store) Query(ctx context.Context, f QueryFilter) ([]Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(f.Offset)

	cur, err := s.c.Find(ctx, buildQuery(f), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	runs := []Run{}
	if err := cur.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Count returns the number of runs matching the filter.
func (s *Store) Count(ctx context.Context, f QueryFilter) (int64, error) {
	return s.c.CountDocuments(ctx, buildQuery(f))
}

// Recent returns the most recent runs of any kind.
func (s *Store) Recent(ctx context.Context, limit int64) ([]Run, error) {
	return s.Query(ctx, QueryFilter{Limit: limit})
}
