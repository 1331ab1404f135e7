// internal/app/store/cohorts/cohortstore.go
package cohortstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/system/normalize"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

var (
	ErrDuplicateCohortName = errors.New("a cohort of this kind with this name already exists")
	errBadStatus           = errors.New(`status must be "upcoming"|"ongoing"|"completed"|"cancelled"`)
	errBadKind             = errors.New(`kind must be "batch"|"department"`)
)

var terminal = []models.CohortStatus{models.CohortCompleted, models.CohortCancelled}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("cohorts")}
}

// GetByID loads a cohort. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Cohort, error) {
	var c models.Cohort
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return models.Cohort{}, err
	}
	return c, nil
}

// Create inserts a cohort after normalizing name, kind and status.
// StatusUpdatedAt is stamped with the creation time.
func (s *Store) Create(ctx context.Context, c models.Cohort) (models.Cohort, error) {
	now := time.Now().UTC()
	c.ID = primitive.NewObjectID()
	c.Name = normalize.Name(c.Name)
	c.NameCI = text.Fold(c.Name)
	c.Kind = normalize.Kind(c.Kind)
	if c.Kind != models.KindBatch && c.Kind != models.KindDepartment {
		return models.Cohort{}, errBadKind
	}
	if c.Status == "" {
		c.Status = models.CohortUpcoming
	}
	if !c.Status.Valid() {
		return models.Cohort{}, errBadStatus
	}
	if c.MemberIDs == nil {
		c.MemberIDs = []primitive.ObjectID{}
	}
	c.StatusUpdatedAt = now
	c.CreatedAt = now
	c.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, c); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Cohort{}, ErrDuplicateCohortName
		}
		return models.Cohort{}, err
	}
	return c, nil
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]models.Cohort, error) {
	opts := options.Find().SetSort(bson.D{{Key: "status_updated_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.Cohort{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindByStatus returns cohorts whose status is one of statuses.
func (s *Store) FindByStatus(ctx context.Context, statuses []models.CohortStatus, excludeDeleted bool) ([]models.Cohort, error) {
	filter := bson.M{"status": bson.M{"$in": statuses}}
	if excludeDeleted {
		filter["deleted"] = bson.M{"$ne": true}
	}
	return s.find(ctx, filter)
}

// FindTerminalOlderThan returns live completed/cancelled cohorts whose
// status last changed at or before cutoff.
func (s *Store) FindTerminalOlderThan(ctx context.Context, cutoff time.Time) ([]models.Cohort, error) {
	return s.find(ctx, bson.M{
		"status":            bson.M{"$in": terminal},
		"deleted":           bson.M{"$ne": true},
		"status_updated_at": bson.M{"$lte": cutoff},
	})
}

// FindTerminalBetween returns live completed/cancelled cohorts with
// after < status_updated_at <= notAfter.
func (s *Store) FindTerminalBetween(ctx context.Context, after, notAfter time.Time) ([]models.Cohort, error) {
	return s.find(ctx, bson.M{
		"status":            bson.M{"$in": terminal},
		"deleted":           bson.M{"$ne": true},
		"status_updated_at": bson.M{"$gt": after, "$lte": notAfter},
	})
}

// UpdateStatus moves a live cohort from one status to another, stamping
// status_updated_at in the same write. It reports false when the cohort is
// gone, deleted, or no longer in from.
func (s *Store) UpdateStatus(ctx context.Context, id primitive.ObjectID, from, to models.CohortStatus, at time.Time) (bool, error) {
	if !to.Valid() {
		return false, errBadStatus
	}
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "status": from, "deleted": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{
			"status":            to,
			"status_updated_at": at,
			"updated_at":        at,
		}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// Enroll adds userID to a live, unfinished cohort: as its leader when
// asLeader is set, otherwise to member_ids. A full cohort (member count at
// capacity) refuses new members. It reports false when no cohort matched.
func (s *Store) Enroll(ctx context.Context, id, userID primitive.ObjectID, asLeader bool, at time.Time) (bool, error) {
	filter := bson.M{
		"_id":     id,
		"deleted": bson.M{"$ne": true},
		"status":  bson.M{"$nin": terminal},
	}
	set := bson.M{"updated_at": at}
	update := bson.M{"$set": set}
	if asLeader {
		set["leader_id"] = userID
	} else {
		filter["$or"] = bson.A{
			bson.M{"capacity": bson.M{"$exists": false}},
			bson.M{"$expr": bson.M{"$lt": bson.A{bson.M{"$size": "$member_ids"}, "$capacity"}}},
			bson.M{"member_ids": userID},
		}
		update["$addToSet"] = bson.M{"member_ids": userID}
	}
	res, err := s.c.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// Delete removes a cohort by ID. Returns the number of documents deleted (0 or 1).
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// CountByStatus returns the number of live cohorts per status.
func (s *Store) CountByStatus(ctx context.Context) (map[models.CohortStatus]int64, error) {
	cur, err := s.c.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"deleted": bson.M{"$ne": true}}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []struct {
		Status models.CohortStatus `bson:"_id"`
		N      int64               `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make(map[models.CohortStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
