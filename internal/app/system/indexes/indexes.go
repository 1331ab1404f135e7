// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup. Each ensure* function is idempotent.
Errors are aggregated so every problem is visible and startup can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	if err := ensureCohorts(ctx, db); err != nil {
		problems = append(problems, "cohorts: "+err.Error())
	}
	if err := ensureUsers(ctx, db); err != nil {
		problems = append(problems, "users: "+err.Error())
	}
	if err := ensureNotifications(ctx, db); err != nil {
		problems = append(problems, "notifications: "+err.Error())
	}
	if err := ensureSweepRuns(ctx, db); err != nil {
		problems = append(problems, "sweep_runs: "+err.Error())
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique *bool  `bson:"unique,omitempty"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func isUnique(b *bool) bool { return b != nil && *b }

// Best-effort duplicate detector (works across Mongo and DocumentDB).
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "E11000") || strings.Contains(strings.ToLower(s), "duplicate key")
}

// duplicateHints point operators at the aggregation that finds offending
// documents when a unique index cannot be built.
var duplicateHints = map[string]string{
	"users": `db.users.aggregate([{ $group: { _id: "$email", n: { $sum: 1 } } }, { $match: { n: { $gt: 1 } } }])`,
	"cohorts": `db.cohorts.aggregate([{ $group: { _id: { kind: "$kind", name: "$name_ci" }, n: { $sum: 1 } } }, ` +
		`{ $match: { n: { $gt: 1 } } }])`,
}

func listIndexes(ctx context.Context, coll *mongo.Collection) map[string]existingIndex {
	existing := map[string]existingIndex{}
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return existing
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()),
				zap.Error(err))
			continue
		}
		existing[keySig(idx.Key)] = idx
	}
	return existing
}

func createIndex(ctx context.Context, coll *mongo.Collection, m mongo.IndexModel, name string, unique bool) error {
	if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
		if unique && isDuplicateKeyErr(err) {
			hint := ""
			if h, ok := duplicateHints[coll.Name()]; ok {
				hint = "; find duplicates with: " + h
			}
			return fmt.Errorf("%s(%s): cannot create unique index (duplicates present)%s", coll.Name(), name, hint)
		}
		return fmt.Errorf("%s(%s): %w", coll.Name(), name, err)
	}
	return nil
}

// ensureIndexSet creates each desired index, reusing one with the same keys
// and options, and dropping and recreating one whose name or uniqueness
// differs.
func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	var errs []string
	existing := listIndexes(ctx, coll)

	for _, m := range models {
		var name string
		var unique bool
		if m.Options != nil {
			if m.Options.Name != nil {
				name = *m.Options.Name
			}
			unique = isUnique(m.Options.Unique)
		}
		sig := keySig(m.Keys.(bson.D))
		start := time.Now()
		log := zap.L().With(
			zap.String("collection", coll.Name()),
			zap.String("name", name),
			zap.String("keys", sig),
			zap.Bool("unique", unique))

		ex, found := existing[sig]
		if found && isUnique(ex.Unique) == unique && (name == "" || ex.Name == name) {
			log.Debug("reusing existing index")
			continue
		}
		if found {
			log.Info("dropping index to realign name or options", zap.String("existing", ex.Name))
			if _, err := coll.Indexes().DropOne(ctx, ex.Name); err != nil {
				log.Warn("drop existing index failed", zap.Error(err))
				errs = append(errs, fmt.Sprintf("%s(%s): drop failed: %v", coll.Name(), name, err))
				continue
			}
		}
		if err := createIndex(ctx, coll, m, name, unique); err != nil {
			log.Warn("index ensure failed", zap.Error(err))
			errs = append(errs, err.Error())
			continue
		}
		log.Info("index ensured", zap.Duration("took", time.Since(start)))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Per-collection index sets                                                  */
/* -------------------------------------------------------------------------- */

func ensureCohorts(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("cohorts")
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "name_ci", Value: 1}},
			Options: options.Index().SetName("uniq_cohorts_kind_nameci").SetUnique(true),
		},
		{
			// Status sweep: live cohorts by status.
			// Retirement sweeps: terminal cohorts by status_updated_at age.
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "deleted", Value: 1},
				{Key: "status_updated_at", Value: 1},
			},
			Options: options.Index().SetName("idx_cohorts_status_deleted_updated"),
		},
		{
			Keys:    bson.D{{Key: "leader_id", Value: 1}},
			Options: options.Index().SetName("idx_cohorts_leader"),
		},
	}
	return ensureIndexSet(ctx, c, models)
}

func ensureUsers(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("users")
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("uniq_users_email").SetUnique(true),
		},
		{
			// Cascade unlink and CountByCohort.
			Keys:    bson.D{{Key: "cohort_id", Value: 1}},
			Options: options.Index().SetName("idx_users_cohort"),
		},
		{
			// Ops-alias expansion for email delivery.
			Keys:    bson.D{{Key: "role", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_users_role_status"),
		},
	}
	return ensureIndexSet(ctx, c, models)
}

func ensureNotifications(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("notifications")
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_notifications_recipient_created"),
		},
		{
			Keys:    bson.D{{Key: "recipient_id", Value: 1}, {Key: "read", Value: 1}},
			Options: options.Index().SetName("idx_notifications_recipient_read"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_notifications_created"),
		},
		{
			// Only warnings carry a key; sparse keeps the rest out of the index.
			Keys:    bson.D{{Key: "dedupe_key", Value: 1}},
			Options: options.Index().SetName("uniq_notifications_dedupe").SetUnique(true).SetSparse(true),
		},
	}
	return ensureIndexSet(ctx, c, models)
}

func ensureSweepRuns(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("sweep_runs")
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "started_at", Value: -1}},
			Options: options.Index().SetName("idx_sweepruns_started"),
		},
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "started_at", Value: -1}},
			Options: options.Index().SetName("idx_sweepruns_kind_started"),
		},
		{
			Keys:    bson.D{{Key: "cohort_ids", Value: 1}},
			Options: options.Index().SetName("idx_sweepruns_cohorts"),
		},
	}
	return ensureIndexSet(ctx, c, models)
}
