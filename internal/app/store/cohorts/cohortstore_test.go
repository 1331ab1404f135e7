package cohortstore_test

import (
	"testing"
	"time"

	cohortstore "github.com/dalemusser/stratacohort/internal/app/store/cohorts"
	"github.com/dalemusser/stratacohort/internal/app/system/indexes"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	"github.com/dalemusser/stratacohort/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := cohortstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, models.Cohort{Name: "  Data Science 01 ", Kind: "Batch"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if created.ID == primitive.NilObjectID {
		t.Error("expected ID to be assigned")
	}
	if created.Name != "Data Science 01" {
		t.Errorf("Name: got %q", created.Name)
	}
	if created.NameCI == "" {
		t.Error("expected NameCI to be set")
	}
	if created.Kind != models.KindBatch {
		t.Errorf("Kind: got %q", created.Kind)
	}
	if created.Status != models.CohortUpcoming {
		t.Errorf("expected default status upcoming, got %q", created.Status)
	}
	if created.StatusUpdatedAt.IsZero() || created.CreatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestStore_Create_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := cohortstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.Create(ctx, models.Cohort{Name: "X", Kind: "club"}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := store.Create(ctx, models.Cohort{Name: "Y", Status: "archived"}); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestStore_Create_DuplicateName(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := cohortstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}

	if _, err := store.Create(ctx, models.Cohort{Name: "Robotics", Kind: models.KindDepartment}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := store.Create(ctx, models.Cohort{Name: "ROBOTICS", Kind: models.KindDepartment})
	if err != cohortstore.ErrDuplicateCohortName {
		t.Errorf("expected ErrDuplicateCohortName, got %v", err)
	}

	// Same name as a different kind is allowed.
	if _, err := store.Create(ctx, models.Cohort{Name: "Robotics", Kind: models.KindBatch}); err != nil {
		t.Errorf("Create with other kind should succeed: %v", err)
	}
}

func TestStore_FindByStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := cohortstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	up := fixtures.CreateCohort(ctx, models.Cohort{Name: "Up", Status: models.CohortUpcoming})
	on := fixtures.CreateCohort(ctx, models.Cohort{Name: "On", Status: models.CohortOngoing})
	fixtures.CreateCohort(ctx, models.Cohort{Name: "Done", Status: models.CohortCompleted})
	gone := fixtures.CreateCohort(ctx, models.Cohort{Name: "Gone", Status: models.CohortOngoing, Deleted: true})

	got, err := store.FindByStatus(ctx, []models.CohortStatus{models.CohortUpcoming, models.CohortOngoing}, true)
	if err != nil {
		t.Fatalf("FindByStatus failed: %v", err)
	}
	ids := map[primitive.ObjectID]bool{}
	for _, c := range got {
		ids[c.ID] = true
	}
	if len(got) != 2 || !ids[up.ID] || !ids[on.ID] {
		t.Errorf("expected upcoming and ongoing only, got %d cohorts", len(got))
	}

	withDeleted, err := store.FindByStatus(ctx, []models.CohortStatus{models.CohortOngoing}, false)
	if err != nil {
		t.Fatalf("FindByStatus failed: %v", err)
	}
	found := false
	for _, c := range withDeleted {
		if c.ID == gone.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected deleted cohort when excludeDeleted is false")
	}
}

func TestStore_TerminalWindows(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := cohortstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	day := 24 * time.Hour
	at := func(age time.Duration) time.Time { return now.Add(-age) }

	warn := fixtures.CreateCohort(ctx, models.Cohort{Name: "Warn", Status: models.CohortCompleted, StatusUpdatedAt: at(6*day + time.Hour)})
	old := fixtures.CreateCohort(ctx, models.Cohort{Name: "Old", Status: models.CohortCancelled, StatusUpdatedAt: at(7 * day)})
	fixtures.CreateCohort(ctx, models.Cohort{Name: "Young", Status: models.CohortCompleted, StatusUpdatedAt: at(day)})
	fixtures.CreateCohort(ctx, models.Cohort{Name: "Active", Status: models.CohortOngoing, StatusUpdatedAt: at(30 * day)})
	fixtures.CreateCohort(ctx, models.Cohort{Name: "Deleted", Status: models.CohortCompleted, StatusUpdatedAt: at(30 * day), Deleted: true})

	between, err := store.FindTerminalBetween(ctx, at(7*day), at(6*day))
	if err != nil {
		t.Fatalf("FindTerminalBetween failed: %v", err)
	}
	if len(between) != 1 || between[0].ID != warn.ID {
		t.Errorf("FindTerminalBetween: got %d cohorts", len(between))
	}

	older, err := store.FindTerminalOlderThan(ctx, at(7*day))
	if err != nil {
		t.Fatalf("FindTerminalOlderThan failed: %v", err)
	}
	if len(older) != 1 || older[0].ID != old.ID {
		t.Errorf("FindTerminalOlderThan: got %d cohorts", len(older))
	}
}

func TestStore_UpdateStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := cohortstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := fixtures.CreateCohort(ctx, models.Cohort{Name: "Move", Status: models.CohortUpcoming})
	at := time.Now().UTC().Truncate(time.Millisecond)

	ok, err := store.UpdateStatus(ctx, c.ID, models.CohortUpcoming, models.CohortOngoing, at)
	if err != nil || !ok {
		t.Fatalf("UpdateStatus: ok=%v err=%v", ok, err)
	}
	got, err := store.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.CohortOngoing || !got.StatusUpdatedAt.Equal(at) {
		t.Errorf("after update: status=%q status_updated_at=%v", got.Status, got.StatusUpdatedAt)
	}

	// Stale from: someone else already moved it.
	ok, err = store.UpdateStatus(ctx, c.ID, models.CohortUpcoming, models.CohortOngoing, at)
	if err != nil || ok {
		t.Errorf("stale update: ok=%v err=%v, want false, nil", ok, err)
	}
}

func TestStore_CountByStatusAndDelete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := cohortstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := fixtures.CreateCohort(ctx, models.Cohort{Name: "Cancelled", Status: models.CohortCancelled})
	fixtures.CreateCohort(ctx, models.Cohort{Name: "Running A", Status: models.CohortOngoing})
	fixtures.CreateCohort(ctx, models.Cohort{Name: "Running B", Status: models.CohortOngoing})
	fixtures.CreateCohort(ctx, models.Cohort{Name: "Gone", Status: models.CohortOngoing, Deleted: true})

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	want := map[models.CohortStatus]int64{models.CohortCancelled: 1, models.CohortOngoing: 2}
	for status, n := range want {
		if counts[status] != n {
			t.Errorf("%s count: got %d, want %d", status, counts[status], n)
		}
	}
	if counts[models.CohortUpcoming] != 0 {
		t.Errorf("upcoming count: got %d, want 0", counts[models.CohortUpcoming])
	}

	n, err := store.Delete(ctx, c.ID)
	if err != nil || n != 1 {
		t.Fatalf("Delete: n=%d err=%v", n, err)
	}
	if _, err := store.GetByID(ctx, c.ID); err != mongo.ErrNoDocuments {
		t.Errorf("expected ErrNoDocuments after delete, got %v", err)
	}
	if n, _ := store.Delete(ctx, c.ID); n != 0 {
		t.Errorf("second Delete: got %d, want 0", n)
	}
}

func TestStore_Enroll(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := cohortstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	one := 1
	open := fixtures.CreateCohort(ctx, models.Cohort{Name: "Open", Status: models.CohortOngoing})
	small := fixtures.CreateCohort(ctx, models.Cohort{Name: "Small", Status: models.CohortUpcoming, Capacity: &one})
	done := fixtures.CreateCohort(ctx, models.Cohort{Name: "Done", Status: models.CohortCompleted})
	gone := fixtures.CreateCohort(ctx, models.Cohort{Name: "Gone", Status: models.CohortOngoing, Deleted: true})
	at := time.Now().UTC()

	a, b, lead := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()

	tests := []struct {
		name     string
		cohort   primitive.ObjectID
		user     primitive.ObjectID
		asLeader bool
		want     bool
	}{
		{"member joins open cohort", open.ID, a, false, true},
		{"repeat join is a no-op match", open.ID, a, false, true},
		{"leader set", open.ID, lead, true, true},
		{"first seat in small cohort", small.ID, a, false, true},
		{"small cohort is full", small.ID, b, false, false},
		{"existing member of full cohort still matches", small.ID, a, false, true},
		{"leader of full cohort allowed", small.ID, lead, true, true},
		{"finished cohort refused", done.ID, b, false, false},
		{"deleted cohort refused", gone.ID, b, false, false},
		{"unknown cohort", primitive.NewObjectID(), b, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := store.Enroll(ctx, tt.cohort, tt.user, tt.asLeader, at)
			if err != nil {
				t.Fatalf("Enroll: %v", err)
			}
			if ok != tt.want {
				t.Errorf("Enroll = %v, want %v", ok, tt.want)
			}
		})
	}

	got, err := store.GetByID(ctx, open.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.MemberIDs) != 1 || got.MemberIDs[0] != a {
		t.Errorf("member_ids = %v, want [%s]", got.MemberIDs, a.Hex())
	}
	if got.LeaderID == nil || *got.LeaderID != lead {
		t.Errorf("leader_id = %v, want %s", got.LeaderID, lead.Hex())
	}
	full, _ := store.GetByID(ctx, small.ID)
	if len(full.MemberIDs) != 1 {
		t.Errorf("small cohort has %d members, want 1", len(full.MemberIDs))
	}
}
