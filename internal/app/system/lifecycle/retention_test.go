package lifecycle_test

import (
	"testing"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func aged(status models.CohortStatus, now time.Time, age time.Duration) models.Cohort {
	return models.Cohort{
		ID:              primitive.NewObjectID(),
		Name:            string(status) + " " + age.String(),
		Status:          status,
		StatusUpdatedAt: now.Add(-age),
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  lifecycle.Policy
		wantErr bool
	}{
		{name: "default", policy: lifecycle.DefaultPolicy()},
		{name: "zero warn", policy: lifecycle.Policy{DeleteAfter: time.Hour}, wantErr: true},
		{name: "warn equals delete", policy: lifecycle.Policy{WarnAfter: time.Hour, DeleteAfter: time.Hour}, wantErr: true},
		{name: "warn after delete", policy: lifecycle.Policy{WarnAfter: 2 * time.Hour, DeleteAfter: time.Hour}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSelectWarningCandidates_Window(t *testing.T) {
	now := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	p := lifecycle.DefaultPolicy()
	day := 24 * time.Hour

	tests := []struct {
		name   string
		cohort models.Cohort
		want   bool
	}{
		{name: "completed 5d23h", cohort: aged(models.CohortCompleted, now, 5*day+23*time.Hour), want: false},
		{name: "completed exactly 6d", cohort: aged(models.CohortCompleted, now, 6*day), want: true},
		{name: "completed 6d0h1m", cohort: aged(models.CohortCompleted, now, 6*day+time.Minute), want: true},
		{name: "cancelled 6d12h", cohort: aged(models.CohortCancelled, now, 6*day+12*time.Hour), want: true},
		{name: "completed exactly 7d", cohort: aged(models.CohortCompleted, now, 7*day), want: false},
		{name: "ongoing 6d12h", cohort: aged(models.CohortOngoing, now, 6*day+12*time.Hour), want: false},
		{name: "upcoming 6d12h", cohort: aged(models.CohortUpcoming, now, 6*day+12*time.Hour), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.SelectWarningCandidates([]models.Cohort{tt.cohort}, now)
			if (len(got) == 1) != tt.want {
				t.Errorf("selected: got %d candidates, want selected=%v", len(got), tt.want)
			}
		})
	}
}

func TestSelectRetirementCandidates_Window(t *testing.T) {
	now := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	p := lifecycle.DefaultPolicy()
	day := 24 * time.Hour

	tests := []struct {
		name   string
		cohort models.Cohort
		want   bool
	}{
		{name: "completed 6d23h59m", cohort: aged(models.CohortCompleted, now, 7*day-time.Minute), want: false},
		{name: "completed exactly 7d", cohort: aged(models.CohortCompleted, now, 7*day), want: true},
		{name: "cancelled 30d", cohort: aged(models.CohortCancelled, now, 30*day), want: true},
		{name: "ongoing 30d", cohort: aged(models.CohortOngoing, now, 30*day), want: false},
		{name: "upcoming 30d", cohort: aged(models.CohortUpcoming, now, 30*day), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.SelectRetirementCandidates([]models.Cohort{tt.cohort}, now)
			if (len(got) == 1) != tt.want {
				t.Errorf("selected: got %d candidates, want selected=%v", len(got), tt.want)
			}
		})
	}
}

func TestSelectRetirementCandidates_SkipsDeleted(t *testing.T) {
	now := time.Now()
	c := aged(models.CohortCompleted, now, 10*24*time.Hour)
	c.Deleted = true

	if got := lifecycle.DefaultPolicy().SelectRetirementCandidates([]models.Cohort{c}, now); len(got) != 0 {
		t.Errorf("expected soft-deleted cohort to be skipped, got %d candidates", len(got))
	}
}

func TestNewCandidate_Summary(t *testing.T) {
	leader := primitive.NewObjectID()
	c := models.Cohort{
		ID:        primitive.NewObjectID(),
		Name:      "Spring Cohort",
		Status:    models.CohortCompleted,
		LeaderID:  &leader,
		MemberIDs: []primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID()},
	}

	got := lifecycle.NewCandidate(c)
	if got.MemberCount != 2 {
		t.Errorf("MemberCount: got %d, want 2", got.MemberCount)
	}
	if !got.LeaderPresent {
		t.Error("expected LeaderPresent")
	}
	if got.Kind != models.KindBatch {
		t.Errorf("Kind: got %q, want %q", got.Kind, models.KindBatch)
	}

	// The candidate owns its member slice.
	c.MemberIDs[0] = primitive.NilObjectID
	if got.MemberIDs[0] == primitive.NilObjectID {
		t.Error("candidate member list aliases the cohort's slice")
	}
}
