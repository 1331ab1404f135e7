package lifecycle_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	"github.com/dalemusser/stratacohort/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func TestNotifyTransition_MessagesByTarget(t *testing.T) {
	tests := []struct {
		to           models.CohortStatus
		wantSeverity string
		wantVerb     string
	}{
		{to: models.CohortOngoing, wantSeverity: models.SeveritySuccess, wantVerb: "has started"},
		{to: models.CohortCompleted, wantSeverity: models.SeverityInfo, wantVerb: "has been completed"},
		{to: models.CohortCancelled, wantSeverity: models.SeverityError, wantVerb: "has been cancelled"},
	}

	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			sink := &testutil.RecordingSink{}
			n := lifecycle.NewNotifier(sink, zap.NewNop(), "")
			leader := primitive.NewObjectID()
			m1, m2 := primitive.NewObjectID(), primitive.NewObjectID()

			failed := n.NotifyTransition(context.Background(), lifecycle.Transition{
				CohortID:  primitive.NewObjectID(),
				Name:      "Data Science 01",
				Kind:      models.KindBatch,
				To:        tt.to,
				LeaderID:  &leader,
				MemberIDs: []primitive.ObjectID{m1, m2},
			})
			if failed != 0 {
				t.Fatalf("failed deliveries: got %d, want 0", failed)
			}

			sent := sink.Sent()
			if len(sent) != 3 {
				t.Fatalf("notifications: got %d, want 3", len(sent))
			}
			for _, msg := range sent {
				if msg.Severity != tt.wantSeverity {
					t.Errorf("severity: got %q, want %q", msg.Severity, tt.wantSeverity)
				}
				if !strings.Contains(msg.Message, tt.wantVerb) {
					t.Errorf("message %q does not contain %q", msg.Message, tt.wantVerb)
				}
				if msg.Kind != models.NotifyTransition {
					t.Errorf("kind: got %q, want %q", msg.Kind, models.NotifyTransition)
				}
			}

			member := sink.For(m1.Hex())
			if len(member) != 1 || !strings.HasPrefix(member[0].Message, "Your batch") {
				t.Errorf("member message: got %+v", member)
			}
			lead := sink.For(leader.Hex())
			if len(lead) != 1 || !strings.HasPrefix(lead[0].Message, "Your assigned batch") {
				t.Errorf("leader message: got %+v", lead)
			}
		})
	}
}

func TestNotifyTransition_SkipsOtherTargets(t *testing.T) {
	sink := &testutil.RecordingSink{}
	n := lifecycle.NewNotifier(sink, zap.NewNop(), "")

	n.NotifyTransition(context.Background(), lifecycle.Transition{
		CohortID:  primitive.NewObjectID(),
		Name:      "Backlog",
		Kind:      models.KindBatch,
		To:        models.CohortUpcoming,
		MemberIDs: []primitive.ObjectID{primitive.NewObjectID()},
	})

	if got := len(sink.Sent()); got != 0 {
		t.Errorf("notifications: got %d, want 0", got)
	}
}

func TestNotifyTransition_NoLeader(t *testing.T) {
	sink := &testutil.RecordingSink{}
	n := lifecycle.NewNotifier(sink, zap.NewNop(), "")

	n.NotifyTransition(context.Background(), lifecycle.Transition{
		CohortID:  primitive.NewObjectID(),
		Name:      "Ops",
		Kind:      models.KindDepartment,
		To:        models.CohortOngoing,
		MemberIDs: []primitive.ObjectID{primitive.NewObjectID()},
	})

	sent := sink.Sent()
	if len(sent) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(sent))
	}
	if !strings.Contains(sent[0].Message, "department") {
		t.Errorf("expected department wording, got %q", sent[0].Message)
	}
}

func TestNotifyTransition_DeliveryFailureIsCounted(t *testing.T) {
	bad := primitive.NewObjectID()
	sink := &testutil.RecordingSink{Fail: func(n models.Notification) error {
		if n.RecipientID == bad.Hex() {
			return errors.New("push gateway down")
		}
		return nil
	}}
	n := lifecycle.NewNotifier(sink, zap.NewNop(), "")

	failed := n.NotifyTransition(context.Background(), lifecycle.Transition{
		CohortID:  primitive.NewObjectID(),
		Name:      "Evening",
		Kind:      models.KindBatch,
		To:        models.CohortCompleted,
		MemberIDs: []primitive.ObjectID{bad, primitive.NewObjectID()},
	})

	if failed != 1 {
		t.Errorf("failed deliveries: got %d, want 1", failed)
	}
	if got := len(sink.Sent()); got != 1 {
		t.Errorf("delivered: got %d, want 1", got)
	}
}

func TestNotifyTransition_StripsMarkupFromName(t *testing.T) {
	sink := &testutil.RecordingSink{}
	n := lifecycle.NewNotifier(sink, zap.NewNop(), "")

	n.NotifyTransition(context.Background(), lifecycle.Transition{
		CohortID:  primitive.NewObjectID(),
		Name:      `<script>alert(1)</script>R & D`,
		Kind:      models.KindBatch,
		To:        models.CohortOngoing,
		MemberIDs: []primitive.ObjectID{primitive.NewObjectID()},
	})

	msg := sink.Sent()[0].Message
	if strings.Contains(msg, "<script>") {
		t.Errorf("markup leaked into message: %q", msg)
	}
	if !strings.Contains(msg, "R & D") {
		t.Errorf("expected plain name in message, got %q", msg)
	}
}

func TestNotifyRetirementWarning_FanOut(t *testing.T) {
	sink := &testutil.RecordingSink{}
	n := lifecycle.NewNotifier(sink, zap.NewNop(), "")
	leader := primitive.NewObjectID()

	n.NotifyRetirementWarning(context.Background(), lifecycle.Candidate{
		CohortID:  primitive.NewObjectID(),
		Name:      "Winter",
		Kind:      models.KindBatch,
		Status:    models.CohortCompleted,
		LeaderID:  &leader,
		MemberIDs: []primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID()},
	})

	sent := sink.Sent()
	if len(sent) != 3 {
		t.Fatalf("notifications: got %d, want 3", len(sent))
	}
	for _, msg := range sent {
		if msg.Severity != models.SeverityWarning || msg.Kind != models.NotifyRetirementWarning {
			t.Errorf("unexpected severity/kind: %q/%q", msg.Severity, msg.Kind)
		}
		if !strings.Contains(msg.Message, "permanently removed") {
			t.Errorf("message %q does not mention removal", msg.Message)
		}
	}
}

func TestNotifyRetirementWarning_DedupeKeys(t *testing.T) {
	sink := &testutil.RecordingSink{}
	n := lifecycle.NewNotifier(sink, zap.NewNop(), "")
	cand := lifecycle.Candidate{
		CohortID:        primitive.NewObjectID(),
		Name:            "Winter",
		Kind:            models.KindBatch,
		Status:          models.CohortCompleted,
		StatusUpdatedAt: time.Date(2026, 3, 3, 23, 0, 0, 0, time.UTC),
		MemberIDs:       []primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID()},
	}

	if failed := n.NotifyRetirementWarning(context.Background(), cand); failed != 0 {
		t.Fatalf("failed: %d", failed)
	}
	if failed := n.NotifyRetirementWarning(context.Background(), cand); failed != 0 {
		t.Errorf("repeat counted %d failures, want 0", failed)
	}

	sent := sink.Sent()
	if len(sent) != 2 {
		t.Fatalf("notifications: got %d, want 2", len(sent))
	}
	for i, msg := range sent {
		want := lifecycle.WarningKey(cand, cand.MemberIDs[i])
		if msg.DedupeKey != want {
			t.Errorf("key %d: got %q, want %q", i, msg.DedupeKey, want)
		}
	}
	if sent[0].DedupeKey == sent[1].DedupeKey {
		t.Error("members share a dedupe key")
	}
}

func TestNotifyRetirementComplete_SingleSummary(t *testing.T) {
	sink := &testutil.RecordingSink{}
	n := lifecycle.NewNotifier(sink, zap.NewNop(), "ops-team")

	n.NotifyRetirementComplete(context.Background(), []lifecycle.Candidate{
		{CohortID: primitive.NewObjectID(), Name: "A", Kind: models.KindBatch, Status: models.CohortCompleted, MemberCount: 3},
		{CohortID: primitive.NewObjectID(), Name: "B", Kind: models.KindDepartment, Status: models.CohortCancelled},
	})

	sent := sink.Sent()
	if len(sent) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(sent))
	}
	if sent[0].RecipientID != "ops-team" {
		t.Errorf("recipient: got %q, want %q", sent[0].RecipientID, "ops-team")
	}
	if !strings.Contains(sent[0].Message, `"A" (batch, completed, 3 members)`) {
		t.Errorf("summary missing cohort A: %q", sent[0].Message)
	}
	if sent[0].Title != "Retired 2 cohorts" {
		t.Errorf("title: got %q", sent[0].Title)
	}
}

func TestNotifyRetirementComplete_EmptyIsSilent(t *testing.T) {
	sink := &testutil.RecordingSink{}
	n := lifecycle.NewNotifier(sink, zap.NewNop(), "")

	n.NotifyRetirementComplete(context.Background(), nil)

	if got := len(sink.Sent()); got != 0 {
		t.Errorf("notifications: got %d, want 0", got)
	}
}
