package notificationstore_test

import (
	"errors"
	"testing"
	"time"

	notificationstore "github.com/dalemusser/stratacohort/internal/app/store/notifications"
	"github.com/dalemusser/stratacohort/internal/app/system/indexes"
	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	"github.com/dalemusser/stratacohort/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
)

func TestStore_DeliverAndList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := notificationstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	for i, title := range []string{"first", "second", "third"} {
		err := store.Deliver(ctx, models.Notification{
			RecipientID: "u1",
			Kind:        models.NotifyTransition,
			Severity:    models.SeverityInfo,
			Title:       title,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}
	if err := store.Deliver(ctx, models.Notification{RecipientID: "u2", Title: "other"}); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	got, err := store.ListByRecipient(ctx, "u1", false, 2)
	if err != nil {
		t.Fatalf("ListByRecipient failed: %v", err)
	}
	if len(got) != 2 || got[0].Title != "third" || got[1].Title != "second" {
		t.Errorf("expected newest two, got %+v", got)
	}
	if got[0].ID.IsZero() {
		t.Error("expected ID to be assigned")
	}
}

func TestStore_MarkReadAndCount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := notificationstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := store.Deliver(ctx, models.Notification{RecipientID: "admins", Title: "summary"}); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}
	list, err := store.ListByRecipient(ctx, "admins", true, 0)
	if err != nil || len(list) != 2 {
		t.Fatalf("unread list: n=%d err=%v", len(list), err)
	}

	if ok, err := store.MarkRead(ctx, "someone-else", list[0].ID); err != nil || ok {
		t.Errorf("MarkRead by other recipient: ok=%v err=%v", ok, err)
	}
	if ok, err := store.MarkRead(ctx, "admins", list[0].ID); err != nil || !ok {
		t.Errorf("MarkRead: ok=%v err=%v", ok, err)
	}

	n, err := store.CountUnread(ctx, "admins")
	if err != nil || n != 1 {
		t.Errorf("CountUnread: n=%d err=%v", n, err)
	}
}

func TestStore_DeleteOlderThan(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := notificationstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	now := time.Now().UTC()
	_ = store.Deliver(ctx, models.Notification{RecipientID: "u", Title: "old", CreatedAt: now.Add(-40 * 24 * time.Hour)})
	_ = store.Deliver(ctx, models.Notification{RecipientID: "u", Title: "new", CreatedAt: now})

	n, err := store.DeleteOlderThan(ctx, now.Add(-30*24*time.Hour))
	if err != nil || n != 1 {
		t.Errorf("DeleteOlderThan: n=%d err=%v", n, err)
	}
}

func TestStore_DeliverDedupeKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := notificationstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	warn := models.Notification{
		RecipientID: "u1",
		Kind:        models.NotifyRetirementWarning,
		Severity:    models.SeverityWarning,
		Title:       "Batch scheduled for removal",
		DedupeKey:   "retirement_warning:c1:1700000000000:u1",
	}
	if err := store.Deliver(ctx, warn); err != nil {
		t.Fatalf("first Deliver failed: %v", err)
	}
	if err := store.Deliver(ctx, warn); !errors.Is(err, lifecycle.ErrAlreadyDelivered) {
		t.Fatalf("second Deliver: got %v, want ErrAlreadyDelivered", err)
	}

	// Keyless notifications are never deduplicated.
	for i := 0; i < 2; i++ {
		if err := store.Deliver(ctx, models.Notification{RecipientID: "u1", Title: "plain"}); err != nil {
			t.Fatalf("keyless Deliver failed: %v", err)
		}
	}

	n, err := db.Collection("notifications").CountDocuments(ctx, bson.M{"recipient_id": "u1"})
	if err != nil || n != 3 {
		t.Errorf("stored: n=%d err=%v, want 3", n, err)
	}
}
