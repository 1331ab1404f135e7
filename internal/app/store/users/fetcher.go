package userstore

import (
	"context"
	"strings"

	"github.com/dalemusser/stratacohort/internal/app/system/timeouts"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Contact is the addressable part of a user.
type Contact struct {
	Name  string
	Email string
}

// Fetcher resolves notification recipients to email contacts.
type Fetcher struct {
	users *mongo.Collection
}

// NewFetcher creates a Fetcher that queries the given database.
func NewFetcher(db *mongo.Database) *Fetcher {
	return &Fetcher{users: db.Collection("users")}
}

// FetchContact returns the contact for a user ID in hex form. It reports
// false if the ID is malformed, the user is missing, disabled or has no
// email, or the lookup fails.
func (f *Fetcher) FetchContact(ctx context.Context, userID string) (Contact, bool) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return Contact{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.Short())
	defer cancel()

	var u models.User
	proj := options.FindOne().SetProjection(bson.M{
		"_id":       1,
		"full_name": 1,
		"email":     1,
		"status":    1,
	})
	if err := f.users.FindOne(ctx, bson.M{"_id": oid}, proj).Decode(&u); err != nil {
		return Contact{}, false
	}
	if strings.EqualFold(u.Status, "disabled") || u.Email == "" {
		return Contact{}, false
	}
	return Contact{Name: u.FullName, Email: u.Email}, true
}

// FetchRole returns the contacts of every active user with role.
func (f *Fetcher) FetchRole(ctx context.Context, role string) ([]Contact, error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Medium())
	defer cancel()

	cur, err := f.users.Find(ctx, bson.M{
		"role":   role,
		"status": bson.M{"$ne": "disabled"},
		"email":  bson.M{"$nin": bson.A{"", nil}},
	}, options.Find().SetProjection(bson.M{"full_name": 1, "email": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Contact
	for cur.Next(ctx) {
		var u models.User
		if cur.Decode(&u) == nil {
			out = append(out, Contact{Name: u.FullName, Email: u.Email})
		}
	}
	return out, cur.Err()
}
