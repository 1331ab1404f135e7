package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MemCohorts is an in-memory cohort repository for lifecycle tests.
// Error fields inject failures; BeforeFind runs at the start of every query.
type MemCohorts struct {
	mu    sync.Mutex
	order []primitive.ObjectID
	byID  map[primitive.ObjectID]models.Cohort

	FindErr    error
	UpdateErr  map[primitive.ObjectID]error
	DeleteErr  map[primitive.ObjectID]error
	BeforeFind func(ctx context.Context)

	finds   int
	updates int
}

// NewMemCohorts returns a repository holding cs in insertion order.
func NewMemCohorts(cs ...models.Cohort) *MemCohorts {
	m := &MemCohorts{
		byID:      make(map[primitive.ObjectID]models.Cohort),
		UpdateErr: make(map[primitive.ObjectID]error),
		DeleteErr: make(map[primitive.ObjectID]error),
	}
	for _, c := range cs {
		m.Put(c)
	}
	return m
}

// Put inserts or replaces c.
func (m *MemCohorts) Put(c models.Cohort) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; !ok {
		m.order = append(m.order, c.ID)
	}
	m.byID[c.ID] = c
}

// Get returns the stored cohort with id.
func (m *MemCohorts) Get(id primitive.ObjectID) (models.Cohort, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	return c, ok
}

// Finds returns how many queries have run.
func (m *MemCohorts) Finds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finds
}

// Updates returns how many status updates were applied.
func (m *MemCohorts) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

func (m *MemCohorts) query(ctx context.Context, match func(models.Cohort) bool) ([]models.Cohort, error) {
	if m.BeforeFind != nil {
		m.BeforeFind(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	var out []models.Cohort
	for _, id := range m.order {
		c, ok := m.byID[id]
		if ok && match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetByID returns mongo.ErrNoDocuments for an unknown id, like the Mongo store.
func (m *MemCohorts) GetByID(ctx context.Context, id primitive.ObjectID) (models.Cohort, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return models.Cohort{}, mongo.ErrNoDocuments
	}
	return c, nil
}

func (m *MemCohorts) FindByStatus(ctx context.Context, statuses []models.CohortStatus, excludeDeleted bool) ([]models.Cohort, error) {
	want := make(map[models.CohortStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	return m.query(ctx, func(c models.Cohort) bool {
		if excludeDeleted && c.Deleted {
			return false
		}
		return want[c.Status]
	})
}

func (m *MemCohorts) FindTerminalOlderThan(ctx context.Context, cutoff time.Time) ([]models.Cohort, error) {
	return m.query(ctx, func(c models.Cohort) bool {
		return !c.Deleted && c.Status.IsTerminal() && !c.StatusUpdatedAt.After(cutoff)
	})
}

func (m *MemCohorts) FindTerminalBetween(ctx context.Context, after, notAfter time.Time) ([]models.Cohort, error) {
	return m.query(ctx, func(c models.Cohort) bool {
		return !c.Deleted && c.Status.IsTerminal() &&
			c.StatusUpdatedAt.After(after) && !c.StatusUpdatedAt.After(notAfter)
	})
}

func (m *MemCohorts) UpdateStatus(ctx context.Context, id primitive.ObjectID, from, to models.CohortStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.UpdateErr[id]; err != nil {
		return false, err
	}
	c, ok := m.byID[id]
	if !ok || c.Deleted || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.StatusUpdatedAt = at
	c.UpdatedAt = at
	m.byID[id] = c
	m.updates++
	return true, nil
}

func (m *MemCohorts) Delete(ctx context.Context, id primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.DeleteErr[id]; err != nil {
		return 0, err
	}
	if _, ok := m.byID[id]; !ok {
		return 0, nil
	}
	delete(m.byID, id)
	return 1, nil
}

// MemUsers is an in-memory user back-reference store.
type MemUsers struct {
	mu    sync.Mutex
	links map[primitive.ObjectID]*primitive.ObjectID

	ClearErr map[primitive.ObjectID]error
	CountErr error
}

// NewMemUsers returns an empty user store.
func NewMemUsers() *MemUsers {
	return &MemUsers{
		links:    make(map[primitive.ObjectID]*primitive.ObjectID),
		ClearErr: make(map[primitive.ObjectID]error),
	}
}

// Link points userID at cohortID.
func (u *MemUsers) Link(userID, cohortID primitive.ObjectID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := cohortID
	u.links[userID] = &id
}

// CohortOf returns the user's current cohort link, or nil.
func (u *MemUsers) CohortOf(userID primitive.ObjectID) *primitive.ObjectID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.links[userID]
}

func (u *MemUsers) ClearCohortRef(ctx context.Context, userID, cohortID primitive.ObjectID) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.ClearErr[userID]; err != nil {
		return false, err
	}
	cur := u.links[userID]
	if cur == nil || *cur != cohortID {
		return false, nil
	}
	u.links[userID] = nil
	return true, nil
}

func (u *MemUsers) CountByCohort(ctx context.Context, cohortID primitive.ObjectID) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.CountErr != nil {
		return 0, u.CountErr
	}
	var n int64
	for _, cur := range u.links {
		if cur != nil && *cur == cohortID {
			n++
		}
	}
	return n, nil
}

// RecordingSink keeps every delivered notification. Fail, when set, decides
// per message whether delivery fails. Like the Mongo store, a repeated
// DedupeKey is refused with lifecycle.ErrAlreadyDelivered.
type RecordingSink struct {
	mu   sync.Mutex
	sent []models.Notification
	keys map[string]bool

	Fail func(n models.Notification) error
}

func (s *RecordingSink) Deliver(ctx context.Context, n models.Notification) error {
	if s.Fail != nil {
		if err := s.Fail(n); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.DedupeKey != "" {
		if s.keys[n.DedupeKey] {
			return lifecycle.ErrAlreadyDelivered
		}
		if s.keys == nil {
			s.keys = make(map[string]bool)
		}
		s.keys[n.DedupeKey] = true
	}
	s.sent = append(s.sent, n)
	return nil
}

// Sent returns a copy of everything delivered so far.
func (s *RecordingSink) Sent() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, len(s.sent))
	copy(out, s.sent)
	return out
}

// For returns the notifications delivered to recipient.
func (s *RecordingSink) For(recipient string) []models.Notification {
	var out []models.Notification
	for _, n := range s.Sent() {
		if n.RecipientID == recipient {
			out = append(out, n)
		}
	}
	return out
}
