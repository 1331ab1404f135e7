package lifecycle

import (
	"fmt"
	"time"

	"github.com/dalemusser/stratacohort/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Default retention windows, measured from status_updated_at.
const (
	DefaultWarnAfter   = 6 * 24 * time.Hour
	DefaultDeleteAfter = 7 * 24 * time.Hour
)

// Policy decides which terminal cohorts are warned about and which are purged.
type Policy struct {
	WarnAfter   time.Duration
	DeleteAfter time.Duration
}

// DefaultPolicy returns the 6-day warning / 7-day deletion policy.
func DefaultPolicy() Policy {
	return Policy{WarnAfter: DefaultWarnAfter, DeleteAfter: DefaultDeleteAfter}
}

// Validate checks that both windows are positive and warning precedes deletion.
func (p Policy) Validate() error {
	if p.WarnAfter <= 0 || p.DeleteAfter <= 0 {
		return fmt.Errorf("retention windows must be positive (warn=%s, delete=%s)", p.WarnAfter, p.DeleteAfter)
	}
	if p.WarnAfter >= p.DeleteAfter {
		return fmt.Errorf("retention warning (%s) must come before deletion (%s)", p.WarnAfter, p.DeleteAfter)
	}
	return nil
}

// Candidate summarizes a terminal cohort that is due for warning or purge.
type Candidate struct {
	CohortID        primitive.ObjectID   `json:"cohort_id"`
	Name            string               `json:"name"`
	Kind            string               `json:"kind"`
	Status          models.CohortStatus  `json:"status"`
	StatusUpdatedAt time.Time            `json:"status_updated_at"`
	MemberCount     int                  `json:"member_count"`
	LeaderPresent   bool                 `json:"leader_present"`
	PurgeAt         time.Time            `json:"purge_at"`
	LeaderID        *primitive.ObjectID  `json:"-"`
	MemberIDs       []primitive.ObjectID `json:"-"`
}

// NewCandidate builds the retirement summary for c.
func NewCandidate(c models.Cohort) Candidate {
	members := make([]primitive.ObjectID, len(c.MemberIDs))
	copy(members, c.MemberIDs)
	return Candidate{
		CohortID:        c.ID,
		Name:            c.Name,
		Kind:            c.KindOrDefault(),
		Status:          c.Status,
		StatusUpdatedAt: c.StatusUpdatedAt,
		MemberCount:     len(c.MemberIDs),
		LeaderPresent:   c.LeaderID != nil,
		LeaderID:        c.LeaderID,
		MemberIDs:       members,
	}
}

func (p Policy) candidate(c models.Cohort) Candidate {
	cand := NewCandidate(c)
	cand.PurgeAt = c.StatusUpdatedAt.Add(p.DeleteAfter)
	return cand
}

// eligible reports whether c can be warned about or purged at all.
func eligible(c models.Cohort) bool {
	return !c.Deleted && c.Status.IsTerminal()
}

// SelectWarningCandidates returns terminal cohorts whose age is in
// [WarnAfter, DeleteAfter), in input order.
func (p Policy) SelectWarningCandidates(cohorts []models.Cohort, now time.Time) []Candidate {
	var out []Candidate
	for _, c := range cohorts {
		if !eligible(c) {
			continue
		}
		age := now.Sub(c.StatusUpdatedAt)
		if age >= p.WarnAfter && age < p.DeleteAfter {
			out = append(out, p.candidate(c))
		}
	}
	return out
}

// SelectRetirementCandidates returns terminal cohorts whose age is at least
// DeleteAfter, in input order.
func (p Policy) SelectRetirementCandidates(cohorts []models.Cohort, now time.Time) []Candidate {
	var out []Candidate
	for _, c := range cohorts {
		if !eligible(c) {
			continue
		}
		if now.Sub(c.StatusUpdatedAt) >= p.DeleteAfter {
			out = append(out, p.candidate(c))
		}
	}
	return out
}

// WarnCutoffs returns the status_updated_at bounds of the warning window:
// after < status_updated_at <= notAfter.
func (p Policy) WarnCutoffs(now time.Time) (after, notAfter time.Time) {
	return now.Add(-p.DeleteAfter), now.Add(-p.WarnAfter)
}

// DeleteCutoff returns the latest status_updated_at that is due for purge.
func (p Policy) DeleteCutoff(now time.Time) time.Time {
	return now.Add(-p.DeleteAfter)
}
