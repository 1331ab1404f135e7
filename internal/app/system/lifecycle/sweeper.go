package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dalemusser/stratacohort/internal/domain/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// SweepKind names one of the three scheduled sweeps.
type SweepKind string

const (
	SweepStatus     SweepKind = "status"
	SweepWarning    SweepKind = "warning"
	SweepRetirement SweepKind = "retirement"
)

// SweepKinds lists every sweep kind in schedule order.
func SweepKinds() []SweepKind {
	return []SweepKind{SweepStatus, SweepWarning, SweepRetirement}
}

// ParseSweepKind validates s as a sweep kind.
func ParseSweepKind(s string) (SweepKind, error) {
	switch k := SweepKind(s); k {
	case SweepStatus, SweepWarning, SweepRetirement:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSweepKind, s)
}

// Repository is the cohort store the sweeps read and mutate.
type Repository interface {
	// GetByID loads one cohort, deleted or not.
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Cohort, error)
	// FindByStatus returns cohorts in any of statuses.
	FindByStatus(ctx context.Context, statuses []models.CohortStatus, excludeDeleted bool) ([]models.Cohort, error)
	// FindTerminalOlderThan returns non-deleted terminal cohorts with
	// status_updated_at <= cutoff.
	FindTerminalOlderThan(ctx context.Context, cutoff time.Time) ([]models.Cohort, error)
	// FindTerminalBetween returns non-deleted terminal cohorts with
	// after < status_updated_at <= notAfter.
	FindTerminalBetween(ctx context.Context, after, notAfter time.Time) ([]models.Cohort, error)
	// UpdateStatus moves a cohort from one status to another and stamps
	// status_updated_at. It reports false when the cohort is no longer in from.
	UpdateStatus(ctx context.Context, id primitive.ObjectID, from, to models.CohortStatus, at time.Time) (bool, error)
	// Delete hard-removes a cohort and reports how many documents went away.
	Delete(ctx context.Context, id primitive.ObjectID) (int64, error)
}

// UserRepository clears user back-references to retired cohorts.
type UserRepository interface {
	// ClearCohortRef unsets the user's cohort link if it points at cohortID.
	ClearCohortRef(ctx context.Context, userID, cohortID primitive.ObjectID) (bool, error)
	// CountByCohort counts users whose link still points at cohortID.
	CountByCohort(ctx context.Context, cohortID primitive.ObjectID) (int64, error)
}

// SweepResult summarizes one sweep run. A failed sweep sets Error and leaves
// the rest partially filled; per-cohort failures go to Errors.
type SweepResult struct {
	RunID          string       `json:"run_id"`
	Kind           SweepKind    `json:"kind"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	TotalProcessed int          `json:"total_processed"`
	UpdatedCount   int          `json:"updated_count"`
	Transitions    []Transition `json:"transitions,omitempty"`
	Candidates     []Candidate  `json:"candidates,omitempty"`
	Purged         []Candidate  `json:"purged,omitempty"`
	Errors         []string     `json:"errors,omitempty"`
	Error          string       `json:"error,omitempty"`
	NotifyFailures int          `json:"notify_failures"`
}

// Failed reports whether the sweep stopped on a repository error.
func (r SweepResult) Failed() bool { return r.Error != "" }

// Sweeper runs the status, warning and retirement sweeps against the
// repositories. It holds no cohort state between runs.
type Sweeper struct {
	cohorts  Repository
	users    UserRepository
	notifier *Notifier
	policy   Policy
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithLocation sets the timezone whose calendar day drives status transitions.
func WithLocation(loc *time.Location) Option {
	return func(s *Sweeper) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewSweeper wires a Sweeper.
func NewSweeper(cohorts Repository, users UserRepository, notifier *Notifier, policy Policy, logger *zap.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		cohorts:  cohorts,
		users:    users,
		notifier: notifier,
		policy:   policy,
		loc:      time.UTC,
		now:      time.Now,
		log:      logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the retention policy in effect.
func (s *Sweeper) Policy() Policy { return s.policy }

// Now returns the sweeper's current time.
func (s *Sweeper) Now() time.Time { return s.now() }

// Run dispatches to the sweep named by kind.
func (s *Sweeper) Run(ctx context.Context, kind SweepKind) (SweepResult, error) {
	switch kind {
	case SweepStatus:
		return s.StatusSweep(ctx), nil
	case SweepWarning:
		return s.WarningSweep(ctx), nil
	case SweepRetirement:
		return s.RetirementSweep(ctx), nil
	}
	return SweepResult{}, fmt.Errorf("%w: %q", ErrUnknownSweepKind, kind)
}

func (s *Sweeper) begin(kind SweepKind) (SweepResult, time.Time) {
	now := s.now()
	return SweepResult{
		RunID:     uuid.NewString(),
		Kind:      kind,
		StartedAt: now.UTC(),
	}, now
}

func (s *Sweeper) fail(res *SweepResult, op string, err error) {
	rerr := &RepositoryError{Op: op, Err: err}
	res.Error = rerr.Error()
	res.FinishedAt = s.now().UTC()
	s.log.Error("sweep failed",
		zap.String("kind", string(res.Kind)),
		zap.String("run_id", res.RunID),
		zap.Error(rerr))
}

// StatusSweep advances upcoming and ongoing cohorts by at most one state
// each. Notifications for a cohort go out only after its update is written.
func (s *Sweeper) StatusSweep(ctx context.Context) SweepResult {
	res, now := s.begin(SweepStatus)
	today := now.In(s.loc)

	cohorts, err := s.cohorts.FindByStatus(ctx, []models.CohortStatus{models.CohortUpcoming, models.CohortOngoing}, true)
	if err != nil {
		s.fail(&res, "find by status", err)
		return res
	}
	res.TotalProcessed = len(cohorts)

	for _, c := range cohorts {
		if c.Deleted {
			continue
		}
		to, ok := ComputeTransition(c, today)
		if !ok {
			continue
		}
		updated, err := s.cohorts.UpdateStatus(ctx, c.ID, c.Status, to, now.UTC())
		if err != nil {
			res.Errors = append(res.Errors, (&RepositoryError{Op: "update status " + c.ID.Hex(), Err: err}).Error())
			continue
		}
		if !updated {
			// Changed by someone else since it was read; the next sweep re-reads it.
			s.log.Debug("cohort status changed concurrently, skipping",
				zap.String("cohort_id", c.ID.Hex()),
				zap.String("expected", string(c.Status)))
			continue
		}
		t := Transition{
			CohortID:  c.ID,
			Name:      c.Name,
			Kind:      c.KindOrDefault(),
			From:      c.Status,
			To:        to,
			LeaderID:  c.LeaderID,
			MemberIDs: c.MemberIDs,
		}
		res.Transitions = append(res.Transitions, t)
		res.UpdatedCount++
		res.NotifyFailures += s.notifier.NotifyTransition(ctx, t)
	}

	res.FinishedAt = s.now().UTC()
	s.log.Info("status sweep complete",
		zap.String("run_id", res.RunID),
		zap.Int("processed", res.TotalProcessed),
		zap.Int("updated", res.UpdatedCount),
		zap.Int("errors", len(res.Errors)),
		zap.Int("notify_failures", res.NotifyFailures))
	return res
}

// WarningSweep notifies members and leaders of cohorts that will be purged
// within the next day. It never mutates cohorts.
func (s *Sweeper) WarningSweep(ctx context.Context) SweepResult {
	res, now := s.begin(SweepWarning)

	after, notAfter := s.policy.WarnCutoffs(now)
	cohorts, err := s.cohorts.FindTerminalBetween(ctx, after, notAfter)
	if err != nil {
		s.fail(&res, "find terminal between", err)
		return res
	}
	res.TotalProcessed = len(cohorts)
	res.Candidates = s.policy.SelectWarningCandidates(cohorts, now)

	for _, c := range res.Candidates {
		res.NotifyFailures += s.notifier.NotifyRetirementWarning(ctx, c)
	}

	res.FinishedAt = s.now().UTC()
	s.log.Info("retirement warning sweep complete",
		zap.String("run_id", res.RunID),
		zap.Int("processed", res.TotalProcessed),
		zap.Int("warned", len(res.Candidates)),
		zap.Int("notify_failures", res.NotifyFailures))
	return res
}

// RetirementSweep purges terminal cohorts past the deletion window. Each
// purge clears the leader and member back-references first; unlink failures
// are collected and the delete still happens.
func (s *Sweeper) RetirementSweep(ctx context.Context) SweepResult {
	res, now := s.begin(SweepRetirement)

	cohorts, err := s.cohorts.FindTerminalOlderThan(ctx, s.policy.DeleteCutoff(now))
	if err != nil {
		s.fail(&res, "find terminal older than", err)
		return res
	}
	res.TotalProcessed = len(cohorts)
	res.Candidates = s.policy.SelectRetirementCandidates(cohorts, now)

	for _, c := range res.Candidates {
		uerrs := s.unlink(ctx, c)
		for _, uerr := range uerrs {
			res.Errors = append(res.Errors, uerr.Error())
		}
		n, err := s.cohorts.Delete(ctx, c.CohortID)
		if err != nil {
			res.Errors = append(res.Errors, (&RepositoryError{Op: "delete " + c.CohortID.Hex(), Err: err}).Error())
			continue
		}
		if n == 0 {
			s.log.Debug("cohort already removed", zap.String("cohort_id", c.CohortID.Hex()))
			continue
		}
		res.Purged = append(res.Purged, c)
		if stray := s.strayRefs(ctx, c, len(uerrs)); stray > 0 {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"%d users outside the roster still reference retired cohort %s", stray, c.CohortID.Hex()))
		}
	}
	res.UpdatedCount = len(res.Purged)

	for _, c := range res.Purged {
		s.log.Info("retired cohort",
			zap.String("run_id", res.RunID),
			zap.String("cohort_id", c.CohortID.Hex()),
			zap.String("name", c.Name),
			zap.String("kind", c.Kind),
			zap.String("status", string(c.Status)),
			zap.Int("members", c.MemberCount),
			zap.Bool("had_leader", c.LeaderPresent))
	}
	res.NotifyFailures += s.notifier.NotifyRetirementComplete(ctx, res.Purged)

	res.FinishedAt = s.now().UTC()
	s.log.Info("retirement sweep complete",
		zap.String("run_id", res.RunID),
		zap.Int("processed", res.TotalProcessed),
		zap.Int("purged", len(res.Purged)),
		zap.Int("errors", len(res.Errors)))
	return res
}

func (s *Sweeper) unlink(ctx context.Context, c Candidate) []error {
	var errs []error
	if c.LeaderID != nil {
		if _, err := s.users.ClearCohortRef(ctx, *c.LeaderID, c.CohortID); err != nil {
			errs = append(errs, &CascadeUnlinkError{CohortID: c.CohortID, UserID: *c.LeaderID, Role: "leader", Err: err})
		}
	}
	for _, m := range c.MemberIDs {
		if _, err := s.users.ClearCohortRef(ctx, m, c.CohortID); err != nil {
			errs = append(errs, &CascadeUnlinkError{CohortID: c.CohortID, UserID: m, Role: "member", Err: err})
		}
	}
	return errs
}

// strayRefs counts users still linked to a purged cohort beyond the ones
// whose unlink already failed. Those users were never on the roster, so
// unlink could not reach them. A count error is logged and reported as 0.
func (s *Sweeper) strayRefs(ctx context.Context, c Candidate, failed int) int64 {
	left, err := s.users.CountByCohort(ctx, c.CohortID)
	if err != nil {
		s.log.Warn("count remaining cohort references failed",
			zap.String("cohort_id", c.CohortID.Hex()), zap.Error(err))
		return 0
	}
	stray := left - int64(failed)
	if stray > 0 {
		s.log.Warn("users still reference retired cohort",
			zap.String("cohort_id", c.CohortID.Hex()),
			zap.Int64("stray", stray))
	}
	return stray
}

// UpcomingRetirements previews terminal cohorts at or past the warning
// window, oldest first. It has no side effects.
func (s *Sweeper) UpcomingRetirements(ctx context.Context, now time.Time) ([]Candidate, error) {
	cohorts, err := s.cohorts.FindTerminalOlderThan(ctx, now.Add(-s.policy.WarnAfter))
	if err != nil {
		return nil, &RepositoryError{Op: "find terminal older than", Err: err}
	}
	out := make([]Candidate, 0, len(cohorts))
	for _, c := range cohorts {
		if !eligible(c) || now.Sub(c.StatusUpdatedAt) < s.policy.WarnAfter {
			continue
		}
		out = append(out, s.policy.candidate(c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StatusUpdatedAt.Before(out[j].StatusUpdatedAt)
	})
	return out, nil
}
