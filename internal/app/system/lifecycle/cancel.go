package lifecycle

import (
	"context"
	"errors"

	"github.com/dalemusser/stratacohort/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ErrNotCancellable is returned by Cancel for a cohort that is already
// completed, cancelled or retired, or that changed status while it was
// being cancelled.
var ErrNotCancellable = errors.New("cohort is not upcoming or ongoing")

// CancelResult reports one cancellation.
type CancelResult struct {
	Transition     Transition `json:"transition"`
	NotifyFailures int        `json:"notify_failures"`
}

// Cancel moves an upcoming or ongoing cohort to cancelled and then tells its
// members and leader. The write is conditional on the status that was read,
// and nobody is notified unless it lands. status_updated_at is stamped, so
// the retention clock starts from the cancellation.
func (s *Sweeper) Cancel(ctx context.Context, id primitive.ObjectID) (CancelResult, error) {
	c, err := s.cohorts.GetByID(ctx, id)
	if err != nil {
		return CancelResult{}, &RepositoryError{Op: "get " + id.Hex(), Err: err}
	}
	if c.Deleted || c.Status.IsTerminal() {
		return CancelResult{}, ErrNotCancellable
	}

	now := s.now().UTC()
	ok, err := s.cohorts.UpdateStatus(ctx, c.ID, c.Status, models.CohortCancelled, now)
	if err != nil {
		return CancelResult{}, &RepositoryError{Op: "update status " + c.ID.Hex(), Err: err}
	}
	if !ok {
		return CancelResult{}, ErrNotCancellable
	}

	t := Transition{
		CohortID:  c.ID,
		Name:      c.Name,
		Kind:      c.KindOrDefault(),
		From:      c.Status,
		To:        models.CohortCancelled,
		LeaderID:  c.LeaderID,
		MemberIDs: c.MemberIDs,
	}
	res := CancelResult{Transition: t, NotifyFailures: s.notifier.NotifyTransition(ctx, t)}
	s.log.Info("cohort cancelled",
		zap.String("cohort_id", c.ID.Hex()),
		zap.String("name", c.Name),
		zap.String("from", string(c.Status)),
		zap.Int("notify_failures", res.NotifyFailures))
	return res, nil
}
