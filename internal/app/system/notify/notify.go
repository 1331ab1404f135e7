// Package notify provides delivery sinks for lifecycle notifications beyond
// the in-app store: a structured log sink, an email sink and a fan-out.
package notify

import (
	"context"
	"errors"

	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	"go.uber.org/zap"
)

var errNoSinks = errors.New("no notification sinks configured")

// Multi delivers to a primary sink and then to any secondary sinks.
// Only the primary's error is returned; secondary failures are logged.
// When the primary reports lifecycle.ErrAlreadyDelivered the secondaries
// are skipped, so a repeated warning is not mailed twice.
type Multi struct {
	primary   lifecycle.Sink
	secondary []lifecycle.Sink
	log       *zap.Logger
}

// NewMulti fans out to primary plus secondary.
func NewMulti(logger *zap.Logger, primary lifecycle.Sink, secondary ...lifecycle.Sink) *Multi {
	return &Multi{primary: primary, secondary: secondary, log: logger}
}

func (m *Multi) Deliver(ctx context.Context, n models.Notification) error {
	if m.primary == nil && len(m.secondary) == 0 {
		return errNoSinks
	}
	var err error
	if m.primary != nil {
		err = m.primary.Deliver(ctx, n)
		if errors.Is(err, lifecycle.ErrAlreadyDelivered) {
			return err
		}
	}
	for _, s := range m.secondary {
		if serr := s.Deliver(ctx, n); serr != nil {
			m.log.Warn("secondary notification sink failed",
				zap.String("recipient", n.RecipientID),
				zap.String("kind", n.Kind),
				zap.Error(serr))
		}
	}
	return err
}

// LogSink writes each notification to the log.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink returns a sink that logs at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{log: logger}
}

func (s *LogSink) Deliver(_ context.Context, n models.Notification) error {
	s.log.Info("notification",
		zap.String("recipient", n.RecipientID),
		zap.String("cohort_id", n.CohortID.Hex()),
		zap.String("kind", n.Kind),
		zap.String("severity", n.Severity),
		zap.String("title", n.Title),
		zap.String("message", n.Message))
	return nil
}
