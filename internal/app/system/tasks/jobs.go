// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
)

// Runner executes a sweep by kind. *lifecycle.Sweeper satisfies it.
type Runner interface {
	Run(ctx context.Context, kind lifecycle.SweepKind) (lifecycle.SweepResult, error)
}

// Job is one scheduled sweep.
type Job struct {
	Name    string
	Kind    lifecycle.SweepKind
	Cadence Cadence
	Run     func(ctx context.Context) (lifecycle.SweepResult, error)
}

func sweepJob(name string, kind lifecycle.SweepKind, r Runner, c Cadence) Job {
	return Job{
		Name:    name,
		Kind:    kind,
		Cadence: c,
		Run: func(ctx context.Context) (lifecycle.SweepResult, error) {
			return r.Run(ctx, kind)
		},
	}
}

// StatusSweepJob advances upcoming and ongoing cohorts. Runs daily at local
// midnight by default.
func StatusSweepJob(r Runner, c Cadence) Job {
	return sweepJob("cohort-status-sweep", lifecycle.SweepStatus, r, c)
}

// RetirementWarningJob warns members of cohorts due for removal within a day.
// Runs an hour before RetirementJob by default.
func RetirementWarningJob(r Runner, c Cadence) Job {
	return sweepJob("cohort-retirement-warning", lifecycle.SweepWarning, r, c)
}

// RetirementJob purges terminal cohorts past the retention window.
func RetirementJob(r Runner, c Cadence) Job {
	return sweepJob("cohort-retirement", lifecycle.SweepRetirement, r, c)
}

// DefaultJobs returns the three sweeps on their default daily cadences in loc.
func DefaultJobs(r Runner, loc *time.Location) []Job {
	return []Job{
		StatusSweepJob(r, Daily(DefaultStatusOffset, loc)),
		RetirementWarningJob(r, Daily(DefaultWarningOffset, loc)),
		RetirementJob(r, Daily(DefaultRetirementOffset, loc)),
	}
}
