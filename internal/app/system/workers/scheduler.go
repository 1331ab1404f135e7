// internal/app/system/workers/scheduler.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/store/sweepruns"
	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/app/system/tasks"
	"github.com/dalemusser/stratacohort/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// ErrSchedulerStopped is returned by TriggerSweep when the scheduler has not
// been initialized or has been stopped.
var ErrSchedulerStopped = errors.New("scheduler is not running")

// DefaultRestartDelay is the pause between Stop and Init during Restart.
const DefaultRestartDelay = 1 * time.Second

// Previewer lists cohorts heading for retirement. *lifecycle.Sweeper satisfies it.
type Previewer interface {
	UpcomingRetirements(ctx context.Context, now time.Time) ([]lifecycle.Candidate, error)
}

// RunLog persists finished runs. *sweepruns.Store satisfies it.
type RunLog interface {
	Record(ctx context.Context, r sweepruns.Run) error
}

// Config tunes the scheduler. Zero values take defaults.
type Config struct {
	// SweepTimeout bounds one run. Defaults to timeouts.Sweep().
	SweepTimeout time.Duration
	// RestartDelay is the pause inside Restart. Defaults to DefaultRestartDelay.
	RestartDelay time.Duration
	// History, when set, receives a record of every finished run.
	History RunLog
}

// JobStatus is the per-job part of StatusReport.
type JobStatus struct {
	Name        string                 `json:"name"`
	Kind        lifecycle.SweepKind    `json:"kind"`
	Schedule    string                 `json:"schedule"`
	NextRun     *time.Time             `json:"next_run,omitempty"`
	LastRun     *time.Time             `json:"last_run,omitempty"`
	LastOutcome string                 `json:"last_outcome,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
	Running     bool                   `json:"running"`
	Skipped     int                    `json:"skipped"`
	LastResult  *lifecycle.SweepResult `json:"last_result,omitempty"`
}

// StatusReport describes the scheduler for ops endpoints and the CLI.
type StatusReport struct {
	IsInitialized bool        `json:"is_initialized"`
	ActiveJobs    []string    `json:"active_jobs"`
	JobCount      int         `json:"job_count"`
	Jobs          []JobStatus `json:"jobs"`
}

type jobState struct {
	next        time.Time
	lastRun     time.Time
	lastOutcome string
	lastError   string
	lastResult  *lifecycle.SweepResult
	running     bool
	skipped     int
}

// Scheduler runs the sweep jobs on their cadences. Each kind has its own run
// lock: a timer that fires while the same kind is still running is skipped,
// a manual trigger waits for it. Different kinds run concurrently.
type Scheduler struct {
	jobs         []tasks.Job
	preview      Previewer
	log          *zap.Logger
	metrics      *Metrics
	sweepTimeout time.Duration
	restartDelay time.Duration
	history      RunLog

	// ctl serializes Init, Stop and Restart.
	ctl    sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup

	runLocks map[lifecycle.SweepKind]*sync.Mutex

	mu          sync.Mutex // guards initialized and state
	initialized bool
	state       map[lifecycle.SweepKind]*jobState
}

// NewScheduler builds a scheduler for jobs. It does not start anything;
// call Init. A nil metrics gets an unregistered set.
func NewScheduler(jobs []tasks.Job, preview Previewer, logger *zap.Logger, metrics *Metrics, cfg Config) *Scheduler {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = timeouts.Sweep()
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	s := &Scheduler{
		jobs:         jobs,
		preview:      preview,
		log:          logger,
		metrics:      metrics,
		sweepTimeout: cfg.SweepTimeout,
		restartDelay: cfg.RestartDelay,
		history:      cfg.History,
		runLocks:     make(map[lifecycle.SweepKind]*sync.Mutex, len(jobs)),
		state:        make(map[lifecycle.SweepKind]*jobState, len(jobs)),
	}
	for _, j := range jobs {
		s.runLocks[j.Kind] = &sync.Mutex{}
		s.state[j.Kind] = &jobState{}
	}
	return s
}

// Init starts one timer goroutine per job. Calling it again while running
// does nothing.
func (s *Scheduler) Init() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.initLocked()
}

func (s *Scheduler) initLocked() {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		s.log.Debug("scheduler already initialized")
		return
	}
	s.initialized = true
	s.mu.Unlock()

	s.stopCh = make(chan struct{})
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(j, s.stopCh)
	}
	s.log.Info("sweep scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop cancels all timers and waits for in-flight runs to finish. Calling
// it on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = false
	for _, st := range s.state {
		st.next = time.Time{}
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("sweep scheduler stopped")
}

// Restart stops the scheduler, waits the restart delay and starts it again.
func (s *Scheduler) Restart() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.log.Info("restarting sweep scheduler", zap.Duration("delay", s.restartDelay))
	s.stopLocked()
	time.Sleep(s.restartDelay)
	s.initLocked()
}

func (s *Scheduler) loop(job tasks.Job, stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		next := job.Cadence.Next(time.Now())
		s.setNext(job.Kind, next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		s.fire(job)
	}
}

// fire runs a timer-triggered job unless the same kind is already running.
func (s *Scheduler) fire(job tasks.Job) {
	lock := s.runLocks[job.Kind]
	if !lock.TryLock() {
		s.mu.Lock()
		s.state[job.Kind].skipped++
		s.mu.Unlock()
		s.metrics.skipped(job.Kind)
		s.log.Warn("sweep still running, skipping scheduled run", zap.String("job", job.Name))
		return
	}
	defer lock.Unlock()
	_, _ = s.runJob(context.Background(), job, sweepruns.TriggerTimer)
}

// TriggerSweep runs the sweep of kind now, waiting for any run of the same
// kind to finish first. It goes through the same path as a timer run.
func (s *Scheduler) TriggerSweep(ctx context.Context, kind lifecycle.SweepKind) (lifecycle.SweepResult, error) {
	job, ok := s.job(kind)
	if !ok {
		return lifecycle.SweepResult{}, fmt.Errorf("%w: %q", lifecycle.ErrUnknownSweepKind, kind)
	}
	if !s.IsInitialized() {
		return lifecycle.SweepResult{}, ErrSchedulerStopped
	}
	return s.runManual(ctx, job)
}

// RunOnce runs the sweep of kind as a manual run whether or not the timers
// are started. It is how cohortctl sweeps without a server, and it shares
// TriggerSweep's run lock, timeout, panic recovery, metrics and history.
func (s *Scheduler) RunOnce(ctx context.Context, kind lifecycle.SweepKind) (lifecycle.SweepResult, error) {
	job, ok := s.job(kind)
	if !ok {
		return lifecycle.SweepResult{}, fmt.Errorf("%w: %q", lifecycle.ErrUnknownSweepKind, kind)
	}
	return s.runManual(ctx, job)
}

func (s *Scheduler) runManual(ctx context.Context, job tasks.Job) (lifecycle.SweepResult, error) {
	lock := s.runLocks[job.Kind]
	lock.Lock()
	defer lock.Unlock()
	return s.runJob(ctx, job, sweepruns.TriggerManual)
}

// UpcomingRetirements previews cohorts that will be purged, oldest first.
func (s *Scheduler) UpcomingRetirements(ctx context.Context, now time.Time) ([]lifecycle.Candidate, error) {
	return s.preview.UpcomingRetirements(ctx, now)
}

// IsInitialized reports whether the timers are running.
func (s *Scheduler) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Status snapshots the scheduler and each job's bookkeeping.
func (s *Scheduler) Status() StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep := StatusReport{
		IsInitialized: s.initialized,
		ActiveJobs:    []string{},
		Jobs:          make([]JobStatus, 0, len(s.jobs)),
	}
	for _, j := range s.jobs {
		st := s.state[j.Kind]
		js := JobStatus{
			Name:        j.Name,
			Kind:        j.Kind,
			Schedule:    j.Cadence.String(),
			LastOutcome: st.lastOutcome,
			LastError:   st.lastError,
			Running:     st.running,
			Skipped:     st.skipped,
		}
		if s.initialized {
			rep.ActiveJobs = append(rep.ActiveJobs, j.Name)
			if !st.next.IsZero() {
				next := st.next
				js.NextRun = &next
			}
		}
		if !st.lastRun.IsZero() {
			last := st.lastRun
			js.LastRun = &last
		}
		if st.lastResult != nil {
			res := *st.lastResult
			js.LastResult = &res
		}
		rep.Jobs = append(rep.Jobs, js)
	}
	rep.JobCount = len(rep.ActiveJobs)
	return rep
}

func (s *Scheduler) job(kind lifecycle.SweepKind) (tasks.Job, bool) {
	for _, j := range s.jobs {
		if j.Kind == kind {
			return j, true
		}
	}
	return tasks.Job{}, false
}

func (s *Scheduler) setNext(kind lifecycle.SweepKind, next time.Time) {
	s.mu.Lock()
	s.state[kind].next = next
	s.mu.Unlock()
}

// runJob executes one run under the sweep timeout. The caller holds the
// kind's run lock. A panic in the job becomes the returned error.
func (s *Scheduler) runJob(parent context.Context, job tasks.Job, trigger string) (res lifecycle.SweepResult, err error) {
	ctx, cancel := timeouts.WithTimeout(parent, s.sweepTimeout, s.log, job.Name)
	defer cancel()

	start := time.Now()
	s.mu.Lock()
	s.state[job.Kind].running = true
	s.mu.Unlock()
	s.metrics.started(job.Kind)
	s.log.Debug("sweep starting", zap.String("job", job.Name), zap.String("trigger", trigger))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", job.Name, r)
			s.log.Error("sweep panicked",
				zap.String("job", job.Name),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
		s.record(job, trigger, start, res, err)
	}()

	return job.Run(ctx)
}

func (s *Scheduler) record(job tasks.Job, trigger string, start time.Time, res lifecycle.SweepResult, err error) {
	outcome := OutcomeOf(res, err)
	elapsed := time.Since(start)

	var msg string
	switch {
	case err != nil:
		msg = err.Error()
	case res.Failed():
		msg = res.Error
	}

	s.mu.Lock()
	st := s.state[job.Kind]
	st.running = false
	st.lastRun = start
	st.lastOutcome = outcome
	st.lastError = msg
	if err == nil {
		r := res
		st.lastResult = &r
	}
	s.mu.Unlock()

	s.metrics.finished(job.Kind, res, outcome, elapsed.Seconds())
	s.persist(res, job.Kind, trigger, outcome, start, err)

	fields := []zap.Field{
		zap.String("job", job.Name),
		zap.String("trigger", trigger),
		zap.String("run_id", res.RunID),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", elapsed),
	}
	switch outcome {
	case OutcomeFailed:
		s.log.Error("sweep failed", append(fields, zap.String("error", msg))...)
	case OutcomePartial:
		s.log.Warn("sweep finished with errors", append(fields, zap.Strings("errors", res.Errors))...)
	default:
		s.log.Info("sweep finished", fields...)
	}
}

func (s *Scheduler) persist(res lifecycle.SweepResult, kind lifecycle.SweepKind, trigger, outcome string, start time.Time, runErr error) {
	if s.history == nil {
		return
	}
	run := sweepruns.FromResult(res, trigger, outcome, runErr)
	if run.Kind == "" {
		run.Kind = string(kind)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = start.UTC()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Short())
	defer cancel()
	if err := s.history.Record(ctx, run); err != nil {
		s.log.Warn("failed to record sweep run",
			zap.String("kind", run.Kind),
			zap.String("run_id", run.RunID),
			zap.Error(err))
	}
}
