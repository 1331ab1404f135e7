package workers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/store/sweepruns"
	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/app/system/tasks"
	"github.com/dalemusser/stratacohort/internal/domain/models"
	"github.com/dalemusser/stratacohort/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// never is a cadence that will not fire during a test.
var never = tasks.Daily(0, time.UTC)

func fast(interval time.Duration) tasks.Cadence {
	return tasks.Cadence{Interval: interval, Location: time.UTC}
}

// gatedJob blocks every run until release is closed and tracks concurrency.
type gatedJob struct {
	kind    lifecycle.SweepKind
	release chan struct{}
	started chan struct{}

	runs    atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newGatedJob(kind lifecycle.SweepKind) *gatedJob {
	return &gatedJob{kind: kind, release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (g *gatedJob) job(c tasks.Cadence) tasks.Job {
	return tasks.Job{
		Name:    "gated-" + string(g.kind),
		Kind:    g.kind,
		Cadence: c,
		Run: func(ctx context.Context) (lifecycle.SweepResult, error) {
			n := g.active.Add(1)
			defer g.active.Add(-1)
			for {
				m := g.maxSeen.Load()
				if n <= m || g.maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			g.runs.Add(1)
			g.started <- struct{}{}
			select {
			case <-g.release:
			case <-ctx.Done():
				return lifecycle.SweepResult{}, ctx.Err()
			}
			return lifecycle.SweepResult{Kind: g.kind, FinishedAt: time.Now()}, nil
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sweeperScheduler(t *testing.T, cohorts *testutil.MemCohorts, sink *testutil.RecordingSink, reg prometheus.Registerer) *Scheduler {
	t.Helper()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	sw := lifecycle.NewSweeper(cohorts, testutil.NewMemUsers(),
		lifecycle.NewNotifier(sink, zap.NewNop(), ""), lifecycle.DefaultPolicy(), zap.NewNop(),
		lifecycle.WithClock(func() time.Time { return now }))
	return NewScheduler(tasks.DefaultJobs(sw, time.UTC), sw, zap.NewNop(), NewMetrics(reg), Config{RestartDelay: time.Millisecond})
}

func TestScheduler_InitStopIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := sweeperScheduler(t, testutil.NewMemCohorts(), &testutil.RecordingSink{}, nil)

	s.Init()
	s.Init()
	rep := s.Status()
	if !rep.IsInitialized || rep.JobCount != 3 || len(rep.ActiveJobs) != 3 {
		t.Fatalf("status after Init: %+v", rep)
	}
	waitFor(t, "next run times", func() bool {
		for _, j := range s.Status().Jobs {
			if j.NextRun == nil {
				return false
			}
		}
		return true
	})

	s.Stop()
	s.Stop()
	rep = s.Status()
	if rep.IsInitialized || rep.JobCount != 0 {
		t.Errorf("status after Stop: %+v", rep)
	}
	for _, j := range rep.Jobs {
		if j.NextRun != nil {
			t.Errorf("job %s still has a next run after Stop", j.Name)
		}
	}
}

func TestScheduler_Restart(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := sweeperScheduler(t, testutil.NewMemCohorts(), &testutil.RecordingSink{}, nil)
	s.Init()
	defer s.Stop()

	s.Restart()

	if !s.IsInitialized() {
		t.Fatal("scheduler not running after Restart")
	}
	if got := s.Status().JobCount; got != 3 {
		t.Errorf("JobCount: got %d, want 3", got)
	}
}

func TestScheduler_TriggerSweepErrors(t *testing.T) {
	s := sweeperScheduler(t, testutil.NewMemCohorts(), &testutil.RecordingSink{}, nil)

	if _, err := s.TriggerSweep(context.Background(), lifecycle.SweepStatus); !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("before Init: got %v, want ErrSchedulerStopped", err)
	}

	s.Init()
	defer s.Stop()
	if _, err := s.TriggerSweep(context.Background(), "hourly"); !errors.Is(err, lifecycle.ErrUnknownSweepKind) {
		t.Errorf("unknown kind: got %v, want ErrUnknownSweepKind", err)
	}
}

func TestScheduler_TriggerSweepRunsAndRecords(t *testing.T) {
	defer goleak.VerifyNone(t)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := models.Cohort{
		ID:        primitive.NewObjectID(),
		Name:      "Spring",
		Status:    models.CohortUpcoming,
		StartDate: &start,
		MemberIDs: []primitive.ObjectID{primitive.NewObjectID()},
	}
	cohorts := testutil.NewMemCohorts(c)
	sink := &testutil.RecordingSink{}
	reg := prometheus.NewRegistry()
	s := sweeperScheduler(t, cohorts, sink, reg)
	s.Init()
	defer s.Stop()

	res, err := s.TriggerSweep(context.Background(), lifecycle.SweepStatus)
	if err != nil {
		t.Fatalf("TriggerSweep: %v", err)
	}
	if res.UpdatedCount != 1 || res.RunID == "" {
		t.Errorf("result: %+v", res)
	}
	if got, _ := cohorts.Get(c.ID); got.Status != models.CohortOngoing {
		t.Errorf("status: got %q", got.Status)
	}
	if len(sink.Sent()) != 1 {
		t.Errorf("notifications: got %d, want 1", len(sink.Sent()))
	}

	var js JobStatus
	for _, j := range s.Status().Jobs {
		if j.Kind == lifecycle.SweepStatus {
			js = j
		}
	}
	if js.LastRun == nil || js.LastOutcome != OutcomeSuccess || js.Running {
		t.Errorf("job status: %+v", js)
	}
	if js.LastResult == nil || js.LastResult.RunID != res.RunID {
		t.Errorf("last result: %+v", js.LastResult)
	}

	if got := promtest.ToFloat64(s.metrics.sweeps.WithLabelValues("status", OutcomeSuccess)); got != 1 {
		t.Errorf("sweeps_total{status,success}: got %v, want 1", got)
	}
	if got := promtest.ToFloat64(s.metrics.transitions.WithLabelValues("upcoming", "ongoing")); got != 1 {
		t.Errorf("transitions_total: got %v, want 1", got)
	}
	if n, err := promtest.GatherAndCount(reg, "stratacohort_sweeps_total"); err != nil || n == 0 {
		t.Errorf("registry gather: n=%d err=%v", n, err)
	}
}

func TestScheduler_RepositoryFailureOutcome(t *testing.T) {
	cohorts := testutil.NewMemCohorts()
	cohorts.FindErr = errors.New("no reachable servers")
	s := sweeperScheduler(t, cohorts, &testutil.RecordingSink{}, nil)
	s.Init()
	defer s.Stop()

	res, err := s.TriggerSweep(context.Background(), lifecycle.SweepRetirement)
	if err != nil {
		t.Fatalf("TriggerSweep: %v", err)
	}
	if !res.Failed() {
		t.Fatal("expected failed result")
	}
	for _, j := range s.Status().Jobs {
		if j.Kind != lifecycle.SweepRetirement {
			continue
		}
		if j.LastOutcome != OutcomeFailed || !strings.Contains(j.LastError, "no reachable servers") {
			t.Errorf("job status: %+v", j)
		}
	}
}

func TestScheduler_TimerFires(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int32
	job := tasks.Job{
		Name:    "tick",
		Kind:    lifecycle.SweepStatus,
		Cadence: fast(10 * time.Millisecond),
		Run: func(context.Context) (lifecycle.SweepResult, error) {
			runs.Add(1)
			return lifecycle.SweepResult{Kind: lifecycle.SweepStatus}, nil
		},
	}
	s := NewScheduler([]tasks.Job{job}, nil, zap.NewNop(), nil, Config{})
	s.Init()

	waitFor(t, "two timer runs", func() bool { return runs.Load() >= 2 })
	s.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Error("job ran after Stop")
	}
}

func TestScheduler_OverlappingTimerRunIsSkipped(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := newGatedJob(lifecycle.SweepRetirement)
	s := NewScheduler([]tasks.Job{g.job(fast(5 * time.Millisecond))}, nil, zap.NewNop(), nil, Config{})
	s.Init()

	<-g.started
	waitFor(t, "a skipped run", func() bool { return s.Status().Jobs[0].Skipped > 0 })
	if !s.Status().Jobs[0].Running {
		t.Error("job should report running")
	}
	close(g.release)
	s.Stop()

	if g.maxSeen.Load() != 1 {
		t.Errorf("max concurrent runs: got %d, want 1", g.maxSeen.Load())
	}
	if got := promtest.ToFloat64(s.metrics.sweeps.WithLabelValues("retirement", OutcomeSkipped)); got == 0 {
		t.Error("skipped runs not counted")
	}
}

func TestScheduler_ManualTriggerWaitsForRunningKind(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := newGatedJob(lifecycle.SweepStatus)
	s := NewScheduler([]tasks.Job{g.job(never)}, nil, zap.NewNop(), nil, Config{})
	s.Init()
	defer s.Stop()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	trigger := func() {
		defer wg.Done()
		_, err := s.TriggerSweep(context.Background(), lifecycle.SweepStatus)
		errs <- err
	}

	wg.Add(1)
	go trigger()
	<-g.started

	wg.Add(1)
	go trigger()
	// The second trigger must queue behind the first rather than start.
	select {
	case <-g.started:
		t.Fatal("second manual run started while the first was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(g.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("TriggerSweep: %v", err)
		}
	}
	if g.runs.Load() != 2 || g.maxSeen.Load() != 1 {
		t.Errorf("runs=%d max concurrent=%d, want 2 and 1", g.runs.Load(), g.maxSeen.Load())
	}
}

func TestScheduler_DifferentKindsRunConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := newGatedJob(lifecycle.SweepStatus)
	b := newGatedJob(lifecycle.SweepWarning)
	b.release = a.release
	s := NewScheduler([]tasks.Job{a.job(never), b.job(never)}, nil, zap.NewNop(), nil, Config{})
	s.Init()
	defer s.Stop()

	var wg sync.WaitGroup
	for _, k := range []lifecycle.SweepKind{lifecycle.SweepStatus, lifecycle.SweepWarning} {
		wg.Add(1)
		go func(k lifecycle.SweepKind) {
			defer wg.Done()
			if _, err := s.TriggerSweep(context.Background(), k); err != nil {
				t.Errorf("TriggerSweep(%s): %v", k, err)
			}
		}(k)
	}

	<-a.started
	<-b.started
	running := 0
	for _, j := range s.Status().Jobs {
		if j.Running {
			running++
		}
	}
	if running != 2 {
		t.Errorf("running jobs: got %d, want 2", running)
	}
	close(a.release)
	wg.Wait()
}

func TestScheduler_PanicIsRecovered(t *testing.T) {
	defer goleak.VerifyNone(t)

	job := tasks.Job{
		Name:    "boom",
		Kind:    lifecycle.SweepWarning,
		Cadence: never,
		Run: func(context.Context) (lifecycle.SweepResult, error) {
			panic("nil sink")
		},
	}
	s := NewScheduler([]tasks.Job{job}, nil, zap.NewNop(), nil, Config{})
	s.Init()
	defer s.Stop()

	_, err := s.TriggerSweep(context.Background(), lifecycle.SweepWarning)
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic error, got %v", err)
	}
	js := s.Status().Jobs[0]
	if js.LastOutcome != OutcomeFailed || js.Running {
		t.Errorf("job status: %+v", js)
	}

	// The kind's run lock was released.
	if _, err := s.TriggerSweep(context.Background(), lifecycle.SweepWarning); err == nil {
		t.Error("expected the second run to panic as well")
	}
}

func TestScheduler_SweepTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := newGatedJob(lifecycle.SweepStatus)
	s := NewScheduler([]tasks.Job{g.job(never)}, nil, zap.NewNop(), nil, Config{SweepTimeout: 20 * time.Millisecond})
	s.Init()
	defer s.Stop()

	_, err := s.TriggerSweep(context.Background(), lifecycle.SweepStatus)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestScheduler_UpcomingRetirements(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	c := models.Cohort{
		ID:              primitive.NewObjectID(),
		Status:          models.CohortCompleted,
		StatusUpdatedAt: now.Add(-6*24*time.Hour - time.Hour),
	}
	s := sweeperScheduler(t, testutil.NewMemCohorts(c), &testutil.RecordingSink{}, nil)

	got, err := s.UpcomingRetirements(context.Background(), now)
	if err != nil {
		t.Fatalf("UpcomingRetirements: %v", err)
	}
	if len(got) != 1 || got[0].CohortID != c.ID {
		t.Errorf("got %+v", got)
	}
}

type memRunLog struct {
	mu   sync.Mutex
	runs []sweepruns.Run
	err  error
}

func (m *memRunLog) Record(_ context.Context, r sweepruns.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return m.err
}

func TestScheduler_RecordsHistory(t *testing.T) {
	history := &memRunLog{}
	boom := tasks.Job{
		Name:    "boom",
		Kind:    lifecycle.SweepWarning,
		Cadence: never,
		Run: func(context.Context) (lifecycle.SweepResult, error) {
			panic("bad sink")
		},
	}
	ok := tasks.Job{
		Name:    "ok",
		Kind:    lifecycle.SweepStatus,
		Cadence: never,
		Run: func(context.Context) (lifecycle.SweepResult, error) {
			return lifecycle.SweepResult{RunID: "run-1", Kind: lifecycle.SweepStatus, StartedAt: time.Now()}, nil
		},
	}
	s := NewScheduler([]tasks.Job{ok, boom}, nil, zap.NewNop(), nil, Config{History: history})
	s.Init()
	defer s.Stop()

	if _, err := s.TriggerSweep(context.Background(), lifecycle.SweepStatus); err != nil {
		t.Fatalf("TriggerSweep: %v", err)
	}
	_, _ = s.TriggerSweep(context.Background(), lifecycle.SweepWarning)

	history.mu.Lock()
	defer history.mu.Unlock()
	if len(history.runs) != 2 {
		t.Fatalf("recorded runs: got %d, want 2", len(history.runs))
	}
	first, second := history.runs[0], history.runs[1]
	if first.RunID != "run-1" || first.Outcome != OutcomeSuccess || first.Trigger != sweepruns.TriggerManual {
		t.Errorf("first run: %+v", first)
	}
	if second.Kind != string(lifecycle.SweepWarning) || second.Outcome != OutcomeFailed || !strings.Contains(second.Error, "panicked") {
		t.Errorf("second run: %+v", second)
	}
	if second.StartedAt.IsZero() || second.FinishedAt.IsZero() {
		t.Error("failed run should still carry timestamps")
	}
}

func TestScheduler_RunOnceWithoutInit(t *testing.T) {
	defer goleak.VerifyNone(t)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := models.Cohort{
		ID:        primitive.NewObjectID(),
		Name:      "Autumn",
		Status:    models.CohortUpcoming,
		StartDate: &start,
		MemberIDs: []primitive.ObjectID{primitive.NewObjectID()},
	}
	cohorts := testutil.NewMemCohorts(c)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	sw := lifecycle.NewSweeper(cohorts, testutil.NewMemUsers(),
		lifecycle.NewNotifier(&testutil.RecordingSink{}, zap.NewNop(), ""), lifecycle.DefaultPolicy(), zap.NewNop(),
		lifecycle.WithClock(func() time.Time { return now }))
	history := &memRunLog{}
	s := NewScheduler(tasks.DefaultJobs(sw, time.UTC), sw, zap.NewNop(), nil, Config{History: history})

	res, err := s.RunOnce(context.Background(), lifecycle.SweepStatus)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.UpdatedCount != 1 {
		t.Errorf("updated: got %d, want 1", res.UpdatedCount)
	}
	if s.IsInitialized() {
		t.Error("RunOnce must not start the timers")
	}

	history.mu.Lock()
	runs := append([]sweepruns.Run(nil), history.runs...)
	history.mu.Unlock()
	if len(runs) != 1 || runs[0].Trigger != sweepruns.TriggerManual || runs[0].Outcome != OutcomeSuccess {
		t.Fatalf("history: got %+v", runs)
	}
	if runs[0].RunID != res.RunID {
		t.Errorf("run id: got %q, want %q", runs[0].RunID, res.RunID)
	}
	if got := promtest.ToFloat64(s.metrics.sweeps.WithLabelValues("status", OutcomeSuccess)); got != 1 {
		t.Errorf("sweeps_total{status,success}: got %v, want 1", got)
	}

	if _, err := s.RunOnce(context.Background(), "hourly"); !errors.Is(err, lifecycle.ErrUnknownSweepKind) {
		t.Errorf("unknown kind: got %v, want ErrUnknownSweepKind", err)
	}
}

func TestScheduler_RunOnceRecoversPanic(t *testing.T) {
	job := tasks.Job{
		Name:    "boom",
		Kind:    lifecycle.SweepRetirement,
		Cadence: never,
		Run: func(context.Context) (lifecycle.SweepResult, error) {
			panic("nil repository")
		},
	}
	history := &memRunLog{}
	s := NewScheduler([]tasks.Job{job}, nil, zap.NewNop(), nil, Config{History: history})

	_, err := s.RunOnce(context.Background(), lifecycle.SweepRetirement)
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic error, got %v", err)
	}
	history.mu.Lock()
	runs := append([]sweepruns.Run(nil), history.runs...)
	history.mu.Unlock()
	if len(runs) != 1 || runs[0].Outcome != OutcomeFailed || runs[0].Kind != "retirement" {
		t.Errorf("history: got %+v", runs)
	}
}
