// internal/app/features/scheduler/handler.go
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dalemusser/stratacohort/internal/app/store/sweepruns"
	"github.com/dalemusser/stratacohort/internal/app/system/lifecycle"
	"github.com/dalemusser/stratacohort/internal/app/system/timeouts"
	"github.com/dalemusser/stratacohort/internal/app/system/workers"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Controller is the scheduler surface the ops API drives.
// *workers.Scheduler satisfies it.
type Controller interface {
	Status() workers.StatusReport
	TriggerSweep(ctx context.Context, kind lifecycle.SweepKind) (lifecycle.SweepResult, error)
	UpcomingRetirements(ctx context.Context, now time.Time) ([]lifecycle.Candidate, error)
	Restart()
}

// History lists recorded sweep runs. *sweepruns.Store satisfies it.
type History interface {
	Query(ctx context.Context, f sweepruns.QueryFilter) ([]sweepruns.Run, error)
}

// Auditor records operator actions. *auditlog.Logger satisfies it.
type Auditor interface {
	OpsAction(r *http.Request, action, detail string, success bool)
}

// Handler serves the ops scheduler endpoints.
type Handler struct {
	Sched   Controller
	History History // optional
	Audit   Auditor // optional
	Log     *zap.Logger

	now func() time.Time
}

// NewHandler builds a Handler. history and audit may be nil.
func NewHandler(sched Controller, history History, audit Auditor, logger *zap.Logger) *Handler {
	return &Handler{
		Sched:   sched,
		History: history,
		Audit:   audit,
		Log:     logger,
		now:     time.Now,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type sweepResponse struct {
	Outcome string                `json:"outcome"`
	Result  lifecycle.SweepResult `json:"result"`
	Error   string                `json:"error,omitempty"`
}

type retirementsResponse struct {
	AsOf        time.Time             `json:"as_of"`
	Count       int                   `json:"count"`
	Retirements []lifecycle.Candidate `json:"retirements"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) audit(r *http.Request, action, detail string, ok bool) {
	if h.Audit != nil {
		h.Audit.OpsAction(r, action, detail, ok)
	}
}

// ServeStatus handles GET /status.
func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Sched.Status())
}

// ServeTriggerSweep handles POST /sweeps/{kind}. The sweep runs inline and
// the response carries its result. A client that disconnects does not
// abort the sweep; the scheduler's own timeout still bounds it.
//
//	404  unknown kind
//	409  scheduler stopped
//	500  run failed (timeout, panic or repository error); body still has the result
func (h *Handler) ServeTriggerSweep(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "kind")
	kind, err := lifecycle.ParseSweepKind(raw)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	res, err := h.Sched.TriggerSweep(context.WithoutCancel(r.Context()), kind)
	if errors.Is(err, workers.ErrSchedulerStopped) {
		h.audit(r, "trigger_sweep", raw, false)
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}

	outcome := workers.OutcomeOf(res, err)
	resp := sweepResponse{Outcome: outcome, Result: res}
	code := http.StatusOK
	if outcome == workers.OutcomeFailed {
		code = http.StatusInternalServerError
		if err != nil {
			resp.Error = err.Error()
		}
		h.Log.Warn("manual sweep failed",
			zap.String("kind", raw),
			zap.String("run_id", res.RunID),
			zap.NamedError("run_error", err),
			zap.String("result_error", res.Error))
	}
	h.audit(r, "trigger_sweep", raw, outcome != workers.OutcomeFailed)
	writeJSON(w, code, resp)
}

// ServeRetirements handles GET /retirements: cohorts the next retirement
// sweeps will warn about or purge, with their purge dates.
func (h *Handler) ServeRetirements(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	now := h.now()
	list, err := h.Sched.UpcomingRetirements(ctx, now)
	if err != nil {
		h.Log.Error("upcoming retirements failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load upcoming retirements"})
		return
	}
	if list == nil {
		list = []lifecycle.Candidate{}
	}
	writeJSON(w, http.StatusOK, retirementsResponse{AsOf: now.UTC(), Count: len(list), Retirements: list})
}

// ServeRestart handles POST /restart. It returns once the timers are back.
func (h *Handler) ServeRestart(w http.ResponseWriter, r *http.Request) {
	h.Sched.Restart()
	h.audit(r, "restart_scheduler", "", true)
	writeJSON(w, http.StatusOK, h.Sched.Status())
}

// ServeRuns handles GET /runs?kind=&outcome=&cohort=&limit=.
func (h *Handler) ServeRuns(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "run history is disabled"})
		return
	}

	q := r.URL.Query()
	f := sweepruns.QueryFilter{Outcome: q.Get("outcome"), Limit: 50}
	if k := q.Get("kind"); k != "" {
		kind, err := lifecycle.ParseSweepKind(k)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		f.Kind = string(kind)
	}
	if c := q.Get("cohort"); c != "" {
		oid, err := primitive.ObjectIDFromHex(c)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cohort must be an ObjectID"})
			return
		}
		f.CohortID = &oid
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.ParseInt(l, 10, 64)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		f.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()
	runs, err := h.History.Query(ctx, f)
	if err != nil {
		h.Log.Error("sweep run query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load sweep runs"})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
