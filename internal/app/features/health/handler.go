package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/stratacohort/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Pinger checks database connectivity. *mongo.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// SchedulerState reports whether the sweep timers are running.
// *workers.Scheduler satisfies it.
type SchedulerState interface {
	IsInitialized() bool
}

// Handler holds dependencies needed for health checks.
type Handler struct {
	DB        Pinger
	Scheduler SchedulerState
	Log       *zap.Logger
}

// NewHandler constructs a health Handler. sched may be nil.
func NewHandler(db Pinger, sched SchedulerState, logger *zap.Logger) *Handler {
	return &Handler{DB: db, Scheduler: sched, Log: logger}
}

type healthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Scheduler string `json:"scheduler,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "scheduler":"running" }
//
// A stopped scheduler is reported but does not fail the check, since
// operators stop it deliberately. On DB failure: 503 and
//
//	{ "status":"error", "database":"disconnected", "message":"Database unavailable", "error":"…" }
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{Status: "ok", Database: "connected"}
	if h.Scheduler != nil {
		resp.Scheduler = "stopped"
		if h.Scheduler.IsInitialized() {
			resp.Scheduler = "running"
		}
	}

	if err := h.DB.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
	}
	_ = json.NewEncoder(w).Encode(resp)
}
