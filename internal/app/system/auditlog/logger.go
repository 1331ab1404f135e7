// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"

	"github.com/dalemusser/stratacohort/internal/app/store/sweepruns"
	"go.uber.org/zap"
)

// Destinations for a category of audit records.
const (
	ModeAll = "all" // MongoDB and zap
	ModeDB  = "db"  // MongoDB only
	ModeLog = "log" // zap only
	ModeOff = "off"
)

// ValidMode reports whether m is a known destination setting.
func ValidMode(m string) bool {
	switch m {
	case ModeAll, ModeDB, ModeLog, ModeOff:
		return true
	}
	return false
}

// Config selects where each category goes.
type Config struct {
	// Runs controls sweep run records.
	Runs string
	// Ops controls operator actions taken through the ops API (manual
	// sweeps, restarts). Ops actions are only ever logged, so "db" behaves
	// like "off" and "all" like "log".
	Ops string
}

// Store persists sweep runs. *sweepruns.Store satisfies it.
type Store interface {
	Record(ctx context.Context, r sweepruns.Run) error
}

// Logger records sweep runs and operator actions according to Config.
// It satisfies workers.RunLog.
type Logger struct {
	store  Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger. store may be nil when Runs is "log" or
// "off".
func New(store Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{store: store, zapLog: zapLog, config: config}
}

// clientIP extracts the caller address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

func toLog(mode string) bool { return mode == "" || mode == ModeAll || mode == ModeLog }
func toDB(mode string) bool  { return mode == "" || mode == ModeAll || mode == ModeDB }

// Record stores a finished sweep run. A nil Logger is a no-op.
// The returned error is the store's; zap output never fails.
func (l *Logger) Record(ctx context.Context, run sweepruns.Run) error {
	if l == nil {
		return nil
	}
	mode := l.config.Runs
	if toLog(mode) {
		fields := []zap.Field{
			zap.Bool("audit", true),
			zap.String("category", "sweep"),
			zap.String("run_id", run.RunID),
			zap.String("kind", run.Kind),
			zap.String("trigger", run.Trigger),
			zap.String("outcome", run.Outcome),
			zap.Int("processed", run.Processed),
			zap.Int("updated", run.Updated),
			zap.Int("cohorts", len(run.CohortIDs)),
		}
		if run.Error != "" {
			fields = append(fields, zap.String("error", run.Error))
		}
		if run.Outcome == "success" {
			l.zapLog.Info("audit event", fields...)
		} else {
			l.zapLog.Warn("audit event", fields...)
		}
	}
	if toDB(mode) && l.store != nil {
		if err := l.store.Record(ctx, run); err != nil {
			l.zapLog.Error("failed to store sweep run",
				zap.String("run_id", run.RunID),
				zap.Error(err))
			return err
		}
	}
	return nil
}

// OpsAction logs an operator action such as "trigger_sweep" or
// "restart_scheduler". detail is free-form (the sweep kind, for example).
func (l *Logger) OpsAction(r *http.Request, action, detail string, success bool) {
	if l == nil || !toLog(l.config.Ops) {
		return
	}
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", "ops"),
		zap.String("event_type", action),
		zap.String("detail", detail),
		zap.Bool("success", success),
		zap.String("ip", clientIP(r)),
		zap.String("user_agent", r.UserAgent()),
	}
	if success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}
