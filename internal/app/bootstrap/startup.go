// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/stratacohort/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs after DB connections and schema setup, before the HTTP
// handler is built. It applies the sweep timeout and starts the scheduler.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.Configure(timeouts.Config{Sweep: appCfg.SweepTimeout})
	logger.Info("timeouts configured", zap.Any("timeouts", timeouts.Current()))

	sched := deps.Services.Scheduler
	if !appCfg.SchedulerEnabled {
		logger.Warn("scheduler disabled by config; sweeps will not run until restarted via /ops")
		return nil
	}
	sched.Init()
	for _, j := range sched.Status().Jobs {
		fields := []zap.Field{zap.String("job", j.Name), zap.String("schedule", j.Schedule)}
		if j.NextRun != nil {
			fields = append(fields, zap.Time("next_run", *j.NextRun))
		}
		logger.Info("sweep scheduled", fields...)
	}
	return nil
}
