// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	healthfeature "github.com/dalemusser/stratacohort/internal/app/features/health"
	schedulerfeature "github.com/dalemusser/stratacohort/internal/app/features/scheduler"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler for this WAFFLE app.
//
// The service has no end-user pages. It exposes:
//   - /health for load balancers
//   - /ops/scheduler/* to inspect and drive the sweeps
//   - /metrics for Prometheus
//
// /ops and /metrics require the ops bearer token when one is configured.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	svc := deps.Services
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	healthHandler := healthfeature.NewHandler(deps.MongoClient, svc.Scheduler, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	var history schedulerfeature.History
	if svc.Runs != nil {
		history = svc.Runs
	}
	var auditor schedulerfeature.Auditor
	if svc.Audit != nil {
		auditor = svc.Audit
	}
	schedHandler := schedulerfeature.NewHandler(svc.Scheduler, history, auditor, logger.Named("ops"))
	r.Mount("/ops/scheduler", schedulerfeature.Routes(schedHandler, appCfg.OpsToken))

	if deps.Registry != nil {
		metrics := promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{Registry: deps.Registry})
		r.With(schedulerfeature.RequireToken(appCfg.OpsToken)).Handle("/metrics", metrics)
	}

	return r, nil
}
