// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"

	healthfeature "github.com/dalemusser/respondentpro/internal/app/features/health"
	insightsfeature "github.com/dalemusser/respondentpro/internal/app/features/insights"
	scheduledfeature "github.com/dalemusser/respondentpro/internal/app/features/scheduled"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// the Startup hook have completed, so deps.Services is populated.
//
// Routes:
//   - /health      database ping and scheduled job names
//   - /scheduled   entry points for an external scheduler (sweeps, refresh-one)
//   - /insights    per-user cache and hidden-project views (token-guarded when set)
//   - /metrics     Prometheus metrics (when enabled)
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	svc := deps.Services
	if svc == nil || svc.Refresher == nil {
		return nil, errors.New("build handler: services not initialized")
	}

	r := chi.NewRouter()

	// Health check endpoint for load balancers and orchestrators.
	// A nil *tasks.Scheduler must not become a non-nil interface.
	var jobs healthfeature.JobLister
	if svc.Scheduler != nil {
		jobs = svc.Scheduler
	}
	healthHandler := healthfeature.NewHandler(deps.MongoClient, jobs, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	scheduledHandler := scheduledfeature.NewHandler(deps.MongoClient, svc.Refresher, svc.KeepAlive, appCfg.CacheMaxAge, appCfg.SchedulerToken, logger)
	r.Mount("/scheduled", scheduledfeature.Routes(scheduledHandler))

	insightsHandler := insightsfeature.NewHandler(svc.Cache, svc.Ledger, svc.Details, svc.Upstream, svc.Credentials, logger)
	insightsHandler.Token = appCfg.InsightsToken
	r.Mount("/insights", insightsfeature.Routes(insightsHandler))

	if appCfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{}))
	}

	return r, nil
}
