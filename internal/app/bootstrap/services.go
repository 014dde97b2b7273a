// internal/app/bootstrap/services.go
package bootstrap

import (
	"fmt"

	"github.com/dalemusser/respondentpro/internal/app/store/credentials"
	"github.com/dalemusser/respondentpro/internal/app/store/hiddenprojects"
	"github.com/dalemusser/respondentpro/internal/app/store/projectcache"
	"github.com/dalemusser/respondentpro/internal/app/store/projectdetails"
	"github.com/dalemusser/respondentpro/internal/app/store/userfilters"
	userstore "github.com/dalemusser/respondentpro/internal/app/store/users"
	"github.com/dalemusser/respondentpro/internal/app/system/hidepolicy"
	"github.com/dalemusser/respondentpro/internal/app/system/identity"
	"github.com/dalemusser/respondentpro/internal/app/system/keepalive"
	"github.com/dalemusser/respondentpro/internal/app/system/metrics"
	"github.com/dalemusser/respondentpro/internal/app/system/refresh"
	"github.com/dalemusser/respondentpro/internal/app/system/respondent"
	"github.com/dalemusser/respondentpro/internal/app/system/tasks"
	"github.com/dalemusser/respondentpro/internal/app/system/timeouts"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Services bundles the stores and background workers built from config.
// The server and the sweepctl tool construct it the same way.
type Services struct {
	Identities  *identity.Resolver
	Users       *userstore.Store
	Cache       *projectcache.Store
	Ledger      *hiddenprojects.Store
	Details     *projectdetails.Store
	Credentials *credentials.Store
	Filters     *userfilters.Store
	Upstream    *respondent.Client

	Refresher *refresh.Refresher
	KeepAlive *keepalive.Sweeper
	Scheduler *tasks.Scheduler // nil when the in-process scheduler is off

	Registry *prometheus.Registry
}

// NewServices builds every store and worker over db. It does not start the
// scheduler.
func NewServices(db *mongo.Database, appCfg AppConfig, logger *zap.Logger) (*Services, error) {
	timeouts.Configure(timeouts.Config{Upstream: appCfg.UpstreamTimeout})

	clock := clockwork.NewRealClock()

	users := userstore.New(db)
	ids := identity.NewResolver(users, appCfg.IdentityCacheSize, appCfg.IdentityCacheTTL, logger.Named("identity"))

	var blockKey []byte
	if appCfg.SessionBlockKey != "" {
		blockKey = []byte(appCfg.SessionBlockKey)
	}

	svc := &Services{
		Identities:  ids,
		Users:       users,
		Cache:       projectcache.New(db, ids, clock, logger.Named("projectcache")),
		Ledger:      hiddenprojects.New(db, ids, users, clock, logger.Named("hiddenprojects")),
		Details:     projectdetails.New(db, clock, logger.Named("projectdetails")),
		Credentials: credentials.New(db, []byte(appCfg.SessionHashKey), blockKey, logger.Named("credentials")),
		Filters:     userfilters.New(db),
		Upstream:    respondent.NewClient(appCfg.UpstreamBaseURL, appCfg.UpstreamTimeout, logger.Named("respondent")),
	}

	svc.Refresher = refresh.New(refresh.Deps{
		Identities:  svc.Identities,
		Cache:       svc.Cache,
		Ledger:      svc.Ledger,
		Credentials: svc.Credentials,
		Filters:     svc.Filters,
		Users:       svc.Users,
		Fetcher:     svc.Upstream,
		Hider:       svc.Upstream,
		Verifier:    svc.Upstream,
		Policy:      hidepolicy.KeywordPolicy{},
	}, appCfg.WorkerPoolSize, clock, logger.Named("refresh"))

	svc.KeepAlive = keepalive.New(svc.Credentials, svc.Upstream, appCfg.WorkerPoolSize, clock, logger.Named("keepalive"))

	svc.Registry = prometheus.NewRegistry()
	svc.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(svc.Registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if appCfg.SchedulerEnabled {
		sched := tasks.NewScheduler(logger.Named("tasks"))
		if err := sched.Add(tasks.CacheRefreshJob(svc.Refresher, appCfg.CacheRefreshSchedule, appCfg.CacheMaxAge)); err != nil {
			return nil, fmt.Errorf("schedule cache refresh: %w", err)
		}
		if err := sched.Add(tasks.SessionKeepAliveJob(svc.KeepAlive, appCfg.SessionKeepAliveSchedule)); err != nil {
			return nil, fmt.Errorf("schedule session keep-alive: %w", err)
		}
		svc.Scheduler = sched
	}

	return svc, nil
}
