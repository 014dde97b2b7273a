// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/system/keepalive"
	"github.com/dalemusser/respondentpro/internal/app/system/refresh"
)

// Default schedules, in UTC.
const (
	DefaultCacheRefreshSchedule     = "0 6 * * *"
	DefaultSessionKeepAliveSchedule = "0 */8 * * *"
)

// StaleRefresher is satisfied by *refresh.Refresher.
type StaleRefresher interface {
	RefreshStale(ctx context.Context, maxAge time.Duration) refresh.Summary
}

// SessionSweeper is satisfied by *keepalive.Sweeper.
type SessionSweeper interface {
	Sweep(ctx context.Context) keepalive.Summary
}

// CacheRefreshJob refreshes every cache entry older than maxAge.
func CacheRefreshJob(r StaleRefresher, schedule string, maxAge time.Duration) Job {
	if schedule == "" {
		schedule = DefaultCacheRefreshSchedule
	}
	return Job{
		Name:     "cache-refresh",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			r.RefreshStale(ctx, maxAge)
			return nil
		},
	}
}

// SessionKeepAliveJob re-verifies every stored upstream session.
func SessionKeepAliveJob(k SessionSweeper, schedule string) Job {
	if schedule == "" {
		schedule = DefaultSessionKeepAliveSchedule
	}
	return Job{
		Name:     "session-keepalive",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			k.Sweep(ctx)
			return nil
		},
	}
}
