package sweepctl

import (
	"context"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/bootstrap"
	"github.com/dalemusser/respondentpro/internal/app/store/hiddenprojects"
	"github.com/dalemusser/respondentpro/internal/app/store/projectcache"
	"github.com/dalemusser/respondentpro/internal/app/system/refresh"
	"github.com/spf13/cobra"
)

var (
	maxAgeHours int
	force       bool

	// defaultMaxAge is replaced by cache_max_age_hours once config loads.
	defaultMaxAge = refresh.DefaultMaxAge
)

var cacheRefreshCmd = &cobra.Command{
	Use:   "cache-refresh",
	Short: "Refresh every cached user whose cache is stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc *bootstrap.Services) error {
			return printJSON(cmd.OutOrStdout(), svc.Refresher.RefreshStale(ctx, maxAge()))
		})
	},
}

var refreshAllUsersCmd = &cobra.Command{
	Use:   "refresh-all-users",
	Short: "Refresh every user record, cached or not",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc *bootstrap.Services) error {
			return printJSON(cmd.OutOrStdout(), svc.Refresher.RefreshAllUsers(ctx, maxAge()))
		})
	},
}

var sessionKeepAliveCmd = &cobra.Command{
	Use:   "session-keepalive",
	Short: "Verify every stored upstream session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc *bootstrap.Services) error {
			return printJSON(cmd.OutOrStdout(), svc.KeepAlive.Sweep(ctx))
		})
	},
}

var refreshOneCmd = &cobra.Command{
	Use:   "refresh-one <user-id>",
	Short: "Refresh a single user's cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc *bootstrap.Services) error {
			age := maxAge()
			if force {
				age = 0
			}
			return printJSON(cmd.OutOrStdout(), svc.Refresher.RefreshOne(ctx, args[0], age))
		})
	},
}

type userStats struct {
	Cache  projectcache.Stats   `json:"cache"`
	Hidden hiddenprojects.Stats `json:"hidden"`
}

var statsCmd = &cobra.Command{
	Use:   "stats <user-id>",
	Short: "Show cache and hidden-project stats for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc *bootstrap.Services) error {
			return printJSON(cmd.OutOrStdout(), userStats{
				Cache:  svc.Cache.Stats(ctx, args[0]),
				Hidden: svc.Ledger.Stats(ctx, args[0]),
			})
		})
	},
}

// maxAge returns --max-age-hours, or the configured default when the flag
// is unset or out of range.
func maxAge() time.Duration {
	if maxAgeHours <= 0 || maxAgeHours > refresh.MaxAgeHoursLimit {
		return defaultMaxAge
	}
	return time.Duration(maxAgeHours) * time.Hour
}

func init() {
	for _, c := range []*cobra.Command{cacheRefreshCmd, refreshAllUsersCmd, refreshOneCmd} {
		c.Flags().IntVar(&maxAgeHours, "max-age-hours", 0, "Refresh caches older than this many hours (default cache_max_age_hours)")
	}
	refreshOneCmd.Flags().BoolVar(&force, "force", false, "Refresh even when the cache is fresh")
}
