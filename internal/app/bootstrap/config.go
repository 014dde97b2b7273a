// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"net/url"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/system/identity"
	"github.com/dalemusser/respondentpro/internal/app/system/respondent"
	"github.com/dalemusser/respondentpro/internal/app/system/tasks"
	"github.com/dalemusser/respondentpro/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// devSessionHashKey is 32 bytes. Production deployments must override it.
const devSessionHashKey = "dev-only-change-me-0123456789ABC"

// appConfigKeys defines the configuration keys for the service.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, cache_max_age_hours, etc.
//   - Environment variables: RESPONDENTPRO_MONGO_URI, RESPONDENTPRO_CACHE_MAX_AGE_HOURS, etc.
//   - Command-line flags: --mongo_uri, --cache_max_age_hours, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "respondent_pro", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Cache refresh
	{Name: "cache_max_age_hours", Default: 24, Desc: "Refresh cache entries older than this many hours"},
	{Name: "worker_pool_size", Default: workers.DefaultSize, Desc: "Users refreshed or verified concurrently"},

	// Scheduling
	{Name: "scheduler_enabled", Default: true, Desc: "Run the refresh and keep-alive sweeps in-process on their cron schedules"},
	{Name: "cache_refresh_schedule", Default: tasks.DefaultCacheRefreshSchedule, Desc: "Cron schedule (UTC) of the stale cache refresh"},
	{Name: "session_keepalive_schedule", Default: tasks.DefaultSessionKeepAliveSchedule, Desc: "Cron schedule (UTC) of the session keep-alive"},
	{Name: "scheduler_token", Default: "", Desc: "Shared token required on /scheduled requests (blank disables the check)"},

	// Insights
	{Name: "insights_token", Default: "", Desc: "Shared token required on /insights requests (blank disables the check)"},

	// Upstream API
	{Name: "upstream_base_url", Default: respondent.DefaultBaseURL, Desc: "Respondent API base URL"},
	{Name: "upstream_timeout", Default: "30s", Desc: "Timeout of one upstream HTTP request"},

	// Credential sealing
	{Name: "session_hash_key", Default: devSessionHashKey, Desc: "HMAC key sealing stored sessions (32 or 64 bytes)"},
	{Name: "session_block_key", Default: "", Desc: "AES key encrypting stored sessions (blank, or 16, 24 or 32 bytes)"},

	// Identity memo
	{Name: "identity_cache_size", Default: identity.DefaultCacheSize, Desc: "Resolved identities kept in memory (0 disables)"},
	{Name: "identity_cache_ttl", Default: "1h", Desc: "Lifetime of a memoized identity"},

	{Name: "metrics_enabled", Default: true, Desc: "Serve Prometheus metrics at /metrics"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, RESPONDENTPRO_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "RESPONDENTPRO", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		CacheMaxAge:    time.Duration(appValues.Int("cache_max_age_hours")) * time.Hour,
		WorkerPoolSize: appValues.Int("worker_pool_size"),

		SchedulerEnabled:         appValues.Bool("scheduler_enabled"),
		CacheRefreshSchedule:     appValues.String("cache_refresh_schedule"),
		SessionKeepAliveSchedule: appValues.String("session_keepalive_schedule"),
		SchedulerToken:           appValues.String("scheduler_token"),

		InsightsToken: appValues.String("insights_token"),

		UpstreamBaseURL: appValues.String("upstream_base_url"),
		UpstreamTimeout: appValues.Duration("upstream_timeout", 30*time.Second),

		SessionHashKey:  appValues.String("session_hash_key"),
		SessionBlockKey: appValues.String("session_block_key"),

		IdentityCacheSize: appValues.Int("identity_cache_size"),
		IdentityCacheTTL:  appValues.Duration("identity_cache_ttl", identity.DefaultCacheTTL),

		MetricsEnabled: appValues.Bool("metrics_enabled"),
	}

	if appCfg.SessionHashKey == devSessionHashKey && coreCfg.Env == "prod" {
		logger.Warn("using the development session hash key in production; set session_hash_key")
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// Schedules are parsed here so a typo fails at boot rather than at the
// first tick.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if appCfg.MongoDatabase == "" {
		return fmt.Errorf("mongo_database is required")
	}
	if appCfg.CacheMaxAge <= 0 {
		return fmt.Errorf("cache_max_age_hours must be positive")
	}

	if _, err := tasks.ParseSchedule(appCfg.CacheRefreshSchedule); err != nil {
		return fmt.Errorf("cache_refresh_schedule: %w", err)
	}
	if _, err := tasks.ParseSchedule(appCfg.SessionKeepAliveSchedule); err != nil {
		return fmt.Errorf("session_keepalive_schedule: %w", err)
	}

	if u, err := url.Parse(appCfg.UpstreamBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream_base_url must be an absolute URL, got %q", appCfg.UpstreamBaseURL)
	}

	switch len(appCfg.SessionHashKey) {
	case 32, 64:
	default:
		return fmt.Errorf("session_hash_key must be 32 or 64 bytes, got %d", len(appCfg.SessionHashKey))
	}
	switch len(appCfg.SessionBlockKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("session_block_key must be blank or 16, 24 or 32 bytes, got %d", len(appCfg.SessionBlockKey))
	}

	return nil
}
