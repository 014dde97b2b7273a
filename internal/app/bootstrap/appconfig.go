// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers the
// framework-level settings (ports, TLS, log level); everything below is
// specific to the project cache service.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Cache refresh
	CacheMaxAge    time.Duration // entries older than this are refreshed
	WorkerPoolSize int           // users refreshed or verified at once

	// In-process scheduling of the sweeps
	SchedulerEnabled         bool
	CacheRefreshSchedule     string // five-field cron, UTC
	SessionKeepAliveSchedule string // five-field cron, UTC
	SchedulerToken           string // required on /scheduled requests when set

	// Required on /insights requests when set
	InsightsToken string

	// Upstream Respondent API
	UpstreamBaseURL string
	UpstreamTimeout time.Duration

	// Keys sealing stored upstream session cookies
	SessionHashKey  string // 32 or 64 bytes
	SessionBlockKey string // empty, or 16, 24 or 32 bytes

	// Identity resolution memo
	IdentityCacheSize int
	IdentityCacheTTL  time.Duration

	// Serve Prometheus metrics at /metrics
	MetricsEnabled bool
}
