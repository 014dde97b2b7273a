// Package timeouts provides centralized timeout values for store and
// upstream operations.
//
// Values are used with context.WithTimeout around database calls, batched
// cache writes and calls to the upstream Respondent API. Configure() is
// called once at startup from the app config; otherwise defaults apply.
//
// Guidelines for choosing a timeout:
//   - Ping: health checks and connectivity verification
//   - Short: single-document reads such as identity lookups
//   - Medium: per-user reads and small writes (freshness checks, ledger rows)
//   - Batch: bulk cache rewrites and legacy-id migrations
//   - Upstream: one HTTP round trip to the upstream API
package timeouts

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default timeout values (used if Configure is not called).
const (
	DefaultPing     = 2 * time.Second
	DefaultShort    = 5 * time.Second
	DefaultMedium   = 10 * time.Second
	DefaultBatch    = 60 * time.Second
	DefaultUpstream = 30 * time.Second
)

var mu sync.RWMutex

var (
	ping     = DefaultPing
	short    = DefaultShort
	medium   = DefaultMedium
	batch    = DefaultBatch
	upstream = DefaultUpstream
)

// Ping returns the timeout for health checks and connectivity verification.
func Ping() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return ping
}

// Short returns the timeout for single-document reads.
func Short() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return short
}

// Medium returns the timeout for per-user reads and small writes.
func Medium() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return medium
}

// Batch returns the timeout for bulk rewrites and migrations.
func Batch() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return batch
}

// Upstream returns the timeout for a single upstream HTTP request.
func Upstream() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return upstream
}

// Config holds timeout configuration values.
// Zero values are ignored (defaults are kept).
type Config struct {
	Ping     time.Duration
	Short    time.Duration
	Medium   time.Duration
	Batch    time.Duration
	Upstream time.Duration
}

// Configure sets custom timeout values. Zero values in the config are
// ignored, keeping the current (or default) values.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if cfg.Ping > 0 {
		ping = cfg.Ping
	}
	if cfg.Short > 0 {
		short = cfg.Short
	}
	if cfg.Medium > 0 {
		medium = cfg.Medium
	}
	if cfg.Batch > 0 {
		batch = cfg.Batch
	}
	if cfg.Upstream > 0 {
		upstream = cfg.Upstream
	}
}

// Reset restores all timeouts to their default values.
// Useful for testing.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	ping = DefaultPing
	short = DefaultShort
	medium = DefaultMedium
	batch = DefaultBatch
	upstream = DefaultUpstream
}

// Current returns the current timeout configuration.
func Current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return Config{
		Ping:     ping,
		Short:    short,
		Medium:   medium,
		Batch:    batch,
		Upstream: upstream,
	}
}

// WithTimeout creates a context with timeout and returns a cancel function
// that logs a warning if the context ended because the deadline passed.
//
//	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Batch(), s.log, "cache replace")
//	defer cancel()
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if ctx.Err() == context.DeadlineExceeded && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout),
			)
		}
		cancel()
	}
}
