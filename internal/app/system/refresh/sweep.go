package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/system/metrics"
	"github.com/dalemusser/respondentpro/internal/app/system/workers"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sweep kinds. Only one sweep of each kind runs at a time.
const (
	KindStale    = "stale"
	KindAllUsers = "all_users"
)

// sweepLabel maps a sweep kind to its metrics label.
func sweepLabel(kind string) string {
	if kind == KindAllUsers {
		return metrics.SweepAllUsersRefresh
	}
	return metrics.SweepCacheRefresh
}

// Summary counts the outcomes of one sweep.
type Summary struct {
	RunID            string        `json:"run_id"`
	Candidates       int           `json:"candidates"`
	Refreshed        int           `json:"refreshed"`
	Errors           int           `json:"errors"`
	SkippedFresh     int           `json:"skipped_fresh"`
	SkippedNoSession int           `json:"skipped_no_session"`
	SkippedInvalid   int           `json:"skipped_invalid_session"`
	SkippedNoID      int           `json:"skipped_no_id"`
	Duration         time.Duration `json:"duration"`
}

func (s *Summary) add(st Status) {
	switch st {
	case StatusRefreshed:
		s.Refreshed++
	case StatusSkippedFresh:
		s.SkippedFresh++
	case StatusSkippedNoSession:
		s.SkippedNoSession++
	case StatusSkippedInvalid:
		s.SkippedInvalid++
	case StatusSkippedNoID:
		s.SkippedNoID++
	default:
		s.Errors++
	}
}

// RefreshStale refreshes every cache owner whose entry is older than maxAge.
func (r *Refresher) RefreshStale(ctx context.Context, maxAge time.Duration) Summary {
	return r.run(ctx, uuid.NewString(), KindStale, r.deps.Cache.ListUserIDs, maxAge)
}

// RefreshAllUsers refreshes every user record, cached or not.
func (r *Refresher) RefreshAllUsers(ctx context.Context, maxAge time.Duration) Summary {
	return r.run(ctx, uuid.NewString(), KindAllUsers, r.deps.Users.ListIDs, maxAge)
}

// DispatchStale starts RefreshStale in the background and returns its run
// id. started is false when a stale sweep is already in progress.
func (r *Refresher) DispatchStale(ctx context.Context, maxAge time.Duration) (runID string, started bool) {
	return r.dispatch(ctx, KindStale, r.deps.Cache.ListUserIDs, maxAge)
}

// DispatchAllUsers starts RefreshAllUsers in the background.
func (r *Refresher) DispatchAllUsers(ctx context.Context, maxAge time.Duration) (runID string, started bool) {
	return r.dispatch(ctx, KindAllUsers, r.deps.Users.ListIDs, maxAge)
}

// Wait blocks until every dispatched sweep has finished.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

func (r *Refresher) dispatch(ctx context.Context, kind string, list func(context.Context) ([]string, error), maxAge time.Duration) (string, bool) {
	r.mu.Lock()
	if r.running[kind] {
		r.mu.Unlock()
		r.log.Info("refresh sweep already running, not dispatching", zap.String("kind", kind))
		return "", false
	}
	r.running[kind] = true
	r.mu.Unlock()

	runID := uuid.NewString()
	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, kind)
			r.mu.Unlock()
		}()
		r.run(bg, runID, kind, list, maxAge)
	}()
	return runID, true
}

func (r *Refresher) run(ctx context.Context, runID, kind string, list func(context.Context) ([]string, error), maxAge time.Duration) Summary {
	start := r.clock.Now()
	log := r.log.With(zap.String("run_id", runID), zap.String("kind", kind))
	sweep := sweepLabel(kind)
	metrics.SweepRunsTotal.WithLabelValues(sweep).Inc()

	sum := Summary{RunID: runID}
	ids, err := list(ctx)
	if err != nil {
		log.Error("list refresh candidates failed", zap.Error(err))
		sum.Errors++
		return sum
	}
	sum.Candidates = len(ids)
	log.Info("cache refresh started", zap.Int("candidates", len(ids)), zap.Duration("max_age", maxAge))

	pool := workers.NewPool[Outcome](r.poolSize, log)
	go func() {
		defer pool.Close()
		for _, id := range ids {
			uid := id
			err := pool.Submit(ctx, uid, func(ctx context.Context) (Outcome, error) {
				return r.RefreshOne(ctx, uid, maxAge), nil
			})
			if err != nil {
				// Remaining candidates are not started once the context ends.
				if !errors.Is(err, workers.ErrClosed) {
					log.Warn("refresh sweep stopped submitting", zap.Error(err))
				}
				return
			}
		}
	}()

	for res := range pool.Results() {
		st := res.Value.Status
		if res.Err != nil {
			log.Error("refresh unit failed", zap.String("user_id", res.Name), zap.Error(res.Err))
			st = StatusError
		} else if st == StatusError {
			log.Warn("refresh failed", zap.String("user_id", res.Name), zap.String("message", res.Value.Message))
		}
		sum.add(st)
		metrics.SweepOutcomesTotal.WithLabelValues(sweep, string(st)).Inc()
	}
	if missed := int64(len(ids)) - pool.Submitted(); missed > 0 {
		sum.Errors += int(missed)
	}

	sum.Duration = r.clock.Since(start)
	metrics.SweepDurationSeconds.WithLabelValues(sweep).Observe(sum.Duration.Seconds())
	log.Info("cache refresh finished",
		zap.Int("candidates", sum.Candidates),
		zap.Int("refreshed", sum.Refreshed),
		zap.Int("errors", sum.Errors),
		zap.Int("skipped_fresh", sum.SkippedFresh),
		zap.Int("skipped_no_session", sum.SkippedNoSession),
		zap.Int("skipped_invalid_session", sum.SkippedInvalid),
		zap.Int("skipped_no_id", sum.SkippedNoID),
		zap.Duration("duration", sum.Duration))
	return sum
}
