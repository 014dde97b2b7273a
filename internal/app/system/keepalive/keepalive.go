// Package keepalive periodically verifies stored upstream sessions and
// records whether each is still authenticated.
package keepalive

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/store/credentials"
	"github.com/dalemusser/respondentpro/internal/app/system/metrics"
	"github.com/dalemusser/respondentpro/internal/app/system/respondent"
	"github.com/dalemusser/respondentpro/internal/app/system/timeouts"
	"github.com/dalemusser/respondentpro/internal/app/system/workers"
	"github.com/dalemusser/respondentpro/internal/domain/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Credentials is the credential store as the sweep sees it.
type Credentials interface {
	List(ctx context.Context) ([]models.SessionCredentials, error)
	MarkValidity(ctx context.Context, userID string, v credentials.Validity) error
}

// Summary counts the outcomes of one keep-alive sweep.
type Summary struct {
	RunID           string        `json:"run_id"`
	Sessions        int           `json:"sessions"`
	Checked         int           `json:"checked"`
	Valid           int           `json:"valid"`
	Invalid         int           `json:"invalid"`
	SkippedNoCookie int           `json:"skipped_no_cookie"`
	SkippedInvalid  int           `json:"skipped_invalid"`
	Errors          int           `json:"errors"`
	Duration        time.Duration `json:"duration"`
}

// Sweeper verifies every usable stored session.
type Sweeper struct {
	creds    Credentials
	verifier respondent.Verifier
	poolSize int
	clock    clockwork.Clock
	log      *zap.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates a Sweeper. poolSize bounds concurrent verifications.
func New(creds Credentials, verifier respondent.Verifier, poolSize int, clock clockwork.Clock, logger *zap.Logger) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{creds: creds, verifier: verifier, poolSize: poolSize, clock: clock, log: logger}
}

// Dispatch starts a sweep in the background and returns its run id.
// started is false when a sweep is already running.
func (s *Sweeper) Dispatch(ctx context.Context) (runID string, started bool) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Info("session keep-alive already running, not dispatching")
		return "", false
	}
	s.running = true
	s.mu.Unlock()

	runID = uuid.NewString()
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		s.sweep(bg, runID)
	}()
	return runID, true
}

// Wait blocks until a dispatched sweep has finished.
func (s *Sweeper) Wait() {
	s.wg.Wait()
}

// Sweep verifies every stored session and waits for the results.
func (s *Sweeper) Sweep(ctx context.Context) Summary {
	return s.sweep(ctx, uuid.NewString())
}

func (s *Sweeper) sweep(ctx context.Context, runID string) Summary {
	start := s.clock.Now()
	log := s.log.With(zap.String("run_id", runID))
	metrics.SweepRunsTotal.WithLabelValues(metrics.SweepSessionKeepAlive).Inc()

	sum := Summary{RunID: runID}
	rows, err := s.creds.List(ctx)
	if err != nil {
		log.Error("list stored sessions failed", zap.Error(err))
		sum.Errors++
		return sum
	}
	sum.Sessions = len(rows)

	var todo []models.SessionCredentials
	for _, c := range rows {
		switch {
		case !respondent.NewSession(c.Cookies).Usable():
			sum.SkippedNoCookie++
			s.outcome("skipped_no_cookie")
		case c.MarkedInvalid():
			sum.SkippedInvalid++
			s.outcome("skipped_invalid")
		default:
			todo = append(todo, c)
		}
	}
	log.Info("session keep-alive started", zap.Int("sessions", len(rows)), zap.Int("to_check", len(todo)))

	pool := workers.NewPool[respondent.Verification](s.poolSize, log)
	go func() {
		defer pool.Close()
		for _, c := range todo {
			cookies := c.Cookies
			if err := pool.Submit(ctx, c.UserID, func(ctx context.Context) (respondent.Verification, error) {
				vctx, cancel := timeouts.WithTimeout(ctx, timeouts.Upstream(), log, "verify session")
				defer cancel()
				return s.verifier.Verify(vctx, cookies), nil
			}); err != nil {
				log.Warn("session keep-alive stopped submitting", zap.Error(err))
				return
			}
		}
	}()

	for res := range pool.Results() {
		sum.Checked++
		v := res.Value
		switch {
		case res.Err != nil:
			sum.Errors++
			s.outcome("error")
			log.Error("session verification failed", zap.String("user_id", res.Name), zap.Error(res.Err))
			continue
		case v.Success:
			sum.Valid++
			s.outcome("valid")
		case v.Unauthorized:
			sum.Invalid++
			s.outcome("invalid")
			log.Warn("stored session no longer valid", zap.String("user_id", res.Name), zap.String("message", v.Message))
		default:
			// Upstream unreachable or erroring; keep the stored validity.
			sum.Errors++
			s.outcome("error")
			log.Warn("session verification unavailable", zap.String("user_id", res.Name), zap.String("message", v.Message))
			continue
		}
		err := s.creds.MarkValidity(ctx, res.Name, credentials.Validity{
			Valid:     v.Success,
			Message:   v.Message,
			ProfileID: v.ProfileID,
			CheckedAt: s.clock.Now().UTC(),
		})
		if err != nil {
			log.Warn("failed to record session validity", zap.String("user_id", res.Name), zap.Error(err))
		}
	}
	if missed := len(todo) - int(pool.Submitted()); missed > 0 {
		sum.Errors += missed
	}

	sum.Duration = s.clock.Since(start)
	metrics.SweepDurationSeconds.WithLabelValues(metrics.SweepSessionKeepAlive).Observe(sum.Duration.Seconds())
	log.Info("session keep-alive finished",
		zap.Int("checked", sum.Checked),
		zap.Int("valid", sum.Valid),
		zap.Int("invalid", sum.Invalid),
		zap.Int("skipped_no_cookie", sum.SkippedNoCookie),
		zap.Int("skipped_invalid", sum.SkippedInvalid),
		zap.Int("errors", sum.Errors),
		zap.Duration("duration", sum.Duration))
	return sum
}

func (s *Sweeper) outcome(o string) {
	metrics.SweepOutcomesTotal.WithLabelValues(metrics.SweepSessionKeepAlive, o).Inc()
}
