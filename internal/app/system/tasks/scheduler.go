// internal/app/system/tasks/scheduler.go
package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// Job is a named unit of periodic work on a five-field cron schedule
// (minute hour day-of-month month day-of-week).
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a five-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Scheduler runs jobs in-process on their cron schedules. A job whose
// previous run is still active is skipped for that tick.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	names   []string
	started bool
}

// NewScheduler creates a scheduler. Times are evaluated in UTC.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.NewWithLocation(time.UTC),
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job. It may be called before or after Start.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("tasks: job needs a name and a run function")
	}
	sched, err := ParseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}

	var active atomic.Bool
	s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(j, &active) }))

	s.mu.Lock()
	s.names = append(s.names, j.Name)
	s.mu.Unlock()
	s.log.Info("scheduled job registered",
		zap.String("job", j.Name),
		zap.String("schedule", j.Schedule),
		zap.Time("next_run", sched.Next(time.Now().UTC())))
	return nil
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

func (s *Scheduler) fire(j Job, active *atomic.Bool) {
	if s.ctx.Err() != nil {
		return
	}
	if !active.CompareAndSwap(false, true) {
		s.log.Warn("scheduled job still running, skipping tick", zap.String("job", j.Name))
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer active.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked", zap.String("job", j.Name), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	start := time.Now()
	if err := j.Run(s.ctx); err != nil {
		s.log.Error("scheduled job failed", zap.String("job", j.Name), zap.Error(err))
		return
	}
	s.log.Debug("scheduled job finished", zap.String("job", j.Name), zap.Duration("took", time.Since(start)))
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info("task scheduler started", zap.Strings("jobs", s.names))
}

// Stop halts the schedule, cancels running jobs and waits for them to
// return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasStarted := s.started
	s.started = false
	s.mu.Unlock()

	if wasStarted {
		s.cron.Stop()
	}
	s.cancel()
	s.wg.Wait()
	s.log.Info("task scheduler stopped")
}
