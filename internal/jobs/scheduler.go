// Package jobs re-runs the all-users batch flows on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bookrec/internal/config"
	"github.com/fyrsmithlabs/bookrec/internal/service"
)

// Job names, also used as gocron tags.
const (
	BooksJob = "books-all"
	GoalsJob = "goals-all"
)

// BatchRunner runs the all-users flows.
type BatchRunner interface {
	RecommendBooksAll(ctx context.Context) (*service.BooksBatchResult, error)
	GoalsAll(ctx context.Context) (*service.GoalsBatchResult, error)
}

// Scheduler owns a gocron scheduler with one job per batch flow.
type Scheduler struct {
	scheduler gocron.Scheduler
	runner    BatchRunner
	timeout   time.Duration
	logger    *zap.Logger
	jobs      map[string]gocron.Job
}

// Options configure a Scheduler.
type Options struct {
	// Location interprets the cron expressions. Defaults to UTC.
	Location *time.Location
	// Timeout bounds a single run. Zero means no bound.
	Timeout time.Duration
}

// New registers the books and goals jobs. Nothing runs until Start.
func New(runner BatchRunner, cfg config.SchedulerConfig, opts Options, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("batch runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	gs, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: gs,
		runner:    runner,
		timeout:   opts.Timeout,
		logger:    logger,
		jobs:      make(map[string]gocron.Job, 2),
	}

	if err := s.register(BooksJob, cfg.BooksCron, s.RunBooks); err != nil {
		_ = gs.Shutdown()
		return nil, err
	}
	if err := s.register(GoalsJob, cfg.GoalsCron, s.RunGoals); err != nil {
		_ = gs.Shutdown()
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) register(name, expr string, run func(context.Context) error) error {
	job, err := s.scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(func() {
			ctx := context.Background()
			if s.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.timeout)
				defer cancel()
			}
			if err := run(ctx); err != nil {
				s.logger.Error("scheduled run failed", zap.String("job", name), zap.Error(err))
			}
		}),
		gocron.WithName(name),
		gocron.WithTags(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("registering %s job (cron %q): %w", name, expr, err)
	}
	s.jobs[name] = job
	s.logger.Info("registered scheduled job", zap.String("job", name), zap.String("cron", expr))
	return nil
}

// RunBooks runs the all-users book refresh once.
func (s *Scheduler) RunBooks(ctx context.Context) error {
	res, err := s.runner.RecommendBooksAll(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("scheduled book refresh finished",
		zap.String("run_id", res.RunID),
		zap.Int("users", res.UserCount),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return nil
}

// RunGoals runs the all-users goal computation once.
func (s *Scheduler) RunGoals(ctx context.Context) error {
	res, err := s.runner.GoalsAll(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("scheduled goal refresh finished",
		zap.String("run_id", res.RunID),
		zap.Int("users", len(res.Result.Bundles)),
		zap.Int("inactive", res.Result.InactiveCount()))
	return nil
}

// NextRun reports when the named job fires next.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	job, ok := s.jobs[name]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown job %q", name)
	}
	return job.NextRun()
}

// Trigger runs the named job now, outside its schedule.
func (s *Scheduler) Trigger(name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return job.RunNow()
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
