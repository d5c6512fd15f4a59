// Package schedule triggers full coordination runs on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/aware/internal/decision"
	"github.com/linnemanlabs/aware/internal/postgres"
)

// Origin tags database queries issued by scheduled runs.
const Origin = "schedule"

// Runner is the coordinator entry point the scheduler calls.
type Runner interface {
	RunAll(ctx context.Context) (*decision.Plan, error)
}

// Scheduler owns the cron loop. A tick that fires while the previous run
// is still in progress is skipped.
type Scheduler struct {
	cron   *cron.Cron
	job    cron.Job
	runner Runner
	logger log.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec (standard five-field cron or a descriptor such as
// "@every 10m") and prepares a scheduler. It does not start it.
func New(spec string, runner Runner, logger log.Logger) (*Scheduler, error) {
	if runner == nil {
		panic(xerrors.New("runner is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.With("component", "schedule")

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	cl := cronLogger{ctx: ctx, logger: logger}
	s.cron = cron.New(cron.WithLogger(cl))
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.tick))

	if _, err := s.cron.AddJob(spec, s.job); err != nil {
		cancel()
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing runs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info(s.ctx, "scheduler started")
}

// Stop halts the schedule, cancels an in-flight run and waits for it to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Info(ctx, "scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) tick() {
	ctx := postgres.WithOrigin(s.ctx, Origin)
	ctx = postgres.NewRunDBStatsContext(ctx)

	start := time.Now()
	plan, err := s.runner.RunAll(ctx)
	if err != nil {
		if errors.Is(err, decision.ErrRunCancelled) {
			s.logger.Warn(ctx, "scheduled run cancelled", "error", err)
			return
		}
		s.logger.Error(ctx, err, "scheduled run failed")
		return
	}

	kv := []any{
		"run_id", plan.RunID,
		"status", plan.Status,
		"immediate", len(plan.Immediate),
		"duration", time.Since(start).Seconds(),
	}
	if stats, ok := postgres.RunDBStatsFromContext(ctx); ok {
		queries, total, errs := stats.Snapshot()
		kv = append(kv, "db_queries", queries, "db_time", total.Seconds(), "db_errors", errs)
	}
	s.logger.Info(ctx, "scheduled run complete", kv...)
}

// cronLogger adapts go-core log to cron.Logger.
type cronLogger struct {
	ctx    context.Context
	logger log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(l.ctx, "cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(l.ctx, err, "cron: "+msg, keysAndValues...)
}
