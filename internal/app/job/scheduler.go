package job

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/pkg/config"
	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/tool"
)

// Sweeper expires lapsed cancellations.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (*membership.SweepResult, error)
}

// Snapshotter writes the daily membership snapshot.
type Snapshotter interface {
	SaveDailySnapshot(ctx context.Context, day time.Time) (int, error)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

type Scheduler struct {
	cron        *cron.Cron
	sweeper     Sweeper
	snapshotter Snapshotter
	cfg         config.JobConfig
	log         *zap.SugaredLogger
	timeout     time.Duration
}

func NewScheduler(cfg config.JobConfig, sweeper Sweeper, snapshotter Snapshotter, log *zap.SugaredLogger) *Scheduler {
	log = log.With("component", "scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:        cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		sweeper:     sweeper,
		snapshotter: snapshotter,
		cfg:         cfg,
		log:         log,
		timeout:     10 * time.Minute,
	}
}

// Register adds the configured jobs. An empty schedule disables a job.
func (s *Scheduler) Register() error {
	if s.cfg.SweepSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, s.RunSweep); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.SweepSchedule, err)
		}
		s.log.Infow("scheduled sweep job", "schedule", s.cfg.SweepSchedule)
	}
	if s.cfg.SnapshotSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.SnapshotSchedule, s.RunSnapshot); err != nil {
			return fmt.Errorf("invalid snapshot schedule %q: %w", s.cfg.SnapshotSchedule, err)
		}
		s.log.Infow("scheduled snapshot job", "schedule", s.cfg.SnapshotSchedule)
	}
	return nil
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	ctx := logctx.WithTraceID(context.Background(), tool.NewID())
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Scheduler) RunSweep() {
	ctx, cancel := s.jobContext()
	defer cancel()
	if _, err := s.sweeper.Sweep(ctx, time.Now()); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("sweep job failed", "error", err)
	}
}

// RunSnapshot records yesterday's final state.
func (s *Scheduler) RunSnapshot() {
	ctx, cancel := s.jobContext()
	defer cancel()
	day := time.Now().UTC().Truncate(24 * time.Hour).Add(-time.Nanosecond)
	if _, err := s.snapshotter.SaveDailySnapshot(ctx, day); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("snapshot job failed", "error", err)
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
