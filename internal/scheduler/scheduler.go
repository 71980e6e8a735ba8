package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/airquality-daily-stats/internal/pipeline"
)

// Pipeline is the job the scheduler runs.
type Pipeline interface {
	Run(ctx context.Context, stages pipeline.Stages, days int) (*pipeline.Summary, error)
}

// Scheduler periodically runs the statistics pipeline. Runs never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	pipeline  Pipeline
	stages    pipeline.Stages
	days      int
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler. timeout bounds a single run; 0 means the run is
// only cancelled by Stop.
func New(p Pipeline, stages pipeline.Stages, days int, interval, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		pipeline:  p,
		stages:    stages,
		days:      days,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run starts immediately.
func (s *Scheduler) Start() error {
	interval := s.interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	_, err := s.scheduler.Every(interval).Do(s.runOnce)
	if err != nil {
		return err
	}

	s.logger.Info("scheduler started", zap.Duration("interval", interval))
	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) runOnce() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Info("scheduler: running pipeline job")
	summary, err := s.pipeline.Run(ctx, s.stages, s.days)
	if err != nil {
		s.logger.Error("scheduler: pipeline run failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduler: completed pipeline job", zap.String("run_id", summary.RunID))
}

// Stop cancels a run in progress and stops future runs.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
