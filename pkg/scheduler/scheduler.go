// Package scheduler runs the background cache maintenance jobs on cron
// schedules: filter option warm-up and catalogue materialization.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lumina-bi/lumina-engine/pkg/config"
	"github.com/lumina-bi/lumina-engine/pkg/services"
)

// jobTimeout bounds one background job run. Materializing a large catalogue
// executes every active query, so the bound is generous.
const jobTimeout = 10 * time.Minute

// Materializer re-executes the active catalogue to refresh cached results.
type Materializer interface {
	MaterializeAll(ctx context.Context) (*services.MaterializeReport, error)
}

// Warmer refreshes the cached option list of every selectable dimension.
type Warmer interface {
	WarmUp(ctx context.Context) (*services.WarmUpReport, error)
}

// Scheduler owns the cron loop driving the background jobs. Each job skips
// its run when the previous one is still in progress, so a slow backend
// cannot pile up overlapping refreshes.
type Scheduler struct {
	cron         *cron.Cron
	materializer Materializer
	warmer       Warmer
	logger       *zap.Logger

	warmupRunning      atomic.Bool
	materializeRunning atomic.Bool
}

// New creates a scheduler wired to the services the jobs drive.
func New(materializer Materializer, warmer Warmer, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:         cron.New(),
		materializer: materializer,
		warmer:       warmer,
		logger:       logger,
	}
}

// Start registers the configured jobs and starts the cron loop. An empty
// spec disables its job; an invalid spec is an error rather than a silently
// missing refresh.
func (s *Scheduler) Start(cfg *config.ScheduleConfig) error {
	if cfg.Warmup != "" {
		if _, err := s.cron.AddFunc(cfg.Warmup, s.runWarmup); err != nil {
			return fmt.Errorf("invalid warmup schedule %q: %w", cfg.Warmup, err)
		}
		s.logger.Info("scheduled filter option warm-up", zap.String("schedule", cfg.Warmup))
	}

	if cfg.Materialize != "" {
		if _, err := s.cron.AddFunc(cfg.Materialize, s.runMaterialize); err != nil {
			return fmt.Errorf("invalid materialize schedule %q: %w", cfg.Materialize, err)
		}
		s.logger.Info("scheduled catalogue materialization", zap.String("schedule", cfg.Materialize))
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron loop and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Jobs reports how many jobs are registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) runWarmup() {
	if !s.warmupRunning.CompareAndSwap(false, true) {
		s.logger.Warn("skipping filter option warm-up: previous run still in progress")
		return
	}
	defer s.warmupRunning.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	report, err := s.warmer.WarmUp(ctx)
	if err != nil {
		s.logger.Error("scheduled warm-up failed", zap.Error(err))
		return
	}

	s.logger.Info("scheduled warm-up finished",
		zap.Int("dimensions", report.Dimensions),
		zap.Int("warmed", report.Warmed),
		zap.Strings("failed", report.Failed))
}

func (s *Scheduler) runMaterialize() {
	if !s.materializeRunning.CompareAndSwap(false, true) {
		s.logger.Warn("skipping catalogue materialization: previous run still in progress")
		return
	}
	defer s.materializeRunning.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	report, err := s.materializer.MaterializeAll(ctx)
	if err != nil {
		s.logger.Error("scheduled materialization failed", zap.Error(err))
		return
	}

	s.logger.Info("scheduled materialization finished",
		zap.Int("total", report.Total),
		zap.Int("refreshed", report.Refreshed),
		zap.Strings("failed", report.Failed))
}
