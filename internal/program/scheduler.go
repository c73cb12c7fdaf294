package program

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"coachline/internal/logging"
)

// Scheduler triggers the engine on a cron spec, evaluated in UTC so the
// program-day computation and the trigger share one reference timezone.
// Overlapping or duplicate runs are harmless: the engine's delivery
// claims make them no-ops.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
	spec   string
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for the given cron spec.
func NewScheduler(engine *Engine, spec string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		engine: engine,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		spec:   spec,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the cron entry and begins scheduling. When runNow is
// set a delivery pass executes immediately in the background, so a
// restart cannot skip the current day's content.
func (s *Scheduler) Start(runNow bool) error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		if err := s.engine.RunOnce(s.ctx); err != nil {
			logging.Error().Err(err).Msg("scheduled program delivery failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid delivery cron spec %q: %w", s.spec, err)
	}

	s.cron.Start()
	logging.Info().Str("spec", s.spec).Msg("program delivery scheduler started")

	if runNow {
		go func() {
			if err := s.engine.RunOnce(s.ctx); err != nil {
				logging.Error().Err(err).Msg("startup program delivery failed")
			}
		}()
	}
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.cancel()
	logging.Info().Msg("program delivery scheduler stopped")
}
