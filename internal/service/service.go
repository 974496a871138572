package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ratewatch/internal/report"
	"ratewatch/internal/scheduler"
)

// Loop is a schedule plus the tick it drives.
type Loop struct {
	Scheduler *scheduler.Scheduler
	Tick      scheduler.TickFunc
}

// Service supervises the polling loop, the alert loop and the optional digest cron.
type Service struct {
	poll   Loop
	alerts Loop
	digest *report.Scheduler
	logger zerolog.Logger
}

// New constructs the monitoring service. digest may be nil.
func New(poll, alerts Loop, digest *report.Scheduler, logger zerolog.Logger) *Service {
	return &Service{
		poll:   poll,
		alerts: alerts,
		digest: digest,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Run starts every loop and blocks until ctx is cancelled. The loops share nothing
// but the store and the rule engine.
func (s *Service) Run(ctx context.Context) error {
	if s.poll.Scheduler == nil || s.alerts.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.poll.Scheduler.Run(ctx, s.poll.Tick) })
	g.Go(func() error { return s.alerts.Scheduler.Run(ctx, s.alerts.Tick) })
	if s.digest != nil {
		g.Go(func() error { return s.digest.Run(ctx) })
	}

	s.logger.Info().Bool("digest", s.digest != nil).Msg("service started")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		s.logger.Info().Msg("service stopped")
		return nil
	}
	return err
}
