package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval. bucket is the scheduled fire time.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Name labels log lines, e.g. "poller" or "alerts".
	Name          string
	Interval      time.Duration
	AlignToBucket bool
	StartupDelay  time.Duration
}

// Scheduler runs a tick function at a fixed start-to-start interval. Ticks never overlap:
// a tick that overruns its slot is followed immediately by the next one, and missed
// slots are not replayed.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

type tickIDKey struct{}

// TickID returns the correlation id of the tick running under ctx, or "".
func TickID(ctx context.Context) string {
	id, _ := ctx.Value(tickIDKey{}).(string)
	return id
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	name := opts.Name
	if name == "" {
		name = "scheduler"
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("loop", name).Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, invoking tick every interval until ctx is cancelled. Tick errors and
// panics are logged and the loop carries on.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.firstTick(s.now())
	for {
		if delay := next.Sub(s.now()); delay > 0 {
			s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")
			if err := s.sleep(ctx, delay); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		s.runTick(ctx, tick, s.bucketStart(next))

		next = next.Add(s.opts.Interval)
		if now := s.now(); next.Before(now) {
			s.logger.Warn().
				Dur("overrun", now.Sub(next)).
				Msg("tick overran its interval; firing next immediately")
			next = now
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context, tick TickFunc, bucket time.Time) {
	id := uuid.NewString()
	logger := s.logger.With().Str("tick_id", id).Time("bucket", bucket).Logger()
	ctx = context.WithValue(ctx, tickIDKey{}, id)

	started := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tick panicked: %v", r)
			}
		}()
		return tick(ctx, bucket)
	}()

	if err != nil {
		logger.Error().Err(err).Dur("took", time.Since(started)).Msg("tick execution failed")
		return
	}
	logger.Debug().Dur("took", time.Since(started)).Msg("tick complete")
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) firstTick(now time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return now
	}
	bucket := now.Truncate(s.opts.Interval)
	if bucket.Before(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
