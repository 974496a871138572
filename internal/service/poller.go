package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ratewatch/internal/fetcher"
	"ratewatch/internal/scheduler"
	"ratewatch/internal/storage"
)

// PollerOptions configure a Poller.
type PollerOptions struct {
	Interval        time.Duration
	TimeoutRatio    float64
	AdvisoryLockKey int64
}

// Poller samples the feed once per tick and appends the quote to the store.
type Poller struct {
	fetcher fetcher.Fetcher
	store   storage.SampleStore
	locker  storage.AdvisoryLocker
	lockKey int64
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// NewPoller wires a poller. The advisory lock is used only when store supports it
// and a non-zero key is configured.
func NewPoller(f fetcher.Fetcher, store storage.SampleStore, opts PollerOptions, logger zerolog.Logger) *Poller {
	ratio := opts.TimeoutRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.8
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Poller{
		fetcher: f,
		store:   store,
		locker:  locker,
		lockKey: opts.AdvisoryLockKey,
		timeout: time.Duration(float64(opts.Interval) * ratio),
		logger:  logger.With().Str("component", "poller").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Tick 执行一次采样：抓取报价并写入存储。
func (p *Poller) Tick(ctx context.Context, bucket time.Time) error {
	logger := p.logger.With().Str("tick_id", scheduler.TickID(ctx)).Logger()

	unlock, proceed, err := p.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	quote, found, err := p.fetcher.Fetch(ctx, p.timeout)
	if err != nil {
		return fmt.Errorf("fetch quote: %w", err)
	}
	if !found {
		logger.Debug().Msg("no data from feed this tick")
		return nil
	}

	sample := storage.Sample{
		Timestamp: p.now(),
		Source:    quote.Source,
		Buy:       quote.Buy,
		Sell:      quote.Sell,
	}
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("discard quote: %w", err)
	}

	if err := p.store.Insert(ctx, sample); err != nil {
		// the sample for this tick is lost; the next tick samples again
		logger.Error().Err(err).Time("ts", sample.Timestamp).Msg("failed to store sample")
		return nil
	}

	logger.Info().
		Time("ts", sample.Timestamp).
		Str("buy", sample.Buy.String()).
		Str("sell", sample.Sell.String()).
		Msg("sample recorded")
	return nil
}

func (p *Poller) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.lockKey == 0 || p.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := p.locker.TryAdvisoryLock(ctx, p.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
