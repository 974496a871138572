package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ratewatch/internal/config"
)

const defaultIOTimeout = 5 * time.Second

// SampleStore is the append-only surface shared by the poller and the evaluator.
type SampleStore interface {
	Insert(ctx context.Context, sample Sample) error
	Latest(ctx context.Context) (Sample, error)
	MinMax(ctx context.Context, windowDays int, field Field) (decimal.Decimal, decimal.Decimal, error)
}

// HistoryReader backs the show/export/stats commands.
type HistoryReader interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]Sample, error)
	ListRecent(ctx context.Context, limit int) ([]Sample, error)
	Count(ctx context.Context) (int64, error)
}

// Backend is what storage.Open hands back to the application.
type Backend interface {
	SampleStore
	HistoryReader
	// InsertMany appends samples in order, ignoring timestamps that already exist,
	// and returns the number of rows written.
	InsertMany(ctx context.Context, samples []Sample) (int64, error)
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Open connects the configured backend and runs the one-time CSV bootstrap.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Backend, error) {
	var (
		backend Backend
		err     error
	)

	switch cfg.Driver {
	case config.DriverSQLite, "":
		backend, err = OpenSQLite(ctx, cfg.Path, cfg.IOTimeout)
	case config.DriverPostgres:
		var pg *PostgresStore
		pg, err = OpenPostgres(ctx, cfg)
		if err == nil {
			backend = pg
		}
	case config.DriverRedis:
		backend, err = OpenRedis(ctx, cfg.Redis, cfg.IOTimeout)
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrUnavailable, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "storage").Str("driver", cfg.Driver).Logger()

	if cfg.BootstrapCSV != "" {
		if _, err := Bootstrap(ctx, backend, cfg.BootstrapCSV, logger); err != nil {
			_ = backend.Close()
			return nil, err
		}
	}

	logger.Info().Msg("time-series store ready")
	return backend, nil
}

func ioTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultIOTimeout
	}
	return d
}

func windowStart(now time.Time, windowDays int) (time.Time, error) {
	if windowDays <= 0 {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidWindow, windowDays)
	}
	return now.Add(-time.Duration(windowDays) * 24 * time.Hour), nil
}

// maxPrealloc bounds slice preallocation for caller-supplied limits.
const maxPrealloc = 1024

func capacityHint(n int) int {
	return max(0, min(n, maxPrealloc))
}

func writeFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrWriteFailed, op, err)
}
