package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ratewatch/internal/config"
)

const (
	createEntriesPGSQL = `CREATE TABLE IF NOT EXISTS entries (
        timestamp TIMESTAMPTZ NOT NULL PRIMARY KEY,
        source    TEXT        NOT NULL,
        buy       NUMERIC     NOT NULL,
        sell      NUMERIC     NOT NULL
    );`

	insertEntryPGSQL = `INSERT INTO entries (timestamp, source, buy, sell)
    VALUES ($1, $2, $3, $4);`

	insertEntryIgnorePGSQL = `INSERT INTO entries (timestamp, source, buy, sell)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (timestamp) DO NOTHING;`

	latestEntryPGSQL = `SELECT timestamp, source, buy::text, sell::text
    FROM entries
    ORDER BY timestamp DESC
    LIMIT 1;`

	listBetweenPGSQL = `SELECT timestamp, source, buy::text, sell::text
    FROM entries
    WHERE timestamp >= $1
      AND timestamp < $2
    ORDER BY timestamp;`

	listRecentPGSQL = `SELECT timestamp, source, buy::text, sell::text
    FROM entries
    ORDER BY timestamp DESC
    LIMIT $1;`

	countEntriesPGSQL = `SELECT COUNT(*) FROM entries;`

	// %[1]s is a whitelisted column name from Field.column.
	minMaxPGSQL = `SELECT MIN(%[1]s)::text, MAX(%[1]s)::text
    FROM entries
    WHERE timestamp >= $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresStore keeps samples in a PostgreSQL entries table.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// OpenPostgres connects, pings and ensures the entries table exists.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	store := NewPostgresStore(pool, cfg.IOTimeout)

	ctx, cancel := context.WithTimeout(ctx, store.timeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", ErrUnavailable, err)
	}
	if _, err := pool.Exec(ctx, createEntriesPGSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: create entries table: %w", ErrUnavailable, err)
	}
	return store, nil
}

// NewPostgresStore wires a pgx pool into a store.
func NewPostgresStore(pool *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, timeout: ioTimeout(timeout)}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrUnavailable
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection is recycled
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Insert appends one sample.
func (s *PostgresStore) Insert(ctx context.Context, sample Sample) error {
	pool, err := s.getPool()
	if err != nil {
		return writeFailed("insert sample", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := pool.Exec(ctx, insertEntryPGSQL,
		sample.Timestamp.UTC(),
		sample.Source,
		sample.Buy.String(),
		sample.Sell.String(),
	); err != nil {
		return writeFailed("insert sample", err)
	}
	return nil
}

// InsertMany queues all samples in a single batch round trip.
func (s *PostgresStore) InsertMany(ctx context.Context, samples []Sample) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, writeFailed("insert batch", err)
	}
	if len(samples) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(insertEntryIgnorePGSQL,
			sample.Timestamp.UTC(),
			sample.Source,
			sample.Buy.String(),
			sample.Sell.String(),
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	var written int64
	for range samples {
		tag, execErr := results.Exec()
		if execErr != nil {
			return written, writeFailed("insert batch", execErr)
		}
		written += tag.RowsAffected()
	}
	return written, nil
}

// Latest returns the sample with the greatest timestamp.
func (s *PostgresStore) Latest(ctx context.Context) (Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return Sample{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := pool.Query(ctx, latestEntryPGSQL)
	if err != nil {
		return Sample{}, fmt.Errorf("latest sample: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return Sample{}, fmt.Errorf("latest sample: %w", rows.Err())
		}
		return Sample{}, ErrEmpty
	}
	return scanPGSample(rows)
}

// MinMax aggregates field over the trailing window.
func (s *PostgresStore) MinMax(ctx context.Context, windowDays int, field Field) (decimal.Decimal, decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !field.Valid() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("min/max: unknown field %q", field)
	}
	since, err := windowStart(time.Now().UTC(), windowDays)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var minStr, maxStr sql.NullString
	query := fmt.Sprintf(minMaxPGSQL, field.column())
	if err := pool.QueryRow(ctx, query, since).Scan(&minStr, &maxStr); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("min/max %s: %w", field, err)
	}
	if !minStr.Valid || !maxStr.Valid {
		return decimal.Zero, decimal.Zero, ErrEmpty
	}

	minVal, err := decimal.NewFromString(minStr.String)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse min %s: %w", field, err)
	}
	maxVal, err := decimal.NewFromString(maxStr.String)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse max %s: %w", field, err)
	}
	return minVal, maxVal, nil
}

// ListBetween lists samples within [from, to).
func (s *PostgresStore) ListBetween(ctx context.Context, from, to time.Time) ([]Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBetweenPGSQL, from.UTC(), to.UTC())
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectPGSamples(rows, 0)
}

// ListRecent lists the most recent samples ordered by descending timestamp.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPGSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectPGSamples(rows, limit)
}

// Count counts stored samples.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countEntriesPGSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

func collectPGSamples(rows pgx.Rows, capacity int) ([]Sample, error) {
	samples := make([]Sample, 0, capacityHint(capacity))
	for rows.Next() {
		sample, scanErr := scanPGSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanPGSample(rows pgx.Rows) (Sample, error) {
	var (
		ts      time.Time
		source  string
		buyStr  string
		sellStr string
	)
	if err := rows.Scan(&ts, &source, &buyStr, &sellStr); err != nil {
		return Sample{}, err
	}

	buy, err := decimal.NewFromString(buyStr)
	if err != nil {
		return Sample{}, fmt.Errorf("parse buy: %w", err)
	}
	sell, err := decimal.NewFromString(sellStr)
	if err != nil {
		return Sample{}, fmt.Errorf("parse sell: %w", err)
	}

	return Sample{Timestamp: ts.UTC(), Source: source, Buy: buy, Sell: sell}, nil
}

var (
	_ Backend        = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
