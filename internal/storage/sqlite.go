package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const (
	createEntriesSQLite = `CREATE TABLE IF NOT EXISTS entries (
		timestamp INTEGER NOT NULL UNIQUE,
		source    TEXT    NOT NULL,
		buy       REAL    NOT NULL,
		sell      REAL    NOT NULL
	)`

	insertEntrySQLite       = `INSERT INTO entries (timestamp, source, buy, sell) VALUES (?,?,?,?)`
	insertEntryIgnoreSQLite = `INSERT OR IGNORE INTO entries (timestamp, source, buy, sell) VALUES (?,?,?,?)`
	latestEntrySQLite       = `SELECT timestamp, source, buy, sell FROM entries ORDER BY timestamp DESC LIMIT 1`
	listBetweenSQLite       = `SELECT timestamp, source, buy, sell FROM entries WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp`
	listRecentSQLite        = `SELECT timestamp, source, buy, sell FROM entries ORDER BY timestamp DESC LIMIT ?`
	countEntriesSQLite      = `SELECT COUNT(*) FROM entries`
	minMaxSQLite            = `SELECT MIN(%[1]s), MAX(%[1]s) FROM entries WHERE timestamp >= ?`
)

// SQLiteStore persists samples to a local SQLite file.
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.Mutex // single writer
	timeout time.Duration
}

// OpenSQLite opens (or creates) the database file and ensures the schema.
func OpenSQLite(ctx context.Context, path string, timeout time.Duration) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create data dir: %w", ErrUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrUnavailable, err)
	}

	s := &SQLiteStore{db: db, timeout: ioTimeout(timeout)}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// WAL lets the evaluator read while the poller writes.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, createEntriesSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create entries table: %w", ErrUnavailable, err)
	}

	return s, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert appends one sample.
func (s *SQLiteStore) Insert(ctx context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, insertEntrySQLite, sqliteArgs(sample)...); err != nil {
		return writeFailed("insert sample", err)
	}
	return nil
}

// InsertMany writes all samples in one transaction.
func (s *SQLiteStore) InsertMany(ctx context.Context, samples []Sample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, writeFailed("begin batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertEntryIgnoreSQLite)
	if err != nil {
		return 0, writeFailed("prepare batch", err)
	}
	defer stmt.Close()

	var written int64
	for _, sample := range samples {
		res, err := stmt.ExecContext(ctx, sqliteArgs(sample)...)
		if err != nil {
			return 0, writeFailed("insert batch", err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, writeFailed("commit batch", err)
	}
	return written, nil
}

// Latest returns the sample with the greatest timestamp.
func (s *SQLiteStore) Latest(ctx context.Context) (Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sample, err := scanSQLiteSample(s.db.QueryRowContext(ctx, latestEntrySQLite))
	if errors.Is(err, sql.ErrNoRows) {
		return Sample{}, ErrEmpty
	}
	if err != nil {
		return Sample{}, fmt.Errorf("latest sample: %w", err)
	}
	return sample, nil
}

// MinMax aggregates field over the trailing window.
func (s *SQLiteStore) MinMax(ctx context.Context, windowDays int, field Field) (decimal.Decimal, decimal.Decimal, error) {
	if !field.Valid() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("min/max: unknown field %q", field)
	}
	since, err := windowStart(time.Now().UTC(), windowDays)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var minVal, maxVal sql.NullFloat64
	query := fmt.Sprintf(minMaxSQLite, field.column())
	if err := s.db.QueryRowContext(ctx, query, since.UnixNano()).Scan(&minVal, &maxVal); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("min/max %s: %w", field, err)
	}
	if !minVal.Valid || !maxVal.Valid {
		return decimal.Zero, decimal.Zero, ErrEmpty
	}
	return decimal.NewFromFloat(minVal.Float64), decimal.NewFromFloat(maxVal.Float64), nil
}

// ListBetween lists samples within [from, to).
func (s *SQLiteStore) ListBetween(ctx context.Context, from, to time.Time) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, listBetweenSQLite, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list samples between: %w", err)
	}
	defer rows.Close()

	return collectSQLiteSamples(rows, 0)
}

// ListRecent lists the most recent samples ordered by descending timestamp.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, listRecentSQLite, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	defer rows.Close()

	return collectSQLiteSamples(rows, limit)
}

// Count counts stored samples.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, countEntriesSQLite).Scan(&count); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

func sqliteArgs(sample Sample) []any {
	return []any{
		sample.Timestamp.UTC().UnixNano(),
		sample.Source,
		sample.Buy.InexactFloat64(),
		sample.Sell.InexactFloat64(),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSample(row rowScanner) (Sample, error) {
	var (
		ts     int64
		source string
		buy    float64
		sell   float64
	)
	if err := row.Scan(&ts, &source, &buy, &sell); err != nil {
		return Sample{}, err
	}
	return Sample{
		Timestamp: time.Unix(0, ts).UTC(),
		Source:    source,
		Buy:       decimal.NewFromFloat(buy),
		Sell:      decimal.NewFromFloat(sell),
	}, nil
}

func collectSQLiteSamples(rows *sql.Rows, capacity int) ([]Sample, error) {
	samples := make([]Sample, 0, capacityHint(capacity))
	for rows.Next() {
		sample, err := scanSQLiteSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

var _ Backend = (*SQLiteStore)(nil)
