package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// legacy poller rows were written with Python's str(datetime), naive and UTC.
var bootstrapTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

var bootstrapColumns = []string{"timestamp", "source", "buy", "sell"}

// ImportResult summarises a bootstrap run.
type ImportResult struct {
	Read     int
	Imported int64
	Skipped  int
}

// Bootstrap imports the legacy CSV sample log into an empty store. It is a no-op when
// the store already has rows or the file does not exist.
func Bootstrap(ctx context.Context, backend Backend, path string, logger zerolog.Logger) (ImportResult, error) {
	count, err := backend.Count(ctx)
	if err != nil {
		return ImportResult{}, fmt.Errorf("bootstrap: %w", err)
	}
	if count > 0 {
		logger.Debug().Int64("rows", count).Msg("store already populated; skipping csv bootstrap")
		return ImportResult{}, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info().Str("path", path).Msg("no csv bootstrap file; starting with an empty store")
		return ImportResult{}, nil
	}
	if err != nil {
		return ImportResult{}, fmt.Errorf("bootstrap: open %s: %w", path, err)
	}
	defer file.Close()

	samples, result, err := ParseSampleCSV(file, logger)
	if err != nil {
		return result, fmt.Errorf("bootstrap: read %s: %w", path, err)
	}

	written, err := backend.InsertMany(ctx, samples)
	if err != nil {
		return result, fmt.Errorf("bootstrap: %w", err)
	}
	result.Imported = written

	logger.Info().
		Str("path", path).
		Int("read", result.Read).
		Int64("imported", result.Imported).
		Int("skipped", result.Skipped).
		Msg("csv bootstrap complete")
	return result, nil
}

// ParseSampleCSV reads rows with a timestamp,source,buy,sell header, keeping file order.
// Malformed rows are skipped; only a missing header or an I/O failure is an error.
func ParseSampleCSV(r io.Reader, logger zerolog.Logger) ([]Sample, ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ImportResult{}, nil
	}
	if err != nil {
		return nil, ImportResult{}, fmt.Errorf("read header: %w", err)
	}
	index, err := headerIndex(header)
	if err != nil {
		return nil, ImportResult{}, err
	}

	var (
		samples []Sample
		result  ImportResult
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		result.Read++

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			result.Skipped++
			logger.Warn().Err(err).Msg("skipping malformed csv row")
			continue
		}
		if err != nil {
			return nil, result, err
		}

		sample, err := parseRecord(record, index)
		if err != nil {
			result.Skipped++
			line, _ := reader.FieldPos(0)
			logger.Warn().Err(err).Int("line", line).Msg("skipping malformed csv row")
			continue
		}
		samples = append(samples, sample)
	}

	return samples, result, nil
}

func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range bootstrapColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("csv header missing %q column (got %v)", col, header)
		}
	}
	return index, nil
}

func parseRecord(record []string, index map[string]int) (Sample, error) {
	field := func(name string) (string, error) {
		i := index[name]
		if i >= len(record) {
			return "", fmt.Errorf("missing %s", name)
		}
		return strings.TrimSpace(record[i]), nil
	}

	rawTS, err := field("timestamp")
	if err != nil {
		return Sample{}, err
	}
	ts, err := parseBootstrapTime(rawTS)
	if err != nil {
		return Sample{}, err
	}

	source, err := field("source")
	if err != nil {
		return Sample{}, err
	}

	rawBuy, err := field("buy")
	if err != nil {
		return Sample{}, err
	}
	buy, err := decimal.NewFromString(rawBuy)
	if err != nil {
		return Sample{}, fmt.Errorf("parse buy %q: %w", rawBuy, err)
	}

	rawSell, err := field("sell")
	if err != nil {
		return Sample{}, err
	}
	sell, err := decimal.NewFromString(rawSell)
	if err != nil {
		return Sample{}, fmt.Errorf("parse sell %q: %w", rawSell, err)
	}

	sample := Sample{Timestamp: ts, Source: source, Buy: buy, Sell: sell}
	if err := sample.Validate(); err != nil {
		return Sample{}, err
	}
	return sample, nil
}

func parseBootstrapTime(raw string) (time.Time, error) {
	for _, layout := range bootstrapTimeLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}
