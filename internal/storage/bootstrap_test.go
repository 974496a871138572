package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratewatch/internal/config"
)

const legacyCSV = `timestamp,source,buy,sell
2024-05-01 10:00:00.123456,buenbit,1010.5,990.25
2024-05-01 10:01:00,buenbit,not-a-number,990
2024-05-01T10:02:00Z,buenbit,1011,991
garbage
2024-05-01 10:03:00,buenbit,-5,991
2024-05-01 10:04:00,buenbit,1012,992
`

func TestParseSampleCSVSkipsMalformedRows(t *testing.T) {
	samples, result, err := ParseSampleCSV(strings.NewReader(legacyCSV), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 6, result.Read)
	assert.Equal(t, 3, result.Skipped)
	require.Len(t, samples, 3)

	first := samples[0]
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), first.Timestamp)
	assert.True(t, first.Buy.Equal(decimal.RequireFromString("1010.5")))
	assert.True(t, first.Sell.Equal(decimal.RequireFromString("990.25")))

	// file order is preserved
	assert.True(t, samples[1].Timestamp.Before(samples[2].Timestamp))
}

func TestParseSampleCSVHeaderVariants(t *testing.T) {
	samples, _, err := ParseSampleCSV(strings.NewReader("Timestamp,Source,Buy,Sell\n2024-01-01 00:00:00,buenbit,1,2\n"), zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, samples, 1)

	_, _, err = ParseSampleCSV(strings.NewReader("when,source,buy,sell\n"), zerolog.Nop())
	assert.Error(t, err, "missing timestamp column")

	samples, _, err = ParseSampleCSV(strings.NewReader(""), zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestOpenBootstrapsOnce(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "exchange_rates.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(legacyCSV), 0o644))

	cfg := config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(dir, "ratewatch.db"),
		IOTimeout:    time.Second,
		BootstrapCSV: csvPath,
	}
	ctx := context.Background()

	backend, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	n, err := backend.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	latest, err := backend.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, latest.Buy.Equal(decimal.NewFromInt(1012)))
	require.NoError(t, backend.Close())

	// a second start must not import again, even if the file grew
	require.NoError(t, os.WriteFile(csvPath, []byte(legacyCSV+"2024-05-01 10:05:00,buenbit,1013,993\n"), 0o644))
	backend, err = Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer backend.Close()

	n, err = backend.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestOpenWithoutBootstrapFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(dir, "ratewatch.db"),
		IOTimeout:    time.Second,
		BootstrapCSV: filepath.Join(dir, "missing.csv"),
	}

	backend, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer backend.Close()

	_, err = backend.Latest(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mongo"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSampleValidate(t *testing.T) {
	ok := sampleAt(time.Now(), 1, 1)
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Sell = decimal.NewFromInt(-1)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSample)

	bad = ok
	bad.Timestamp = time.Time{}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSample)

	f, err := ParseField(" SELL ")
	require.NoError(t, err)
	assert.Equal(t, FieldSell, f)
	_, err = ParseField("mid")
	assert.Error(t, err)
}
