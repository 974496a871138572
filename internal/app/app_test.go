package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratewatch/internal/config"
	"ratewatch/internal/storage"
)

func newTestApp(t *testing.T, extra string) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	body := "database:\n" +
		"  driver: sqlite\n" +
		"  path: " + filepath.Join(dir, "ratewatch.db") + "\n" +
		"  bootstrap_csv: " + filepath.Join(dir, "missing.csv") + "\n" +
		extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func seedSamples(t *testing.T, a *App, samples ...storage.Sample) {
	t.Helper()
	ctx := context.Background()
	store, err := a.openStore(ctx)
	require.NoError(t, err)
	defer store.Close()
	for _, s := range samples {
		require.NoError(t, store.Insert(ctx, s))
	}
}

func sample(ts time.Time, buy, sell float64) storage.Sample {
	return storage.Sample{
		Timestamp: ts.UTC(),
		Source:    "buenbit",
		Buy:       decimal.NewFromFloat(buy),
		Sell:      decimal.NewFromFloat(sell),
	}
}

func TestShowEmptyAndPopulated(t *testing.T) {
	a, out := newTestApp(t, "")
	ctx := context.Background()

	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 5}))
	assert.Contains(t, out.String(), "no samples found")

	now := time.Now().UTC().Truncate(time.Second)
	seedSamples(t, a, sample(now.Add(-time.Minute), 1010, 990), sample(now, 1020.5, 1000))

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 1}))
	text := out.String()
	assert.Contains(t, text, "Spread")
	assert.Contains(t, text, "1020.50")
	assert.Contains(t, text, "20.50")
	assert.NotContains(t, text, "1010.00")
}

func TestShowJSON(t *testing.T) {
	a, out := newTestApp(t, "")
	ctx := context.Background()

	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 5, JSON: true}))
	assert.JSONEq(t, "[]", out.String())

	now := time.Now().UTC().Truncate(time.Second)
	seedSamples(t, a, sample(now.Add(-time.Minute), 1010, 990), sample(now, 1020.5, 1000))

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 10, JSON: true}))
	var got []storage.Sample
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 2)
	assert.True(t, got[0].Buy.Equal(decimal.NewFromFloat(1020.5)))
	assert.True(t, got[0].Timestamp.Equal(now))
}

func TestStatsJSONMarksEmptyWindows(t *testing.T) {
	a, out := newTestApp(t, "")
	ctx := context.Background()

	now := time.Now().UTC()
	seedSamples(t, a,
		sample(now.Add(-3*time.Hour), 100, 90),
		sample(now.Add(-2*time.Hour), 120, 80),
	)

	require.NoError(t, a.Stats(ctx, StatsOptions{Windows: []int{1}, JSON: true}))

	var rows []statsRow
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "daily", row.Window)
		require.NotNil(t, row.Min)
		require.NotNil(t, row.Max)
		switch row.Field {
		case "buy":
			assert.Equal(t, "100", *row.Min)
			assert.Equal(t, "120", *row.Max)
		case "sell":
			assert.Equal(t, "80", *row.Min)
			assert.Equal(t, "90", *row.Max)
		default:
			t.Fatalf("unexpected field %q", row.Field)
		}
	}
}

func TestStatsTableShowsNAWhenEmpty(t *testing.T) {
	a, out := newTestApp(t, "")
	require.NoError(t, a.Stats(context.Background(), StatsOptions{Windows: []int{7}}))
	assert.Contains(t, out.String(), "weekly")
	assert.Contains(t, out.String(), "n/a")
}

func TestExportCSVAndPNG(t *testing.T) {
	a, _ := newTestApp(t, "")
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	seedSamples(t, a,
		sample(now.Add(-3*time.Hour), 100, 90),
		sample(now.Add(-2*time.Hour), 110, 95),
		sample(now.Add(-time.Hour), 105, 92),
	)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "samples.csv")
	pngPath := filepath.Join(dir, "out", "samples.png")
	from := now.Add(-4 * time.Hour)
	require.NoError(t, a.Export(ctx, ExportOptions{From: &from, CSVPath: csvPath, PNGPath: pngPath}))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"timestamp", "source", "buy", "sell"}, records[0])
	assert.Equal(t, "110", records[2][2])

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestExportRequiresTarget(t *testing.T) {
	a, _ := newTestApp(t, "")
	require.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func TestDownsampleSamples(t *testing.T) {
	now := time.Now()
	var samples []storage.Sample
	for i := 0; i < 10; i++ {
		samples = append(samples, sample(now.Add(time.Duration(i)*time.Minute), float64(100+i), 90))
	}

	assert.Len(t, downsampleSamples(samples, 0), 10)
	assert.Len(t, downsampleSamples(samples, 20), 10)

	one := downsampleSamples(samples, 1)
	require.Len(t, one, 1)

	five := downsampleSamples(samples, 5)
	require.Len(t, five, 5)
	assert.True(t, five[0].Timestamp.Equal(samples[0].Timestamp))
	assert.True(t, five[4].Timestamp.Equal(samples[9].Timestamp))
}

func TestSimulateAlertAndRules(t *testing.T) {
	rules := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte("rules:\n  - currency_type: sell\n    min: 950\n    notifiers: [console]\n"), 0o644))

	a, out := newTestApp(t, "alerting:\n  rules_file: "+rules+"\n")
	ctx := context.Background()

	require.NoError(t, a.SimulateAlert(ctx, decimal.NewFromInt(1000), decimal.NewFromInt(900)))
	assert.Contains(t, out.String(), "rules=1 triggered=1 sent=1 failed=0")

	out.Reset()
	require.NoError(t, a.SimulateAlert(ctx, decimal.NewFromInt(1000), decimal.NewFromInt(960)))
	assert.Contains(t, out.String(), "triggered=0")

	out.Reset()
	require.NoError(t, a.Rules(RulesOptions{}))
	assert.Contains(t, out.String(), "sell")
	assert.Contains(t, out.String(), "950")
}

func TestSimulateAlertWithoutRules(t *testing.T) {
	a, _ := newTestApp(t, "")
	err := a.SimulateAlert(context.Background(), decimal.NewFromInt(1), decimal.NewFromInt(1))
	require.Error(t, err)
}
