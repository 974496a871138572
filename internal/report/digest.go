package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"ratewatch/internal/alerting"
	"ratewatch/internal/storage"
)

// WindowStats is the min/max of one field over one rolling window.
type WindowStats struct {
	Days  int
	Field storage.Field
	Min   decimal.Decimal
	Max   decimal.Decimal
	Empty bool
}

// Collect queries MinMax for every window and both fields. Empty windows are
// reported, not treated as errors.
func Collect(ctx context.Context, store storage.SampleStore, windows []int) ([]WindowStats, error) {
	if len(windows) == 0 {
		windows = storage.StandardWindows
	}

	out := make([]WindowStats, 0, len(windows)*2)
	for _, days := range windows {
		for _, field := range []storage.Field{storage.FieldBuy, storage.FieldSell} {
			minV, maxV, err := store.MinMax(ctx, days, field)
			switch {
			case errors.Is(err, storage.ErrEmpty):
				out = append(out, WindowStats{Days: days, Field: field, Empty: true})
			case err != nil:
				return nil, fmt.Errorf("min/max %dd %s: %w", days, field, err)
			default:
				out = append(out, WindowStats{Days: days, Field: field, Min: minV, Max: maxV})
			}
		}
	}
	return out, nil
}

// WindowLabel names the standard windows the way the dashboard did.
func WindowLabel(days int) string {
	switch days {
	case 1:
		return "daily"
	case 7:
		return "weekly"
	case 14:
		return "biweekly"
	case 30:
		return "monthly"
	default:
		return fmt.Sprintf("%dd", days)
	}
}

// Render formats stats as a plain-text digest.
func Render(currency string, latest *storage.Sample, stats []WindowStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[ratewatch] %s digest\n", currency)
	if latest != nil {
		fmt.Fprintf(&b, "Latest: buy %s / sell %s (%s, %s UTC)\n",
			latest.Buy.String(), latest.Sell.String(), latest.Source, latest.Timestamp.UTC().Format("2006-01-02 15:04"))
	}

	byWindow := lo.GroupBy(stats, func(s WindowStats) int { return s.Days })
	days := lo.Uniq(lo.Map(stats, func(s WindowStats, _ int) int { return s.Days }))
	for _, d := range days {
		parts := lo.Map(byWindow[d], func(s WindowStats, _ int) string {
			if s.Empty {
				return fmt.Sprintf("%s n/a", s.Field)
			}
			return fmt.Sprintf("%s %s..%s", s.Field, s.Min.String(), s.Max.String())
		})
		fmt.Fprintf(&b, "%-8s %s\n", WindowLabel(d)+":", strings.Join(parts, " | "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Digest sends the min/max summary to a set of notifiers.
type Digest struct {
	store     storage.SampleStore
	windows   []int
	currency  string
	notifiers []alerting.Notifier
	logger    zerolog.Logger
}

// NewDigest builds a digest over windows (StandardWindows when empty).
func NewDigest(store storage.SampleStore, windows []int, currency string, notifiers []alerting.Notifier, logger zerolog.Logger) *Digest {
	if len(windows) == 0 {
		windows = storage.StandardWindows
	}
	return &Digest{
		store:     store,
		windows:   windows,
		currency:  currency,
		notifiers: notifiers,
		logger:    logger.With().Str("component", "digest").Logger(),
	}
}

// Build renders the current digest text.
func (d *Digest) Build(ctx context.Context) (string, error) {
	stats, err := Collect(ctx, d.store, d.windows)
	if err != nil {
		return "", err
	}

	var latest *storage.Sample
	sample, err := d.store.Latest(ctx)
	switch {
	case err == nil:
		latest = &sample
	case !errors.Is(err, storage.ErrEmpty):
		return "", fmt.Errorf("load latest sample: %w", err)
	}

	return Render(d.currency, latest, stats), nil
}

// Send builds the digest and hands it to every notifier. One failing channel does not
// stop the others; the joined errors are returned.
func (d *Digest) Send(ctx context.Context) error {
	text, err := d.Build(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, n := range d.notifiers {
		if err := n.Send(ctx, text); err != nil {
			d.logger.Error().Err(err).Str("notifier", n.Name()).Msg("digest delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
