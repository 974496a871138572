package app

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"ratewatch/internal/storage"
)

// Show prints recent samples, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	samples, err := store.ListRecent(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if opts.JSON {
		if samples == nil {
			samples = []storage.Sample{}
		}
		enc := json.NewEncoder(a.out())
		enc.SetIndent("", "  ")
		return enc.Encode(samples)
	}

	if len(samples) == 0 {
		fmt.Fprintln(a.out(), "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSource\tBuy\tSell\tSpread")

	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			sample.Timestamp.UTC().Format(time.RFC3339),
			sample.Source,
			formatDecimal(sample.Buy, 2),
			formatDecimal(sample.Sell, 2),
			formatDecimal(sample.Buy.Sub(sample.Sell), 2),
		)
	}

	return writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
