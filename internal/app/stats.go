package app

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/samber/lo"

	"ratewatch/internal/report"
)

type statsRow struct {
	Window string  `json:"window"`
	Days   int     `json:"days"`
	Field  string  `json:"field"`
	Min    *string `json:"min"`
	Max    *string `json:"max"`
}

// Stats prints min/max of buy and sell over each rolling window.
func (a *App) Stats(ctx context.Context, opts StatsOptions) error {
	windows := opts.Windows
	if len(windows) == 0 {
		windows = a.Config.Report.Windows
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := report.Collect(ctx, store, windows)
	if err != nil {
		return err
	}

	if opts.JSON {
		rows := lo.Map(stats, func(s report.WindowStats, _ int) statsRow {
			row := statsRow{Window: report.WindowLabel(s.Days), Days: s.Days, Field: string(s.Field)}
			if !s.Empty {
				row.Min = lo.ToPtr(s.Min.String())
				row.Max = lo.ToPtr(s.Max.String())
			}
			return row
		})
		enc := json.NewEncoder(a.out())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Window\tField\tMin\tMax")
	for _, s := range stats {
		minV, maxV := "n/a", "n/a"
		if !s.Empty {
			minV, maxV = formatDecimal(s.Min, 2), formatDecimal(s.Max, 2)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", report.WindowLabel(s.Days), s.Field, minV, maxV)
	}
	return writer.Flush()
}
