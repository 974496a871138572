package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
)

// Rules loads the seed file and prints the resulting rule listing.
func (a *App) Rules(opts RulesOptions) error {
	engine, err := a.newEngine(a.newNotifiers())
	if err != nil {
		return err
	}
	views := engine.Rules()

	if opts.JSON {
		enc := json.NewEncoder(a.out())
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(views) == 0 {
		fmt.Fprintln(a.out(), "no rules configured")
		return nil
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tCurrency\tType\tOperator\tThreshold\tNotifiers")
	for _, v := range views {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.Currency, v.CurrencyType, v.Operator, v.Threshold, strings.Join(v.NotifierNames, ","))
	}
	return writer.Flush()
}
