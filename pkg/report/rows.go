package report

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bankanalyzer/bank-analyzer/pkg/aggregator"
)

// FlatRow is one (year, month, main, sub) aggregate for append-only ingestion.
type FlatRow struct {
	RunID string
	Year  int
	Month int
	Main  string
	Sub   string
	Total decimal.Decimal
	Count int
}

// NewRunID returns an identifier tying together the rows of one run.
func NewRunID() string {
	return uuid.NewString()
}

// Flatten lists every month bucket of the result, ordered by year, month,
// main and sub.
func Flatten(r *aggregator.Result, runID string) []FlatRow {
	var rows []FlatRow
	for year, y := range r.Years {
		for month, m := range y.Months {
			for main, subs := range m.Categories {
				for sub, b := range subs {
					rows = append(rows, FlatRow{
						RunID: runID,
						Year:  year,
						Month: month,
						Main:  main,
						Sub:   sub,
						Total: b.Total,
						Count: b.Count,
					})
				}
			}
		}
	}

	slices.SortFunc(rows, func(a, b FlatRow) int {
		return cmp.Or(
			cmp.Compare(a.Year, b.Year),
			cmp.Compare(a.Month, b.Month),
			cmp.Compare(a.Main, b.Main),
			cmp.Compare(a.Sub, b.Sub),
		)
	})
	return rows
}
