// Package report turns aggregation results into export-ready shapes: the
// yearly category-by-month layout, flat ingestion rows, and a
// JSON-serializable document.
package report

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/bankanalyzer/bank-analyzer/pkg/aggregator"
)

// RowKind distinguishes layout rows.
type RowKind int

const (
	// CategoryRow is a main-category summary row.
	CategoryRow RowKind = iota
	// SubcategoryRow follows its main category row.
	SubcategoryRow
	// MonthlyTotalRow is the final row, built from expense totals only.
	MonthlyTotalRow
)

// Row is one layout line: twelve month columns and a yearly total.
type Row struct {
	Kind   RowKind
	Main   string
	Sub    string
	Months [12]decimal.Decimal
	Total  decimal.Decimal
}

// Label is the text of the row's first column.
func (r Row) Label() string {
	if r.Kind == SubcategoryRow {
		return r.Sub
	}
	return r.Main
}

// Layout is the tabular form of one year.
type Layout struct {
	Year int
	Rows []Row
}

// MonthlyTotal returns the final row.
func (l Layout) MonthlyTotal() Row {
	return l.Rows[len(l.Rows)-1]
}

// BuildYear lays out one year. Main categories follow order first, then the
// rest lexicographically; subcategories are always lexicographic. Category
// rows are column sums of their subcategory rows. The monthly total row uses
// each month's expense total, so income does not count towards it.
func BuildYear(y *aggregator.Year, order []string) Layout {
	layout := Layout{Year: y.Year}

	for _, main := range orderedMains(y.MainCategories(), order) {
		parent := Row{Kind: CategoryRow, Main: main}
		var children []Row

		for _, sub := range y.Subcategories(main) {
			child := Row{Kind: SubcategoryRow, Main: main, Sub: sub}
			for m := 1; m <= 12; m++ {
				month, ok := y.Months[m]
				if !ok {
					continue
				}
				if b, ok := month.Lookup(main, sub); ok {
					child.Months[m-1] = b.Total
				}
			}
			child.Total = sumMonths(child.Months)

			for i := range parent.Months {
				parent.Months[i] = parent.Months[i].Add(child.Months[i])
			}
			parent.Total = parent.Total.Add(child.Total)
			children = append(children, child)
		}

		layout.Rows = append(layout.Rows, parent)
		layout.Rows = append(layout.Rows, children...)
	}

	total := Row{Kind: MonthlyTotalRow}
	for m := 1; m <= 12; m++ {
		if month, ok := y.Months[m]; ok {
			total.Months[m-1] = month.TotalExpense
		}
	}
	total.Total = sumMonths(total.Months)
	layout.Rows = append(layout.Rows, total)

	return layout
}

// BuildAll lays out every year of a result in ascending order.
func BuildAll(r *aggregator.Result, order []string) []Layout {
	years := r.YearNumbers()
	layouts := make([]Layout, 0, len(years))
	for _, year := range years {
		layouts = append(layouts, BuildYear(r.Years[year], order))
	}
	return layouts
}

func orderedMains(sorted, order []string) []string {
	if len(order) == 0 {
		return sorted
	}

	out := make([]string, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, main := range order {
		if slices.Contains(sorted, main) && !seen[main] {
			out = append(out, main)
			seen[main] = true
		}
	}
	for _, main := range sorted {
		if !seen[main] {
			out = append(out, main)
		}
	}
	return out
}

func sumMonths(months [12]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range months {
		total = total.Add(v)
	}
	return total
}
