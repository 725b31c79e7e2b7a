// Package aggregator folds categorized transactions into a
// year → month → category → subcategory summary.
package aggregator

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

// Subtotal is an exact running total with its transaction count.
type Subtotal struct {
	Total decimal.Decimal
	Count int
}

func (s *Subtotal) add(amount decimal.Decimal, count int) {
	s.Total = s.Total.Add(amount)
	s.Count += count
}

// Bucket is a month's subtotal for one (main, sub) pair, with its transactions.
type Bucket struct {
	Subtotal
	Transactions []*api.Transaction
}

// Month holds one calendar month of one year.
type Month struct {
	Categories   map[string]map[string]*Bucket
	Total        decimal.Decimal
	TotalIncome  decimal.Decimal
	TotalExpense decimal.Decimal
}

func newMonth() *Month {
	return &Month{Categories: make(map[string]map[string]*Bucket)}
}

// Bucket returns the bucket for (main, sub), inserting a zero one if absent.
func (m *Month) Bucket(main, sub string) *Bucket {
	subs, ok := m.Categories[main]
	if !ok {
		subs = make(map[string]*Bucket)
		m.Categories[main] = subs
	}
	b, ok := subs[sub]
	if !ok {
		b = &Bucket{}
		subs[sub] = b
	}
	return b
}

// Lookup returns the bucket for (main, sub) without inserting.
func (m *Month) Lookup(main, sub string) (*Bucket, bool) {
	b, ok := m.Categories[main][sub]
	return b, ok
}

// Year holds the months of one year and their rollups.
type Year struct {
	Year         int
	Months       map[int]*Month
	Categories   map[string]map[string]*Subtotal
	Total        decimal.Decimal
	TotalIncome  decimal.Decimal
	TotalExpense decimal.Decimal
}

func newYear(year int) *Year {
	return &Year{
		Year:       year,
		Months:     make(map[int]*Month),
		Categories: make(map[string]map[string]*Subtotal),
	}
}

// Month returns the given month (1-12), inserting an empty one if absent.
func (y *Year) Month(month int) *Month {
	m, ok := y.Months[month]
	if !ok {
		m = newMonth()
		y.Months[month] = m
	}
	return m
}

// Subtotal returns the yearly rollup for (main, sub), inserting a zero one if absent.
func (y *Year) Subtotal(main, sub string) *Subtotal {
	subs, ok := y.Categories[main]
	if !ok {
		subs = make(map[string]*Subtotal)
		y.Categories[main] = subs
	}
	s, ok := subs[sub]
	if !ok {
		s = &Subtotal{}
		subs[sub] = s
	}
	return s
}

// MainCategories returns the year's main categories in lexicographic order.
func (y *Year) MainCategories() []string {
	return slices.Sorted(maps.Keys(y.Categories))
}

// Subcategories returns the subcategories of main in lexicographic order.
func (y *Year) Subcategories(main string) []string {
	return slices.Sorted(maps.Keys(y.Categories[main]))
}

// Summary counts transactions by categorization outcome.
type Summary struct {
	TotalTransactions  int `json:"total_transactions"`
	TotalCategorized   int `json:"total_categorized"`
	TotalUncategorized int `json:"total_uncategorized"`
}

// Result is the full aggregation of one run.
type Result struct {
	Years map[int]*Year
	// Uncategorized keeps insertion order.
	Uncategorized []*api.Transaction
	All           []*api.Transaction
	Summary       Summary
}

// NewResult returns an empty result.
func NewResult() *Result {
	return &Result{Years: make(map[int]*Year)}
}

// Year returns the given year, inserting an empty one if absent.
func (r *Result) Year(year int) *Year {
	y, ok := r.Years[year]
	if !ok {
		y = newYear(year)
		r.Years[year] = y
	}
	return y
}

// YearNumbers returns the years present in ascending order.
func (r *Result) YearNumbers() []int {
	return slices.Sorted(maps.Keys(r.Years))
}

// Aggregator builds Results from transaction lists.
type Aggregator struct {
	logger *slog.Logger
}

// New creates an Aggregator.
func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Aggregate makes a single pass over txns and then derives the yearly
// rollups from the months. Transactions with no category count as unassigned.
func (a *Aggregator) Aggregate(txns []*api.Transaction) *Result {
	r := NewResult()
	r.All = txns

	for _, t := range txns {
		month := r.Year(t.Date.Year).Month(int(t.Date.Month))

		if t.Type == api.Expense {
			month.TotalExpense = month.TotalExpense.Add(t.Amount)
		} else {
			month.TotalIncome = month.TotalIncome.Add(t.Amount)
		}
		month.Total = month.Total.Add(t.Amount)

		cat := t.Category()
		if cat.Sub == "" {
			cat = api.Unassigned
		}
		if cat.Main == "" {
			cat.Main = api.OtherCategory
		}
		if cat.IsUnassigned() {
			r.Uncategorized = append(r.Uncategorized, t)
		}

		b := month.Bucket(cat.Main, cat.Sub)
		b.add(t.Amount, 1)
		b.Transactions = append(b.Transactions, t)
	}

	for _, y := range r.Years {
		for _, m := range y.Months {
			for main, subs := range m.Categories {
				for sub, b := range subs {
					y.Subtotal(main, sub).add(b.Total, b.Count)
				}
			}
			y.Total = y.Total.Add(m.Total)
			y.TotalIncome = y.TotalIncome.Add(m.TotalIncome)
			y.TotalExpense = y.TotalExpense.Add(m.TotalExpense)
		}
	}

	r.Summary = Summary{
		TotalTransactions:  len(txns),
		TotalCategorized:   len(txns) - len(r.Uncategorized),
		TotalUncategorized: len(r.Uncategorized),
	}

	a.logger.Info("aggregated transactions",
		"transactions", len(txns),
		"years", len(r.Years),
		"uncategorized", len(r.Uncategorized),
	)
	return r
}

// CategoryTotal is one (main, sub) pair with its total.
type CategoryTotal struct {
	Main  string
	Sub   string
	Total decimal.Decimal
	Count int
}

// MonthlySummary returns a month's aggregate, if present.
func (r *Result) MonthlySummary(year, month int) (*Month, bool) {
	y, ok := r.Years[year]
	if !ok {
		return nil, false
	}
	m, ok := y.Months[month]
	return m, ok
}

// CategorySummary returns the yearly subtotals of one main category, or of
// all categories when main is empty.
func (r *Result) CategorySummary(year int, main string) []CategoryTotal {
	y, ok := r.Years[year]
	if !ok {
		return nil
	}

	var out []CategoryTotal
	for _, m := range y.MainCategories() {
		if main != "" && m != main {
			continue
		}
		for _, s := range y.Subcategories(m) {
			st := y.Categories[m][s]
			out = append(out, CategoryTotal{Main: m, Sub: s, Total: st.Total, Count: st.Count})
		}
	}
	return out
}

// TopExpenses returns the (main, sub) pairs with the largest totals, across
// all years when year is zero. Ties are ordered by main then sub.
func (r *Result) TopExpenses(year, limit int) []CategoryTotal {
	totals := make(map[api.Category]*CategoryTotal)
	for y, data := range r.Years {
		if year != 0 && y != year {
			continue
		}
		for main, subs := range data.Categories {
			for sub, st := range subs {
				key := api.Category{Main: main, Sub: sub}
				ct, ok := totals[key]
				if !ok {
					ct = &CategoryTotal{Main: main, Sub: sub}
					totals[key] = ct
				}
				ct.Total = ct.Total.Add(st.Total)
				ct.Count += st.Count
			}
		}
	}

	out := make([]CategoryTotal, 0, len(totals))
	for _, ct := range totals {
		out = append(out, *ct)
	}
	slices.SortFunc(out, func(a, b CategoryTotal) int {
		if c := b.Total.Cmp(a.Total); c != 0 {
			return c
		}
		return cmp.Or(cmp.Compare(a.Main, b.Main), cmp.Compare(a.Sub, b.Sub))
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
