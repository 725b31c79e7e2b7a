package aggregator

import (
	"io"
	"log/slog"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tx(date string, signed, main, sub string) *api.Transaction {
	cd, err := civil.ParseDate(date)
	if err != nil {
		panic(err)
	}
	t := api.NewTransaction(cd, "desc "+date+signed, "party", d(signed), "PLN")
	t.SetCategory(api.Category{Main: main, Sub: sub}, false)
	return t
}

func sample() []*api.Transaction {
	return []*api.Transaction{
		tx("2025-12-30", "-10.10", "Food", "Groceries"),
		tx("2026-01-08", "-59.80", "Food", "Groceries"),
		tx("2026-01-09", "-0.10", "Food", "Groceries"),
		tx("2026-01-10", "-1500.00", "Home", "Rent"),
		tx("2026-01-15", "8500.00", "Income", "Salary"),
		tx("2026-01-16", "-12.34", api.OtherCategory, api.UnassignedCategory),
		tx("2026-02-02", "-120.45", "Transport", "Fuel"),
		tx("2026-02-03", "-0.20", "Food", "Groceries"),
		tx("2026-03-01", "-7.77", api.OtherCategory, api.UnassignedCategory),
	}
}

func TestAggregate_Structure(t *testing.T) {
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil))).Aggregate(sample())

	assert.Equal(t, []int{2025, 2026}, r.YearNumbers())

	y := r.Years[2026]
	jan := y.Months[1]
	require.NotNil(t, jan)

	groceries, ok := jan.Lookup("Food", "Groceries")
	require.True(t, ok)
	assert.True(t, groceries.Total.Equal(d("59.90")), "got %s", groceries.Total)
	assert.Equal(t, 2, groceries.Count)
	assert.Len(t, groceries.Transactions, 2)

	assert.True(t, jan.TotalIncome.Equal(d("8500")))
	assert.True(t, jan.TotalExpense.Equal(d("1572.24")), "got %s", jan.TotalExpense)
	assert.True(t, jan.Total.Equal(d("10072.24")), "got %s", jan.Total)

	assert.True(t, y.Categories["Food"]["Groceries"].Total.Equal(d("60.10")))
	assert.Equal(t, 3, y.Categories["Food"]["Groceries"].Count)
	assert.Equal(t, []string{"Food", "Home", "Income", api.OtherCategory, "Transport"}, y.MainCategories())
}

func TestAggregate_Reconciliation(t *testing.T) {
	r := New(nil).Aggregate(sample())

	for _, year := range r.YearNumbers() {
		y := r.Years[year]

		categorySum := decimal.Zero
		for main := range y.Categories {
			for _, st := range y.Categories[main] {
				categorySum = categorySum.Add(st.Total)
			}
		}
		assert.True(t, categorySum.Equal(y.Total), "year %d: categories %s != total %s", year, categorySum, y.Total)

		monthSum := decimal.Zero
		for _, m := range y.Months {
			monthSum = monthSum.Add(m.Total)

			bucketSum := decimal.Zero
			for _, subs := range m.Categories {
				for _, b := range subs {
					bucketSum = bucketSum.Add(b.Total)
				}
			}
			assert.True(t, bucketSum.Equal(m.Total))
			assert.True(t, m.TotalIncome.Add(m.TotalExpense).Equal(m.Total))
		}
		assert.True(t, monthSum.Equal(y.Total), "year %d: months %s != total %s", year, monthSum, y.Total)
	}
}

func TestAggregate_Uncategorized(t *testing.T) {
	txns := sample()
	r := New(nil).Aggregate(txns)

	require.Len(t, r.Uncategorized, 2)
	assert.Same(t, txns[5], r.Uncategorized[0])
	assert.Same(t, txns[8], r.Uncategorized[1])
	assert.Equal(t, Summary{TotalTransactions: 9, TotalCategorized: 7, TotalUncategorized: 2}, r.Summary)
}

func TestAggregate_MissingCategoryIsUnassigned(t *testing.T) {
	txn := api.NewTransaction(civil.Date{Year: 2026, Month: 5, Day: 1}, "x", "y", d("-1"), "PLN")
	r := New(nil).Aggregate([]*api.Transaction{txn})

	assert.Len(t, r.Uncategorized, 1)
	_, ok := r.Years[2026].Months[5].Lookup(api.OtherCategory, api.UnassignedCategory)
	assert.True(t, ok)
}

func TestAggregate_Empty(t *testing.T) {
	r := New(nil).Aggregate(nil)
	assert.Empty(t, r.Years)
	assert.Equal(t, Summary{}, r.Summary)
}

func TestQueries(t *testing.T) {
	r := New(nil).Aggregate(sample())

	m, ok := r.MonthlySummary(2026, 2)
	require.True(t, ok)
	assert.True(t, m.TotalExpense.Equal(d("120.65")))
	_, ok = r.MonthlySummary(2026, 7)
	assert.False(t, ok)
	_, ok = r.MonthlySummary(1999, 1)
	assert.False(t, ok)

	food := r.CategorySummary(2026, "Food")
	require.Len(t, food, 1)
	assert.Equal(t, "Groceries", food[0].Sub)
	assert.True(t, food[0].Total.Equal(d("60.10")))
	assert.Len(t, r.CategorySummary(2026, ""), 5)
	assert.Nil(t, r.CategorySummary(1999, ""))

	top := r.TopExpenses(2026, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "Salary", top[0].Sub)
	assert.Equal(t, "Rent", top[1].Sub)

	all := r.TopExpenses(0, 0)
	var groceries CategoryTotal
	for _, ct := range all {
		if ct.Sub == "Groceries" {
			groceries = ct
		}
	}
	assert.True(t, groceries.Total.Equal(d("70.20")), "all years: got %s", groceries.Total)
	assert.Equal(t, 4, groceries.Count)
}
