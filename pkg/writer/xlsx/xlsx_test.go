package xlsx

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/bankanalyzer/bank-analyzer/pkg/aggregator"
	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

func tx(date, signed, main, sub string) *api.Transaction {
	cd, err := civil.ParseDate(date)
	if err != nil {
		panic(err)
	}
	t := api.NewTransaction(cd, "desc "+date+signed, "party "+date, decimal.RequireFromString(signed), "PLN")
	t.SetCategory(api.Category{Main: main, Sub: sub}, false)
	t.SourceBank = "PKO BP"
	return t
}

func result() *aggregator.Result {
	return aggregator.New(nil).Aggregate([]*api.Transaction{
		tx("2026-01-08", "-59.80", "Food", "Groceries"),
		tx("2026-02-03", "-0.20", "Food", "Groceries"),
		tx("2026-01-15", "8500.00", "Income", "Salary"),
		tx("2026-03-01", "-7.77", api.OtherCategory, api.UnassignedCategory),
		tx("2025-12-30", "-10.10", "Food", "Restaurants"),
	})
}

func raw(t *testing.T, f *excelize.File, sheet, cell string) string {
	t.Helper()
	v, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	return v
}

func TestWriter_Export(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	w, err := New(Config{FilePath: path}, nil)
	require.NoError(t, err)

	backup, err := w.Export(result())
	require.NoError(t, err)
	assert.Empty(t, backup)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Rok 2025", "Rok 2026", UncategorizedSheet, AllSheet}, f.GetSheetList())

	sheet := YearSheet(2026)
	assert.Equal(t, "Wydatki - Rok 2026", raw(t, f, sheet, "A1"))
	assert.Equal(t, "Kategoria", raw(t, f, sheet, "A3"))
	assert.Equal(t, "Sty", raw(t, f, sheet, "B3"))
	assert.Equal(t, "Paź", raw(t, f, sheet, "K3"))
	assert.Equal(t, "SUMA ROCZNA", raw(t, f, sheet, "N3"))

	// Food, Groceries, Income, Salary, Other, Unassigned, blank, total.
	assert.Equal(t, "Food", raw(t, f, sheet, "A4"))
	assert.Equal(t, "60", raw(t, f, sheet, "N4"))
	assert.Equal(t, "  Groceries", raw(t, f, sheet, "A5"))
	assert.Equal(t, "59.8", raw(t, f, sheet, "B5"))
	assert.Equal(t, "", raw(t, f, sheet, "D5"), "zero cells stay empty")
	assert.Equal(t, "Income", raw(t, f, sheet, "A6"))
	assert.Equal(t, "  "+api.UnassignedCategory, raw(t, f, sheet, "A9"))
	assert.Equal(t, "", raw(t, f, sheet, "A10"))
	assert.Equal(t, "SUMA MIESIĘCZNA", raw(t, f, sheet, "A11"))
	assert.Equal(t, "59.8", raw(t, f, sheet, "B11"), "income is not part of the monthly total")
	assert.Equal(t, "0", raw(t, f, sheet, "E11"))
	assert.Equal(t, "67.77", raw(t, f, sheet, "N11"))

	rows, err := f.GetRows(UncategorizedSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Data", "Kontrahent", "Opis", "Kwota", "Bank", "ID"}, rows[0])
	assert.Equal(t, "2026-03-01", rows[1][0])

	assert.Equal(t, "2026-03-01", raw(t, f, AllSheet, "A2"), "newest first")
	assert.Equal(t, "2025-12-30", raw(t, f, AllSheet, "A6"))
	assert.Equal(t, "Food", raw(t, f, AllSheet, "E6"))
	assert.Equal(t, "-10.1", raw(t, f, AllSheet, "D6"))
}

func TestWriter_BacksUpExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	now := time.Date(2026, 1, 20, 10, 30, 15, 0, time.UTC)
	w, err := New(Config{FilePath: path, Now: func() time.Time { return now }}, nil)
	require.NoError(t, err)

	backup, err := w.Export(result())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.backup_20260120_103015.xlsx"), backup)

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestWriter_EmptyResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	w, err := New(Config{FilePath: path}, nil)
	require.NoError(t, err)

	_, err = w.Export(aggregator.NewResult())
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{UncategorizedSheet, AllSheet}, f.GetSheetList())
}

func TestSortedByDateDesc(t *testing.T) {
	a := tx("2026-01-01", "-1", "A", "a")
	b := tx("2026-02-01", "-1", "A", "a")
	c := tx("2026-01-01", "-2", "A", "a")
	got := SortedByDateDesc([]*api.Transaction{a, b, c})
	assert.Equal(t, []*api.Transaction{b, a, c}, got)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "żół", truncate("żółw", 3))
}
