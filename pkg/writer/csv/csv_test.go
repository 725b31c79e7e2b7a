package csv

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankanalyzer/bank-analyzer/pkg/report"
)

func TestWriter_AppendWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	w, err := New(Config{FilePath: path}, nil)
	require.NoError(t, err)

	first := []report.FlatRow{
		{RunID: "run-1", Year: 2026, Month: 1, Main: "Food", Sub: "Groceries", Total: decimal.RequireFromString("59.8"), Count: 1},
	}
	second := []report.FlatRow{
		{RunID: "run-2", Year: 2026, Month: 2, Main: "Transport", Sub: "Fuel", Total: decimal.RequireFromString("120.45"), Count: 2},
	}
	require.NoError(t, w.Append(first))
	require.NoError(t, w.Append(second))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{"run-1", "2026", "1", "Food", "Groceries", "59.80", "1"}, records[1])
	assert.Equal(t, []string{"run-2", "2026", "2", "Transport", "Fuel", "120.45", "2"}, records[2])
}

func TestWriter_AppendEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	w, err := New(Config{FilePath: path}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Append(nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "run_id,year,month,category_main,category_sub,total,count\n", string(data))
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
