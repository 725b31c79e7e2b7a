package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankanalyzer/bank-analyzer/pkg/categorizer"
	jsonwriter "github.com/bankanalyzer/bank-analyzer/pkg/writer/json"
)

const pkoSample = "../../pkg/statement/testdata/pko_sample.csv"

func execute(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

// isolate moves into an empty directory so no config.json or .env is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func absSample(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs(pkoSample)
	require.NoError(t, err)
	return path
}

func TestDefaultRulesCompile(t *testing.T) {
	set, err := categorizer.LoadBytes(defaultRules)
	require.NoError(t, err)
	engine, err := categorizer.New(set, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Positive(t, engine.Len())
	assert.Empty(t, categorizer.ValidateTaxonomy(set.Rules, set.Categories))
}

func TestRun_UsageAndVersion(t *testing.T) {
	code, _, stderr := execute(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Commands:")

	code, _, stderr = execute(t, "nope")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: nope")

	code, stdout, _ := execute(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Bank Analyzer dev")

	code, _, _ = execute(t, "analyze")
	assert.Equal(t, 2, code, "analyze needs files")
}

func TestDetect(t *testing.T) {
	sample := absSample(t)
	dir := isolate(t)

	code, stdout, _ := execute(t, "detect", sample)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Detected bank: PKO")

	unknown := filepath.Join(dir, "unknown.csv")
	require.NoError(t, os.WriteFile(unknown, []byte("a;b;c\n1;2;3\n"), 0o600))
	code, stdout, stderr := execute(t, "detect", unknown)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Detected bank: UNKNOWN")
	assert.Contains(t, stderr, "ALIOR")
}

func TestParse(t *testing.T) {
	sample := absSample(t)
	isolate(t)

	code, stdout, stderr := execute(t, "parse", sample)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Total transactions: 4")
	assert.Contains(t, stdout, "Expenses: 3 (1680.25 PLN)")
	assert.Contains(t, stdout, "Incomes: 1 (8500.00 PLN)")
	assert.Contains(t, stdout, "Date range: 2026-01-08 to 2026-02-02")
	assert.Contains(t, stdout, "LIDL WARSZAWA")
}

func TestAnalyze_WritesEveryOutput(t *testing.T) {
	sample := absSample(t)
	dir := isolate(t)

	xlsxPath := filepath.Join(dir, "out", "report.xlsx")
	jsonPath := filepath.Join(dir, "out", "report.json")
	txPath := filepath.Join(dir, "out", "transactions.json")
	csvPath := filepath.Join(dir, "out", "monthly.csv")
	metricsPath := filepath.Join(dir, "out", "metrics.prom")

	code, stdout, stderr := execute(t, "analyze",
		"-o", xlsxPath,
		"-overrides", filepath.Join(dir, "overrides.yaml"),
		"-json", jsonPath,
		"-transactions", txPath,
		"-csv", csvPath,
		"-metrics", metricsPath,
		"-log-level", "ERROR",
		sample,
	)
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, stdout, "pko_sample.csv: PKO, 4 transactions")
	assert.Contains(t, stdout, "Total: 4 transactions")
	assert.Contains(t, stdout, "Uncategorized: 0")
	assert.Contains(t, stdout, "Year 2026:")
	assert.Contains(t, stdout, "Total expenses: 1680.25 PLN")
	assert.Contains(t, stdout, "lidl: 1")

	for _, p := range []string{xlsxPath, jsonPath, txPath, csvPath, metricsPath} {
		assert.FileExists(t, p)
	}

	doc, err := jsonwriter.ReadDocument(jsonPath)
	require.NoError(t, err)
	require.Contains(t, doc.Years, "2026")
	assert.NotEmpty(t, doc.RunID)
	assert.InDelta(t, 1680.25, doc.Years["2026"].TotalYearExpense, 0.001)

	rows, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(rows), "run_id,year,month"))
	assert.Contains(t, string(rows), doc.RunID)

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `bank_analyzer_transactions_parsed_total{bank="PKO"} 4`)

	// A second run keeps the previous workbook as a backup.
	code, stdout, stderr = execute(t, "analyze", "-o", xlsxPath, "-log-level", "ERROR", sample)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Previous report kept as")
}

func TestAnalyze_NoTransactions(t *testing.T) {
	dir := isolate(t)
	unknown := filepath.Join(dir, "unknown.csv")
	require.NoError(t, os.WriteFile(unknown, []byte("a;b\n"), 0o600))

	code, stdout, stderr := execute(t, "analyze", "-o", filepath.Join(dir, "r.xlsx"), unknown)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "unknown.csv: error:")
	assert.Contains(t, stderr, "no transactions found")
	assert.NoFileExists(t, filepath.Join(dir, "r.xlsx"))
}

func TestOverride_AddListRemove(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "data", "overrides.yaml")

	code, stdout, stderr := execute(t, "override", "-overrides", path, "abc123", "Dom", "Media", "prąd")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "abc123 -> Dom / Media")

	code, stdout, _ = execute(t, "override", "-overrides", path, "-list")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "1 override(s)")
	assert.Contains(t, stdout, "prąd")

	code, _, _ = execute(t, "override", "-overrides", path, "-remove", "abc123")
	assert.Equal(t, 0, code)

	code, _, stderr = execute(t, "override", "-overrides", path, "-remove", "abc123")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no override for abc123")

	code, _, _ = execute(t, "override", "-overrides", path, "only-id")
	assert.Equal(t, 2, code)
}

func TestOverride_AppliedByAnalyze(t *testing.T) {
	sample := absSample(t)
	dir := isolate(t)
	overridesPath := filepath.Join(dir, "overrides.yaml")
	txPath := filepath.Join(dir, "tx.json")

	code, _, stderr := execute(t, "analyze", "-o", filepath.Join(dir, "a.xlsx"), "-transactions", txPath, "-log-level", "ERROR", sample)
	require.Equal(t, 0, code, stderr)

	data, err := os.ReadFile(txPath)
	require.NoError(t, err)
	var dump jsonwriter.Dump
	require.NoError(t, json.Unmarshal(data, &dump))
	require.Len(t, dump.Transactions, 4)
	lidl := dump.Transactions[0]
	require.Equal(t, "LIDL WARSZAWA", lidl.Counterparty)

	code, _, stderr = execute(t, "override", "-overrides", overridesPath, lidl.ID, "Dom", "Wyposażenie")
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr := execute(t, "analyze",
		"-o", filepath.Join(dir, "b.xlsx"),
		"-overrides", overridesPath,
		"-log-level", "ERROR",
		sample,
	)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Manual:        1")
}

func TestHistory(t *testing.T) {
	sample := absSample(t)
	dir := isolate(t)
	source := filepath.Join(dir, "archive")
	require.NoError(t, os.MkdirAll(source, 0o755))
	data, err := os.ReadFile(sample)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(source, "a.csv"), data, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(source, "b.csv"), data, 0o600))

	code, stdout, stderr := execute(t, "history", "-source", source, "-top", "2", "-log-level", "ERROR")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Found 2 files")
	assert.Contains(t, stdout, "Total transactions: 8")
	assert.Contains(t, stdout, "Top 2 counterparties:")
	assert.Contains(t, stdout, "Jan Kowalski: 2")
}

func TestStatus(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"xlsx_path": "out/r.xlsx"}`), 0o600))

	code, stdout, _ := execute(t, "status")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Config file (config.json): ✓ Found")
	assert.Contains(t, stdout, "Rules (embedded): ✓")
	assert.Contains(t, stdout, "Workbook (out/r.xlsx): - directory will be created")
	assert.Contains(t, stdout, "Status: ✓ Ready to run")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"xlsx_path": "out/r.csv"}`), 0o600))
	_, stdout, _ = execute(t, "status")
	assert.Contains(t, stdout, "Configuration: ✗")
	assert.Contains(t, stdout, "Configuration issues detected")
}
