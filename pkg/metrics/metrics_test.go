package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FileParsed("PKO BP", 4, 1, 20*time.Millisecond)
	m.FileParsed("PKO BP", 2, 0, 10*time.Millisecond)
	m.FileFailed(OutcomeUnrecognized)
	m.Duplicate()
	m.Categorized(SourceRule)
	m.Categorized(SourceRule)
	m.Categorized(SourceOverride)
	m.ExcludedBy("own-transfer")

	assert.InDelta(t, 2, testutil.ToFloat64(m.Files.WithLabelValues("PKO BP", OutcomeParsed)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Files.WithLabelValues("", OutcomeUnrecognized)), 0)
	assert.InDelta(t, 6, testutil.ToFloat64(m.Transactions.WithLabelValues("PKO BP")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RowsSkipped.WithLabelValues("PKO BP")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Duplicates), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Categorizations.WithLabelValues(SourceRule)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Excluded.WithLabelValues("own-transfer")), 0)

	expected := `
# HELP bank_analyzer_duplicate_transactions_total Transactions dropped because another file already contained them.
# TYPE bank_analyzer_duplicate_transactions_total counter
bank_analyzer_duplicate_transactions_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bank_analyzer_duplicate_transactions_total"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.FileParsed("x", 1, 1, time.Second)
	m.FileFailed(OutcomeFailed)
	m.Duplicate()
	m.Categorized(SourceUnassigned)
	m.ExcludedBy("r")
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg).Duplicate()

	path := filepath.Join(t.TempDir(), "bank_analyzer.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bank_analyzer_duplicate_transactions_total 1")
}
