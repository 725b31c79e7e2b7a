// Package metrics exposes Prometheus counters for statement parsing and
// categorization.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bank_analyzer"

// Categorization sources.
const (
	SourceOverride   = "override"
	SourceRule       = "rule"
	SourceUnassigned = "unassigned"
)

// File outcomes.
const (
	OutcomeParsed       = "parsed"
	OutcomeUnrecognized = "unrecognized"
	OutcomeFailed       = "failed"
)

// Metrics holds the collectors of one run. A nil *Metrics records nothing.
type Metrics struct {
	Files           *prometheus.CounterVec
	Transactions    *prometheus.CounterVec
	RowsSkipped     *prometheus.CounterVec
	Duplicates      prometheus.Counter
	Categorizations *prometheus.CounterVec
	Excluded        *prometheus.CounterVec
	ParseDuration   *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Files: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Statement files processed, by bank and outcome.",
		}, []string{"bank", "outcome"}),
		Transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_parsed_total",
			Help:      "Transactions parsed from statement files.",
		}, []string{"bank"}),
		RowsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Statement rows skipped because they could not be parsed.",
		}, []string{"bank"}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_transactions_total",
			Help:      "Transactions dropped because another file already contained them.",
		}),
		Categorizations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "categorizations_total",
			Help:      "Category assignments, by source.",
		}, []string{"source"}),
		Excluded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "excluded_transactions_total",
			Help:      "Transactions dropped by exclusion rules.",
		}, []string{"reason"}),
		ParseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_parse_duration_seconds",
			Help:      "Time to parse one statement file.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"bank"}),
	}
}

// FileParsed records a parsed file.
func (m *Metrics) FileParsed(bank string, transactions, skipped int, took time.Duration) {
	if m == nil {
		return
	}
	m.Files.WithLabelValues(bank, OutcomeParsed).Inc()
	m.Transactions.WithLabelValues(bank).Add(float64(transactions))
	m.RowsSkipped.WithLabelValues(bank).Add(float64(skipped))
	m.ParseDuration.WithLabelValues(bank).Observe(took.Seconds())
}

// FileFailed records a file that produced no statement.
func (m *Metrics) FileFailed(outcome string) {
	if m == nil {
		return
	}
	m.Files.WithLabelValues("", outcome).Inc()
}

// Duplicate records a cross-file duplicate.
func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.Duplicates.Inc()
}

// Categorized records one category assignment.
func (m *Metrics) Categorized(source string) {
	if m == nil {
		return
	}
	m.Categorizations.WithLabelValues(source).Inc()
}

// ExcludedBy records a transaction dropped by an exclusion rule.
func (m *Metrics) ExcludedBy(reason string) {
	if m == nil {
		return
	}
	m.Excluded.WithLabelValues(reason).Inc()
}

// WriteTextfile writes everything gathered by g in the text exposition
// format, for a node_exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
