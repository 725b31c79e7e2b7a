// Package pipeline runs a batch of statement files through parsing,
// categorization and aggregation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/bankanalyzer/bank-analyzer/pkg/aggregator"
	"github.com/bankanalyzer/bank-analyzer/pkg/api"
	"github.com/bankanalyzer/bank-analyzer/pkg/metrics"
	"github.com/bankanalyzer/bank-analyzer/pkg/statement"
)

var (
	// ErrNoFiles is returned when Run is given no paths.
	ErrNoFiles = errors.New("no input files")
	// ErrNoTransactions is returned when no file yielded a transaction.
	ErrNoTransactions = errors.New("no transactions found")
)

// Rules assigns categories and decides exclusions.
type Rules interface {
	Match(t *api.Transaction) (api.Category, string, bool)
	ShouldExclude(t *api.Transaction) (bool, string)
}

// Overrides looks up manual categories by transaction id.
type Overrides interface {
	Get(id string) (api.Category, bool)
}

// Config holds pipeline settings.
type Config struct {
	// Workers bounds concurrent file parsing. Defaults to GOMAXPROCS.
	Workers int
}

// FileOutcome is the per-file result of a run.
type FileOutcome struct {
	Path         string
	Bank         string
	Encoding     string
	Transactions int
	// Duplicates counts transactions already seen in an earlier file.
	Duplicates int
	RowErrors  []*statement.RowError
	// Err is set when the file contributed nothing.
	Err error
}

// OK reports whether the file was parsed.
func (o FileOutcome) OK() bool {
	return o.Err == nil
}

// Exclusion is a transaction dropped by an exclusion rule.
type Exclusion struct {
	Transaction *api.Transaction
	Reason      string
}

// Run is the outcome of one batch.
type Run struct {
	Files []FileOutcome
	// Transactions are the de-duplicated, categorized, non-excluded
	// transactions in file order.
	Transactions []*api.Transaction
	Excluded     []Exclusion
	Overridden   int
	Result       *aggregator.Result
}

// Failed returns the outcomes of files that contributed nothing.
func (r *Run) Failed() []FileOutcome {
	var out []FileOutcome
	for _, f := range r.Files {
		if !f.OK() {
			out = append(out, f)
		}
	}
	return out
}

// Pipeline wires the parser, rules, overrides and aggregator together.
type Pipeline struct {
	cfg        Config
	parser     *statement.Parser
	rules      Rules
	overrides  Overrides
	aggregator *aggregator.Aggregator
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a pipeline. overrides and m may be nil.
func New(cfg Config, parser *statement.Parser, rules Rules, overrides Overrides, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{
		cfg:        cfg,
		parser:     parser,
		rules:      rules,
		overrides:  overrides,
		aggregator: aggregator.New(logger.With("component", "aggregator")),
		metrics:    m,
		logger:     logger,
	}
}

// Run processes paths. File-level failures are recorded on the returned Run
// and never stop the batch. When nothing was parsed, the Run is returned
// together with ErrNoTransactions.
func (p *Pipeline) Run(ctx context.Context, paths []string) (*Run, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}

	statements, outcomes := p.ParseFiles(ctx, paths)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parsing statements: %w", err)
	}

	run := &Run{Files: outcomes}
	run.Transactions = p.merge(statements, run.Files)
	if len(run.Transactions) == 0 {
		run.Result = p.aggregator.Aggregate(nil)
		return run, ErrNoTransactions
	}

	kept := run.Transactions[:0]
	for _, t := range run.Transactions {
		if p.categorize(t, run) {
			kept = append(kept, t)
		}
	}
	run.Transactions = kept

	run.Result = p.aggregator.Aggregate(run.Transactions)

	p.logger.Info("run complete",
		"files", len(paths),
		"failed_files", len(run.Failed()),
		"transactions", len(run.Transactions),
		"excluded", len(run.Excluded),
		"overridden", run.Overridden,
		"uncategorized", len(run.Result.Uncategorized),
	)
	return run, nil
}

// ParseFiles parses paths concurrently. Both slices are indexed like paths;
// a failed file has a nil statement.
func (p *Pipeline) ParseFiles(ctx context.Context, paths []string) ([]*statement.Statement, []FileOutcome) {
	statements := make([]*statement.Statement, len(paths))
	outcomes := make([]FileOutcome, len(paths))

	sem := make(chan struct{}, p.cfg.Workers)
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = FileOutcome{Path: path, Err: ctx.Err()}
				return
			}
			statements[i], outcomes[i] = p.parseOne(path)
		}()
	}
	wg.Wait()

	return statements, outcomes
}

func (p *Pipeline) parseOne(path string) (*statement.Statement, FileOutcome) {
	start := time.Now()
	st, err := p.parser.ParseFile(path)
	if err != nil {
		outcome := metrics.OutcomeFailed
		if errors.Is(err, statement.ErrUnrecognizedFormat) || errors.Is(err, statement.ErrUnsupportedFileType) {
			outcome = metrics.OutcomeUnrecognized
		}
		p.metrics.FileFailed(outcome)
		p.logger.Error("skipping file", "file", path, "error", err)
		return nil, FileOutcome{Path: path, Err: err}
	}

	p.metrics.FileParsed(st.Bank, len(st.Transactions), len(st.RowErrors), time.Since(start))
	return st, FileOutcome{
		Path:         path,
		Bank:         st.Bank,
		Encoding:     st.Encoding,
		Transactions: len(st.Transactions),
		RowErrors:    st.RowErrors,
	}
}

// merge concatenates statements in path order. An id already contributed by
// an earlier file is dropped; repeats within one file are kept.
func (p *Pipeline) merge(statements []*statement.Statement, outcomes []FileOutcome) []*api.Transaction {
	var out []*api.Transaction
	owner := make(map[string]int)

	for i, st := range statements {
		if st == nil {
			continue
		}
		for _, t := range st.Transactions {
			if first, seen := owner[t.ID]; seen && first != i {
				outcomes[i].Duplicates++
				p.metrics.Duplicate()
				continue
			}
			owner[t.ID] = i
			out = append(out, t)
		}
		if outcomes[i].Duplicates > 0 {
			p.logger.Info("dropped duplicate transactions",
				"file", outcomes[i].Path,
				"duplicates", outcomes[i].Duplicates,
			)
		}
	}
	return out
}

// categorize applies the override, or else the exclusion rules and then the
// category rules. It reports whether t is kept.
func (p *Pipeline) categorize(t *api.Transaction, run *Run) bool {
	if p.overrides != nil {
		if c, ok := p.overrides.Get(t.ID); ok {
			t.SetCategory(c, true)
			run.Overridden++
			p.metrics.Categorized(metrics.SourceOverride)
			return true
		}
	}

	if excluded, reason := p.rules.ShouldExclude(t); excluded {
		run.Excluded = append(run.Excluded, Exclusion{Transaction: t, Reason: reason})
		p.metrics.ExcludedBy(reason)
		return false
	}

	c, _, matched := p.rules.Match(t)
	t.SetCategory(c, false)
	if matched {
		p.metrics.Categorized(metrics.SourceRule)
	} else {
		p.metrics.Categorized(metrics.SourceUnassigned)
	}
	return true
}
