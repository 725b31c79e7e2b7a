package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bankanalyzer/bank-analyzer/pkg/config"
	"github.com/bankanalyzer/bank-analyzer/pkg/metrics"
	"github.com/bankanalyzer/bank-analyzer/pkg/overrides"
	"github.com/bankanalyzer/bank-analyzer/pkg/pipeline"
	"github.com/bankanalyzer/bank-analyzer/pkg/report"
	"github.com/bankanalyzer/bank-analyzer/pkg/statement"
	"github.com/bankanalyzer/bank-analyzer/pkg/writer/buffered"
	csvwriter "github.com/bankanalyzer/bank-analyzer/pkg/writer/csv"
	jsonwriter "github.com/bankanalyzer/bank-analyzer/pkg/writer/json"
	"github.com/bankanalyzer/bank-analyzer/pkg/writer/postgres"
	"github.com/bankanalyzer/bank-analyzer/pkg/writer/xlsx"
)

const topRules = 5

// analyzeFlags override the matching configuration values when set.
type analyzeFlags struct {
	commonFlags
	output              string
	rules               string
	overrides           string
	jsonOutput          string
	transactions        string
	csvOutput           string
	postgresDSN         string
	metricsFile         string
	workers             int
	includeTransactions bool
}

func (f *analyzeFlags) register(fs *flag.FlagSet) {
	f.commonFlags.register(fs)
	fs.StringVar(&f.output, "o", "", "output workbook (default "+config.DefaultXLSXPath+")")
	fs.StringVar(&f.rules, "rules", "", "rules YAML file (default: embedded rule set)")
	fs.StringVar(&f.overrides, "overrides", "", "manual overrides YAML file (default "+config.DefaultOverridesFile+")")
	fs.StringVar(&f.jsonOutput, "json", "", "also write the aggregate report as JSON")
	fs.BoolVar(&f.includeTransactions, "include-transactions", false, "embed transactions in the JSON report")
	fs.StringVar(&f.transactions, "transactions", "", "also write every transaction to this JSON file")
	fs.StringVar(&f.csvOutput, "csv", "", "append monthly category rows to this CSV file")
	fs.StringVar(&f.postgresDSN, "postgres", "", "PostgreSQL connection string")
	fs.StringVar(&f.metricsFile, "metrics", "", "write Prometheus metrics to this file")
	fs.IntVar(&f.workers, "workers", -1, "files parsed in parallel (0: one per CPU)")
}

func (f *analyzeFlags) apply(cfg *config.Config) {
	cfg.XLSXPath = cmp.Or(f.output, cfg.XLSXPath)
	cfg.RulesFile = cmp.Or(f.rules, cfg.RulesFile)
	cfg.OverridesFile = cmp.Or(f.overrides, cfg.OverridesFile)
	cfg.JSONPath = cmp.Or(f.jsonOutput, cfg.JSONPath)
	cfg.TransactionsPath = cmp.Or(f.transactions, cfg.TransactionsPath)
	cfg.CSVPath = cmp.Or(f.csvOutput, cfg.CSVPath)
	cfg.PostgresDSN = cmp.Or(f.postgresDSN, cfg.PostgresDSN)
	cfg.MetricsFile = cmp.Or(f.metricsFile, cfg.MetricsFile)
	if f.workers >= 0 {
		cfg.Workers = f.workers
	}
	if f.includeTransactions {
		cfg.IncludeTransactions = true
	}
}

func runAnalyze(ctx context.Context, env *environment, args []string) error {
	var flags analyzeFlags
	fs := newFlagSet(env, "analyze", "analyze [options] FILES...")
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return usagef(fs, "at least one statement file is required")
	}
	if err := flags.load(env); err != nil {
		return err
	}
	flags.apply(&env.cfg)
	if err := env.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return analyze(ctx, env, fs.Args())
}

func runReprocess(ctx context.Context, env *environment, args []string) error {
	var flags analyzeFlags
	fs := newFlagSet(env, "reprocess", "reprocess [options]")
	flags.register(fs)
	source := fs.String("source", "data/processed", "directory with archived statements")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := flags.load(env); err != nil {
		return err
	}
	flags.apply(&env.cfg)
	if err := env.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	paths, err := statementFiles(*source)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "Reprocessing %d file(s) from %s\n", len(paths), *source)
	return analyze(ctx, env, paths)
}

// statementFiles lists the CSV files directly inside dir, sorted by name.
func statementFiles(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no CSV files found in %s", dir)
	}
	slices.Sort(paths)
	return paths, nil
}

func analyze(ctx context.Context, env *environment, paths []string) (err error) {
	cfg, logger, out := env.cfg, env.logger, env.stdout

	engine, err := loadRules(cfg, logger)
	if err != nil {
		return err
	}
	store, err := overrides.Open(cfg.OverridesFile, logger.With("component", "overrides"))
	if err != nil {
		return fmt.Errorf("opening overrides: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsFile != "" {
		if err := ensureDir(cfg.MetricsFile); err != nil {
			return err
		}
		defer func() {
			if werr := metrics.WriteTextfile(cfg.MetricsFile, reg); werr != nil {
				err = errors.Join(err, fmt.Errorf("writing metrics: %w", werr))
			}
		}()
	}

	p := pipeline.New(
		pipeline.Config{Workers: cfg.Workers},
		statement.NewParser(nil, logger.With("component", "parser")),
		engine,
		store,
		m,
		logger.With("component", "pipeline"),
	)

	fmt.Fprintf(out, "Analyzing %d file(s)...\n", len(paths))
	run, err := p.Run(ctx, paths)
	if run != nil {
		printFiles(out, run)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nTotal: %d transactions\n", len(run.Transactions))
	fmt.Fprintf(out, "  Categorized:   %d\n", run.Result.Summary.TotalCategorized)
	fmt.Fprintf(out, "  Uncategorized: %d\n", run.Result.Summary.TotalUncategorized)
	if run.Overridden > 0 {
		fmt.Fprintf(out, "  Manual:        %d\n", run.Overridden)
	}
	if len(run.Excluded) > 0 {
		fmt.Fprintf(out, "  Excluded:      %d\n", len(run.Excluded))
	}

	if err := export(ctx, env, run); err != nil {
		return err
	}

	printSummary(out, cfg, run, engine.Stats())
	if cfg.XLSXPath != "" {
		fmt.Fprintf(out, "\nDone! Output saved to: %s\n", cfg.XLSXPath)
	}
	return nil
}

func printFiles(out io.Writer, run *pipeline.Run) {
	for _, f := range run.Files {
		name := filepath.Base(f.Path)
		if !f.OK() {
			fmt.Fprintf(out, "  %s: error: %v\n", name, f.Err)
			continue
		}
		fmt.Fprintf(out, "  %s: %s, %d transactions", name, f.Bank, f.Transactions)
		if f.Duplicates > 0 {
			fmt.Fprintf(out, ", %d duplicates", f.Duplicates)
		}
		if len(f.RowErrors) > 0 {
			fmt.Fprintf(out, ", %d rows skipped", len(f.RowErrors))
		}
		fmt.Fprintln(out)
	}
}

// export writes every configured output. The run id ties the JSON report to
// the monthly rows appended to CSV and PostgreSQL.
func export(ctx context.Context, env *environment, run *pipeline.Run) error {
	cfg, logger, out := env.cfg, env.logger, env.stdout
	runID := report.NewRunID()

	if cfg.XLSXPath != "" {
		fmt.Fprintf(out, "\nExporting to Excel: %s\n", cfg.XLSXPath)
		if err := ensureDir(cfg.XLSXPath); err != nil {
			return err
		}
		w, err := xlsx.New(xlsx.Config{
			FilePath:      cfg.XLSXPath,
			CategoryOrder: cfg.CategoryOrder,
		}, logger.With("component", "xlsx_writer"))
		if err != nil {
			return err
		}
		backup, err := w.Export(run.Result)
		if err != nil {
			return fmt.Errorf("exporting workbook: %w", err)
		}
		if backup != "" {
			fmt.Fprintf(out, "  Previous report kept as %s\n", backup)
		}
	}

	if cfg.JSONPath != "" {
		fmt.Fprintf(out, "Exporting to JSON: %s\n", cfg.JSONPath)
		if err := ensureDir(cfg.JSONPath); err != nil {
			return err
		}
		w, err := jsonwriter.New(jsonwriter.Config{FilePath: cfg.JSONPath}, logger.With("component", "json_writer"))
		if err != nil {
			return err
		}
		doc := report.NewDocument(run.Result, report.Options{
			IncludeTransactions: cfg.IncludeTransactions,
			RunID:               runID,
		})
		if err := w.WriteDocument(doc); err != nil {
			return fmt.Errorf("exporting json report: %w", err)
		}
	}

	if cfg.TransactionsPath != "" {
		fmt.Fprintf(out, "Writing transactions: %s\n", cfg.TransactionsPath)
		if err := ensureDir(cfg.TransactionsPath); err != nil {
			return err
		}
		w, err := jsonwriter.New(jsonwriter.Config{FilePath: cfg.TransactionsPath}, logger.With("component", "json_writer"))
		if err != nil {
			return err
		}
		if err := buffered.Drain(ctx, w, run.Transactions); err != nil {
			return fmt.Errorf("writing transactions: %w", err)
		}
	}

	rows := report.Flatten(run.Result, runID)

	if cfg.CSVPath != "" {
		fmt.Fprintf(out, "Appending %d rows to %s\n", len(rows), cfg.CSVPath)
		if err := ensureDir(cfg.CSVPath); err != nil {
			return err
		}
		w, err := csvwriter.New(csvwriter.Config{FilePath: cfg.CSVPath}, logger.With("component", "csv_writer"))
		if err != nil {
			return err
		}
		if err := w.Append(rows); err != nil {
			return fmt.Errorf("appending csv rows: %w", err)
		}
	}

	if cfg.PostgresDSN != "" {
		fmt.Fprintln(out, "Writing to PostgreSQL")
		if err := writePostgres(ctx, cfg, run, rows, logger); err != nil {
			return err
		}
	}

	return nil
}

func writePostgres(ctx context.Context, cfg config.Config, run *pipeline.Run, rows []report.FlatRow, logger *slog.Logger) error {
	pgCfg := postgres.Config{DSN: cfg.PostgresDSN}
	pool, err := postgres.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	w := postgres.New(pool, pgCfg, logger.With("component", "postgres_writer"))
	if err := w.Migrate(ctx); err != nil {
		return err
	}
	if err := buffered.Drain(ctx, w, run.Transactions); err != nil {
		return fmt.Errorf("writing transactions to postgres: %w", err)
	}
	if _, err := w.AppendMonthly(ctx, rows); err != nil {
		return err
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

func printSummary(out io.Writer, cfg config.Config, run *pipeline.Run, stats map[string]int) {
	fmt.Fprintln(out, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(out, "SUMMARY")
	fmt.Fprintln(out, strings.Repeat("=", 50))

	for _, year := range run.Result.YearNumbers() {
		y := run.Result.Years[year]
		fmt.Fprintf(out, "\nYear %d:\n", year)
		fmt.Fprintf(out, "  Total expenses: %s %s\n", y.TotalExpense.StringFixed(2), cfg.DefaultCurrency)
		fmt.Fprintf(out, "  Total income:   %s %s\n", y.TotalIncome.StringFixed(2), cfg.DefaultCurrency)
	}

	if len(stats) == 0 {
		return
	}
	names := slices.SortedFunc(maps.Keys(stats), func(a, b string) int {
		return cmp.Or(cmp.Compare(stats[b], stats[a]), cmp.Compare(a, b))
	})
	if len(names) > topRules {
		names = names[:topRules]
	}
	fmt.Fprintf(out, "\nTop %d rules used:\n", len(names))
	for _, name := range names {
		fmt.Fprintf(out, "  %s: %d\n", name, stats[name])
	}
}
