package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
	"github.com/bankanalyzer/bank-analyzer/pkg/overrides"
	"github.com/bankanalyzer/bank-analyzer/pkg/pipeline"
	"github.com/bankanalyzer/bank-analyzer/pkg/statement"
)

const previewTransactions = 5

func runParse(env *environment, args []string) error {
	var flags commonFlags
	fs := newFlagSet(env, "parse", "parse [options] FILE")
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usagef(fs, "exactly one statement file is required")
	}
	if err := flags.load(env); err != nil {
		return err
	}

	path, out := fs.Arg(0), env.stdout
	st, err := statement.NewParser(nil, env.logger.With("component", "parser")).ParseFile(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nFile: %s\n", filepath.Base(path))
	fmt.Fprintf(out, "Detected bank: %s\n", st.Bank)
	fmt.Fprintf(out, "Encoding: %s\n", st.Encoding)

	var expenses, incomes int
	expenseTotal, incomeTotal := decimal.Zero, decimal.Zero
	for _, t := range st.Transactions {
		if t.Type == api.Expense {
			expenses++
			expenseTotal = expenseTotal.Add(t.Amount)
		} else {
			incomes++
			incomeTotal = incomeTotal.Add(t.Amount)
		}
	}

	currency := env.cfg.DefaultCurrency
	fmt.Fprintln(out, "\nStatistics:")
	fmt.Fprintf(out, "  Total transactions: %d\n", len(st.Transactions))
	fmt.Fprintf(out, "  Expenses: %d (%s %s)\n", expenses, expenseTotal.StringFixed(2), currency)
	fmt.Fprintf(out, "  Incomes: %d (%s %s)\n", incomes, incomeTotal.StringFixed(2), currency)
	if len(st.RowErrors) > 0 {
		fmt.Fprintf(out, "  Skipped rows: %d\n", len(st.RowErrors))
	}

	if len(st.Transactions) == 0 {
		return nil
	}
	first, last := st.Transactions[0].Date, st.Transactions[0].Date
	for _, t := range st.Transactions[1:] {
		if t.Date.Before(first) {
			first = t.Date
		}
		if t.Date.After(last) {
			last = t.Date
		}
	}
	fmt.Fprintf(out, "  Date range: %s to %s\n", first, last)

	fmt.Fprintf(out, "\nFirst %d transactions:\n", min(previewTransactions, len(st.Transactions)))
	for i, t := range st.Transactions[:min(previewTransactions, len(st.Transactions))] {
		fmt.Fprintf(out, "  %d. %s\n", i+1, formatTransaction(t))
	}
	return nil
}

// formatTransaction renders one line: date, signed amount, counterparty, id.
func formatTransaction(t *api.Transaction) string {
	return fmt.Sprintf("%s %10s %s  %s  [%s]", t.Date, t.Signed().StringFixed(2), t.Currency, t.Counterparty, t.ID)
}

func runDetect(env *environment, args []string) error {
	fs := newFlagSet(env, "detect", "detect FILE")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usagef(fs, "exactly one statement file is required")
	}

	path, out := fs.Arg(0), env.stdout
	detector := statement.NewDetector(nil, nil)

	fmt.Fprintf(out, "File: %s\n", filepath.Base(path))
	desc, err := detector.DetectFile(path)
	switch {
	case err == nil:
		fmt.Fprintf(out, "Detected bank: %s\n", desc.Name)
		return nil
	case errors.Is(err, statement.ErrUnrecognizedFormat), errors.Is(err, statement.ErrUnsupportedFileType):
		fmt.Fprintln(out, "Detected bank: UNKNOWN")
		fmt.Fprintln(env.stderr, "\nSupported formats:")
		for _, d := range detector.Descriptors() {
			fmt.Fprintf(env.stderr, "  - %s\n", d.Name)
		}
		return nil
	default:
		return err
	}
}

func runHistory(ctx context.Context, env *environment, args []string) error {
	var flags commonFlags
	fs := newFlagSet(env, "history", "history [options]")
	flags.register(fs)
	source := fs.String("source", "data/processed", "directory with archived statements")
	top := fs.Int("top", 50, "number of counterparties to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := flags.load(env); err != nil {
		return err
	}

	paths, err := statementFiles(*source)
	if err != nil {
		return err
	}
	out := env.stdout
	fmt.Fprintf(out, "Found %d files\n", len(paths))

	p := pipeline.New(
		pipeline.Config{Workers: env.cfg.Workers},
		statement.NewParser(nil, env.logger.With("component", "parser")),
		nil, nil, nil,
		env.logger.With("component", "pipeline"),
	)
	statements, _ := p.ParseFiles(ctx, paths)
	if err := ctx.Err(); err != nil {
		return err
	}

	counts := make(map[string]int)
	total := 0
	for _, st := range statements {
		if st == nil {
			continue
		}
		for _, t := range st.Transactions {
			counts[t.Counterparty]++
			total++
		}
	}
	if total == 0 {
		return pipeline.ErrNoTransactions
	}

	fmt.Fprintf(out, "Total transactions: %d\n", total)
	names := slices.SortedFunc(maps.Keys(counts), func(a, b string) int {
		return cmp.Or(cmp.Compare(counts[b], counts[a]), cmp.Compare(a, b))
	})
	if *top > 0 && len(names) > *top {
		names = names[:*top]
	}
	fmt.Fprintf(out, "\nTop %d counterparties:\n", len(names))
	for _, name := range names {
		fmt.Fprintf(out, "  %s: %d\n", name, counts[name])
	}
	return nil
}

func runOverride(ctx context.Context, env *environment, args []string) error {
	var flags commonFlags
	fs := newFlagSet(env, "override", "override [options] ID MAIN SUB [NOTE]\n       bank-analyzer override -remove ID\n       bank-analyzer override -list")
	flags.register(fs)
	file := fs.String("overrides", "", "manual overrides YAML file")
	remove := fs.Bool("remove", false, "remove every override of ID")
	list := fs.Bool("list", false, "list the stored overrides")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *list:
		if fs.NArg() != 0 {
			return usagef(fs, "-list takes no arguments")
		}
	case *remove:
		if fs.NArg() != 1 {
			return usagef(fs, "-remove takes exactly one transaction id")
		}
	case fs.NArg() < 3 || fs.NArg() > 4:
		return usagef(fs, "expected ID MAIN SUB [NOTE]")
	}

	if err := flags.load(env); err != nil {
		return err
	}
	path := cmp.Or(*file, env.cfg.OverridesFile)
	store, err := overrides.Open(path, env.logger.With("component", "overrides"))
	if err != nil {
		return err
	}
	out := env.stdout

	switch {
	case *list:
		entries := store.All()
		fmt.Fprintf(out, "%d override(s) in %s\n", len(entries), path)
		for _, o := range entries {
			line := fmt.Sprintf("  %s  %s  (%s)", o.TransactionID, o.Category(), o.DateAdded)
			if o.Note != "" {
				line += "  " + o.Note
			}
			fmt.Fprintln(out, line)
		}
		return nil

	case *remove:
		id := fs.Arg(0)
		removed, err := store.Remove(ctx, id)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no override for %s", id)
		}
		fmt.Fprintf(out, "Removed override for %s\n", id)
		return nil

	default:
		id := fs.Arg(0)
		category := api.Category{Main: fs.Arg(1), Sub: fs.Arg(2)}
		note := strings.TrimSpace(fs.Arg(3))
		if err := store.Add(ctx, id, category, note); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s -> %s\n", id, category)
		return nil
	}
}
