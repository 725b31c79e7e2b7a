package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bankanalyzer/bank-analyzer/pkg/categorizer"
	"github.com/bankanalyzer/bank-analyzer/pkg/config"
	"github.com/bankanalyzer/bank-analyzer/pkg/logging"
	"github.com/bankanalyzer/bank-analyzer/pkg/overrides"
	"github.com/bankanalyzer/bank-analyzer/pkg/writer/postgres"
)

// runStatus checks the configuration, the rule set, the override log and
// every configured output.
func runStatus(ctx context.Context, env *environment, args []string) error {
	var flags commonFlags
	fset := newFlagSet(env, "status", "status [options]")
	flags.register(fset)
	if err := fset.Parse(args); err != nil {
		return err
	}

	out := env.stdout
	fmt.Fprintln(out, "=== Bank Analyzer Status ===")
	fmt.Fprintln(out)

	allGood := true
	cfg := checkConfig(out, flags, &allGood)
	env.cfg = cfg
	env.logger = logging.New(logging.Config{
		Level:  logging.ParseLevel(cmp.Or(flags.logLevel, "WARN")),
		JSON:   flags.logJSON,
		Output: env.stderr,
	})

	checkRules(out, env, &allGood)
	checkOverrides(out, env, &allGood)
	checkOutputs(out, cfg)
	if cfg.PostgresDSN != "" {
		checkPostgres(ctx, out, cfg, &allGood)
	}

	printFinalStatus(out, allGood)
	return nil
}

func checkConfig(out io.Writer, flags commonFlags, allGood *bool) config.Config {
	fmt.Fprintf(out, "Config file (%s): ", flags.configFile)
	switch _, err := os.Stat(flags.configFile); {
	case err == nil:
		fmt.Fprintln(out, "✓ Found")
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintln(out, "- Not found (using defaults and environment)")
	default:
		fmt.Fprintf(out, "✗ %v\n", err)
		*allGood = false
	}

	cfg, err := config.Load(config.Options{ConfigFile: flags.configFile, DotEnvFile: flags.envFile})
	fmt.Fprint(out, "Configuration: ")
	if err != nil {
		fmt.Fprintf(out, "✗ %v\n", err)
		*allGood = false
		return config.Default()
	}
	fmt.Fprintln(out, "✓ Valid")
	return cfg
}

func checkRules(out io.Writer, env *environment, allGood *bool) {
	source := "embedded"
	if env.cfg.RulesFile != "" {
		source = env.cfg.RulesFile
	}
	fmt.Fprintf(out, "Rules (%s): ", source)

	var (
		set categorizer.RuleSet
		err error
	)
	if env.cfg.RulesFile != "" {
		set, err = categorizer.LoadFile(env.cfg.RulesFile)
	} else {
		set, err = categorizer.LoadBytes(defaultRules)
	}
	if err == nil {
		_, err = categorizer.New(set, env.logger)
	}
	if err != nil {
		fmt.Fprintf(out, "✗ Invalid: %v\n", err)
		*allGood = false
		return
	}

	fmt.Fprintf(out, "✓ %d rules, %d exclusions\n", len(set.Rules), len(set.Exclude))
	if warnings := categorizer.ValidateTaxonomy(set.Rules, set.Categories); len(warnings) > 0 {
		fmt.Fprintf(out, "  ⚠ %d rule(s) point outside the category list:\n", len(warnings))
		for _, w := range warnings {
			fmt.Fprintf(out, "    %s -> %s\n", w.Rule, w.Category)
		}
	}
}

func checkOverrides(out io.Writer, env *environment, allGood *bool) {
	path := env.cfg.OverridesFile
	fmt.Fprintf(out, "Overrides (%s): ", path)

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(out, "- Not found (will be created by 'override')")
		return
	}

	store, err := overrides.Open(path, env.logger)
	if err != nil {
		fmt.Fprintf(out, "✗ %v\n", err)
		*allGood = false
		return
	}
	if err := store.Corruption(); err != nil {
		fmt.Fprintf(out, "✗ %v\n", err)
		*allGood = false
		return
	}
	fmt.Fprintf(out, "✓ %d override(s)\n", store.Len())
}

func checkOutputs(out io.Writer, cfg config.Config) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Outputs:")

	outputs := []struct{ name, path string }{
		{"Workbook", cfg.XLSXPath},
		{"JSON report", cfg.JSONPath},
		{"Transaction dump", cfg.TransactionsPath},
		{"Monthly CSV", cfg.CSVPath},
		{"Metrics", cfg.MetricsFile},
	}
	for _, o := range outputs {
		if o.path == "" {
			fmt.Fprintf(out, "  %s: - disabled\n", o.name)
			continue
		}
		fmt.Fprintf(out, "  %s (%s): ", o.name, o.path)
		switch info, err := os.Stat(o.path); {
		case err == nil:
			fmt.Fprintf(out, "✓ exists (modified %s)\n", info.ModTime().Format(time.RFC3339))
		case errors.Is(err, fs.ErrNotExist):
			if _, err := os.Stat(filepath.Dir(o.path)); err != nil {
				fmt.Fprintln(out, "- directory will be created")
			} else {
				fmt.Fprintln(out, "- will be created")
			}
		default:
			fmt.Fprintf(out, "⚠ %v\n", err)
		}
	}
}

func checkPostgres(ctx context.Context, out io.Writer, cfg config.Config, allGood *bool) {
	fmt.Fprint(out, "  PostgreSQL: ")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.PostgresDSN, MaxPoolSize: 1})
	if err != nil {
		fmt.Fprintf(out, "✗ %v\n", err)
		*allGood = false
		return
	}
	pool.Close()
	fmt.Fprintln(out, "✓ Connected")
}

func printFinalStatus(out io.Writer, allGood bool) {
	fmt.Fprintln(out)
	if allGood {
		fmt.Fprintln(out, "Status: ✓ Ready to run")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Run 'bank-analyzer analyze FILES...' to build the report.")
	} else {
		fmt.Fprintln(out, "Status: ✗ Configuration issues detected")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Fix the issues above, then run 'bank-analyzer status' again.")
	}
}
