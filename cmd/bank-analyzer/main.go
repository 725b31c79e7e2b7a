package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bankanalyzer/bank-analyzer/pkg/categorizer"
	"github.com/bankanalyzer/bank-analyzer/pkg/config"
	"github.com/bankanalyzer/bank-analyzer/pkg/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

//go:embed content/rules.yaml
var defaultRules []byte

// errUsage marks a command line that could not be understood. The usage
// text has already been printed.
var errUsage = errors.New("usage error")

func main() {
	logger := logging.Setup(logging.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	env := &environment{stdout: stdout, stderr: stderr}
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "analyze":
		err = runAnalyze(ctx, env, rest)
	case "reprocess":
		err = runReprocess(ctx, env, rest)
	case "parse":
		err = runParse(env, rest)
	case "detect":
		err = runDetect(env, rest)
	case "history":
		err = runHistory(ctx, env, rest)
	case "override":
		err = runOverride(ctx, env, rest)
	case "status":
		err = runStatus(ctx, env, rest)
	case "version":
		printVersion(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Bank Analyzer - parse and analyze bank statements")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  bank-analyzer <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  analyze FILES...          Categorize statements and write reports")
	fmt.Fprintln(w, "  reprocess                 Re-run analyze over every CSV in a directory")
	fmt.Fprintln(w, "  parse FILE                Show statistics and the first transactions of a file")
	fmt.Fprintln(w, "  detect FILE               Show the detected bank format")
	fmt.Fprintln(w, "  history                   Count counterparties over a directory of statements")
	fmt.Fprintln(w, "  override ID MAIN SUB      Force the category of one transaction")
	fmt.Fprintln(w, "  status                    Check configuration and outputs")
	fmt.Fprintln(w, "  version                   Show version information")
	fmt.Fprintln(w, "\nRun 'bank-analyzer <command> -h' for the options of a command.")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "Bank Analyzer %s\n", version)
	fmt.Fprintln(w, "Supported banks: PKO BP, Alior Bank")
}

// environment carries the output streams and, once loaded, the
// configuration shared by subcommands.
type environment struct {
	stdout io.Writer
	stderr io.Writer

	cfg    config.Config
	logger *slog.Logger
}

// commonFlags are accepted by every command that reads configuration.
type commonFlags struct {
	configFile string
	envFile    string
	logLevel   string
	logJSON    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", config.DefaultConfigFile, "JSON configuration file")
	fs.StringVar(&c.envFile, "env-file", config.DefaultDotEnvFile, "dotenv file loaded before the environment")
	fs.StringVar(&c.logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	fs.BoolVar(&c.logJSON, "log-json", false, "log as JSON")
}

// load reads the configuration and installs the logger it describes.
// An explicitly named config file must exist.
func (c *commonFlags) load(env *environment) error {
	cfg, err := config.Load(config.Options{
		ConfigFile: c.configFile,
		Required:   c.configFile != config.DefaultConfigFile,
		DotEnvFile: c.envFile,
	})
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.logJSON {
		cfg.LogJSON = true
	}

	env.cfg = cfg
	env.logger = logging.Setup(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		JSON:   cfg.LogJSON,
		Output: env.stderr,
	})
	return nil
}

func newFlagSet(env *environment, name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.Usage = func() {
		fmt.Fprintf(env.stderr, "Usage: bank-analyzer %s\n\nOptions:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

// usagef prints a message and the flag set usage, then returns errUsage.
func usagef(fs *flag.FlagSet, format string, args ...any) error {
	fmt.Fprintf(fs.Output(), format+"\n\n", args...)
	fs.Usage()
	return errUsage
}

// loadRules builds the rule engine from the configured file, or from the
// embedded default set when none is configured.
func loadRules(cfg config.Config, logger *slog.Logger) (*categorizer.Engine, error) {
	var (
		set categorizer.RuleSet
		err error
	)
	if cfg.RulesFile != "" {
		set, err = categorizer.LoadFile(cfg.RulesFile)
	} else {
		set, err = categorizer.LoadBytes(defaultRules)
	}
	if err != nil {
		return nil, err
	}

	engine, err := categorizer.New(set, logger.With("component", "categorizer"))
	if err != nil {
		return nil, fmt.Errorf("compiling rules: %w", err)
	}
	return engine, nil
}
