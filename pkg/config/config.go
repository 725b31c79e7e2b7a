// Package config loads bank-analyzer settings from an optional JSON file,
// a .env file and BANK_ANALYZER_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "BANK_ANALYZER_"

// Default file locations.
const (
	DefaultConfigFile    = "config.json"
	DefaultDotEnvFile    = ".env"
	DefaultOverridesFile = "data/manual_overrides.yaml"
	DefaultXLSXPath      = "output/wydatki.xlsx"
	DefaultCurrency      = "PLN"
)

// Config holds the application configuration.
type Config struct {
	// RulesFile is the YAML rule set. Empty selects the embedded default.
	// Environment variable: BANK_ANALYZER_RULES_FILE
	RulesFile string `koanf:"rules_file"`

	// OverridesFile is the manual override log.
	// Environment variable: BANK_ANALYZER_OVERRIDES_FILE
	OverridesFile string `koanf:"overrides_file"`

	// XLSXPath is the workbook output. Empty disables it.
	// Environment variable: BANK_ANALYZER_XLSX_PATH
	XLSXPath string `koanf:"xlsx_path"`

	// JSONPath is the aggregate JSON report. Empty disables it.
	// Environment variable: BANK_ANALYZER_JSON_PATH
	JSONPath string `koanf:"json_path"`

	// IncludeTransactions embeds transactions in the JSON report.
	// Environment variable: BANK_ANALYZER_INCLUDE_TRANSACTIONS
	IncludeTransactions bool `koanf:"include_transactions"`

	// TransactionsPath is the raw transaction dump. Empty disables it.
	// Environment variable: BANK_ANALYZER_TRANSACTIONS_PATH
	TransactionsPath string `koanf:"transactions_path"`

	// CSVPath receives appended monthly category rows. Empty disables it.
	// Environment variable: BANK_ANALYZER_CSV_PATH
	CSVPath string `koanf:"csv_path"`

	// PostgresDSN enables the PostgreSQL writer.
	// Environment variable: BANK_ANALYZER_POSTGRES_DSN
	PostgresDSN string `koanf:"postgres_dsn"`

	// MetricsFile receives Prometheus metrics in text format. Empty disables it.
	// Environment variable: BANK_ANALYZER_METRICS_FILE
	MetricsFile string `koanf:"metrics_file"`

	// Workers bounds concurrent file parsing; zero means one per CPU.
	// Environment variable: BANK_ANALYZER_WORKERS
	Workers int `koanf:"workers"`

	// CategoryOrder places these main categories first on year sheets.
	// Environment variable: BANK_ANALYZER_CATEGORY_ORDER (comma separated)
	CategoryOrder []string `koanf:"category_order"`

	// DefaultCurrency is reported next to totals.
	// Environment variable: BANK_ANALYZER_DEFAULT_CURRENCY
	DefaultCurrency string `koanf:"default_currency"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	// Environment variable: BANK_ANALYZER_LOG_LEVEL
	LogLevel string `koanf:"log_level"`

	// LogJSON switches to JSON log output.
	// Environment variable: BANK_ANALYZER_LOG_JSON
	LogJSON bool `koanf:"log_json"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		OverridesFile:   DefaultOverridesFile,
		XLSXPath:        DefaultXLSXPath,
		DefaultCurrency: DefaultCurrency,
		LogLevel:        "INFO",
	}
}

// Options selects the files Load reads.
type Options struct {
	// ConfigFile is a JSON file. A missing file is an error only when
	// Required is set.
	ConfigFile string
	Required   bool
	// DotEnvFile is loaded into the process environment when present.
	DotEnvFile string
}

// Load builds a Config from defaults, the JSON file, the .env file and the
// environment.
func Load(opts Options) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if opts.ConfigFile != "" {
		switch _, err := os.Stat(opts.ConfigFile); {
		case err == nil:
			if err := k.Load(file.Provider(opts.ConfigFile), kjson.Parser()); err != nil {
				return cfg, fmt.Errorf("loading config file %s: %w", opts.ConfigFile, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !opts.Required:
		default:
			return cfg, fmt.Errorf("config file %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.DotEnvFile != "" {
		if err := godotenv.Load(opts.DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("loading %s: %w", opts.DotEnvFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return cfg, fmt.Errorf("loading config from environment: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return cfg, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, cfg.Validate()
}

func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.OverridesFile == "" {
		errs = append(errs, errors.New("overrides_file is required"))
	}
	if c.XLSXPath != "" && !strings.HasSuffix(strings.ToLower(c.XLSXPath), ".xlsx") {
		errs = append(errs, fmt.Errorf("xlsx_path must end in .xlsx, got %q", c.XLSXPath))
	}
	return errors.Join(errs...)
}
