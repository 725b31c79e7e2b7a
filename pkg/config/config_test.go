package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.json")})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RequiredFileMissing(t *testing.T) {
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.json"), Required: true})
	assert.Error(t, err)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"rules_file": "rules.yaml",
		"xlsx_path": "out/report.xlsx",
		"workers": 2,
		"category_order": ["Food", "Home"]
	}`), 0o600))

	t.Setenv("BANK_ANALYZER_WORKERS", "8")
	t.Setenv("BANK_ANALYZER_POSTGRES_DSN", "postgres://localhost/bank")
	t.Setenv("BANK_ANALYZER_INCLUDE_TRANSACTIONS", "true")

	cfg, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)

	assert.Equal(t, "rules.yaml", cfg.RulesFile)
	assert.Equal(t, "out/report.xlsx", cfg.XLSXPath)
	assert.Equal(t, 8, cfg.Workers, "environment wins over file")
	assert.Equal(t, []string{"Food", "Home"}, cfg.CategoryOrder)
	assert.Equal(t, "postgres://localhost/bank", cfg.PostgresDSN)
	assert.True(t, cfg.IncludeTransactions)
	assert.Equal(t, DefaultOverridesFile, cfg.OverridesFile, "defaults survive")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("BANK_ANALYZER_CSV_PATH=rows.csv\n"), 0o600))
	t.Setenv("BANK_ANALYZER_CSV_PATH", "")
	require.NoError(t, os.Unsetenv("BANK_ANALYZER_CSV_PATH"))

	cfg, err := Load(Options{DotEnvFile: dotenv})
	require.NoError(t, err)
	assert.Equal(t, "rows.csv", cfg.CSVPath)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := Load(Options{ConfigFile: path})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "negative workers", mutate: func(c *Config) { c.Workers = -1 }, wantErr: true},
		{name: "no overrides file", mutate: func(c *Config) { c.OverridesFile = "" }, wantErr: true},
		{name: "wrong workbook extension", mutate: func(c *Config) { c.XLSXPath = "out.csv" }, wantErr: true},
		{name: "workbook disabled", mutate: func(c *Config) { c.XLSXPath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
