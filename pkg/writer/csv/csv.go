// Package csv appends flattened per-category monthly rows to a CSV file.
package csv

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/bankanalyzer/bank-analyzer/pkg/report"
)

// Header is written once, when the file is new or empty.
var Header = []string{"run_id", "year", "month", "category_main", "category_sub", "total", "count"}

// Config holds configuration for the CSV writer.
type Config struct {
	// FilePath is the path to the CSV output file.
	FilePath string
}

// Writer appends rows to one CSV file.
type Writer struct {
	filePath string
	logger   *slog.Logger
}

// New creates a CSV writer.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("csv writer: file path is required")
	}
	return &Writer{filePath: cfg.FilePath, logger: logger}, nil
}

// Append writes rows to the end of the file, creating it with a header
// first if needed.
func (w *Writer) Append(rows []report.FlatRow) (err error) {
	file, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening csv file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing csv file: %w", closeErr)
		}
	}()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}

	cw := csv.NewWriter(file)
	if stat.Size() == 0 {
		if err := cw.Write(Header); err != nil {
			return fmt.Errorf("writing headers: %w", err)
		}
	}

	for _, r := range rows {
		record := []string{
			r.RunID,
			strconv.Itoa(r.Year),
			strconv.Itoa(r.Month),
			r.Main,
			r.Sub,
			r.Total.StringFixed(2),
			strconv.Itoa(r.Count),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	w.logger.Info("appended rows to csv", "file", w.filePath, "count", len(rows))
	return nil
}
