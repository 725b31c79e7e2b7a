// Package json writes aggregation documents and raw transaction dumps as
// indented JSON files.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
	"github.com/bankanalyzer/bank-analyzer/pkg/report"
	"github.com/bankanalyzer/bank-analyzer/pkg/writer/buffered"
)

// Config holds configuration for the JSON writer.
type Config struct {
	// FilePath is the path to the JSON output file.
	FilePath string
	// BatchSize applies to the transaction dump.
	BatchSize int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Dump is the file layout of a raw transaction dump.
type Dump struct {
	GeneratedAt  string                  `json:"generated_at"`
	Count        int                     `json:"count"`
	Transactions []report.TransactionDoc `json:"transactions"`
}

// Writer writes JSON files. As an api.Writer it collects transactions and
// rewrites the dump after every batch.
type Writer struct {
	filePath     string
	now          func() time.Time
	mu           sync.Mutex
	transactions []*api.Transaction
	buffered     *buffered.Writer
	logger       *slog.Logger
}

var _ api.Writer = (*Writer)(nil)

// New creates a JSON writer.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("json writer: file path is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	w := &Writer{
		filePath: cfg.FilePath,
		now:      cfg.Now,
		logger:   logger,
	}
	w.buffered = buffered.New(w.flushBatch, buffered.Config{BatchSize: cfg.BatchSize}, logger.With("component", "json_buffer"))
	return w, nil
}

// WriteDocument replaces the file with doc.
func (w *Writer) WriteDocument(doc report.Document) error {
	if err := w.writeFile(doc); err != nil {
		return err
	}
	w.logger.Info("wrote json report",
		"file", w.filePath,
		"years", len(doc.Years),
		"uncategorized", doc.UncategorizedCount,
	)
	return nil
}

// Write consumes transactions and writes them as a dump.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	return w.buffered.Write(ctx, in)
}

func (w *Writer) flushBatch(_ context.Context, batch []*api.Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.transactions = append(w.transactions, batch...)

	// JSON can't be appended to, so the whole dump is rewritten.
	dump := Dump{
		GeneratedAt:  w.now().Format(time.RFC3339),
		Count:        len(w.transactions),
		Transactions: report.TransactionDocs(w.transactions),
	}
	if err := w.writeFile(dump); err != nil {
		return err
	}

	w.logger.Debug("wrote transactions to json",
		"batch_count", len(batch),
		"total_count", len(w.transactions),
	)
	return nil
}

func (w *Writer) writeFile(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}
	if err := os.WriteFile(w.filePath, data, 0o600); err != nil {
		return fmt.Errorf("writing json file: %w", err)
	}
	return nil
}

// TransactionCount returns the number of transactions in the dump.
func (w *Writer) TransactionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.transactions)
}

// ReadDocument loads a document written by WriteDocument.
func ReadDocument(path string) (report.Document, error) {
	var doc report.Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("reading json file: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("decoding json report %s: %w", path, err)
	}
	return doc, nil
}
