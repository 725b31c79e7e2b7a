// Package buffered batches transactions from a channel for sinks that write
// in bulk.
package buffered

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

// DefaultBatchSize is the default number of transactions per flush.
const DefaultBatchSize = 100

// DefaultFlushInterval is the default interval between automatic flushes.
const DefaultFlushInterval = 5 * time.Second

// Flusher receives one batch. The slice is owned by the callee.
type Flusher func(ctx context.Context, batch []*api.Transaction) error

// Config holds configuration for buffered writing.
type Config struct {
	// BatchSize defaults to DefaultBatchSize.
	BatchSize int
	// FlushInterval defaults to DefaultFlushInterval.
	FlushInterval time.Duration
}

// Writer buffers transactions and flushes them in batches. It implements
// api.Writer.
type Writer struct {
	mu      sync.Mutex
	buffer  []*api.Transaction
	flushed int
	flusher Flusher
	config  Config
	logger  *slog.Logger
}

var _ api.Writer = (*Writer)(nil)

// New creates a buffered writer around flusher.
func New(flusher Flusher, cfg Config, logger *slog.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		buffer:  make([]*api.Transaction, 0, cfg.BatchSize),
		flusher: flusher,
		config:  cfg,
		logger:  logger,
	}
}

// Write drains in until it is closed, flushing whenever the batch fills or
// the interval elapses. A flush failure stops the writer. On cancellation the
// remaining buffer is flushed with a detached context and ctx.Err() returned.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	w.logger.Debug("buffered writer started",
		"batch_size", w.config.BatchSize,
		"flush_interval", w.config.FlushInterval,
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("buffered writer stopping, flushing remaining buffer")
			if err := w.flush(context.WithoutCancel(ctx)); err != nil {
				w.logger.Error("failed to flush on shutdown", "error", err)
			}
			return ctx.Err()

		case <-ticker.C:
			if err := w.flush(ctx); err != nil {
				return fmt.Errorf("interval flush: %w", err)
			}

		case t, ok := <-in:
			if !ok {
				if err := w.flush(ctx); err != nil {
					return fmt.Errorf("final flush: %w", err)
				}
				return nil
			}
			if w.add(t) {
				if err := w.flush(ctx); err != nil {
					return fmt.Errorf("batch flush: %w", err)
				}
			}
		}
	}
}

func (w *Writer) add(t *api.Transaction) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, t)
	return len(w.buffer) >= w.config.BatchSize
}

func (w *Writer) flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.buffer
	w.buffer = make([]*api.Transaction, 0, w.config.BatchSize)
	w.mu.Unlock()

	if err := w.flusher(ctx, batch); err != nil {
		return err
	}

	w.mu.Lock()
	w.flushed += len(batch)
	w.mu.Unlock()

	w.logger.Debug("flushed transactions", "count", len(batch))
	return nil
}

// BufferLen returns the number of transactions waiting for a flush.
func (w *Writer) BufferLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Flushed returns the number of transactions handed to the flusher successfully.
func (w *Writer) Flushed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushed
}

// Drain sends txns on a fresh channel consumed by w and waits for the result.
func Drain(ctx context.Context, w api.Writer, txns []*api.Transaction) error {
	ch := make(chan *api.Transaction)
	errc := make(chan error, 1)
	go func() { errc <- w.Write(ctx, ch) }()

	for _, t := range txns {
		select {
		case ch <- t:
		case err := <-errc:
			if err == nil {
				err = errors.New("writer returned before input was drained")
			}
			return err
		}
	}
	close(ch)
	return <-errc
}
