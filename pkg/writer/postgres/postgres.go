// Package postgres stores categorized transactions and monthly category
// totals in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
	"github.com/bankanalyzer/bank-analyzer/pkg/report"
	"github.com/bankanalyzer/bank-analyzer/pkg/writer/buffered"
)

//go:embed 001_create_tables.sql
var migrationSQL string

const upsertTransactionSQL = `
	INSERT INTO transactions (
		id, date, description, counterparty, amount, transaction_type, currency,
		category_main, category_sub, manual_override, source_bank, source_file
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		category_main = EXCLUDED.category_main,
		category_sub = EXCLUDED.category_sub,
		manual_override = EXCLUDED.manual_override,
		source_file = EXCLUDED.source_file,
		updated_at = NOW()`

var monthlyTotalsTable = pgx.Identifier{"monthly_totals"}

var monthlyTotalsColumns = []string{"run_id", "year", "month", "category_main", "category_sub", "total", "count"}

// DB is the subset of pgxpool.Pool the writer needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// Config holds the PostgreSQL writer configuration.
type Config struct {
	// DSN is a libpq connection string or URL.
	DSN string
	// MaxPoolSize defaults to 10.
	MaxPoolSize int

	// BatchSize is the number of transactions per upsert transaction.
	BatchSize int
	// FlushInterval is the time between automatic flushes.
	FlushInterval time.Duration
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Writer writes to PostgreSQL. Transactions are upserted by id, so
// re-running over overlapping statements is idempotent; monthly totals are
// appended per run.
type Writer struct {
	db       DB
	buffered *buffered.Writer
	logger   *slog.Logger
}

var _ api.Writer = (*Writer)(nil)

// New creates a writer on db.
func New(db DB, cfg Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{db: db, logger: logger}
	w.buffered = buffered.New(w.writeBatch, buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, logger.With("component", "postgres_buffer"))
	return w
}

// Migrate creates the tables if they do not exist.
func (w *Writer) Migrate(ctx context.Context) error {
	w.logger.Info("running database migrations")
	if _, err := w.db.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

// Write consumes transactions from the channel and upserts them in batches.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	return w.buffered.Write(ctx, in)
}

func (w *Writer) writeBatch(ctx context.Context, batch []*api.Transaction) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range batch {
		cat := t.Category()
		if cat.Main == "" || cat.Sub == "" {
			cat = api.Unassigned
		}
		if _, err := tx.Exec(ctx, upsertTransactionSQL,
			t.ID,
			t.Date.In(time.UTC),
			t.Description,
			t.Counterparty,
			t.Amount.StringFixed(2),
			string(t.Type),
			t.Currency,
			cat.Main,
			cat.Sub,
			t.ManualOverride,
			t.SourceBank,
			t.SourceFile,
		); err != nil {
			return fmt.Errorf("upserting transaction %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	w.logger.Info("wrote transaction batch", "count", len(batch))
	return nil
}

// AppendMonthly copies flattened rows into monthly_totals in one transaction.
func (w *Writer) AppendMonthly(ctx context.Context, rows []report.FlatRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, monthlyTotalsTable, monthlyTotalsColumns, pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.RunID, r.Year, r.Month, r.Main, r.Sub, r.Total.StringFixed(2), r.Count}, nil
	}))
	if err != nil {
		return 0, fmt.Errorf("copying monthly totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing monthly totals: %w", err)
	}

	w.logger.Info("appended monthly totals", "rows", n)
	return n, nil
}
