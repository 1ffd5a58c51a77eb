// Package sqlite implements a SQLite-backed storage.Warehouse using
// database/sql and modernc.org/sqlite. SQLite has no bulk-load statement, so
// staged files are streamed through prepared INSERTs inside one transaction
// per batch. It is used for local runs and for tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tradeload/internal/logger"
	"tradeload/internal/storage"
)

// dialect has no schemas: tables live in the main database.
var dialect = storage.Dialect{
	Name:       "sqlite",
	Quote:      storage.QuoteWith(`"`, `"`),
	TextType:   "TEXT",
	CastType:   "varchar(10)",
	NoSchemas:  true,
	NoTruncate: true,
}

// Repository is a SQLite-backed storage.Warehouse.
type Repository struct {
	db  *sql.DB
	cfg Config
	log logger.Logger
}

// Open opens a SQLite database limited to one connection, so ":memory:"
// databases are shared by every statement of the run.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// New wraps an already open database.
func New(db *sql.DB) *Repository {
	return &Repository{db: db, log: logger.Nop()}
}

// NewRepository opens cfg.DSN and returns a Repository plus a Close function.
//
// DSN is passed directly to the driver, for example:
//
//	"file:trade.db?_pragma=busy_timeout(5000)"
//	":memory:"
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := Open(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	closeFn := func() { db.Close() }
	return &Repository{db: db, cfg: cfg, log: log}, closeFn, nil
}

// Exec executes one statement in autocommit mode.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sqlText); err != nil {
		return &storage.DbError{Op: "exec", Statement: sqlText, Err: err}
	}
	return nil
}

// TableExists reports whether table exists in the main database.
func (r *Repository) TableExists(ctx context.Context, _, table string) (bool, error) {
	return storage.QueryExists(ctx, r.db,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
}

// PartitionCounts implements storage.Querier.
func (r *Repository) PartitionCounts(ctx context.Context, schema, table, tradeType string) ([]storage.PartitionCount, error) {
	return storage.QueryPartitionCounts(ctx, r.db, dialect.PartitionCountQuery(schema, table, tradeType))
}

// BulkCopy streams the staged file into req.Table.
func (r *Repository) BulkCopy(ctx context.Context, req storage.BulkRequest) (int64, error) {
	n, err := storage.CopyStaged(ctx, r.log, req, r.cfg.BatchSize, r.copyInto(req.Table))
	if err != nil {
		return n, &storage.DbError{Op: "bulk_copy", Statement: req.Path, Err: err}
	}
	return n, nil
}

// Dialect implements storage.Warehouse.
func (r *Repository) Dialect() storage.Dialect { return dialect }

// copyInto returns a CopyFn inserting rows into table with one transaction
// and one prepared INSERT per batch.
func (r *Repository) copyInto(table string) storage.CopyFn {
	return func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		if len(columns) == 0 {
			return 0, fmt.Errorf("sqlite: CopyFrom: columns must not be empty")
		}
		if len(rows) == 0 {
			return 0, nil
		}

		quoted := make([]string, len(columns))
		placeholders := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = dialect.Quote(c)
			placeholders[i] = "?"
		}
		stmtSQL := fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)",
			dialect.Table("", table),
			strings.Join(quoted, ", "),
			strings.Join(placeholders, ", "),
		)

		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("sqlite: begin tx: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, stmtSQL)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
		}
		defer stmt.Close()

		var inserted int64
		for _, row := range rows {
			if len(row) != len(columns) {
				_ = tx.Rollback()
				return 0, fmt.Errorf("sqlite: row length %d != columns length %d", len(row), len(columns))
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				_ = tx.Rollback()
				return 0, fmt.Errorf("sqlite: insert: %w", err)
			}
			inserted++
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("sqlite: commit: %w", err)
		}
		return inserted, nil
	}
}
