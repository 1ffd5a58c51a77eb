// Package mssql implements a Microsoft SQL Server warehouse using go-mssqldb.
//
// Staged files are loaded either server-side with BULK INSERT (the default;
// the file must be readable by the SQL Server host) or client-side through the
// driver's bulk copy API (mssql.CopyIn), which streams the file over the TDS
// connection.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"tradeload/internal/logger"
	"tradeload/internal/storage"
)

// Bulk methods.
const (
	MethodBulkInsert = "bulk_insert"
	MethodCopyIn     = "copy_in"
)

var dialect = storage.Dialect{
	Name:     "mssql",
	Quote:    msIdent,
	TextType: "nvarchar(max)",
	CastType: "varchar(10)",
}

// Config holds MSSQL repository configuration.
type Config struct {
	DSN              string
	BulkMethod       string
	ServerStagingDir string
	BatchSize        int
	Logger           logger.Logger
}

// Repository is an MSSQL-backed implementation of storage.Warehouse.
type Repository struct {
	db  *sql.DB
	cfg Config
	log logger.Logger
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	switch cfg.BulkMethod {
	case "", MethodBulkInsert, MethodCopyIn:
	default:
		return nil, nil, fmt.Errorf("mssql: unknown bulk method %q", cfg.BulkMethod)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	close := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg, log: log}, close, nil
}

// Exec executes a SQL statement in autocommit mode.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	if _, err := r.db.ExecContext(ctx, sqlText); err != nil {
		return &storage.DbError{Op: "exec", Statement: sqlText, Err: err}
	}
	return nil
}

// TableExists implements storage.Querier.
func (r *Repository) TableExists(ctx context.Context, schema, table string) (bool, error) {
	return storage.QueryExists(ctx, r.db,
		"SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2",
		schema, table)
}

// PartitionCounts implements storage.Querier.
func (r *Repository) PartitionCounts(ctx context.Context, schema, table, tradeType string) ([]storage.PartitionCount, error) {
	return storage.QueryPartitionCounts(ctx, r.db, dialect.PartitionCountQuery(schema, table, tradeType))
}

// Dialect implements storage.Warehouse.
func (r *Repository) Dialect() storage.Dialect { return dialect }

// BulkCopy loads the staged file with the configured method.
func (r *Repository) BulkCopy(ctx context.Context, req storage.BulkRequest) (int64, error) {
	if r.cfg.BulkMethod == MethodCopyIn {
		n, err := storage.CopyStaged(ctx, r.log, req, r.cfg.BatchSize, r.copyIn(msFQN(req.Schema+"."+req.Table)))
		if err != nil {
			return n, &storage.DbError{Op: "bulk_copy", Statement: req.Path, Err: err}
		}
		return n, nil
	}

	stmt := bulkInsertSQL(req.Schema, req.Table, serverPath(r.cfg.ServerStagingDir, req.Path), req.Delimiter)
	res, err := r.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, &storage.DbError{Op: "bulk_copy", Statement: stmt, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// CopyFrom bulk-copies rows into table in a single transaction.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return r.copyIn(table)(ctx, columns, rows)
}

// copyIn returns a CopyFn that bulk-copies one batch per transaction via
// mssql.CopyIn.
func (r *Repository) copyIn(table string) storage.CopyFn {
	return func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		if len(rows) == 0 {
			return 0, nil
		}
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("begin tx: %w", err)
		}
		rollback := func() { _ = tx.Rollback() }

		stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, columns...))
		if err != nil {
			rollback()
			return 0, fmt.Errorf("prepare bulk: %w", err)
		}
		for i := range rows {
			if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
				_ = stmt.Close()
				rollback()
				return 0, fmt.Errorf("bulk row %d: %w", i, err)
			}
		}
		res, err := stmt.ExecContext(ctx)
		if cerr := stmt.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			rollback()
			return 0, fmt.Errorf("bulk finalize: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			rollback()
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit: %w", err)
		}
		return n, nil
	}
}

// bulkInsertSQL renders the server-side load of a headerless staged file.
func bulkInsertSQL(schema, table, path string, delim rune) string {
	if delim == 0 {
		delim = ';'
	}
	return fmt.Sprintf(
		"BULK INSERT %s FROM %s WITH (FORMAT='CSV', FIELDTERMINATOR=%s, ROWTERMINATOR='0x0a');",
		dialect.Table(schema, table),
		dialect.Literal(path),
		dialect.Literal(string(delim)),
	)
}

// serverPath maps a local staged file into dir as seen by the server.
func serverPath(dir, local string) string {
	if dir == "" {
		return local
	}
	sep := "/"
	if strings.Contains(dir, `\`) {
		sep = `\`
	}
	return strings.TrimRight(dir, `/\`) + sep + filepath.Base(local)
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN quotes a possibly schema-qualified name like "trade.imports" to
// "[trade].[imports]". Empty parts are dropped.
func msFQN(name string) string {
	parts := strings.Split(name, ".")
	out := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, msIdent(p))
	}
	return strings.Join(out, ".")
}
