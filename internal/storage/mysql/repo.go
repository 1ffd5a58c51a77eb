// Package mysql implements a MySQL warehouse using go-sql-driver/mysql.
// Staged files are loaded with LOAD DATA LOCAL INFILE through a registered
// reader handler, so the server never needs filesystem access to them.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"tradeload/internal/logger"
	"tradeload/internal/storage"
)

var dialect = storage.Dialect{
	Name:            "mysql",
	Quote:           myIdent,
	TextType:        "LONGTEXT",
	CastType:        "CHAR(10)",
	EscapeBackslash: true,
}

// Config holds MySQL repository configuration.
type Config struct {
	DSN    string
	Logger logger.Logger
}

// Repository is a MySQL-backed implementation of storage.Warehouse.
type Repository struct {
	db  *sql.DB
	cfg Config
	log logger.Logger
}

// NewRepository validates the DSN, opens a pool and returns a Close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	db, err := sql.Open("mysql", cfg.DSN)
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
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
		schema, table)
}

// PartitionCounts implements storage.Querier.
func (r *Repository) PartitionCounts(ctx context.Context, schema, table, tradeType string) ([]storage.PartitionCount, error) {
	return storage.QueryPartitionCounts(ctx, r.db, dialect.PartitionCountQuery(schema, table, tradeType))
}

// Dialect implements storage.Warehouse.
func (r *Repository) Dialect() storage.Dialect { return dialect }

// BulkCopy registers the staged file as a reader handler and issues LOAD DATA
// LOCAL INFILE against it.
func (r *Repository) BulkCopy(ctx context.Context, req storage.BulkRequest) (int64, error) {
	if len(req.Columns) == 0 {
		return 0, fmt.Errorf("mysql: bulk copy %s: columns must not be empty", req.Table)
	}
	f, err := os.Open(req.Path)
	if err != nil {
		return 0, fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	name := uuid.NewString()
	mysql.RegisterReaderHandler(name, func() io.Reader { return f })
	defer mysql.DeregisterReaderHandler(name)

	stmt := loadDataSQL(name, req)
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

// loadDataSQL renders LOAD DATA for a headerless delimited file. Fields go
// through user variables so empty strings load as NULL.
func loadDataSQL(handler string, req storage.BulkRequest) string {
	delim := req.Delimiter
	if delim == 0 {
		delim = ';'
	}
	vars := make([]string, len(req.Columns))
	sets := make([]string, len(req.Columns))
	for i, c := range req.Columns {
		vars[i] = fmt.Sprintf("@v%d", i+1)
		sets[i] = fmt.Sprintf("%s = NULLIF(@v%d, '')", myIdent(c), i+1)
	}
	return fmt.Sprintf(
		"LOAD DATA LOCAL INFILE %s INTO TABLE %s CHARACTER SET utf8mb4 "+
			"FIELDS TERMINATED BY %s OPTIONALLY ENCLOSED BY '\"' LINES TERMINATED BY '\\n' (%s) SET %s",
		dialect.Literal("Reader::"+handler),
		dialect.Table(req.Schema, req.Table),
		dialect.Literal(string(delim)),
		strings.Join(vars, ", "),
		strings.Join(sets, ", "),
	)
}

// myIdent quotes an identifier with backticks, escaping embedded backticks.
func myIdent(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }
