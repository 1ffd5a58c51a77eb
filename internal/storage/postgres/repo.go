// Package postgres implements a Postgres warehouse using pgx v5. Staged files
// are streamed to the server with COPY ... FROM STDIN in CSV format, where an
// unquoted empty field loads as NULL.
package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"tradeload/internal/logger"
	"tradeload/internal/storage"
)

var dialect = storage.Dialect{
	Name:              "postgres",
	Quote:             pgIdent,
	TextType:          "text",
	CastType:          "varchar(10)",
	CascadeDropSchema: true,
}

// Config holds Postgres repository configuration.
type Config struct {
	DSN    string // connection string for pgxpool
	Logger logger.Logger
}

// Repository is a Postgres-backed implementation of storage.Warehouse.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
	log  logger.Logger
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	close := func() { pool.Close() }
	return &Repository{pool: pool, cfg: cfg, log: log}, close, nil
}

// Exec executes one statement. Without arguments pgx uses the simple query
// protocol, so each call commits on its own.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	if _, err := r.pool.Exec(ctx, sqlText); err != nil {
		return &storage.DbError{Op: "exec", Statement: sqlText, Err: err}
	}
	return nil
}

// TableExists implements storage.Querier.
func (r *Repository) TableExists(ctx context.Context, schema, table string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`
	var ok bool
	if err := r.pool.QueryRow(ctx, q, schema, table).Scan(&ok); err != nil {
		return false, &storage.DbError{Op: "query", Statement: q, Err: err}
	}
	return ok, nil
}

// PartitionCounts implements storage.Querier.
func (r *Repository) PartitionCounts(ctx context.Context, schema, table, tradeType string) ([]storage.PartitionCount, error) {
	q := dialect.PartitionCountQuery(schema, table, tradeType)
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, &storage.DbError{Op: "query", Statement: q, Err: err}
	}
	defer rows.Close()

	var out []storage.PartitionCount
	for rows.Next() {
		var (
			pc     storage.PartitionCount
			period *string
		)
		if err := rows.Scan(&pc.TradeType, &period, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan partition count: %w", err)
		}
		if period != nil {
			pc.PeriodID = strings.TrimRight(*period, " ")
		}
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.DbError{Op: "query", Statement: q, Err: err}
	}
	return out, nil
}

// Dialect implements storage.Warehouse.
func (r *Repository) Dialect() storage.Dialect { return dialect }

// BulkCopy streams the staged file through COPY FROM STDIN on one pooled
// connection.
func (r *Repository) BulkCopy(ctx context.Context, req storage.BulkRequest) (int64, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return 0, fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	stmt := copySQL(req)
	tag, err := conn.Conn().PgConn().CopyFrom(ctx, f, stmt)
	if err != nil {
		return 0, &storage.DbError{Op: "bulk_copy", Statement: stmt, Err: err}
	}
	r.log.Debugf("postgres: copied rows=%d table=%s.%s", tag.RowsAffected(), req.Schema, req.Table)
	return tag.RowsAffected(), nil
}

// copySQL renders the COPY statement for a headerless delimited file.
func copySQL(req storage.BulkRequest) string {
	delim := req.Delimiter
	if delim == 0 {
		delim = ';'
	}
	var cols string
	if len(req.Columns) > 0 {
		cols = " (" + strings.Join(mapIdent(req.Columns), ", ") + ")"
	}
	return fmt.Sprintf("COPY %s%s FROM STDIN WITH (FORMAT csv, DELIMITER %s)",
		dialect.Table(req.Schema, req.Table), cols, dialect.Literal(string(delim)))
}

// pgIdent quotes an identifier with double quotes, escaping embedded quotes.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
